// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: Defaults that appear in more than one package live here so that the
// envconfig tags in config.go and the code paths that bypass env loading
// (tests, the chats CLI) agree on the same values.
package config

import "time"

// =============================================================================
// DEPLOYMENT
// =============================================================================

// Deployment modes. ModeAuto resolves to hosted when the platform sets
// DATABRICKS_APP_NAME and to local otherwise.
const (
	ModeAuto   = "auto"
	ModeLocal  = "local"
	ModeHosted = "hosted"
)

// DefaultLocalUserID is the identity used for chats in local mode.
const DefaultLocalUserID = "dev-user@localhost"

// =============================================================================
// STREAMING
// =============================================================================

// DefaultReadChunkSize is the buffer used when reading the upstream body.
const DefaultReadChunkSize = 4096

// MaxLogPreviewLen bounds payload previews in log lines.
const MaxLogPreviewLen = 200

// MaxErrorBodyLen limits how much of an upstream error body is kept.
const MaxErrorBodyLen = 500

// MaxRequestBodySize is the maximum accepted chat request body (10MB).
const MaxRequestBodySize = 10 * 1024 * 1024

// =============================================================================
// TRACE RECONCILIATION
// =============================================================================

// DefaultTraceSettleDelay gives the trace store time to index a finished
// execution before it is looked up.
const DefaultTraceSettleDelay = 2 * time.Second

// DefaultTraceLookupTimeout bounds a single trace store call.
const DefaultTraceLookupTimeout = 10 * time.Second

// =============================================================================
// STORAGE
// =============================================================================

// Storage backends.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// DefaultMaxChatsPerUser caps stored chats; the least recently updated chat
// is evicted when a new one would exceed it.
const DefaultMaxChatsPerUser = 10

// =============================================================================
// HTTP
// =============================================================================

// DefaultServerWriteTimeout is zero: SSE responses can stay open for as long
// as the agent streams.
const DefaultServerWriteTimeout = 0

// DefaultServerIdleTimeout closes idle keep-alive connections.
const DefaultServerIdleTimeout = 120 * time.Second
