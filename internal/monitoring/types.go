// Package monitoring - types.go defines telemetry records and config.
//
// TYPES:
//   - StreamEvent:     one line per finished chat stream
//   - InitEvent:       one line per process start
//   - TelemetryConfig: where and whether to write them
package monitoring

import "time"

// =============================================================================
// EVENT TYPES - Structured data for telemetry recording
// =============================================================================

// StreamEvent captures one chat stream through the gateway.
type StreamEvent struct {
	RequestID      string    `json:"request_id"`
	Timestamp      time.Time `json:"timestamp"`
	Transport      string    `json:"transport"` // sse, websocket
	UserID         string    `json:"user_id"`
	ChatID         string    `json:"chat_id"`
	AgentID        string    `json:"agent_id"`
	Endpoint       string    `json:"endpoint,omitempty"`
	Format         string    `json:"format,omitempty"` // agent, chat_completion
	TraceID        string    `json:"trace_id,omitempty"`
	TraceOutcome   string    `json:"trace_outcome,omitempty"`
	TextBytes      int       `json:"text_bytes"`
	FunctionCalls  int       `json:"function_calls"`
	EventsSeen     int       `json:"events_seen"`
	MalformedLines int       `json:"malformed_lines,omitempty"`
	Persisted      bool      `json:"persisted"`
	ClientGone     bool      `json:"client_gone,omitempty"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	FirstEventMs   int64     `json:"first_event_ms,omitempty"`
	TotalLatencyMs int64     `json:"total_latency_ms"`
}

// InitEvent captures gateway startup configuration.
type InitEvent struct {
	Timestamp             time.Time   `json:"timestamp"`
	Event                 string      `json:"event"`
	Version               string      `json:"version,omitempty"`
	DeploymentMode        string      `json:"deployment_mode"`
	ServerAddr            string      `json:"server_addr"`
	StorageBackend        string      `json:"storage_backend"`
	SettleDelayMs         int64       `json:"trace_settle_delay_ms"`
	UpstreamHeaderTimeout int64       `json:"upstream_header_timeout_ms"`
	HasHost               bool        `json:"has_host"`
	HasLocalToken         bool        `json:"has_local_token"`
	Agents                []InitAgent `json:"agents,omitempty"`
	TelemetryPath         string      `json:"telemetry_path,omitempty"`
}

// InitAgent summarizes an agent entry without leaking endpoint secrets.
type InitAgent struct {
	ID            string `json:"id"`
	EndpointName  string `json:"endpoint_name"`
	HasURL        bool   `json:"has_url,omitempty"`
	HasExperiment bool   `json:"has_experiment"`
	Tools         int    `json:"tools,omitempty"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// TelemetryConfig contains stream telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool
	LogPath     string
	LogToStdout bool
}
