// Package gateway types - request and per-stream types for the chat gateway.
//
// DESIGN: Types used by the gateway for:
//   - Inbound chat requests (HTTP body and first WebSocket message)
//   - Per-request context handed to the background pipeline
//   - JSON responses of the auxiliary routes
//
// Types are defined here to keep handler files focused on control flow.
package gateway

import (
	"time"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/auth"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
)

// Header names set or read by the gateway.
const (
	HeaderRequestID        = "X-Request-ID"
	HeaderContentType      = "Content-Type"
	HeaderCacheControl     = "Cache-Control"
	HeaderConnection       = "Connection"
	HeaderAccelBuffering   = "X-Accel-Buffering"
	ContentTypeJSON        = "application/json"
	ContentTypeEventStream = "text/event-stream"
)

// Transports a stream can be delivered over.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// =============================================================================
// INBOUND
// =============================================================================

// ChatRequest is the body of POST /api/chat and the first WebSocket message.
type ChatRequest struct {
	Messages []model.ChatMessage `json:"messages"`
	ChatID   string              `json:"chatId"`
	AgentID  string              `json:"agentId,omitempty"`
}

// AssessmentRequest is the body of POST /api/log_assessment.
type AssessmentRequest struct {
	TraceID         string `json:"trace_id"`
	AssessmentName  string `json:"assessment_name"`
	AssessmentValue any    `json:"assessment_value"`
}

// CreateChatRequest is the body of POST /api/chats. Both fields are optional.
type CreateChatRequest struct {
	Title   string `json:"title"`
	AgentID string `json:"agent_id"`
}

// =============================================================================
// REQUEST CONTEXT - one per chat stream, owned by its pipeline
// =============================================================================

// requestContext carries what the pipeline needs once the handler has
// validated the request. It is never shared between requests.
type requestContext struct {
	RequestID  string
	ChatID     string
	UserID     string
	Agent      config.AgentConfig
	Identity   auth.Identity
	Transport  string
	Endpoint   string
	ReceivedAt time.Time
}

// =============================================================================
// RESPONSES
// =============================================================================

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status         string `json:"status"`
	Timestamp      int64  `json:"timestamp"`
	Environment    string `json:"environment"`
	DeploymentMode string `json:"deployment_mode"`
	Storage        string `json:"storage"`
	Version        string `json:"version,omitempty"`
}

// ExperimentResponse is returned by GET /api/tracing_experiment.
type ExperimentResponse struct {
	ExperimentID string  `json:"experiment_id"`
	Link         *string `json:"link"`
}

// AgentInfo is one entry of GET /api/config/agents.
type AgentInfo struct {
	ID                 string             `json:"id"`
	EndpointName       string             `json:"endpoint_name"`
	DisplayName        string             `json:"display_name,omitempty"`
	DisplayDescription string             `json:"display_description,omitempty"`
	DeploymentType     string             `json:"deployment_type"`
	HasTracing         bool               `json:"has_tracing"`
	Tools              []config.AgentTool `json:"tools"`
}
