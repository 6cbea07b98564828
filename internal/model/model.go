// Package model defines the value types shared by the stream pipeline,
// the trace reconciler and chat storage.
//
// DESIGN: Records that cross a hand-off boundary (sent to the client,
// persisted to storage) are copied with Clone, never aliased. Structured
// payloads are kept as json.RawMessage so a copy is a plain byte copy.
package model

import (
	"encoding/json"
	"time"
)

// =============================================================================
// FUNCTION CALLS
// =============================================================================

// FunctionCallRecord is one tool/function call announced by the agent stream.
// Output stays nil until the matching function_call_output item arrives.
type FunctionCallRecord struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
}

// Clone returns a deep copy of the record.
func (r FunctionCallRecord) Clone() FunctionCallRecord {
	return FunctionCallRecord{
		CallID:    r.CallID,
		Name:      r.Name,
		Arguments: cloneRaw(r.Arguments),
		Output:    cloneRaw(r.Output),
	}
}

// CloneFunctionCalls deep-copies a record list. A nil input yields an empty,
// non-nil slice so the JSON form is always an array.
func CloneFunctionCalls(in []FunctionCallRecord) []FunctionCallRecord {
	out := make([]FunctionCallRecord, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// StructuredValue turns a JSON-encoded string into its structured form when it
// parses, and otherwise into a JSON string holding the raw text. Values that
// are already structured (objects, arrays, numbers) are kept as-is.
func StructuredValue(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return cloneRaw(raw)
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return cloneRaw(raw)
}

// =============================================================================
// TRACE SUMMARY
// =============================================================================

// SpanCall is one tool, retrieval or LLM span extracted from a trace.
type SpanCall struct {
	Name         string  `json:"name"`
	SpanID       string  `json:"span_id,omitempty"`
	DurationMs   float64 `json:"duration_ms"`
	Status       string  `json:"status,omitempty"`
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	TotalTokens  int     `json:"total_tokens,omitempty"`
}

// TraceSummary is the reconciled view of one agent execution.
type TraceSummary struct {
	TraceID        string               `json:"trace_id"`
	DurationMs     float64              `json:"duration_ms"`
	Status         string               `json:"status"`
	ToolsCalled    []SpanCall           `json:"tools_called"`
	RetrievalCalls []SpanCall           `json:"retrieval_calls"`
	LLMCalls       []SpanCall           `json:"llm_calls"`
	TotalTokens    int                  `json:"total_tokens"`
	SpansCount     int                  `json:"spans_count"`
	FunctionCalls  []FunctionCallRecord `json:"function_calls"`
}

// Clone returns a deep copy of the summary.
func (s *TraceSummary) Clone() *TraceSummary {
	if s == nil {
		return nil
	}
	out := *s
	out.ToolsCalled = cloneSpans(s.ToolsCalled)
	out.RetrievalCalls = cloneSpans(s.RetrievalCalls)
	out.LLMCalls = cloneSpans(s.LLMCalls)
	out.FunctionCalls = CloneFunctionCalls(s.FunctionCalls)
	return &out
}

func cloneSpans(in []SpanCall) []SpanCall {
	out := make([]SpanCall, len(in))
	copy(out, in)
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

// =============================================================================
// CHATS
// =============================================================================

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a persisted chat message.
type Message struct {
	ID           string        `json:"id"`
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	Timestamp    time.Time     `json:"timestamp"`
	TraceID      string        `json:"trace_id,omitempty"`
	TraceSummary *TraceSummary `json:"trace_summary,omitempty"`
}

// Chat is a conversation owned by one user.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	AgentID   string    `json:"agent_id,omitempty"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultChatTitle is used until the first user message names the chat.
const DefaultChatTitle = "New Chat"

// TitleFromContent derives a chat title from the first user message.
func TitleFromContent(content string) string {
	const maxLen = 50
	r := []rune(content)
	if len(r) <= maxLen {
		return content
	}
	return string(r[:maxLen]) + "..."
}

// ChatMessage is the role/content pair sent to the agent endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
