package upstream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
)

// Format is the request format an endpoint accepts.
type Format string

const (
	// FormatAgent is the agent/responses format with an "input" list.
	FormatAgent Format = "agent"
	// FormatChatCompletion is the chat-completion format with a "messages" list.
	FormatChatCompletion Format = "chat_completion"
)

// ErrNoEndpoint means an agent has neither an endpoint URL nor a resolvable name.
var ErrNoEndpoint = errors.New("agent has no endpoint configured")

// Request is one streaming call.
type Request struct {
	EndpointURL    string
	EndpointName   string
	Messages       []model.ChatMessage
	ConversationID string
	Token          string
}

func (r Request) cacheKey() string {
	if r.EndpointName != "" {
		return r.EndpointName
	}
	return r.EndpointURL
}

type databricksOptions struct {
	ConversationID string `json:"conversation_id,omitempty"`
	ReturnTrace    bool   `json:"return_trace"`
}

type agentPayload struct {
	Input             []model.ChatMessage `json:"input"`
	Stream            bool                `json:"stream"`
	DatabricksOptions databricksOptions   `json:"databricks_options"`
}

type chatCompletionPayload struct {
	Messages []model.ChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

func (r Request) payload(f Format) any {
	msgs := r.Messages
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	if f == FormatChatCompletion {
		return chatCompletionPayload{Messages: msgs, Stream: true}
	}
	return agentPayload{
		Input:  msgs,
		Stream: true,
		DatabricksOptions: databricksOptions{
			ConversationID: r.ConversationID,
			ReturnTrace:    true,
		},
	}
}

// Stream is an open upstream response.
type Stream struct {
	Body       io.ReadCloser
	StatusCode int
	Header     http.Header
	Format     Format
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// NeedsChatFormat reports whether the rejection says the endpoint wants a
// chat-completion "messages" payload.
func (e *StatusError) NeedsChatFormat() bool {
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	b := e.Body
	return strings.Contains(b, "Missing required Chat parameter: 'messages'") ||
		strings.Contains(b, "Model is missing inputs ['messages']") ||
		(strings.Contains(b, "extra inputs: ['input']") && strings.Contains(b, "messages"))
}

// AsStatusError unwraps err into a *StatusError.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
