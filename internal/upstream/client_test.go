package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
)

func newTestClient(host string) *Client {
	return NewClient(host, WithLogger(zerolog.Nop()), WithHeaderTimeout(0))
}

func TestEndpointURL(t *testing.T) {
	c := newTestClient("workspace.example.com/")

	url, err := c.EndpointURL(config.AgentConfig{EndpointName: "mas-endpoint"})
	require.NoError(t, err)
	assert.Equal(t, "https://workspace.example.com/serving-endpoints/mas-endpoint/invocations", url)

	url, err = c.EndpointURL(config.AgentConfig{EndpointName: "x", EndpointURL: "http://local/invocations"})
	require.NoError(t, err)
	assert.Equal(t, "http://local/invocations", url)

	_, err = newTestClient("").EndpointURL(config.AgentConfig{EndpointName: "x"})
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestOpen_AgentFormat(t *testing.T) {
	var gotBody []byte
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"hi\"}\n\n")
	}))
	defer srv.Close()

	c := newTestClient("")
	stream, err := c.Open(context.Background(), Request{
		EndpointURL:    srv.URL,
		EndpointName:   "agent-a",
		Messages:       []model.ChatMessage{{Role: "user", Content: "hello"}},
		ConversationID: "chat_1",
		Token:          "tok",
	})
	require.NoError(t, err)
	defer stream.Body.Close()

	assert.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Equal(t, FormatAgent, stream.Format)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "hello", gjson.GetBytes(gotBody, "input.0.content").String())
	assert.True(t, gjson.GetBytes(gotBody, "stream").Bool())
	assert.Equal(t, "chat_1", gjson.GetBytes(gotBody, "databricks_options.conversation_id").String())
	assert.True(t, gjson.GetBytes(gotBody, "databricks_options.return_trace").Bool())

	f, ok := c.CachedFormat("agent-a")
	require.True(t, ok)
	assert.Equal(t, FormatAgent, f)
}

func TestOpen_NoTokenSendsNoAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	stream, err := newTestClient("").Open(context.Background(), Request{EndpointURL: srv.URL})
	require.NoError(t, err)
	stream.Body.Close()
}

func TestOpen_FallsBackToChatCompletion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		if gjson.GetBytes(body, "input").Exists() {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error_code":"BAD_REQUEST","message":"Missing required Chat parameter: 'messages'"}`)
			return
		}
		assert.Equal(t, "hello", gjson.GetBytes(body, "messages.0.content").String())
		_, _ = io.WriteString(w, "data: {}\n\n")
	}))
	defer srv.Close()

	c := newTestClient("")
	req := Request{EndpointURL: srv.URL, EndpointName: "fm", Messages: []model.ChatMessage{{Role: "user", Content: "hello"}}}

	stream, err := c.Open(context.Background(), req)
	require.NoError(t, err)
	stream.Body.Close()
	assert.Equal(t, FormatChatCompletion, stream.Format)
	assert.Equal(t, int32(2), calls.Load())

	// Cached: the next call goes straight to chat completion.
	stream, err = c.Open(context.Background(), req)
	require.NoError(t, err)
	stream.Body.Close()
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpen_RejectionReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "permission denied\n")
	}))
	defer srv.Close()

	c := newTestClient("")
	_, err := c.Open(context.Background(), Request{EndpointURL: srv.URL, EndpointName: "e"})
	require.Error(t, err)

	se, ok := AsStatusError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, "permission denied", se.Body)
	_, cached := c.CachedFormat("e")
	assert.False(t, cached)
}

func TestStatusError_NeedsChatFormat(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   bool
	}{
		{400, "Missing required Chat parameter: 'messages'", true},
		{400, "Model is missing inputs ['messages']", true},
		{422, "extra inputs: ['input'] expected 'messages'", true},
		{400, "extra inputs: ['input']", false},
		{500, "Missing required Chat parameter: 'messages'", false},
		{401, "unauthorized", false},
	}
	for _, tt := range tests {
		se := &StatusError{StatusCode: tt.status, Body: tt.body}
		assert.Equal(t, tt.want, se.NeedsChatFormat(), tt.body)
	}
}
