package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/auth"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/storage"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/tracestore"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/upstream"
)

const (
	testToken = "dapi-test-token"
	testUser  = "dev-user@localhost"
	testAgent = "agent-1"
)

// conversation is the reference stream: a trace id, a text delta split
// across two chunks, and a function call followed by its output.
var conversation = []string{
	"data: {\"id\":\"t1\"}\n\n",
	`data: {"type":"response.output_text.delta","delta":"Hel`,
	"lo\"}\n\n",
	`data: {"type":"response.output_item.done","item":{"type":"function_call","call_id":"c1","name":"search","arguments":"{\"q\":\"x\"}"}}` + "\n\n",
	`data: {"type":"response.output_item.done","item":{"type":"function_call_output","call_id":"c1","output":"{\"r\":[1,2]}"}}` + "\n\n",
	"data: [DONE]\n\n",
}

type fixtureOpts struct {
	agent        http.HandlerFunc
	mlflow       http.HandlerFunc
	experimentID string
	mode         string
	noToken      bool
}

type fixture struct {
	gw    *Gateway
	srv   *httptest.Server
	store *storage.MemoryStore
	cfg   *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:     "development",
		DeploymentMode:  config.ModeLocal,
		DatabricksToken: testToken,
		LocalUserID:     testUser,
		Server: config.ServerConfig{
			Host:        "127.0.0.1",
			Port:        0,
			ReadTimeout: 5 * time.Second,
			CORSOrigins: []string{"*"},
		},
		Upstream: config.UpstreamConfig{HeaderTimeout: 10 * time.Second},
		Trace:    config.TraceConfig{SettleDelay: 0, LookupTimeout: 2 * time.Second},
		Storage:  config.StorageConfig{Backend: config.StorageMemory, MaxChatsPerUser: 10},
	}
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()

	agentHandler := o.agent
	if agentHandler == nil {
		agentHandler = http.NotFound
	}
	agentSrv := httptest.NewServer(agentHandler)
	t.Cleanup(agentSrv.Close)

	cfg := testConfig()
	if o.mode != "" {
		cfg.DeploymentMode = o.mode
	}
	if o.noToken {
		cfg.DatabricksToken = ""
	}

	traces := tracestore.NewClient("")
	if o.mlflow != nil {
		mlSrv := httptest.NewServer(o.mlflow)
		t.Cleanup(mlSrv.Close)
		traces = tracestore.NewClient(mlSrv.URL)
	}

	logger := zerolog.Nop()
	store := storage.NewMemoryStore(10)
	agents := config.NewAgentRegistry(
		config.AgentConfig{
			ID:                 testAgent,
			EndpointURL:        agentSrv.URL + "/serving-endpoints/agent-1/invocations",
			MLflowExperimentID: o.experimentID,
			Tools:              []config.AgentTool{{Name: "search", Description: "web search"}},
		},
		config.AgentConfig{ID: "legacy", DeploymentType: "openai-compatible"},
	)

	gw, err := New(cfg, Options{
		Agents:   agents,
		Store:    store,
		Upstream: upstream.NewClient("", upstream.WithLogger(logger)),
		Traces:   traces,
		Logger:   &logger,
		Version:  "test",
	})
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(gw.inflight.Wait)

	return &fixture{gw: gw, srv: srv, store: store, cfg: cfg}
}

func (f *fixture) createChat(t *testing.T, userID, agentID string) *model.Chat {
	t.Helper()
	chat, err := f.store.Create(context.Background(), userID, "", agentID)
	require.NoError(t, err)
	return chat
}

func (f *fixture) postChat(t *testing.T, body any, headers map[string]string) *http.Response {
	t.Helper()
	var data []byte
	switch b := body.(type) {
	case string:
		data = []byte(b)
	default:
		var err error
		data, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/chat", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// chatBody is a minimal valid request for chatID.
func chatBody(chatID string) ChatRequest {
	return ChatRequest{
		ChatID:   chatID,
		Messages: []model.ChatMessage{{Role: model.RoleUser, Content: "find x"}},
	}
}

// readFrames reads an SSE body to the end and returns the data payloads.
func readFrames(t *testing.T, body io.Reader) []string {
	t.Helper()
	data, err := io.ReadAll(body)
	require.NoError(t, err)

	var frames []string
	for _, block := range strings.Split(string(data), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		require.True(t, strings.HasPrefix(block, "data: "), "unexpected frame %q", block)
		frames = append(frames, strings.TrimPrefix(block, "data: "))
	}
	return frames
}

// sseAgent serves chunks one write at a time and checks the bearer token.
func sseAgent(t *testing.T, wantToken string, chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if wantToken != "" && r.Header.Get(auth.HeaderAuthorization) != "Bearer "+wantToken {
			t.Errorf("unexpected authorization %q", r.Header.Get(auth.HeaderAuthorization))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			_, _ = io.WriteString(w, c)
			flusher.Flush()
		}
	}
}

// recordingOutbound captures what the pipeline writes.
type recordingOutbound struct {
	mu      sync.Mutex
	failing bool
	frames  []string
	closed  bool
	writes  int
}

func (o *recordingOutbound) Send(payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes++
	if o.failing {
		return errClientGone
	}
	o.frames = append(o.frames, string(payload))
	return nil
}

func (o *recordingOutbound) Done() error {
	return o.Send([]byte("[DONE]"))
}

func (o *recordingOutbound) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

// runPipeline drives one pipeline over body without HTTP.
func (f *fixture) runPipeline(t *testing.T, chat *model.Chat, body io.Reader, out outbound) {
	t.Helper()
	agent, ok := f.gw.agents.Get(testAgent)
	require.True(t, ok)

	rc := &requestContext{
		RequestID:  "req-1",
		ChatID:     chat.ID,
		UserID:     chat.UserID,
		Agent:      agent,
		Identity:   auth.Identity{UserID: chat.UserID, Token: testToken, Mode: auth.ModeLocal},
		Transport:  TransportSSE,
		ReceivedAt: time.Now(),
	}
	src := &upstream.Stream{Body: io.NopCloser(body), StatusCode: http.StatusOK, Format: upstream.FormatAgent}

	select {
	case <-f.gw.startPipeline(rc, src, out):
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}
}
