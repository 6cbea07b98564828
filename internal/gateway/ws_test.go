package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/stream"
)

func (f *fixture) dialWS(t *testing.T) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/chat/ws"
	conn, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn, ctx
}

func writeWSJSON(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

// readWSFrames reads text messages until the server closes the socket.
func readWSFrames(t *testing.T, ctx context.Context, conn *websocket.Conn) ([]string, websocket.StatusCode) {
	t.Helper()
	var frames []string
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return frames, websocket.CloseStatus(err)
		}
		require.Equal(t, websocket.MessageText, typ)
		frames = append(frames, string(data))
	}
}

func TestChatWS_StreamsSameFramesAsSSE(t *testing.T) {
	f := newFixture(t, fixtureOpts{agent: sseAgent(t, testToken, conversation...)})
	chat := f.createChat(t, testUser, testAgent)

	conn, ctx := f.dialWS(t)
	writeWSJSON(t, ctx, conn, chatBody(chat.ID))

	frames, code := readWSFrames(t, ctx, conn)
	assert.Equal(t, websocket.StatusNormalClosure, code)
	require.Len(t, frames, 6)
	assert.JSONEq(t, `{"id":"t1"}`, frames[0])
	assert.JSONEq(t, `{"type":"response.output_text.delta","delta":"Hello"}`, frames[1])
	assert.Equal(t, stream.TypeSummary, gjson.Get(frames[4], "type").String())
	assert.Equal(t, "[DONE]", frames[5])

	f.gw.inflight.Wait()
	stored, err := f.store.Get(context.Background(), testUser, chat.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, "Hello", stored.Messages[1].Content)
}

func TestChatWS_RejectsUnknownChat(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	conn, ctx := f.dialWS(t)
	writeWSJSON(t, ctx, conn, chatBody("chat_000000000000"))

	frames, code := readWSFrames(t, ctx, conn)
	assert.Equal(t, websocket.StatusPolicyViolation, code)
	require.Len(t, frames, 1)

	var msg wsError
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &msg))
	assert.Equal(t, http.StatusNotFound, msg.Status)
	assert.Equal(t, "chat not found", msg.Error)
}

func TestChatWS_UpstreamRejectionIsInternalError(t *testing.T) {
	f := newFixture(t, fixtureOpts{agent: func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}})
	chat := f.createChat(t, testUser, testAgent)

	conn, ctx := f.dialWS(t)
	writeWSJSON(t, ctx, conn, chatBody(chat.ID))

	frames, code := readWSFrames(t, ctx, conn)
	assert.Equal(t, websocket.StatusInternalError, code)
	require.Len(t, frames, 1)
	assert.Equal(t, int64(http.StatusInternalServerError), gjson.Get(frames[0], "status").Int())
	assert.Equal(t, int64(http.StatusTooManyRequests), gjson.Get(frames[0], "upstream_status").Int())
}

func TestChatWS_BinaryRequestRejected(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	conn, ctx := f.dialWS(t)
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte(`{"chatId":"x"}`)))

	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusUnsupportedData, websocket.CloseStatus(err))
}

func TestChatWS_PeerCloseDoesNotStopPersistence(t *testing.T) {
	release := make(chan struct{})
	agent := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte(conversation[0]))
		flusher.Flush()
		<-release
		for _, c := range conversation[1:] {
			_, _ = w.Write([]byte(c))
			flusher.Flush()
		}
	}
	f := newFixture(t, fixtureOpts{agent: agent})
	chat := f.createChat(t, testUser, testAgent)

	conn, ctx := f.dialWS(t)
	writeWSJSON(t, ctx, conn, chatBody(chat.ID))

	_, first, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t1"}`, string(first))

	require.NoError(t, conn.Close(websocket.StatusGoingAway, "tab closed"))
	close(release)

	f.gw.inflight.Wait()
	stored, err := f.store.Get(context.Background(), testUser, chat.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, "Hello", stored.Messages[1].Content)
	assert.Equal(t, "t1", stored.Messages[1].TraceID)
}

func TestCloseReason(t *testing.T) {
	assert.Equal(t, "short", closeReason("short"))
	assert.Len(t, closeReason(strings.Repeat("x", 300)), 123)
}

func TestWSAcceptOptions(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	assert.True(t, f.gw.wsAcceptOptions().InsecureSkipVerify)

	f.gw.cfg.Server.CORSOrigins = []string{"http://localhost:3000", "https://app.example.com"}
	opts := f.gw.wsAcceptOptions()
	assert.False(t, opts.InsecureSkipVerify)
	assert.Equal(t, []string{"localhost:3000", "app.example.com"}, opts.OriginPatterns)
}
