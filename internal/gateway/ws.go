// Package gateway - ws.go delivers chat streams over WebSocket.
//
// DESIGN: The client sends one text message holding the same body as
// POST /api/chat. Every event, the trace summary and the terminal marker are
// then sent as one text message each, followed by a normal close. Pre-stream
// failures become a single {"error","status"} message and a close code.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
)

const wsFirstMessageTimeout = 30 * time.Second

// wsError is the single message sent when a stream cannot start.
type wsError struct {
	Error          string `json:"error"`
	Status         int    `json:"status"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
	UpstreamBody   string `json:"upstream_body,omitempty"`
}

func (g *Gateway) handleChatWS(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	logger := g.logger.With().Str("request_id", requestID).Str("transport", TransportWebSocket).Logger()

	conn, err := websocket.Accept(w, r, g.wsAcceptOptions())
	if err != nil {
		logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(config.MaxRequestBodySize)

	readCtx, cancel := context.WithTimeout(r.Context(), wsFirstMessageTimeout)
	typ, data, err := conn.Read(readCtx)
	cancel()
	if err != nil {
		logger.Debug().Err(err).Msg("no chat request received")
		_ = conn.Close(websocket.StatusPolicyViolation, "expected chat request")
		return
	}
	if typ != websocket.MessageText {
		_ = conn.Close(websocket.StatusUnsupportedData, "chat request must be text")
		return
	}

	req, err := decodeChatRequest(bytes.NewReader(data))
	if err != nil {
		g.wsReject(conn, err)
		return
	}

	rc, src, err := g.prepareChat(r, req, requestID, TransportWebSocket)
	if err != nil {
		g.wsReject(conn, err)
		return
	}

	// CloseRead handles control frames and reports when the peer is gone.
	peerGone := conn.CloseRead(g.bgCtx)
	done := g.startPipeline(rc, src, newWSOutbound(g.bgCtx, conn))

	select {
	case <-done:
	case <-peerGone.Done():
		logger.Debug().Msg("websocket peer closed, stream continues in background")
	}
}

// wsReject sends the mapped error and closes the socket.
func (g *Gateway) wsReject(conn *websocket.Conn, err error) {
	status, resp := httpError(err)
	payload, _ := json.Marshal(wsError{
		Error:          resp.Error,
		Status:         status,
		UpstreamStatus: resp.UpstreamStatus,
		UpstreamBody:   resp.UpstreamBody,
	})

	ctx, cancel := context.WithTimeout(g.bgCtx, wsWriteTimeout)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)

	code := websocket.StatusPolicyViolation
	if status >= http.StatusInternalServerError {
		code = websocket.StatusInternalError
	}
	_ = conn.Close(code, closeReason(resp.Error))
}

// closeReason fits a close reason into the 123 bytes a close frame allows.
func closeReason(s string) string {
	const maxReason = 123
	if len(s) <= maxReason {
		return s
	}
	return s[:maxReason]
}

// wsAcceptOptions mirrors the CORS origin list.
func (g *Gateway) wsAcceptOptions() *websocket.AcceptOptions {
	var patterns []string
	for _, o := range g.cfg.Server.CORSOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		} else if o != "" {
			patterns = append(patterns, o)
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}
