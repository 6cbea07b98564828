// Request utilities - id assignment, body decoding, caller checks.
//
// DESIGN:
//   - getRequestID():     reuse the caller's X-Request-ID or mint one
//   - decodeChatRequest(): bounded JSON decode shared by SSE and WebSocket
//   - isLoopback():       guards operator-only routes
package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
)

// getRequestID gets or generates a request ID.
func getRequestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HeaderRequestID)); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.New().String()
}

// decodeChatRequest reads and validates a chat request body.
func decodeChatRequest(body io.Reader) (ChatRequest, error) {
	var req ChatRequest
	dec := json.NewDecoder(io.LimitReader(body, config.MaxRequestBodySize))
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	req.ChatID = strings.TrimSpace(req.ChatID)
	if req.ChatID == "" {
		return req, errMissingChatID
	}
	return req, nil
}

// latestUserMessage returns the last user message in msgs.
func latestUserMessage(msgs []model.ChatMessage) (model.ChatMessage, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			return msgs[i], true
		}
	}
	return model.ChatMessage{}, false
}

// isLoopback reports whether remoteAddr is a loopback address.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
