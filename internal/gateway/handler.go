// HTTP request handling for the chat gateway.
//
// DESIGN: Main request flow:
//   - handleChat():  entry point for POST /api/chat
//   - prepareChat(): every pre-stream check (identity, chat, agent, upstream)
//   - relaySSE():    drains the pipeline's pipe into the response with flushing
//
// Errors returned by prepareChat are the only ones that become HTTP errors.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/upstream"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/utils"
)

var errClientGone = errors.New("client disconnected")

// handleChat streams one agent response as SSE.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	w.Header().Set(HeaderRequestID, requestID)

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	req, err := decodeChatRequest(r.Body)
	if err != nil {
		g.logger.Debug().Err(err).Str("request_id", requestID).Msg("invalid chat request")
		g.writeError(w, err)
		return
	}

	rc, src, err := g.prepareChat(r, req, requestID, TransportSSE)
	if err != nil {
		g.writeError(w, err)
		return
	}

	pr, pw := io.Pipe()
	g.startPipeline(rc, src, newPipeOutbound(pw))

	h := w.Header()
	h.Set(HeaderContentType, ContentTypeEventStream)
	h.Set(HeaderCacheControl, "no-cache")
	h.Set(HeaderConnection, "keep-alive")
	h.Set(HeaderAccelBuffering, "no")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if err := relaySSE(r.Context(), w, pr); err != nil {
		g.logger.Debug().Err(err).Str("request_id", requestID).Msg("client stream ended early")
	}
}

// prepareChat resolves everything a stream needs and opens the upstream.
// On success the caller must hand the stream to a pipeline.
func (g *Gateway) prepareChat(r *http.Request, req ChatRequest, requestID, transport string) (*requestContext, *upstream.Stream, error) {
	ctx := r.Context()
	logger := g.logger.With().Str("request_id", requestID).Str("chat_id", req.ChatID).Logger()

	identity, err := g.resolver.Resolve(r)
	if err != nil {
		logger.Warn().Err(err).Msg("credential resolution failed")
		return nil, nil, err
	}

	chat, err := g.store.Get(ctx, identity.UserID, req.ChatID)
	if err != nil {
		logger.Debug().Err(err).Str("user_id", identity.UserID).Msg("chat lookup failed")
		return nil, nil, err
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = chat.AgentID
	}
	agent, ok := g.agents.Get(agentID)
	if !ok {
		logger.Warn().Str("agent_id", agentID).Msg("no agent configured")
		return nil, nil, errNoAgent
	}
	if agent.DeploymentType != config.DeploymentDatabricksEndpoint {
		return nil, nil, fmt.Errorf("%w: %s", errUnsupportedDeployment, agent.DeploymentType)
	}

	endpoint, err := g.upstream.EndpointURL(agent)
	if err != nil {
		logger.Error().Err(err).Str("agent_id", agent.ID).Msg("agent endpoint unresolved")
		return nil, nil, err
	}

	rc := &requestContext{
		RequestID:  requestID,
		ChatID:     chat.ID,
		UserID:     identity.UserID,
		Agent:      agent,
		Identity:   identity,
		Transport:  transport,
		Endpoint:   endpoint,
		ReceivedAt: time.Now(),
	}
	g.persistUserMessage(ctx, rc, req.Messages)

	// The upstream body belongs to the pipeline, so it must not be tied to
	// the client's request context; keep the span link only.
	openCtx := trace.ContextWithSpan(g.bgCtx, trace.SpanFromContext(ctx))
	src, err := g.upstream.Open(openCtx, upstream.Request{
		EndpointURL:    endpoint,
		EndpointName:   agent.EndpointName,
		Messages:       req.Messages,
		ConversationID: chat.ID,
		Token:          identity.Token,
	})
	if err != nil {
		if se, ok := upstream.AsStatusError(err); ok {
			g.metrics.RecordRejected()
			logger.Error().
				Int("upstream_status", se.StatusCode).
				Str("upstream_body", utils.Preview(se.Body, config.MaxLogPreviewLen)).
				Msg("agent endpoint rejected request")
		} else {
			logger.Error().Err(err).Msg("agent endpoint unreachable")
		}
		return nil, nil, err
	}

	logger.Info().
		Str("agent_id", agent.ID).
		Str("format", string(src.Format)).
		Int("messages", len(req.Messages)).
		Msg("chat stream opened")
	return rc, src, nil
}

// persistUserMessage stores the latest user turn. Failure is logged only;
// the assistant turn is still streamed.
func (g *Gateway) persistUserMessage(ctx context.Context, rc *requestContext, msgs []model.ChatMessage) {
	msg, ok := latestUserMessage(msgs)
	if !ok || msg.Content == "" {
		return
	}
	err := g.store.AppendMessage(ctx, rc.UserID, rc.ChatID, model.Message{
		Role:    model.RoleUser,
		Content: msg.Content,
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("request_id", rc.RequestID).Msg("failed to persist user message")
	}
}

// relaySSE copies pipeline output to the client with flushing. When the
// client goes away the pipe is closed with an error so pipeline writes fail
// fast instead of blocking.
func relaySSE(ctx context.Context, w http.ResponseWriter, pr *io.PipeReader) error {
	stop := context.AfterFunc(ctx, func() { _ = pr.CloseWithError(errClientGone) })
	defer stop()

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, config.DefaultReadChunkSize)
	for {
		n, err := pr.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				_ = pr.CloseWithError(errClientGone)
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
