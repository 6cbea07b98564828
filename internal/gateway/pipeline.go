// Package gateway - pipeline.go runs one chat stream in the background.
//
// DESIGN: Flow per stream, on the gateway's lifetime context (never the
// client's, so a disconnect cannot stop accumulation or persistence):
//   - consume():   scan upstream lines, normalize, decode, accumulate, forward
//   - summarize(): reconcile with the trace store or synthesize locally
//   - deliver():   summary frame, terminal marker, close
//   - persist():   assistant message with the summary snapshot
//
// deliver() and persist() run from a deferred call so they also happen after
// a panic, and each post-stream step recovers on its own.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/monitoring"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/sse"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/stream"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/telemetry"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/tracestore"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/upstream"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/utils"
)

// persistTimeout bounds the assistant message write.
const persistTimeout = 10 * time.Second

type pipeline struct {
	g      *Gateway
	rc     *requestContext
	src    *upstream.Stream
	out    outbound
	acc    *stream.Accumulator
	logger zerolog.Logger

	readErr    error
	outcome    tracestore.Outcome
	clientGone bool
	events     int
	malformed  int
	firstEvent time.Duration
	persisted  bool
}

// startPipeline runs the pipeline in its own goroutine. The returned channel
// is closed once the stream has been delivered and persisted.
func (g *Gateway) startPipeline(rc *requestContext, src *upstream.Stream, out outbound) <-chan struct{} {
	done := make(chan struct{})
	logger := g.logger.With().
		Str("request_id", rc.RequestID).
		Str("chat_id", rc.ChatID).
		Str("user_id", rc.UserID).
		Str("agent_id", rc.Agent.ID).
		Logger()

	p := &pipeline{
		g:      g,
		rc:     rc,
		src:    src,
		out:    out,
		acc:    stream.NewAccumulator(logger),
		logger: logger,
	}

	g.inflight.Add(1)
	g.metrics.StreamStarted()
	go func() {
		defer g.inflight.Done()
		defer close(done)
		p.run(g.bgCtx)
	}()
	return done
}

func (p *pipeline) run(ctx context.Context) {
	ctx, span := telemetry.Tracer().Start(ctx, "chat.pipeline", trace.WithAttributes(
		attribute.String("chat_id", p.rc.ChatID),
		attribute.String("agent_id", p.rc.Agent.ID),
		attribute.String("transport", p.rc.Transport),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			p.logPanic("consume", r)
			if p.readErr == nil {
				p.readErr = fmt.Errorf("pipeline panic: %v", r)
			}
		}
		summary := p.finalSummary()
		p.guard("deliver", func() { p.deliver(summary) })
		p.guard("persist", func() { p.persist(ctx, summary) })
		p.guard("finish", func() { p.finish(span) })
	}()
	defer func() { _ = p.src.Body.Close() }()

	p.consume(ctx)
	if p.readErr != nil {
		p.logger.Warn().Err(p.readErr).Msg("upstream stream failed")
		p.send(stream.ErrorPayload(p.readErr.Error()))
		return
	}
	p.summarize(ctx)
}

// =============================================================================
// CONSUME
// =============================================================================

func (p *pipeline) consume(ctx context.Context) {
	p.readErr = sse.Scan(ctx, p.src.Body, config.DefaultReadChunkSize, p.handleLine)
}

// handleLine processes one logical line. It returns false at the terminal
// marker.
func (p *pipeline) handleLine(line sse.Line) bool {
	switch line.Kind {
	case sse.KindDone:
		return false
	case sse.KindHTML:
		p.logger.Warn().
			Str("preview", utils.Preview(line.Raw, config.MaxLogPreviewLen)).
			Msg("upstream sent HTML instead of event data")
		return true
	case sse.KindControl:
		return true
	}

	payload, keep := stream.NormalizeChunk([]byte(line.Payload), p.src.Format == upstream.FormatChatCompletion)
	if !keep {
		return true
	}

	ev, err := stream.Decode(payload)
	if err != nil {
		p.malformed++
		p.logger.Debug().
			Err(err).
			Str("preview", utils.Preview(line.Payload, config.MaxLogPreviewLen)).
			Msg("skipping malformed event")
		return true
	}

	p.events++
	if p.events == 1 {
		p.firstEvent = time.Since(p.rc.ReceivedAt)
	}
	p.acc.Apply(ev)
	p.send(payload)
	return true
}

// send forwards one frame; failures only mark the client as gone.
func (p *pipeline) send(payload []byte) {
	p.noteWrite(p.out.Send(payload))
}

func (p *pipeline) noteWrite(err error) {
	if err == nil || p.clientGone {
		return
	}
	p.clientGone = true
	p.g.metrics.RecordClientDisconnect()
	p.logger.Debug().Err(err).Msg("client disconnected, continuing in background")
}

// =============================================================================
// SUMMARIZE
// =============================================================================

func (p *pipeline) summarize(ctx context.Context) {
	summary, outcome := p.g.reconciler.Reconcile(ctx, tracestore.Input{
		TraceID:       p.acc.TraceID(),
		ExperimentID:  p.rc.Agent.MLflowExperimentID,
		Token:         p.rc.Identity.Token,
		FunctionCalls: p.acc.FunctionCalls(),
	})
	p.acc.Summary = summary
	p.outcome = outcome
}

// =============================================================================
// DELIVER
// =============================================================================

// finalSummary returns a snapshot of the reconciled summary, falling back
// to the local one when reconciliation never ran.
func (p *pipeline) finalSummary() *model.TraceSummary {
	if p.acc.Summary == nil {
		p.acc.Summary = tracestore.Fallback(p.acc.TraceID(), p.acc.FunctionCalls())
		p.outcome = tracestore.OutcomeSkipped
	}
	return p.acc.Summary.Clone()
}

// deliver writes the summary frame, the terminal marker and closes the
// outbound. Each step is attempted regardless of the others.
func (p *pipeline) deliver(summary *model.TraceSummary) {
	p.guard("summary frame", func() {
		frame, err := stream.SummaryPayload(summary)
		if err != nil {
			p.logger.Error().Err(err).Msg("failed to encode trace summary")
			return
		}
		p.send(frame)
	})
	p.guard("terminal marker", func() { p.noteWrite(p.out.Done()) })
	p.guard("close", func() {
		if err := p.out.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("closing outbound stream")
		}
	})
}

// guard runs one post-stream step; a panic is logged and contained so the
// remaining steps still run.
func (p *pipeline) guard(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logPanic(step, r)
		}
	}()
	fn()
}

func (p *pipeline) logPanic(step string, r any) {
	p.logger.Error().
		Str("step", step).
		Interface("panic", r).
		Str("stack", string(debug.Stack())).
		Msg("chat pipeline panicked")
}

func (p *pipeline) persist(ctx context.Context, summary *model.TraceSummary) {
	text := p.acc.FullText()
	if text == "" {
		p.logger.Debug().Msg("no assistant text, nothing to persist")
		return
	}

	traceID := p.acc.TraceID()
	if traceID == "" {
		traceID = summary.TraceID
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	err := p.g.store.AppendMessage(ctx, p.rc.UserID, p.rc.ChatID, model.Message{
		Role:         model.RoleAssistant,
		Content:      text,
		TraceID:      traceID,
		TraceSummary: summary,
	})
	p.g.metrics.RecordPersist(err == nil)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to persist assistant message")
		return
	}
	p.persisted = true
}

// finish records metrics, telemetry and the span outcome.
func (p *pipeline) finish(span trace.Span) {
	upstreamErr := p.readErr != nil && !errors.Is(p.readErr, context.Canceled)
	p.g.metrics.StreamFinished(p.readErr != nil)
	p.g.metrics.RecordTraceOutcome(string(p.outcome))

	span.SetAttributes(
		attribute.Int("events", p.events),
		attribute.Int("function_calls", p.acc.CallCount()),
		attribute.String("trace_outcome", string(p.outcome)),
		attribute.Bool("client_gone", p.clientGone),
		attribute.Bool("persisted", p.persisted),
	)
	if upstreamErr {
		span.RecordError(p.readErr)
		span.SetStatus(codes.Error, p.readErr.Error())
	}

	ev := &monitoring.StreamEvent{
		RequestID:      p.rc.RequestID,
		Timestamp:      p.rc.ReceivedAt,
		Transport:      p.rc.Transport,
		UserID:         p.rc.UserID,
		ChatID:         p.rc.ChatID,
		AgentID:        p.rc.Agent.ID,
		Endpoint:       p.rc.Endpoint,
		Format:         string(p.src.Format),
		TraceID:        p.acc.Summary.TraceID,
		TraceOutcome:   string(p.outcome),
		TextBytes:      len(p.acc.FullText()),
		FunctionCalls:  p.acc.CallCount(),
		EventsSeen:     p.events,
		MalformedLines: p.malformed,
		Persisted:      p.persisted,
		ClientGone:     p.clientGone,
		Success:        p.readErr == nil,
		FirstEventMs:   p.firstEvent.Milliseconds(),
		TotalLatencyMs: time.Since(p.rc.ReceivedAt).Milliseconds(),
	}
	if p.readErr != nil {
		ev.Error = p.readErr.Error()
	}
	p.g.tracker.RecordStream(ev)

	p.logger.Info().
		Str("trace_id", ev.TraceID).
		Str("trace_outcome", ev.TraceOutcome).
		Int("events", p.events).
		Int("function_calls", ev.FunctionCalls).
		Bool("client_gone", p.clientGone).
		Bool("persisted", p.persisted).
		Int64("latency_ms", ev.TotalLatencyMs).
		Msg("chat stream finished")
}
