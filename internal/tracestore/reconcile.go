package tracestore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
)

// PlaceholderPrefix marks trace ids generated locally when the stream never
// carried one.
const PlaceholderPrefix = "tr-local-"

// Outcome reports which path produced a summary.
type Outcome string

const (
	OutcomeReconciled Outcome = "reconciled"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// TraceGetter is the trace store lookup used by the Reconciler.
type TraceGetter interface {
	GetTrace(ctx context.Context, token, traceID, experimentID string) (*Trace, error)
}

// Input is what the stream accumulated for one request.
type Input struct {
	TraceID       string
	ExperimentID  string
	Token         string
	FunctionCalls []model.FunctionCallRecord
}

// Reconciler merges trace store span statistics with locally accumulated
// function calls.
type Reconciler struct {
	store         TraceGetter
	settleDelay   time.Duration
	lookupTimeout time.Duration
	logger        zerolog.Logger
}

// ReconcilerOption configures the Reconciler.
type ReconcilerOption func(*Reconciler)

// WithSettleDelay sets the wait before the lookup.
func WithSettleDelay(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.settleDelay = d }
}

// WithLookupTimeout bounds the lookup call.
func WithLookupTimeout(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.lookupTimeout = d }
}

// WithReconcilerLogger sets the logger.
func WithReconcilerLogger(l zerolog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a Reconciler. A nil store always falls back.
func NewReconciler(store TraceGetter, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:  store,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile always returns a summary. The store is consulted only when a
// trace id, an experiment id and a token are all present; any lookup failure
// falls back to the locally synthesized summary.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (*model.TraceSummary, Outcome) {
	if r == nil || r.store == nil || in.TraceID == "" || in.ExperimentID == "" || in.Token == "" {
		return Fallback(in.TraceID, in.FunctionCalls), OutcomeSkipped
	}

	logger := r.logger.With().Str("trace_id", in.TraceID).Str("experiment_id", in.ExperimentID).Logger()

	if err := sleepCtx(ctx, r.settleDelay); err != nil {
		logger.Warn().Err(err).Msg("trace settle wait interrupted")
		return Fallback(in.TraceID, in.FunctionCalls), OutcomeFailed
	}

	lookupCtx := ctx
	if r.lookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, r.lookupTimeout)
		defer cancel()
	}

	trace, err := r.store.GetTrace(lookupCtx, in.Token, in.TraceID, in.ExperimentID)
	if err != nil {
		logger.Warn().Err(err).Msg("trace lookup failed, using local summary")
		return Fallback(in.TraceID, in.FunctionCalls), OutcomeFailed
	}

	summary := BuildSummary(trace)
	if summary.TraceID == "" {
		summary.TraceID = in.TraceID
	}
	summary.FunctionCalls = model.CloneFunctionCalls(in.FunctionCalls)

	logger.Debug().
		Int("spans", summary.SpansCount).
		Int("tools", len(summary.ToolsCalled)).
		Int("llm_calls", len(summary.LLMCalls)).
		Int("total_tokens", summary.TotalTokens).
		Msg("trace reconciled")
	return summary, OutcomeReconciled
}

// Fallback synthesizes a summary from local state alone.
func Fallback(traceID string, calls []model.FunctionCallRecord) *model.TraceSummary {
	if traceID == "" {
		traceID = PlaceholderTraceID()
	}
	return &model.TraceSummary{
		TraceID:        traceID,
		DurationMs:     0,
		Status:         StatusOK,
		ToolsCalled:    []model.SpanCall{},
		RetrievalCalls: []model.SpanCall{},
		LLMCalls:       []model.SpanCall{},
		TotalTokens:    0,
		SpansCount:     len(calls),
		FunctionCalls:  model.CloneFunctionCalls(calls),
	}
}

// PlaceholderTraceID generates a local trace id.
func PlaceholderTraceID() string {
	return PlaceholderPrefix + uuid.NewString()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
