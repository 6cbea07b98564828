package stream

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
)

// Accumulator is the mutable state of one request's background pipeline.
// It has a single writer and is not safe for concurrent use.
type Accumulator struct {
	text          strings.Builder
	traceID       string
	functionCalls []model.FunctionCallRecord
	callIndex     map[string]int

	// Summary is set exactly once by reconciliation or fallback.
	Summary *model.TraceSummary

	logger zerolog.Logger
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator(logger zerolog.Logger) *Accumulator {
	return &Accumulator{
		callIndex: make(map[string]int),
		logger:    logger,
	}
}

// Apply folds one event into the state.
func (a *Accumulator) Apply(ev Event) {
	a.captureTraceID(ev.TraceID)

	switch ev.Kind {
	case EventTextDelta:
		a.text.WriteString(ev.Delta)

	case EventFunctionCall:
		if i, ok := a.callIndex[ev.Call.CallID]; ok {
			// Re-announced call: refresh in place, keeping first-seen order.
			existing := &a.functionCalls[i]
			existing.Name = ev.Call.Name
			existing.Arguments = ev.Call.Arguments
			return
		}
		a.callIndex[ev.Call.CallID] = len(a.functionCalls)
		a.functionCalls = append(a.functionCalls, ev.Call.Clone())

	case EventFunctionCallOutput:
		i, ok := a.callIndex[ev.Call.CallID]
		if !ok {
			a.logger.Debug().Str("call_id", ev.Call.CallID).Msg("function output for unknown call dropped")
			return
		}
		a.functionCalls[i].Output = ev.Call.Clone().Output

	case EventMessage:
		if ev.HasText {
			a.text.Reset()
			a.text.WriteString(ev.Text)
		}
	}
}

func (a *Accumulator) captureTraceID(id string) {
	if id == "" {
		return
	}
	if a.traceID == "" {
		a.traceID = id
		return
	}
	if id != a.traceID {
		a.logger.Debug().Str("trace_id", a.traceID).Str("ignored_trace_id", id).Msg("later trace id ignored")
	}
}

// FullText returns the accumulated assistant text.
func (a *Accumulator) FullText() string {
	return a.text.String()
}

// TraceID returns the first captured trace id, or "".
func (a *Accumulator) TraceID() string {
	return a.traceID
}

// FunctionCalls returns a deep copy of the recorded calls in first-seen order.
func (a *Accumulator) FunctionCalls() []model.FunctionCallRecord {
	return model.CloneFunctionCalls(a.functionCalls)
}

// CallCount returns the number of recorded calls.
func (a *Accumulator) CallCount() int {
	return len(a.functionCalls)
}
