package tracestore

// Span kinds that contribute to a summary.
const (
	KindTool      = "TOOL"
	KindRetriever = "RETRIEVER"
	KindLLM       = "LLM"
	KindChatModel = "CHAT_MODEL"
)

// Span statuses.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
	StatusUnset = "UNSET"
)

// Trace is a trace fetched from the store.
type Trace struct {
	Info  TraceInfo
	Spans []Span
}

// TraceInfo is the trace-level metadata.
type TraceInfo struct {
	TraceID      string
	ExperimentID string
	State        string

	// DurationMs is the reported execution duration; HasDuration is false
	// when the store did not report one.
	DurationMs  float64
	HasDuration bool
}

// Span is one parsed span.
type Span struct {
	Name      string
	SpanID    string
	Kind      string
	Status    string
	StartNano int64
	EndNano   int64
	Usage     TokenUsage
}

// DurationMs converts the span extent from nanoseconds to milliseconds.
func (s Span) DurationMs() float64 {
	if s.EndNano <= s.StartNano {
		return 0
	}
	return float64(s.EndNano-s.StartNano) / 1e6
}

// TokenUsage is the token accounting of an LLM span.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// =============================================================================
// Assessments
// =============================================================================

// Assessment source types.
const (
	SourceHuman    = "HUMAN"
	SourceLLMJudge = "LLM_JUDGE"
)

// AssessmentSource identifies who produced an assessment.
type AssessmentSource struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
}

// Assessment is feedback attached to a trace.
type Assessment struct {
	TraceID string
	Name    string
	Value   any
	Source  AssessmentSource
}
