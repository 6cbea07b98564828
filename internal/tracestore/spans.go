package tracestore

import (
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
)

// Response layouts differ between store versions; each list is tried in order.
var (
	traceInfoPaths = []string{"trace.trace_info", "trace_info", "trace.info", "info"}
	spansPaths     = []string{"trace.data.spans", "trace.trace_data.spans", "data.spans", "trace_data.spans", "spans"}
)

const (
	attrSpanType   = "mlflow.spanType"
	attrTokenUsage = "mlflow.chat.tokenUsage"
)

// ParseTrace parses a trace store response.
func ParseTrace(body []byte) (*Trace, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid JSON")
	}
	root := gjson.ParseBytes(body)

	info := firstOf(root, traceInfoPaths)
	spans := firstOf(root, spansPaths)
	if !info.Exists() && !spans.Exists() {
		return nil, errors.New("no trace in response")
	}

	t := &Trace{Info: parseInfo(info)}
	spans.ForEach(func(_, s gjson.Result) bool {
		t.Spans = append(t.Spans, parseSpan(s))
		return true
	})
	return t, nil
}

func firstOf(root gjson.Result, paths []string) gjson.Result {
	for _, p := range paths {
		if r := root.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func parseInfo(info gjson.Result) TraceInfo {
	ti := TraceInfo{
		TraceID: firstString(info, "trace_id", "request_id"),
		ExperimentID: firstString(info,
			"trace_location.mlflow_experiment.experiment_id",
			"experiment_id"),
		State: strings.ToUpper(firstString(info, "state", "status")),
	}
	if d := info.Get("execution_duration"); d.Exists() {
		if dur, err := time.ParseDuration(d.String()); err == nil {
			ti.DurationMs = float64(dur) / float64(time.Millisecond)
			ti.HasDuration = true
		}
	} else if ms := info.Get("execution_time_ms"); ms.Exists() {
		ti.DurationMs = ms.Float()
		ti.HasDuration = true
	}
	return ti
}

func parseSpan(s gjson.Result) Span {
	attrs := s.Get("attributes")
	sp := Span{
		Name:      s.Get("name").String(),
		SpanID:    firstString(s, "span_id", "context.span_id"),
		StartNano: s.Get("start_time_unix_nano").Int(),
		EndNano:   s.Get("end_time_unix_nano").Int(),
		Status:    spanStatus(s.Get("status.code").String()),
	}

	sp.Kind = strings.ToUpper(s.Get("span_type").String())
	if sp.Kind == "" {
		sp.Kind = strings.ToUpper(attrValue(attrs, attrSpanType).String())
	}

	if usage := attrValue(attrs, attrTokenUsage); usage.IsObject() {
		sp.Usage.InputTokens = int(usage.Get("input_tokens").Int())
		sp.Usage.OutputTokens = int(usage.Get("output_tokens").Int())
		sp.Usage.TotalTokens = int(usage.Get("total_tokens").Int())
		if !usage.Get("total_tokens").Exists() {
			sp.Usage.TotalTokens = sp.Usage.InputTokens + sp.Usage.OutputTokens
		}
	}
	return sp
}

// attrValue reads an attribute whose value may itself be a JSON-encoded string.
func attrValue(attrs gjson.Result, key string) gjson.Result {
	v := attrs.Get(gjson.Escape(key))
	if v.Type == gjson.String && gjson.Valid(v.String()) {
		return gjson.Parse(v.String())
	}
	return v
}

func spanStatus(code string) string {
	switch strings.ToUpper(code) {
	case "STATUS_CODE_OK", "OK":
		return StatusOK
	case "STATUS_CODE_ERROR", "ERROR":
		return StatusError
	default:
		return StatusUnset
	}
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// =============================================================================
// Summary
// =============================================================================

// BuildSummary derives span statistics. FunctionCalls is left empty; the
// caller merges the locally accumulated calls.
func BuildSummary(t *Trace) *model.TraceSummary {
	s := &model.TraceSummary{
		TraceID:        t.Info.TraceID,
		Status:         traceStatus(t.Info.State),
		ToolsCalled:    []model.SpanCall{},
		RetrievalCalls: []model.SpanCall{},
		LLMCalls:       []model.SpanCall{},
		FunctionCalls:  []model.FunctionCallRecord{},
		SpansCount:     len(t.Spans),
	}

	var minStart, maxEnd int64
	for _, sp := range t.Spans {
		if sp.StartNano > 0 && (minStart == 0 || sp.StartNano < minStart) {
			minStart = sp.StartNano
		}
		if sp.EndNano > maxEnd {
			maxEnd = sp.EndNano
		}

		call := model.SpanCall{
			Name:       sp.Name,
			SpanID:     sp.SpanID,
			DurationMs: sp.DurationMs(),
			Status:     sp.Status,
		}
		switch sp.Kind {
		case KindTool:
			s.ToolsCalled = append(s.ToolsCalled, call)
		case KindRetriever:
			s.RetrievalCalls = append(s.RetrievalCalls, call)
		case KindLLM, KindChatModel:
			call.InputTokens = sp.Usage.InputTokens
			call.OutputTokens = sp.Usage.OutputTokens
			call.TotalTokens = sp.Usage.TotalTokens
			s.TotalTokens += sp.Usage.TotalTokens
			s.LLMCalls = append(s.LLMCalls, call)
		}
	}

	switch {
	case t.Info.HasDuration:
		s.DurationMs = t.Info.DurationMs
	case maxEnd > minStart && minStart > 0:
		s.DurationMs = float64(maxEnd-minStart) / 1e6
	}
	return s
}

func traceStatus(state string) string {
	switch state {
	case "", "OK", "STATE_UNSPECIFIED", "TRACE_STATUS_UNSPECIFIED":
		return StatusOK
	case "ERROR":
		return StatusError
	default:
		return state
	}
}
