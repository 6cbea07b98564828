// Package stream decodes agent stream events and folds them into the
// per-request accumulator.
//
// DESIGN: Decode is the only place that looks at loosely-typed JSON. It maps
// every payload onto a closed set of event kinds, rejecting to EventUnknown
// rather than failing, so the pipeline can forward anything it receives and
// the accumulator only ever sees typed values.
package stream

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Wire event and item types.
const (
	TypeTextDelta = "response.output_text.delta"
	TypeItemDone  = "response.output_item.done"
	TypeSummary   = "trace.summary"
	TypeError     = "error"

	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
	ItemMessage            = "message"

	contentOutputText = "output_text"
)

// EventKind is the decoded variant of an event.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventTextDelta
	EventFunctionCall
	EventFunctionCallOutput
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text_delta"
	case EventFunctionCall:
		return "function_call"
	case EventFunctionCallOutput:
		return "function_call_output"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one decoded stream event. Raw is the payload exactly as received
// and is what gets forwarded to the client.
type Event struct {
	Kind EventKind
	Type string
	Raw  []byte

	// TraceID is the trace id candidate carried by this event, if any.
	TraceID string

	// Delta is set for EventTextDelta.
	Delta string

	// Call is set for EventFunctionCall (CallID, Name, Arguments) and for
	// EventFunctionCallOutput (CallID, Output).
	Call model.FunctionCallRecord

	// Text is set for EventMessage when HasText is true.
	Text    string
	HasText bool
}

// ErrMalformedEvent is returned for payloads that are not JSON objects.
var ErrMalformedEvent = errors.New("malformed event")

// Paths checked for a nested trace id, in order.
var nestedTraceIDPaths = []string{
	"databricks_output.trace.info.trace_id",
	"databricks_output.trace.info.request_id",
	"trace.info.trace_id",
	"trace.info.request_id",
	"trace_info.trace_id",
}

// =============================================================================
// DECODE
// =============================================================================

// Decode parses a payload into an Event. Only payloads that are not valid
// JSON objects produce an error; unknown shapes decode to EventUnknown.
func Decode(payload []byte) (Event, error) {
	if !gjson.ValidBytes(payload) {
		return Event{}, ErrMalformedEvent
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return Event{}, ErrMalformedEvent
	}

	ev := Event{
		Type:    root.Get("type").String(),
		Raw:     payload,
		TraceID: traceIDOf(root),
	}

	switch ev.Type {
	case TypeTextDelta:
		if d := root.Get("delta"); d.Type == gjson.String {
			ev.Kind = EventTextDelta
			ev.Delta = d.String()
		}
	case TypeItemDone:
		decodeItem(root.Get("item"), &ev)
	}
	return ev, nil
}

func traceIDOf(root gjson.Result) string {
	if id := root.Get("id"); id.Type == gjson.String && id.String() != "" {
		return id.String()
	}
	for _, p := range nestedTraceIDPaths {
		if id := root.Get(p); id.Type == gjson.String && id.String() != "" {
			return id.String()
		}
	}
	return ""
}

func decodeItem(item gjson.Result, ev *Event) {
	if !item.IsObject() {
		return
	}
	switch item.Get("type").String() {
	case ItemFunctionCall:
		callID := item.Get("call_id").String()
		if callID == "" {
			return
		}
		ev.Kind = EventFunctionCall
		ev.Call = model.FunctionCallRecord{
			CallID:    callID,
			Name:      item.Get("name").String(),
			Arguments: rawValue(item.Get("arguments")),
		}
	case ItemFunctionCallOutput:
		callID := item.Get("call_id").String()
		if callID == "" {
			return
		}
		ev.Kind = EventFunctionCallOutput
		ev.Call = model.FunctionCallRecord{
			CallID: callID,
			Output: rawValue(item.Get("output")),
		}
	case ItemMessage:
		ev.Kind = EventMessage
		ev.Text, ev.HasText = outputText(item.Get("content"))
	}
}

// rawValue applies the parse-or-raw-string rule to a JSON field.
func rawValue(v gjson.Result) json.RawMessage {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	return model.StructuredValue(json.RawMessage(v.Raw))
}

func outputText(content gjson.Result) (string, bool) {
	if content.Type == gjson.String {
		return content.String(), true
	}
	if !content.IsArray() {
		return "", false
	}
	var sb strings.Builder
	found := false
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() == contentOutputText {
			sb.WriteString(part.Get("text").String())
			found = true
		}
		return true
	})
	return sb.String(), found
}
