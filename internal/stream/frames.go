package stream

import (
	"github.com/tidwall/sjson"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/utils"
)

// SummaryPayload builds the trace.summary event.
func SummaryPayload(summary *model.TraceSummary) ([]byte, error) {
	data, err := utils.MarshalNoEscape(summary)
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes([]byte(`{"type":"`+TypeSummary+`"}`), "traceSummary", data)
}

// ErrorPayload builds the error event emitted when the upstream read fails.
func ErrorPayload(msg string) []byte {
	out, err := sjson.SetBytes([]byte(`{"type":"`+TypeError+`"}`), "error", msg)
	if err != nil {
		return []byte(`{"type":"error","error":"stream error"}`)
	}
	return out
}
