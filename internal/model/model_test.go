package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"json object string", `"{\"x\":1}"`, `{"x":1}`},
		{"json array string", `"[1,2]"`, `[1,2]`},
		{"non json string", `"not json"`, `"not json"`},
		{"already structured", `{"q":"x"}`, `{"q":"x"}`},
		{"number", `42`, `42`},
		{"empty string", `""`, `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StructuredValue(json.RawMessage(tt.input))
			assert.JSONEq(t, tt.expected, string(got))
		})
	}

	assert.Nil(t, StructuredValue(nil))
}

func TestCloneFunctionCalls_IsIndependent(t *testing.T) {
	live := []FunctionCallRecord{{
		CallID:    "c1",
		Name:      "search",
		Arguments: json.RawMessage(`{"q":"x"}`),
	}}

	snapshot := CloneFunctionCalls(live)
	live[0].Output = json.RawMessage(`{"r":[1,2]}`)
	live[0].Arguments[2] = 'Q'
	live[0].Name = "changed"

	require.Len(t, snapshot, 1)
	assert.Equal(t, "search", snapshot[0].Name)
	assert.JSONEq(t, `{"q":"x"}`, string(snapshot[0].Arguments))
	assert.Nil(t, snapshot[0].Output)
}

func TestCloneFunctionCalls_NilIsEmptyArray(t *testing.T) {
	out := CloneFunctionCalls(nil)
	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestTraceSummaryClone(t *testing.T) {
	var nilSummary *TraceSummary
	assert.Nil(t, nilSummary.Clone())

	orig := &TraceSummary{
		TraceID:     "tr-1",
		Status:      "OK",
		ToolsCalled: []SpanCall{{Name: "lookup", DurationMs: 12}},
		FunctionCalls: []FunctionCallRecord{
			{CallID: "c1", Name: "lookup", Arguments: json.RawMessage(`{}`)},
		},
	}
	cp := orig.Clone()
	orig.ToolsCalled[0].Name = "mutated"
	orig.FunctionCalls[0].Name = "mutated"

	assert.Equal(t, "lookup", cp.ToolsCalled[0].Name)
	assert.Equal(t, "lookup", cp.FunctionCalls[0].Name)
	assert.NotNil(t, cp.RetrievalCalls)
	assert.NotNil(t, cp.LLMCalls)
}

func TestTitleFromContent(t *testing.T) {
	assert.Equal(t, "hello", TitleFromContent("hello"))
	long := strings.Repeat("a", 60)
	assert.Equal(t, strings.Repeat("a", 50)+"...", TitleFromContent(long))
}
