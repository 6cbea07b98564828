package stream

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyAll(t *testing.T, payloads ...string) *Accumulator {
	t.Helper()
	acc := NewAccumulator(zerolog.Nop())
	for _, p := range payloads {
		ev, err := Decode([]byte(p))
		require.NoError(t, err, p)
		acc.Apply(ev)
	}
	return acc
}

func TestAccumulator_TextDeltas(t *testing.T) {
	acc := applyAll(t,
		`{"type":"response.output_text.delta","delta":"Hel"}`,
		`{"type":"response.output_text.delta","delta":"lo"}`,
	)
	assert.Equal(t, "Hello", acc.FullText())
}

func TestAccumulator_MessageReplacesDeltas(t *testing.T) {
	acc := applyAll(t,
		`{"type":"response.output_text.delta","delta":"draft"}`,
		`{"type":"response.output_item.done","item":{"type":"message","content":[{"type":"output_text","text":"Final answer"}]}}`,
	)
	assert.Equal(t, "Final answer", acc.FullText())
}

func TestAccumulator_MessageWithoutTextKeepsDeltas(t *testing.T) {
	acc := applyAll(t,
		`{"type":"response.output_text.delta","delta":"kept"}`,
		`{"type":"response.output_item.done","item":{"type":"message","content":[{"type":"refusal","refusal":"no"}]}}`,
	)
	assert.Equal(t, "kept", acc.FullText())
}

func TestAccumulator_FirstTraceIDWins(t *testing.T) {
	acc := applyAll(t,
		`{"type":"response.output_text.delta","delta":"a"}`,
		`{"id":"t1"}`,
		`{"id":"t2"}`,
		`{"databricks_output":{"trace":{"info":{"trace_id":"t3"}}}}`,
		`{"id":"t1"}`,
	)
	assert.Equal(t, "t1", acc.TraceID())
}

func TestAccumulator_NestedTraceIDWhenNoTopLevel(t *testing.T) {
	acc := applyAll(t,
		`{"type":"response.output_item.done","item":{"type":"message","content":[]},"databricks_output":{"trace":{"info":{"trace_id":"tr-nested"}}}}`,
		`{"id":"tr-later"}`,
	)
	assert.Equal(t, "tr-nested", acc.TraceID())
}

func TestAccumulator_CallOutputPairing(t *testing.T) {
	acc := applyAll(t,
		`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"c1","name":"search","arguments":"{\"q\":\"x\"}"}}`,
		`{"type":"response.output_item.done","item":{"type":"function_call_output","call_id":"c1","output":"{\"r\":[1,2]}"}}`,
	)

	calls := acc.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "c1", calls[0].CallID)
	assert.Equal(t, "search", calls[0].Name)
	assert.JSONEq(t, `{"q":"x"}`, string(calls[0].Arguments))
	assert.JSONEq(t, `{"r":[1,2]}`, string(calls[0].Output))
}

func TestAccumulator_OutputForUnknownCallDropped(t *testing.T) {
	acc := applyAll(t,
		`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"c1","name":"search","arguments":"{}"}}`,
	)
	before := acc.FunctionCalls()

	ev, err := Decode([]byte(`{"type":"response.output_item.done","item":{"type":"function_call_output","call_id":"zzz","output":"x"}}`))
	require.NoError(t, err)
	acc.Apply(ev)

	assert.Equal(t, before, acc.FunctionCalls())
	assert.Equal(t, 1, acc.CallCount())
}

func TestAccumulator_ArgumentParseFallback(t *testing.T) {
	acc := applyAll(t,
		`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"a","name":"f","arguments":"{\"x\":1}"}}`,
		`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"b","name":"g","arguments":"not json"}}`,
	)
	calls := acc.FunctionCalls()
	require.Len(t, calls, 2)

	var parsed map[string]int
	require.NoError(t, json.Unmarshal(calls[0].Arguments, &parsed))
	assert.Equal(t, map[string]int{"x": 1}, parsed)

	var raw string
	require.NoError(t, json.Unmarshal(calls[1].Arguments, &raw))
	assert.Equal(t, "not json", raw)
}

func TestAccumulator_DuplicateCallIDStaysUnique(t *testing.T) {
	acc := applyAll(t,
		`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"a","name":"first","arguments":"{}"}}`,
		`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"b","name":"other","arguments":"{}"}}`,
		`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"a","name":"renamed","arguments":"{\"k\":2}"}}`,
	)
	calls := acc.FunctionCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "renamed", calls[0].Name)
	assert.Equal(t, "other", calls[1].Name)
}

func TestAccumulator_SnapshotIsNotAliased(t *testing.T) {
	acc := applyAll(t,
		`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"c1","name":"search","arguments":"{}"}}`,
	)
	snap := acc.FunctionCalls()

	ev, err := Decode([]byte(`{"type":"response.output_item.done","item":{"type":"function_call_output","call_id":"c1","output":"late"}}`))
	require.NoError(t, err)
	acc.Apply(ev)

	assert.Nil(t, snap[0].Output)
	assert.NotNil(t, acc.FunctionCalls()[0].Output)
}

func TestAccumulator_ToolCallsOnlyLeavesTextEmpty(t *testing.T) {
	acc := applyAll(t,
		`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"c1","name":"search","arguments":"{}"}}`,
		`{"type":"response.output_item.done","item":{"type":"function_call_output","call_id":"c1","output":"{}"}}`,
	)
	assert.Empty(t, acc.FullText())
}
