package monitoring

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector_StreamLifecycle(t *testing.T) {
	mc := NewMetricsCollector()

	mc.StreamStarted()
	mc.StreamStarted()
	assert.Equal(t, int64(2), mc.Active())

	mc.StreamFinished(false)
	mc.StreamFinished(true)
	mc.RecordRejected()
	mc.RecordClientDisconnect()
	mc.RecordTraceOutcome(TraceReconciled)
	mc.RecordTraceOutcome(TraceSkipped)
	mc.RecordTraceOutcome("something-else")
	mc.RecordPersist(true)
	mc.RecordPersist(false)

	stats := mc.FullStats()
	assert.Equal(t, StreamStats{
		Started:           2,
		Completed:         2,
		Active:            0,
		UpstreamErrors:    1,
		UpstreamRejected:  1,
		ClientDisconnects: 1,
	}, stats.Streams)
	assert.Equal(t, TraceStats{Reconciled: 1, Skipped: 1, Failed: 1}, stats.Traces)
	assert.Equal(t, StorageStats{MessagesPersisted: 1, PersistFailures: 1}, stats.Storage)
	assert.Equal(t, "0m", stats.Uptime)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{5 * time.Minute, "5m"},
		{2*time.Hour + 3*time.Minute, "2h 3m"},
		{50*time.Hour + 1*time.Minute, "2d 2h 1m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in))
	}
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestTracker_WritesJSONL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "streams.jsonl")

	tr, err := NewTracker(TelemetryConfig{Enabled: true, LogPath: path})
	require.NoError(t, err)

	tr.RecordInit(&InitEvent{Event: "gateway_start", DeploymentMode: "local"})
	tr.RecordStream(&StreamEvent{RequestID: "r1", ChatID: "chat_1", TraceOutcome: TraceSkipped})
	tr.RecordStream(&StreamEvent{RequestID: "r2", ChatID: "chat_1", Persisted: true})
	require.NoError(t, tr.Close())

	streams := readLines(t, path)
	require.Len(t, streams, 2)
	assert.Equal(t, "r1", streams[0]["request_id"])
	assert.Equal(t, true, streams[1]["persisted"])

	inits := readLines(t, filepath.Join(dir, "logs", "init.jsonl"))
	require.Len(t, inits, 1)
	assert.Equal(t, "gateway_start", inits[0]["event"])
}

func TestTracker_DisabledIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streams.jsonl")
	tr, err := NewTracker(TelemetryConfig{Enabled: false, LogPath: path})
	require.NoError(t, err)

	tr.RecordStream(&StreamEvent{RequestID: "r1"})
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	var nilTracker *Tracker
	nilTracker.RecordStream(&StreamEvent{})
	assert.NoError(t, nilTracker.Close())
}
