// Package monitoring - metrics.go provides stream counters.
//
// DESIGN: Lightweight in-memory counters served by /stats, mirrored to
// OpenTelemetry instruments so an OTLP collector sees the same numbers:
//   - streams:  started, completed, active, upstream errors, rejections
//   - clients:  disconnects observed while forwarding
//   - traces:   reconciliation outcome per completed stream
//   - storage:  assistant messages persisted or failed
package monitoring

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/telemetry"
)

// Trace outcomes as recorded by RecordTraceOutcome.
const (
	TraceReconciled = "reconciled"
	TraceSkipped    = "skipped"
	TraceFailed     = "failed"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	// Stream counters
	streamsStarted    atomic.Int64
	streamsCompleted  atomic.Int64
	streamsActive     atomic.Int64
	upstreamErrors    atomic.Int64 // read failed after streaming began
	upstreamRejected  atomic.Int64 // endpoint refused the request
	clientDisconnects atomic.Int64

	// Trace reconciliation counters
	traceReconciled atomic.Int64
	traceSkipped    atomic.Int64
	traceFailed     atomic.Int64

	// Storage counters
	messagesPersisted atomic.Int64
	persistFailures   atomic.Int64

	otelStreams metric.Int64Counter
	otelActive  metric.Int64UpDownCounter
	otelTraces  metric.Int64Counter
}

// NewMetricsCollector creates a new metrics collector. Instruments are
// registered on the global meter, which stays no-op until telemetry.Init.
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{startedAt: time.Now()}

	meter := telemetry.Meter()
	mc.otelStreams, _ = meter.Int64Counter("chat.streams",
		metric.WithDescription("Chat streams by terminal state"))
	mc.otelActive, _ = meter.Int64UpDownCounter("chat.streams.active",
		metric.WithDescription("Chat streams currently running"))
	mc.otelTraces, _ = meter.Int64Counter("chat.trace_reconciliations",
		metric.WithDescription("Trace reconciliation outcomes"))
	return mc
}

// StreamStarted records a stream entering the background pipeline.
func (mc *MetricsCollector) StreamStarted() {
	mc.streamsStarted.Add(1)
	mc.streamsActive.Add(1)
	if mc.otelActive != nil {
		mc.otelActive.Add(context.Background(), 1)
	}
}

// StreamFinished records a stream leaving the pipeline. upstreamErr is true
// when the upstream read failed part way.
func (mc *MetricsCollector) StreamFinished(upstreamErr bool) {
	mc.streamsCompleted.Add(1)
	mc.streamsActive.Add(-1)
	state := "completed"
	if upstreamErr {
		mc.upstreamErrors.Add(1)
		state = "upstream_error"
	}
	if mc.otelActive != nil {
		mc.otelActive.Add(context.Background(), -1)
	}
	if mc.otelStreams != nil {
		mc.otelStreams.Add(context.Background(), 1, metric.WithAttributes(attribute.String("state", state)))
	}
}

// RecordRejected records an upstream rejection before streaming began.
func (mc *MetricsCollector) RecordRejected() {
	mc.upstreamRejected.Add(1)
	if mc.otelStreams != nil {
		mc.otelStreams.Add(context.Background(), 1, metric.WithAttributes(attribute.String("state", "rejected")))
	}
}

// RecordClientDisconnect records a client that went away mid-stream.
func (mc *MetricsCollector) RecordClientDisconnect() { mc.clientDisconnects.Add(1) }

// RecordTraceOutcome records how a stream's summary was produced.
func (mc *MetricsCollector) RecordTraceOutcome(outcome string) {
	switch outcome {
	case TraceReconciled:
		mc.traceReconciled.Add(1)
	case TraceSkipped:
		mc.traceSkipped.Add(1)
	default:
		mc.traceFailed.Add(1)
	}
	if mc.otelTraces != nil {
		mc.otelTraces.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// RecordPersist records an assistant message write.
func (mc *MetricsCollector) RecordPersist(ok bool) {
	if ok {
		mc.messagesPersisted.Add(1)
		return
	}
	mc.persistFailures.Add(1)
}

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// Active returns the number of running streams.
func (mc *MetricsCollector) Active() int64 { return mc.streamsActive.Load() }

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Streams: StreamStats{
			Started:           mc.streamsStarted.Load(),
			Completed:         mc.streamsCompleted.Load(),
			Active:            mc.streamsActive.Load(),
			UpstreamErrors:    mc.upstreamErrors.Load(),
			UpstreamRejected:  mc.upstreamRejected.Load(),
			ClientDisconnects: mc.clientDisconnects.Load(),
		},
		Traces: TraceStats{
			Reconciled: mc.traceReconciled.Load(),
			Skipped:    mc.traceSkipped.Load(),
			Failed:     mc.traceFailed.Load(),
		},
		Storage: StorageStats{
			MessagesPersisted: mc.messagesPersisted.Load(),
			PersistFailures:   mc.persistFailures.Load(),
		},
	}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string       `json:"uptime"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartedAt     string       `json:"started_at"`
	Streams       StreamStats  `json:"streams"`
	Traces        TraceStats   `json:"traces"`
	Storage       StorageStats `json:"storage"`
}

// StreamStats holds stream lifecycle counts.
type StreamStats struct {
	Started           int64 `json:"started"`
	Completed         int64 `json:"completed"`
	Active            int64 `json:"active"`
	UpstreamErrors    int64 `json:"upstream_errors"`
	UpstreamRejected  int64 `json:"upstream_rejected"`
	ClientDisconnects int64 `json:"client_disconnects"`
}

// TraceStats holds reconciliation outcome counts.
type TraceStats struct {
	Reconciled int64 `json:"reconciled"`
	Skipped    int64 `json:"skipped"`
	Failed     int64 `json:"failed"`
}

// StorageStats holds persistence counts.
type StorageStats struct {
	MessagesPersisted int64 `json:"messages_persisted"`
	PersistFailures   int64 `json:"persist_failures"`
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
