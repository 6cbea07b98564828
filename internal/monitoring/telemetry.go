// Package monitoring - telemetry.go records events to JSONL files.
//
// DESIGN: Tracker writes structured events as JSONL (one JSON object per line):
//   - StreamEvent: every finished chat stream, to LogPath
//   - InitEvent:   process start, to init.jsonl next to LogPath
//
// Events are appended immediately so the file can be tailed.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Tracker handles telemetry event recording to file and stdout.
type Tracker struct {
	config        TelemetryConfig
	streamLogPath string
	initLogPath   string
	streamCount   int
	mu            sync.Mutex
}

// NewTracker creates a new telemetry tracker.
func NewTracker(cfg TelemetryConfig) (*Tracker, error) {
	t := &Tracker{config: cfg}

	if !cfg.Enabled || cfg.LogPath == "" {
		return t, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0750); err != nil {
		return nil, err
	}
	t.streamLogPath = cfg.LogPath
	t.initLogPath = filepath.Join(filepath.Dir(cfg.LogPath), "init.jsonl")
	for _, p := range []string{t.streamLogPath, t.initLogPath} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			if f, err := os.Create(p); err == nil {
				_ = f.Close()
			}
		}
	}
	return t, nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(data)
	return err
}

// RecordStream records a finished stream.
func (t *Tracker) RecordStream(event *StreamEvent) {
	if t == nil || !t.config.Enabled || event == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.LogToStdout {
		reqID := event.RequestID
		if len(reqID) > 8 {
			reqID = reqID[:8]
		}
		log.Info().
			Str("request_id", reqID).
			Str("chat_id", event.ChatID).
			Str("trace_outcome", event.TraceOutcome).
			Bool("persisted", event.Persisted).
			Bool("success", event.Success).
			Msg("telemetry")
	}

	if t.streamLogPath != "" {
		if err := appendJSONL(t.streamLogPath, event); err != nil {
			log.Error().Err(err).Str("path", t.streamLogPath).Msg("telemetry: failed to write stream event")
		} else {
			t.streamCount++
		}
	}
}

// RecordInit records a gateway start event to a dedicated init JSONL.
func (t *Tracker) RecordInit(event *InitEvent) {
	if t == nil || !t.config.Enabled || t.initLogPath == "" || event == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := appendJSONL(t.initLogPath, event); err != nil {
		log.Error().Err(err).Str("path", t.initLogPath).Msg("telemetry: failed to write init event")
	}
}

// Close logs the session event count.
func (t *Tracker) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.streamLogPath != "" && t.streamCount > 0 {
		log.Info().
			Str("path", t.streamLogPath).
			Int("events", t.streamCount).
			Msg("telemetry: session complete")
	}
	return nil
}
