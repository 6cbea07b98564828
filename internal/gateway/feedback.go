// Package gateway - feedback.go forwards user feedback to the trace store.
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/tracestore"
)

const maxAssessmentBody = 64 * 1024

// handleLogAssessment records a thumbs up/down style assessment on a trace.
func (g *Gateway) handleLogAssessment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAssessmentBody)

	var req AssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, fmt.Errorf("%w: %v", errInvalidBody, err))
		return
	}
	req.TraceID = strings.TrimSpace(req.TraceID)
	if req.TraceID == "" {
		g.writeError(w, errMissingTraceID)
		return
	}
	if strings.TrimSpace(req.AssessmentName) == "" {
		g.writeError(w, errMissingAssessment)
		return
	}

	identity, err := g.resolver.Resolve(r)
	if err != nil {
		g.writeError(w, err)
		return
	}

	logger := g.logger.With().
		Str("trace_id", req.TraceID).
		Str("assessment", req.AssessmentName).
		Str("user_id", identity.UserID).
		Logger()

	if strings.HasPrefix(req.TraceID, tracestore.PlaceholderPrefix) {
		// Local placeholders never reached the trace store.
		logger.Info().Msg("feedback on local trace id not forwarded")
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
		return
	}

	err = g.traces.LogAssessment(r.Context(), identity.Token, tracestore.Assessment{
		TraceID: req.TraceID,
		Name:    req.AssessmentName,
		Value:   req.AssessmentValue,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to log feedback")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to log feedback"})
		return
	}

	logger.Info().Interface("value", req.AssessmentValue).Msg("feedback logged")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
