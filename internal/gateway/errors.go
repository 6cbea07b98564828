// Package gateway - errors.go maps pre-stream failures to HTTP responses.
//
// Only failures before the first byte of a stream become HTTP errors. Once a
// stream has started every failure is contained in the pipeline.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/auth"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/storage"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/upstream"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/utils"
)

var (
	errMissingChatID         = errors.New("chatId is required")
	errInvalidBody           = errors.New("invalid request body")
	errNoAgent               = errors.New("no agent configured for this chat")
	errUnsupportedDeployment = errors.New("unsupported deployment type")
	errMissingTraceID        = errors.New("trace_id is required")
	errMissingAssessment     = errors.New("assessment_name is required")
	errNoExperiment          = errors.New("no tracing experiment configured")
)

// errorResponse is the JSON body of every non-streaming error.
type errorResponse struct {
	Error          string `json:"error"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
	UpstreamBody   string `json:"upstream_body,omitempty"`
}

// httpError maps err to a status code and response body.
func httpError(err error) (int, errorResponse) {
	resp := errorResponse{Error: err.Error()}

	if se, ok := upstream.AsStatusError(err); ok {
		resp.Error = "agent endpoint rejected the request"
		resp.UpstreamStatus = se.StatusCode
		resp.UpstreamBody = utils.Preview(se.Body, config.MaxErrorBodyLen)
		return http.StatusInternalServerError, resp
	}

	switch {
	case errors.Is(err, errMissingChatID),
		errors.Is(err, errInvalidBody),
		errors.Is(err, errUnsupportedDeployment),
		errors.Is(err, errMissingTraceID),
		errors.Is(err, errMissingAssessment):
		return http.StatusBadRequest, resp
	case errors.Is(err, auth.ErrMissingForwardedToken),
		errors.Is(err, auth.ErrMissingForwardedIdentity):
		return http.StatusUnauthorized, resp
	case errors.Is(err, storage.ErrChatNotFound),
		errors.Is(err, errNoAgent),
		errors.Is(err, errNoExperiment):
		return http.StatusNotFound, resp
	case errors.Is(err, auth.ErrMissingLocalToken):
		return http.StatusInternalServerError, resp
	default:
		resp.Error = "internal server error"
		return http.StatusInternalServerError, resp
	}
}

// writeError writes the mapped JSON error response.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	status, resp := httpError(err)
	writeJSON(w, status, resp)
}

// writeJSON writes v with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
