// Package tracestore provides a client for the MLflow trace store and the
// reconciliation that folds trace spans into a TraceSummary.
//
// FILES:
//   - client.go:    REST client and HTTP helpers
//   - types.go:     trace, span and assessment types
//   - spans.go:     tolerant trace parsing and span statistics
//   - reconcile.go: settle delay, lookup, merge and fallback
package tracestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/auth"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/telemetry"
)

// ErrTraceNotFound means the trace does not exist (yet) in the experiment.
var ErrTraceNotFound = errors.New("trace not found")

// ErrNoHost means no workspace host is configured.
var ErrNoHost = errors.New("trace store host not configured")

// ErrResponseTooLarge means a trace store response exceeded the read limit.
var ErrResponseTooLarge = errors.New("trace store response too large")

// maxResponseBody bounds how much of one trace store response is read.
const maxResponseBody = 32 << 20

// =============================================================================
// Client
// =============================================================================

// Client is the MLflow trace store client.
type Client struct {
	host       string
	httpClient *http.Client
	logger     zerolog.Logger
	maxBody    int64
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. The client is copied, so later
// options never modify the caller's value.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		cp := *c
		client.httpClient = &cp
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		cp := *client.httpClient
		cp.Timeout = timeout
		client.httpClient = &cp
	}
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = l
	}
}

// NewClient creates a trace store client for the workspace at host.
func NewClient(host string, opts ...ClientOption) *Client {
	c := &Client{
		host: config.NormalizeHost(host),
		httpClient: &http.Client{
			Timeout: config.DefaultTraceLookupTimeout,
		},
		logger:  log.Logger,
		maxBody: maxResponseBody,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Host returns the normalized workspace host.
func (c *Client) Host() string {
	return c.host
}

// =============================================================================
// API Methods
// =============================================================================

// GetTrace fetches a trace by id. When experimentID is set, a trace that
// belongs to another experiment is reported as ErrTraceNotFound.
func (c *Client) GetTrace(ctx context.Context, token, traceID, experimentID string) (*Trace, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "tracestore.get_trace")
	defer span.End()
	span.SetAttributes(attribute.String("trace_id", traceID), attribute.String("experiment_id", experimentID))

	q := url.Values{}
	if experimentID != "" {
		q.Set("experiment_id", experimentID)
	}
	body, err := c.get(ctx, token, "/api/3.0/mlflow/traces/"+url.PathEscape(traceID), q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	trace, err := ParseTrace(body)
	if err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if experimentID != "" && trace.Info.ExperimentID != "" && trace.Info.ExperimentID != experimentID {
		return nil, ErrTraceNotFound
	}
	if trace.Info.TraceID == "" {
		trace.Info.TraceID = traceID
	}
	span.SetAttributes(attribute.Int("spans", len(trace.Spans)))
	return trace, nil
}

// LogAssessment records user feedback on a trace.
func (c *Client) LogAssessment(ctx context.Context, token string, a Assessment) error {
	if a.TraceID == "" {
		return errors.New("trace id is required")
	}
	if a.Source.SourceType == "" {
		a.Source = AssessmentSource{SourceType: SourceLLMJudge, SourceID: "user_feedback"}
	}
	payload := map[string]any{
		"assessment": map[string]any{
			"trace_id":        a.TraceID,
			"assessment_name": a.Name,
			"source":          a.Source,
			"feedback":        map[string]any{"value": a.Value},
		},
	}
	var result json.RawMessage
	return c.post(ctx, token, "/api/3.0/mlflow/traces/"+url.PathEscape(a.TraceID)+"/assessments", payload, &result)
}

// ExperimentLink returns the UI link for an experiment's traces.
func (c *Client) ExperimentLink(experimentID string) string {
	return fmt.Sprintf("%s/ml/experiments/%s?compareRunsMode=TRACES", c.host, url.PathEscape(experimentID))
}

// =============================================================================
// HTTP helpers
// =============================================================================

func (c *Client) get(ctx context.Context, token, path string, query url.Values) ([]byte, error) {
	if c.host == "" {
		return nil, ErrNoHost
	}
	u := c.host + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	auth.SetBearer(req.Header, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := c.readBody(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTraceNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body[:min(config.MaxErrorBodyLen, len(body))]))
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, token, path string, payload, result any) error {
	if c.host == "" {
		return ErrNoHost
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	auth.SetBearer(req.Header, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := c.readBody(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody[:min(config.MaxErrorBodyLen, len(respBody))]))
	}
	if len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// readBody reads at most maxBody bytes; a longer body is an error rather
// than a silently truncated document.
func (c *Client) readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, c.maxBody)
	}
	return body, nil
}
