// Package upstream opens streaming calls to agent serving endpoints.
//
// FILES:
//   - client.go: client, options, streaming POST with format detection
//   - types.go:  request/stream types, payload builders, errors
//
// DESIGN: Endpoints speak one of two request formats. The agent format is
// tried first; an endpoint that rejects it with a "missing messages" error is
// retried once in chat-completion format, and the result is cached per
// endpoint so later requests go straight to the right format.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/auth"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/telemetry"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/utils"
)

// maxErrorBodyRead bounds how much of a rejected response is read.
const maxErrorBodyRead = 64 * 1024

// =============================================================================
// Client
// =============================================================================

// Client calls agent serving endpoints.
type Client struct {
	host       string
	httpClient *http.Client
	logger     zerolog.Logger

	formatsMu sync.RWMutex
	formats   map[string]Format
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

// WithHeaderTimeout bounds the wait for response headers. The stream body is
// never time-limited: an agent run may take as long as it needs. Zero
// disables the bound.
func WithHeaderTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		var base *http.Transport
		if t, ok := client.httpClient.Transport.(*http.Transport); ok {
			base = t
		} else if client.httpClient.Transport == nil {
			base = http.DefaultTransport.(*http.Transport)
		} else {
			client.logger.Warn().Msg("custom round tripper, header timeout not applied")
			return
		}
		transport := base.Clone()
		transport.ResponseHeaderTimeout = timeout

		cp := *client.httpClient
		cp.Transport = transport
		cp.Timeout = 0
		client.httpClient = &cp
	}
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = l
	}
}

// NewClient creates a client for the workspace at host.
func NewClient(host string, opts ...ClientOption) *Client {
	c := &Client{
		host:       config.NormalizeHost(host),
		httpClient: &http.Client{},
		logger:     log.Logger,
		formats:    make(map[string]Format),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EndpointURL resolves the invocation URL for an agent.
func (c *Client) EndpointURL(agent config.AgentConfig) (string, error) {
	if agent.EndpointURL != "" {
		return agent.EndpointURL, nil
	}
	if agent.EndpointName == "" || c.host == "" {
		return "", ErrNoEndpoint
	}
	return fmt.Sprintf("%s/serving-endpoints/%s/invocations", c.host, agent.EndpointName), nil
}

// CachedFormat returns the detected format for an endpoint, if known.
func (c *Client) CachedFormat(endpoint string) (Format, bool) {
	c.formatsMu.RLock()
	defer c.formatsMu.RUnlock()
	f, ok := c.formats[endpoint]
	return f, ok
}

func (c *Client) cacheFormat(endpoint string, f Format) {
	c.formatsMu.Lock()
	prev, had := c.formats[endpoint]
	c.formats[endpoint] = f
	c.formatsMu.Unlock()
	if !had || prev != f {
		c.logger.Info().Str("endpoint", endpoint).Str("format", string(f)).Msg("cached endpoint format")
	}
}

// =============================================================================
// Streaming
// =============================================================================

// Open issues the streaming POST. On success the caller owns Stream.Body.
// A non-2xx response is returned as *StatusError without a stream.
func (c *Client) Open(ctx context.Context, req Request) (*Stream, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "upstream.open")
	defer span.End()
	span.SetAttributes(
		attribute.String("endpoint", req.EndpointName),
		attribute.Int("messages", len(req.Messages)),
	)

	cacheKey := req.cacheKey()
	format := FormatAgent
	if f, ok := c.CachedFormat(cacheKey); ok {
		format = f
	}

	stream, err := c.open(ctx, req, format)
	if err != nil && format == FormatAgent {
		if se, ok := AsStatusError(err); ok && se.NeedsChatFormat() {
			c.logger.Info().Str("endpoint", cacheKey).Msg("endpoint requires chat completion format, retrying")
			format = FormatChatCompletion
			stream, err = c.open(ctx, req, format)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c.cacheFormat(cacheKey, format)
	span.SetAttributes(attribute.String("format", string(format)), attribute.Int("status", stream.StatusCode))
	return stream, nil
}

func (c *Client) open(ctx context.Context, req Request, format Format) (*Stream, error) {
	payload, err := json.Marshal(req.payload(format))
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.EndpointURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	auth.SetBearer(httpReq.Header, req.Token)

	c.logger.Debug().
		Str("endpoint_url", req.EndpointURL).
		Str("format", string(format)).
		Str("token", utils.MaskKey(req.Token)).
		Msg("opening upstream stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyRead))
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("endpoint_url", req.EndpointURL).
			Str("body", string(body[:min(config.MaxErrorBodyLen, len(body))])).
			Msg("upstream rejected request")
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return &Stream{
		Body:       resp.Body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Format:     format,
	}, nil
}
