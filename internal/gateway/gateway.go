// Package gateway serves the agent chat API.
//
// FILES:
//   - gateway.go:  Gateway, router, lifecycle
//   - handler.go:  POST /api/chat (SSE) and the shared pre-stream checks
//   - ws.go:       GET /api/chat/ws (WebSocket delivery of the same frames)
//   - pipeline.go: background consume, reconcile, deliver, persist
//   - outbound.go: transport-specific frame writers
//   - chats.go:    POST/GET /api/chats
//   - health.go, feedback.go, stats.go: auxiliary routes
//
// DESIGN: A chat stream is split in two halves. The handler half validates
// the request, opens the upstream stream and relays frames to the client.
// The pipeline half owns the upstream body and runs on the gateway's
// lifetime context, so it finishes and persists even when the client leaves.
// Shutdown waits for in-flight pipelines.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/auth"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/monitoring"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/storage"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/tracestore"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/upstream"
)

// Gateway is the chat API server.
type Gateway struct {
	cfg        *config.Config
	agents     *config.AgentRegistry
	resolver   auth.Resolver
	upstream   *upstream.Client
	traces     *tracestore.Client
	reconciler *tracestore.Reconciler
	store      storage.Store
	metrics    *monitoring.MetricsCollector
	tracker    *monitoring.Tracker
	logger     zerolog.Logger
	version    string

	server   *http.Server
	bgCtx    context.Context
	bgCancel context.CancelFunc
	inflight sync.WaitGroup
}

// Options carries collaborators. Store and Agents are required; the HTTP
// clients are built from the config when nil.
type Options struct {
	Agents   *config.AgentRegistry
	Store    storage.Store
	Resolver auth.Resolver
	Upstream *upstream.Client
	Traces   *tracestore.Client
	Tracker  *monitoring.Tracker
	Logger   *zerolog.Logger
	Version  string
}

// New creates a gateway.
func New(cfg *config.Config, opts Options) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("chat store is required")
	}
	if opts.Agents == nil {
		opts.Agents = config.NewAgentRegistry()
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "gateway").Logger()

	if opts.Resolver == nil {
		opts.Resolver = auth.NewResolver(auth.ParseMode(cfg.Mode()), cfg.DatabricksToken, cfg.LocalUserID)
	}
	if opts.Upstream == nil {
		opts.Upstream = upstream.NewClient(cfg.DatabricksHost,
			upstream.WithHeaderTimeout(cfg.Upstream.HeaderTimeout),
			upstream.WithLogger(logger))
	}
	if opts.Traces == nil {
		opts.Traces = tracestore.NewClient(cfg.DatabricksHost,
			tracestore.WithTimeout(cfg.Trace.LookupTimeout),
			tracestore.WithLogger(logger))
	}

	// Without a host the lookup can only fail; skip it instead.
	var getter tracestore.TraceGetter
	if opts.Traces.Host() != "" {
		getter = opts.Traces
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:      cfg,
		agents:   opts.Agents,
		resolver: opts.Resolver,
		upstream: opts.Upstream,
		traces:   opts.Traces,
		reconciler: tracestore.NewReconciler(getter,
			tracestore.WithSettleDelay(cfg.Trace.SettleDelay),
			tracestore.WithLookupTimeout(cfg.Trace.LookupTimeout),
			tracestore.WithReconcilerLogger(logger)),
		store:    opts.Store,
		metrics:  monitoring.NewMetricsCollector(),
		tracker:  opts.Tracker,
		logger:   logger,
		version:  opts.Version,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	g.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           g.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      config.DefaultServerWriteTimeout,
		IdleTimeout:       config.DefaultServerIdleTimeout,
	}
	return g, nil
}

// Handler returns the routed HTTP handler.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Loopback check must see the real peer address, so no RealIP here.
	r.Get("/stats", g.handleStats)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RealIP)
		r.Use(g.requestLogger)

		r.Post("/api/chat", g.handleChat)
		r.Post("/api/chats", g.handleCreateChat)
		r.Get("/api/chats", g.handleListChats)
		r.Get("/api/chat/ws", g.handleChatWS)
		r.Post("/api/log_assessment", g.handleLogAssessment)
		r.Get("/api/health", g.handleHealth)
		r.Get("/api/tracing_experiment", g.handleTracingExperiment)
		r.Get("/api/config/agents", g.handleAgents)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   g.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{HeaderRequestID},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// requestLogger logs one line per request.
func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		g.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Start serves until Shutdown.
func (g *Gateway) Start() error {
	g.tracker.RecordInit(buildInitEvent(g.cfg, g.agents.List(), g.version))
	g.logger.Info().
		Str("addr", g.server.Addr).
		Str("mode", string(g.resolver.Mode())).
		Str("storage", g.cfg.Storage.Backend).
		Msg("gateway listening")

	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight pipelines.
// When ctx expires first, remaining pipelines are cancelled; they still
// deliver their summary and persist before returning.
func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.server.Shutdown(ctx)

	idle := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(idle)
	}()

	select {
	case <-idle:
	case <-ctx.Done():
		g.logger.Warn().Int64("active", g.metrics.Active()).Msg("shutdown deadline reached, aborting in-flight streams")
		g.bgCancel()
		<-idle
		if err == nil {
			err = ctx.Err()
		}
	}
	g.bgCancel()

	if cerr := g.tracker.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
