package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/gateway"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/logging"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/monitoring"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/storage"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/telemetry"
)

type serveFlags struct {
	port   int
	agents string
	debug  bool
}

func parseServeFlags(args []string) (serveFlags, error) {
	var f serveFlags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-p", "--port":
			if i+1 >= len(args) {
				return f, errors.New("--port requires a value")
			}
			port, err := strconv.Atoi(args[i+1])
			if err != nil || port <= 0 || port > 65535 {
				return f, fmt.Errorf("invalid port %q", args[i+1])
			}
			f.port = port
			i++
		case "-a", "--agents":
			if i+1 >= len(args) {
				return f, errors.New("--agents requires a value")
			}
			f.agents = args[i+1]
			i++
		case "-d", "--debug":
			f.debug = true
		default:
			return f, fmt.Errorf("unknown option: %s", args[i])
		}
	}
	return f, nil
}

// runServeCommand runs the gateway until SIGINT or SIGTERM. SIGHUP reloads
// the agents registry.
func runServeCommand(args []string) error {
	flags, err := parseServeFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if flags.port != 0 {
		cfg.Server.Port = flags.port
	}
	if flags.agents != "" {
		cfg.AgentsConfig = flags.agents
	}
	if flags.debug {
		cfg.Log.Level = "debug"
	}

	logger := logging.Init(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	// net/http server errors go through the standard logger.
	stdlog.SetFlags(0)
	stdlog.SetOutput(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return err
	}

	agents, err := config.LoadAgentRegistry(cfg.AgentsConfig)
	if err != nil {
		return fmt.Errorf("loading agents: %w", err)
	}
	if len(agents.List()) == 0 {
		logger.Warn().Str("path", cfg.AgentsConfig).Msg("no agents configured, every chat request will fail")
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Storage.Backend, err)
	}
	defer func() { _ = store.Close() }()

	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{
		Enabled: cfg.Telemetry.LogPath != "",
		LogPath: cfg.Telemetry.LogPath,
	})
	if err != nil {
		return fmt.Errorf("opening telemetry log: %w", err)
	}

	gw, err := gateway.New(cfg, gateway.Options{
		Agents:  agents,
		Store:   store,
		Tracker: tracker,
		Logger:  &logger,
		Version: Version,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(gw.Start)
	g.Go(func() error {
		watchReload(gctx, agents, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := gw.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("shutdown incomplete")
		}
		return shutdownTelemetry(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// watchReload re-reads the agents registry on SIGHUP until ctx is done.
func watchReload(ctx context.Context, agents *config.AgentRegistry, logger zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := agents.Reload(); err != nil {
				logger.Error().Err(err).Msg("agents reload failed, keeping previous registry")
				continue
			}
			logger.Info().Int("agents", len(agents.List())).Msg("agents reloaded")
		}
	}
}
