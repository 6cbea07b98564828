package gateway

import (
	"sort"
	"time"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/monitoring"
)

func buildInitEvent(cfg *config.Config, agents []config.AgentConfig, version string) *monitoring.InitEvent {
	ev := &monitoring.InitEvent{
		Timestamp:             time.Now(),
		Event:                 "gateway_init",
		Version:               version,
		DeploymentMode:        cfg.Mode(),
		ServerAddr:            cfg.Server.Addr(),
		StorageBackend:        cfg.Storage.Backend,
		SettleDelayMs:         cfg.Trace.SettleDelay.Milliseconds(),
		UpstreamHeaderTimeout: cfg.Upstream.HeaderTimeout.Milliseconds(),
		HasHost:               cfg.DatabricksHost != "",
		HasLocalToken:         cfg.DatabricksToken != "",
		TelemetryPath:         cfg.Telemetry.LogPath,
	}

	sorted := make([]config.AgentConfig, len(agents))
	copy(sorted, agents)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, a := range sorted {
		ev.Agents = append(ev.Agents, monitoring.InitAgent{
			ID:                    a.ID,
			EndpointName:          a.EndpointName,
			HasURL:                a.EndpointURL != "",
			HasExperiment:         a.MLflowExperimentID != "",
			Tools:                 len(a.Tools),
		})
	}
	return ev
}
