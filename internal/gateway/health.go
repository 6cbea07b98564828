// Package gateway - health.go serves health, agent listing and the tracing
// experiment link.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
)

const healthPingTimeout = 2 * time.Second

// handleHealth reports gateway and storage health.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	env := "production"
	if g.cfg.IsDevelopment() {
		env = "development"
	}
	resp := HealthResponse{
		Status:         "healthy",
		Timestamp:      time.Now().UnixMilli(),
		Environment:    env,
		DeploymentMode: g.cfg.Mode(),
		Storage:        "ok",
		Version:        g.version,
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	status := http.StatusOK
	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("health check: storage unavailable")
		resp.Status = "degraded"
		resp.Storage = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleAgents lists configured agents.
func (g *Gateway) handleAgents(w http.ResponseWriter, _ *http.Request) {
	agents := g.agents.List()
	out := make([]AgentInfo, 0, len(agents))
	for _, a := range agents {
		tools := a.Tools
		if tools == nil {
			tools = []config.AgentTool{}
		}
		out = append(out, AgentInfo{
			ID:                 a.ID,
			EndpointName:       a.EndpointName,
			DisplayName:        a.DisplayName,
			DisplayDescription: a.DisplayDescription,
			DeploymentType:     a.DeploymentType,
			HasTracing:         a.MLflowExperimentID != "",
			Tools:              tools,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

// handleTracingExperiment returns the experiment holding an agent's traces.
// Without agent_id the first agent with tracing configured is used.
func (g *Gateway) handleTracingExperiment(w http.ResponseWriter, r *http.Request) {
	experimentID := ""
	if agentID := r.URL.Query().Get("agent_id"); agentID != "" {
		agent, ok := g.agents.Get(agentID)
		if !ok {
			g.writeError(w, errNoAgent)
			return
		}
		experimentID = agent.MLflowExperimentID
	} else {
		for _, a := range g.agents.List() {
			if a.MLflowExperimentID != "" {
				experimentID = a.MLflowExperimentID
				break
			}
		}
	}
	if experimentID == "" {
		g.writeError(w, errNoExperiment)
		return
	}

	resp := ExperimentResponse{ExperimentID: experimentID}
	if g.traces.Host() != "" {
		link := g.traces.ExperimentLink(experimentID)
		resp.Link = &link
	}
	writeJSON(w, http.StatusOK, resp)
}
