// Package config - agents.go loads the agents registry.
//
// DESIGN: The registry is a YAML (or JSON, which YAML accepts) document with
// an "agents" list. Entries may be a bare endpoint name or a full object.
// Lookups match endpoint_name first and id second so both registry styles
// keep working. A missing file yields an empty registry rather than an error:
// a gateway with no agents still serves health and storage routes.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DeploymentDatabricksEndpoint is the only supported agent deployment type.
const DeploymentDatabricksEndpoint = "databricks-endpoint"

// AgentTool describes a tool an agent advertises to the UI.
type AgentTool struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// AgentConfig is one configured agent.
type AgentConfig struct {
	ID                 string      `yaml:"id" json:"id"`
	EndpointName       string      `yaml:"endpoint_name" json:"endpoint_name"`
	EndpointURL        string      `yaml:"endpoint_url,omitempty" json:"endpoint_url,omitempty"`
	DisplayName        string      `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	DisplayDescription string      `yaml:"display_description,omitempty" json:"display_description,omitempty"`
	DeploymentType     string      `yaml:"deployment_type,omitempty" json:"deployment_type,omitempty"`
	MLflowExperimentID string      `yaml:"mlflow_experiment_id,omitempty" json:"mlflow_experiment_id,omitempty"`
	Tools              []AgentTool `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// UnmarshalYAML accepts either a scalar endpoint name or a mapping.
func (a *AgentConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*a = AgentConfig{EndpointName: node.Value}
		return nil
	}
	type plain AgentConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*a = AgentConfig(p)
	return nil
}

func (a *AgentConfig) applyDefaults() {
	if a.EndpointName == "" {
		a.EndpointName = a.ID
	}
	if a.ID == "" {
		a.ID = a.EndpointName
	}
	if a.DisplayName == "" {
		a.DisplayName = a.EndpointName
	}
	if a.DeploymentType == "" {
		a.DeploymentType = DeploymentDatabricksEndpoint
	}
}

type agentsFile struct {
	Agents []AgentConfig `yaml:"agents"`
}

// ParseAgents parses a registry document after env expansion.
func ParseAgents(data []byte) ([]AgentConfig, error) {
	var f agentsFile
	if err := yaml.Unmarshal([]byte(ExpandEnvWithDefaults(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parsing agents config: %w", err)
	}
	out := make([]AgentConfig, 0, len(f.Agents))
	for _, a := range f.Agents {
		a.applyDefaults()
		if a.EndpointName == "" && a.EndpointURL == "" {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// =============================================================================
// REGISTRY
// =============================================================================

// AgentRegistry holds the loaded agents and supports reload from disk.
type AgentRegistry struct {
	path   string
	mu     sync.RWMutex
	agents []AgentConfig
}

// NewAgentRegistry builds a registry from an in-memory list.
func NewAgentRegistry(agents ...AgentConfig) *AgentRegistry {
	r := &AgentRegistry{}
	for _, a := range agents {
		a.applyDefaults()
		r.agents = append(r.agents, a)
	}
	return r
}

// LoadAgentRegistry reads the registry file at path.
func LoadAgentRegistry(path string) (*AgentRegistry, error) {
	r := &AgentRegistry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the registry file. On error the previous agents are kept.
func (r *AgentRegistry) Reload() error {
	if r.path == "" {
		return nil
	}
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", r.path).Msg("agents config not found, no agents configured")
		r.mu.Lock()
		r.agents = nil
		r.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading agents config: %w", err)
	}
	agents, err := ParseAgents(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.agents = agents
	r.mu.Unlock()
	log.Info().Str("path", r.path).Int("agents", len(agents)).Msg("agents config loaded")
	return nil
}

// Get finds an agent by endpoint name or id.
func (r *AgentRegistry) Get(id string) (AgentConfig, bool) {
	if id == "" {
		return AgentConfig{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.agents {
		if a.EndpointName == id {
			return a, true
		}
	}
	for _, a := range r.agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// List returns a copy of all agents.
func (r *AgentRegistry) List() []AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentConfig, len(r.agents))
	copy(out, r.agents)
	return out
}
