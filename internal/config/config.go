// Package config loads the hub configuration from the environment.
//
// All variables share the CORTEX_ prefix. Backends keep their
// conventional defaults (bolt://localhost:7687, localhost:11434) so a
// developer instance starts with nothing but a graph password set —
// or with no external services at all when the embedded graph backend
// is selected.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// GraphBackendEmbedded selects the in-process sqlite-backed graph
// store instead of a bolt endpoint.
const GraphBackendEmbedded = "embedded"

// Config is the root configuration struct.
type Config struct {
	Graph      GraphConfig
	Model      ModelConfig
	Notebook   NotebookConfig
	Governance GovernanceConfig
	HTTP       HTTPConfig

	LogLevel string `envconfig:"LOG_LEVEL" default:"info" json:"logLevel"`
}

// GraphConfig configures the property graph backend.
type GraphConfig struct {
	// Backend is "bolt" or "embedded". Empty means bolt when a
	// password is set, embedded otherwise.
	Backend  string `json:"backend"`
	URI      string `default:"bolt://localhost:7687" json:"uri"`
	User     string `default:"neo4j" json:"user"`
	Password string `json:"-"`
	Database string `default:"neo4j" json:"database"`

	PoolSize           int           `split_words:"true" default:"50" json:"poolSize"`
	MaxRetryTime       time.Duration `split_words:"true" default:"30s" json:"maxRetryTime"`
	AcquisitionTimeout time.Duration `split_words:"true" default:"60s" json:"acquisitionTimeout"`

	// EmbeddedPath is the sqlite database location for the embedded
	// backend. Empty means <data dir>/graph.db.
	EmbeddedPath string `split_words:"true" json:"embeddedPath"`
}

// EffectiveBackend resolves the backend selection rule.
func (g GraphConfig) EffectiveBackend() string {
	if g.Backend != "" {
		return g.Backend
	}
	if g.Password == "" {
		return GraphBackendEmbedded
	}
	return "bolt"
}

// ModelConfig configures the local model runtime and the task-class
// routing table.
type ModelConfig struct {
	Host    string        `default:"localhost" json:"host"`
	Port    int           `default:"11434" json:"port"`
	Timeout time.Duration `default:"120s" json:"timeout"`
	Retries int           `default:"3" json:"retries"`

	ReasoningModel string `envconfig:"REASONING" default:"qwq:32b" json:"reasoningModel"`
	CodingModel    string `envconfig:"CODING" default:"qwen2.5-coder:14b" json:"codingModel"`
	VisionModel    string `envconfig:"VISION" default:"llama3.2-vision:11b" json:"visionModel"`
	ChatModel      string `envconfig:"CHAT" default:"llama3.1:8b" json:"chatModel"`
	EmbeddingModel string `envconfig:"EMBEDDING" default:"nomic-embed-text" json:"embeddingModel"`
	GeneralModel   string `envconfig:"GENERAL" default:"llama3.1:8b" json:"generalModel"`
	FallbackModel  string `envconfig:"FALLBACK" default:"llama3.1:8b" json:"fallbackModel"`

	InventoryTTL time.Duration `split_words:"true" default:"300s" json:"inventoryTTL"`
}

// BaseURL returns the runtime endpoint, e.g. http://localhost:11434.
func (m ModelConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", m.Host, m.Port)
}

// NotebookConfig configures the markdown vault.
type NotebookConfig struct {
	VaultRoot  string `envconfig:"VAULT_ROOT" json:"vaultRoot"`
	LogsFolder string `envconfig:"VAULT_LOGS_FOLDER" default:"Logs" json:"logsFolder"`
}

// GovernanceConfig configures the Omega action-logging pipeline.
// Defaults are all true: every tool invocation is conditional on a
// durable, schema-valid log record.
type GovernanceConfig struct {
	EnforceLogging   bool `envconfig:"ENFORCE" default:"true" json:"enforceLogging"`
	BlockOnFailure   bool `split_words:"true" default:"true" json:"blockOnFailure"`
	RequireTimestamp bool `split_words:"true" default:"true" json:"requireTimestamp"`
	RequireSource    bool `split_words:"true" default:"true" json:"requireSource"`
	RequireAction    bool `split_words:"true" default:"true" json:"requireAction"`
	ISO8601Strict    bool `envconfig:"ISO8601_STRICT" default:"true" json:"iso8601Strict"`
	ValidateSchema   bool `split_words:"true" default:"true" json:"validateSchema"`
}

// HTTPConfig configures the multi-client HTTP+WS transport.
type HTTPConfig struct {
	Listen       string        `envconfig:"HTTP_LISTEN" default:":8420" json:"listen"`
	WSPath       string        `envconfig:"WS_PATH" default:"/ws" json:"wsPath"`
	MCPPath      string        `envconfig:"MCP_PATH" default:"/mcp" json:"mcpPath"`
	BearerToken  string        `envconfig:"HTTP_BEARER_TOKEN" json:"-"`
	ProbeTimeout time.Duration `envconfig:"HEALTH_PROBE_TIMEOUT" default:"30s" json:"probeTimeout"`
	DrainTimeout time.Duration `envconfig:"DRAIN_TIMEOUT" default:"30s" json:"drainTimeout"`
}

// Load reads the configuration from the environment and fills in
// derived defaults (vault root, embedded graph path).
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("cortex", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.applyDerived(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDerived() error {
	if c.Notebook.VaultRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("config: resolve home dir: %w", err)
		}
		c.Notebook.VaultRoot = filepath.Join(home, ".cortexhub", "vault")
	}
	if c.Graph.EmbeddedPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("config: resolve home dir: %w", err)
		}
		c.Graph.EmbeddedPath = filepath.Join(home, ".cortexhub", "graph.db")
	}
	if c.Graph.EffectiveBackend() == "bolt" && c.Graph.Password == "" {
		return fmt.Errorf("config: CORTEX_GRAPH_PASSWORD is required for the bolt backend")
	}
	return nil
}
