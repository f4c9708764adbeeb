package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Graph.URI != "bolt://localhost:7687" {
		t.Errorf("Graph.URI = %q", cfg.Graph.URI)
	}
	if cfg.Graph.User != "neo4j" || cfg.Graph.Database != "neo4j" {
		t.Errorf("graph identity defaults: %q / %q", cfg.Graph.User, cfg.Graph.Database)
	}
	if cfg.Graph.PoolSize != 50 {
		t.Errorf("PoolSize = %d, want 50", cfg.Graph.PoolSize)
	}
	if cfg.Graph.AcquisitionTimeout != 60*time.Second {
		t.Errorf("AcquisitionTimeout = %v", cfg.Graph.AcquisitionTimeout)
	}
	if cfg.Model.Timeout != 120*time.Second || cfg.Model.Retries != 3 {
		t.Errorf("model defaults: %v / %d", cfg.Model.Timeout, cfg.Model.Retries)
	}
	if cfg.Model.InventoryTTL != 300*time.Second {
		t.Errorf("InventoryTTL = %v", cfg.Model.InventoryTTL)
	}
	if !cfg.Governance.EnforceLogging || !cfg.Governance.BlockOnFailure || !cfg.Governance.ISO8601Strict {
		t.Error("governance knobs must default to true")
	}
	if cfg.Notebook.VaultRoot == "" {
		t.Error("VaultRoot must get a derived default")
	}
}

func TestBackendSelection(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	// No password, no explicit backend: embedded.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.Graph.EffectiveBackend(); got != GraphBackendEmbedded {
		t.Fatalf("EffectiveBackend() = %q, want embedded", got)
	}

	// Password set: bolt.
	t.Setenv("CORTEX_GRAPH_PASSWORD", "secret")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.Graph.EffectiveBackend(); got != "bolt" {
		t.Fatalf("EffectiveBackend() = %q, want bolt", got)
	}
}

func TestBoltRequiresPassword(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CORTEX_GRAPH_BACKEND", "bolt")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for bolt backend without password")
	}
	if !strings.Contains(err.Error(), "CORTEX_GRAPH_PASSWORD") {
		t.Fatalf("error should name the missing variable, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CORTEX_MODEL_HOST", "gpu-box")
	t.Setenv("CORTEX_MODEL_PORT", "11500")
	t.Setenv("CORTEX_MODEL_REASONING", "deepseek-r1:32b")
	t.Setenv("CORTEX_GOVERNANCE_ENFORCE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.Model.BaseURL(); got != "http://gpu-box:11500" {
		t.Errorf("BaseURL() = %q", got)
	}
	if cfg.Model.ReasoningModel != "deepseek-r1:32b" {
		t.Errorf("ReasoningModel = %q", cfg.Model.ReasoningModel)
	}
	if cfg.Governance.EnforceLogging {
		t.Error("EnforceLogging should be overridable to false")
	}
}
