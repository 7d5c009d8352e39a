package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CORRELATOR_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Detector.Slack != 3*time.Minute || cfg.Detector.NotifyDelay != 5*time.Second {
		t.Fatalf("unexpected detector defaults: %+v", cfg.Detector)
	}
	if cfg.Detector.ConfidenceThreshold != 0.25 {
		t.Fatalf("unexpected threshold: %v", cfg.Detector.ConfidenceThreshold)
	}
	if len(cfg.Detector.Severities) != 1 || cfg.Detector.Severities[0] != "critical" {
		t.Fatalf("unexpected severities: %v", cfg.Detector.Severities)
	}
	if cfg.Trainer.BatchGap != 15*time.Minute || cfg.Trainer.TemporalDelta != 3*time.Minute {
		t.Fatalf("unexpected trainer defaults: %+v", cfg.Trainer)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "correlator.yaml")
	body := []byte(`
server:
  address: ":6000"
detector:
  slack: 1m
  severities: [critical, warning]
graph:
  path: /etc/graph.yaml
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CORRELATOR_NOTIFY_DELAY", "2s")
	t.Setenv("CORRELATOR_CONFIDENCE_THRESHOLD", "0.4")
	t.Setenv("CORRELATOR_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":6000" || cfg.Server.HTTPAddress != ":8080" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Detector.Slack != time.Minute || len(cfg.Detector.Severities) != 2 {
		t.Fatalf("file values not applied: %+v", cfg.Detector)
	}
	if cfg.Detector.NotifyDelay != 2*time.Second || cfg.Detector.ConfidenceThreshold != 0.4 {
		t.Fatalf("env overrides not applied: %+v", cfg.Detector)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected json logging")
	}
	if cfg.Graph.Path != "/etc/graph.yaml" {
		t.Fatalf("unexpected graph path: %s", cfg.Graph.Path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateRejectsValkeyWithoutAddr(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.Backend = StoreBackendValkey
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
	cfg.Cache.Addr = "localhost:6379"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateThresholdRange(t *testing.T) {
	cfg := defaultConfig()
	cfg.Detector.ConfidenceThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected threshold error")
	}
}

func TestValidateDenialWeight(t *testing.T) {
	cfg := defaultConfig()
	if cfg.Detector.DenialWeight != 3 {
		t.Fatalf("unexpected default denial weight: %v", cfg.Detector.DenialWeight)
	}
	cfg.Detector.DenialWeight = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected denial weight error")
	}
}

func TestSeveritiesFromEnv(t *testing.T) {
	t.Setenv("CORRELATOR_SEVERITIES", "critical, page ,")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Detector.Severities) != 2 || cfg.Detector.Severities[1] != "page" {
		t.Fatalf("unexpected severities: %v", cfg.Detector.Severities)
	}
}
