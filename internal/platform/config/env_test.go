package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Limit int `env:"CANONRY_TEST_LIMIT" envDefault:"123"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Limit != 123 {
		t.Fatalf("expected default limit 123, got %d", cfg.Limit)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("CANONRY_TEST_LIMIT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CANONRY_DATA_DIR", "/tmp/world")
	t.Setenv("CANONRY_SEMANTIC_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DataDir != "/tmp/world" {
		t.Fatalf("expected data dir override, got %q", cfg.DataDir)
	}
	if cfg.SemanticTimeout != 5*time.Second {
		t.Fatalf("expected 5s semantic timeout, got %v", cfg.SemanticTimeout)
	}
	if cfg.SemanticCandidates != 8 {
		t.Fatalf("expected default candidate count 8, got %d", cfg.SemanticCandidates)
	}
}
