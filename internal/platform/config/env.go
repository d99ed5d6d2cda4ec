// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all engine settings sourced from CANONRY_* environment
// variables. CLI flags may override individual fields after parsing.
type Config struct {
	// DataDir is the root of the world's on-disk state.
	DataDir string `env:"CANONRY_DATA_DIR" envDefault:"."`

	// SemanticEndpoint is the OpenAI-compatible base URL of the semantic
	// delegate. Empty disables Layer 3 checks entirely.
	SemanticEndpoint string `env:"CANONRY_SEMANTIC_ENDPOINT"`
	// SemanticAPIKey authenticates against the delegate endpoint.
	SemanticAPIKey string `env:"CANONRY_SEMANTIC_API_KEY"`
	// SemanticModel names the delegate model.
	SemanticModel string `env:"CANONRY_SEMANTIC_MODEL" envDefault:"gpt-4o-mini"`
	// SemanticTimeout bounds a single Layer 3 consultation.
	SemanticTimeout time.Duration `env:"CANONRY_SEMANTIC_TIMEOUT" envDefault:"3s"`
	// SemanticCandidates is the top-K existing claims sent to the delegate.
	SemanticCandidates int `env:"CANONRY_SEMANTIC_CANDIDATES" envDefault:"8"`

	// OTelEndpoint enables OTLP trace export when set.
	OTelEndpoint string `env:"CANONRY_OTEL_ENDPOINT"`

	// SessionLabel tags ledger events written outside an explicit session.
	SessionLabel string `env:"CANONRY_SESSION_LABEL"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses a Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
