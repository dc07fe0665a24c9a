// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrNotConfigured is returned when the oracle credential is required but missing.
var ErrNotConfigured = errors.New("ANTHROPIC_API_KEY is not set")

// Config holds every setting the service reads at startup.
type Config struct {
	AnthropicAPIKey  string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `envconfig:"ANTHROPIC_BASE_URL" validate:"omitempty,url"`
	Model            string `envconfig:"MODEL" default:"claude-opus-4-20250514" validate:"required"`
	MaxTokens        int64  `envconfig:"MAX_TOKENS" default:"2000" validate:"min=1"`
	MaxRounds        int    `envconfig:"MAX_ROUNDS" default:"6" validate:"min=1,max=50"`

	CycleInterval time.Duration `envconfig:"CYCLE_INTERVAL" default:"5m" validate:"min=1s"`
	CycleTimeout  time.Duration `envconfig:"CYCLE_TIMEOUT" default:"2m"`

	RebalanceThreshold   float64 `envconfig:"REBALANCE_THRESHOLD" default:"2" validate:"gt=0"`
	TriggerRatePerMinute float64 `envconfig:"TRIGGER_RATE_PER_MINUTE" default:"6" validate:"gt=0"`

	Port     int `envconfig:"PORT" default:"8000" validate:"min=1,max=65535"`
	GRPCPort int `envconfig:"GRPC_PORT" default:"9000" validate:"min=0,max=65535"`

	// BSCRPCURLs is a comma-separated list; the first entry is primary.
	BSCRPCURLs           []string `envconfig:"BSC_RPC_URL" default:"https://bsc-dataseed.binance.org,https://bsc-dataseed1.defibit.io" validate:"dive,url"`
	VaultContractAddress string   `envconfig:"VAULT_CONTRACT_ADDRESS" validate:"omitempty,eth_addr"`
	VaultID              string   `envconfig:"VAULT_ID" default:"default" validate:"required"`

	APYSource    string `envconfig:"APY_SOURCE" default:"simulated" validate:"oneof=simulated defillama"`
	DefiLlamaURL string `envconfig:"DEFILLAMA_URL" default:"https://yields.llama.fi" validate:"url"`

	MemoryEnabled bool `envconfig:"MEMORY_ENABLED" default:"true"`
}

var validate = validator.New()

// Load reads .env files (missing files are ignored), binds the environment and
// validates the result. With no arguments it reads ".env" from the working directory.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv binds and validates the process environment without reading any file.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// OracleConfigured reports whether an Anthropic key is available.
func (c *Config) OracleConfigured() bool {
	return c.AnthropicAPIKey != ""
}

// RequireOracle returns ErrNotConfigured when no key is set.
func (c *Config) RequireOracle() error {
	if !c.OracleConfigured() {
		return ErrNotConfigured
	}
	return nil
}

// HTTPAddr is the listen address for the HTTP server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// GRPCAddr is the listen address for the gRPC health server; empty when disabled.
func (c *Config) GRPCAddr() string {
	if c.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// ChainConfigured reports whether the vault balance is read from chain.
func (c *Config) ChainConfigured() bool {
	return c.VaultContractAddress != "" && len(c.BSCRPCURLs) > 0
}
