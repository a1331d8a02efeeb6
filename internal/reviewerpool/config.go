// Package reviewerpool implements the reviewer subprocess pool manager:
// spawn, drain, terminate, auto-scale, TTL, idle timeout,
// claim-timeout reclaim with fencing, and the startup ownership sweep.
// The background loop is a ticker-driven coordinator in the same shape
// as other polling managers in this codebase; subprocess lifecycle
// follows the same argv-exec, retained-handle, wait-for-exit skeleton
// as a PTY session manager, minus the PTY allocation. Each subprocess's
// stdout/stderr is captured into its own JSONL session log rather than
// PTY-disciplined.
package reviewerpool

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// allowedModels is the model allowlist the pool enforces at
// configuration load time; it mirrors the codex model family names
// used throughout the prompt/argv construction below.
var allowedModels = map[string]bool{
	"gpt-5-codex": true,
	"o4-mini":     true,
	"gpt-4.1":     true,
}

var allowedReasoningEfforts = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
}

// Config is the pool's YAML configuration. A missing or blank file
// disables the pool cleanly: LoadConfig returns (nil, nil) in that
// case. Any other file must pass Validate.
type Config struct {
	Model                string `yaml:"model"`
	ReasoningEffort      string `yaml:"reasoning_effort"`
	MaxPoolSize          int    `yaml:"max_pool_size"`
	IdleTimeoutSeconds   int    `yaml:"idle_timeout_seconds"`
	MaxTTLSeconds        int    `yaml:"max_ttl_seconds"`
	ClaimTimeoutSeconds  int    `yaml:"claim_timeout_seconds"`
	SpawnCooldownSeconds int    `yaml:"spawn_cooldown_seconds"`
}

// defaultSpawnCooldownSeconds backs the "last spawn was more than the
// cooldown (>=10s) ago" rule when the config omits it.
const defaultSpawnCooldownSeconds = 10

// LoadConfig reads and validates the pool config file at path. A
// missing file is not an error: it means pooling is disabled and the
// core broker runs without it.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pool config %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse pool config %s: %w", path, err)
	}
	if cfg.SpawnCooldownSeconds <= 0 {
		cfg.SpawnCooldownSeconds = defaultSpawnCooldownSeconds
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the pool's config validation rules.
func (c *Config) Validate() error {
	if !allowedModels[c.Model] {
		return fmt.Errorf("pool config: model %q is not on the allowlist", c.Model)
	}
	if !allowedReasoningEfforts[c.ReasoningEffort] {
		return fmt.Errorf("pool config: reasoning_effort must be one of low, medium, high")
	}
	if c.MaxPoolSize < 1 || c.MaxPoolSize > 10 {
		return fmt.Errorf("pool config: max_pool_size must be in [1,10], got %d", c.MaxPoolSize)
	}
	if c.IdleTimeoutSeconds < 60 {
		return fmt.Errorf("pool config: idle_timeout_seconds must be >= 60, got %d", c.IdleTimeoutSeconds)
	}
	if c.MaxTTLSeconds < 300 {
		return fmt.Errorf("pool config: max_ttl_seconds must be >= 300, got %d", c.MaxTTLSeconds)
	}
	if c.ClaimTimeoutSeconds < 60 {
		return fmt.Errorf("pool config: claim_timeout_seconds must be >= 60, got %d", c.ClaimTimeoutSeconds)
	}
	return nil
}

func (c *Config) idleTimeout() time.Duration  { return time.Duration(c.IdleTimeoutSeconds) * time.Second }
func (c *Config) maxTTL() time.Duration       { return time.Duration(c.MaxTTLSeconds) * time.Second }
func (c *Config) claimTimeout() time.Duration { return time.Duration(c.ClaimTimeoutSeconds) * time.Second }
func (c *Config) spawnCooldown() time.Duration {
	return time.Duration(c.SpawnCooldownSeconds) * time.Second
}
