// Package config loads the broker's startup configuration: bind
// address, project path, persistence location, and the environment
// overrides that steer reviewer subprocess spawning.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 8321

	envConfigDir      = "REVIEW_BROKER_CONFIG_DIR"
	envWSLDistro      = "REVIEW_BROKER_WSL_DISTRO"
	envPromptTemplate = "REVIEW_BROKER_PROMPT_TEMPLATE"
)

// Config holds the broker's resolved runtime configuration.
type Config struct {
	Host string
	Port int

	ProjectPath string
	ConfigDir   string
	DBPath      string

	PromptTemplatePath string
	PoolConfigPath     string
	WSLDistro          string

	SessionToken string
}

// Load resolves configuration from defaults, an optional on-disk
// key=value config file under ConfigDir, environment variables, and
// finally CLI flags, in that precedence order (later sources win).
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg := &Config{
		Host:        defaultHost,
		Port:        defaultPort,
		ProjectPath: cwd,
		WSLDistro:   "Ubuntu",
	}

	// ConfigDir is resolved before the file load it gates, so it can
	// only come from the environment or the cwd-based default, not from
	// the file itself or from -project (which is parsed below).
	cfg.ConfigDir = strings.TrimSpace(os.Getenv(envConfigDir))
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = filepath.Join(cwd, ".review-broker")
	}
	cfg.DBPath = filepath.Join(cfg.ConfigDir, "broker.db")
	cfg.PoolConfigPath = filepath.Join(cfg.ConfigDir, "pool.yaml")
	cfg.PromptTemplatePath = filepath.Join(cfg.ConfigDir, "reviewer-prompt.tmpl")
	configPath := filepath.Join(cfg.ConfigDir, "config")

	if err := cfg.loadFromFile(configPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if distro := strings.TrimSpace(os.Getenv(envWSLDistro)); distro != "" {
		cfg.WSLDistro = distro
	}
	if tmpl := strings.TrimSpace(os.Getenv(envPromptTemplate)); tmpl != "" {
		cfg.PromptTemplatePath = tmpl
	}

	flag.StringVar(&cfg.Host, "host", cfg.Host, "loopback bind host")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	flag.StringVar(&cfg.ProjectPath, "project", cfg.ProjectPath, "project directory the broker coordinates reviews for")
	flag.Parse()

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", cfg.Port)
	}
	if strings.TrimSpace(cfg.ProjectPath) == "" {
		return nil, fmt.Errorf("project path is required")
	}

	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}
	cfg.SessionToken = token

	return cfg, nil
}

// loadFromFile reads a key=value config file, one setting per line,
// overriding the struct-literal defaults for whichever keys are
// present. Unknown keys are ignored so the file can be shared across
// broker versions that add fields over time.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "Host":
			c.Host = value
		case "Port":
			var port int
			if _, err := fmt.Sscanf(value, "%d", &port); err != nil {
				return fmt.Errorf("invalid Port value %q: %w", value, err)
			}
			c.Port = port
		case "ProjectPath":
			c.ProjectPath = value
		case "WSLDistro":
			c.WSLDistro = value
		case "PromptTemplatePath":
			c.PromptTemplatePath = value
		}
	}
	return nil
}

// generateSessionToken returns an 8-hex-character token unique to this
// broker run, used to distinguish this session's reviewers from stale
// ones left over from a previous run.
func generateSessionToken() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
