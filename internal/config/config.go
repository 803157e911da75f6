// Package config loads the gateway's YAML configuration and overlays
// environment variables on top, env winning over file, mirroring the
// teacher's aider.Config/ServerConfig shape generalized to the gateway's
// own components.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the HTTP control surface and embedded NATS settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	NATSPort int `yaml:"nats_port"`
}

// StorageConfig points at the SQLite database file.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// LLMConfig selects and configures the LLM provider used for chat
// completions, fact extraction, summarization, and gardener dream passes.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// SchedulerConfig holds tick cadence and item retention settings for the
// scheduler. gatewayd does not apply them: the scheduler always runs with
// its built-in 30s tick interval and 24h maximum item age.
type SchedulerConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
	MaxItemAgeHours     int `yaml:"max_item_age_hours"`
}

// GardenerConfig mirrors gardener.Config, exposed so operators can tune
// fusion/archival thresholds without a rebuild.
type GardenerConfig struct {
	MinClusterSize     int     `yaml:"min_cluster_size"`
	ArchivalThreshold  float64 `yaml:"archival_threshold"`
	ArchivalMinAgeDays int     `yaml:"archival_min_age_days"`
	ArchivalMaxPerRun  int     `yaml:"archival_max_per_run"`
	SleepCron          string  `yaml:"sleep_cron"`
}

// LogConfig controls the zerolog level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the root configuration for the gateway process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Gardener  GardenerConfig  `yaml:"gardener"`
	Log       LogConfig       `yaml:"log"`
}

// DefaultConfig returns sensible defaults for a single-operator deployment.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8090,
			NATSPort: 4225,
		},
		Storage: StorageConfig{
			DBPath: "data/gateway.db",
		},
		LLM: LLMConfig{
			Provider: "anthropic",
			BaseURL:  "https://api.anthropic.com",
			Model:    "claude-3-5-haiku-latest",
		},
		Embedding: EmbeddingConfig{
			Provider: "lmstudio",
			BaseURL:  "http://localhost:1234/v1",
			Model:    "nomic-embed-text",
		},
		Scheduler: SchedulerConfig{
			TickIntervalSeconds: 30,
			MaxItemAgeHours:     24,
		},
		Gardener: GardenerConfig{
			MinClusterSize:     2,
			ArchivalThreshold:  0.1,
			ArchivalMinAgeDays: 14,
			ArchivalMaxPerRun:  50,
			SleepCron:          "0 3 * * *",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// Load reads path as YAML into a Config seeded with DefaultConfig, then
// overlays environment variables (GATEWAY_DB_PATH, GATEWAY_LOG_LEVEL,
// GATEWAY_NATS_PORT, GATEWAY_LLM_API_KEY, ...), env taking precedence over
// the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	applyEnvOverlay(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverlay(cfg *Config) {
	if v := os.Getenv("GATEWAY_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("GATEWAY_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("GATEWAY_NATS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.NATSPort = n
		}
	}
	if v := os.Getenv("GATEWAY_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("GATEWAY_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("GATEWAY_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("GATEWAY_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
}

// Validate checks that the config is internally consistent enough to boot.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.NATSPort <= 0 || c.Server.NATSPort > 65535 {
		return fmt.Errorf("invalid nats port: %d", c.Server.NATSPort)
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage db_path is required")
	}
	if c.Gardener.MinClusterSize < 2 {
		return fmt.Errorf("gardener min_cluster_size must be >= 2")
	}
	return nil
}
