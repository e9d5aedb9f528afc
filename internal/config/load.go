package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:                "hearth",
			MaxIterations:       24,
			SubagentIterations:  10,
			TurnTimeoutSeconds:  300,
			TaskTimeoutSeconds:  300,
			MaxActiveSubagents:  10,
			MaxTemplates:        50,
			ReuseThreshold:      0.45,
			RetentionDays:       14,
			MaxSubagentMessages: 100,
		},
		Provider: ProviderConfig{
			Kind:        "anthropic",
			Model:       "claude-sonnet-4-5-20250929",
			MaxTokens:   8192,
			Temperature: 0.7,
		},
		Gateway: GatewayConfig{
			Host:         "127.0.0.1",
			Port:         18890,
			RateLimitRPM: 20,
		},
		Storage: StorageConfig{
			Path: "~/.hearth/hearth.db",
		},
		Heartware: HeartwareConfig{
			Dir: "~/.hearth/heartware",
		},
		Compaction: CompactionConfig{
			Threshold:           60,
			KeepRecent:          20,
			SimilarityThreshold: 0.6,
			BudgetL2:            3000,
			BudgetL1:            1000,
			BudgetL0:            200,
		},
		Maintenance: MaintenanceConfig{
			Schedule:       "*/30 * * * *",
			StaleTaskHours: 6,
			BlackboardDays: 30,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "hearth",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults + env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values. Secrets are env-only.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HEARTH_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("HEARTH_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("HEARTH_PROVIDER_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("HEARTH_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("HEARTH_HEARTWARE_DIR"); v != "" {
		c.Heartware.Dir = v
	}
	if v := os.Getenv("HEARTH_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Gateway.Port = p
		}
	}
	if v := os.Getenv("HEARTH_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
		c.Telemetry.Enabled = true
	}
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

// DBPath returns the storage path with "~" expanded.
func (c *Config) DBPath() string { return expandHome(c.Storage.Path) }

// HeartwareDir returns the heartware directory with "~" expanded.
func (c *Config) HeartwareDir() string { return expandHome(c.Heartware.Dir) }
