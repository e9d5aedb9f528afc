package config

import "time"

// Config is the root configuration for the Hearth runtime.
type Config struct {
	Agent       AgentConfig       `json:"agent"`
	Provider    ProviderConfig    `json:"provider"`
	Gateway     GatewayConfig     `json:"gateway"`
	Storage     StorageConfig     `json:"storage"`
	Heartware   HeartwareConfig   `json:"heartware"`
	Compaction  CompactionConfig  `json:"compaction"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
}

// AgentConfig holds the primary-agent and sub-agent loop settings.
type AgentConfig struct {
	Name                 string  `json:"name"`
	MaxIterations        int     `json:"max_iterations"`          // primary agent loop cap
	SubagentIterations   int     `json:"subagent_iterations"`     // sub-agent loop cap
	TurnTimeoutSeconds   int     `json:"turn_timeout_seconds"`    // primary turn timeout
	TaskTimeoutSeconds   int     `json:"task_timeout_seconds"`    // background task fallback timeout
	MaxActiveSubagents   int     `json:"max_active_subagents"`    // per-user active sub-agent cap
	MaxTemplates         int     `json:"max_templates"`           // per-user template cap
	ReuseThreshold       float64 `json:"reuse_threshold"`         // hybrid-match score for agent reuse
	RetentionDays        int     `json:"retention_days"`          // soft-delete retention for dismissed agents
	MaxSubagentMessages  int     `json:"max_subagent_messages"`   // per-agent conversation read cap
}

// ProviderConfig configures the LLM provider.
// The API key is NEVER read from the config file; env HEARTH_API_KEY only.
type ProviderConfig struct {
	Kind        string  `json:"kind"`    // "anthropic" (default)
	BaseURL     string  `json:"base_url,omitempty"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	APIKey      string  `json:"-"` // from env HEARTH_API_KEY only
	RateRPM     int     `json:"rate_rpm,omitempty"` // provider call limiter, 0 = unlimited
}

// GatewayConfig configures the HTTP surface.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	RateLimitRPM   int      `json:"rate_limit_rpm"` // per-client; 0 = disabled
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// StorageConfig configures the embedded store.
type StorageConfig struct {
	Path string `json:"path"` // sqlite database file
}

// HeartwareConfig points at the identity/memory file directory.
type HeartwareConfig struct {
	Dir string `json:"dir"`
}

// CompactionConfig tunes the context compactor.
type CompactionConfig struct {
	Threshold           int     `json:"threshold"`            // message count that triggers compaction
	KeepRecent          int     `json:"keep_recent"`          // most-recent messages left untouched
	SimilarityThreshold float64 `json:"similarity_threshold"` // shingle-Jaccard dedup cutoff
	StripEmoji          bool    `json:"strip_emoji"`
	BudgetL2            int     `json:"budget_l2"` // full-tier token budget
	BudgetL1            int     `json:"budget_l1"` // working-tier token budget
	BudgetL0            int     `json:"budget_l0"` // ultra-compact-tier token budget
}

// MaintenanceConfig drives the retention sweeper.
type MaintenanceConfig struct {
	Schedule          string `json:"schedule"`             // cron expression, gronx syntax
	StaleTaskHours    int    `json:"stale_task_hours"`     // running tasks older than this are failed
	BlackboardDays    int    `json:"blackboard_days"`      // resolved problems older than this are purged
}

// TelemetryConfig enables OTLP trace export.
// The endpoint is env-only (HEARTH_OTLP_ENDPOINT) so it never lands in a config file.
type TelemetryConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"service_name,omitempty"`
	OTLPEndpoint string `json:"-"` // from env HEARTH_OTLP_ENDPOINT only
}

// TurnTimeout returns the primary turn timeout as a duration.
func (c *AgentConfig) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSeconds) * time.Second
}

// TaskTimeout returns the background task fallback timeout as a duration.
func (c *AgentConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// Retention returns the soft-delete retention window.
func (c *AgentConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
