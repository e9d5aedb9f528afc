// Package store defines the durable entities of the runtime and the narrow
// per-entity interfaces the other subsystems consume. The concrete engine
// lives in store/sqlite.
package store

import (
	"time"

	"github.com/google/uuid"
)

// GenNewID returns a new opaque entity id.
func GenNewID() string { return uuid.NewString() }

// NowMilli returns the current wall clock as epoch milliseconds.
// All persisted timestamps use this representation.
func NowMilli() int64 { return time.Now().UnixMilli() }

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// SubagentUserID is the synthetic user id under which a sub-agent's
// conversation is stored in the messages table.
func SubagentUserID(agentID string) string { return "subagent:" + agentID }

// Message is one immutable conversation message.
type Message struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// Sub-agent statuses.
const (
	AgentActive      = "active"
	AgentSuspended   = "suspended"
	AgentSoftDeleted = "soft_deleted"
)

// SubAgent is a persistent specialized agent record.
type SubAgent struct {
	ID               string   `json:"id"`
	UserID           string   `json:"user_id"`
	Role             string   `json:"role"`
	SystemPrompt     string   `json:"system_prompt"`
	ToolsGranted     []string `json:"tools_granted,omitempty"`
	TierPreference   string   `json:"tier_preference,omitempty"`
	Status           string   `json:"status"`
	PerformanceScore float64  `json:"performance_score"`
	TotalTasks       int      `json:"total_tasks"`
	SuccessfulTasks  int      `json:"successful_tasks"`
	TemplateID       string   `json:"template_id,omitempty"`
	CreatedAt        int64    `json:"created_at"`
	LastActiveAt     int64    `json:"last_active_at"`
	DeletedAt        *int64   `json:"deleted_at,omitempty"`
}

// Template is a reusable role specification.
type Template struct {
	ID              string   `json:"id"`
	UserID          string   `json:"user_id"`
	Name            string   `json:"name"`
	RoleDescription string   `json:"role_description"`
	DefaultTools    []string `json:"default_tools,omitempty"`
	DefaultTier     string   `json:"default_tier,omitempty"`
	TimesUsed       int      `json:"times_used"`
	AvgPerformance  float64  `json:"avg_performance"`
	Tags            []string `json:"tags,omitempty"`
	CreatedAt       int64    `json:"created_at"`
	UpdatedAt       int64    `json:"updated_at"`
}

// Background task statuses.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskDelivered = "delivered"
)

// BackgroundTask is one delegated fire-and-forget task.
type BackgroundTask struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	AgentID         string `json:"agent_id"`
	TaskDescription string `json:"task_description"`
	Status          string `json:"status"`
	Result          string `json:"result,omitempty"`
	StartedAt       int64  `json:"started_at"`
	CompletedAt     *int64 `json:"completed_at,omitempty"`
	DeliveredAt     *int64 `json:"delivered_at,omitempty"`
}

// Compaction records one folded-away span of conversation history.
// Summary holds the full (L2) tier text.
type Compaction struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Summary        string `json:"summary"`
	ReplacedBefore int64  `json:"replaced_before"`
	CreatedAt      int64  `json:"created_at"`
}

// Blackboard entry statuses.
const (
	ProblemOpen     = "open"
	ProblemResolved = "resolved"
)

// BlackboardEntry stores both shapes of the blackboard table: a problem
// (ID == ProblemID, agent fields empty) and a proposal (ProblemID is the
// FK to its problem).
type BlackboardEntry struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	ProblemID   string  `json:"problem_id"`
	ProblemText string  `json:"problem_text,omitempty"`
	AgentID     string  `json:"agent_id,omitempty"`
	AgentRole   string  `json:"agent_role,omitempty"`
	Proposal    string  `json:"proposal,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Status      string  `json:"status"`
	Synthesis   string  `json:"synthesis,omitempty"`
	CreatedAt   int64   `json:"created_at"`
}

// IsProblem reports whether the entry is a problem root.
func (e *BlackboardEntry) IsProblem() bool { return e.ID == e.ProblemID }

// TaskMetric is one append-only execution sample used for adaptive timeouts.
type TaskMetric struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	TaskType   string `json:"task_type"`
	Tier       string `json:"tier,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Iterations int    `json:"iterations"`
	Success    bool   `json:"success"`
	CreatedAt  int64  `json:"created_at"`
}

// MemoryEntry is one key/value fact in the ancillary episodic-memory index.
type MemoryEntry struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updated_at"`
}
