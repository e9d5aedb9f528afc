// Package subagents owns the lifecycle of persistent sub-agents: creation
// with caps, reuse lookup, performance accounting, suspension, revival,
// dismissal with tombstone retention, and hard deletion.
package subagents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hearthstack/hearth/internal/bus"
	"github.com/hearthstack/hearth/internal/match"
	"github.com/hearthstack/hearth/internal/store"
	"github.com/hearthstack/hearth/pkg/protocol"
)

// Defaults for the lifecycle limits.
const (
	DefaultMaxActivePerUser = 10
	DefaultMaxMessages      = 100
	DefaultReuseThreshold   = 0.45
	DefaultRetention        = 14 * 24 * time.Hour
)

// subagentInstruction is appended to every sub-agent system prompt.
const subagentInstruction = `You are a focused sub-agent. Work only on the task you are given,
be concise, and produce a final self-contained answer. Do not address the
user directly; your output is returned to the primary agent.`

// ErrLimitExceeded is returned when a user is at the active sub-agent cap.
var ErrLimitExceeded = errors.New("sub-agent limit exceeded")

// Store is the subset of the persistence store the manager consumes.
type Store interface {
	InsertAgent(ctx context.Context, a *store.SubAgent) error
	GetAgent(ctx context.Context, id string) (*store.SubAgent, error)
	ListAgents(ctx context.Context, userID string, statuses ...string) ([]store.SubAgent, error)
	CountAgents(ctx context.Context, userID, status string) (int, error)
	UpdateAgent(ctx context.Context, a *store.SubAgent) error
	DeleteExpiredAgents(ctx context.Context, before int64) (int, error)

	SaveMessage(ctx context.Context, m *store.Message) error
	ListMessages(ctx context.Context, userID string, limit int) ([]store.Message, error)
	DeleteMessagesForUser(ctx context.Context, userID string) error
}

// Config tunes the manager.
type Config struct {
	MaxActivePerUser int
	MaxMessages      int
	ReuseThreshold   float64
	Retention        time.Duration
}

func (c *Config) sanitize() {
	if c.MaxActivePerUser <= 0 {
		c.MaxActivePerUser = DefaultMaxActivePerUser
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = DefaultMaxMessages
	}
	if c.ReuseThreshold <= 0 {
		c.ReuseThreshold = DefaultReuseThreshold
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
}

// OrientationFunc supplies the identity/preferences/memories block composed
// for a user, injected into every sub-agent system prompt.
type OrientationFunc func(ctx context.Context, userID string) string

// Manager owns sub-agent records.
type Manager struct {
	store       Store
	matcher     *match.Matcher
	events      *bus.Bus
	orientation OrientationFunc
	cfg         Config
}

// NewManager creates a lifecycle manager.
func NewManager(s Store, matcher *match.Matcher, events *bus.Bus, orientation OrientationFunc, cfg Config) *Manager {
	cfg.sanitize()
	if matcher == nil {
		matcher = match.New()
	}
	return &Manager{
		store:       s,
		matcher:     matcher,
		events:      events,
		orientation: orientation,
		cfg:         cfg,
	}
}

// CreateSpec describes a new sub-agent.
type CreateSpec struct {
	UserID         string
	Role           string
	Tools          []string
	TierPreference string
	TemplateID     string
	ExtraContext   string // optional compacted context folded into the prompt
}

// Create inserts a new active sub-agent, enforcing the per-user cap.
// The system prompt is frozen at creation.
func (m *Manager) Create(ctx context.Context, spec CreateSpec) (*store.SubAgent, error) {
	if spec.UserID == "" || spec.Role == "" {
		return nil, fmt.Errorf("create sub-agent: user_id and role are required")
	}

	active, err := m.store.CountAgents(ctx, spec.UserID, store.AgentActive)
	if err != nil {
		return nil, fmt.Errorf("count active agents: %w", err)
	}
	if active >= m.cfg.MaxActivePerUser {
		return nil, fmt.Errorf("%w: %d active sub-agents (max %d)",
			ErrLimitExceeded, active, m.cfg.MaxActivePerUser)
	}

	now := store.NowMilli()
	a := &store.SubAgent{
		ID:               store.GenNewID(),
		UserID:           spec.UserID,
		Role:             spec.Role,
		SystemPrompt:     m.buildSystemPrompt(ctx, spec),
		ToolsGranted:     spec.Tools,
		TierPreference:   spec.TierPreference,
		Status:           store.AgentActive,
		PerformanceScore: 0.5,
		TemplateID:       spec.TemplateID,
		CreatedAt:        now,
		LastActiveAt:     now,
	}
	if err := m.store.InsertAgent(ctx, a); err != nil {
		return nil, fmt.Errorf("insert agent: %w", err)
	}

	slog.Info("sub-agent created", "id", a.ID, "user", a.UserID, "role", a.Role)
	m.emit(protocol.TopicAgentCreated, a.UserID, map[string]any{
		"agent_id": a.ID, "role": a.Role,
	})
	return a, nil
}

func (m *Manager) buildSystemPrompt(ctx context.Context, spec CreateSpec) string {
	prompt := ""
	if m.orientation != nil {
		if block := m.orientation(ctx, spec.UserID); block != "" {
			prompt = block + "\n\n"
		}
	}
	if spec.ExtraContext != "" {
		prompt += "## Context\n" + spec.ExtraContext + "\n\n"
	}
	prompt += "## Your Role\n" + spec.Role + "\n\n" + subagentInstruction
	return prompt
}

// Get returns one sub-agent record.
func (m *Manager) Get(ctx context.Context, id string) (*store.SubAgent, error) {
	return m.store.GetAgent(ctx, id)
}

// ListActive returns a user's live (active or suspended) sub-agents.
func (m *Manager) ListActive(ctx context.Context, userID string) ([]store.SubAgent, error) {
	return m.store.ListAgents(ctx, userID, store.AgentActive, store.AgentSuspended)
}

// ListAll returns all of a user's sub-agents, tombstones included.
func (m *Manager) ListAll(ctx context.Context, userID string) ([]store.SubAgent, error) {
	return m.store.ListAgents(ctx, userID)
}

// FindReusable scores the requested role against the user's active
// sub-agents and returns the best scorer at or above the reuse threshold.
func (m *Manager) FindReusable(ctx context.Context, userID, requestedRole string) (*store.SubAgent, bool, error) {
	agents, err := m.store.ListAgents(ctx, userID, store.AgentActive)
	if err != nil {
		return nil, false, fmt.Errorf("list active agents: %w", err)
	}

	var best *store.SubAgent
	bestScore := 0.0
	for i := range agents {
		score := m.matcher.Score(requestedRole, agents[i].Role)
		if score > bestScore {
			bestScore = score
			best = &agents[i]
		}
	}
	if best == nil || bestScore < m.cfg.ReuseThreshold {
		return nil, false, nil
	}
	slog.Debug("sub-agent reuse match",
		"agent", best.ID, "role", best.Role, "requested", requestedRole, "score", bestScore)
	return best, true, nil
}

// RecordTaskResult updates the agent's task counters and performance score.
func (m *Manager) RecordTaskResult(ctx context.Context, agentID string, success bool) error {
	a, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	a.TotalTasks++
	if success {
		a.SuccessfulTasks++
	}
	a.PerformanceScore = float64(a.SuccessfulTasks) / float64(a.TotalTasks)
	a.LastActiveAt = store.NowMilli()
	return m.store.UpdateAgent(ctx, a)
}

// Suspend pauses an agent without deleting it.
func (m *Manager) Suspend(ctx context.Context, agentID string) error {
	a, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	a.Status = store.AgentSuspended
	return m.store.UpdateAgent(ctx, a)
}

// Resume returns a suspended agent to active.
func (m *Manager) Resume(ctx context.Context, agentID string) error {
	a, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if a.Status != store.AgentSuspended {
		return fmt.Errorf("resume: agent %s is %s, not suspended", agentID, a.Status)
	}
	a.Status = store.AgentActive
	a.LastActiveAt = store.NowMilli()
	return m.store.UpdateAgent(ctx, a)
}

// Dismiss soft-deletes an agent; it can be revived within the retention
// window.
func (m *Manager) Dismiss(ctx context.Context, agentID string) error {
	a, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	now := store.NowMilli()
	a.Status = store.AgentSoftDeleted
	a.DeletedAt = &now
	if err := m.store.UpdateAgent(ctx, a); err != nil {
		return err
	}
	m.emit(protocol.TopicAgentDismissed, a.UserID, map[string]any{
		"agent_id": a.ID, "role": a.Role,
	})
	return nil
}

// Revive restores a soft-deleted agent to active.
func (m *Manager) Revive(ctx context.Context, agentID string) error {
	a, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if a.Status != store.AgentSoftDeleted {
		return fmt.Errorf("revive: agent %s is %s, not soft_deleted", agentID, a.Status)
	}
	a.Status = store.AgentActive
	a.DeletedAt = nil
	a.LastActiveAt = store.NowMilli()
	if err := m.store.UpdateAgent(ctx, a); err != nil {
		return err
	}
	m.emit(protocol.TopicAgentRevived, a.UserID, map[string]any{
		"agent_id": a.ID, "role": a.Role,
	})
	return nil
}

// Kill hard-deletes an agent: purges its conversation, marks the tombstone
// as immediately expired, and runs the expiry sweep.
func (m *Manager) Kill(ctx context.Context, agentID string) error {
	a, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if err := m.store.DeleteMessagesForUser(ctx, store.SubagentUserID(agentID)); err != nil {
		return fmt.Errorf("purge agent messages: %w", err)
	}
	var epoch int64 // deleted_at = 0 expires on the next sweep regardless of retention
	a.Status = store.AgentSoftDeleted
	a.DeletedAt = &epoch
	if err := m.store.UpdateAgent(ctx, a); err != nil {
		return err
	}
	if _, err := m.store.DeleteExpiredAgents(ctx, 1); err != nil {
		return fmt.Errorf("expire killed agent: %w", err)
	}
	slog.Info("sub-agent killed", "id", agentID, "user", a.UserID)
	return nil
}

// Cleanup hard-deletes tombstones older than the retention window and
// returns the count removed.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	cutoff := store.NowMilli() - m.cfg.Retention.Milliseconds()
	n, err := m.store.DeleteExpiredAgents(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("sub-agent retention cleanup", "removed", n)
	}
	return n, nil
}

// GetMessages returns the agent's conversation, oldest truncated to the
// per-agent cap.
func (m *Manager) GetMessages(ctx context.Context, agentID string, limit int) ([]store.Message, error) {
	if limit <= 0 || limit > m.cfg.MaxMessages {
		limit = m.cfg.MaxMessages
	}
	return m.store.ListMessages(ctx, store.SubagentUserID(agentID), limit)
}

// SaveMessage appends to the agent's conversation log.
func (m *Manager) SaveMessage(ctx context.Context, agentID, role, content string) error {
	return m.store.SaveMessage(ctx, &store.Message{
		UserID:  store.SubagentUserID(agentID),
		Role:    role,
		Content: content,
	})
}

func (m *Manager) emit(topic, userID string, data map[string]any) {
	if m.events != nil {
		m.events.Emit(topic, userID, data)
	}
}
