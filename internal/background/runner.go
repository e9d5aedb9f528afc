// Package background runs delegated tasks against sub-agents without
// blocking the primary turn. Execution is serialized per agent through the
// session queue; completed results wait in an undelivered inbox until the
// primary agent surfaces them.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hearthstack/hearth/internal/agent"
	"github.com/hearthstack/hearth/internal/bus"
	"github.com/hearthstack/hearth/internal/providers"
	"github.com/hearthstack/hearth/internal/sessions"
	"github.com/hearthstack/hearth/internal/store"
	"github.com/hearthstack/hearth/internal/subagents"
	"github.com/hearthstack/hearth/internal/templates"
	"github.com/hearthstack/hearth/internal/tools"
	"github.com/hearthstack/hearth/pkg/protocol"
)

// Store is the subset of the persistence store the runner consumes.
type Store interface {
	InsertTask(ctx context.Context, t *store.BackgroundTask) error
	GetTask(ctx context.Context, id string) (*store.BackgroundTask, error)
	UpdateTask(ctx context.Context, t *store.BackgroundTask) error
	ListUndelivered(ctx context.Context, userID string) ([]store.BackgroundTask, error)
	ListRunningBefore(ctx context.Context, before int64) ([]store.BackgroundTask, error)
	InsertMetric(ctx context.Context, m *store.TaskMetric) error
}

// Config tunes the runner.
type Config struct {
	SubagentIterations int           // loop cap for sub-agent runs
	DefaultTimeout     time.Duration // when no explicit timeout and no estimate
}

func (c *Config) sanitize() {
	if c.SubagentIterations <= 0 {
		c.SubagentIterations = agent.DefaultMaxIterations
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Minute
	}
}

// TemplateSpec describes the template to ensure after a successful run.
type TemplateSpec struct {
	Name            string
	RoleDescription string
	DefaultTools    []string
	DefaultTier     string
	Tags            []string
}

// StartConfig describes one delegated task.
type StartConfig struct {
	UserID   string
	AgentID  string
	Task     string
	TaskType string // metric key; defaults to "delegation"
	Tier     string
	Timeout  time.Duration // explicit; 0 derives from metrics, then config default

	// TemplateAutoCreate, when set, ensures a matching template exists after
	// a successful run (records usage on a match, creates one otherwise).
	TemplateAutoCreate *TemplateSpec
}

type inflight struct {
	cancelled bool
}

// Runner executes delegated tasks in the background.
type Runner struct {
	store     Store
	queue     *sessions.Queue
	lifecycle *subagents.Manager
	templates *templates.Manager
	provider  providers.Provider
	tools     *tools.Registry // sub-agent-safe tool registry
	events    *bus.Bus
	estimator *Estimator
	cfg       Config

	mu       sync.Mutex
	handles  map[string]*inflight
}

// NewRunner wires a runner.
func NewRunner(
	s Store,
	queue *sessions.Queue,
	lifecycle *subagents.Manager,
	tmpl *templates.Manager,
	provider providers.Provider,
	registry *tools.Registry,
	events *bus.Bus,
	estimator *Estimator,
	cfg Config,
) *Runner {
	cfg.sanitize()
	return &Runner{
		store:     s,
		queue:     queue,
		lifecycle: lifecycle,
		templates: tmpl,
		provider:  provider,
		tools:     registry,
		events:    events,
		estimator: estimator,
		cfg:       cfg,
		handles:   make(map[string]*inflight),
	}
}

// Start records a running task row, enqueues the execution on the agent's
// session queue, and returns the task id immediately.
func (r *Runner) Start(ctx context.Context, cfg StartConfig) (string, error) {
	if cfg.UserID == "" || cfg.AgentID == "" || cfg.Task == "" {
		return "", fmt.Errorf("start background task: user_id, agent_id and task are required")
	}

	sub, err := r.lifecycle.Get(ctx, cfg.AgentID)
	if err != nil {
		return "", fmt.Errorf("load agent %s: %w", cfg.AgentID, err)
	}

	task := &store.BackgroundTask{
		ID:              store.GenNewID(),
		UserID:          cfg.UserID,
		AgentID:         cfg.AgentID,
		TaskDescription: cfg.Task,
		Status:          store.TaskRunning,
		StartedAt:       store.NowMilli(),
	}
	if err := r.store.InsertTask(ctx, task); err != nil {
		return "", fmt.Errorf("insert task row: %w", err)
	}

	r.mu.Lock()
	r.handles[task.ID] = &inflight{}
	r.mu.Unlock()

	r.emit(protocol.TopicTaskQueued, cfg.UserID, map[string]any{
		"task_id": task.ID, "agent_id": cfg.AgentID, "role": sub.Role,
	})
	slog.Info("background task queued",
		"task", task.ID, "agent", cfg.AgentID, "user", cfg.UserID)

	timeout := r.resolveTimeout(ctx, cfg)

	r.queue.Enqueue(sessions.AgentKey(cfg.AgentID), func(qctx context.Context) (any, error) {
		r.execute(qctx, task.ID, sub, cfg, timeout)
		return nil, nil
	})
	return task.ID, nil
}

func (r *Runner) resolveTimeout(ctx context.Context, cfg StartConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	if est := r.estimator.Estimate(ctx, taskType(cfg), cfg.Tier); est > 0 {
		return est
	}
	return r.cfg.DefaultTimeout
}

func taskType(cfg StartConfig) string {
	if cfg.TaskType != "" {
		return cfg.TaskType
	}
	return "delegation"
}

// execute runs one task to completion inside the agent's queue slot.
func (r *Runner) execute(ctx context.Context, taskID string, sub *store.SubAgent, cfg StartConfig, timeout time.Duration) {
	started := time.Now()

	prior, err := r.lifecycle.GetMessages(ctx, sub.ID, 0)
	if err != nil {
		slog.Warn("background task: loading history failed", "task", taskID, "error", err)
		prior = nil
	}

	msgs := make([]providers.Message, 0, len(prior)+1)
	for _, m := range prior {
		msgs = append(msgs, providers.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, providers.Message{Role: store.RoleUser, Content: cfg.Task})

	loop := agent.NewLoop(r.provider, r.tools.Subset(sub.ToolsGranted))
	result := loop.Run(ctx, agent.RunRequest{
		RunID:         taskID,
		UserID:        cfg.UserID,
		RunKind:       "subagent",
		SystemPrompt:  sub.SystemPrompt,
		Messages:      msgs,
		MaxIterations: r.cfg.SubagentIterations,
		Timeout:       timeout,
	})

	// Persist the exchange on the sub-agent's conversation.
	if err := r.lifecycle.SaveMessage(ctx, sub.ID, store.RoleUser, cfg.Task); err != nil {
		slog.Warn("background task: save user message failed", "task", taskID, "error", err)
	}
	if result.Response != "" {
		if err := r.lifecycle.SaveMessage(ctx, sub.ID, store.RoleAssistant, result.Response); err != nil {
			slog.Warn("background task: save response failed", "task", taskID, "error", err)
		}
	}

	if err := r.lifecycle.RecordTaskResult(ctx, sub.ID, result.Success); err != nil {
		slog.Warn("background task: record result failed", "task", taskID, "error", err)
	}

	if result.Success && cfg.TemplateAutoCreate != nil {
		r.ensureTemplate(ctx, cfg.UserID, cfg.TemplateAutoCreate)
	}

	r.recordMetric(ctx, cfg, started, result)
	r.finalize(ctx, taskID, cfg.UserID, result)
}

// ensureTemplate records usage on the best-matching existing template or
// creates a new one from the spec. A successful run contributes score 1.0.
func (r *Runner) ensureTemplate(ctx context.Context, userID string, spec *TemplateSpec) {
	tpl, ok, err := r.templates.FindBestMatch(ctx, userID, spec.Name+" "+spec.RoleDescription)
	if err != nil {
		slog.Warn("template auto-create: match failed", "error", err)
		return
	}
	if !ok {
		tpl, err = r.templates.Create(ctx, templates.CreateSpec{
			UserID:          userID,
			Name:            spec.Name,
			RoleDescription: spec.RoleDescription,
			DefaultTools:    spec.DefaultTools,
			DefaultTier:     spec.DefaultTier,
			Tags:            spec.Tags,
		})
		if err != nil {
			slog.Warn("template auto-create failed", "error", err)
			return
		}
	}
	if err := r.templates.RecordUsage(ctx, tpl.ID, 1.0); err != nil {
		slog.Warn("template usage record failed", "template", tpl.ID, "error", err)
	}
}

func (r *Runner) recordMetric(ctx context.Context, cfg StartConfig, started time.Time, result *agent.RunResult) {
	err := r.store.InsertMetric(ctx, &store.TaskMetric{
		UserID:     cfg.UserID,
		TaskType:   taskType(cfg),
		Tier:       cfg.Tier,
		DurationMs: time.Since(started).Milliseconds(),
		Iterations: result.Iterations,
		Success:    result.Success,
	})
	if err != nil {
		slog.Debug("task metric insert failed", "error", err)
	}
}

func (r *Runner) finalize(ctx context.Context, taskID, userID string, result *agent.RunResult) {
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		slog.Warn("background task: row vanished", "task", taskID, "error", err)
		return
	}

	now := store.NowMilli()
	task.CompletedAt = &now
	task.Result = result.Response
	topic := protocol.TopicTaskCompleted
	if result.Success {
		task.Status = store.TaskCompleted
	} else {
		task.Status = store.TaskFailed
		topic = protocol.TopicTaskFailed
	}
	if err := r.store.UpdateTask(ctx, task); err != nil {
		slog.Warn("background task: finalize failed", "task", taskID, "error", err)
		return
	}

	r.mu.Lock()
	h := r.handles[taskID]
	cancelled := h != nil && h.cancelled
	delete(r.handles, taskID)
	r.mu.Unlock()

	if cancelled {
		// The record completed normally; the caller lost interest.
		slog.Debug("background task finished after cancel", "task", taskID)
	}

	r.emit(topic, userID, map[string]any{
		"task_id": taskID, "agent_id": task.AgentID, "success": result.Success,
	})
	slog.Info("background task finished",
		"task", taskID, "status", task.Status, "iterations", result.Iterations)
}

// Undelivered returns completed/failed tasks not yet surfaced to the user,
// oldest first.
func (r *Runner) Undelivered(ctx context.Context, userID string) ([]store.BackgroundTask, error) {
	return r.store.ListUndelivered(ctx, userID)
}

// MarkDelivered flags a finished task as surfaced to the user.
func (r *Runner) MarkDelivered(ctx context.Context, taskID string) error {
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != store.TaskCompleted && task.Status != store.TaskFailed {
		return fmt.Errorf("task %s is %s; only finished tasks can be delivered", taskID, task.Status)
	}
	now := store.NowMilli()
	task.Status = store.TaskDelivered
	task.DeliveredAt = &now
	return r.store.UpdateTask(ctx, task)
}

// Status returns the task row.
func (r *Runner) Status(ctx context.Context, taskID string) (*store.BackgroundTask, error) {
	return r.store.GetTask(ctx, taskID)
}

// Cancel drops the in-memory interest in a task. Best-effort only: the run
// continues and its record completes normally.
func (r *Runner) Cancel(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[taskID]
	if !ok {
		return false
	}
	h.cancelled = true
	return true
}

// CleanupStale fails running rows older than the cutoff. In-flight promises
// lost to a crash persist as running and go stale; this reaps them.
func (r *Runner) CleanupStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := store.NowMilli() - olderThan.Milliseconds()
	stale, err := r.store.ListRunningBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range stale {
		task := &stale[i]

		// Skip tasks this process still tracks.
		r.mu.Lock()
		_, live := r.handles[task.ID]
		r.mu.Unlock()
		if live {
			continue
		}

		now := store.NowMilli()
		task.Status = store.TaskFailed
		task.Result = "stale: no longer running"
		task.CompletedAt = &now
		if err := r.store.UpdateTask(ctx, task); err != nil {
			slog.Warn("stale task cleanup failed", "task", task.ID, "error", err)
			continue
		}
		count++
	}
	if count > 0 {
		slog.Info("stale background tasks reaped", "count", count)
	}
	return count, nil
}

func (r *Runner) emit(topic, userID string, data map[string]any) {
	if r.events != nil {
		r.events.Emit(topic, userID, data)
	}
}
