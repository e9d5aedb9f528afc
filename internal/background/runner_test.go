package background

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hearthstack/hearth/internal/bus"
	"github.com/hearthstack/hearth/internal/match"
	"github.com/hearthstack/hearth/internal/providers"
	"github.com/hearthstack/hearth/internal/sessions"
	"github.com/hearthstack/hearth/internal/store"
	"github.com/hearthstack/hearth/internal/store/sqlite"
	"github.com/hearthstack/hearth/internal/subagents"
	"github.com/hearthstack/hearth/internal/templates"
	"github.com/hearthstack/hearth/internal/tools"
)

// scriptedProvider returns canned text responses, optionally delayed.
type scriptedProvider struct {
	mu      sync.Mutex
	text    string
	fail    bool
	delay   time.Duration
	calls   int
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.fail {
		return nil, context.DeadlineExceeded
	}
	return &providers.ChatResponse{Content: p.text, FinishReason: "stop"}, nil
}

func (p *scriptedProvider) ID() string      { return "scripted" }
func (p *scriptedProvider) Name() string    { return "Scripted" }
func (p *scriptedProvider) Available() bool { return true }

type fixture struct {
	db        *sqlite.DB
	runner    *Runner
	lifecycle *subagents.Manager
	templates *templates.Manager
	events    *bus.Bus
	queue     *sessions.Queue
}

func newFixture(t *testing.T, provider providers.Provider) *fixture {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	events := bus.New(20)
	matcher := match.New()
	lifecycle := subagents.NewManager(db, matcher, events, nil, subagents.Config{})
	tmpl := templates.NewManager(db, matcher, 0)
	queue := sessions.NewQueue()

	runner := NewRunner(db, queue, lifecycle, tmpl, provider, tools.NewRegistry(),
		events, NewEstimator(db), Config{DefaultTimeout: 5 * time.Second})
	return &fixture{db: db, runner: runner, lifecycle: lifecycle, templates: tmpl, events: events, queue: queue}
}

func waitForStatus(t *testing.T, r *Runner, taskID string, statuses ...string) *store.BackgroundTask {
	t.Helper()
	want := make(map[string]bool)
	for _, s := range statuses {
		want[s] = true
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := r.Status(context.Background(), taskID)
		if err == nil && want[task.Status] {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %v", taskID, statuses)
	return nil
}

func TestStartRunsTaskToCompletion(t *testing.T) {
	f := newFixture(t, &scriptedProvider{text: "Done: 3 results."})
	ctx := context.Background()

	sub, err := f.lifecycle.Create(ctx, subagents.CreateSpec{UserID: "u1", Role: "Research Analyst"})
	if err != nil {
		t.Fatal(err)
	}

	taskID, err := f.runner.Start(ctx, StartConfig{
		UserID: "u1", AgentID: sub.ID, Task: "Research quantum computing",
		TemplateAutoCreate: &TemplateSpec{
			Name: "Research Analyst", RoleDescription: "Research Analyst",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	task := waitForStatus(t, f.runner, taskID, store.TaskCompleted)
	if task.Result != "Done: 3 results." || task.CompletedAt == nil {
		t.Errorf("task = %+v", task)
	}

	// Performance accounting on the agent.
	got, _ := f.lifecycle.Get(ctx, sub.ID)
	if got.TotalTasks != 1 || got.SuccessfulTasks != 1 || got.PerformanceScore != 1.0 {
		t.Errorf("agent counters = %+v", got)
	}

	// Conversation persisted under the synthetic user id.
	msgs, _ := f.lifecycle.GetMessages(ctx, sub.ID, 0)
	if len(msgs) != 2 || msgs[0].Role != store.RoleUser || msgs[1].Role != store.RoleAssistant {
		t.Errorf("agent conversation = %+v", msgs)
	}

	// Template auto-created with one recorded usage.
	tpls, _ := f.templates.List(ctx, "u1")
	if len(tpls) != 1 || tpls[0].Name != "Research Analyst" {
		t.Fatalf("templates = %+v", tpls)
	}
	if tpls[0].TimesUsed != 1 || tpls[0].AvgPerformance != 1.0 {
		t.Errorf("template stats = used=%d avg=%v", tpls[0].TimesUsed, tpls[0].AvgPerformance)
	}

	// Events.
	if len(f.events.Recent("task:queued", 1)) != 1 {
		t.Error("missing task:queued")
	}
	if len(f.events.Recent("task:completed", 1)) != 1 {
		t.Error("missing task:completed")
	}
}

func TestSecondRunRecordsUsageOnExistingTemplate(t *testing.T) {
	f := newFixture(t, &scriptedProvider{text: "ok"})
	ctx := context.Background()

	sub, _ := f.lifecycle.Create(ctx, subagents.CreateSpec{UserID: "u1", Role: "Research Analyst"})
	spec := &TemplateSpec{Name: "Research Analyst", RoleDescription: "Research Analyst"}

	for i := 0; i < 2; i++ {
		taskID, err := f.runner.Start(ctx, StartConfig{
			UserID: "u1", AgentID: sub.ID, Task: "Research things",
			TemplateAutoCreate: spec,
		})
		if err != nil {
			t.Fatal(err)
		}
		waitForStatus(t, f.runner, taskID, store.TaskCompleted)
	}

	tpls, _ := f.templates.List(ctx, "u1")
	if len(tpls) != 1 {
		t.Fatalf("templates = %d, want 1 (reused, not duplicated)", len(tpls))
	}
	if tpls[0].TimesUsed != 2 {
		t.Errorf("times_used = %d, want 2", tpls[0].TimesUsed)
	}
}

func TestFailedRunMarksFailure(t *testing.T) {
	f := newFixture(t, &scriptedProvider{fail: true})
	ctx := context.Background()

	sub, _ := f.lifecycle.Create(ctx, subagents.CreateSpec{UserID: "u1", Role: "Worker"})
	taskID, err := f.runner.Start(ctx, StartConfig{
		UserID: "u1", AgentID: sub.ID, Task: "doomed",
		TemplateAutoCreate: &TemplateSpec{Name: "Worker", RoleDescription: "Worker"},
	})
	if err != nil {
		t.Fatal(err)
	}

	task := waitForStatus(t, f.runner, taskID, store.TaskFailed)
	if task.Result == "" {
		t.Error("failed task missing error text")
	}

	got, _ := f.lifecycle.Get(ctx, sub.ID)
	if got.TotalTasks != 1 || got.SuccessfulTasks != 0 {
		t.Errorf("agent counters after failure = %+v", got)
	}

	// No template auto-create on failure.
	tpls, _ := f.templates.List(ctx, "u1")
	if len(tpls) != 0 {
		t.Errorf("template created on failed run")
	}

	if len(f.events.Recent("task:failed", 1)) != 1 {
		t.Error("missing task:failed event")
	}
}

func TestInboxDeliveryFlow(t *testing.T) {
	f := newFixture(t, &scriptedProvider{text: "result"})
	ctx := context.Background()

	sub, _ := f.lifecycle.Create(ctx, subagents.CreateSpec{UserID: "u1", Role: "Worker"})
	taskID, _ := f.runner.Start(ctx, StartConfig{UserID: "u1", AgentID: sub.ID, Task: "t"})
	waitForStatus(t, f.runner, taskID, store.TaskCompleted)

	inbox, err := f.runner.Undelivered(ctx, "u1")
	if err != nil || len(inbox) != 1 {
		t.Fatalf("inbox = (%d, %v), want 1", len(inbox), err)
	}

	if err := f.runner.MarkDelivered(ctx, taskID); err != nil {
		t.Fatal(err)
	}
	inbox, _ = f.runner.Undelivered(ctx, "u1")
	if len(inbox) != 0 {
		t.Error("delivered task still in inbox")
	}

	task, _ := f.runner.Status(ctx, taskID)
	if task.Status != store.TaskDelivered || task.DeliveredAt == nil {
		t.Errorf("task after delivery = %+v", task)
	}

	// Running tasks cannot be delivered.
	fresh := &store.BackgroundTask{
		ID: store.GenNewID(), UserID: "u1", AgentID: sub.ID,
		TaskDescription: "x", Status: store.TaskRunning, StartedAt: store.NowMilli(),
	}
	f.db.InsertTask(ctx, fresh)
	if err := f.runner.MarkDelivered(ctx, fresh.ID); err == nil {
		t.Error("delivering a running task should fail")
	}
}

func TestPerAgentSerialization(t *testing.T) {
	p := &scriptedProvider{text: "ok", delay: 30 * time.Millisecond}
	f := newFixture(t, p)
	ctx := context.Background()

	sub, _ := f.lifecycle.Create(ctx, subagents.CreateSpec{UserID: "u1", Role: "Worker"})

	id1, _ := f.runner.Start(ctx, StartConfig{UserID: "u1", AgentID: sub.ID, Task: "first"})
	id2, _ := f.runner.Start(ctx, StartConfig{UserID: "u1", AgentID: sub.ID, Task: "second"})

	t1 := waitForStatus(t, f.runner, id1, store.TaskCompleted)
	t2 := waitForStatus(t, f.runner, id2, store.TaskCompleted)

	if *t2.CompletedAt < *t1.CompletedAt {
		t.Errorf("serialized tasks completed out of order: %d before %d",
			*t2.CompletedAt, *t1.CompletedAt)
	}

	// Both exchanges landed on the same conversation, in order.
	msgs, _ := f.lifecycle.GetMessages(ctx, sub.ID, 0)
	if len(msgs) != 4 {
		t.Fatalf("conversation length = %d, want 4", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[2].Content != "second" {
		t.Errorf("interleaved conversation: %+v", msgs)
	}
}

func TestCancelIsBestEffort(t *testing.T) {
	f := newFixture(t, &scriptedProvider{text: "ok", delay: 50 * time.Millisecond})
	ctx := context.Background()

	sub, _ := f.lifecycle.Create(ctx, subagents.CreateSpec{UserID: "u1", Role: "Worker"})
	taskID, _ := f.runner.Start(ctx, StartConfig{UserID: "u1", AgentID: sub.ID, Task: "t"})

	if !f.runner.Cancel(taskID) {
		t.Fatal("cancel of in-flight task returned false")
	}
	// The record still completes normally.
	task := waitForStatus(t, f.runner, taskID, store.TaskCompleted)
	if task.Result != "ok" {
		t.Errorf("cancelled task result = %q", task.Result)
	}

	if f.runner.Cancel("unknown") {
		t.Error("cancel of unknown task returned true")
	}
}

func TestCleanupStale(t *testing.T) {
	f := newFixture(t, &scriptedProvider{text: "ok"})
	ctx := context.Background()

	// A running row from a dead process: no in-memory handle.
	old := &store.BackgroundTask{
		ID: store.GenNewID(), UserID: "u1", AgentID: "gone",
		TaskDescription: "orphaned", Status: store.TaskRunning,
		StartedAt: store.NowMilli() - (2 * time.Hour).Milliseconds(),
	}
	if err := f.db.InsertTask(ctx, old); err != nil {
		t.Fatal(err)
	}

	n, err := f.runner.CleanupStale(ctx, time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("CleanupStale = (%d, %v), want 1", n, err)
	}

	task, _ := f.runner.Status(ctx, old.ID)
	if task.Status != store.TaskFailed || task.Result == "" {
		t.Errorf("stale task = %+v", task)
	}
}

func TestEstimatorFromMetrics(t *testing.T) {
	f := newFixture(t, &scriptedProvider{text: "ok"})
	ctx := context.Background()

	est := NewEstimator(f.db)
	if got := est.Estimate(ctx, "delegation", "simple"); got != 0 {
		t.Errorf("estimate with no history = %v, want 0", got)
	}

	for i := 0; i < 5; i++ {
		f.db.InsertMetric(ctx, &store.TaskMetric{
			UserID: "u1", TaskType: "delegation", Tier: "simple",
			DurationMs: 60_000, Iterations: 3, Success: true,
		})
	}
	got := est.Estimate(ctx, "delegation", "simple")
	if got < minEstimatedTimeout || got > maxEstimatedTimeout {
		t.Errorf("estimate = %v outside clamp range", got)
	}
	// 60s p90 × 1.5 headroom = 90s.
	if got != 90*time.Second {
		t.Errorf("estimate = %v, want 90s", got)
	}
}
