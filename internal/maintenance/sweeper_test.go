package maintenance

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hearthstack/hearth/internal/background"
	"github.com/hearthstack/hearth/internal/blackboard"
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

type noopProvider struct{}

func (noopProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: "ok"}, nil
}
func (noopProvider) ID() string      { return "noop" }
func (noopProvider) Name() string    { return "Noop" }
func (noopProvider) Available() bool { return true }

func TestSweepRunsAllCleanups(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	events := bus.New(10)
	matcher := match.New()
	lifecycle := subagents.NewManager(db, matcher, events, nil,
		subagents.Config{Retention: time.Hour})
	tmpl := templates.NewManager(db, matcher, 0)
	runner := background.NewRunner(db, sessions.NewQueue(), lifecycle, tmpl,
		noopProvider{}, tools.NewRegistry(), events, nil,
		background.Config{DefaultTimeout: time.Second})
	bb := blackboard.New(db, events)

	// Expired tombstone.
	old := store.NowMilli() - (2 * time.Hour).Milliseconds()
	deadAgent := &store.SubAgent{
		ID: store.GenNewID(), UserID: "u1", Role: "gone", SystemPrompt: "p",
		Status: store.AgentSoftDeleted, DeletedAt: &old,
		CreatedAt: old, LastActiveAt: old,
	}
	if err := db.InsertAgent(ctx, deadAgent); err != nil {
		t.Fatal(err)
	}

	// Stale running task.
	db.InsertTask(ctx, &store.BackgroundTask{
		ID: store.GenNewID(), UserID: "u1", AgentID: "x",
		TaskDescription: "orphan", Status: store.TaskRunning, StartedAt: old,
	})

	// Old resolved blackboard problem.
	pid, _ := bb.PostProblem(ctx, "u1", "p")
	bb.Resolve(ctx, pid, "s")
	time.Sleep(2 * time.Millisecond)

	s := NewSweeper(lifecycle, runner, bb, Config{
		StaleTaskAge:  time.Hour,
		BlackboardAge: time.Millisecond,
	})
	s.Sweep(ctx)

	if _, err := db.GetAgent(ctx, deadAgent.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired tombstone survived: %v", err)
	}
	stale, _ := db.ListRunningBefore(ctx, store.NowMilli())
	if len(stale) != 0 {
		t.Errorf("stale task still running")
	}
	active, _ := bb.GetActiveProblems(ctx, "u1")
	if len(active) != 0 {
		t.Errorf("blackboard not swept")
	}
}

func TestInvalidScheduleFallsBack(t *testing.T) {
	s := NewSweeper(nil, nil, nil, Config{Schedule: "not a cron"})
	if s.cfg.Schedule != "not a cron" {
		t.Fatal("sanitize must not validate; Run does")
	}
	// Run validates and falls back; cancelled context returns promptly.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)
}
