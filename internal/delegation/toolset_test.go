package delegation

import (
	"context"
	"path/filepath"
	"strings"
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

type stubProvider struct{ text string }

func (p *stubProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: p.text, FinishReason: "stop"}, nil
}
func (p *stubProvider) ID() string      { return "stub" }
func (p *stubProvider) Name() string    { return "Stub" }
func (p *stubProvider) Available() bool { return true }

type env struct {
	reg       *tools.Registry
	lifecycle *subagents.Manager
	runner    *background.Runner
	templates *templates.Manager
	db        *sqlite.DB
}

func newEnv(t *testing.T) *env {
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
	runner := background.NewRunner(db, sessions.NewQueue(), lifecycle, tmpl,
		&stubProvider{text: "Done: 3 results."}, tools.NewRegistry(), events,
		background.NewEstimator(db), background.Config{DefaultTimeout: 5 * time.Second})
	bb := blackboard.New(db, events)

	reg := tools.NewRegistry()
	NewToolset(lifecycle, tmpl, runner, bb).Register(reg)
	return &env{reg: reg, lifecycle: lifecycle, runner: runner, templates: tmpl, db: db}
}

func exec(t *testing.T, e *env, name string, args map[string]any) *tools.Result {
	t.Helper()
	return e.reg.Execute(context.Background(), name, args)
}

func waitAgentTasks(t *testing.T, e *env, userID string, total int) []store.SubAgent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		agents, _ := e.lifecycle.ListActive(context.Background(), userID)
		sum := 0
		for _, a := range agents {
			sum += a.TotalTasks
		}
		if sum >= total {
			return agents
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("agents for %s never reached %d total tasks", userID, total)
	return nil
}

func TestDelegateTaskCreatesAndRuns(t *testing.T) {
	e := newEnv(t)

	res := exec(t, e, "delegate_task", map[string]any{
		"task": "Research quantum computing", "role": "Research Analyst", "user_id": "u1",
	})
	if res.IsError {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.ForLLM, "Research Analyst") || !strings.Contains(res.ForLLM, "new") {
		t.Errorf("confirmation = %q", res.ForLLM)
	}
	if !res.Async {
		t.Error("delegation must be async")
	}

	agents := waitAgentTasks(t, e, "u1", 1)
	if len(agents) != 1 || agents[0].Role != "Research Analyst" {
		t.Fatalf("agents = %+v", agents)
	}
	if agents[0].TotalTasks != 1 || agents[0].SuccessfulTasks != 1 {
		t.Errorf("counters = %+v", agents[0])
	}

	// Template auto-created on success.
	tpls, _ := e.templates.List(context.Background(), "u1")
	if len(tpls) != 1 || tpls[0].Name != "Research Analyst" ||
		tpls[0].TimesUsed != 1 || tpls[0].AvgPerformance != 1.0 {
		t.Errorf("templates = %+v", tpls)
	}
}

func TestDelegateTaskReusesMatchingAgent(t *testing.T) {
	e := newEnv(t)

	exec(t, e, "delegate_task", map[string]any{
		"task": "Research quantum computing", "role": "Research Analyst", "user_id": "u1",
	})
	waitAgentTasks(t, e, "u1", 1)

	res := exec(t, e, "delegate_task", map[string]any{
		"task": "Research AI history", "role": "Research Specialist", "user_id": "u1",
	})
	if !strings.Contains(res.ForLLM, "reused") {
		t.Errorf("confirmation = %q", res.ForLLM)
	}

	agents := waitAgentTasks(t, e, "u1", 2)
	if len(agents) != 1 {
		t.Fatalf("agent count = %d, want 1 (reused)", len(agents))
	}
	if agents[0].TotalTasks != 2 {
		t.Errorf("total tasks = %d, want 2", agents[0].TotalTasks)
	}
}

func TestDelegateTaskValidation(t *testing.T) {
	e := newEnv(t)
	res := exec(t, e, "delegate_task", map[string]any{"role": "R", "user_id": "u1"})
	if !res.IsError || !strings.HasPrefix(res.ForLLM, "Error:") {
		t.Errorf("missing-param result = %+v", res)
	}
	res = exec(t, e, "delegate_task", map[string]any{"task": "", "role": "R", "user_id": "u1"})
	if !res.IsError {
		t.Error("empty task accepted")
	}
}

func TestDelegateTasksBatch(t *testing.T) {
	e := newEnv(t)

	res := exec(t, e, "delegate_tasks", map[string]any{
		"user_id": "u1",
		"tasks": []any{
			map[string]any{"task": "t1", "role": "Researcher"},
			map[string]any{"task": "t2", "role": "Writer"},
			map[string]any{"role": "Missing Task"},
		},
	})
	if res.IsError {
		t.Fatalf("batch errored wholesale: %+v", res)
	}
	lines := strings.Split(res.ForLLM, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %v", lines)
	}
	if !strings.Contains(lines[2], "Error") {
		t.Errorf("bad entry not reported: %q", lines[2])
	}
	waitAgentTasks(t, e, "u1", 2)
}

func TestDelegateToExistingRevives(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sub, _ := e.lifecycle.Create(ctx, subagents.CreateSpec{UserID: "u1", Role: "Worker"})
	e.lifecycle.Dismiss(ctx, sub.ID)

	res := exec(t, e, "delegate_to_existing", map[string]any{
		"agent_id": sub.ID, "task": "come back", "user_id": "u1",
	})
	if res.IsError {
		t.Fatalf("result = %+v", res)
	}

	got, _ := e.lifecycle.Get(ctx, sub.ID)
	if got.Status != store.AgentActive || got.DeletedAt != nil {
		t.Errorf("agent not revived: %+v", got)
	}
	waitAgentTasks(t, e, "u1", 1)

	// Unknown agent → Error: ... not found.
	res = exec(t, e, "delegate_to_existing", map[string]any{
		"agent_id": "ghost", "task": "t", "user_id": "u1",
	})
	if !res.IsError || !strings.Contains(res.ForLLM, "not found") {
		t.Errorf("unknown agent result = %+v", res)
	}
}

func TestDelegateBackgroundReturnsTaskID(t *testing.T) {
	e := newEnv(t)

	res := exec(t, e, "delegate_background", map[string]any{
		"task": "t", "role": "Worker", "user_id": "u1",
	})
	if res.IsError || !strings.HasPrefix(res.ForLLM, "task_id: ") {
		t.Fatalf("result = %+v", res)
	}
	taskID := strings.TrimPrefix(res.ForLLM, "task_id: ")

	deadline := time.Now().Add(5 * time.Second)
	for {
		task, err := e.runner.Status(context.Background(), taskID)
		if err == nil && task.Status == store.TaskCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListAndManageSubAgents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sub, _ := e.lifecycle.Create(ctx, subagents.CreateSpec{UserID: "u1", Role: "Worker"})

	res := exec(t, e, "list_sub_agents", map[string]any{"user_id": "u1"})
	if !strings.Contains(res.ForLLM, "Worker") || !strings.Contains(res.ForLLM, "active") {
		t.Errorf("list = %q", res.ForLLM)
	}

	res = exec(t, e, "manage_sub_agent", map[string]any{"agent_id": sub.ID, "action": "dismiss"})
	if res.IsError {
		t.Fatalf("dismiss = %+v", res)
	}
	res = exec(t, e, "list_sub_agents", map[string]any{"user_id": "u1"})
	if strings.Contains(res.ForLLM, "Worker") {
		t.Error("dismissed agent still listed without include_deleted")
	}
	res = exec(t, e, "list_sub_agents", map[string]any{"user_id": "u1", "include_deleted": true})
	if !strings.Contains(res.ForLLM, "soft_deleted") {
		t.Errorf("include_deleted list = %q", res.ForLLM)
	}

	res = exec(t, e, "manage_sub_agent", map[string]any{"agent_id": sub.ID, "action": "revive"})
	if res.IsError {
		t.Fatalf("revive = %+v", res)
	}
	res = exec(t, e, "manage_sub_agent", map[string]any{"agent_id": sub.ID, "action": "explode"})
	if !res.IsError {
		t.Error("unknown action accepted")
	}
	res = exec(t, e, "manage_sub_agent", map[string]any{"agent_id": "ghost", "action": "dismiss"})
	if !res.IsError {
		t.Error("missing agent accepted")
	}
}

func TestManageTemplates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tpl, _ := e.templates.Create(ctx, templates.CreateSpec{
		UserID: "u1", Name: "Researcher", RoleDescription: "does research",
	})

	res := exec(t, e, "manage_template", map[string]any{"action": "list", "user_id": "u1"})
	if !strings.Contains(res.ForLLM, "Researcher") {
		t.Errorf("list = %q", res.ForLLM)
	}

	res = exec(t, e, "manage_template", map[string]any{
		"action": "update", "user_id": "u1", "template_id": tpl.ID, "name": "Deep Researcher",
	})
	if res.IsError {
		t.Fatalf("update = %+v", res)
	}
	got, _ := e.templates.Get(ctx, tpl.ID)
	if got.Name != "Deep Researcher" {
		t.Errorf("name = %q", got.Name)
	}

	res = exec(t, e, "manage_template", map[string]any{
		"action": "delete", "user_id": "u1", "template_id": tpl.ID,
	})
	if res.IsError {
		t.Fatalf("delete = %+v", res)
	}
}

func TestConfirmTask(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res := exec(t, e, "delegate_background", map[string]any{
		"task": "t", "role": "Worker", "user_id": "u1",
	})
	taskID := strings.TrimPrefix(res.ForLLM, "task_id: ")

	deadline := time.Now().Add(5 * time.Second)
	for {
		task, err := e.runner.Status(ctx, taskID)
		if err == nil && task.Status == store.TaskCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	res = exec(t, e, "confirm_task", map[string]any{"task_id": taskID})
	if res.IsError {
		t.Fatalf("confirm = %+v", res)
	}
	inbox, _ := e.runner.Undelivered(ctx, "u1")
	if len(inbox) != 0 {
		t.Error("confirmed task still undelivered")
	}

	res = exec(t, e, "confirm_task", map[string]any{"task_id": "ghost"})
	if !res.IsError {
		t.Error("confirm of unknown task accepted")
	}
}

func TestBlackboardTool(t *testing.T) {
	e := newEnv(t)

	res := exec(t, e, "blackboard", map[string]any{
		"action": "post", "user_id": "u3", "problem": "Best deployment?",
	})
	if res.IsError {
		t.Fatalf("post = %+v", res)
	}
	pid := strings.TrimPrefix(res.ForLLM, "problem_id: ")

	for _, conf := range []float64{0.9, 0.7} {
		res = exec(t, e, "blackboard", map[string]any{
			"action": "propose", "problem_id": pid,
			"agent_role": "Engineer", "proposal": "canary", "confidence": conf,
		})
		if res.IsError {
			t.Fatalf("propose = %+v", res)
		}
	}

	res = exec(t, e, "blackboard", map[string]any{"action": "proposals", "problem_id": pid})
	if !strings.Contains(res.ForLLM, "[0.90]") {
		t.Errorf("proposals = %q", res.ForLLM)
	}

	res = exec(t, e, "blackboard", map[string]any{"action": "list", "user_id": "u3"})
	if !strings.Contains(res.ForLLM, "2 proposals") {
		t.Errorf("list = %q", res.ForLLM)
	}

	res = exec(t, e, "blackboard", map[string]any{
		"action": "resolve", "problem_id": pid, "synthesis": "Use canary",
	})
	if res.IsError {
		t.Fatalf("resolve = %+v", res)
	}
	res = exec(t, e, "blackboard", map[string]any{"action": "list", "user_id": "u3"})
	if !strings.Contains(res.ForLLM, "No open problems") {
		t.Errorf("post-resolve list = %q", res.ForLLM)
	}
}
