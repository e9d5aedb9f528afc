package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hearthstack/hearth/internal/compactor"
	"github.com/hearthstack/hearth/internal/providers"
	"github.com/hearthstack/hearth/internal/sessions"
	"github.com/hearthstack/hearth/internal/store"
	"github.com/hearthstack/hearth/internal/tools"
)

// storageFailureReply is the user-visible response when the store fails
// mid-turn; the orchestrator keeps serving subsequent turns.
const storageFailureReply = "Something went wrong while saving this conversation. Please try again."

// DefaultHistoryLimit bounds how many stored messages seed a primary turn.
const DefaultHistoryLimit = 50

// Store is the subset of the persistence store the orchestrator consumes.
type Store interface {
	SaveMessage(ctx context.Context, m *store.Message) error
	ListMessages(ctx context.Context, userID string, limit int) ([]store.Message, error)
}

// Inbox surfaces undelivered background results. The background runner
// satisfies it; the orchestrator deliberately sees nothing more of it.
type Inbox interface {
	Undelivered(ctx context.Context, userID string) ([]store.BackgroundTask, error)
}

// Config tunes primary turns.
type Config struct {
	AgentName     string
	MaxIterations int           // primary loop cap
	TurnTimeout   time.Duration // whole-turn timeout
	HistoryLimit  int
}

func (c *Config) sanitize() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 24
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 5 * time.Minute
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
}

// OrientationFunc supplies the heartware orientation block.
type OrientationFunc func(ctx context.Context, userID string) string

// Orchestrator wires the runtime into user-facing turns: it serializes
// turns per user through the session queue, seeds the loop with history and
// the latest compaction summary, and triggers compaction after each turn.
type Orchestrator struct {
	store       Store
	provider    providers.Provider
	queue       *sessions.Queue
	tools       *tools.Registry
	inbox       Inbox
	compactor   *compactor.Compactor
	orientation OrientationFunc
	cfg         Config
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(
	s Store,
	provider providers.Provider,
	queue *sessions.Queue,
	registry *tools.Registry,
	inbox Inbox,
	comp *compactor.Compactor,
	orientation OrientationFunc,
	cfg Config,
) *Orchestrator {
	cfg.sanitize()
	return &Orchestrator{
		store:       s,
		provider:    provider,
		queue:       queue,
		tools:       registry,
		inbox:       inbox,
		compactor:   comp,
		orientation: orientation,
		cfg:         cfg,
	}
}

// AgentLoop processes one user message and returns the assistant response.
// Turns for the same user are strictly serialized; distinct users run
// concurrently. The optional stream callback receives loop events.
func (o *Orchestrator) AgentLoop(ctx context.Context, message, userID string, onEvent func(Event)) (string, error) {
	if message == "" || userID == "" {
		return "", fmt.Errorf("agent loop: message and user_id are required")
	}

	handle := o.queue.Enqueue(sessions.UserKey(userID), func(qctx context.Context) (any, error) {
		return o.runTurn(qctx, message, userID, onEvent), nil
	})

	res, err := handle.Wait(ctx)
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// runTurn executes inside the user's queue slot.
func (o *Orchestrator) runTurn(ctx context.Context, message, userID string, onEvent func(Event)) string {
	turnStart := store.NowMilli()

	if err := o.store.SaveMessage(ctx, &store.Message{
		UserID: userID, Role: store.RoleUser, Content: message,
	}); err != nil {
		slog.Error("turn aborted: user message save failed", "user", userID, "error", err)
		return storageFailureReply
	}

	history, err := o.store.ListMessages(ctx, userID, o.cfg.HistoryLimit)
	if err != nil {
		slog.Error("turn aborted: history load failed", "user", userID, "error", err)
		return storageFailureReply
	}

	msgs := make([]providers.Message, 0, len(history))
	for _, m := range history {
		if m.Role != store.RoleUser && m.Role != store.RoleAssistant {
			continue
		}
		msgs = append(msgs, providers.Message{Role: m.Role, Content: m.Content})
	}

	result := NewLoop(o.provider, o.tools).Run(ctx, RunRequest{
		RunID:         uuid.NewString(),
		UserID:        userID,
		RunKind:       "primary",
		SystemPrompt:  o.buildPrompt(ctx, userID),
		Messages:      msgs,
		MaxIterations: o.cfg.MaxIterations,
		Timeout:       o.cfg.TurnTimeout,
		OnEvent:       onEvent,
	})

	response := result.Response
	if !result.Success {
		slog.Warn("primary turn did not finish cleanly",
			"user", userID, "iterations", result.Iterations, "response", truncate(response, 120))
		if response == "" {
			response = "I wasn't able to finish that. Please try again."
		}
		// Failure paths emit no text event from the loop; streaming
		// clients still need the final content.
		if onEvent != nil {
			onEvent(Event{Type: "text", Content: response})
		}
	}

	if err := o.store.SaveMessage(ctx, &store.Message{
		UserID: userID, Role: store.RoleAssistant, Content: response,
	}); err != nil {
		slog.Error("assistant message save failed", "user", userID, "error", err)
	}

	// Compaction runs inside the queued turn so it cannot race another turn
	// for this user. The turn's own messages are never eligible. Failures
	// only mean history does not shrink this time.
	if o.compactor != nil {
		if _, _, err := o.compactor.MaybeCompactBefore(ctx, userID, turnStart); err != nil {
			slog.Warn("compaction failed", "user", userID, "error", err)
		}
	}

	return response
}

func (o *Orchestrator) buildPrompt(ctx context.Context, userID string) string {
	cfg := PromptConfig{
		AgentName: o.cfg.AgentName,
		ToolNames: o.tools.List(),
	}
	if o.orientation != nil {
		cfg.Orientation = o.orientation(ctx, userID)
	}
	if o.compactor != nil {
		cfg.Summary = o.compactor.LatestSummary(ctx, userID)
	}
	if o.inbox != nil {
		cfg.PendingNote = o.pendingNote(ctx, userID)
	}
	return BuildPrimaryPrompt(cfg)
}

// pendingNote formats the undelivered background results for the prompt.
func (o *Orchestrator) pendingNote(ctx context.Context, userID string) string {
	inbox, err := o.inbox.Undelivered(ctx, userID)
	if err != nil || len(inbox) == 0 {
		return ""
	}
	var b []byte
	for _, task := range inbox {
		line := fmt.Sprintf("- task %s (%s): %s\n",
			task.ID, task.Status, truncate(task.Result, 400))
		b = append(b, line...)
	}
	return string(b)
}
