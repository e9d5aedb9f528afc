// Package blackboard implements the shared problem space: the primary
// agent posts a problem, sub-agents post scored proposals, and the primary
// agent resolves the problem with a synthesis.
package blackboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hearthstack/hearth/internal/bus"
	"github.com/hearthstack/hearth/internal/store"
	"github.com/hearthstack/hearth/pkg/protocol"
)

// synthesisPreviewLen bounds the synthesis payload in resolve events.
const synthesisPreviewLen = 200

// Store is the subset of the persistence store the blackboard consumes.
type Store interface {
	InsertEntry(ctx context.Context, e *store.BlackboardEntry) error
	GetEntry(ctx context.Context, id string) (*store.BlackboardEntry, error)
	UpdateEntry(ctx context.Context, e *store.BlackboardEntry) error
	ListProposals(ctx context.Context, problemID string) ([]store.BlackboardEntry, error)
	ListOpenProblems(ctx context.Context, userID string) ([]store.BlackboardEntry, error)
	CountProposals(ctx context.Context, problemID string) (int, error)
	DeleteResolvedBefore(ctx context.Context, before int64) (int, error)
}

// Blackboard is the collaborative problem space.
type Blackboard struct {
	store  Store
	events *bus.Bus
}

// New creates a blackboard.
func New(s Store, events *bus.Bus) *Blackboard {
	return &Blackboard{store: s, events: events}
}

// PostProblem opens a new problem and returns its id.
func (b *Blackboard) PostProblem(ctx context.Context, userID, problem string) (string, error) {
	if userID == "" || problem == "" {
		return "", fmt.Errorf("post problem: user_id and problem are required")
	}
	id := store.GenNewID()
	e := &store.BlackboardEntry{
		ID:          id,
		UserID:      userID,
		ProblemID:   id,
		ProblemText: problem,
		Status:      store.ProblemOpen,
		CreatedAt:   store.NowMilli(),
	}
	if err := b.store.InsertEntry(ctx, e); err != nil {
		return "", fmt.Errorf("insert problem: %w", err)
	}
	slog.Info("blackboard problem posted", "problem", id, "user", userID)
	return id, nil
}

// AddProposal stores a scored proposal for a problem. Confidence is clamped
// to [0,1]; the user id is inherited from the problem root, falling back to
// "unknown" when the root is missing.
func (b *Blackboard) AddProposal(ctx context.Context, problemID, agentID, agentRole, proposal string, confidence float64) (string, error) {
	if problemID == "" || proposal == "" {
		return "", fmt.Errorf("add proposal: problem_id and proposal are required")
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	userID := "unknown"
	if root, err := b.store.GetEntry(ctx, problemID); err == nil {
		userID = root.UserID
	}

	e := &store.BlackboardEntry{
		ID:         store.GenNewID(),
		UserID:     userID,
		ProblemID:  problemID,
		AgentID:    agentID,
		AgentRole:  agentRole,
		Proposal:   proposal,
		Confidence: confidence,
		Status:     store.ProblemOpen,
		CreatedAt:  store.NowMilli(),
	}
	if err := b.store.InsertEntry(ctx, e); err != nil {
		return "", fmt.Errorf("insert proposal: %w", err)
	}

	b.emit(protocol.TopicBlackboardProposal, userID, map[string]any{
		"problem_id": problemID,
		"agent_id":   agentID,
		"agent_role": agentRole,
		"confidence": confidence,
	})
	return e.ID, nil
}

// GetProposals returns a problem's proposals, highest confidence first.
func (b *Blackboard) GetProposals(ctx context.Context, problemID string) ([]store.BlackboardEntry, error) {
	return b.store.ListProposals(ctx, problemID)
}

// Resolve closes a problem with a synthesis. Proposals remain queryable.
func (b *Blackboard) Resolve(ctx context.Context, problemID, synthesis string) error {
	root, err := b.store.GetEntry(ctx, problemID)
	if err != nil {
		return fmt.Errorf("resolve: problem %s: %w", problemID, err)
	}
	if !root.IsProblem() {
		return fmt.Errorf("resolve: %s is a proposal, not a problem", problemID)
	}
	root.Status = store.ProblemResolved
	root.Synthesis = synthesis
	if err := b.store.UpdateEntry(ctx, root); err != nil {
		return fmt.Errorf("resolve: update problem: %w", err)
	}

	preview := synthesis
	if len(preview) > synthesisPreviewLen {
		preview = preview[:synthesisPreviewLen] + "..."
	}
	b.emit(protocol.TopicBlackboardResolved, root.UserID, map[string]any{
		"problem_id": problemID,
		"synthesis":  preview,
	})
	slog.Info("blackboard problem resolved", "problem", problemID)
	return nil
}

// ActiveProblem is an open problem with its live proposal count.
type ActiveProblem struct {
	ProblemID     string `json:"problem_id"`
	ProblemText   string `json:"problem_text"`
	ProposalCount int    `json:"proposal_count"`
	CreatedAt     int64  `json:"created_at"`
}

// GetActiveProblems returns a user's open problems with proposal counts.
func (b *Blackboard) GetActiveProblems(ctx context.Context, userID string) ([]ActiveProblem, error) {
	roots, err := b.store.ListOpenProblems(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ActiveProblem, 0, len(roots))
	for _, root := range roots {
		n, err := b.store.CountProposals(ctx, root.ProblemID)
		if err != nil {
			return nil, err
		}
		out = append(out, ActiveProblem{
			ProblemID:     root.ProblemID,
			ProblemText:   root.ProblemText,
			ProposalCount: n,
			CreatedAt:     root.CreatedAt,
		})
	}
	return out, nil
}

// Cleanup hard-deletes resolved problems (and their proposals) older than
// the cutoff.
func (b *Blackboard) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := store.NowMilli() - olderThan.Milliseconds()
	n, err := b.store.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("blackboard retention cleanup", "removed", n)
	}
	return n, nil
}

func (b *Blackboard) emit(topic, userID string, data map[string]any) {
	if b.events != nil {
		b.events.Emit(topic, userID, data)
	}
}
