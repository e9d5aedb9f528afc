// Package compactor caps conversation growth by folding old messages into
// a single LLM-summarized, tiered artifact: deterministic pre-compression,
// shingle dedup, one summarize call, tier derivation, then replacement of
// the old messages with the compaction record.
package compactor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hearthstack/hearth/internal/bus"
	"github.com/hearthstack/hearth/internal/providers"
	"github.com/hearthstack/hearth/internal/store"
	"github.com/hearthstack/hearth/pkg/protocol"
)

// Defaults for the compaction trigger.
const (
	DefaultThreshold  = 60
	DefaultKeepRecent = 20
)

const summarizeSystemPrompt = `Summarize the conversation below. Preserve, in this order of importance:
1. Facts about the user (name, identity, preferences, corrections).
2. Decisions made and corrections issued.
3. Open tasks, pending actions, and deadlines.
Write plain prose lines, one fact or decision per line. Stay under %d tokens.`

// Store is the subset of the persistence store the compactor consumes.
type Store interface {
	CountMessages(ctx context.Context, userID string) (int, error)
	ListMessages(ctx context.Context, userID string, limit int) ([]store.Message, error)
	DeleteMessagesBefore(ctx context.Context, userID string, before int64) (int, error)
	InsertCompaction(ctx context.Context, c *store.Compaction) error
	LatestCompaction(ctx context.Context, userID string) (*store.Compaction, error)
}

// Config tunes the compactor.
type Config struct {
	Threshold           int // message count that triggers compaction
	KeepRecent          int // most-recent messages left untouched
	SimilarityThreshold float64
	StripEmoji          bool
	Budgets             TierBudgets
}

func (c *Config) sanitize() {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = DefaultKeepRecent
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.Budgets.L2 <= 0 {
		c.Budgets = DefaultTierBudgets()
	}
}

// Metrics reports one compaction run.
type Metrics struct {
	MessagesBefore     int     `json:"messages_before"`
	MessagesSummarized int     `json:"messages_summarized"`
	MessagesKept       int     `json:"messages_kept"`
	TokensBefore       int     `json:"tokens_before"`
	TokensAfter        int     `json:"tokens_after"`
	CompressionRatio   float64 `json:"compression_ratio"`
	DedupGroupsRemoved int     `json:"dedup_groups_removed"`
	DurationMs         int64   `json:"duration_ms"`
}

// Compactor folds old conversation history into tiered summaries.
type Compactor struct {
	store    Store
	provider providers.Provider
	events   *bus.Bus
	cfg      Config
}

// New creates a compactor.
func New(s Store, provider providers.Provider, events *bus.Bus, cfg Config) *Compactor {
	cfg.sanitize()
	return &Compactor{store: s, provider: provider, events: events, cfg: cfg}
}

// LatestSummary returns the newest compaction summary for a user, or ""
// when none exists.
func (c *Compactor) LatestSummary(ctx context.Context, userID string) string {
	comp, err := c.store.LatestCompaction(ctx, userID)
	if err != nil {
		return ""
	}
	return comp.Summary
}

// MaybeCompact runs the pipeline over all of a user's messages when the
// count has reached the threshold.
func (c *Compactor) MaybeCompact(ctx context.Context, userID string) (*Metrics, bool, error) {
	return c.MaybeCompactBefore(ctx, userID, store.NowMilli()+1)
}

// MaybeCompactBefore runs the pipeline considering only messages created
// before the boundary; the orchestrator passes the turn start so the
// turn's own messages always survive. Returns (metrics, true) when a
// compaction was performed. Failures abandon the run without deleting
// anything; the threshold will trigger again next turn.
func (c *Compactor) MaybeCompactBefore(ctx context.Context, userID string, eligibleBefore int64) (*Metrics, bool, error) {
	count, err := c.store.CountMessages(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("count messages: %w", err)
	}
	if count < c.cfg.Threshold {
		return nil, false, nil
	}

	all, err := c.store.ListMessages(ctx, userID, 0)
	if err != nil {
		return nil, false, fmt.Errorf("list messages: %w", err)
	}
	msgs := all[:0:0]
	for _, m := range all {
		if m.CreatedAt < eligibleBefore {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) <= c.cfg.KeepRecent {
		return nil, false, nil
	}

	started := time.Now()
	split := len(msgs) - c.cfg.KeepRecent
	old, kept := msgs[:split], msgs[split:]

	// Stage 1: deterministic pre-compression of each old message body,
	// role-prefixed for the summarizer.
	bodies := make([]string, 0, len(old))
	for _, m := range old {
		body := Precompress(m.Content, PrecompressOptions{StripEmoji: c.cfg.StripEmoji})
		if body == "" {
			continue
		}
		bodies = append(bodies, m.Role+": "+body)
	}

	tokensBefore := 0
	for _, m := range old {
		tokensBefore += EstimateTokens(m.Content)
	}

	// Stage 2: message-level near-duplicate removal.
	deduped, removed := DedupMessages(bodies, c.cfg.SimilarityThreshold)

	// Stage 3+4: summarize via one provider call, no tools.
	transcript := strings.Join(deduped, "\n")
	summary, err := c.summarize(ctx, transcript)
	if err != nil {
		slog.Warn("compaction abandoned: summarize failed", "user", userID, "error", err)
		return nil, false, err
	}
	if strings.TrimSpace(summary) == "" {
		slog.Warn("compaction abandoned: empty summary", "user", userID)
		return nil, false, fmt.Errorf("summarizer returned empty output")
	}

	// Stage 5: derive tiers; the L2 tier is the persisted artifact.
	tiers := DeriveTiers(summary, c.cfg.Budgets)

	// Stage 6: persist, then delete everything older than the kept window.
	replacedBefore := kept[0].CreatedAt
	comp := &store.Compaction{
		ID:             store.GenNewID(),
		UserID:         userID,
		Summary:        tiers.L2,
		ReplacedBefore: replacedBefore,
		CreatedAt:      store.NowMilli(),
	}
	if err := c.store.InsertCompaction(ctx, comp); err != nil {
		return nil, false, fmt.Errorf("insert compaction: %w", err)
	}
	if _, err := c.store.DeleteMessagesBefore(ctx, userID, replacedBefore); err != nil {
		return nil, false, fmt.Errorf("delete compacted messages: %w", err)
	}

	m := &Metrics{
		MessagesBefore:     len(msgs),
		MessagesSummarized: len(old),
		MessagesKept:       len(kept),
		TokensBefore:       tokensBefore,
		TokensAfter:        EstimateTokens(tiers.L2),
		DedupGroupsRemoved: removed,
		DurationMs:         time.Since(started).Milliseconds(),
	}
	if m.TokensBefore > 0 {
		m.CompressionRatio = float64(m.TokensAfter) / float64(m.TokensBefore)
	}

	if c.events != nil {
		c.events.Emit(protocol.TopicMemoryConsolidated, userID, map[string]any{
			"messages_summarized": m.MessagesSummarized,
			"tokens_after":        m.TokensAfter,
			"compression_ratio":   m.CompressionRatio,
		})
	}
	slog.Info("compaction complete",
		"user", userID,
		"summarized", m.MessagesSummarized, "kept", m.MessagesKept,
		"tokens_before", m.TokensBefore, "tokens_after", m.TokensAfter,
		"dedup_removed", m.DedupGroupsRemoved, "duration_ms", m.DurationMs)
	return m, true, nil
}

func (c *Compactor) summarize(ctx context.Context, transcript string) (string, error) {
	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: fmt.Sprintf(summarizeSystemPrompt, c.cfg.Budgets.L2)},
			{Role: "user", Content: transcript},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
