package compactor

import (
	"sort"
	"strings"
)

// TierBudgets holds the token budgets of the three summary tiers.
type TierBudgets struct {
	L2 int // full tier (persisted summary)
	L1 int // working tier
	L0 int // ultra-compact tier
}

// DefaultTierBudgets per the compaction design.
func DefaultTierBudgets() TierBudgets {
	return TierBudgets{L2: 3000, L1: 1000, L0: 200}
}

// Tiers holds the derived summary artifacts.
type Tiers struct {
	L2 string
	L1 string
	L0 string
}

// priorityKeywords score summary lines for tier selection. Higher keeps the
// line longer as budgets shrink.
var priorityKeywords = []struct {
	score    int
	keywords []string
}{
	{10, []string{"name", "identity", "call me", "i am", "who i"}},
	{9, []string{"decision", "decided", "correction", "corrected", "actually", "instead"}},
	{8, []string{"task", "todo", "to-do", "action", "pending", "deadline", "due"}},
	{7, []string{"prefer", "preference", "likes", "dislikes", "always", "never"}},
	{5, []string{"topic", "discussed", "talked about", "question", "asked"}},
}

const defaultLinePriority = 1

// lineScore scores one summary line against the priority keyword table.
func lineScore(line string) int {
	lower := strings.ToLower(line)
	for _, p := range priorityKeywords {
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				return p.score
			}
		}
	}
	return defaultLinePriority
}

// DeriveTiers derives the three summary tiers from the LLM output: L2 is a
// budget truncation; L1 and L0 greedily keep the highest-priority lines
// that fit, re-sorted into original order for readable flow.
func DeriveTiers(summary string, budgets TierBudgets) Tiers {
	if budgets.L2 <= 0 {
		budgets = DefaultTierBudgets()
	}
	l2 := TruncateToTokens(summary, budgets.L2)
	return Tiers{
		L2: l2,
		L1: selectLines(l2, budgets.L1),
		L0: selectLines(l2, budgets.L0),
	}
}

type scoredLine struct {
	pos    int
	score  int
	tokens int
	text   string
}

// selectLines keeps the highest-priority lines within the token budget,
// then restores document order.
func selectLines(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if EstimateTokens(text) <= budget {
		return text
	}

	var lines []scoredLine
	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lines = append(lines, scoredLine{
			pos:    i,
			score:  lineScore(line),
			tokens: EstimateTokens(line),
			text:   line,
		})
	}

	// Highest priority first; stable on position within a priority.
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].score > lines[j].score })

	var picked []scoredLine
	used := 0
	for _, l := range lines {
		if used+l.tokens > budget {
			continue
		}
		picked = append(picked, l)
		used += l.tokens
	}

	sort.Slice(picked, func(i, j int) bool { return picked[i].pos < picked[j].pos })

	parts := make([]string, len(picked))
	for i, l := range picked {
		parts[i] = l.text
	}
	return strings.Join(parts, "\n")
}
