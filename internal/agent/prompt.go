package agent

import (
	"fmt"
	"strings"
)

// PromptConfig carries the pieces of the primary-agent system prompt.
type PromptConfig struct {
	AgentName   string
	Orientation string // composed heartware block
	Summary     string // latest compaction summary, "" when none
	ToolNames   []string
	PendingNote string // undelivered background results, "" when none
}

// BuildPrimaryPrompt composes the primary agent's system prompt.
func BuildPrimaryPrompt(cfg PromptConfig) string {
	name := cfg.AgentName
	if name == "" {
		name = "hearth"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a personal AI agent running on the user's own machine.\n", name)
	b.WriteString("You can delegate work to specialized persistent sub-agents; delegation " +
		"is non-blocking and results arrive in your inbox on later turns. Prefer " +
		"delegating research and long-running work, and answer directly when a " +
		"delegation would be overkill.\n")

	if cfg.Orientation != "" {
		b.WriteString("\n" + cfg.Orientation + "\n")
	}
	if cfg.Summary != "" {
		b.WriteString("\n## Earlier Conversation (compacted)\n" + cfg.Summary + "\n")
	}
	if len(cfg.ToolNames) > 0 {
		b.WriteString("\n## Tools\n" + strings.Join(cfg.ToolNames, ", ") + "\n")
	}
	if cfg.PendingNote != "" {
		b.WriteString("\n## Pending Results\n" + cfg.PendingNote +
			"\nSurface these to the user, then confirm each with confirm_task.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
