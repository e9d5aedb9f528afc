// Package delegation builds the agent-callable toolset that drives the
// sub-agent runtime: delegating tasks, managing agent and template
// lifecycles, and confirming delivered results.
//
// Handlers are defensive: required parameters are validated, and every
// failure comes back as an "Error: ..." result string so the agent loop can
// recover instead of crashing the turn.
package delegation

import (
	"context"
	"fmt"
	"strings"

	"github.com/hearthstack/hearth/internal/background"
	"github.com/hearthstack/hearth/internal/blackboard"
	"github.com/hearthstack/hearth/internal/store"
	"github.com/hearthstack/hearth/internal/subagents"
	"github.com/hearthstack/hearth/internal/templates"
	"github.com/hearthstack/hearth/internal/tools"
)

// Toolset wires the delegation tools over the runtime managers.
type Toolset struct {
	lifecycle  *subagents.Manager
	templates  *templates.Manager
	runner     *background.Runner
	blackboard *blackboard.Blackboard
}

// NewToolset creates the toolset builder.
func NewToolset(
	lifecycle *subagents.Manager,
	tmpl *templates.Manager,
	runner *background.Runner,
	bb *blackboard.Blackboard,
) *Toolset {
	return &Toolset{lifecycle: lifecycle, templates: tmpl, runner: runner, blackboard: bb}
}

// Register installs all delegation tools into the registry.
func (ts *Toolset) Register(reg *tools.Registry) {
	reg.Register(ts.delegateTaskTool())
	reg.Register(ts.delegateTasksTool())
	reg.Register(ts.delegateToExistingTool())
	reg.Register(ts.delegateBackgroundTool())
	reg.Register(ts.listSubAgentsTool())
	reg.Register(ts.manageSubAgentTool())
	reg.Register(ts.manageTemplateTool())
	reg.Register(ts.confirmTaskTool())
	reg.Register(ts.blackboardTool())
}

func errResult(format string, args ...any) *tools.Result {
	return tools.ErrorResult("Error: " + fmt.Sprintf(format, args...))
}

// resolveAgent finds a reusable sub-agent for the role or creates a new
// one. Returns the agent and whether it was reused.
func (ts *Toolset) resolveAgent(ctx context.Context, userID, role, tier string, grantedTools []string) (*store.SubAgent, bool, error) {
	if sub, ok, err := ts.lifecycle.FindReusable(ctx, userID, role); err != nil {
		return nil, false, err
	} else if ok {
		return sub, true, nil
	}
	sub, err := ts.lifecycle.Create(ctx, subagents.CreateSpec{
		UserID:         userID,
		Role:           role,
		Tools:          grantedTools,
		TierPreference: tier,
	})
	if err != nil {
		return nil, false, err
	}
	return sub, false, nil
}

// dispatch starts the background task for one delegation.
func (ts *Toolset) dispatch(ctx context.Context, userID, task string, sub *store.SubAgent, tier string, grantedTools []string) (string, error) {
	return ts.runner.Start(ctx, background.StartConfig{
		UserID:  userID,
		AgentID: sub.ID,
		Task:    task,
		Tier:    tier,
		TemplateAutoCreate: &background.TemplateSpec{
			Name:            sub.Role,
			RoleDescription: sub.Role,
			DefaultTools:    grantedTools,
			DefaultTier:     tier,
		},
	})
}

func (ts *Toolset) delegateTaskTool() *tools.Tool {
	return &tools.Tool{
		Name: "delegate_task",
		Description: "Delegate a task to a specialized sub-agent. Reuses a matching " +
			"active sub-agent or creates a new one, then runs the task in the " +
			"background. Returns immediately with a dispatch confirmation.",
		Parameters: objectSchema(map[string]any{
			"task":    stringProp("The task to perform"),
			"role":    stringProp("Role of the sub-agent, e.g. 'Research Analyst'"),
			"user_id": stringProp("Owner user id"),
			"tier":    stringProp("Optional complexity tier: simple, moderate, complex, reasoning"),
			"tools": map[string]any{
				"type": "array", "items": map[string]any{"type": "string"},
				"description": "Optional tool names to grant the sub-agent",
			},
		}, "task", "role", "user_id"),
		Execute: func(ctx context.Context, args map[string]any) *tools.Result {
			task, err := tools.StringArg(args, "task")
			if err != nil {
				return errResult("%v", err)
			}
			role, err := tools.StringArg(args, "role")
			if err != nil {
				return errResult("%v", err)
			}
			userID, err := tools.StringArg(args, "user_id")
			if err != nil {
				return errResult("%v", err)
			}
			tier := tools.OptStringArg(args, "tier")
			granted := tools.OptStringsArg(args, "tools")

			sub, reused, err := ts.resolveAgent(ctx, userID, role, tier, granted)
			if err != nil {
				return errResult("%v", err)
			}
			if _, err := ts.dispatch(ctx, userID, task, sub, tier, granted); err != nil {
				return errResult("dispatch failed: %v", err)
			}

			kind := "new"
			if reused {
				kind = "reused"
			}
			return tools.AsyncResult(fmt.Sprintf(
				"Dispatched to %s sub-agent '%s' (%s). The task runs in the background; results arrive in your inbox.",
				kind, sub.Role, sub.ID[:8]))
		},
	}
}

func (ts *Toolset) delegateTasksTool() *tools.Tool {
	return &tools.Tool{
		Name: "delegate_tasks",
		Description: "Delegate several tasks at once. Each entry needs 'task' and " +
			"'role'; sub-agents are reused or created per role.",
		Parameters: objectSchema(map[string]any{
			"tasks": map[string]any{
				"type": "array",
				"items": objectSchema(map[string]any{
					"task": stringProp("The task to perform"),
					"role": stringProp("Role of the sub-agent"),
					"tier": stringProp("Optional complexity tier"),
				}, "task", "role"),
				"description": "Tasks to dispatch",
			},
			"user_id": stringProp("Owner user id"),
		}, "tasks", "user_id"),
		Execute: func(ctx context.Context, args map[string]any) *tools.Result {
			userID, err := tools.StringArg(args, "user_id")
			if err != nil {
				return errResult("%v", err)
			}
			rawTasks, ok := args["tasks"].([]any)
			if !ok || len(rawTasks) == 0 {
				return errResult("parameter %q must be a non-empty array", "tasks")
			}

			var lines []string
			for i, raw := range rawTasks {
				entry, ok := raw.(map[string]any)
				if !ok {
					lines = append(lines, fmt.Sprintf("%d. Error: entry is not an object", i+1))
					continue
				}
				task := tools.OptStringArg(entry, "task")
				role := tools.OptStringArg(entry, "role")
				if task == "" || role == "" {
					lines = append(lines, fmt.Sprintf("%d. Error: task and role are required", i+1))
					continue
				}
				tier := tools.OptStringArg(entry, "tier")

				sub, reused, err := ts.resolveAgent(ctx, userID, role, tier, nil)
				if err != nil {
					lines = append(lines, fmt.Sprintf("%d. Error: %v", i+1, err))
					continue
				}
				if _, err := ts.dispatch(ctx, userID, task, sub, tier, nil); err != nil {
					lines = append(lines, fmt.Sprintf("%d. Error: %v", i+1, err))
					continue
				}
				kind := "new"
				if reused {
					kind = "reused"
				}
				lines = append(lines, fmt.Sprintf("%d. Dispatched to %s sub-agent '%s'", i+1, kind, sub.Role))
			}
			return tools.AsyncResult(strings.Join(lines, "\n"))
		},
	}
}

func (ts *Toolset) delegateToExistingTool() *tools.Tool {
	return &tools.Tool{
		Name: "delegate_to_existing",
		Description: "Delegate a task to a specific sub-agent by id. Suspended or " +
			"dismissed agents are revived automatically.",
		Parameters: objectSchema(map[string]any{
			"agent_id": stringProp("Target sub-agent id"),
			"task":     stringProp("The task to perform"),
			"user_id":  stringProp("Owner user id"),
		}, "agent_id", "task", "user_id"),
		Execute: func(ctx context.Context, args map[string]any) *tools.Result {
			agentID, err := tools.StringArg(args, "agent_id")
			if err != nil {
				return errResult("%v", err)
			}
			task, err := tools.StringArg(args, "task")
			if err != nil {
				return errResult("%v", err)
			}
			userID, err := tools.StringArg(args, "user_id")
			if err != nil {
				return errResult("%v", err)
			}

			sub, err := ts.lifecycle.Get(ctx, agentID)
			if err != nil {
				return errResult("sub-agent %s not found", agentID)
			}

			switch sub.Status {
			case store.AgentSuspended:
				if err := ts.lifecycle.Resume(ctx, agentID); err != nil {
					return errResult("resume failed: %v", err)
				}
			case store.AgentSoftDeleted:
				if err := ts.lifecycle.Revive(ctx, agentID); err != nil {
					return errResult("revive failed: %v", err)
				}
			}

			if _, err := ts.runner.Start(ctx, background.StartConfig{
				UserID: userID, AgentID: agentID, Task: task,
			}); err != nil {
				return errResult("dispatch failed: %v", err)
			}
			return tools.AsyncResult(fmt.Sprintf(
				"Dispatched to sub-agent '%s' (%s).", sub.Role, agentID[:8]))
		},
	}
}

func (ts *Toolset) delegateBackgroundTool() *tools.Tool {
	return &tools.Tool{
		Name: "delegate_background",
		Description: "Delegate a task and get back the background task id for " +
			"tracking. Otherwise identical to delegate_task.",
		Parameters: objectSchema(map[string]any{
			"task":    stringProp("The task to perform"),
			"role":    stringProp("Role of the sub-agent"),
			"user_id": stringProp("Owner user id"),
			"tier":    stringProp("Optional complexity tier"),
		}, "task", "role", "user_id"),
		Execute: func(ctx context.Context, args map[string]any) *tools.Result {
			task, err := tools.StringArg(args, "task")
			if err != nil {
				return errResult("%v", err)
			}
			role, err := tools.StringArg(args, "role")
			if err != nil {
				return errResult("%v", err)
			}
			userID, err := tools.StringArg(args, "user_id")
			if err != nil {
				return errResult("%v", err)
			}
			tier := tools.OptStringArg(args, "tier")

			sub, _, err := ts.resolveAgent(ctx, userID, role, tier, nil)
			if err != nil {
				return errResult("%v", err)
			}
			taskID, err := ts.dispatch(ctx, userID, task, sub, tier, nil)
			if err != nil {
				return errResult("dispatch failed: %v", err)
			}
			return tools.AsyncResult(fmt.Sprintf("task_id: %s", taskID))
		},
	}
}

func (ts *Toolset) listSubAgentsTool() *tools.Tool {
	return &tools.Tool{
		Name:        "list_sub_agents",
		Description: "List the user's sub-agents with status and performance.",
		Parameters: objectSchema(map[string]any{
			"user_id":         stringProp("Owner user id"),
			"include_deleted": map[string]any{"type": "boolean", "description": "Include dismissed agents"},
		}, "user_id"),
		Execute: func(ctx context.Context, args map[string]any) *tools.Result {
			userID, err := tools.StringArg(args, "user_id")
			if err != nil {
				return errResult("%v", err)
			}

			var agents []store.SubAgent
			if tools.OptBoolArg(args, "include_deleted") {
				agents, err = ts.lifecycle.ListAll(ctx, userID)
			} else {
				agents, err = ts.lifecycle.ListActive(ctx, userID)
			}
			if err != nil {
				return errResult("%v", err)
			}
			if len(agents) == 0 {
				return tools.NewResult("No sub-agents.")
			}

			var b strings.Builder
			for _, a := range agents {
				fmt.Fprintf(&b, "- %s [%s] %s — score %.2f over %d tasks\n",
					a.ID[:8], a.Status, a.Role, a.PerformanceScore, a.TotalTasks)
			}
			return tools.NewResult(strings.TrimRight(b.String(), "\n"))
		},
	}
}

func (ts *Toolset) manageSubAgentTool() *tools.Tool {
	return &tools.Tool{
		Name:        "manage_sub_agent",
		Description: "Manage a sub-agent: dismiss (soft delete), revive, or kill (hard delete).",
		Parameters: objectSchema(map[string]any{
			"agent_id": stringProp("Target sub-agent id"),
			"action":   stringProp("One of: dismiss, revive, kill"),
		}, "agent_id", "action"),
		Execute: func(ctx context.Context, args map[string]any) *tools.Result {
			agentID, err := tools.StringArg(args, "agent_id")
			if err != nil {
				return errResult("%v", err)
			}
			action, err := tools.StringArg(args, "action")
			if err != nil {
				return errResult("%v", err)
			}

			switch action {
			case "dismiss":
				err = ts.lifecycle.Dismiss(ctx, agentID)
			case "revive":
				err = ts.lifecycle.Revive(ctx, agentID)
			case "kill":
				err = ts.lifecycle.Kill(ctx, agentID)
			default:
				return errResult("unknown action %q (dismiss, revive, kill)", action)
			}
			if err != nil {
				return errResult("%s failed: %v", action, err)
			}
			return tools.NewResult(fmt.Sprintf("Sub-agent %s: %s done.", agentID[:8], action))
		},
	}
}

func (ts *Toolset) manageTemplateTool() *tools.Tool {
	return &tools.Tool{
		Name:        "manage_template",
		Description: "Manage role templates: list, delete, or update.",
		Parameters: objectSchema(map[string]any{
			"action":      stringProp("One of: list, delete, update"),
			"user_id":     stringProp("Owner user id"),
			"template_id": stringProp("Template id (delete/update)"),
			"name":        stringProp("New name (update)"),
			"description": stringProp("New role description (update)"),
		}, "action", "user_id"),
		Execute: func(ctx context.Context, args map[string]any) *tools.Result {
			action, err := tools.StringArg(args, "action")
			if err != nil {
				return errResult("%v", err)
			}
			userID, err := tools.StringArg(args, "user_id")
			if err != nil {
				return errResult("%v", err)
			}

			switch action {
			case "list":
				tpls, err := ts.templates.List(ctx, userID)
				if err != nil {
					return errResult("%v", err)
				}
				if len(tpls) == 0 {
					return tools.NewResult("No templates.")
				}
				var b strings.Builder
				for _, tp := range tpls {
					fmt.Fprintf(&b, "- %s %s — used %d times, avg %.2f\n",
						tp.ID[:8], tp.Name, tp.TimesUsed, tp.AvgPerformance)
				}
				return tools.NewResult(strings.TrimRight(b.String(), "\n"))

			case "delete":
				id, err := tools.StringArg(args, "template_id")
				if err != nil {
					return errResult("%v", err)
				}
				if err := ts.templates.Delete(ctx, id); err != nil {
					return errResult("delete failed: %v", err)
				}
				return tools.NewResult("Template deleted.")

			case "update":
				id, err := tools.StringArg(args, "template_id")
				if err != nil {
					return errResult("%v", err)
				}
				spec := templates.UpdateSpec{}
				if name := tools.OptStringArg(args, "name"); name != "" {
					spec.Name = &name
				}
				if desc := tools.OptStringArg(args, "description"); desc != "" {
					spec.RoleDescription = &desc
				}
				if _, err := ts.templates.Update(ctx, id, spec); err != nil {
					return errResult("update failed: %v", err)
				}
				return tools.NewResult("Template updated.")

			default:
				return errResult("unknown action %q (list, delete, update)", action)
			}
		},
	}
}

func (ts *Toolset) confirmTaskTool() *tools.Tool {
	return &tools.Tool{
		Name:        "confirm_task",
		Description: "Mark a finished background task as delivered after surfacing its result to the user.",
		Parameters: objectSchema(map[string]any{
			"task_id": stringProp("Background task id"),
		}, "task_id"),
		Execute: func(ctx context.Context, args map[string]any) *tools.Result {
			taskID, err := tools.StringArg(args, "task_id")
			if err != nil {
				return errResult("%v", err)
			}
			if err := ts.runner.MarkDelivered(ctx, taskID); err != nil {
				return errResult("confirm failed: %v", err)
			}
			return tools.NewResult("Task confirmed as delivered.")
		},
	}
}

func (ts *Toolset) blackboardTool() *tools.Tool {
	return &tools.Tool{
		Name: "blackboard",
		Description: "Collaborative problem solving: post a problem, add a scored " +
			"proposal, list proposals, resolve with a synthesis, or list open problems.",
		Parameters: objectSchema(map[string]any{
			"action":     stringProp("One of: post, propose, proposals, resolve, list"),
			"user_id":    stringProp("Owner user id (post/list)"),
			"problem":    stringProp("Problem text (post)"),
			"problem_id": stringProp("Problem id (propose/proposals/resolve)"),
			"agent_id":   stringProp("Proposing agent id (propose)"),
			"agent_role": stringProp("Proposing agent role (propose)"),
			"proposal":   stringProp("Proposal text (propose)"),
			"confidence": map[string]any{"type": "number", "description": "Proposal confidence 0..1"},
			"synthesis":  stringProp("Synthesis text (resolve)"),
		}, "action"),
		Execute: func(ctx context.Context, args map[string]any) *tools.Result {
			action, err := tools.StringArg(args, "action")
			if err != nil {
				return errResult("%v", err)
			}

			switch action {
			case "post":
				userID, err := tools.StringArg(args, "user_id")
				if err != nil {
					return errResult("%v", err)
				}
				problem, err := tools.StringArg(args, "problem")
				if err != nil {
					return errResult("%v", err)
				}
				pid, err := ts.blackboard.PostProblem(ctx, userID, problem)
				if err != nil {
					return errResult("%v", err)
				}
				return tools.NewResult("problem_id: " + pid)

			case "propose":
				pid, err := tools.StringArg(args, "problem_id")
				if err != nil {
					return errResult("%v", err)
				}
				proposal, err := tools.StringArg(args, "proposal")
				if err != nil {
					return errResult("%v", err)
				}
				confidence, _ := args["confidence"].(float64)
				id, err := ts.blackboard.AddProposal(ctx, pid,
					tools.OptStringArg(args, "agent_id"),
					tools.OptStringArg(args, "agent_role"),
					proposal, confidence)
				if err != nil {
					return errResult("%v", err)
				}
				return tools.NewResult("proposal_id: " + id)

			case "proposals":
				pid, err := tools.StringArg(args, "problem_id")
				if err != nil {
					return errResult("%v", err)
				}
				props, err := ts.blackboard.GetProposals(ctx, pid)
				if err != nil {
					return errResult("%v", err)
				}
				if len(props) == 0 {
					return tools.NewResult("No proposals yet.")
				}
				var b strings.Builder
				for _, p := range props {
					fmt.Fprintf(&b, "- [%.2f] %s: %s\n", p.Confidence, p.AgentRole, p.Proposal)
				}
				return tools.NewResult(strings.TrimRight(b.String(), "\n"))

			case "resolve":
				pid, err := tools.StringArg(args, "problem_id")
				if err != nil {
					return errResult("%v", err)
				}
				synthesis, err := tools.StringArg(args, "synthesis")
				if err != nil {
					return errResult("%v", err)
				}
				if err := ts.blackboard.Resolve(ctx, pid, synthesis); err != nil {
					return errResult("%v", err)
				}
				return tools.NewResult("Problem resolved.")

			case "list":
				userID, err := tools.StringArg(args, "user_id")
				if err != nil {
					return errResult("%v", err)
				}
				active, err := ts.blackboard.GetActiveProblems(ctx, userID)
				if err != nil {
					return errResult("%v", err)
				}
				if len(active) == 0 {
					return tools.NewResult("No open problems.")
				}
				var b strings.Builder
				for _, p := range active {
					fmt.Fprintf(&b, "- %s (%d proposals): %s\n",
						p.ProblemID[:8], p.ProposalCount, p.ProblemText)
				}
				return tools.NewResult(strings.TrimRight(b.String(), "\n"))

			default:
				return errResult("unknown action %q", action)
			}
		},
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}
