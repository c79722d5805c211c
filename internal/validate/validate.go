// Package validate enforces the plan-contract invariants on an
// AgentPlan before the executor is allowed to run it.
package validate

import (
	"fmt"
	"strings"

	"github.com/relaycore/orchestrator/internal/planmodel"
)

var internalTokens = []string{"oauth", "token_exchange"}

func containsInternalToken(name string) bool {
	lower := strings.ToLower(name)
	for _, tok := range internalTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Validate returns ("", true) when plan satisfies every invariant,
// or a canonical error code and false otherwise.
func Validate(plan *planmodel.AgentPlan) (string, bool) {
	if len(plan.TargetServices) == 0 {
		return "missing_target_services", false
	}

	if len(plan.Tasks) == 0 {
		for _, tool := range plan.SelectedTools {
			if containsInternalToken(tool) {
				return fmt.Sprintf("internal_tool_selected:%s", tool), false
			}
		}
		return "missing_tool_task", false
	}

	seenIDs := map[string]bool{}
	taskIDs := map[string]bool{}
	for _, t := range plan.Tasks {
		if t.ID == "" {
			return "missing_task_id", false
		}
		if seenIDs[t.ID] {
			return "duplicate_task_id", false
		}
		seenIDs[t.ID] = true
		taskIDs[t.ID] = true
	}

	hasToolTask := false
	for _, t := range plan.Tasks {
		switch t.TaskType {
		case planmodel.TaskTool:
			hasToolTask = true
			if t.Service == "" || !contains(plan.TargetServices, t.Service) {
				return fmt.Sprintf("invalid_task_service:%s", t.ID), false
			}
			if t.ToolName == "" || !strings.HasPrefix(t.ToolName, t.Service+"_") {
				return fmt.Sprintf("invalid_tool_name:%s", t.ID), false
			}
			if containsInternalToken(t.ToolName) {
				return fmt.Sprintf("internal_tool_selected:%s", t.ToolName), false
			}
		case planmodel.TaskLLM:
			if strings.TrimSpace(t.Instruction) == "" {
				return fmt.Sprintf("missing_instruction:%s", t.ID), false
			}
		default:
			return fmt.Sprintf("invalid_task_type:%s", t.ID), false
		}

		if t.OutputSchema == nil || len(t.OutputSchema) == 0 {
			return fmt.Sprintf("missing_output_schema:%s", t.ID), false
		}

		for _, dep := range t.DependsOn {
			if !taskIDs[dep] {
				return fmt.Sprintf("unresolved_dependency:%s->%s", t.ID, dep), false
			}
		}
	}

	if !hasToolTask {
		return "missing_tool_task", false
	}

	return "", true
}
