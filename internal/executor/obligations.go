package executor

import (
	"strings"

	"github.com/relaycore/orchestrator/internal/intent"
)

// ObligationResult is the outcome of the post-execution intent→tool-family
// verification: did the tools actually called evidence the intents a run
// claimed to satisfy?
type ObligationResult struct {
	OK bool
	Reason string
}

func hasToolPrefix(tools []string, prefix string) bool {
	for _, t := range tools {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

func countToolPrefix(tools []string, prefix string) int {
	n := 0
	for _, t := range tools {
		if strings.HasPrefix(t, prefix) {
			n++
		}
	}
	return n
}

func hasArtifactEvidence(stepOutputs map[string]any) bool {
	for _, v := range stepOutputs {
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := obj["id"]; ok && id != "" && id != nil {
			return true
		}
		if u, ok := obj["url"]; ok && u != "" && u != nil {
			return true
		}
	}
	return false
}

// VerifyObligations checks that the tools actually called during a run
// evidence the intents inferred from userText. targetCount is the number
// of distinct services the plan targeted (used to decide whether an
// append instruction implies multiple targets).
func VerifyObligations(userText string, calledTools []string, stepOutputs map[string]any, targetCount int) ObligationResult {
	if intent.IsMoveIntent(userText) {
		if !hasToolPrefix(calledTools, "notion_update_page") {
			return ObligationResult{false, "move_requires_update_page"}
		}
	}

	if intent.IsRenameIntent(userText) {
		if !hasToolPrefix(calledTools, "notion_update_page") {
			return ObligationResult{false, "rename_requires_update_page"}
		}
	}

	if intent.IsDeleteIntent(userText) {
		hasArchive := hasToolPrefix(calledTools, "notion_update_page")
		hasDelete := false
		for _, t := range calledTools {
			if strings.Contains(t, "delete") {
				hasDelete = true
				break
			}
		}
		if !hasArchive && !hasDelete {
			return ObligationResult{false, "archive_requires_update_page_or_delete"}
		}
	}

	if intent.IsAppendIntent(userText) {
		appendCalls := countToolPrefix(calledTools, "notion_append_block_children")
		if targetCount > 1 {
			if appendCalls < targetCount {
				return ObligationResult{false, "append_requires_multiple_targets"}
			}
		} else if appendCalls == 0 {
			return ObligationResult{false, "append_requires_append_block_children"}
		}
	}

	if intent.IsReadIntent(userText) || intent.IsDataSourceIntent(userText) {
		if len(calledTools) == 0 {
			return ObligationResult{false, "lookup_requires_tool_call"}
		}
	}

	if intent.IsCreateIntent(userText) {
		if !hasArtifactEvidence(stepOutputs) {
			return ObligationResult{false, "create_requires_artifact"}
		}
	}

	isMutationIntent := intent.IsCreateIntent(userText) || intent.IsUpdateIntent(userText) ||
		intent.IsDeleteIntent(userText) || intent.IsAppendIntent(userText)
	if isMutationIntent {
		hasMutationCall := false
		for _, t := range calledTools {
			if isMutation(t) {
				hasMutationCall = true
				break
			}
		}
		if !hasMutationCall {
			return ObligationResult{false, "mutation_requires_tool_call"}
		}
	}

	return ObligationResult{OK: true}
}
