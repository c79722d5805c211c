// Package llmprovider abstracts the two LLM capabilities the planners
// depend on: producing a JSON plan from a catalog, and choosing the next
// action inside an autonomous tool-use loop.
package llmprovider

import (
	"context"
	"encoding/json"
)

// ToolCallRequest is one tool invocation an autonomous loop wants to make.
type ToolCallRequest struct {
	ToolName string `json:"tool_name"`
	Payload map[string]any `json:"payload"`
}

// NextAction is the result of choose_next_action: either a tool call to
// make, or a final user-facing answer.
type NextAction struct {
	Kind string `json:"kind"` // "tool_call" | "final"
	ToolCall *ToolCallRequest `json:"tool_call,omitempty"`
	FinalText string `json:"final_text,omitempty"`
}

// ActionContext carries the running transcript an autonomous loop needs to
// decide its next move.
type ActionContext struct {
	UserText string
	ConnectedTools []string
	History []HistoryEntry
}

// HistoryEntry is one prior tool call and its observed result, or a plain
// assistant/user turn.
type HistoryEntry struct {
	Role string
	Content string
}

// Provider is an LLM backend capable of the two capabilities the planner
// needs (plan, choose_next_action) plus the summarisation capability the
// classical executor's LLM tasks consume.
type Provider interface {
	Name() string
	Plan(ctx context.Context, userText string, catalog map[string]any) (json.RawMessage, error)
	ChooseNextAction(ctx context.Context, actx ActionContext) (NextAction, error)
	Summarize(ctx context.Context, instruction string, inputs map[string]any) (string, error)
}

// StepwiseTasksResponse is the shape requested from the LLM by the
// stepwise planner: {tasks:[{task_id, sentence, service, tool_name}]}.
type StepwiseTasksResponse struct {
	Tasks []StepwiseTaskCandidate `json:"tasks"`
}

// StepwiseTaskCandidate is one entry of StepwiseTasksResponse.
type StepwiseTaskCandidate struct {
	TaskID string `json:"task_id"`
	Sentence string `json:"sentence"`
	Service string `json:"service"`
	ToolName string `json:"tool_name"`
}

// ExtractJSONObject returns the first well-formed JSON object found in s,
// accepting either a whole-body object or one greedily matched between the
// first `{` and its balancing `}`.
func ExtractJSONObject(s string) (json.RawMessage, bool) {
	trimmed := trimToFirstBrace(s)
	if trimmed == "" {
		return nil, false
	}
	depth := 0
	for i, r := range trimmed {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := trimmed[:i+1]
				if json.Valid([]byte(candidate)) {
					return json.RawMessage(candidate), true
				}
				return nil, false
			}
		}
	}
	return nil, false
}

func trimToFirstBrace(s string) string {
	for i, r := range s {
		if r == '{' {
			return s[i:]
		}
	}
	return ""
}
