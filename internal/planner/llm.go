package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaycore/orchestrator/internal/llmprovider"
	"github.com/relaycore/orchestrator/internal/planmodel"
)

// LLMPlanner implements C10: request a JSON plan from the primary
// provider, falling back to the secondary provider on any failure.
type LLMPlanner struct {
	primary  llmprovider.Provider
	fallback llmprovider.Provider
	registry ToolAvailability
}

func NewLLMPlanner(primary, fallback llmprovider.Provider, reg ToolAvailability) *LLMPlanner {
	return &LLMPlanner{primary: primary, fallback: fallback, registry: reg}
}

type llmPlanJSON struct {
	TargetServices []string                 `json:"target_services"`
	SelectedTools  []string                 `json:"selected_tools"`
	WorkflowSteps  []string                 `json:"workflow_steps"`
	Tasks          []planmodel.AgentTask    `json:"tasks"`
	Requirements   []planmodel.AgentRequirement `json:"requirements"`
}

// Build implements C10. Returns (nil, reason) when both providers fail or
// the resulting plan fails the connected/registry containment checks.
func (p *LLMPlanner) Build(ctx context.Context, userText string, connected []string, catalog map[string]any) (*planmodel.AgentPlan, string) {
	raw, providerName, reason := p.requestPlan(ctx, userText, catalog)
	if raw == nil {
		return nil, reason
	}

	var parsed llmPlanJSON
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, "malformed_plan_json"
	}

	connectedSet := toSet(connected)
	for _, svc := range parsed.TargetServices {
		if !connectedSet[svc] {
			return nil, fmt.Sprintf("target_service_not_connected:%s", svc)
		}
	}

	for _, toolName := range parsed.SelectedTools {
		if _, err := p.registry.GetTool(toolName); err != nil {
			return nil, fmt.Sprintf("unknown_tool:%s", toolName)
		}
	}

	plan := &planmodel.AgentPlan{
		UserText:       userText,
		TargetServices: parsed.TargetServices,
		SelectedTools:  parsed.SelectedTools,
		WorkflowSteps:  parsed.WorkflowSteps,
		Tasks:          parsed.Tasks,
		Requirements:   parsed.Requirements,
		PlanSource:     "llm",
	}
	plan.AddNote(fmt.Sprintf("llm_provider=%s", providerName))
	return plan, ""
}

func (p *LLMPlanner) requestPlan(ctx context.Context, userText string, catalog map[string]any) (json.RawMessage, string, string) {
	if p.primary != nil {
		if raw, err := p.primary.Plan(ctx, userText, catalog); err == nil {
			return raw, p.primary.Name(), ""
		}
	}
	if p.fallback != nil {
		if raw, err := p.fallback.Plan(ctx, userText, catalog); err == nil {
			return raw, p.fallback.Name(), ""
		}
	}
	return nil, "", "llm_provider_unavailable"
}

func toSet(list []string) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, v := range list {
		out[v] = true
	}
	return out
}
