package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/relaycore/orchestrator/internal/catalog"
	"github.com/relaycore/orchestrator/internal/intent"
	"github.com/relaycore/orchestrator/internal/llmprovider"
	"github.com/relaycore/orchestrator/internal/planmodel"
	"github.com/relaycore/orchestrator/internal/registry"
)

// StepwiseTaskAsker is the LLM capability the stepwise planner uses to
// decompose one chunk of text into candidate tasks.
type StepwiseTaskAsker interface {
	StepwiseTasks(ctx context.Context, chunk string) (llmprovider.StepwiseTasksResponse, error)
}

// StepwisePlanner implements C11.
type StepwisePlanner struct {
	registry ToolAvailability
	asker StepwiseTaskAsker
	catalog *catalog.Cache
}

func NewStepwisePlanner(reg ToolAvailability, asker StepwiseTaskAsker, cat *catalog.Cache) *StepwisePlanner {
	return &StepwisePlanner{registry: reg, asker: asker, catalog: cat}
}

var sequencingConjunctions = regexp.MustCompile(`(?i)\s*(?:,?\s*(?:and|then)\s+|그리고|그 다음|다음으로)\s*`)

const maxStepwiseChunks = 5

// ShouldApply reports whether the stepwise planner should be used for
// this request.
func ShouldApply(forced bool, userText string, connected []string) bool {
	if forced {
		return true
	}
	norm := intent.NormalizeWhitespace(userText)
	hasIntent := intent.IsCreateIntent(norm) || intent.IsReadIntent(norm) || intent.IsUpdateIntent(norm)
	if !hasIntent {
		return false
	}
	for _, svc := range connected {
		matched := intent.MatchedServiceKeywords(userText)
		for _, m := range matched {
			if strings.EqualFold(m, svc) {
				return true
			}
		}
	}
	return false
}

func splitChunks(text string) []string {
	parts := sequencingConjunctions.Split(text, -1)
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{strings.TrimSpace(text)}
	}
	if len(out) > maxStepwiseChunks {
		out = out[:maxStepwiseChunks]
	}
	return out
}

var disallowedTokens = []string{"oauth", "token_exchange"}

func isDisallowed(name string) bool {
	lower := strings.ToLower(name)
	for _, tok := range disallowedTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// allowedCatalog intersects list_available_tools(connected) with the
// enabled set, excluding oauth/token exchange tools.
func allowedCatalog(available []registry.ToolDefinition, enabled func(apiID string) bool) map[string]registry.ToolDefinition {
	out := map[string]registry.ToolDefinition{}
	for _, t := range available {
		if isDisallowed(t.ToolName) {
			continue
		}
		if enabled != nil && !enabled(t.ToolName) {
			continue
		}
		out[t.ToolName] = t
	}
	return out
}

// deterministicMatch picks the most likely tool for one chunk by a small
// set of hand-written patterns, used when the LLM call fails or returns
// nothing.
func deterministicMatch(chunk string, allowed map[string]registry.ToolDefinition) (service, toolName string) {
	lower := strings.ToLower(chunk)
	has := func(subs...string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}

	type rule struct {
		textMatch func() bool
		service string
		tool string
	}
	rules := []rule{
		{func() bool { return has("회의", "일정", "calendar", "meeting") }, "google", "google_calendar_list_events"},
		{func() bool { return has("회의록", "초안", "페이지") && has("생성", "create") }, "notion", "notion_create_page"},
		{func() bool { return has("이슈") && has("생성", "등록", "create") }, "linear", "linear_create_issue"},
	}
	for _, r := range rules {
		if r.textMatch() {
			if _, ok := allowed[r.tool]; ok {
				return r.service, r.tool
			}
		}
	}
	return "", ""
}

// Build implements C11.
func (p *StepwisePlanner) Build(ctx context.Context, userID, userText string, connected []string, enabled func(apiID string) bool) (*planmodel.AgentPlan, error) {
	available, err := p.registry.ListAvailableTools(connected, nil)
	if err != nil {
		return nil, err
	}
	allowed := allowedCatalog(available, enabled)

	chunks := splitChunks(userText)
	var tasks []planmodel.StepwiseTask
	for i, chunk := range chunks {
		taskID := fmt.Sprintf("t%d", i+1)
		service, toolName := "", ""

		if p.asker != nil {
			if resp, err := p.asker.StepwiseTasks(ctx, chunk); err == nil && len(resp.Tasks) > 0 {
				cand := resp.Tasks[0]
				if _, ok := allowed[cand.ToolName]; ok {
					service, toolName = cand.Service, cand.ToolName
					if cand.TaskID != "" {
						taskID = cand.TaskID
					}
				}
			}
		}
		if toolName == "" {
			service, toolName = deterministicMatch(chunk, allowed)
		}
		if toolName == "" {
			continue
		}
		tasks = append(tasks, planmodel.StepwiseTask{
			TaskID: taskID,
			Sentence: chunk,
			Service: service,
			ToolName: toolName,
		})
	}

	catalogPayload := map[string]any{"allowed_tools": allowedToolNames(allowed)}
	catalogID, _ := p.catalog.GetOrCreate(userID, catalogPayload, 900)

	plan := &planmodel.AgentPlan{UserText: userText, PlanSource: "llm_stepwise"}
	plan.TargetServices = distinctServices(tasks)
	for _, t := range tasks {
		plan.SelectedTools = append(plan.SelectedTools, t.ToolName)
	}
	plan.Tasks = []planmodel.AgentTask{
		{
			ID: "stepwise_1",
			Title: "Stepwise pipeline",
			TaskType: planmodel.TaskStepwisePipeline,
			Payload: map[string]any{
				"tasks": tasks,
				"ctx": planmodel.StepwiseContext{Enabled: true, CatalogID: catalogID},
			},
			OutputSchema: map[string]any{"type": "object"},
		},
	}
	plan.AddNote("planner=llm_stepwise")
	plan.AddNote("router_mode=STEPWISE_PIPELINE")
	plan.AddNote(fmt.Sprintf("catalog_id=%s", catalogID))
	return plan, nil
}

func allowedToolNames(allowed map[string]registry.ToolDefinition) []string {
	out := make([]string, 0, len(allowed))
	for name := range allowed {
		out = append(out, name)
	}
	return out
}

func distinctServices(tasks []planmodel.StepwiseTask) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range tasks {
		if !seen[t.Service] {
			seen[t.Service] = true
			out = append(out, t.Service)
		}
	}
	return out
}
