// Package planner builds AgentPlans: deterministically from user text
// (C9), by delegating to an LLM with deterministic fallback (C10), and by
// decomposing multi-sentence requests into an ordered stepwise tool list
// (C11).
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/relaycore/orchestrator/internal/intent"
	"github.com/relaycore/orchestrator/internal/planmodel"
	"github.com/relaycore/orchestrator/internal/registry"
	"github.com/relaycore/orchestrator/internal/resolver"
)

// ToolAvailability is the subset of the registry the rule planner needs.
type ToolAvailability interface {
	ListAvailableTools(connected []string, grantedScopes map[string][]string) ([]registry.ToolDefinition, error)
	ListTools(service string) ([]registry.ToolDefinition, error)
	GetTool(name string) (registry.ToolDefinition, error)
}

// RulePlanner implements C9.
type RulePlanner struct {
	registry ToolAvailability
	resolver *resolver.Resolver
	guides   *GuideLoader
	maxTools int
}

func NewRulePlanner(reg ToolAvailability, res *resolver.Resolver, guides *GuideLoader) *RulePlanner {
	return &RulePlanner{registry: reg, resolver: res, guides: guides, maxTools: 6}
}

// koreanBoosts maps a Korean verb keyword to the English substrings it
// should boost within a tool's name+description, and the boost amount.
var koreanBoosts = []struct {
	keyword string
	terms   []string
	boost   int
}{
	{"요약", []string{"retrieve", "search"}, 1},
	{"생성", []string{"create", "append"}, 2},
	{"조회", []string{"search", "get", "retrieve"}, 1},
	{"검색", []string{"search", "get", "retrieve"}, 1},
	{"목록", []string{"search", "get", "retrieve"}, 1},
	{"삭제", []string{"update"}, 2},
	{"아카이브", []string{"update"}, 2},
}

func wordsOfLen(s string, minLen int) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r >= 0xAC00 && r <= 0xD7A3)
	}) {
		if len([]rune(w)) >= minLen {
			out[w] = true
		}
	}
	return out
}

func scoreTool(userText string, tool registry.ToolDefinition) int {
	userWords := wordsOfLen(userText, 2)
	toolText := strings.ToLower(tool.ToolName + " " + tool.Description)
	toolWords := wordsOfLen(toolText, 2)

	score := 0
	for w := range userWords {
		if toolWords[w] {
			score++
		}
	}

	lowerUser := strings.ToLower(userText)
	for _, b := range koreanBoosts {
		if strings.Contains(lowerUser, b.keyword) {
			for _, term := range b.terms {
				if strings.Contains(toolText, term) {
					score += b.boost
				}
			}
		}
	}
	return score
}

// Build implements C9 end to end.
func (p *RulePlanner) Build(userText string, connected []string) (*planmodel.AgentPlan, error) {
	plan := &planmodel.AgentPlan{UserText: userText, PlanSource: "rule"}

	plan.Requirements = extractRequirements(userText)

	targets, err := p.resolver.ResolveServices(userText, connected, 3)
	if err != nil {
		return nil, err
	}
	plan.TargetServices = targets

	union := unionServices(targets, connected)
	available, err := p.registry.ListAvailableTools(union, nil)
	if err != nil {
		return nil, err
	}

	type scored struct {
		tool  registry.ToolDefinition
		score int
	}
	var candidates []scored
	for _, tool := range available {
		candidates = append(candidates, scored{tool: tool, score: scoreTool(userText, tool)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	var selected []registry.ToolDefinition
	for _, c := range candidates {
		if c.score <= 0 {
			break
		}
		selected = append(selected, c.tool)
		if len(selected) >= p.maxTools {
			break
		}
	}
	if len(selected) == 0 {
		for _, c := range candidates {
			selected = append(selected, c.tool)
			if len(selected) >= p.maxTools {
				break
			}
		}
	}

	for _, tool := range selected {
		plan.SelectedTools = append(plan.SelectedTools, tool.ToolName)
	}

	var prevID string
	for i, tool := range selected {
		id := fmt.Sprintf("task_%d", i+1)
		task := planmodel.AgentTask{
			ID:           id,
			Title:        tool.Description,
			TaskType:     planmodel.TaskTool,
			Service:      tool.Service,
			ToolName:     tool.ToolName,
			Payload:      map[string]any{},
			OutputSchema: map[string]any{"type": "object"},
		}
		if prevID != "" {
			task.DependsOn = []string{prevID}
		}
		plan.Tasks = append(plan.Tasks, task)
		prevID = id
	}

	if p.guides != nil {
		for _, svc := range targets {
			if section, ok := p.guides.Section(svc); ok {
				plan.AddNote(fmt.Sprintf("planning_context:%s:%s", svc, truncateNote(section, 200)))
			} else {
				plan.AddNote(fmt.Sprintf("planning_context:%s:unavailable", svc))
			}
		}
	}

	plan.WorkflowSteps = buildWorkflowSteps(plan.SelectedTools)
	return plan, nil
}

func truncateNote(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}

func buildWorkflowSteps(tools []string) []string {
	steps := []string{
		"요구사항 분석",
		"대상 서비스 결정",
		"사용 가능한 도구 조회",
		"도구 점수화 및 선택",
		"실행 계획 구성",
		"계획 검증",
		"실행 준비 완료",
	}
	steps = append(steps, tools...)
	return steps
}

func unionServices(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			l := strings.ToLower(s)
			if !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	return out
}

func extractRequirements(text string) []planmodel.AgentRequirement {
	norm := intent.NormalizeWhitespace(text)
	var reqs []planmodel.AgentRequirement

	add := func(summary string) {
		req := planmodel.AgentRequirement{Summary: summary}
		if n := intent.ExtractCountLimit(text, 0, 0, 1000); n > 0 {
			q := n
			req.Quantity = &q
		}
		reqs = append(reqs, req)
	}

	switch {
	case intent.IsCreateIntent(norm):
		add("create")
	case intent.IsUpdateIntent(norm):
		add("update")
	case intent.IsDeleteIntent(norm):
		add("delete")
	case intent.IsAppendIntent(norm):
		add("append")
	case intent.IsSummaryIntent(norm):
		add("summary")
	case intent.IsReadIntent(norm):
		add("read")
	default:
		add("general")
	}

	if intent.IsDataSourceIntent(norm) {
		reqs = append(reqs, planmodel.AgentRequirement{Summary: "data_source_lookup"})
	}
	if intent.IsIssueIntent(norm) {
		reqs = append(reqs, planmodel.AgentRequirement{Summary: "issue_reference"})
	}
	return reqs
}
