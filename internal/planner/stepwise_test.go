package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/relaycore/orchestrator/internal/catalog"
	"github.com/relaycore/orchestrator/internal/llmprovider"
	"github.com/relaycore/orchestrator/internal/planmodel"
	"github.com/relaycore/orchestrator/internal/registry"
)

func TestShouldApply_ForcedAlwaysApplies(t *testing.T) {
	if !ShouldApply(true, "anything", nil) {
		t.Error("expected forced=true to always apply")
	}
}

func TestShouldApply_NoIntentDoesNotApply(t *testing.T) {
	if ShouldApply(false, "안녕하세요 오늘 날씨가 좋네요", []string{"notion"}) {
		t.Error("expected text with no create/read/update intent to not apply")
	}
}

func TestShouldApply_IntentWithoutConnectedServiceKeywordDoesNotApply(t *testing.T) {
	if ShouldApply(false, "새로운 파일을 생성해줘", []string{"notion"}) {
		t.Error("expected a create intent with no matching connected-service keyword to not apply")
	}
}

func TestShouldApply_IntentPlusConnectedServiceKeywordApplies(t *testing.T) {
	if !ShouldApply(false, "Notion에 새로운 페이지를 생성해줘", []string{"notion"}) {
		t.Error("expected a create intent matching a connected service to apply")
	}
}

func TestSplitChunks_SplitsOnSequencingConjunctions(t *testing.T) {
	chunks := splitChunks("Linear 이슈를 찾아서 그리고 Notion에 페이지를 생성해줘")
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %v", chunks)
	}
}

func TestSplitChunks_CapsAtFiveChunks(t *testing.T) {
	text := "a and b and c and d and e and f and g"
	chunks := splitChunks(text)
	if len(chunks) != maxStepwiseChunks {
		t.Errorf("expected chunks capped at %d, got %d (%v)", maxStepwiseChunks, len(chunks), chunks)
	}
}

func TestSplitChunks_NoConjunctionReturnsWholeText(t *testing.T) {
	chunks := splitChunks("단일 문장입니다")
	if len(chunks) != 1 || chunks[0] != "단일 문장입니다" {
		t.Errorf("got %v", chunks)
	}
}

func TestIsDisallowed_ExcludesOAuthAndTokenExchangeTools(t *testing.T) {
	if !isDisallowed("notion_oauth_token_exchange") {
		t.Error("expected an oauth tool to be disallowed")
	}
	if !isDisallowed("linear_token_exchange_refresh") {
		t.Error("expected a token_exchange tool to be disallowed")
	}
	if isDisallowed("notion_create_page") {
		t.Error("expected a regular tool to be allowed")
	}
}

func TestDeterministicMatch_PicksCalendarToolForMeetingKeyword(t *testing.T) {
	allowed := map[string]registry.ToolDefinition{
		"google_calendar_list_events": {Service: "google", ToolName: "google_calendar_list_events"},
	}
	service, tool := deterministicMatch("오늘 회의 일정 확인해줘", allowed)
	if service != "google" || tool != "google_calendar_list_events" {
		t.Errorf("got service=%q tool=%q", service, tool)
	}
}

func TestDeterministicMatch_NoRuleMatchesReturnsEmpty(t *testing.T) {
	allowed := map[string]registry.ToolDefinition{
		"slack_post_message": {Service: "slack", ToolName: "slack_post_message"},
	}
	service, tool := deterministicMatch("완전히 무관한 문장입니다", allowed)
	if service != "" || tool != "" {
		t.Errorf("expected no match, got service=%q tool=%q", service, tool)
	}
}

type fakeStepwiseRegistry struct {
	tools []registry.ToolDefinition
}

func (f *fakeStepwiseRegistry) ListAvailableTools(connected []string, grantedScopes map[string][]string) ([]registry.ToolDefinition, error) {
	return f.tools, nil
}
func (f *fakeStepwiseRegistry) ListTools(service string) ([]registry.ToolDefinition, error) {
	return f.tools, nil
}
func (f *fakeStepwiseRegistry) GetTool(name string) (registry.ToolDefinition, error) {
	for _, t := range f.tools {
		if t.ToolName == name {
			return t, nil
		}
	}
	return registry.ToolDefinition{}, registry.ErrUnknownTool
}

func TestStepwisePlanner_Build_UsesDeterministicFallbackWhenAskerIsNil(t *testing.T) {
	reg := &fakeStepwiseRegistry{tools: []registry.ToolDefinition{
		{Service: "linear", ToolName: "linear_create_issue"},
	}}
	p := NewStepwisePlanner(reg, nil, catalog.New())

	plan, err := p.Build(context.Background(), "user-1", "이슈를 생성해줘", []string{"linear"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.PlanSource != "llm_stepwise" {
		t.Errorf("got plan_source %q", plan.PlanSource)
	}
	if len(plan.Tasks) != 1 || plan.Tasks[0].TaskType != "STEPWISE_PIPELINE" {
		t.Fatalf("expected one STEPWISE_PIPELINE task, got %+v", plan.Tasks)
	}
}

func TestStepwisePlanner_Build_ExcludesOAuthToolsFromAllowedSet(t *testing.T) {
	reg := &fakeStepwiseRegistry{tools: []registry.ToolDefinition{
		{Service: "notion", ToolName: "notion_oauth_token_exchange"},
	}}
	p := NewStepwisePlanner(reg, nil, catalog.New())

	plan, err := p.Build(context.Background(), "user-1", "페이지를 생성해줘", []string{"notion"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := plan.Tasks[0]
	tasks, ok := task.Payload["tasks"].([]planmodel.StepwiseTask)
	if ok && len(tasks) > 0 {
		t.Errorf("expected the oauth tool to be excluded from candidates, got %+v", tasks)
	}
	if len(plan.SelectedTools) != 0 {
		t.Errorf("expected no tools selected once the only candidate is disallowed, got %v", plan.SelectedTools)
	}
}

type fakeAsker struct {
	resp llmprovider.StepwiseTasksResponse
	err  error
}

func (f *fakeAsker) StepwiseTasks(ctx context.Context, chunk string) (llmprovider.StepwiseTasksResponse, error) {
	return f.resp, f.err
}

func TestStepwisePlanner_Build_UsesAskerResultWhenToolIsAllowed(t *testing.T) {
	reg := &fakeStepwiseRegistry{tools: []registry.ToolDefinition{
		{Service: "linear", ToolName: "linear_create_issue"},
	}}
	asker := &fakeAsker{resp: llmprovider.StepwiseTasksResponse{
		Tasks: []llmprovider.StepwiseTaskCandidate{
			{TaskID: "t1", Service: "linear", ToolName: "linear_create_issue"},
		},
	}}
	p := NewStepwisePlanner(reg, asker, catalog.New())

	plan, err := p.Build(context.Background(), "user-1", "새로운 이슈를 만들어줘", []string{"linear"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.SelectedTools) != 1 || plan.SelectedTools[0] != "linear_create_issue" {
		t.Errorf("expected the asker's tool to be used, got %v", plan.SelectedTools)
	}
}

func writeGuide(t *testing.T, dir, name, raw string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(raw), 0o644); err != nil {
		t.Fatalf("write guide %s: %v", name, err)
	}
}

func TestGuideLoader_SectionMatchesHeaderCaseInsensitively(t *testing.T) {
	dir := t.TempDir()
	writeGuide(t, dir, "guides.md", "# Notion\nUse notion_create_page for new pages.\n\n# Linear\nUse linear_create_issue for new issues.\n")

	g := NewGuideLoader(dir)
	section, ok := g.Section("notion")
	if !ok {
		t.Fatal("expected a notion section to be found")
	}
	if section != "Use notion_create_page for new pages." {
		t.Errorf("got %q", section)
	}
}

func TestGuideLoader_MissingSectionReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	writeGuide(t, dir, "guides.md", "# Slack\nUse slack_post_message.\n")

	g := NewGuideLoader(dir)
	if _, ok := g.Section("notion"); ok {
		t.Error("expected no section to be found for notion")
	}
}

func TestGuideLoader_EmptyDirIsNeverAnError(t *testing.T) {
	g := NewGuideLoader("")
	if _, ok := g.Section("notion"); ok {
		t.Error("expected an empty dir to report no section")
	}
}
