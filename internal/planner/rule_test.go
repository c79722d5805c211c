package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/relaycore/orchestrator/internal/registry"
	"github.com/relaycore/orchestrator/internal/resolver"
)

func writeSpec(t *testing.T, dir, name, raw string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(raw), 0o644); err != nil {
		t.Fatalf("write spec %s: %v", name, err)
	}
}

// newPlanner wires a RulePlanner against a registry loaded from freshly
// written spec files, the same way main.go assembles the production one.
func newPlanner(t *testing.T, dir string) *RulePlanner {
	t.Helper()
	reg := registry.New(dir)
	res := resolver.New(reg)
	return NewRulePlanner(reg, res, nil)
}

// S1 "plan a Linear-to-Notion summary": the rule planner should select at
// least one tool from each connected service and chain them.
func TestRulePlanner_Build_S1LinearToNotionSummary(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "notion.json", `{
		"service": "notion",
		"version": "1",
		"base_url": "https://api.notion.com",
		"tools": [{
			"tool_name": "notion_create_page",
			"description": "새로운 페이지에 생성해서 저장하는 도구",
			"method": "post",
			"path": "/v1/pages",
			"adapter_function": "createPage",
			"input_schema": {"type": "object"}
		}]
	}`)
	writeSpec(t, dir, "linear.json", `{
		"service": "linear",
		"version": "1",
		"base_url": "https://api.linear.app",
		"tools": [{
			"tool_name": "linear_search_issues",
			"description": "기획관련 이슈를 찾아서 검색하는 도구",
			"method": "get",
			"path": "/issues",
			"adapter_function": "searchIssues",
			"input_schema": {"type": "object"}
		}]
	}`)

	p := newPlanner(t, dir)
	userText := "Linear의 기획관련 이슈를 찾아서 3문장으로 요약해 Notion의 새로운 페이지에 생성해서 저장하세요"
	plan, err := p.Build(userText, []string{"linear", "notion"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	toolTasks := 0
	for _, task := range plan.Tasks {
		if task.TaskType == "TOOL" {
			toolTasks++
		}
	}
	if toolTasks < 2 {
		t.Fatalf("expected at least 2 TOOL tasks, got %d (%+v)", toolTasks, plan.Tasks)
	}

	foundNotionCreate := false
	for _, name := range plan.SelectedTools {
		if name == "notion_create_page" {
			foundNotionCreate = true
		}
	}
	if !foundNotionCreate {
		t.Errorf("expected notion_create_page to be selected, got %v", plan.SelectedTools)
	}
	if len(plan.Tasks) >= 2 && len(plan.Tasks[1].DependsOn) == 0 {
		t.Errorf("expected the second task to depend on the first, forming a chain, got %+v", plan.Tasks[1])
	}
}

// S2 "register rather than create a page": registering an existing Notion
// page as a new Linear issue must select linear_create_issue and must not
// select notion_create_page.
func TestRulePlanner_Build_S2RegisterRatherThanCreate(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "notion.json", `{
		"service": "notion",
		"version": "1",
		"base_url": "https://api.notion.com",
		"tools": [{
			"tool_name": "notion_search",
			"description": "데이터베이스를 조회하는 도구",
			"method": "post",
			"path": "/v1/search",
			"adapter_function": "search",
			"input_schema": {"type": "object"}
		}]
	}`)
	writeSpec(t, dir, "linear.json", `{
		"service": "linear",
		"version": "1",
		"base_url": "https://api.linear.app",
		"tools": [{
			"tool_name": "linear_create_issue",
			"description": "linear의 새로운 이슈로 등록하는 도구",
			"method": "post",
			"path": "/issues",
			"adapter_function": "createIssue",
			"input_schema": {"type": "object"}
		}]
	}`)

	p := newPlanner(t, dir)
	userText := "노션의 구글로그인 구현 페이지를 linear의 새로운 이슈로 등록하세요."
	plan, err := p.Build(userText, []string{"notion", "linear"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	foundLinearCreate := false
	for _, name := range plan.SelectedTools {
		if name == "notion_create_page" {
			t.Fatalf("expected no notion_create_page task, got selected tools %v", plan.SelectedTools)
		}
		if name == "linear_create_issue" {
			foundLinearCreate = true
		}
	}
	if !foundLinearCreate {
		t.Errorf("expected linear_create_issue to be selected, got %v", plan.SelectedTools)
	}
	for _, task := range plan.Tasks {
		if task.ToolName == "notion_create_page" {
			t.Fatalf("expected no notion_create_page TOOL task, got %+v", task)
		}
	}
}

func TestRulePlanner_Build_NoMatchingToolsFallsBackToTopCandidates(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "slack.json", `{
		"service": "slack",
		"version": "1",
		"base_url": "https://slack.com/api",
		"tools": [{
			"tool_name": "slack_post_message",
			"description": "post a message",
			"method": "post",
			"path": "/chat.postMessage",
			"adapter_function": "postMessage",
			"input_schema": {"type": "object"}
		}]
	}`)

	p := newPlanner(t, dir)
	plan, err := p.Build("xyz completely unrelated text", []string{"slack"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.SelectedTools) == 0 {
		t.Error("expected the zero-score fallback to still select the available tool")
	}
}
