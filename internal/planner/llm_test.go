package planner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/relaycore/orchestrator/internal/llmprovider"
	"github.com/relaycore/orchestrator/internal/registry"
)

type fakeProvider struct {
	name string
	raw  json.RawMessage
	err  error
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Plan(ctx context.Context, userText string, catalog map[string]any) (json.RawMessage, error) {
	return f.raw, f.err
}
func (f *fakeProvider) ChooseNextAction(ctx context.Context, actx llmprovider.ActionContext) (llmprovider.NextAction, error) {
	return llmprovider.NextAction{}, nil
}
func (f *fakeProvider) Summarize(ctx context.Context, instruction string, inputs map[string]any) (string, error) {
	return "", nil
}

type fakeLLMRegistry struct {
	known map[string]registry.ToolDefinition
}

func (f *fakeLLMRegistry) ListAvailableTools(connected []string, grantedScopes map[string][]string) ([]registry.ToolDefinition, error) {
	var out []registry.ToolDefinition
	for _, t := range f.known {
		out = append(out, t)
	}
	return out, nil
}
func (f *fakeLLMRegistry) ListTools(service string) ([]registry.ToolDefinition, error) {
	return f.ListAvailableTools(nil, nil)
}
func (f *fakeLLMRegistry) GetTool(name string) (registry.ToolDefinition, error) {
	if t, ok := f.known[name]; ok {
		return t, nil
	}
	return registry.ToolDefinition{}, registry.ErrUnknownTool
}

func TestLLMPlanner_Build_PrimarySucceeds(t *testing.T) {
	reg := &fakeLLMRegistry{known: map[string]registry.ToolDefinition{
		"notion_create_page": {Service: "notion", ToolName: "notion_create_page"},
	}}
	primary := &fakeProvider{name: "openai", raw: json.RawMessage(`{
		"target_services": ["notion"],
		"selected_tools": ["notion_create_page"],
		"workflow_steps": ["create a page"]
	}`)}
	p := NewLLMPlanner(primary, nil, reg)

	plan, reason := p.Build(context.Background(), "create a notion page", []string{"notion"}, nil)
	if reason != "" {
		t.Fatalf("unexpected reason: %q", reason)
	}
	if plan.PlanSource != "llm" {
		t.Errorf("got plan_source %q", plan.PlanSource)
	}
	if len(plan.SelectedTools) != 1 || plan.SelectedTools[0] != "notion_create_page" {
		t.Errorf("got selected tools %v", plan.SelectedTools)
	}
}

func TestLLMPlanner_Build_FallsBackToSecondaryWhenPrimaryFails(t *testing.T) {
	reg := &fakeLLMRegistry{known: map[string]registry.ToolDefinition{
		"linear_create_issue": {Service: "linear", ToolName: "linear_create_issue"},
	}}
	primary := &fakeProvider{name: "openai", err: errors.New("rate limited")}
	fallback := &fakeProvider{name: "anthropic", raw: json.RawMessage(`{
		"target_services": ["linear"],
		"selected_tools": ["linear_create_issue"]
	}`)}
	p := NewLLMPlanner(primary, fallback, reg)

	plan, reason := p.Build(context.Background(), "make a linear issue", []string{"linear"}, nil)
	if reason != "" {
		t.Fatalf("unexpected reason: %q", reason)
	}
	found := false
	for _, n := range plan.Notes {
		if n == "llm_provider=anthropic" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a note naming the fallback provider, got %v", plan.Notes)
	}
}

func TestLLMPlanner_Build_BothProvidersFailingReportsUnavailable(t *testing.T) {
	reg := &fakeLLMRegistry{known: map[string]registry.ToolDefinition{}}
	primary := &fakeProvider{name: "openai", err: errors.New("down")}
	fallback := &fakeProvider{name: "anthropic", err: errors.New("down")}
	p := NewLLMPlanner(primary, fallback, reg)

	plan, reason := p.Build(context.Background(), "anything", nil, nil)
	if plan != nil {
		t.Errorf("expected a nil plan, got %+v", plan)
	}
	if reason != "llm_provider_unavailable" {
		t.Errorf("got reason %q", reason)
	}
}

func TestLLMPlanner_Build_MalformedJSONIsRejected(t *testing.T) {
	reg := &fakeLLMRegistry{known: map[string]registry.ToolDefinition{}}
	primary := &fakeProvider{name: "openai", raw: json.RawMessage(`not json`)}
	p := NewLLMPlanner(primary, nil, reg)

	plan, reason := p.Build(context.Background(), "anything", nil, nil)
	if plan != nil {
		t.Errorf("expected a nil plan, got %+v", plan)
	}
	if reason != "malformed_plan_json" {
		t.Errorf("got reason %q", reason)
	}
}

func TestLLMPlanner_Build_TargetServiceNotConnectedIsRejected(t *testing.T) {
	reg := &fakeLLMRegistry{known: map[string]registry.ToolDefinition{}}
	primary := &fakeProvider{name: "openai", raw: json.RawMessage(`{"target_services": ["linear"]}`)}
	p := NewLLMPlanner(primary, nil, reg)

	plan, reason := p.Build(context.Background(), "anything", []string{"notion"}, nil)
	if plan != nil {
		t.Errorf("expected a nil plan, got %+v", plan)
	}
	if reason != "target_service_not_connected:linear" {
		t.Errorf("got reason %q", reason)
	}
}

func TestLLMPlanner_Build_UnknownToolIsRejected(t *testing.T) {
	reg := &fakeLLMRegistry{known: map[string]registry.ToolDefinition{}}
	primary := &fakeProvider{name: "openai", raw: json.RawMessage(`{
		"target_services": ["notion"],
		"selected_tools": ["notion_delete_everything"]
	}`)}
	p := NewLLMPlanner(primary, nil, reg)

	plan, reason := p.Build(context.Background(), "anything", []string{"notion"}, nil)
	if plan != nil {
		t.Errorf("expected a nil plan, got %+v", plan)
	}
	if reason != "unknown_tool:notion_delete_everything" {
		t.Errorf("got reason %q", reason)
	}
}
