package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSpec(t *testing.T, dir, name, raw string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write spec %s: %v", name, err)
	}
	return path
}

const notionSpec = `{
	"service": "notion",
	"version": "1",
	"base_url": "https://api.notion.com",
	"auth": {"required_scopes": ["pages.write"]},
	"tools": [
		{
			"tool_name": "notion_update_page",
			"description": "Update a page",
			"method": "patch",
			"path": "/v1/pages/{page_id}",
			"adapter_function": "updatePage",
			"input_schema": {"type": "object"},
			"required_scopes": ["pages.write"],
			"idempotency_key_policy": "event_id",
			"error_map": {"404": "TOOL_NOT_FOUND"}
		}
	]
}`

const linearSpec = `{
	"service": "linear",
	"version": "1",
	"base_url": "https://api.linear.app",
	"tools": [
		{
			"tool_name": "linear_create_issue",
			"description": "Create an issue",
			"method": "post",
			"path": "/issues",
			"adapter_function": "createIssue",
			"input_schema": {"type": "object"}
		}
	]
}`

func TestRegistry_GetTool_LoadsAndReturnsDefinition(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "notion.json", notionSpec)

	r := New(dir)
	def, err := r.GetTool("notion_update_page")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Service != "notion" || def.HTTPMethod != "PATCH" || def.BaseURL != "https://api.notion.com" {
		t.Errorf("unexpected definition: %+v", def)
	}
}

func TestRegistry_GetTool_UnknownToolErrors(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "notion.json", notionSpec)

	r := New(dir)
	if _, err := r.GetTool("does_not_exist"); err == nil {
		t.Fatal("expected an error for an unknown tool")
	}
}

func TestRegistry_ListAvailableTools_FiltersByConnectionAndScope(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "notion.json", notionSpec)
	writeSpec(t, dir, "linear.json", linearSpec)

	r := New(dir)

	tools, err := r.ListAvailableTools([]string{"notion"}, map[string][]string{"notion": {"pages.write"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tools) != 1 || tools[0].ToolName != "notion_update_page" {
		t.Errorf("expected only notion_update_page, got %+v", tools)
	}

	if tools, err := r.ListAvailableTools([]string{"notion"}, nil); err != nil || len(tools) != 0 {
		t.Errorf("expected no tools without required scopes granted, got %+v (err=%v)", tools, err)
	}

	if tools, err := r.ListAvailableTools([]string{"linear"}, nil); err != nil || len(tools) != 1 {
		t.Errorf("expected linear_create_issue with no scopes required, got %+v (err=%v)", tools, err)
	}
}

func TestRegistry_Load_RejectsToolNameMissingServicePrefix(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "bad.json", `{
		"service": "notion",
		"version": "1",
		"base_url": "https://api.notion.com",
		"tools": [{"tool_name": "wrong_prefix", "description": "d", "method": "get", "path": "/x", "adapter_function": "f", "input_schema": {"type":"object"}}]
	}`)

	r := New(dir)
	if _, err := r.GetTool("wrong_prefix"); err == nil {
		t.Fatal("expected a prefix-mismatch load error")
	}
}

func TestRegistry_Reload_PicksUpNewSpecFile(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "notion.json", notionSpec)

	r := New(dir)
	if _, err := r.GetTool("notion_update_page"); err != nil {
		t.Fatalf("unexpected error on first load: %v", err)
	}

	writeSpec(t, dir, "linear.json", linearSpec)
	if err := r.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := r.GetTool("linear_create_issue"); err != nil {
		t.Fatalf("expected linear_create_issue after reload: %v", err)
	}
}

func TestRegistry_StartWatching_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "notion.json", notionSpec)

	r := New(dir)
	if _, err := r.GetTool("notion_update_page"); err != nil {
		t.Fatalf("unexpected error on first load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.StartWatching(ctx, 20*time.Millisecond); err != nil {
		t.Fatalf("start watching: %v", err)
	}
	defer r.Close()

	writeSpec(t, dir, "linear.json", linearSpec)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := r.GetTool("linear_create_issue"); err == nil {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("expected the watcher to pick up the new spec file within the deadline")
}

func TestRegistry_StartWatching_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "notion.json", notionSpec)

	r := New(dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.StartWatching(ctx, 0); err != nil {
		t.Fatalf("first StartWatching: %v", err)
	}
	if err := r.StartWatching(ctx, 0); err != nil {
		t.Fatalf("second StartWatching should be a no-op, got: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
