package contracts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeContract(t *testing.T, dir, name, raw string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write contract %s: %v", name, err)
	}
	return path
}

const notionMovePageContract = `{
	"name": "notion.move_page",
	"version": "1",
	"summary": "Move a page to a new parent",
	"provider": {"service": "notion", "scopes": ["pages.write"]},
	"input_schema": {"type": "object"},
	"output_schema": {"type": "object"},
	"examples": [{"input": {}, "output": {}}],
	"runtime_tools": ["notion_update_page"]
}`

const linearTriageContract = `{
	"name": "linear.triage_issue",
	"version": "1",
	"summary": "Move an issue to triage and comment",
	"provider": {"service": "linear", "scopes": ["issues.write"]},
	"input_schema": {"type": "object"},
	"output_schema": {"type": "object"},
	"examples": [{"input": {}, "output": {}}],
	"runtime_tools": ["linear_update_issue", "linear_create_comment"]
}`

func TestStore_Get_LoadsAndReturnsContract(t *testing.T) {
	dir := t.TempDir()
	writeContract(t, dir, "notion_move.json", notionMovePageContract)

	s := New(dir)
	sc, ok, err := s.Get("notion.move_page")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected the contract to be found")
	}
	if sc.Provider.Service != "notion" || len(sc.RuntimeTools) != 1 {
		t.Errorf("unexpected contract: %+v", sc)
	}
}

func TestStore_Load_RejectsProviderServiceMismatch(t *testing.T) {
	dir := t.TempDir()
	writeContract(t, dir, "bad.json", `{
		"name": "notion.archive_page",
		"version": "1",
		"summary": "s",
		"provider": {"service": "linear"},
		"input_schema": {"type": "object"},
		"output_schema": {"type": "object"},
		"examples": [{}],
		"runtime_tools": ["notion_update_page"]
	}`)

	s := New(dir)
	if _, _, err := s.Get("notion.archive_page"); err == nil {
		t.Fatal("expected a provider/name-prefix mismatch load error")
	}
}

func TestStore_InferSkill_PicksSmallestSuperset(t *testing.T) {
	dir := t.TempDir()
	writeContract(t, dir, "notion_move.json", notionMovePageContract)
	writeContract(t, dir, "linear_triage.json", linearTriageContract)

	s := New(dir)

	name, ok, err := s.InferSkill([]string{"notion_update_page"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || name != "notion.move_page" {
		t.Errorf("got name=%q ok=%v, want notion.move_page", name, ok)
	}

	// A single-tool selection that's a strict subset of a larger skill's
	// runtime_tools still infers that skill, since it's the smallest
	// superset available.
	name, ok, err = s.InferSkill([]string{"linear_update_issue"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || name != "linear.triage_issue" {
		t.Errorf("got name=%q ok=%v, want linear.triage_issue", name, ok)
	}

	if _, ok, err := s.InferSkill([]string{"does_not_exist"}); err != nil || ok {
		t.Errorf("expected no inference for an unmatched tool, got ok=%v err=%v", ok, err)
	}
}

func TestStore_InferSkill_TiedSupersetsInferNothing(t *testing.T) {
	dir := t.TempDir()
	writeContract(t, dir, "a.json", `{
		"name": "svc.skill_a",
		"version": "1",
		"summary": "s",
		"provider": {"service": "svc"},
		"input_schema": {"type": "object"},
		"output_schema": {"type": "object"},
		"examples": [{}],
		"runtime_tools": ["svc_shared", "svc_a_only"]
	}`)
	writeContract(t, dir, "b.json", `{
		"name": "svc.skill_b",
		"version": "1",
		"summary": "s",
		"provider": {"service": "svc"},
		"input_schema": {"type": "object"},
		"output_schema": {"type": "object"},
		"examples": [{}],
		"runtime_tools": ["svc_shared", "svc_b_only"]
	}`)

	s := New(dir)
	if _, ok, err := s.InferSkill([]string{"svc_shared"}); err != nil || ok {
		t.Errorf("expected no inference when two skills tie as smallest superset, got ok=%v err=%v", ok, err)
	}
}

func TestStore_RuntimeToolsFor_UnknownNameReturnsNilWithoutError(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	tools, err := s.RuntimeToolsFor("nope.nothing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tools != nil {
		t.Errorf("expected nil tools, got %v", tools)
	}
}

func TestStore_Reload_PicksUpNewContractFile(t *testing.T) {
	dir := t.TempDir()
	writeContract(t, dir, "notion_move.json", notionMovePageContract)

	s := New(dir)
	if _, ok, err := s.Get("notion.move_page"); err != nil || !ok {
		t.Fatalf("unexpected first load: ok=%v err=%v", ok, err)
	}

	writeContract(t, dir, "linear_triage.json", linearTriageContract)
	if err := s.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok, err := s.Get("linear.triage_issue"); err != nil || !ok {
		t.Fatalf("expected linear.triage_issue after reload: ok=%v err=%v", ok, err)
	}
}

func TestStore_StartWatching_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	writeContract(t, dir, "notion_move.json", notionMovePageContract)

	s := New(dir)
	if _, ok, err := s.Get("notion.move_page"); err != nil || !ok {
		t.Fatalf("unexpected first load: ok=%v err=%v", ok, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.StartWatching(ctx, 20*time.Millisecond); err != nil {
		t.Fatalf("start watching: %v", err)
	}
	defer s.Close()

	writeContract(t, dir, "linear_triage.json", linearTriageContract)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok, err := s.Get("linear.triage_issue"); err == nil && ok {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("expected the watcher to pick up the new contract file within the deadline")
}
