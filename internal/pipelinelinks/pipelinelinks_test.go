package pipelinelinks

import (
	"context"
	"testing"

	"github.com/relaycore/orchestrator/internal/storage"
)

func TestWriteSuccessRows_ExtractsEventAndServiceIDs(t *testing.T) {
	store := storage.NewMemoryPipelineLinkStore()
	w := New(store)

	items := []ItemResult{
		{
			"n1": {"event_id": "evt-1"},
			"n2": {"data": map[string]any{"id": "page-123"}},
			"n3": {"issueCreate": map[string]any{"issue": map[string]any{"id": "issue-456"}}},
		},
	}

	if err := w.WriteSuccessRows(context.Background(), "user-1", "run-1", items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row, err := store.Get(context.Background(), "user-1", "evt-1")
	if err != nil {
		t.Fatalf("expected a row for evt-1: %v", err)
	}
	if row.Status != "succeeded" || row.CompensationStatus != "not_required" {
		t.Errorf("unexpected row status: %+v", row)
	}
	if row.NotionPageID != "page-123" || row.LinearIssueID != "issue-456" {
		t.Errorf("expected both service ids to be extracted, got %+v", row)
	}
}

func TestWriteSuccessRows_SkipsItemsWithoutEventID(t *testing.T) {
	store := storage.NewMemoryPipelineLinkStore()
	w := New(store)

	items := []ItemResult{
		{"n1": {"data": map[string]any{"id": "page-123"}}},
	}
	if err := w.WriteSuccessRows(context.Background(), "user-1", "run-1", items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Get(context.Background(), "user-1", ""); err == nil {
		t.Fatal("expected no row to be written for an item with no event_id")
	}
}

func TestWriteFailureRow_UpsertsFailureStatus(t *testing.T) {
	store := storage.NewMemoryPipelineLinkStore()
	w := New(store)

	if err := w.WriteFailureRow(context.Background(), "user-1", "evt-9", "run-1", "failed", "TOOL_TIMEOUT", "manual_required"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row, err := store.Get(context.Background(), "user-1", "evt-9")
	if err != nil {
		t.Fatalf("expected a row for evt-9: %v", err)
	}
	if row.Status != "failed" || row.ErrorCode != "TOOL_TIMEOUT" || row.CompensationStatus != "manual_required" {
		t.Errorf("unexpected row: %+v", row)
	}
}

func TestWriteFailureRow_EmptyEventIDIsNoOp(t *testing.T) {
	store := storage.NewMemoryPipelineLinkStore()
	w := New(store)

	if err := w.WriteFailureRow(context.Background(), "user-1", "", "run-1", "failed", "TOOL_TIMEOUT", "manual_required"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
