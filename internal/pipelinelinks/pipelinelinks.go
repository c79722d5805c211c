// Package pipelinelinks derives pipeline_links rows from executor
// artifacts and upserts them through a storage.PipelineLinkStore.
package pipelinelinks

import (
	"context"
	"time"

	"github.com/relaycore/orchestrator/internal/storage"
)

// ItemResult is one entry of a for_each node's item_results, keyed by the
// child node ids that produced it (e.g. n2_1, n2_2, n2_3).
type ItemResult map[string]map[string]any

// Writer upserts pipeline_links rows derived from DAG artifacts.
type Writer struct {
	store storage.PipelineLinkStore
}

func New(store storage.PipelineLinkStore) *Writer {
	return &Writer{store: store}
}

func dig(m map[string]any, path...string) (any, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func digString(m map[string]any, path...string) string {
	v, ok := dig(m, path...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// WriteSuccessRows walks a for_each node's item_results and upserts one
// succeeded row per event_id found.
func (w *Writer) WriteSuccessRows(ctx context.Context, userID, runID string, itemResults []ItemResult) error {
	for _, item := range itemResults {
		var eventID, notionID, linearID string
		for _, node := range item {
			if id := digString(node, "event_id"); id != "" {
				eventID = id
			}
			if id := digString(node, "data", "id"); id != "" {
				notionID = id
			}
			if id := digString(node, "issueCreate", "issue", "id"); id != "" {
				linearID = id
			}
		}
		if eventID == "" {
			continue
		}
		row := &storage.PipelineLinkRow{
			UserID: userID,
			EventID: eventID,
			RunID: runID,
			Status: "succeeded",
			CompensationStatus: "not_required",
			UpdatedAt: time.Now(),
		}
		if notionID != "" {
			row.NotionPageID = notionID
		}
		if linearID != "" {
			row.LinearIssueID = linearID
		}
		if err := w.store.Upsert(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// WriteFailureRow upserts a single failure-path row for eventID.
func (w *Writer) WriteFailureRow(ctx context.Context, userID, eventID, runID, status, errorCode, compensationStatus string) error {
	if eventID == "" {
		return nil
	}
	row := &storage.PipelineLinkRow{
		UserID: userID,
		EventID: eventID,
		RunID: runID,
		Status: status,
		ErrorCode: errorCode,
		CompensationStatus: compensationStatus,
		UpdatedAt: time.Now(),
	}
	return w.store.Upsert(ctx, row)
}
