// Package pending wraps the storage.PendingActionStore with the JSON
// marshaling and TTL-clamping semantics.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/relaycore/orchestrator/internal/storage"
)

const (
	defaultTTL = 900 * time.Second
	minTTL = 60 * time.Second
)

// Action is the in-memory view of a pending clarification state: a plan
// (or single action) waiting on the user to supply missing slots.
type Action struct {
	UserID string
	Intent string
	ActionName string
	TaskID string
	Plan any
	PlanSource string
	CollectedSlots map[string]any
	MissingSlots []string
	ExpiresAt time.Time
}

// Store wraps a storage.PendingActionStore with marshaling and TTL defaults.
type Store struct {
	backing storage.PendingActionStore
}

func New(backing storage.PendingActionStore) *Store {
	return &Store{backing: backing}
}

func clampTTL(ttlSec int) time.Duration {
	if ttlSec <= 0 {
		return defaultTTL
	}
	ttl := time.Duration(ttlSec) * time.Second
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

// Set stores a pending action for userID with the given TTL in seconds
// (0 means the default of 900s; anything under 60s is clamped up to 60s).
func (s *Store) Set(ctx context.Context, a *Action, ttlSec int) error {
	planJSON, err := json.Marshal(a.Plan)
	if err != nil {
		return err
	}
	slotsJSON, err := json.Marshal(a.CollectedSlots)
	if err != nil {
		return err
	}
	row := &storage.PendingActionRow{
		UserID: a.UserID,
		Intent: a.Intent,
		Action: a.ActionName,
		TaskID: a.TaskID,
		PlanJSON: string(planJSON),
		PlanSource: a.PlanSource,
		CollectedSlotsJSON: string(slotsJSON),
		MissingSlots: a.MissingSlots,
		ExpiresAt: time.Now().Add(clampTTL(ttlSec)),
	}
	return s.backing.Set(ctx, row)
}

// Get returns the live pending action for userID, or (nil, nil) when there
// is none or it has expired.
func (s *Store) Get(ctx context.Context, userID string) (*Action, error) {
	row, err := s.backing.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	if time.Now().After(row.ExpiresAt) {
		_ = s.backing.Clear(ctx, userID)
		return nil, nil
	}

	var plan any
	if row.PlanJSON != "" {
		if err := json.Unmarshal([]byte(row.PlanJSON), &plan); err != nil {
			return nil, err
		}
	}
	var slots map[string]any
	if row.CollectedSlotsJSON != "" {
		if err := json.Unmarshal([]byte(row.CollectedSlotsJSON), &slots); err != nil {
			return nil, err
		}
	}

	return &Action{
		UserID: row.UserID,
		Intent: row.Intent,
		ActionName: row.Action,
		TaskID: row.TaskID,
		Plan: plan,
		PlanSource: row.PlanSource,
		CollectedSlots: slots,
		MissingSlots: row.MissingSlots,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// Clear removes any pending action for userID.
func (s *Store) Clear(ctx context.Context, userID string) error {
	return s.backing.Clear(ctx, userID)
}

// MergeSlots folds newSlots into an existing pending action's collected
// slots and recomputes missing against requiredSlots, returning the
// updated set of still-missing slot names.
func MergeSlots(a *Action, newSlots map[string]any, requiredSlots []string) []string {
	if a.CollectedSlots == nil {
		a.CollectedSlots = map[string]any{}
	}
	for k, v := range newSlots {
		a.CollectedSlots[k] = v
	}
	var missing []string
	for _, slot := range requiredSlots {
		if _, ok := a.CollectedSlots[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	a.MissingSlots = missing
	return missing
}
