package storage

import (
	"context"
	"time"
)

// autoPendingActionStore implements the "auto" backend policy: prefer the
// database, and on any database failure for the current operation degrade
// to the in-memory store rather than
// losing the write. A failed database write is never retried in place; the
// next turn's write attempts the database again.
type autoPendingActionStore struct {
	db PendingActionStore
	memory PendingActionStore
}

// NewAutoPendingActionStore wraps a database-backed store with an
// in-memory fallback used whenever the database call errors.
func NewAutoPendingActionStore(db PendingActionStore) PendingActionStore {
	return &autoPendingActionStore{db: db, memory: NewMemoryPendingActionStore()}
}

func (s *autoPendingActionStore) Set(ctx context.Context, row *PendingActionRow) error {
	if err := s.db.Set(ctx, row); err != nil {
		return s.memory.Set(ctx, row)
	}
	return nil
}

func (s *autoPendingActionStore) Get(ctx context.Context, userID string) (*PendingActionRow, error) {
	row, err := s.db.Get(ctx, userID)
	if err != nil && err != ErrNotFound {
		return s.memory.Get(ctx, userID)
	}
	return row, err
}

func (s *autoPendingActionStore) Clear(ctx context.Context, userID string) error {
	dbErr := s.db.Clear(ctx, userID)
	memErr := s.memory.Clear(ctx, userID)
	if dbErr != nil {
		return memErr
	}
	return nil
}

func (s *autoPendingActionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := s.db.DeleteExpired(ctx, now)
	if err != nil {
		return s.memory.DeleteExpired(ctx, now)
	}
	return n, nil
}
