package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryOAuthTokenStore provides an in-memory OAuthTokenStore.
type MemoryOAuthTokenStore struct {
	mu sync.RWMutex
	tokens map[string]*OAuthToken // key: user_id|provider
}

func NewMemoryOAuthTokenStore() *MemoryOAuthTokenStore {
	return &MemoryOAuthTokenStore{tokens: make(map[string]*OAuthToken)}
}

func oauthKey(userID, provider string) string { return userID + "|" + provider }

func (s *MemoryOAuthTokenStore) Upsert(ctx context.Context, tok *OAuthToken) error {
	if tok == nil || tok.UserID == "" || tok.Provider == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	cp.UpdatedAt = time.Now()
	s.tokens[oauthKey(tok.UserID, tok.Provider)] = &cp
	return nil
}

func (s *MemoryOAuthTokenStore) Get(ctx context.Context, userID, provider string) (*OAuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[oauthKey(userID, provider)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

// MemoryPendingActionStore provides an in-memory PendingActionStore.
// Entries are single-slot per user_id: set replaces unconditionally, get
// prunes on expiry, clear is unconditional.
type MemoryPendingActionStore struct {
	mu sync.Mutex
	entries map[string]*PendingActionRow
}

func NewMemoryPendingActionStore() *MemoryPendingActionStore {
	return &MemoryPendingActionStore{entries: make(map[string]*PendingActionRow)}
}

func (s *MemoryPendingActionStore) Set(ctx context.Context, row *PendingActionRow) error {
	if row == nil || row.UserID == "" {
		return ErrNotFound
	}
	cp := *row
	cp.MissingSlots = append([]string(nil), row.MissingSlots...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[row.UserID] = &cp
	return nil
}

func (s *MemoryPendingActionStore) Get(ctx context.Context, userID string) (*PendingActionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.entries[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(row.ExpiresAt) {
		delete(s.entries, userID)
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *MemoryPendingActionStore) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}

func (s *MemoryPendingActionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for userID, row := range s.entries {
		if now.After(row.ExpiresAt) {
			delete(s.entries, userID)
			removed++
		}
	}
	return removed, nil
}

// MemoryPipelineLinkStore provides an in-memory PipelineLinkStore.
type MemoryPipelineLinkStore struct {
	mu sync.RWMutex
	rows map[string]*PipelineLinkRow // key: user_id|event_id
}

func NewMemoryPipelineLinkStore() *MemoryPipelineLinkStore {
	return &MemoryPipelineLinkStore{rows: make(map[string]*PipelineLinkRow)}
}

func linkKey(userID, eventID string) string { return userID + "|" + eventID }

func (s *MemoryPipelineLinkStore) Upsert(ctx context.Context, row *PipelineLinkRow) error {
	if row == nil || row.UserID == "" || row.EventID == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	cp.UpdatedAt = time.Now()
	// last write wins for a given (user_id, event_id).
	s.rows[linkKey(row.UserID, row.EventID)] = &cp
	return nil
}

func (s *MemoryPipelineLinkStore) Get(ctx context.Context, userID, eventID string) (*PipelineLinkRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[linkKey(userID, eventID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

// MemoryObservabilityStore appends command-log and pipeline-step-log rows
// in memory; used for tests and for the "auto" fallback when the database
// write fails.
type MemoryObservabilityStore struct {
	mu sync.Mutex
	commandLogs []*CommandLogRow
	pipelineSteps []*PipelineStepLogRow
}

func NewMemoryObservabilityStore() *MemoryObservabilityStore {
	return &MemoryObservabilityStore{}
}

func (s *MemoryObservabilityStore) WriteCommandLog(ctx context.Context, row *CommandLogRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	cp.CreatedAt = time.Now()
	s.commandLogs = append(s.commandLogs, &cp)
	return nil
}

func (s *MemoryObservabilityStore) WritePipelineStepLog(ctx context.Context, row *PipelineStepLogRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	cp.CreatedAt = time.Now()
	s.pipelineSteps = append(s.pipelineSteps, &cp)
	return nil
}

func (s *MemoryObservabilityStore) CommandLogs() []*CommandLogRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*CommandLogRow, len(s.commandLogs))
	copy(out, s.commandLogs)
	return out
}

func (s *MemoryObservabilityStore) PipelineStepLogs() []*PipelineStepLogRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PipelineStepLogRow, len(s.pipelineSteps))
	copy(out, s.pipelineSteps)
	return out
}

// NewMemoryStores constructs a StoreSet backed entirely by memory, used in
// tests and as the fallback target of the "auto" backend policy.
func NewMemoryStores() StoreSet {
	return StoreSet{
		OAuthTokens: NewMemoryOAuthTokenStore(),
		PendingActions: NewMemoryPendingActionStore(),
		PipelineLinks: NewMemoryPipelineLinkStore(),
		Observability: NewMemoryObservabilityStore(),
	}
}
