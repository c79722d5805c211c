// Package storage defines the persistence interfaces for the five logical
// tables the orchestrator reads and writes, and provides in-memory and
// Postgres-backed implementations behind a shared StoreSet.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// OAuthToken is one row of oauth_tokens, unique by (user_id, provider).
type OAuthToken struct {
	UserID string
	Provider string
	AccessTokenEncrypted string
	RefreshTokenEncrypted string
	ExpiresAt time.Time
	GrantedScopes []string
	WorkspaceID string
	WorkspaceName string
	UpdatedAt time.Time
}

// OAuthTokenStore persists per-user, per-provider OAuth grants.
type OAuthTokenStore interface {
	Upsert(ctx context.Context, tok *OAuthToken) error
	Get(ctx context.Context, userID, provider string) (*OAuthToken, error)
}

// PendingActionRow is one row of pending_actions, keyed by user_id.
type PendingActionRow struct {
	UserID string
	Intent string
	Action string
	TaskID string
	PlanJSON string
	PlanSource string
	CollectedSlotsJSON string
	MissingSlots []string
	ExpiresAt time.Time
}

// PendingActionStore persists the single-slot per-user pending-action state.
type PendingActionStore interface {
	Set(ctx context.Context, row *PendingActionRow) error
	Get(ctx context.Context, userID string) (*PendingActionRow, error)
	Clear(ctx context.Context, userID string) error
	// DeleteExpired removes every row whose expires_at is before now and
	// returns the count removed, for the proactive TTL sweep.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// PipelineLinkRow is one row of pipeline_links, unique by (user_id, event_id).
type PipelineLinkRow struct {
	UserID string
	EventID string
	NotionPageID string
	LinearIssueID string
	RunID string
	Status string
	ErrorCode string
	CompensationStatus string
	UpdatedAt time.Time
}

// PipelineLinkStore persists cross-service link outcomes.
type PipelineLinkStore interface {
	Upsert(ctx context.Context, row *PipelineLinkRow) error
	Get(ctx context.Context, userID, eventID string) (*PipelineLinkRow, error)
}

// CommandLogRow is one row of command_logs.
type CommandLogRow struct {
	UserID string
	Command string
	Status string
	FinalStatus string
	PlanSource string
	ExecutionMode string
	ErrorCode string
	VerificationReason string
	AutonomousFallbackReason string
	Detail string
	CreatedAt time.Time
}

// PipelineStepLogRow is one row of pipeline_step_logs, one per DAG node per run.
type PipelineStepLogRow struct {
	RequestID string
	PipelineRunID string
	NodeID string
	NodeType string
	Status string
	ErrorCode string
	DurationMs int64
	CreatedAt time.Time
}

// ObservabilityStore persists the append-only observability tables.
type ObservabilityStore interface {
	WriteCommandLog(ctx context.Context, row *CommandLogRow) error
	WritePipelineStepLog(ctx context.Context, row *PipelineStepLogRow) error
}

// StoreSet groups every storage dependency the orchestrator needs.
type StoreSet struct {
	OAuthTokens OAuthTokenStore
	PendingActions PendingActionStore
	PipelineLinks PipelineLinkStore
	Observability ObservabilityStore
	closer func() error
}

// Close closes any underlying resources (e.g. the database connection pool).
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
