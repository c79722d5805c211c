package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/relaycore/orchestrator/internal/observability"
)

// NewPostgresStoresFromDSN opens a connection pool and wires up every
// Postgres-backed store against the five logical tables. metrics may
// be nil, in which case query duration/count go unrecorded.
func NewPostgresStoresFromDSN(dsn string, config *PostgresConfig) (StoreSet, error) {
	return NewPostgresStoresFromDSNWithMetrics(dsn, config, nil)
}

// NewPostgresStoresFromDSNWithMetrics is NewPostgresStoresFromDSN with an
// explicit *observability.Metrics for per-query instrumentation.
func NewPostgresStoresFromDSNWithMetrics(dsn string, config *PostgresConfig, metrics *observability.Metrics) (StoreSet, error) {
	if strings.TrimSpace(dsn) == "" {
		return StoreSet{}, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping database: %w", err)
	}

	stores := StoreSet{
		OAuthTokens: &postgresOAuthTokenStore{db: db, metrics: metrics},
		PendingActions: &postgresPendingActionStore{db: db, metrics: metrics},
		PipelineLinks: &postgresPipelineLinkStore{db: db, metrics: metrics},
		Observability: &postgresObservabilityStore{db: db, metrics: metrics},
		closer: db.Close,
	}
	return stores, nil
}

// recordQuery wraps a single database call with DatabaseQueryDuration/Counter
// recording. metrics may be nil.
func recordQuery(metrics *observability.Metrics, operation, table string, fn func() error) error {
	start := time.Now()
	err := fn()
	if metrics != nil {
		status := "success"
		if err != nil && err != sql.ErrNoRows && err != ErrNotFound {
			status = "error"
		}
		metrics.RecordDatabaseQuery(operation, table, status, time.Since(start).Seconds())
	}
	return err
}

type postgresOAuthTokenStore struct {
	db *sql.DB
	metrics *observability.Metrics
}

func (s *postgresOAuthTokenStore) Upsert(ctx context.Context, tok *OAuthToken) error {
	if tok == nil || tok.UserID == "" || tok.Provider == "" {
		return fmt.Errorf("user_id and provider are required")
	}
	return recordQuery(s.metrics, "upsert", "oauth_tokens", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO oauth_tokens (user_id, provider, access_token_encrypted, granted_scopes, workspace_id, workspace_name, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)
			 ON CONFLICT (user_id, provider) DO UPDATE SET
			 access_token_encrypted = EXCLUDED.access_token_encrypted,
			 granted_scopes = EXCLUDED.granted_scopes,
			 workspace_id = EXCLUDED.workspace_id,
			 workspace_name = EXCLUDED.workspace_name,
			 updated_at = EXCLUDED.updated_at`,
			tok.UserID, tok.Provider, tok.AccessTokenEncrypted, pq.Array(tok.GrantedScopes),
			tok.WorkspaceID, tok.WorkspaceName, time.Now(),
		)
		if err != nil {
			return fmt.Errorf("upsert oauth token: %w", err)
		}
		return nil
	})
}

func (s *postgresOAuthTokenStore) Get(ctx context.Context, userID, provider string) (*OAuthToken, error) {
	var tok OAuthToken
	err := recordQuery(s.metrics, "select", "oauth_tokens", func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT user_id, provider, access_token_encrypted, granted_scopes, workspace_id, workspace_name, updated_at
			 FROM oauth_tokens WHERE user_id = $1 AND provider = $2`, userID, provider)
		if err := row.Scan(&tok.UserID, &tok.Provider, &tok.AccessTokenEncrypted,
			pq.Array(&tok.GrantedScopes), &tok.WorkspaceID, &tok.WorkspaceName, &tok.UpdatedAt); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("get oauth token: %w", err)
		}
		return nil
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tok, nil
}

type postgresPendingActionStore struct {
	db *sql.DB
	metrics *observability.Metrics
}

func (s *postgresPendingActionStore) Set(ctx context.Context, row *PendingActionRow) error {
	if row == nil || row.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	return recordQuery(s.metrics, "upsert", "pending_actions", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO pending_actions (user_id, intent, action, task_id, plan_json, plan_source, collected_slots_json, missing_slots, expires_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			 ON CONFLICT (user_id) DO UPDATE SET
			 intent = EXCLUDED.intent,
			 action = EXCLUDED.action,
			 task_id = EXCLUDED.task_id,
			 plan_json = EXCLUDED.plan_json,
			 plan_source = EXCLUDED.plan_source,
			 collected_slots_json = EXCLUDED.collected_slots_json,
			 missing_slots = EXCLUDED.missing_slots,
			 expires_at = EXCLUDED.expires_at`,
			row.UserID, row.Intent, row.Action, row.TaskID, row.PlanJSON, row.PlanSource,
			row.CollectedSlotsJSON, pq.Array(row.MissingSlots), row.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("set pending action: %w", err)
		}
		return nil
	})
}

func (s *postgresPendingActionStore) Get(ctx context.Context, userID string) (*PendingActionRow, error) {
	var out PendingActionRow
	err := recordQuery(s.metrics, "select", "pending_actions", func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT user_id, intent, action, task_id, plan_json, plan_source, collected_slots_json, missing_slots, expires_at
			 FROM pending_actions WHERE user_id = $1 AND expires_at > now()`, userID)
		if err := row.Scan(&out.UserID, &out.Intent, &out.Action, &out.TaskID, &out.PlanJSON,
			&out.PlanSource, &out.CollectedSlotsJSON, pq.Array(&out.MissingSlots), &out.ExpiresAt); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("get pending action: %w", err)
		}
		return nil
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (s *postgresPendingActionStore) Clear(ctx context.Context, userID string) error {
	return recordQuery(s.metrics, "delete", "pending_actions", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE user_id = $1`, userID)
		if err != nil {
			return fmt.Errorf("clear pending action: %w", err)
		}
		return nil
	})
}

func (s *postgresPendingActionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := recordQuery(s.metrics, "delete", "pending_actions", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE expires_at < $1`, now)
		if err != nil {
			return fmt.Errorf("delete expired pending actions: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete expired pending actions: %w", err)
		}
		n = int(affected)
		return nil
	})
	return n, err
}

type postgresPipelineLinkStore struct {
	db *sql.DB
	metrics *observability.Metrics
}

func (s *postgresPipelineLinkStore) Upsert(ctx context.Context, row *PipelineLinkRow) error {
	if row == nil || row.UserID == "" || row.EventID == "" {
		return fmt.Errorf("user_id and event_id are required")
	}
	return recordQuery(s.metrics, "upsert", "pipeline_links", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO pipeline_links (user_id, event_id, notion_page_id, linear_issue_id, run_id, status, error_code, compensation_status, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			 ON CONFLICT (user_id, event_id) DO UPDATE SET
			 notion_page_id = EXCLUDED.notion_page_id,
			 linear_issue_id = EXCLUDED.linear_issue_id,
			 run_id = EXCLUDED.run_id,
			 status = EXCLUDED.status,
			 error_code = EXCLUDED.error_code,
			 compensation_status = EXCLUDED.compensation_status,
			 updated_at = EXCLUDED.updated_at`,
			row.UserID, row.EventID, row.NotionPageID, row.LinearIssueID, row.RunID,
			row.Status, row.ErrorCode, row.CompensationStatus, time.Now(),
		)
		if err != nil {
			return fmt.Errorf("upsert pipeline link: %w", err)
		}
		return nil
	})
}

func (s *postgresPipelineLinkStore) Get(ctx context.Context, userID, eventID string) (*PipelineLinkRow, error) {
	var out PipelineLinkRow
	err := recordQuery(s.metrics, "select", "pipeline_links", func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT user_id, event_id, notion_page_id, linear_issue_id, run_id, status, error_code, compensation_status, updated_at
			 FROM pipeline_links WHERE user_id = $1 AND event_id = $2`, userID, eventID)
		if err := row.Scan(&out.UserID, &out.EventID, &out.NotionPageID, &out.LinearIssueID,
			&out.RunID, &out.Status, &out.ErrorCode, &out.CompensationStatus, &out.UpdatedAt); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("get pipeline link: %w", err)
		}
		return nil
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

type postgresObservabilityStore struct {
	db *sql.DB
	metrics *observability.Metrics
}

func (s *postgresObservabilityStore) WriteCommandLog(ctx context.Context, row *CommandLogRow) error {
	return recordQuery(s.metrics, "insert", "command_logs", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO command_logs (user_id, command, status, final_status, plan_source, execution_mode, error_code, verification_reason, autonomous_fallback_reason, detail, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			row.UserID, row.Command, row.Status, row.FinalStatus, row.PlanSource, row.ExecutionMode,
			row.ErrorCode, row.VerificationReason, row.AutonomousFallbackReason, row.Detail, time.Now(),
		)
		if err != nil {
			return fmt.Errorf("write command log: %w", err)
		}
		return nil
	})
}

func (s *postgresObservabilityStore) WritePipelineStepLog(ctx context.Context, row *PipelineStepLogRow) error {
	return recordQuery(s.metrics, "insert", "pipeline_step_logs", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO pipeline_step_logs (request_id, pipeline_run_id, node_id, node_type, status, error_code, duration_ms, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			row.RequestID, row.PipelineRunID, row.NodeID, row.NodeType, row.Status, row.ErrorCode, row.DurationMs, time.Now(),
		)
		if err != nil {
			return fmt.Errorf("write pipeline step log: %w", err)
		}
		return nil
	})
}
