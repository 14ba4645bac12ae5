package recordstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cortexdata/cortex/internal/domain"
)

// PostgresStore persists ExecutionRecords to Postgres, one row per
// execution with the variable-shaped fields (result envelope,
// visualizations) held as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, pings it, and ensures the schema
// exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS execution_records (
			execution_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT,
			code TEXT NOT NULL,
			status TEXT NOT NULL,
			stdout TEXT,
			stderr TEXT,
			result_envelope JSONB,
			visualizations JSONB,
			elapsed_ms BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_records_session
			ON execution_records(session_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, rec domain.ExecutionRecord) error {
	result, err := marshalResult(rec.Result)
	if err != nil {
		return err
	}
	viz, err := marshalVisualizations(rec.Visualizations)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_records
			(execution_id, user_id, session_id, code, status, stdout, stderr,
			 result_envelope, visualizations, elapsed_ms, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (execution_id) DO NOTHING
	`, rec.ExecutionID, rec.UserID, nullableString(rec.SessionID), rec.Code, string(rec.Status),
		rec.Stdout, rec.Stderr, result, viz, rec.ElapsedMs, rec.CreatedAt, rec.StartedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("put execution record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, executionID string) (domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	var status string
	var result, viz []byte

	err := s.pool.QueryRow(ctx, `
		SELECT execution_id, user_id, COALESCE(session_id, ''), code, status, stdout, stderr,
		       result_envelope, visualizations, elapsed_ms, created_at, started_at, completed_at
		FROM execution_records WHERE execution_id = $1
	`, executionID).Scan(&rec.ExecutionID, &rec.UserID, &rec.SessionID, &rec.Code, &status,
		&rec.Stdout, &rec.Stderr, &result, &viz, &rec.ElapsedMs, &rec.CreatedAt, &rec.StartedAt, &rec.CompletedAt)
	if err == pgx.ErrNoRows {
		return domain.ExecutionRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("get execution record: %w", err)
	}
	rec.Status = domain.Status(status)

	if len(result) > 0 {
		var envelope domain.ResultEnvelope
		if err := json.Unmarshal(result, &envelope); err != nil {
			return domain.ExecutionRecord{}, fmt.Errorf("decode result envelope: %w", err)
		}
		rec.Result = &envelope
	}
	if len(viz) > 0 {
		if err := json.Unmarshal(viz, &rec.Visualizations); err != nil {
			return domain.ExecutionRecord{}, fmt.Errorf("decode visualizations: %w", err)
		}
	}
	return rec, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, executionID string, u StatusUpdate) error {
	rec, err := s.Get(ctx, executionID)
	if err != nil {
		return err
	}
	applyUpdate(&rec, u)

	result, err := marshalResult(rec.Result)
	if err != nil {
		return err
	}
	viz, err := marshalVisualizations(rec.Visualizations)
	if err != nil {
		return err
	}

	ct, err := s.pool.Exec(ctx, `
		UPDATE execution_records SET
			status = $2, stdout = $3, stderr = $4, result_envelope = $5,
			visualizations = $6, elapsed_ms = $7, started_at = $8, completed_at = $9
		WHERE execution_id = $1
	`, executionID, string(rec.Status), rec.Stdout, rec.Stderr, result, viz, rec.ElapsedMs, rec.StartedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("update execution record: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT execution_id, user_id, COALESCE(session_id, ''), code, status, stdout, stderr,
		       result_envelope, visualizations, elapsed_ms, created_at, started_at, completed_at
		FROM execution_records
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list execution records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.ExecutionRecord, 0)
	for rows.Next() {
		var rec domain.ExecutionRecord
		var status string
		var result, viz []byte
		if err := rows.Scan(&rec.ExecutionID, &rec.UserID, &rec.SessionID, &rec.Code, &status,
			&rec.Stdout, &rec.Stderr, &result, &viz, &rec.ElapsedMs, &rec.CreatedAt, &rec.StartedAt, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		rec.Status = domain.Status(status)
		if len(result) > 0 {
			var envelope domain.ResultEnvelope
			if err := json.Unmarshal(result, &envelope); err == nil {
				rec.Result = &envelope
			}
		}
		if len(viz) > 0 {
			_ = json.Unmarshal(viz, &rec.Visualizations)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list execution records rows: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func marshalResult(env *domain.ResultEnvelope) ([]byte, error) {
	if env == nil {
		return nil, nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal result envelope: %w", err)
	}
	return data, nil
}

func marshalVisualizations(figs []domain.Figure) ([]byte, error) {
	if len(figs) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(figs)
	if err != nil {
		return nil, fmt.Errorf("marshal visualizations: %w", err)
	}
	return data, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
