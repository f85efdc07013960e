package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PgRepository persists jobs and classified sessions in Postgres.
type PgRepository struct {
	db *sql.DB
}

func NewPgRepository(db *sql.DB) *PgRepository {
	return &PgRepository{db: db}
}

func (r *PgRepository) CreateJob(ctx context.Context, record JobRecord) error {
	progress, err := json.Marshal(record.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO analysis_jobs (id, start_date, session_count, model, api_key_ref, phase, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID,
		record.Config.StartDate,
		record.Config.SessionCount,
		record.Config.Model,
		record.Config.APIKeyRef,
		record.Phase,
		progress,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert analysis job: %w", err)
	}
	return nil
}

func (r *PgRepository) SaveClassifiedSessions(ctx context.Context, jobID string, sessions []ClassifiedSession) error {
	if len(sessions) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const stmt = `
		INSERT INTO classified_sessions
			(job_id, session_id, user_id, containment, facts, transcript, batch_number, tokens_used, model, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id, session_id) DO UPDATE SET facts = EXCLUDED.facts`
	for _, s := range sessions {
		facts, err := json.Marshal(s.Facts)
		if err != nil {
			return fmt.Errorf("marshal facts: %w", err)
		}
		transcript, err := json.Marshal(s.Session.Messages)
		if err != nil {
			return fmt.Errorf("marshal transcript: %w", err)
		}
		if _, err := tx.ExecContext(ctx, stmt,
			jobID,
			s.Session.SessionID,
			s.Session.UserID,
			string(s.Session.Containment),
			facts,
			transcript,
			s.Metadata.BatchNumber,
			s.Metadata.TokensUsed,
			s.Metadata.Model,
			s.Metadata.ProcessedAt,
		); err != nil {
			return fmt.Errorf("insert classified session: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit classified sessions: %w", err)
	}
	return nil
}

func (r *PgRepository) MarkComplete(ctx context.Context, jobID string, progress Progress, summary string) error {
	return r.finish(ctx, jobID, PhaseComplete, progress, summary, "")
}

func (r *PgRepository) MarkFailed(ctx context.Context, jobID string, progress Progress) error {
	return r.finish(ctx, jobID, PhaseError, progress, "", progress.ErrorMessage)
}

func (r *PgRepository) finish(ctx context.Context, jobID, phase string, progress Progress, summary, errorMessage string) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE analysis_jobs
		SET phase = $2, progress = $3, summary = $4, error_message = $5, ended_at = $6
		WHERE id = $1`,
		jobID, phase, raw, nullableString(summary), nullableString(errorMessage), progress.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("update analysis job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) GetJob(ctx context.Context, id string) (JobRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, start_date, session_count, model, api_key_ref, phase, progress, summary, error_message, created_at, ended_at
		FROM analysis_jobs
		WHERE id = $1`, id)
	record, err := scanJobRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, ErrNotFound
	}
	if err != nil {
		return JobRecord{}, fmt.Errorf("get analysis job: %w", err)
	}
	return record, nil
}

func (r *PgRepository) ListRecent(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, start_date, session_count, model, api_key_ref, phase, progress, summary, error_message, created_at, ended_at
		FROM analysis_jobs
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list analysis jobs: %w", err)
	}
	defer rows.Close()

	var records []JobRecord
	for rows.Next() {
		record, err := scanJobRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis job: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis jobs: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobRecord(row rowScanner) (JobRecord, error) {
	var record JobRecord
	var progress []byte
	var summary, errorMessage sql.NullString
	var endedAt sql.NullTime
	if err := row.Scan(
		&record.ID,
		&record.Config.StartDate,
		&record.Config.SessionCount,
		&record.Config.Model,
		&record.Config.APIKeyRef,
		&record.Phase,
		&progress,
		&summary,
		&errorMessage,
		&record.CreatedAt,
		&endedAt,
	); err != nil {
		return JobRecord{}, err
	}
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &record.Progress); err != nil {
			return JobRecord{}, fmt.Errorf("unmarshal progress: %w", err)
		}
	}
	record.Summary = summary.String
	record.ErrorMessage = errorMessage.String
	if endedAt.Valid {
		t := endedAt.Time
		record.EndedAt = &t
	}
	return record, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
