package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockRepo(t *testing.T) (*PgRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPgRepository(db), mock
}

func TestPgRepositoryCreateJob(t *testing.T) {
	repo, mock := newMockRepo(t)
	record := JobRecord{
		ID:        "job-1",
		Config:    validConfig(),
		Phase:     PhaseSampling,
		CreatedAt: time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO analysis_jobs").
		WithArgs(
			record.ID,
			record.Config.StartDate,
			record.Config.SessionCount,
			record.Config.Model,
			record.Config.APIKeyRef,
			record.Phase,
			sqlmock.AnyArg(), // progress json
			record.CreatedAt,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.CreateJob(context.Background(), record); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPgRepositorySaveClassifiedSessions(t *testing.T) {
	repo, mock := newMockRepo(t)
	sessions := classifiedSessions([]Facts{
		{GeneralIntent: "Claim Status", SessionOutcome: OutcomeContained},
		{GeneralIntent: "Billing", SessionOutcome: OutcomeTransfer, TransferReason: "Agent Requested", DropOffLocation: "Menu"},
	})

	mock.ExpectBegin()
	for range sessions {
		mock.ExpectExec("INSERT INTO classified_sessions").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	if err := repo.SaveClassifiedSessions(context.Background(), "job-1", sessions); err != nil {
		t.Fatalf("SaveClassifiedSessions: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPgRepositorySaveClassifiedSessionsRollsBackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)
	sessions := classifiedSessions([]Facts{{GeneralIntent: "A", SessionOutcome: OutcomeContained}})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO classified_sessions").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := repo.SaveClassifiedSessions(context.Background(), "job-1", sessions); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPgRepositoryMarkCompleteUnknownJob(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	progress := Progress{Phase: PhaseComplete, EndedAt: &now}

	mock.ExpectExec("UPDATE analysis_jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkComplete(context.Background(), "missing", progress, "summary")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPgRepositoryGetJob(t *testing.T) {
	repo, mock := newMockRepo(t)
	cfg := validConfig()
	created := time.Now().UTC().Truncate(time.Second)
	ended := created.Add(time.Minute)
	progress, _ := json.Marshal(Progress{Phase: PhaseComplete, SessionsProcessed: 10})

	rows := sqlmock.NewRows([]string{
		"id", "start_date", "session_count", "model", "api_key_ref",
		"phase", "progress", "summary", "error_message", "created_at", "ended_at",
	}).AddRow(
		"job-1", cfg.StartDate, cfg.SessionCount, cfg.Model, cfg.APIKeyRef,
		PhaseComplete, progress, "all good", nil, created, ended,
	)
	mock.ExpectQuery("SELECT (.+) FROM analysis_jobs").
		WithArgs("job-1").
		WillReturnRows(rows)

	record, err := repo.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if record.Phase != PhaseComplete || record.Summary != "all good" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.Progress.SessionsProcessed != 10 {
		t.Fatalf("progress not decoded: %+v", record.Progress)
	}
	if record.EndedAt == nil || !record.EndedAt.Equal(ended) {
		t.Fatalf("endedAt not decoded: %+v", record.EndedAt)
	}
}

func TestPgRepositoryGetJobNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM analysis_jobs").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := repo.GetJob(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPgRepositoryListRecent(t *testing.T) {
	repo, mock := newMockRepo(t)
	cfg := validConfig()
	created := time.Now().UTC()
	progress, _ := json.Marshal(Progress{Phase: PhaseError})

	rows := sqlmock.NewRows([]string{
		"id", "start_date", "session_count", "model", "api_key_ref",
		"phase", "progress", "summary", "error_message", "created_at", "ended_at",
	}).
		AddRow("job-2", cfg.StartDate, cfg.SessionCount, cfg.Model, cfg.APIKeyRef, PhaseError, progress, nil, "LLM timeout", created, nil).
		AddRow("job-1", cfg.StartDate, cfg.SessionCount, cfg.Model, cfg.APIKeyRef, PhaseComplete, progress, "ok", nil, created.Add(-time.Hour), nil)
	mock.ExpectQuery("SELECT (.+) FROM analysis_jobs").
		WithArgs(20).
		WillReturnRows(rows)

	records, err := repo.ListRecent(context.Background(), 20)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "job-2" || records[0].ErrorMessage != "LLM timeout" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
}
