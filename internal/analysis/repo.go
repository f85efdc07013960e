package analysis

import (
	"context"
	"time"
)

// JobRecord is a persisted job row. The live Job in the registry stays
// authoritative while the process runs; records exist for history listing and
// post-restart inspection.
type JobRecord struct {
	ID           string     `json:"id"`
	Config       Config     `json:"config"`
	Phase        string     `json:"phase"`
	Progress     Progress   `json:"progress"`
	Summary      string     `json:"summary,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
}

// Repository persists job lifecycle state and classified sessions. All writes
// happen from the job goroutine, never from batch workers.
type Repository interface {
	CreateJob(ctx context.Context, record JobRecord) error
	SaveClassifiedSessions(ctx context.Context, jobID string, sessions []ClassifiedSession) error
	MarkComplete(ctx context.Context, jobID string, progress Progress, summary string) error
	MarkFailed(ctx context.Context, jobID string, progress Progress) error
	GetJob(ctx context.Context, id string) (JobRecord, error)
	ListRecent(ctx context.Context, limit int) ([]JobRecord, error)
}
