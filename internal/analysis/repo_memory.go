package analysis

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is the in-memory Repository used in tests and when no
// database is configured.
type MemoryRepository struct {
	mu       sync.RWMutex
	jobs     map[string]JobRecord
	sessions map[string][]ClassifiedSession
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs:     make(map[string]JobRecord),
		sessions: make(map[string][]ClassifiedSession),
	}
}

func (r *MemoryRepository) CreateJob(_ context.Context, record JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	r.jobs[record.ID] = record
	return nil
}

func (r *MemoryRepository) SaveClassifiedSessions(_ context.Context, jobID string, sessions []ClassifiedSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[jobID] = append(r.sessions[jobID], sessions...)
	return nil
}

func (r *MemoryRepository) MarkComplete(_ context.Context, jobID string, progress Progress, summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	record.Phase = PhaseComplete
	record.Progress = progress
	record.Summary = summary
	record.EndedAt = progress.EndedAt
	r.jobs[jobID] = record
	return nil
}

func (r *MemoryRepository) MarkFailed(_ context.Context, jobID string, progress Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	record.Phase = PhaseError
	record.Progress = progress
	record.ErrorMessage = progress.ErrorMessage
	record.EndedAt = progress.EndedAt
	r.jobs[jobID] = record
	return nil
}

func (r *MemoryRepository) GetJob(_ context.Context, id string) (JobRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.jobs[id]
	if !ok {
		return JobRecord{}, ErrNotFound
	}
	return record, nil
}

func (r *MemoryRepository) ListRecent(_ context.Context, limit int) ([]JobRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := make([]JobRecord, 0, len(r.jobs))
	for _, record := range r.jobs {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// ClassifiedSessions returns the stored sessions for a job. Test helper.
func (r *MemoryRepository) ClassifiedSessions(jobID string) []ClassifiedSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[jobID]
}
