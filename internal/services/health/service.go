package health

import (
	"context"
	"database/sql"
	"time"
)

// Service encapsulates health-related checks.
type Service struct {
	db *sql.DB
}

// NewService constructs a health service. db may be nil when running without
// a database.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Status returns a simple health payload. The database check is skipped when
// no database is configured.
func (s *Service) Status(ctx context.Context) map[string]any {
	status := map[string]any{"ok": true}
	if s.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		err := s.db.PingContext(pingCtx)
		status["database"] = err == nil
		if err != nil {
			status["ok"] = false
		}
	}
	return status
}
