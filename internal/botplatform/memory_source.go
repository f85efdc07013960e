package botplatform

import (
	"context"
	"sort"
	"sync"
)

// MemorySource stores sessions in memory and is safe for concurrent use.
// It backs local development and tests.
type MemorySource struct {
	mu       sync.RWMutex
	sessions []SessionMetadata
	messages map[string][]Message
}

// NewMemorySource constructs an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		messages: make(map[string][]Message),
	}
}

// AddSession registers a session with its messages.
func (m *MemorySource) AddSession(meta SessionMetadata, msgs []Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, meta)
	m.messages[meta.SessionID] = append(m.messages[meta.SessionID], msgs...)
}

// ListSessions filters stored sessions by containment type and window.
func (m *MemorySource) ListSessions(ctx context.Context, q SessionQuery) ([]SessionMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []SessionMetadata
	for _, s := range m.sessions {
		if q.Containment != "" && s.Containment != q.Containment {
			continue
		}
		if s.StartTime.Before(q.DateFrom) || !s.StartTime.Before(q.DateTo) {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartTime.Before(matched[j].StartTime)
	})

	if q.Skip >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Skip:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// ListMessages returns stored messages for the requested sessions in
// timestamp order.
func (m *MemorySource) ListMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Message
	for _, id := range q.SessionIDs {
		out = append(out, m.messages[id]...)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

var _ Source = (*MemorySource)(nil)
