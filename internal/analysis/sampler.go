package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"insights-backend/internal/botplatform"
	"insights-backend/internal/shared/telemetry"
	"insights-backend/internal/transcript"
)

const (
	defaultInitialWindow = 6 * time.Hour
	defaultMaxWindow     = 7 * 24 * time.Hour
	defaultMaxAttempts   = 8
	defaultPageSize      = 200
	// messageFetchChunk bounds the number of session IDs per message query.
	messageFetchChunk = 50
)

// Sampler discovers sessions around the configured start date. It widens the
// search window geometrically until enough sessions are found, fetches their
// messages, and normalizes transcripts for classification.
type Sampler struct {
	Source     botplatform.Source
	Normalizer transcript.Normalizer

	// InitialWindow is the first search window span. Zero means 6h.
	InitialWindow time.Duration
	// MaxWindow caps window growth. Zero means 7 days.
	MaxWindow time.Duration
	// MaxAttempts caps widening rounds. Zero means 8.
	MaxAttempts int
	// PageSize is the session listing page size. Zero means 200.
	PageSize int
}

func (s *Sampler) initialWindow() time.Duration {
	if s.InitialWindow > 0 {
		return s.InitialWindow
	}
	return defaultInitialWindow
}

func (s *Sampler) maxWindow() time.Duration {
	if s.MaxWindow > 0 {
		return s.MaxWindow
	}
	return defaultMaxWindow
}

func (s *Sampler) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return defaultMaxAttempts
}

func (s *Sampler) pageSize() int {
	if s.PageSize > 0 {
		return s.PageSize
	}
	return defaultPageSize
}

// Sample returns up to target sessions starting at startDate, with normalized
// transcripts attached. A session whose messages are all filtered away is
// kept with an empty transcript rather than dropped.
func (s *Sampler) Sample(ctx context.Context, startDate time.Time, target int) ([]SessionRecord, error) {
	metas, err := s.discover(ctx, startDate, target)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, nil
	}

	records, err := s.attachTranscripts(ctx, metas)
	if err != nil {
		return nil, err
	}
	if len(records) > target {
		records = records[:target]
	}
	return records, nil
}

// discover widens the [startDate, startDate+window) search until target
// sessions are found or the window and attempt budgets run out. Containment
// types are queried concurrently; an individual type failing is tolerated as
// long as at least one query succeeds over the whole search. Results are
// accumulated across attempts so a partition that succeeded in a narrow
// window and fails in a wider one keeps its sessions.
func (s *Sampler) discover(ctx context.Context, startDate time.Time, target int) ([]botplatform.SessionMetadata, error) {
	window := s.initialWindow()
	maxWindow := s.maxWindow()
	anySucceeded := false
	var lastErr error
	seen := make(map[string]struct{})
	var metas []botplatform.SessionMetadata

	for attempt := 1; attempt <= s.maxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, ok, err := s.listWindow(ctx, startDate, startDate.Add(window))
		if ok {
			anySucceeded = true
		}
		for _, meta := range found {
			if _, dup := seen[meta.SessionID]; dup {
				continue
			}
			seen[meta.SessionID] = struct{}{}
			metas = append(metas, meta)
		}
		if err != nil {
			lastErr = err
		}
		telemetry.Info("sampling window scanned", map[string]any{
			"requestId":     requestIDFromContext(ctx),
			"attempt":       attempt,
			"windowHours":   window.Hours(),
			"sessionsFound": len(metas),
			"target":        target,
		})
		if len(metas) >= target || window >= maxWindow {
			break
		}
		window *= 2
		if window > maxWindow {
			window = maxWindow
		}
	}

	if !anySucceeded {
		if lastErr == nil {
			lastErr = fmt.Errorf("no session queries succeeded")
		}
		return nil, fmt.Errorf("session discovery failed: %w", lastErr)
	}

	sort.Slice(metas, func(i, j int) bool {
		if metas[i].StartTime.Equal(metas[j].StartTime) {
			return metas[i].SessionID < metas[j].SessionID
		}
		return metas[i].StartTime.Before(metas[j].StartTime)
	})
	return metas, nil
}

// listWindow lists all containment types for one window concurrently and
// merges the results, deduplicating by session ID. ok reports whether at
// least one containment query succeeded.
func (s *Sampler) listWindow(ctx context.Context, from, to time.Time) ([]botplatform.SessionMetadata, bool, error) {
	type typeResult struct {
		metas []botplatform.SessionMetadata
		err   error
	}

	results := make([]typeResult, len(botplatform.AllContainmentTypes))
	var wg sync.WaitGroup
	for i, containment := range botplatform.AllContainmentTypes {
		wg.Add(1)
		go func(i int, containment botplatform.ContainmentType) {
			defer wg.Done()
			metas, err := s.listAllPages(ctx, containment, from, to)
			results[i] = typeResult{metas: metas, err: err}
		}(i, containment)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	var merged []botplatform.SessionMetadata
	anyOK := false
	var firstErr error
	for i, res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			telemetry.Warn("containment query failed", map[string]any{
				"requestId":   requestIDFromContext(ctx),
				"containment": string(botplatform.AllContainmentTypes[i]),
				"error":       res.err.Error(),
			})
			continue
		}
		anyOK = true
		for _, meta := range res.metas {
			if _, dup := seen[meta.SessionID]; dup {
				continue
			}
			seen[meta.SessionID] = struct{}{}
			merged = append(merged, meta)
		}
	}
	return merged, anyOK, firstErr
}

func (s *Sampler) listAllPages(ctx context.Context, containment botplatform.ContainmentType, from, to time.Time) ([]botplatform.SessionMetadata, error) {
	pageSize := s.pageSize()
	var all []botplatform.SessionMetadata
	skip := 0
	for {
		page, err := s.Source.ListSessions(ctx, botplatform.SessionQuery{
			Containment: containment,
			DateFrom:    from,
			DateTo:      to,
			Skip:        skip,
			Limit:       pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s sessions: %w", containment, err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		skip += pageSize
	}
}

// attachTranscripts fetches messages for the discovered sessions in chunks
// and normalizes them. Filtered messages are removed per message; sessions
// are always retained, even with every message filtered. Message queries are
// bounded by the sessions' combined time span.
func (s *Sampler) attachTranscripts(ctx context.Context, metas []botplatform.SessionMetadata) ([]SessionRecord, error) {
	dateFrom, dateTo := sessionSpan(metas)
	byID := make(map[string][]TranscriptMessage, len(metas))
	for start := 0; start < len(metas); start += messageFetchChunk {
		end := start + messageFetchChunk
		if end > len(metas) {
			end = len(metas)
		}
		ids := make([]string, 0, end-start)
		for _, meta := range metas[start:end] {
			ids = append(ids, meta.SessionID)
		}
		messages, err := s.Source.ListMessages(ctx, botplatform.MessageQuery{
			SessionIDs: ids,
			DateFrom:   dateFrom,
			DateTo:     dateTo,
		})
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, msg := range messages {
			res := s.Normalizer.Normalize(msg.Text, msg.Role)
			if res.Filtered {
				continue
			}
			byID[msg.SessionID] = append(byID[msg.SessionID], TranscriptMessage{
				Role:      msg.Role,
				Text:      res.Text,
				Timestamp: msg.Timestamp,
			})
		}
	}

	records := make([]SessionRecord, 0, len(metas))
	empty := 0
	for _, meta := range metas {
		transcriptMsgs := byID[meta.SessionID]
		if len(transcriptMsgs) == 0 {
			empty++
		}
		records = append(records, SessionRecord{
			SessionID:   meta.SessionID,
			UserID:      meta.UserID,
			Containment: meta.Containment,
			StartTime:   meta.StartTime,
			EndTime:     meta.EndTime,
			Messages:    transcriptMsgs,
		})
	}
	if empty > 0 {
		telemetry.Info("sessions with fully filtered transcripts", map[string]any{
			"requestId": requestIDFromContext(ctx),
			"empty":     empty,
			"total":     len(records),
		})
	}
	return records, nil
}

// sessionSpan returns the earliest start and latest end across the sessions,
// padded by a minute so boundary messages survive an exclusive range check.
func sessionSpan(metas []botplatform.SessionMetadata) (time.Time, time.Time) {
	var from, to time.Time
	for _, meta := range metas {
		if from.IsZero() || meta.StartTime.Before(from) {
			from = meta.StartTime
		}
		end := meta.EndTime
		if end.IsZero() {
			end = meta.StartTime
		}
		if end.After(to) {
			to = end
		}
	}
	if !to.IsZero() {
		to = to.Add(time.Minute)
	}
	return from, to
}
