package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"insights-backend/internal/llm"
	"insights-backend/internal/shared/metrics"
	"insights-backend/internal/shared/telemetry"
)

const (
	defaultBatchSize      = 5
	defaultMaxConcurrency = 4

	minSessionCount = 5
	maxSessionCount = 1000
)

// SessionSampler discovers sessions for a job.
type SessionSampler interface {
	Sample(ctx context.Context, startDate time.Time, target int) ([]SessionRecord, error)
}

// Classifier classifies one batch of sessions.
type Classifier interface {
	ClassifyBatch(ctx context.Context, sessions []SessionRecord, vocab Vocabulary, batchNumber int) (BatchResult, error)
}

// Resolver canonicalizes labels across a job's classified sessions.
type Resolver interface {
	Resolve(ctx context.Context, sessions []ClassifiedSession) (ResolutionResult, error)
}

// Summarizer produces the executive summary for a completed analysis.
type Summarizer interface {
	Summarize(ctx context.Context, model string, sessions []ClassifiedSession) (string, llm.Usage, error)
}

// ServiceOptions wires a Service. Repo and Summarizer are optional; a nil
// Repo keeps jobs in memory only, a nil Summarizer skips the summary phase.
type ServiceOptions struct {
	Registry   *Registry
	Repo       Repository
	Sampler    SessionSampler
	Classifier Classifier
	Resolver   Resolver
	Summarizer Summarizer

	// BatchSize is the number of sessions per classification call. Zero
	// means 5.
	BatchSize int
	// MaxConcurrency is the batch worker pool size. Zero means 4.
	MaxConcurrency int
}

// Service owns the analysis job lifecycle: validation, the background
// pipeline, progress polling, results, and cancellation.
type Service struct {
	registry       *Registry
	repo           Repository
	sampler        SessionSampler
	classifier     Classifier
	resolver       Resolver
	summarizer     Summarizer
	batchSize      int
	maxConcurrency int
}

func NewService(opts ServiceOptions) *Service {
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &Service{
		registry:       registry,
		repo:           opts.Repo,
		sampler:        opts.Sampler,
		classifier:     opts.Classifier,
		resolver:       opts.Resolver,
		summarizer:     opts.Summarizer,
		batchSize:      batchSize,
		maxConcurrency: maxConcurrency,
	}
}

// Start validates the config, registers a new job, and launches the pipeline
// in the background. The returned job is already visible to pollers.
func (s *Service) Start(ctx context.Context, cfg Config) (*Job, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	job := NewJob(uuid.NewString(), cfg)
	if s.repo != nil {
		record := JobRecord{
			ID:        job.ID,
			Config:    cfg,
			Phase:     PhaseSampling,
			Progress:  job.Snapshot(),
			CreatedAt: job.Snapshot().StartedAt,
		}
		if err := s.repo.CreateJob(ctx, record); err != nil {
			return nil, fmt.Errorf("persist job: %w", err)
		}
	}
	s.registry.Add(job)
	metrics.IncJobStarted()
	telemetry.Info("analysis job started", map[string]any{
		"requestId":    requestIDFromContext(ctx),
		"jobId":        job.ID,
		"sessionCount": cfg.SessionCount,
		"model":        cfg.Model,
	})

	go s.run(backgroundWithRequestID(ctx), job)
	return job, nil
}

func validateConfig(cfg Config) error {
	if cfg.StartDate.IsZero() {
		return fmt.Errorf("startDate is required: %w", ErrValidation)
	}
	if !cfg.StartDate.Before(time.Now()) {
		return fmt.Errorf("startDate must be in the past: %w", ErrValidation)
	}
	if cfg.SessionCount < minSessionCount || cfg.SessionCount > maxSessionCount {
		return fmt.Errorf("sessionCount must be between %d and %d: %w", minSessionCount, maxSessionCount, ErrValidation)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("model is required: %w", ErrValidation)
	}
	if strings.TrimSpace(cfg.APIKeyRef) == "" {
		return fmt.Errorf("apiKeyRef is required: %w", ErrValidation)
	}
	return nil
}

// Get returns the live job by ID.
func (s *Service) Get(id string) (*Job, error) {
	job, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return job, nil
}

// Progress returns the current progress snapshot for a job.
func (s *Service) Progress(id string) (Progress, error) {
	job, err := s.Get(id)
	if err != nil {
		return Progress{}, err
	}
	return job.Snapshot(), nil
}

// Results returns the final results once the job is complete.
func (s *Service) Results(id string) (Results, error) {
	job, err := s.Get(id)
	if err != nil {
		return Results{}, err
	}
	results, ready := job.Results()
	if !ready {
		return Results{}, ErrNotReady
	}
	return results, nil
}

// Cancel requests cooperative cancellation. Already-terminal jobs are left
// untouched and Cancel still succeeds.
func (s *Service) Cancel(id string) error {
	job, err := s.Get(id)
	if err != nil {
		return err
	}
	job.RequestCancel()
	return nil
}

// List returns all in-process jobs, newest first.
func (s *Service) List() []*Job {
	return s.registry.List()
}

// ListRecent returns persisted job history, newest first. Without a
// repository it falls back to the in-memory registry.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]JobRecord, error) {
	if s.repo != nil {
		return s.repo.ListRecent(ctx, limit)
	}
	jobs := s.registry.List()
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	records := make([]JobRecord, 0, len(jobs))
	for _, job := range jobs {
		snapshot := job.Snapshot()
		records = append(records, JobRecord{
			ID:           job.ID,
			Config:       job.Config,
			Phase:        snapshot.Phase,
			Progress:     snapshot,
			ErrorMessage: snapshot.ErrorMessage,
			CreatedAt:    snapshot.StartedAt,
			EndedAt:      snapshot.EndedAt,
		})
	}
	return records, nil
}

// run drives one job through sampling, batched classification, conflict
// resolution, persistence, and summary. Every exit path leaves the job in a
// terminal phase.
func (s *Service) run(ctx context.Context, job *Job) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, job, ErrorCodeInternal, fmt.Sprintf("analysis panicked: %v", r))
		}
	}()

	records, err := s.sampler.Sample(ctx, job.Config.StartDate, job.Config.SessionCount)
	if err != nil {
		s.fail(ctx, job, ErrorCodeSessionSource, fmt.Sprintf("session discovery failed: %v", err))
		return
	}
	job.SetSessionsFound(len(records))
	if s.cancelIfRequested(ctx, job) {
		return
	}
	if len(records) == 0 {
		s.complete(ctx, job, Results{})
		return
	}

	job.SetPhase(PhaseAnalyzing, SubPhaseParallelProcessing)
	classified := s.classifyAll(ctx, job, records)
	if s.cancelIfRequested(ctx, job) {
		return
	}

	job.SetPhase(PhaseConflictResolution, "")
	resolution, err := s.resolver.Resolve(ctx, classified)
	job.AddUsage(resolution.Usage.PromptTokens, resolution.Usage.CompletionTokens, EstimateCost(job.Config.Model, resolution.Usage))
	if err != nil {
		s.fail(ctx, job, resolutionErrorCode(err), fmt.Sprintf("conflict resolution failed: %v", err))
		return
	}
	classified = resolution.Sessions
	if s.cancelIfRequested(ctx, job) {
		return
	}

	if s.repo != nil && len(classified) > 0 {
		if err := s.repo.SaveClassifiedSessions(ctx, job.ID, classified); err != nil {
			telemetry.Error("persist classified sessions failed", map[string]any{
				"requestId": requestIDFromContext(ctx),
				"jobId":     job.ID,
				"error":     err.Error(),
			})
		}
	}

	results := Results{Sessions: classified, Stats: resolution.Stats}
	if s.summarizer != nil && len(classified) > 0 {
		job.SetPhase(PhaseGeneratingSummary, "")
		summary, usage, err := s.summarizer.Summarize(ctx, job.Config.Model, classified)
		job.AddUsage(usage.PromptTokens, usage.CompletionTokens, EstimateCost(job.Config.Model, usage))
		if err != nil {
			// A missing summary does not invalidate the classifications.
			telemetry.Warn("summary generation failed", map[string]any{
				"requestId": requestIDFromContext(ctx),
				"jobId":     job.ID,
				"error":     err.Error(),
			})
		} else {
			results.Summary = summary
		}
		if s.cancelIfRequested(ctx, job) {
			return
		}
	}

	s.complete(ctx, job, results)
}

// classifyAll fans batches out to the worker pool and collects classified
// sessions. The vocabulary hint grows as batches finish so later batches see
// labels earlier batches minted. Cancellation stops dispatch at the next
// batch boundary; in-flight batches finish and their counters still land.
func (s *Service) classifyAll(ctx context.Context, job *Job, records []SessionRecord) []ClassifiedSession {
	batches := splitBatches(records, s.batchSize)
	job.SetTotalBatches(len(batches))

	var mu sync.Mutex
	var classified []ClassifiedSession

	vocabSnapshot := func() Vocabulary {
		mu.Lock()
		defer mu.Unlock()
		return BuildVocabulary(classified)
	}

	work := make(chan int)
	var wg sync.WaitGroup
	workers := s.maxConcurrency
	if workers > len(batches) {
		workers = len(batches)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				batch := batches[idx]
				started := time.Now()
				result, err := s.classifier.ClassifyBatch(ctx, batch, vocabSnapshot(), idx+1)
				metrics.ObserveBatchDurationMs(float64(time.Since(started).Milliseconds()))
				metrics.AddLLMTokens(result.Usage.PromptTokens, result.Usage.CompletionTokens)
				if err != nil {
					metrics.IncBatchFailed()
					telemetry.Error("batch classification failed", map[string]any{
						"requestId":   requestIDFromContext(ctx),
						"jobId":       job.ID,
						"batchNumber": idx + 1,
						"error":       err.Error(),
					})
					job.ApplyBatch(0, len(batch), result.Usage.PromptTokens, result.Usage.CompletionTokens, result.Cost)
					continue
				}
				job.ApplyBatch(len(result.Classified), len(result.FailedSessionIDs), result.Usage.PromptTokens, result.Usage.CompletionTokens, result.Cost)
				mu.Lock()
				classified = append(classified, result.Classified...)
				mu.Unlock()
			}
		}()
	}

	for idx := range batches {
		if job.Cancelled() {
			break
		}
		work <- idx
	}
	close(work)
	wg.Wait()

	return classified
}

func (s *Service) cancelIfRequested(ctx context.Context, job *Job) bool {
	if !job.Cancelled() {
		return false
	}
	snapshot := job.Snapshot()
	job.Fail(ErrorCodeCancelled, cancelledMessage)
	metrics.IncJobCancelled()
	telemetry.Info("analysis job cancelled", map[string]any{
		"requestId":         requestIDFromContext(ctx),
		"jobId":             job.ID,
		"sessionsProcessed": snapshot.SessionsProcessed,
	})
	s.persistFailure(ctx, job)
	return true
}

func (s *Service) complete(ctx context.Context, job *Job, results Results) {
	job.Complete(results)
	snapshot := job.Snapshot()
	metrics.IncJobCompleted()
	if snapshot.EndedAt != nil {
		metrics.ObserveJobDurationMs(float64(snapshot.EndedAt.Sub(snapshot.StartedAt).Milliseconds()))
	}
	telemetry.Info("analysis job complete", map[string]any{
		"requestId":         requestIDFromContext(ctx),
		"jobId":             job.ID,
		"sessionsProcessed": snapshot.SessionsProcessed,
		"sessionsFailed":    snapshot.SessionsFailed,
		"tokensUsed":        snapshot.TokensUsed,
		"estimatedCost":     snapshot.EstimatedCost,
	})
	if s.repo != nil {
		if err := s.repo.MarkComplete(ctx, job.ID, snapshot, results.Summary); err != nil {
			telemetry.Error("persist job completion failed", map[string]any{
				"requestId": requestIDFromContext(ctx),
				"jobId":     job.ID,
				"error":     err.Error(),
			})
		}
	}
}

func (s *Service) fail(ctx context.Context, job *Job, code, message string) {
	job.Fail(code, message)
	metrics.IncJobFailed()
	telemetry.Error("analysis job failed", map[string]any{
		"requestId": requestIDFromContext(ctx),
		"jobId":     job.ID,
		"errorCode": code,
		"error":     message,
	})
	s.persistFailure(ctx, job)
}

func (s *Service) persistFailure(ctx context.Context, job *Job) {
	if s.repo == nil {
		return
	}
	if err := s.repo.MarkFailed(ctx, job.ID, job.Snapshot()); err != nil {
		telemetry.Error("persist job failure failed", map[string]any{
			"requestId": requestIDFromContext(ctx),
			"jobId":     job.ID,
			"error":     err.Error(),
		})
	}
}

func resolutionErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return ErrorCodeLLMSchemaMismatch
	case strings.Contains(err.Error(), "timeout"):
		return ErrorCodeLLMTimeout
	default:
		return ErrorCodeInternal
	}
}

func splitBatches(records []SessionRecord, size int) [][]SessionRecord {
	if size <= 0 {
		size = defaultBatchSize
	}
	var batches [][]SessionRecord
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}
