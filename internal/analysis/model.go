package analysis

import (
	"strings"
	"sync"
	"time"

	"insights-backend/internal/botplatform"
)

// Job phases. Error is terminal and also represents cooperative cancellation
// (an error whose message matches the cancelled pattern).
const (
	PhaseSampling           = "sampling"
	PhaseAnalyzing          = "analyzing"
	PhaseConflictResolution = "conflict_resolution"
	PhaseGeneratingSummary  = "generating_summary"
	PhaseComplete           = "complete"
	PhaseError              = "error"
)

// Sub-phase labels reported for progress display only.
const (
	SubPhaseDiscovery          = "discovery"
	SubPhaseParallelProcessing = "parallel_processing"
)

// Session outcomes.
const (
	OutcomeTransfer  = "Transfer"
	OutcomeContained = "Contained"
)

// Config is the immutable input for one analysis job.
type Config struct {
	StartDate    time.Time `json:"startDate"`
	SessionCount int       `json:"sessionCount"`
	Model        string    `json:"model"`
	APIKeyRef    string    `json:"apiKeyRef"`
}

// Progress is a point-in-time snapshot of a job's counters and phase.
type Progress struct {
	Phase             string     `json:"phase"`
	SubPhase          string     `json:"subPhase,omitempty"`
	SessionsFound     int        `json:"sessionsFound"`
	SessionsProcessed int        `json:"sessionsProcessed"`
	SessionsFailed    int        `json:"sessionsFailed"`
	BatchesCompleted  int        `json:"batchesCompleted"`
	TotalBatches      int        `json:"totalBatches"`
	PromptTokens      int        `json:"promptTokens"`
	CompletionTokens  int        `json:"completionTokens"`
	TokensUsed        int        `json:"tokensUsed"`
	EstimatedCost     float64    `json:"estimatedCost"`
	ErrorCode         string     `json:"errorCode,omitempty"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
	StartedAt         time.Time  `json:"startedAt"`
	EndedAt           *time.Time `json:"endedAt,omitempty"`
}

// TranscriptMessage is one normalized transcript turn.
type TranscriptMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
}

// SessionRecord is a session after discovery and transcript normalization.
// A session whose messages were all filtered keeps an empty transcript.
type SessionRecord struct {
	SessionID   string                      `json:"sessionId"`
	UserID      string                      `json:"userId"`
	Containment botplatform.ContainmentType `json:"containmentType"`
	StartTime   time.Time                   `json:"startTime"`
	EndTime     time.Time                   `json:"endTime"`
	Messages    []TranscriptMessage         `json:"messages"`
}

// Facts is the structured classification produced by the LLM for one session.
// TransferReason and DropOffLocation are non-empty only for Transfer outcomes.
type Facts struct {
	GeneralIntent   string `json:"generalIntent"`
	SessionOutcome  string `json:"sessionOutcome"`
	TransferReason  string `json:"transferReason"`
	DropOffLocation string `json:"dropOffLocation"`
	Notes           string `json:"notes"`
}

// Metadata records how one session was classified.
type Metadata struct {
	TokensUsed  int       `json:"tokensUsed"`
	BatchNumber int       `json:"batchNumber"`
	Model       string    `json:"model"`
	ProcessedAt time.Time `json:"processedAt"`
}

// ClassifiedSession pairs a session with its Facts. The only mutation after
// creation is the conflict resolver rewriting label fields to canonical form.
type ClassifiedSession struct {
	Session  SessionRecord `json:"session"`
	Facts    Facts         `json:"facts"`
	Metadata Metadata      `json:"metadata"`
}

// Results is the final output of a completed job.
type Results struct {
	Sessions []ClassifiedSession `json:"sessions"`
	Summary  string              `json:"summary"`
	Stats    ResolutionStats     `json:"conflictStats"`
}

// Job is the live state of one analysis run. It is owned by the Registry and
// all mutation goes through its methods; batch workers never touch it
// directly.
type Job struct {
	ID     string
	Config Config

	mu        sync.Mutex
	progress  Progress
	cancelled bool
	results   Results
}

// NewJob constructs a Job in the sampling phase.
func NewJob(id string, cfg Config) *Job {
	return &Job{
		ID:     id,
		Config: cfg,
		progress: Progress{
			Phase:     PhaseSampling,
			SubPhase:  SubPhaseDiscovery,
			StartedAt: time.Now().UTC(),
		},
	}
}

// Snapshot returns a copy of the current progress.
func (j *Job) Snapshot() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// SetPhase transitions the job to a new phase with an optional sub-label.
// Terminal phases are never overwritten.
func (j *Job) SetPhase(phase, subPhase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.progress.Phase == PhaseComplete || j.progress.Phase == PhaseError {
		return
	}
	j.progress.Phase = phase
	j.progress.SubPhase = subPhase
}

// SetSessionsFound updates the discovery counter.
func (j *Job) SetSessionsFound(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n > j.progress.SessionsFound {
		j.progress.SessionsFound = n
	}
}

// SetTotalBatches records how many batches will be dispatched.
func (j *Job) SetTotalBatches(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.TotalBatches = n
}

// ApplyBatch folds one finished batch into the progress counters. Counters
// only ever increase; completion order does not matter.
func (j *Job) ApplyBatch(processed, failed, promptTokens, completionTokens int, cost float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.SessionsProcessed += processed
	j.progress.SessionsFailed += failed
	j.progress.BatchesCompleted++
	j.progress.PromptTokens += promptTokens
	j.progress.CompletionTokens += completionTokens
	j.progress.TokensUsed += promptTokens + completionTokens
	j.progress.EstimatedCost += cost
}

// AddUsage folds non-batch LLM usage (canonicalization, summary) into the
// token and cost counters.
func (j *Job) AddUsage(promptTokens, completionTokens int, cost float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.PromptTokens += promptTokens
	j.progress.CompletionTokens += completionTokens
	j.progress.TokensUsed += promptTokens + completionTokens
	j.progress.EstimatedCost += cost
}

// RequestCancel flips the cooperative cancellation flag. It has no effect on
// a job that already reached a terminal phase.
func (j *Job) RequestCancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.progress.Phase == PhaseComplete || j.progress.Phase == PhaseError {
		return
	}
	j.cancelled = true
}

// Cancelled reports whether cancellation was requested.
func (j *Job) Cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// Complete marks the job complete and stores its results.
func (j *Job) Complete(results Results) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.progress.Phase == PhaseComplete || j.progress.Phase == PhaseError {
		return
	}
	now := time.Now().UTC()
	j.progress.Phase = PhaseComplete
	j.progress.SubPhase = ""
	j.progress.EndedAt = &now
	j.results = results
}

// Fail marks the job failed with an error code and message. Already-completed
// work stays attributable through the untouched counters.
func (j *Job) Fail(code, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.progress.Phase == PhaseComplete || j.progress.Phase == PhaseError {
		return
	}
	now := time.Now().UTC()
	j.progress.Phase = PhaseError
	j.progress.SubPhase = ""
	j.progress.ErrorCode = code
	j.progress.ErrorMessage = message
	j.progress.EndedAt = &now
}

// Results returns the stored results. Valid only once the job is complete.
func (j *Job) Results() (Results, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.progress.Phase != PhaseComplete {
		return Results{}, false
	}
	return j.results, true
}

// IsCancellationMessage reports whether a terminal error message represents
// cooperative cancellation rather than a hard failure.
func IsCancellationMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "cancel")
}
