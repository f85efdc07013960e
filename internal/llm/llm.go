package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Usage captures token counts reported by an LLM endpoint for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns the combined token count.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Add returns the element-wise sum of two usages.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
	}
}

// SessionTranscript is one session's flattened transcript for classification.
type SessionTranscript struct {
	SessionID  string
	UserID     string
	Transcript string
}

// VocabularyHint biases the classifier toward reusing labels already observed
// in this job instead of inventing synonyms.
type VocabularyHint struct {
	GeneralIntents   []string
	TransferReasons  []string
	DropOffLocations []string
}

// ClassifyInput captures the inputs for one batch classification call.
type ClassifyInput struct {
	Model       string
	Transcripts []SessionTranscript
	Vocabulary  VocabularyHint
}

// CanonicalizeInput carries the full observed vocabulary per category.
type CanonicalizeInput struct {
	Model            string
	GeneralIntents   []string
	TransferReasons  []string
	DropOffLocations []string
}

// SummaryInput is the aggregate digest for the narrative summary call.
type SummaryInput struct {
	Model                string
	TotalSessions        int
	IntentCounts         map[string]int
	OutcomeCounts        map[string]int
	TransferReasonCounts map[string]int
	Excerpts             []string
}

// Client abstracts LLM providers for session analysis. All methods issue
// schema-constrained calls and return the raw structured payload; strict
// decoding and validation is the caller's responsibility.
type Client interface {
	ClassifySessions(ctx context.Context, input ClassifyInput) (json.RawMessage, Usage, error)
	CanonicalizeLabels(ctx context.Context, input CanonicalizeInput) (json.RawMessage, Usage, error)
	GenerateSummary(ctx context.Context, input SummaryInput) (json.RawMessage, Usage, error)
}

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient is a stub implementation until provider wiring is added.
type PlaceholderClient struct{}

// ClassifySessions returns ErrNotImplemented.
func (PlaceholderClient) ClassifySessions(ctx context.Context, input ClassifyInput) (json.RawMessage, Usage, error) {
	_ = ctx
	_ = input
	return nil, Usage{}, ErrNotImplemented
}

// CanonicalizeLabels returns ErrNotImplemented.
func (PlaceholderClient) CanonicalizeLabels(ctx context.Context, input CanonicalizeInput) (json.RawMessage, Usage, error) {
	_ = ctx
	_ = input
	return nil, Usage{}, ErrNotImplemented
}

// GenerateSummary returns ErrNotImplemented.
func (PlaceholderClient) GenerateSummary(ctx context.Context, input SummaryInput) (json.RawMessage, Usage, error) {
	_ = ctx
	_ = input
	return nil, Usage{}, ErrNotImplemented
}
