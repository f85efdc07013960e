package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"insights-backend/internal/llm"
)

// fakeLLM scripts per-method responses and counts calls.
type fakeLLM struct {
	mu sync.Mutex

	classifyFn func(ctx context.Context, input llm.ClassifyInput) (json.RawMessage, llm.Usage, error)
	canonFn    func(ctx context.Context, input llm.CanonicalizeInput) (json.RawMessage, llm.Usage, error)
	summaryFn  func(ctx context.Context, input llm.SummaryInput) (json.RawMessage, llm.Usage, error)

	classifyCalls int
	canonCalls    int
	summaryCalls  int
}

func (f *fakeLLM) ClassifySessions(ctx context.Context, input llm.ClassifyInput) (json.RawMessage, llm.Usage, error) {
	f.mu.Lock()
	f.classifyCalls++
	fn := f.classifyFn
	f.mu.Unlock()
	if fn == nil {
		return nil, llm.Usage{}, fmt.Errorf("classify not scripted")
	}
	return fn(ctx, input)
}

func (f *fakeLLM) CanonicalizeLabels(ctx context.Context, input llm.CanonicalizeInput) (json.RawMessage, llm.Usage, error) {
	f.mu.Lock()
	f.canonCalls++
	fn := f.canonFn
	f.mu.Unlock()
	if fn == nil {
		return nil, llm.Usage{}, fmt.Errorf("canonicalize not scripted")
	}
	return fn(ctx, input)
}

func (f *fakeLLM) GenerateSummary(ctx context.Context, input llm.SummaryInput) (json.RawMessage, llm.Usage, error) {
	f.mu.Lock()
	f.summaryCalls++
	fn := f.summaryFn
	f.mu.Unlock()
	if fn == nil {
		return nil, llm.Usage{}, fmt.Errorf("summary not scripted")
	}
	return fn(ctx, input)
}

func (f *fakeLLM) calls() (classify, canon, summary int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classifyCalls, f.canonCalls, f.summaryCalls
}

// echoClassifyFn classifies every transcript in the input with fixed facts.
func echoClassifyFn(intent string) func(ctx context.Context, input llm.ClassifyInput) (json.RawMessage, llm.Usage, error) {
	return func(_ context.Context, input llm.ClassifyInput) (json.RawMessage, llm.Usage, error) {
		sessions := make([]map[string]string, 0, len(input.Transcripts))
		for _, tr := range input.Transcripts {
			sessions = append(sessions, map[string]string{
				"sessionId":       tr.SessionID,
				"userId":          tr.UserID,
				"generalIntent":   intent,
				"sessionOutcome":  OutcomeContained,
				"transferReason":  "",
				"dropOffLocation": "",
				"notes":           "",
			})
		}
		raw, err := json.Marshal(map[string]any{"sessions": sessions})
		if err != nil {
			return nil, llm.Usage{}, err
		}
		return raw, llm.Usage{PromptTokens: 100, CompletionTokens: 40}, nil
	}
}

// identityCanonFn returns an empty mapping for every category.
func identityCanonFn(_ context.Context, _ llm.CanonicalizeInput) (json.RawMessage, llm.Usage, error) {
	return json.RawMessage(`{"generalIntents":[],"transferReasons":[],"dropOffLocations":[]}`), llm.Usage{PromptTokens: 20, CompletionTokens: 10}, nil
}

func staticSummaryFn(text string) func(ctx context.Context, input llm.SummaryInput) (json.RawMessage, llm.Usage, error) {
	return func(_ context.Context, _ llm.SummaryInput) (json.RawMessage, llm.Usage, error) {
		raw, _ := json.Marshal(map[string]string{"summary": text})
		return raw, llm.Usage{PromptTokens: 50, CompletionTokens: 30}, nil
	}
}

// fakeSampler returns a scripted session set.
type fakeSampler struct {
	records []SessionRecord
	err     error
}

func (f *fakeSampler) Sample(_ context.Context, _ time.Time, target int) ([]SessionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	records := f.records
	if len(records) > target {
		records = records[:target]
	}
	return records, nil
}

// fakeSummarizer records whether it ran.
type fakeSummarizer struct {
	text string
	err  error
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ string, _ []ClassifiedSession) (string, llm.Usage, error) {
	if f.err != nil {
		return "", llm.Usage{}, f.err
	}
	return f.text, llm.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
}

func makeSessionRecords(n int) []SessionRecord {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	records := make([]SessionRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, SessionRecord{
			SessionID:   fmt.Sprintf("sess-%03d", i),
			UserID:      fmt.Sprintf("user-%03d", i),
			Containment: "selfService",
			StartTime:   base.Add(time.Duration(i) * time.Minute),
			EndTime:     base.Add(time.Duration(i)*time.Minute + 90*time.Second),
			Messages: []TranscriptMessage{
				{Timestamp: base, Role: "user", Text: "where is my order"},
				{Timestamp: base.Add(5 * time.Second), Role: "bot", Text: "let me check that for you"},
			},
		})
	}
	return records
}

func classifiedSessions(facts []Facts) []ClassifiedSession {
	records := makeSessionRecords(len(facts))
	out := make([]ClassifiedSession, 0, len(facts))
	for i, f := range facts {
		out = append(out, ClassifiedSession{
			Session:  records[i],
			Facts:    f,
			Metadata: Metadata{BatchNumber: 1, Model: "gpt-4o-mini", ProcessedAt: records[i].StartTime},
		})
	}
	return out
}

func validConfig() Config {
	return Config{
		StartDate:    time.Now().Add(-24 * time.Hour),
		SessionCount: 10,
		Model:        "gpt-4o-mini",
		APIKeyRef:    "key-ref-1",
	}
}

// waitForTerminal polls until the job reaches a terminal phase.
func waitForTerminal(t *testing.T, job *Job) Progress {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snapshot := job.Snapshot()
		if snapshot.Phase == PhaseComplete || snapshot.Phase == PhaseError {
			return snapshot
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal phase, stuck in %s", job.ID, job.Snapshot().Phase)
	return Progress{}
}
