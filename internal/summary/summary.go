// Package summary turns a job's classified sessions into a short executive
// narrative via one schema-constrained LLM call.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"insights-backend/internal/analysis"
	"insights-backend/internal/llm"
)

const (
	maxExcerpts      = 10
	maxExcerptLength = 600
)

// Generator aggregates classification counts, samples transcript excerpts,
// and asks the LLM for a summary paragraph.
type Generator struct {
	LLM llm.Client
	// Seed fixes excerpt sampling for tests. Zero means nondeterministic.
	Seed int64
}

var _ analysis.Summarizer = (*Generator)(nil)

// Summarize produces the narrative summary for a set of classified sessions.
func (g *Generator) Summarize(ctx context.Context, model string, sessions []analysis.ClassifiedSession) (string, llm.Usage, error) {
	if len(sessions) == 0 {
		return "", llm.Usage{}, nil
	}

	input := llm.SummaryInput{
		Model:                model,
		TotalSessions:        len(sessions),
		IntentCounts:         map[string]int{},
		OutcomeCounts:        map[string]int{},
		TransferReasonCounts: map[string]int{},
		Excerpts:             g.sampleExcerpts(sessions),
	}
	for _, s := range sessions {
		if s.Facts.GeneralIntent != "" {
			input.IntentCounts[s.Facts.GeneralIntent]++
		}
		if s.Facts.SessionOutcome != "" {
			input.OutcomeCounts[s.Facts.SessionOutcome]++
		}
		if s.Facts.TransferReason != "" {
			input.TransferReasonCounts[s.Facts.TransferReason]++
		}
	}

	raw, usage, err := g.LLM.GenerateSummary(ctx, input)
	if err != nil {
		return "", usage, fmt.Errorf("generate summary: %w", err)
	}

	var payload struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", usage, fmt.Errorf("decode summary response: %w", err)
	}
	text := strings.TrimSpace(payload.Summary)
	if text == "" {
		return "", usage, fmt.Errorf("summary response empty")
	}
	return text, usage, nil
}

// sampleExcerpts picks up to maxExcerpts transcripts, truncated, to ground
// the narrative in real conversations without sending the whole corpus again.
func (g *Generator) sampleExcerpts(sessions []analysis.ClassifiedSession) []string {
	indexes := make([]int, len(sessions))
	for i := range indexes {
		indexes[i] = i
	}
	rng := rand.New(rand.NewSource(g.seed()))
	rng.Shuffle(len(indexes), func(i, j int) {
		indexes[i], indexes[j] = indexes[j], indexes[i]
	})
	if len(indexes) > maxExcerpts {
		indexes = indexes[:maxExcerpts]
	}

	excerpts := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		var sb strings.Builder
		for i, msg := range sessions[idx].Session.Messages {
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(msg.Role)
			sb.WriteString(": ")
			sb.WriteString(msg.Text)
			if sb.Len() >= maxExcerptLength {
				break
			}
		}
		excerpt := sb.String()
		if len(excerpt) > maxExcerptLength {
			excerpt = excerpt[:maxExcerptLength]
		}
		if excerpt != "" {
			excerpts = append(excerpts, excerpt)
		}
	}
	return excerpts
}

func (g *Generator) seed() int64 {
	if g.Seed != 0 {
		return g.Seed
	}
	return rand.Int63()
}
