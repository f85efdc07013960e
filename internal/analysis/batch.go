package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"insights-backend/internal/llm"
	"insights-backend/internal/shared/telemetry"
)

// BatchResult is the outcome of classifying one batch of sessions.
type BatchResult struct {
	Classified []ClassifiedSession
	// FailedSessionIDs lists sessions sent in the batch that the response did
	// not usably classify. They count as processing failures, not job errors.
	FailedSessionIDs []string
	Usage            llm.Usage
	Cost             float64
}

// BatchClassifier classifies one batch of sessions with a single LLM call.
type BatchClassifier struct {
	LLM   llm.Client
	Model string
}

// ClassifyBatch sends the sessions for classification and decodes the
// per-session facts. Sessions absent from the response, or present with an
// unusable outcome, are reported in FailedSessionIDs rather than failing the
// whole batch.
func (b *BatchClassifier) ClassifyBatch(ctx context.Context, sessions []SessionRecord, vocab Vocabulary, batchNumber int) (BatchResult, error) {
	transcripts := make([]llm.SessionTranscript, 0, len(sessions))
	for _, s := range sessions {
		transcripts = append(transcripts, llm.SessionTranscript{
			SessionID:  s.SessionID,
			UserID:     s.UserID,
			Transcript: renderTranscript(s.Messages),
		})
	}

	raw, usage, err := b.LLM.ClassifySessions(ctx, llm.ClassifyInput{
		Model:       b.Model,
		Transcripts: transcripts,
		Vocabulary: llm.VocabularyHint{
			GeneralIntents:   vocab.GeneralIntents,
			TransferReasons:  vocab.TransferReasons,
			DropOffLocations: vocab.DropOffLocations,
		},
	})
	result := BatchResult{Usage: usage, Cost: EstimateCost(b.Model, usage)}
	if err != nil {
		return result, fmt.Errorf("classify batch %d: %w", batchNumber, err)
	}

	byID, err := parseClassifyResponse(raw)
	if err != nil {
		return result, fmt.Errorf("classify batch %d: %w", batchNumber, err)
	}

	processedAt := time.Now().UTC()
	for _, s := range sessions {
		facts, ok := byID[s.SessionID]
		if !ok {
			result.FailedSessionIDs = append(result.FailedSessionIDs, s.SessionID)
			continue
		}
		result.Classified = append(result.Classified, ClassifiedSession{
			Session: s,
			Facts:   facts,
			Metadata: Metadata{
				TokensUsed:  usage.Total() / max(len(sessions), 1),
				BatchNumber: batchNumber,
				Model:       b.Model,
				ProcessedAt: processedAt,
			},
		})
	}
	if extra := len(byID) - len(result.Classified); extra > 0 {
		telemetry.Warn("classification returned unknown session ids", map[string]any{
			"requestId":   requestIDFromContext(ctx),
			"batchNumber": batchNumber,
			"extra":       extra,
		})
	}
	return result, nil
}

type classifiedSessionPayload struct {
	SessionID       string `json:"sessionId"`
	UserID          string `json:"userId"`
	GeneralIntent   string `json:"generalIntent"`
	SessionOutcome  string `json:"sessionOutcome"`
	TransferReason  string `json:"transferReason"`
	DropOffLocation string `json:"dropOffLocation"`
	Notes           string `json:"notes"`
}

type classifyResponsePayload struct {
	Sessions []classifiedSessionPayload `json:"sessions"`
}

// parseClassifyResponse decodes the classification response into facts keyed
// by session ID. Outcome-dependent fields are normalized: a Contained session
// never carries a transfer reason or drop-off location.
func parseClassifyResponse(raw json.RawMessage) (map[string]Facts, error) {
	var payload classifyResponsePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode classification response: %w", err)
	}
	if payload.Sessions == nil {
		return nil, fmt.Errorf("classification response missing sessions array")
	}

	byID := make(map[string]Facts, len(payload.Sessions))
	for _, item := range payload.Sessions {
		if item.SessionID == "" {
			continue
		}
		if item.SessionOutcome != OutcomeTransfer && item.SessionOutcome != OutcomeContained {
			continue
		}
		facts := Facts{
			GeneralIntent:   strings.TrimSpace(item.GeneralIntent),
			SessionOutcome:  item.SessionOutcome,
			TransferReason:  strings.TrimSpace(item.TransferReason),
			DropOffLocation: strings.TrimSpace(item.DropOffLocation),
			Notes:           strings.TrimSpace(item.Notes),
		}
		if facts.SessionOutcome == OutcomeContained {
			facts.TransferReason = ""
			facts.DropOffLocation = ""
		}
		byID[item.SessionID] = facts
	}
	return byID, nil
}

func renderTranscript(messages []TranscriptMessage) string {
	var sb strings.Builder
	for i, msg := range messages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Text)
	}
	return sb.String()
}
