package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"insights-backend/internal/llm"
)

const (
	systemPromptClassify     = "You are a session analysis engine. Respond with JSON only. Never omit keys. Output must match the schema exactly."
	systemPromptCanonicalize = "You are a label reconciliation engine. Respond with JSON only. Output must match the schema exactly."
	systemPromptSummary      = "You are an analytics report writer. Respond with JSON only. Output must match the schema exactly."
)

func buildClassifyMessages(input llm.ClassifyInput) ([]chatMessage, error) {
	replacer := strings.NewReplacer(
		"{{EXISTING_INTENTS}}", formatHint(input.Vocabulary.GeneralIntents),
		"{{EXISTING_TRANSFER_REASONS}}", formatHint(input.Vocabulary.TransferReasons),
		"{{EXISTING_DROPOFF_LOCATIONS}}", formatHint(input.Vocabulary.DropOffLocations),
	)
	developer := replacer.Replace(llm.ClassifyDeveloperPrompt())

	type transcriptPayload struct {
		SessionID  string `json:"sessionId"`
		UserID     string `json:"userId"`
		Transcript string `json:"transcript"`
	}
	payload := make([]transcriptPayload, 0, len(input.Transcripts))
	for _, t := range input.Transcripts {
		payload = append(payload, transcriptPayload{
			SessionID:  t.SessionID,
			UserID:     t.UserID,
			Transcript: t.Transcript,
		})
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal transcripts: %w", err)
	}

	return []chatMessage{
		{Role: "system", Content: systemPromptClassify},
		{Role: "developer", Content: developer},
		{Role: "user", Content: "Sessions to classify:\n" + string(data)},
	}, nil
}

func buildCanonicalizeMessages(input llm.CanonicalizeInput) ([]chatMessage, error) {
	vocab := map[string][]string{
		"generalIntents":   emptyIfNil(input.GeneralIntents),
		"transferReasons":  emptyIfNil(input.TransferReasons),
		"dropOffLocations": emptyIfNil(input.DropOffLocations),
	}
	data, err := json.Marshal(vocab)
	if err != nil {
		return nil, fmt.Errorf("marshal vocabulary: %w", err)
	}
	return []chatMessage{
		{Role: "system", Content: systemPromptCanonicalize},
		{Role: "developer", Content: llm.CanonicalizeDeveloperPrompt()},
		{Role: "user", Content: "Observed vocabulary:\n" + string(data)},
	}, nil
}

func buildSummaryMessages(input llm.SummaryInput) ([]chatMessage, error) {
	digest := map[string]any{
		"totalSessions":        input.TotalSessions,
		"intentCounts":         input.IntentCounts,
		"outcomeCounts":        input.OutcomeCounts,
		"transferReasonCounts": input.TransferReasonCounts,
		"excerpts":             input.Excerpts,
	}
	data, err := json.Marshal(digest)
	if err != nil {
		return nil, fmt.Errorf("marshal summary digest: %w", err)
	}
	return []chatMessage{
		{Role: "system", Content: systemPromptSummary},
		{Role: "developer", Content: llm.SummaryDeveloperPrompt()},
		{Role: "user", Content: "Analysis digest:\n" + string(data)},
	}, nil
}

func formatHint(values []string) string {
	if len(values) == 0 {
		return "(none yet)"
	}
	return strings.Join(values, "; ")
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func classificationSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"sessions"},
		"properties": map[string]any{
			"sessions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required": []string{
						"sessionId", "userId", "generalIntent", "sessionOutcome",
						"transferReason", "dropOffLocation", "notes",
					},
					"properties": map[string]any{
						"sessionId":       map[string]any{"type": "string"},
						"userId":          map[string]any{"type": "string"},
						"generalIntent":   map[string]any{"type": "string"},
						"sessionOutcome":  map[string]any{"type": "string", "enum": []string{"Transfer", "Contained"}},
						"transferReason":  map[string]any{"type": "string"},
						"dropOffLocation": map[string]any{"type": "string"},
						"notes":           map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

func canonicalizationSchema() map[string]any {
	groupList := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"canonical", "aliases"},
			"properties": map[string]any{
				"canonical": map[string]any{"type": "string"},
				"aliases": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
		},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"generalIntents", "transferReasons", "dropOffLocations"},
		"properties": map[string]any{
			"generalIntents":   groupList,
			"transferReasons":  groupList,
			"dropOffLocations": groupList,
		},
	}
}

func summarySchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"summary"},
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
		},
	}
}
