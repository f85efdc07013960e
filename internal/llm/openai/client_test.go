package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"insights-backend/internal/llm"
)

func classifyInput() llm.ClassifyInput {
	return llm.ClassifyInput{
		Transcripts: []llm.SessionTranscript{
			{SessionID: "s-1", UserID: "u-1", Transcript: "user: where is my order\nbot: let me check"},
		},
		Vocabulary: llm.VocabularyHint{GeneralIntents: []string{"Order Status"}},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	t.Setenv("OPENAI_BASE_URL", server.URL)

	client, err := NewClient("test-key", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for missing api key")
	}
	if _, err := NewClient("key", " "); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestClassifySessionsSendsStructuredRequest(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("request not JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"choices":[{"message":{"role":"assistant","content":"{\"sessions\":[]}"}}],
			"usage":{"prompt_tokens":120,"completion_tokens":30,"total_tokens":150}
		}`)
	})

	raw, usage, err := client.ClassifySessions(context.Background(), classifyInput())
	if err != nil {
		t.Fatalf("ClassifySessions: %v", err)
	}
	if string(raw) != `{"sessions":[]}` {
		t.Fatalf("unexpected payload: %s", raw)
	}
	if usage.PromptTokens != 120 || usage.CompletionTokens != 30 {
		t.Fatalf("usage = %+v", usage)
	}

	if captured["model"] != "gpt-4o-mini" {
		t.Fatalf("model = %v", captured["model"])
	}
	format, _ := captured["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Fatalf("response_format type = %v", format["type"])
	}
	schema, _ := format["json_schema"].(map[string]any)
	if schema["name"] != "session_classification" || schema["strict"] != true {
		t.Fatalf("json_schema = %v", schema)
	}
	messages, _ := captured["messages"].([]any)
	if len(messages) < 2 {
		t.Fatalf("expected system and user messages, got %d", len(messages))
	}
}

func TestClassifySessionsEmptyBatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected for empty batch")
	})
	if _, _, err := client.ClassifySessions(context.Background(), llm.ClassifyInput{}); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestCallStatusHandling(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, "rate limited (429)"},
		{"server error", http.StatusBadGateway, `upstream exploded`, "openai http status 502"},
		{"api error", http.StatusBadRequest, `{"error":{"message":"bad schema","type":"invalid_request_error"}}`, "openai error: bad schema"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "missing choices"},
		{"invalid content", http.StatusOK, `{"choices":[{"message":{"content":"not json"}}]}`, "invalid JSON"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			})
			_, _, err := client.CanonicalizeLabels(context.Background(), llm.CanonicalizeInput{
				GeneralIntents: []string{"A", "B"},
			})
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestGenerateSummary(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "analysis_summary") {
			t.Errorf("summary schema not requested: %s", body)
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"{\"summary\":\"Mostly order-status traffic.\"}"}}],"usage":{"prompt_tokens":40,"completion_tokens":12}}`)
	})

	raw, usage, err := client.GenerateSummary(context.Background(), llm.SummaryInput{
		TotalSessions: 25,
		IntentCounts:  map[string]int{"Order Status": 20},
	})
	if err != nil {
		t.Fatalf("GenerateSummary: %v", err)
	}
	var payload struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Summary != "Mostly order-status traffic." {
		t.Fatalf("summary = %q", payload.Summary)
	}
	if usage.Total() != 52 {
		t.Fatalf("usage total = %d", usage.Total())
	}
}
