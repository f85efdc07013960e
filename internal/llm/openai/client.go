package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"insights-backend/internal/llm"
)

const apiURL = "https://api.openai.com/v1/chat/completions"

// Client implements llm.Client using OpenAI Chat Completions with
// json_schema structured outputs.
type Client struct {
	apiKey       string
	defaultModel string
	baseURL      string
	httpClient   *http.Client
}

// NewClient constructs a new OpenAI client.
func NewClient(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(defaultModel) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for OpenAI")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	timeout := 120 * time.Second
	if raw := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	baseURL := apiURL
	if raw := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); raw != "" {
		baseURL = strings.TrimRight(raw, "/") + "/v1/chat/completions"
	}
	return &Client{
		apiKey:       apiKey,
		defaultModel: defaultModel,
		baseURL:      baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    *float32       `json:"temperature,omitempty"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ClassifySessions issues one schema-constrained classification call for a batch.
func (c *Client) ClassifySessions(ctx context.Context, input llm.ClassifyInput) (json.RawMessage, llm.Usage, error) {
	if len(input.Transcripts) == 0 {
		return nil, llm.Usage{}, fmt.Errorf("classify: empty batch")
	}
	messages, err := buildClassifyMessages(input)
	if err != nil {
		return nil, llm.Usage{}, err
	}
	return c.callStructured(ctx, c.resolveModel(input.Model), "session_classification", classificationSchema(), messages)
}

// CanonicalizeLabels issues one schema-constrained canonicalization call over
// the full observed vocabulary.
func (c *Client) CanonicalizeLabels(ctx context.Context, input llm.CanonicalizeInput) (json.RawMessage, llm.Usage, error) {
	messages, err := buildCanonicalizeMessages(input)
	if err != nil {
		return nil, llm.Usage{}, err
	}
	return c.callStructured(ctx, c.resolveModel(input.Model), "label_canonicalization", canonicalizationSchema(), messages)
}

// GenerateSummary issues one schema-constrained narrative summary call.
func (c *Client) GenerateSummary(ctx context.Context, input llm.SummaryInput) (json.RawMessage, llm.Usage, error) {
	messages, err := buildSummaryMessages(input)
	if err != nil {
		return nil, llm.Usage{}, err
	}
	return c.callStructured(ctx, c.resolveModel(input.Model), "analysis_summary", summarySchema(), messages)
}

func (c *Client) resolveModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return c.defaultModel
}

func (c *Client) callStructured(ctx context.Context, model, schemaName string, schema map[string]any, messages []chatMessage) (json.RawMessage, llm.Usage, error) {
	temp := float32(0)
	reqBody := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: &temp,
		ResponseFormat: responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchema{
				Name:   schemaName,
				Strict: true,
				Schema: schema,
			},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, llm.Usage{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, llm.Usage{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return nil, llm.Usage{}, fmt.Errorf("openai request timeout: %w", err)
		}
		return nil, llm.Usage{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.Usage{}, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, llm.Usage{}, fmt.Errorf("openai rate limited (429): %s", truncateBody(body))
	}
	if resp.StatusCode >= 500 {
		return nil, llm.Usage{}, fmt.Errorf("openai http status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, llm.Usage{}, fmt.Errorf("openai response parse: %w", err)
	}
	if parsed.Error != nil {
		return nil, llm.Usage{}, fmt.Errorf("openai error: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, llm.Usage{}, fmt.Errorf("openai http status %d: %s", resp.StatusCode, truncateBody(body))
	}
	if len(parsed.Choices) == 0 {
		return nil, llm.Usage{}, fmt.Errorf("openai response missing choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return nil, llm.Usage{}, fmt.Errorf("openai response empty content")
	}
	if !json.Valid([]byte(content)) {
		return nil, llm.Usage{}, fmt.Errorf("invalid JSON from OpenAI")
	}

	usage := toUsage(parsed.Usage)
	logUsage(model, schemaName, parsed.Usage)
	return json.RawMessage(content), usage, nil
}

func toUsage(raw *struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}) llm.Usage {
	if raw == nil {
		return llm.Usage{}
	}
	return llm.Usage{
		PromptTokens:     raw.PromptTokens,
		CompletionTokens: raw.CompletionTokens,
	}
}

func logUsage(model, schemaName string, usage *struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}) {
	if usage == nil {
		log.Printf("llm response model=%s schema=%s", model, schemaName)
		return
	}
	log.Printf("llm response model=%s schema=%s prompt_tokens=%d completion_tokens=%d total_tokens=%d",
		model, schemaName, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
}

func truncateBody(body []byte) string {
	const maxLen = 300
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

var _ llm.Client = (*Client)(nil)
