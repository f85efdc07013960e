package botplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPSource talks to the bot platform's session history API.
type HTTPSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPSource constructs an HTTPSource for the given platform endpoint.
func NewHTTPSource(baseURL, apiKey string) (*HTTPSource, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("BOT_PLATFORM_BASE_URL is required")
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type listSessionsRequest struct {
	ContainmentType string `json:"containmentType"`
	DateFrom        string `json:"dateFrom"`
	DateTo          string `json:"dateTo"`
	Skip            int    `json:"skip"`
	Limit           int    `json:"limit"`
}

type listSessionsResponse struct {
	Sessions []SessionMetadata `json:"sessions"`
	Total    int               `json:"total"`
}

type listMessagesRequest struct {
	SessionIDs []string `json:"sessionIds"`
	DateFrom   string   `json:"dateFrom"`
	DateTo     string   `json:"dateTo"`
}

type listMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// ListSessions returns session metadata for one containment type and window.
func (s *HTTPSource) ListSessions(ctx context.Context, q SessionQuery) ([]SessionMetadata, error) {
	reqBody := listSessionsRequest{
		ContainmentType: string(q.Containment),
		DateFrom:        q.DateFrom.UTC().Format(time.RFC3339),
		DateTo:          q.DateTo.UTC().Format(time.RFC3339),
		Skip:            q.Skip,
		Limit:           q.Limit,
	}
	var parsed listSessionsResponse
	if err := s.post(ctx, "/api/sessions/list", reqBody, &parsed); err != nil {
		return nil, fmt.Errorf("list sessions containment=%s: %w", q.Containment, err)
	}
	return parsed.Sessions, nil
}

// ListMessages returns the messages of the given sessions within the window.
func (s *HTTPSource) ListMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	if len(q.SessionIDs) == 0 {
		return nil, nil
	}
	reqBody := listMessagesRequest{
		SessionIDs: q.SessionIDs,
		DateFrom:   q.DateFrom.UTC().Format(time.RFC3339),
		DateTo:     q.DateTo.UTC().Format(time.RFC3339),
	}
	var parsed listMessagesResponse
	if err := s.post(ctx, "/api/messages/list", reqBody, &parsed); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return parsed.Messages, nil
}

func (s *HTTPSource) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return fmt.Errorf("bot platform http status %d: %s", resp.StatusCode, msg)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("bot platform response parse: %w", err)
	}
	return nil
}

var _ Source = (*HTTPSource)(nil)
