package botplatform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPSourceListSessions(t *testing.T) {
	var captured listSessionsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/list" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer platform-key" {
			t.Errorf("authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("request not JSON: %v", err)
		}
		io.WriteString(w, `{"sessions":[
			{"sessionId":"s-1","userId":"u-1","startTime":"2025-06-01T10:00:00Z","endTime":"2025-06-01T10:02:00Z","containmentType":"agent"}
		],"total":1}`)
	}))
	t.Cleanup(server.Close)

	src, err := NewHTTPSource(server.URL+"/", "platform-key")
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}

	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sessions, err := src.ListSessions(context.Background(), SessionQuery{
		Containment: ContainmentAgent,
		DateFrom:    from,
		DateTo:      from.Add(6 * time.Hour),
		Limit:       100,
	})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "s-1" || sessions[0].Containment != ContainmentAgent {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
	if captured.ContainmentType != "agent" || captured.Limit != 100 {
		t.Fatalf("unexpected request: %+v", captured)
	}
	if captured.DateFrom != "2025-06-01T00:00:00Z" {
		t.Fatalf("dateFrom = %s", captured.DateFrom)
	}
}

func TestHTTPSourceListMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/list" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `{"messages":[
			{"sessionId":"s-1","timestamp":"2025-06-01T10:00:00Z","role":"user","text":"hello"},
			{"sessionId":"s-1","timestamp":"2025-06-01T10:00:05Z","role":"bot","text":"hi"}
		]}`)
	}))
	t.Cleanup(server.Close)

	src, err := NewHTTPSource(server.URL, "")
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}

	messages, err := src.ListMessages(context.Background(), MessageQuery{SessionIDs: []string{"s-1"}})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 2 || messages[1].Role != "bot" {
		t.Fatalf("unexpected messages: %+v", messages)
	}

	// No session ids means no request at all.
	empty, err := src.ListMessages(context.Background(), MessageQuery{})
	if err != nil || empty != nil {
		t.Fatalf("expected nil result without ids, got %v / %v", empty, err)
	}
}

func TestHTTPSourceErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "maintenance window")
	}))
	t.Cleanup(server.Close)

	src, err := NewHTTPSource(server.URL, "")
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}
	_, err = src.ListSessions(context.Background(), SessionQuery{Containment: ContainmentDropOff})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected 503 error, got %v", err)
	}
}

func TestMemorySourceFiltersWindowAndContainment(t *testing.T) {
	src := NewMemorySource()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, containment := range []ContainmentType{ContainmentAgent, ContainmentSelfService, ContainmentDropOff} {
		src.AddSession(SessionMetadata{
			SessionID:   string(containment),
			StartTime:   base.Add(time.Duration(i) * time.Hour),
			Containment: containment,
		}, nil)
	}

	sessions, err := src.ListSessions(context.Background(), SessionQuery{
		Containment: ContainmentSelfService,
		DateFrom:    base,
		DateTo:      base.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Containment != ContainmentSelfService {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}

	// Window end is exclusive.
	sessions, err = src.ListSessions(context.Background(), SessionQuery{
		Containment: ContainmentSelfService,
		DateFrom:    base,
		DateTo:      base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected exclusive window end, got %+v", sessions)
	}
}
