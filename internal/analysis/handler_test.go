package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// blockingSampler parks until released so jobs stay in the sampling phase.
type blockingSampler struct {
	release chan struct{}
}

func (b *blockingSampler) Sample(ctx context.Context, _ time.Time, _ int) ([]SessionRecord, error) {
	select {
	case <-b.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestRouter(t *testing.T, svc *Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func startJobBody() string {
	start := time.Now().Add(-24 * time.Hour).Format(time.RFC3339)
	return fmt.Sprintf(`{"startDate":%q,"sessionCount":10,"model":"gpt-4o-mini","apiKeyRef":"key-1"}`, start)
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerStartJobAccepted(t *testing.T) {
	client := &fakeLLM{classifyFn: echoClassifyFn("FAQ"), canonFn: identityCanonFn}
	svc := newTestService(t, &fakeSampler{records: makeSessionRecords(2)}, client, nil, nil)
	r := newTestRouter(t, svc)

	w := doRequest(r, http.MethodPost, "/api/v1/analysis/jobs", startJobBody())
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		JobID string `json:"jobId"`
		Phase string `json:"phase"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" {
		t.Fatal("missing jobId")
	}
	if resp.Phase != PhaseSampling {
		t.Fatalf("expected sampling phase, got %s", resp.Phase)
	}

	job, err := svc.Get(resp.JobID)
	if err != nil {
		t.Fatalf("job not registered: %v", err)
	}
	waitForTerminal(t, job)
}

func TestHandlerStartJobValidation(t *testing.T) {
	svc := newTestService(t, &fakeSampler{}, &fakeLLM{}, nil, nil)
	r := newTestRouter(t, svc)

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"bad date", `{"startDate":"yesterday","sessionCount":10,"model":"m","apiKeyRef":"k"}`},
		{"count too low", fmt.Sprintf(`{"startDate":%q,"sessionCount":1,"model":"m","apiKeyRef":"k"}`, time.Now().Add(-time.Hour).Format(time.RFC3339))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(r, http.MethodPost, "/api/v1/analysis/jobs", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), "validation_error") {
				t.Fatalf("expected validation_error code, got %s", w.Body.String())
			}
		})
	}
}

func TestHandlerProgressAndPollLimit(t *testing.T) {
	sampler := &blockingSampler{release: make(chan struct{})}
	svc := newTestService(t, sampler, &fakeLLM{}, nil, nil)
	r := newTestRouter(t, svc)

	w := doRequest(r, http.MethodPost, "/api/v1/analysis/jobs", startJobBody())
	if w.Code != http.StatusAccepted {
		t.Fatalf("start: %d", w.Code)
	}
	var started struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doRequest(r, http.MethodGet, "/api/v1/analysis/jobs/"+started.JobID+"/progress", "")
	if w.Code != http.StatusOK {
		t.Fatalf("progress: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), PhaseSampling) {
		t.Fatalf("expected sampling phase in %s", w.Body.String())
	}

	// Immediate second poll from the same client trips the limiter.
	w = doRequest(r, http.MethodGet, "/api/v1/analysis/jobs/"+started.JobID+"/progress", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}

	close(sampler.release)
	job, _ := svc.Get(started.JobID)
	waitForTerminal(t, job)
}

func TestHandlerProgressUnknownJob(t *testing.T) {
	svc := newTestService(t, &fakeSampler{}, &fakeLLM{}, nil, nil)
	r := newTestRouter(t, svc)

	w := doRequest(r, http.MethodGet, "/api/v1/analysis/jobs/missing/progress", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandlerResultsNotReadyThenReady(t *testing.T) {
	sampler := &blockingSampler{release: make(chan struct{})}
	client := &fakeLLM{}
	svc := newTestService(t, sampler, client, nil, nil)
	r := newTestRouter(t, svc)

	w := doRequest(r, http.MethodPost, "/api/v1/analysis/jobs", startJobBody())
	var started struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doRequest(r, http.MethodGet, "/api/v1/analysis/jobs/"+started.JobID+"/results", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while running, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not_ready") {
		t.Fatalf("expected not_ready code, got %s", w.Body.String())
	}

	close(sampler.release)
	job, _ := svc.Get(started.JobID)
	waitForTerminal(t, job)

	w = doRequest(r, http.MethodGet, "/api/v1/analysis/jobs/"+started.JobID+"/results", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after completion, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandlerCancel(t *testing.T) {
	sampler := &blockingSampler{release: make(chan struct{})}
	svc := newTestService(t, sampler, &fakeLLM{}, nil, nil)
	r := newTestRouter(t, svc)

	w := doRequest(r, http.MethodPost, "/api/v1/analysis/jobs", startJobBody())
	var started struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doRequest(r, http.MethodPost, "/api/v1/analysis/jobs/"+started.JobID+"/cancel", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	close(sampler.release)
	job, _ := svc.Get(started.JobID)
	progress := waitForTerminal(t, job)
	if progress.Phase != PhaseError || progress.ErrorCode != ErrorCodeCancelled {
		t.Fatalf("expected cancelled terminal state, got %+v", progress)
	}

	w = doRequest(r, http.MethodPost, "/api/v1/analysis/jobs/missing/cancel", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", w.Code)
	}
}

func TestHandlerListJobs(t *testing.T) {
	client := &fakeLLM{classifyFn: echoClassifyFn("FAQ"), canonFn: identityCanonFn}
	repo := NewMemoryRepository()
	svc := newTestService(t, &fakeSampler{records: makeSessionRecords(2)}, client, nil, repo)
	r := newTestRouter(t, svc)

	w := doRequest(r, http.MethodPost, "/api/v1/analysis/jobs", startJobBody())
	var started struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	job, _ := svc.Get(started.JobID)
	waitForTerminal(t, job)

	w = doRequest(r, http.MethodGet, "/api/v1/analysis/jobs?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var items []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 job, got %d", len(items))
	}
	if items[0]["jobId"] != started.JobID {
		t.Fatalf("unexpected job listed: %+v", items[0])
	}
}
