package analysis

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"insights-backend/internal/shared/server/middleware"
	"insights-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the analysis service.
type Handler struct {
	Svc     *Service
	limiter *pollLimiter
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc, limiter: newPollLimiter(pollLimitWindow, nil)}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analysis/jobs", h.startJob)
	rg.GET("/analysis/jobs", h.listJobs)
	rg.GET("/analysis/jobs/:id/progress", h.getProgress)
	rg.GET("/analysis/jobs/:id/results", h.getResults)
	rg.POST("/analysis/jobs/:id/cancel", h.cancelJob)
}

type startJobRequest struct {
	StartDate    string `json:"startDate"`
	SessionCount int    `json:"sessionCount"`
	Model        string `json:"model"`
	APIKeyRef    string `json:"apiKeyRef"`
}

func (h *Handler) startJob(c *gin.Context) {
	var req startJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	startDate, err := time.Parse(time.RFC3339, req.StartDate)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "startDate must be RFC 3339", []map[string]string{
			{"field": "startDate", "issue": "invalid_format"},
		})
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	job, err := h.Svc.Start(ctx, Config{
		StartDate:    startDate,
		SessionCount: req.SessionCount,
		Model:        req.Model,
		APIKeyRef:    req.APIKeyRef,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start analysis", nil)
		}
		return
	}

	c.Set("jobId", job.ID)
	respond.JSON(c, http.StatusAccepted, gin.H{
		"jobId": job.ID,
		"phase": job.Snapshot().Phase,
	})
}

func (h *Handler) getProgress(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "job id is required", nil)
		return
	}
	c.Set("jobId", jobID)

	if !h.limiter.Allow(c.ClientIP(), jobID) {
		c.Header("Retry-After", strconv.Itoa(h.limiter.RetryAfterSeconds()))
		respond.Error(c, http.StatusTooManyRequests, "poll_too_fast", "progress polling is limited, retry shortly", nil)
		return
	}

	progress, err := h.Svc.Progress(jobID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "job not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch progress", nil)
		}
		return
	}

	respond.OK(c, gin.H{
		"jobId":    jobID,
		"progress": progress,
	})
}

func (h *Handler) getResults(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "job id is required", nil)
		return
	}
	c.Set("jobId", jobID)

	results, err := h.Svc.Results(jobID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "job not found", nil)
		case errors.Is(err, ErrNotReady):
			respond.Error(c, http.StatusConflict, "not_ready", "job has not completed", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch results", nil)
		}
		return
	}

	respond.OK(c, gin.H{
		"jobId":   jobID,
		"results": results,
	})
}

func (h *Handler) cancelJob(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "job id is required", nil)
		return
	}
	c.Set("jobId", jobID)

	if err := h.Svc.Cancel(jobID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "job not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to cancel job", nil)
		}
		return
	}

	respond.JSON(c, http.StatusAccepted, gin.H{
		"jobId":     jobID,
		"cancelled": true,
	})
}

func (h *Handler) listJobs(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}

	records, err := h.Svc.ListRecent(c.Request.Context(), limit)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list jobs", nil)
		return
	}

	resp := make([]gin.H, 0, len(records))
	for _, record := range records {
		item := gin.H{
			"jobId":        record.ID,
			"phase":        record.Phase,
			"model":        record.Config.Model,
			"sessionCount": record.Config.SessionCount,
			"createdAt":    record.CreatedAt,
		}
		if record.EndedAt != nil {
			item["endedAt"] = record.EndedAt
		}
		if record.ErrorMessage != "" {
			item["errorMessage"] = record.ErrorMessage
		}
		resp = append(resp, item)
	}
	respond.OK(c, resp)
}
