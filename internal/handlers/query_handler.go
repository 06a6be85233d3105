package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/stevkan/support-tracker/internal/interfaces"
	"github.com/stevkan/support-tracker/internal/models"
	"github.com/stevkan/support-tracker/internal/scheduler"
)

// QueryHandler serves the query-job control plane
type QueryHandler struct {
	scheduler *scheduler.Scheduler
	validate  *validator.Validate
	logger    arbor.ILogger
}

// NewQueryHandler creates a new query handler
func NewQueryHandler(sched *scheduler.Scheduler, logger arbor.ILogger) *QueryHandler {
	return &QueryHandler{
		scheduler: sched,
		validate:  validator.New(),
		logger:    logger,
	}
}

// queryParamsPayload distinguishes absent fields from zero values
type queryParamsPayload struct {
	NumberOfDaysToQuery *int  `json:"numberOfDaysToQuery"`
	StartHour           *int  `json:"startHour"`
	PushToTracker       *bool `json:"pushToTracker"`
}

// startQueryRequest is the POST /api/queries payload
type startQueryRequest struct {
	EnabledServices *models.EnabledServices `json:"enabledServices"`
	Params          *queryParamsPayload     `json:"params"`
}

// StartQueryHandler handles POST /api/queries
func (h *QueryHandler) StartQueryHandler(w http.ResponseWriter, r *http.Request) {
	var req startQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	startReq := scheduler.StartRequest{EnabledServices: req.EnabledServices}

	if req.Params != nil {
		params := models.QueryParams{
			NumberOfDaysToQuery: 1,
			StartHour:           10,
			PushToTracker:       true,
		}
		if req.Params.NumberOfDaysToQuery != nil {
			params.NumberOfDaysToQuery = *req.Params.NumberOfDaysToQuery
		}
		if req.Params.StartHour != nil {
			params.StartHour = *req.Params.StartHour
		}
		if req.Params.PushToTracker != nil {
			params.PushToTracker = *req.Params.PushToTracker
		}

		if err := h.validate.Struct(params); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid query parameters: "+err.Error())
			return
		}
		startReq.Params = &params
	}

	jobID, err := h.scheduler.Start(r.Context(), startReq)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to start query job")
		WriteError(w, http.StatusInternalServerError, "Failed to start query job")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"jobId": jobID})
}

// GetQueryHandler handles GET /api/queries/{id}
func (h *QueryHandler) GetQueryHandler(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/api/queries/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.scheduler.Get(jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to read job")
		WriteError(w, http.StatusInternalServerError, "Failed to read job")
		return
	}

	response := map[string]interface{}{
		"status":      job.Status,
		"result":      job.Result,
		"progress":    job.Progress,
		"elapsedTime": job.ElapsedMS(time.Now()),
	}
	if job.Error != "" {
		response["error"] = job.Error
	}
	if len(job.ServiceErrors) > 0 {
		response["serviceErrors"] = job.ServiceErrors
	}

	WriteJSON(w, http.StatusOK, response)
}

// CancelQueryHandler handles POST /api/queries/{id}/cancel
func (h *QueryHandler) CancelQueryHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queries/")
	jobID := strings.TrimSuffix(path, "/cancel")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	err := h.scheduler.Cancel(jobID)
	switch {
	case err == nil:
		WriteSuccess(w)
	case errors.Is(err, interfaces.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, scheduler.ErrJobNotRunning):
		WriteError(w, http.StatusBadRequest, "Job is not running")
	default:
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel job")
	}
}

// ListQueriesHandler handles GET /api/queries
func (h *QueryHandler) ListQueriesHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.scheduler.List())
}
