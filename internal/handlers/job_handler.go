package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/jobs"
	"github.com/ternarybob/catena/internal/models"
)

// JobHandler exposes job orchestration over HTTP
type JobHandler struct {
	orchestrator *jobs.Orchestrator
	jobStore     interfaces.JobStorage
	logger       arbor.ILogger
}

func NewJobHandler(logger arbor.ILogger, orchestrator *jobs.Orchestrator, jobStore interfaces.JobStorage) *JobHandler {
	return &JobHandler{
		orchestrator: orchestrator,
		jobStore:     jobStore,
		logger:       logger,
	}
}

// StartJobHandler handles POST /api/jobs. The response returns as soon as
// the job row exists and the first chunk is queued.
func (h *JobHandler) StartJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req jobs.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Kind == "" {
		WriteError(w, http.StatusBadRequest, "kind is required")
		return
	}

	job, err := h.orchestrator.StartJob(r.Context(), &req)
	if err != nil {
		if errors.Is(err, jobs.ErrEmptySource) {
			WriteError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("kind", string(req.Kind)).Msg("Failed to start job")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":         job.ID,
		"total_estimate": job.ProgressTotal,
		"chunk_size":     job.ChunkSize,
	})
}

// ListJobsHandler handles GET /api/jobs
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	opts := &interfaces.JobListOptions{
		OwnerID: r.URL.Query().Get("owner"),
		Kind:    models.JobKind(r.URL.Query().Get("kind")),
		Status:  models.JobStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}

	list, err := h.jobStore.ListJobs(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// JobRoutesHandler dispatches /api/jobs/{id} and /api/jobs/{id}/cancel
func (h *JobHandler) JobRoutesHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		h.getJob(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "cancel":
		h.cancelJob(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "chunks":
		h.getChunks(w, r, parts[0])
	default:
		WriteError(w, http.StatusNotFound, "not found")
	}
}

// getJob serves the status poll: status, progress, and error message
func (h *JobHandler) getJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := h.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found: "+jobID)
		return
	}

	resp := map[string]interface{}{
		"job_id":           job.ID,
		"kind":             job.Kind,
		"status":           job.Status,
		"progress_current": job.ProgressCurrent,
		"progress_total":   job.ProgressTotal,
		"retry_count":      job.RetryCount,
		"created_at":       job.CreatedAt,
		"updated_at":       job.UpdatedAt,
	}
	if job.Error != "" {
		resp["error_message"] = job.Error
	}
	if job.ArtifactLocation != "" {
		resp["artifact_location"] = job.ArtifactLocation
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *JobHandler) cancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	// Body is optional
	_ = json.NewDecoder(r.Body).Decode(&body)

	job, err := h.orchestrator.Cancel(r.Context(), jobID, body.Reason)
	if err != nil {
		h.logger.Error().Err(err).Str("job", jobID).Msg("Failed to cancel job")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (h *JobHandler) getChunks(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	chunks, err := h.jobStore.GetChunksByJob(r.Context(), jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job", jobID).Msg("Failed to list chunks")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"chunks": chunks,
		"count":  len(chunks),
	})
}
