package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/jobs"
	"github.com/ternarybob/catena/internal/linking"
	"github.com/ternarybob/catena/internal/models"
)

// LinkHandler exposes the linking engine over HTTP. Bulk linking runs as
// a job; per-record AutoLink runs inline because it touches one record.
type LinkHandler struct {
	engine       *linking.Engine
	orchestrator *jobs.Orchestrator
	links        interfaces.LinkStorage
	logger       arbor.ILogger
}

func NewLinkHandler(logger arbor.ILogger, engine *linking.Engine, orchestrator *jobs.Orchestrator, links interfaces.LinkStorage) *LinkHandler {
	return &LinkHandler{
		engine:       engine,
		orchestrator: orchestrator,
		links:        links,
		logger:       logger,
	}
}

// AutoLinkHandler handles POST /api/links/auto
func (h *LinkHandler) AutoLinkHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var body struct {
		RecordID string `json:"record_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.RecordID == "" {
		WriteError(w, http.StatusBadRequest, "record_id is required")
		return
	}

	result, err := h.engine.AutoLink(r.Context(), body.RecordID)
	if err != nil {
		h.logger.Error().Err(err).Str("record", body.RecordID).Msg("AutoLink failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// BulkLinkHandler handles POST /api/links/bulk. The sweep runs as a link
// job; progress streams over the websocket as link.progress events.
func (h *LinkHandler) BulkLinkHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var body struct {
		OwnerID   string `json:"owner_id"`
		ChunkSize int    `json:"chunk_size,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.OwnerID == "" {
		WriteError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	job, err := h.orchestrator.StartJob(r.Context(), &jobs.StartRequest{
		Kind:      models.JobKindLink,
		OwnerID:   body.OwnerID,
		ChunkSize: body.ChunkSize,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("owner", body.OwnerID).Msg("Failed to start bulk link")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":         job.ID,
		"total_estimate": job.ProgressTotal,
	})
}

// ListLinksHandler handles GET /api/links?record={id}
func (h *LinkHandler) ListLinksHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	recordID := r.URL.Query().Get("record")
	if recordID == "" {
		WriteError(w, http.StatusBadRequest, "record query parameter is required")
		return
	}

	links, err := h.links.GetLinksForRecord(r.Context(), recordID)
	if err != nil {
		h.logger.Error().Err(err).Str("record", recordID).Msg("Failed to list links")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"links": links,
		"count": len(links),
	})
}

// LinkRoutesHandler dispatches DELETE /api/links/{leftID}/{rightID}.
// Deletion is the one link mutation reserved for explicit user action.
func (h *LinkHandler) LinkRoutesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/links/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		WriteError(w, http.StatusBadRequest, "expected /api/links/{left_id}/{right_id}")
		return
	}

	if err := h.links.DeleteLink(r.Context(), parts[0], parts[1]); err != nil {
		h.logger.Error().Err(err).Str("left", parts[0]).Str("right", parts[1]).Msg("Failed to delete link")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
