package handlers

import (
	"net/http"

	"github.com/agentgate/agentgate/batch"
	"github.com/agentgate/agentgate/session"
)

// SessionsResponse reports pool occupancy.
type SessionsResponse struct {
	Sessions session.Stats `json:"sessions"`
}

// Sessions implements GET /v1/sessions.
func (h *Handlers) Sessions(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, SessionsResponse{Sessions: h.pool.Stats()})
}

// SessionDeletedResponse acknowledges a session close.
type SessionDeletedResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Deleted bool   `json:"deleted"`
}

// CloseSession implements DELETE /v1/sessions/{id}.
func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.pool.Close(id); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, SessionDeletedResponse{ID: id, Type: "session", Deleted: true})
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status   string        `json:"status"`
	Version  string        `json:"version,omitempty"`
	Sessions session.Stats `json:"sessions"`
	Batches  batch.Stats   `json:"batches"`
}

// Health implements GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  h.config.Version,
		Sessions: h.pool.Stats(),
		Batches:  h.batches.EngineStats(),
	})
}
