package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/api"
	"github.com/agentgate/agentgate/types"
)

// CreateBatch implements POST /v1/messages/batches.
func (h *Handlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req api.CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, h.logger, types.NewError(types.ErrInvalidRequest, "invalid JSON body: "+err.Error()))
		return
	}
	mb, err := h.batches.Submit(&req)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, mb)
}

// GetBatch implements GET /v1/messages/batches/{id}.
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	mb, err := h.batches.Status(r.PathValue("id"))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, mb)
}

// ListBatches implements GET /v1/messages/batches with Anthropic's cursor
// pagination parameters: limit, after_id, before_id.
func (h *Handlers) ListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	WriteJSON(w, http.StatusOK, h.batches.List(limit, q.Get("after_id"), q.Get("before_id")))
}

// CancelBatch implements POST /v1/messages/batches/{id}/cancel.
func (h *Handlers) CancelBatch(w http.ResponseWriter, r *http.Request) {
	mb, err := h.batches.Cancel(r.PathValue("id"))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, mb)
}

// DeleteBatch implements DELETE /v1/messages/batches/{id}.
func (h *Handlers) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.batches.Delete(id); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, api.BatchDeletedResponse{ID: id, Type: "message_batch_deleted"})
}

// BatchResults implements GET /v1/messages/batches/{id}/results, streaming
// one JSON result object per line.
func (h *Handlers) BatchResults(w http.ResponseWriter, r *http.Request) {
	it, err := h.batches.Results(r.PathValue("id"))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-jsonl")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for {
		line, ok := it.Next()
		if !ok {
			return
		}
		if err := enc.Encode(line); err != nil {
			h.logger.Warn("client stopped reading batch results", zap.Error(err))
			return
		}
	}
}
