package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/api"
)

// WriteJSON sends v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto the Anthropic error envelope and sends it.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, envelope := api.ErrorResponseFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	WriteJSON(w, status, envelope)
}
