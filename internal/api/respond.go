package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"aetheron.ai/aetheron-chat/internal/core"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeError maps an error kind to its status code. Server-side failures get
// a generic body; the detail is logged.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, core.ErrInvalidToken), errors.Is(err, core.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		status = http.StatusConflict
	}

	message := "Internal server error"
	var ce *core.Error
	if errors.As(err, &ce) {
		message = ce.Message
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r)),
			zap.Error(err))
	}
	writeErrorMessage(w, status, message)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &core.Error{Kind: core.ErrValidation, Message: "Invalid request body", Cause: err}
	}
	return nil
}

func rawJSON(s string) any {
	if s == "" || !json.Valid([]byte(s)) {
		return nil
	}
	return json.RawMessage(s)
}
