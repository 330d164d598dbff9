// Package api provides HTTP response utilities for ScriptFlow.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/ScriptFlow/internal/chat"
	"github.com/BTreeMap/ScriptFlow/internal/messaging"
	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/script"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors surface before headers are written
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// statusFor maps a session or engine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrUnknownFeature), errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusNotFound
	case script.IsInFlight(err):
		return http.StatusConflict
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong),
		errors.Is(err, messaging.ErrInvalidPhone):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the error envelope for err. Internal errors are not echoed to the client.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	writeJSONResponse(w, status, models.Error(msg))
}
