// Package httpx writes the JSON envelopes shared by every handler.
package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

type ErrorPayload struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	RetryAfterSec int    `json:"retryAfterSec,omitempty"`
	Details       any    `json:"details,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write json response")
	}
}

// WriteError writes {"error":{"code":<status text>,"message":...}}.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, map[string]any{"error": ErrorPayload{Code: http.StatusText(statusCode), Message: message}})
}

// WriteTypedError writes a JSON error with a stable code and optional Retry-After.
func WriteTypedError(w http.ResponseWriter, statusCode int, code, message string, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	WriteJSON(w, statusCode, map[string]any{"error": ErrorPayload{Code: code, Message: message, RetryAfterSec: retryAfter}})
}

// WriteErrorWithDetails writes a JSON error with a stable code and extra details.
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, code, message string, details map[string]any) {
	WriteJSON(w, statusCode, map[string]any{"error": ErrorPayload{Code: code, Message: message, Details: details}})
}
