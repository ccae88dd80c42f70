package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"theaterd/internal/chat"
	"theaterd/internal/controller"
	"theaterd/internal/theater"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error" example:"generation already in progress"`
	Code  int    `json:"code" example:"429"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case controller.IsBusy(err):
		return http.StatusTooManyRequests
	case errors.Is(err, theater.ErrDisabled):
		return http.StatusConflict
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrUserMessage):
		return http.StatusUnprocessableEntity
	case controller.IsGenerationFailed(err):
		return http.StatusBadGateway
	case errors.As(err, &he):
		return he.StatusCode()
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Err(err).Msg("encode response")
	}
}
