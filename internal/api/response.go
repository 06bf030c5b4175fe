package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/skyguard/geofence/core"
	"github.com/skyguard/geofence/internal/logging"
)

// maxBodyBytes caps request bodies accepted by the JSON handlers.
const maxBodyBytes = 4 << 20

// errorResponse is the body of every non-2xx JSON reply.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: logging.RequestIDFromContext(r.Context()),
	})
}

// writeErr maps err onto an HTTP status and writes it.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusFromError(err), err.Error())
}

// statusFromError maps engine errors onto HTTP status codes.
func statusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads one JSON document from the request body into dst.
// Malformed bodies are reported as validation errors.
func decodeJSON(r *http.Request, dst any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", core.ErrValidation, err)
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, fmt.Errorf("%w: empty body", core.ErrValidation)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", core.ErrValidation, maxBodyBytes)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", core.ErrValidation)
	}
	return body, nil
}
