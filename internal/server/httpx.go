package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// newRequestID mints an opaque id for error correlation.
func newRequestID() string { return "req_" + uuid.NewString() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeError emits the structured error shape. Retryable tells the
// caller "your action had no effect, safe to retry"; non-retryable
// errors need the caller to change something first.
func writeError(w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeJSON(w, status, map[string]any{
		"request_id": newRequestID(),
		"error": map[string]any{
			"code":      code,
			"message":   message,
			"retryable": retryable,
		},
	})
}
