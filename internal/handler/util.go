package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/XiaoXiong127/L1-Project-2/internal/chat"
	"github.com/XiaoXiong127/L1-Project-2/internal/session"
	"github.com/XiaoXiong127/L1-Project-2/internal/store"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// errorStatus maps domain errors to a status code and a message safe to
// show to users. Anything unrecognised is reported as an internal error.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "username and password are required"
	case errors.Is(err, store.ErrUsernameTaken):
		return http.StatusConflict, "username already exists"
	case errors.Is(err, store.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid username or password"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "conversation not found"
	case errors.Is(err, session.ErrTurnInProgress):
		return http.StatusConflict, session.ErrTurnInProgress.Error()
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, "content cannot be empty"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
