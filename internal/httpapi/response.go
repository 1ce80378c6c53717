// Package httpapi serves the REST surface: room management, queue peek,
// leaderboards and health.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/DoyleJ11/memory-match-backend/internal/apperr"
)

var errBadBody = apperr.New(apperr.KindValidation, "invalid request body")

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// fail maps err to its status. Internal errors are logged and their detail
// withheld.
func fail(w http.ResponseWriter, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		log.Error("request failed", zap.Error(err))
	}
	msg := apperr.Message(err)
	writeJSON(w, kind.HTTPStatus(), envelope{Success: false, Message: msg, Error: msg})
}

// decode reads an optional JSON body. An empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.Wrap(apperr.KindValidation, errBadBody.Message, err)
}
