package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/lp-rewards-agent/internal/claims"
	"github.com/yourorg/lp-rewards-agent/internal/storage"
	"github.com/yourorg/lp-rewards-agent/internal/validation"
)

// Helper functions for JSON responses and error mapping

// errorBody is the shape of every error response
type errorBody struct {
	Error   string `json:"error"`
	ClaimID string `json:"claimId,omitempty"`
}

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("Failed to write response")
	}
}

// writeError maps err to a status code and writes {error}
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	body := errorBody{Error: err.Error()}

	var perr *claims.PostBurnError
	if errors.As(err, &perr) {
		body.ClaimID = perr.ClaimID
	}

	if status >= http.StatusInternalServerError {
		logrus.WithError(err).Error("Request failed")
	} else {
		logrus.WithError(err).Debug("Request rejected")
	}
	writeJSON(w, status, body)
}

// statusForError maps the error taxonomy onto HTTP status codes
func statusForError(err error) int {
	var (
		verr *claims.ValidationError
		perr *claims.PostBurnError
		eerr *claims.ExternalCallError
	)
	switch {
	case errors.As(err, &verr),
		errors.Is(err, validation.ErrInvalidAddress),
		errors.Is(err, validation.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, claims.ErrNotRetryable):
		return http.StatusConflict
	case errors.Is(err, claims.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &perr):
		return http.StatusInternalServerError
	case errors.As(err, &eerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
