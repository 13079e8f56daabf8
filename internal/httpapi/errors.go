// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/labtools/asyncsession/internal/apierr"
	"github.com/labtools/asyncsession/internal/logging"
)

// errorResponse is the JSON body returned alongside a non-2xx status.
type errorResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// statusFor maps the apierr sentinel taxonomy to an HTTP status, the one
// place this mapping is made (SPEC_FULL A.2).
func statusFor(err error) int {
	switch {
	case errors.Is(err, apierr.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, apierr.ErrSchema):
		return http.StatusConflict
	case errors.Is(err, apierr.ErrIO):
		return http.StatusBadGateway
	case errors.Is(err, apierr.ErrCameraTimeout), errors.Is(err, apierr.ErrTrigger),
		errors.Is(err, apierr.ErrEncoding), errors.Is(err, apierr.ErrDevice):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error().Err(err).Msg("httpapi: failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("httpapi: failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Error().Err(err).Msg("httpapi: request failed")
	}
	respondJSON(w, status, errorResponse{Error: err.Error(), Timestamp: time.Now().UTC().Format(time.RFC3339)})
}
