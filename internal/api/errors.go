// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vidgate/vidgate/internal/extract"
	"github.com/vidgate/vidgate/internal/log"
	"github.com/vidgate/vidgate/internal/normalize"
	"github.com/vidgate/vidgate/internal/relay"
	"github.com/vidgate/vidgate/internal/variant"
)

// errorResponse is the stable error payload shape. JSON endpoints never
// return a bare status code with an empty body.
type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		l := log.Base()
		l.Error().Err(err).Int("status", code).
			Msg("failed to encode JSON response")
	}
}

// respondError writes the structured failure shape.
func respondError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Success: false, Message: message})
}

// respondResolutionError maps resolution failures to status codes without
// leaking internals to the client.
func respondResolutionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, normalize.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid or missing url")
	case errors.Is(err, variant.ErrNoPlayableVariant):
		respondError(w, http.StatusNotFound, "no playable video found")
	case errors.Is(err, extract.ErrExtractionFailed):
		log.FromContext(r.Context()).Warn().Err(err).Msg("extraction failed")
		respondError(w, http.StatusInternalServerError, "could not resolve video")
	case errors.Is(err, relay.ErrUpstreamUnavailable):
		respondError(w, http.StatusBadGateway, "upstream unavailable")
	default:
		log.FromContext(r.Context()).Error().Err(err).Msg("resolution failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
