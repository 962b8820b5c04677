// SPDX-License-Identifier: MIT

package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/vidgate/vidgate/internal/log"
	"github.com/vidgate/vidgate/internal/relay"
	"github.com/vidgate/vidgate/internal/variant"
)

// downloadRequest is the POST /download body.
type downloadRequest struct {
	URL string `json:"url"`
}

// downloadResponse is the happy-path payload: the resolved title and the
// ranked variant list, each pointing at the streaming relay.
type downloadResponse struct {
	Success bool                   `json:"success"`
	Title   string                 `json:"title"`
	Videos  []variant.MediaVariant `json:"videos"`
}

// handleDownload resolves a source URL into playable variants.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		respondError(w, http.StatusBadRequest, "invalid or missing url")
		return
	}

	res, err := s.resolver.GetOrResolve(r.Context(), req.URL)
	if err != nil {
		respondResolutionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, downloadResponse{
		Success: true,
		Title:   res.Title,
		Videos:  res.Variants,
	})
}

// handleProxy streams media bytes from a resolved upstream URL, honoring an
// inbound Range header.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		respondError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		respondError(w, http.StatusBadRequest, "invalid url parameter")
		return
	}
	// Only hosts that appeared in a resolved variant may be relayed;
	// anything else would make the proxy an open relay.
	if !s.resolver.AllowedUpstream(u.Hostname()) {
		log.FromContext(r.Context()).Warn().
			Str("host", u.Hostname()).
			Msg("proxy request for unresolved upstream host")
		respondError(w, http.StatusBadRequest, "unresolved upstream host")
		return
	}

	download := r.URL.Query().Get("download")
	req := relay.Request{
		UpstreamURL:  rawURL,
		RangeHeader:  r.Header.Get("Range"),
		AsAttachment: download == "1" || download == "true",
		Filename:     relay.Filename(rawURL),
	}

	if err := s.relay.Stream(w, r, req); err != nil {
		// Nothing was written yet; the client still gets a structured error.
		respondResolutionError(w, r, err)
	}
}

// handleStats returns the public counters snapshot.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.counters.Snapshot())
}

// resetRequest is the administrative reset body.
type resetRequest struct {
	Password string `json:"password"`
}

// handleReset zeroes all counters and purges persisted state. Gated by the
// shared admin secret; a mismatch performs no mutation.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !authorizeSecret(req.Password, s.cfg.AdminSecret) {
		log.FromContext(r.Context()).Warn().
			Str("remote_addr", r.RemoteAddr).
			Msg("admin reset rejected")
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	s.counters.Reset()
	s.resolver.Clear()
	if err := s.store.Purge(r.Context()); err != nil {
		log.FromContext(r.Context()).Error().Err(err).Msg("failed to purge persisted state")
		respondError(w, http.StatusInternalServerError, "reset incomplete")
		return
	}

	log.FromContext(r.Context()).Info().Msg("counters reset")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "counters reset"})
}

// handleHealthz is the liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorizeSecret compares the provided secret in constant time. An empty
// configured secret disables the endpoint (nothing can match).
func authorizeSecret(provided, expected string) bool {
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
