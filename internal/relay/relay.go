// SPDX-License-Identifier: MIT

// Package relay streams media bytes from a resolved upstream URL to the
// client without buffering the payload in memory.
package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vidgate/vidgate/internal/log"
	"github.com/vidgate/vidgate/internal/metrics"
	"github.com/vidgate/vidgate/internal/stats"
)

// ErrUpstreamUnavailable indicates the resolved media URL could not be
// reached or refused the request before any bytes were sent to the client.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// copyBufferSize bounds the in-flight chunk between upstream and client.
// Backpressure from a slow client propagates to the upstream read.
const copyBufferSize = 32 * 1024

// defaultContentType is used when upstream omits one.
const defaultContentType = "video/mp4"

// Request describes one relay call. Ephemeral; lives for the duration of a
// single streamed response.
type Request struct {
	UpstreamURL  string
	RangeHeader  string
	AsAttachment bool
	Filename     string
}

// Relay forwards byte-range requests to upstream media URLs.
type Relay struct {
	client   *http.Client
	counters *stats.Counters
	logger   zerolog.Logger
}

// New builds a Relay. The client carries dial and response-header timeouts
// but no overall deadline: large files legitimately take a long time, and
// the request context handles client disconnects.
func New(counters *stats.Counters) *Relay {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
	}
	return &Relay{
		client:   &http.Client{Transport: transport},
		counters: counters,
		logger:   log.WithComponent("relay"),
	}
}

// Stream opens the upstream URL and copies its body to w chunk by chunk.
// An inbound Range header is forwarded verbatim, and a 206 + Content-Range
// from upstream is propagated unchanged so players can seek. The inbound
// request context cancels the upstream fetch when the client goes away.
//
// Returns ErrUpstreamUnavailable only if nothing was written to the client;
// a failure mid-stream simply terminates the response.
func (rl *Relay) Stream(w http.ResponseWriter, r *http.Request, req Request) error {
	ranged := req.RangeHeader != ""

	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, req.UpstreamURL, nil)
	if err != nil {
		metrics.IncRelay(false, ranged)
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if ranged {
		upReq.Header.Set("Range", req.RangeHeader)
	}

	resp, err := rl.client.Do(upReq)
	if err != nil {
		metrics.IncRelay(false, ranged)
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		metrics.IncRelay(false, ranged)
		return fmt.Errorf("%w: upstream status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	w.Header().Set("Content-Type", contentType)
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		w.Header().Set("Content-Range", cr)
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Disposition", contentDisposition(req.AsAttachment, req.Filename))
	w.WriteHeader(resp.StatusCode)

	metrics.IncActiveRelays()
	defer metrics.DecActiveRelays()

	buf := make([]byte, copyBufferSize)
	written, copyErr := io.CopyBuffer(w, resp.Body, buf)
	metrics.AddRelayBytes(written)

	if copyErr != nil {
		// Headers are committed; partial delivery is an expected streaming
		// failure mode, the connection just terminates.
		metrics.IncRelay(false, ranged)
		rl.logger.Debug().
			Err(copyErr).
			Int64("bytes", written).
			Str("upstream", req.UpstreamURL).
			Msg("relay terminated mid-stream")
		return nil
	}

	rl.counters.IncItemsServed()
	rl.counters.AddBytesServed(written)
	metrics.IncRelay(true, ranged)
	rl.logger.Debug().
		Int64("bytes", written).
		Int("status", resp.StatusCode).
		Bool("ranged", ranged).
		Msg("relay complete")

	return nil
}

func contentDisposition(attachment bool, filename string) string {
	kind := "inline"
	if attachment {
		kind = "attachment"
	}
	if filename == "" {
		filename = "video.mp4"
	}
	return fmt.Sprintf("%s; filename=%q", kind, filename)
}
