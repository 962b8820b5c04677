// SPDX-License-Identifier: MIT

// Package extract adapts the external yt-dlp media extractor behind a typed
// boundary. Nothing loosely-typed leaves this package: extractor output is
// projected into RawDescriptor immediately after the call.
package extract

import (
	"context"
	"errors"
	"fmt"
)

// ErrExtractionFailed indicates the external extractor could not resolve the
// source with any configured strategy.
var ErrExtractionFailed = errors.New("extraction failed")

// RawDescriptor is one candidate media format as reported by the extractor.
type RawDescriptor struct {
	URL      string  `json:"url"`
	Ext      string  `json:"ext"`
	Vcodec   string  `json:"vcodec"`
	Acodec   string  `json:"acodec"`
	Height   int     `json:"height"`
	Tbr      float64 `json:"tbr"`
	Filesize int64   `json:"filesize"`
}

// Result is the typed projection of one successful extraction.
type Result struct {
	Title       string
	Descriptors []RawDescriptor
}

// Client resolves a source URL into raw candidate descriptors.
// Implementations may be slow (seconds) and must honor ctx cancellation.
type Client interface {
	Resolve(ctx context.Context, sourceURL string) (Result, error)
}

// Strategy names one extractor option set. Strategies are tried in order by
// the ytdlp client until one succeeds.
type Strategy struct {
	Name string
	Args []string
}

// chromeUA mirrors the desktop browser identity used for upstream fetches;
// several extractor sites serve different markup to unknown agents.
const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36"

// defaultStrategies is the ordered fallback chain: a plain run first, then a
// browser-identity run for sites that gate on user agent.
func defaultStrategies() []Strategy {
	return []Strategy{
		{Name: "default", Args: nil},
		{Name: "browser-ua", Args: []string{"--user-agent", chromeUA}},
	}
}

type attemptError struct {
	strategy string
	err      error
}

func (e attemptError) Error() string {
	return fmt.Sprintf("strategy %s: %v", e.strategy, e.err)
}

func (e attemptError) Unwrap() error { return e.err }
