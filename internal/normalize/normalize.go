// SPDX-License-Identifier: MIT

// Package normalize canonicalizes client-submitted media URLs into stable
// cache keys.
package normalize

import (
	"errors"
	"net/url"
	"strings"
	"unicode"
)

// ErrInvalidInput indicates an empty or syntactically invalid URL.
var ErrInvalidInput = errors.New("invalid source url")

// hostAliases rewrites mirrored hostnames to one canonical host so that
// equivalent links share a cache key.
var hostAliases = map[string]string{
	"x.com":              "twitter.com",
	"www.x.com":          "twitter.com",
	"www.twitter.com":    "twitter.com",
	"mobile.twitter.com": "twitter.com",
	"m.twitter.com":      "twitter.com",
	"youtube.com":        "www.youtube.com",
	"m.youtube.com":      "www.youtube.com",
	"music.youtube.com":  "www.youtube.com",
	"www.vimeo.com":      "vimeo.com",
	"m.vimeo.com":        "vimeo.com",
}

// Source normalizes a raw URL into its canonical cache-key form:
// whitespace trimmed, https scheme, lowercased and de-aliased host, query
// string and fragment dropped. The result is idempotent under Source.
func Source(raw string) (string, error) {
	trimmed := strings.TrimFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) ||
			r == '\u200b' || // zero width space
			r == '\ufeff' // BOM
	})
	if trimmed == "" {
		return "", ErrInvalidInput
	}

	// Scheme-less input like "twitter.com/a/status/1" parses with an empty
	// host; treat it as https.
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", ErrInvalidInput
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidInput
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", ErrInvalidInput
	}
	if canonical, ok := hostAliases[host]; ok {
		host = canonical
	}

	path := strings.TrimSuffix(u.EscapedPath(), "/")

	return "https://" + host + path, nil
}
