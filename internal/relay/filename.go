// SPDX-License-Identifier: MIT

package relay

import (
	"net/url"
	"path"
	"strings"
)

// Filename derives a client-facing download name from an upstream URL.
// Directory components and characters that are problematic on common
// filesystems are stripped; a media extension is guaranteed.
func Filename(upstreamURL string) string {
	name := ""
	if u, err := url.Parse(upstreamURL); err == nil {
		name = path.Base(u.Path)
	}
	name = sanitizeFilename(name)
	if name == "" {
		return "video.mp4"
	}
	if path.Ext(name) == "" {
		name += ".mp4"
	}
	return name
}

var filenameReplacer = strings.NewReplacer(
	"..", "_",
	"/", "_",
	"\\", "_",
	"\x00", "",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
)

func sanitizeFilename(name string) string {
	name = filenameReplacer.Replace(strings.TrimSpace(name))
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}
