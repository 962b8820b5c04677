// SPDX-License-Identifier: MIT

// Package variant turns raw extractor descriptors into a ranked,
// de-duplicated list of playable renditions.
package variant

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vidgate/vidgate/internal/extract"
)

// ErrNoPlayableVariant indicates extraction succeeded but nothing met the
// admission policy.
var ErrNoPlayableVariant = errors.New("no playable variant")

// MediaVariant is one selectable, playable rendition of a resolved source.
type MediaVariant struct {
	URL       string  `json:"url"`
	Container string  `json:"container"`
	Quality   string  `json:"quality"`
	Height    int     `json:"height"`
	Bitrate   float64 `json:"bitrate"`
	SizeBytes int64   `json:"size,omitempty"`
}

// Buckets is the fixed ascending set of canonical resolution tiers. Raw
// heights collapse to the nearest bucket on a multiplicative scale, ties
// toward the lower one.
var Buckets = []int{480, 720, 1080, 2160}

// allowedContainers carry synchronized audio+video in a single broadly
// playable file.
var allowedContainers = map[string]bool{
	"mp4": true,
	"m4v": true,
	"mov": true,
}

// Select filters, buckets, de-duplicates and ranks raw descriptors.
//
// Admission requires a combined audio+video stream in an allowed container
// with a resolvable URL; malformed descriptors are skipped, never fatal.
// At most one variant survives per bucket (first encountered in input order),
// and the result is sorted by bucket descending, then bitrate descending,
// then encounter order. The same input always yields the same output.
func Select(descriptors []extract.RawDescriptor) ([]MediaVariant, error) {
	type ranked struct {
		v     MediaVariant
		order int
	}

	seen := make(map[int]bool, len(Buckets))
	kept := make([]ranked, 0, len(Buckets))

	for i, d := range descriptors {
		if !admitted(d) {
			continue
		}
		bucket := bucketFor(d.Height)
		if seen[bucket] {
			continue
		}
		seen[bucket] = true
		kept = append(kept, ranked{
			v: MediaVariant{
				URL:       d.URL,
				Container: d.Ext,
				Quality:   fmt.Sprintf("%dp", bucket),
				Height:    bucket,
				Bitrate:   d.Tbr,
				SizeBytes: d.Filesize,
			},
			order: i,
		})
	}

	if len(kept) == 0 {
		return nil, ErrNoPlayableVariant
	}

	sort.SliceStable(kept, func(a, b int) bool {
		if kept[a].v.Height != kept[b].v.Height {
			return kept[a].v.Height > kept[b].v.Height
		}
		if kept[a].v.Bitrate != kept[b].v.Bitrate {
			return kept[a].v.Bitrate > kept[b].v.Bitrate
		}
		return kept[a].order < kept[b].order
	})

	out := make([]MediaVariant, len(kept))
	for i, r := range kept {
		out[i] = r.v
	}
	return out, nil
}

func admitted(d extract.RawDescriptor) bool {
	if d.URL == "" || d.Height <= 0 {
		return false
	}
	if d.Vcodec == "" || d.Vcodec == "none" {
		return false
	}
	if d.Acodec == "" || d.Acodec == "none" {
		return false
	}
	return allowedContainers[d.Ext]
}

// bucketFor maps a pixel height to the nearest allowed bucket. Resolutions
// scale multiplicatively, so nearest is judged against the geometric midpoint
// of adjacent tiers (1600 belongs to 2160, not 1080); a height exactly on the
// midpoint stays in the lower bucket.
func bucketFor(height int) int {
	best := Buckets[0]
	for _, b := range Buckets[1:] {
		if int64(height)*int64(height) > int64(best)*int64(b) {
			best = b
		}
	}
	return best
}
