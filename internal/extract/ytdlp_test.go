// SPDX-License-Identifier: MIT

package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDump = `{
	"title": "Sample Clip",
	"formats": [
		{"url": "https://cdn/low.mp4", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "height": 360, "tbr": 500.5, "filesize": 1048576},
		{"url": "https://cdn/hi.mp4", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "height": 1080, "tbr": 4000, "filesize": null},
		{"url": "https://cdn/audio.m4a", "ext": "m4a", "vcodec": "none", "acodec": "mp4a", "height": null, "tbr": 128}
	]
}`

func newTestClient(run func(ctx context.Context, binary string, args []string) ([]byte, []byte, error)) *Ytdlp {
	c := NewYtdlp("yt-dlp", 5*time.Second)
	c.runCmd = run
	return c
}

func TestResolveFirstStrategySucceeds(t *testing.T) {
	var calls int
	c := newTestClient(func(_ context.Context, _ string, args []string) ([]byte, []byte, error) {
		calls++
		assert.Contains(t, args, "--dump-json")
		assert.Contains(t, args, "--no-playlist")
		assert.Equal(t, "https://example.com/v", args[len(args)-1])
		return []byte(sampleDump), nil, nil
	})

	res, err := c.Resolve(context.Background(), "https://example.com/v")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "Sample Clip", res.Title)
	require.Len(t, res.Descriptors, 3)

	assert.Equal(t, RawDescriptor{
		URL:      "https://cdn/low.mp4",
		Ext:      "mp4",
		Vcodec:   "avc1",
		Acodec:   "mp4a",
		Height:   360,
		Tbr:      500.5,
		Filesize: 1048576,
	}, res.Descriptors[0])

	// Nullable numerics default to zero.
	assert.Equal(t, int64(0), res.Descriptors[1].Filesize)
	assert.Equal(t, 0, res.Descriptors[2].Height)
}

func TestResolveFallsBackToBrowserUA(t *testing.T) {
	var attempts [][]string
	c := newTestClient(func(_ context.Context, _ string, args []string) ([]byte, []byte, error) {
		attempts = append(attempts, args)
		if len(attempts) == 1 {
			return nil, []byte("ERROR: HTTP Error 403: Forbidden\nmore detail"), errors.New("exit status 1")
		}
		return []byte(sampleDump), nil, nil
	})

	res, err := c.Resolve(context.Background(), "https://example.com/v")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.NotContains(t, attempts[0], "--user-agent")
	assert.Contains(t, attempts[1], "--user-agent")
	assert.Equal(t, "Sample Clip", res.Title)
}

func TestResolveAllStrategiesFail(t *testing.T) {
	var calls int
	c := newTestClient(func(_ context.Context, _ string, _ []string) ([]byte, []byte, error) {
		calls++
		return nil, []byte("ERROR: unsupported url"), errors.New("exit status 1")
	})

	_, err := c.Resolve(context.Background(), "https://example.com/v")
	require.ErrorIs(t, err, ErrExtractionFailed)
	assert.Equal(t, len(defaultStrategies()), calls)
	assert.Contains(t, err.Error(), "unsupported url")
}

func TestResolveStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	c := newTestClient(func(_ context.Context, _ string, _ []string) ([]byte, []byte, error) {
		calls++
		cancel()
		return nil, nil, context.Canceled
	})

	_, err := c.Resolve(ctx, "https://example.com/v")
	require.ErrorIs(t, err, ErrExtractionFailed)
	assert.Equal(t, 1, calls, "remaining strategies must not run after cancellation")
}

func TestResolveAttemptTimeout(t *testing.T) {
	c := newTestClient(func(ctx context.Context, _ string, _ []string) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	})
	c.timeout = 10 * time.Millisecond

	start := time.Now()
	_, err := c.Resolve(context.Background(), "https://example.com/v")
	require.ErrorIs(t, err, ErrExtractionFailed)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProjectRejectsGarbage(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", "yt-dlp: command not found"},
		{"empty formats", `{"title": "x", "formats": []}`},
		{"no formats key", `{"title": "x"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := project([]byte(tc.payload))
			require.Error(t, err)
		})
	}
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "ERROR: boom", firstLine([]byte("ERROR: boom\nstack line 2\n")))
	assert.Equal(t, "single", firstLine([]byte("single")))
	assert.Equal(t, "", firstLine(nil))
}

func TestAttemptErrorWraps(t *testing.T) {
	inner := errors.New("exit status 1")
	err := attemptError{strategy: "default", err: inner}
	assert.Equal(t, "strategy default: exit status 1", err.Error())
	require.ErrorIs(t, fmt.Errorf("%w", error(err)), inner)
}
