// SPDX-License-Identifier: MIT

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vidgate/vidgate/internal/log"
)

// Ytdlp invokes the yt-dlp binary as a subprocess. Every attempt runs under
// a bounded timeout; a hung extractor never outlives its deadline.
type Ytdlp struct {
	binary     string
	timeout    time.Duration
	strategies []Strategy
	logger     zerolog.Logger

	// runCmd is swapped out by tests to avoid spawning real subprocesses.
	runCmd func(ctx context.Context, binary string, args []string) ([]byte, []byte, error)
}

// NewYtdlp builds a yt-dlp backed extraction client.
func NewYtdlp(binary string, timeout time.Duration) *Ytdlp {
	return &Ytdlp{
		binary:     binary,
		timeout:    timeout,
		strategies: defaultStrategies(),
		logger:     log.WithComponent("extract"),
		runCmd:     runSubprocess,
	}
}

// baseArgs are shared by every strategy.
var baseArgs = []string{"--dump-json", "--no-playlist", "--no-warnings", "--quiet"}

// Resolve tries each strategy in order until one yields a parseable result.
// Individual attempts are not retried; the strategy chain is the retry policy.
func (y *Ytdlp) Resolve(ctx context.Context, sourceURL string) (Result, error) {
	var lastErr error
	for _, strat := range y.strategies {
		res, err := y.attempt(ctx, strat, sourceURL)
		if err == nil {
			return res, nil
		}
		lastErr = attemptError{strategy: strat.Name, err: err}
		y.logger.Warn().
			Str("url", sourceURL).
			Str("strategy", strat.Name).
			Err(err).
			Msg("extraction attempt failed")

		if ctx.Err() != nil {
			break
		}
	}
	return Result{}, fmt.Errorf("%w: %v", ErrExtractionFailed, lastErr)
}

func (y *Ytdlp) attempt(ctx context.Context, strat Strategy, sourceURL string) (Result, error) {
	actx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	args := make([]string, 0, len(baseArgs)+len(strat.Args)+1)
	args = append(args, baseArgs...)
	args = append(args, strat.Args...)
	args = append(args, sourceURL)

	stdout, stderr, err := y.runCmd(actx, y.binary, args)
	if err != nil {
		if msg := firstLine(stderr); msg != "" {
			return Result{}, fmt.Errorf("%v: %s", err, msg)
		}
		return Result{}, err
	}

	return project(stdout)
}

// wireInfo mirrors the subset of the extractor's JSON dump that we consume.
// Numeric fields are nullable in the wire format.
type wireInfo struct {
	Title   string       `json:"title"`
	Formats []wireFormat `json:"formats"`
}

type wireFormat struct {
	URL      string   `json:"url"`
	Ext      string   `json:"ext"`
	Vcodec   string   `json:"vcodec"`
	Acodec   string   `json:"acodec"`
	Height   *float64 `json:"height"`
	Tbr      *float64 `json:"tbr"`
	Filesize *int64   `json:"filesize"`
}

// project validates the raw dump and maps it into typed descriptors.
func project(payload []byte) (Result, error) {
	var info wireInfo
	if err := json.Unmarshal(bytes.TrimSpace(payload), &info); err != nil {
		return Result{}, fmt.Errorf("decode extractor output: %w", err)
	}
	if len(info.Formats) == 0 {
		return Result{}, fmt.Errorf("extractor returned no formats")
	}

	descriptors := make([]RawDescriptor, 0, len(info.Formats))
	for _, f := range info.Formats {
		d := RawDescriptor{
			URL:    f.URL,
			Ext:    f.Ext,
			Vcodec: f.Vcodec,
			Acodec: f.Acodec,
		}
		if f.Height != nil {
			d.Height = int(*f.Height)
		}
		if f.Tbr != nil {
			d.Tbr = *f.Tbr
		}
		if f.Filesize != nil {
			d.Filesize = *f.Filesize
		}
		descriptors = append(descriptors, d)
	}

	return Result{Title: info.Title, Descriptors: descriptors}, nil
}

func runSubprocess(ctx context.Context, binary string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, stderr.Bytes(), err
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
