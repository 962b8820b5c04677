// SPDX-License-Identifier: MIT

// Command vidgate runs the media resolution cache and streaming relay.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vidgate/vidgate/internal/api"
	"github.com/vidgate/vidgate/internal/config"
	"github.com/vidgate/vidgate/internal/extract"
	"github.com/vidgate/vidgate/internal/log"
	"github.com/vidgate/vidgate/internal/relay"
	"github.com/vidgate/vidgate/internal/resolver"
	"github.com/vidgate/vidgate/internal/stats"
	"github.com/vidgate/vidgate/internal/store"
)

// countersFlushInterval bounds how much counter history a crash can lose.
const countersFlushInterval = 30 * time.Second

func main() {
	cfg := config.FromEnv()
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "vidgate"})
	logger := log.WithComponent("main")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.StoreBackend, store.Options{
		Path:     cfg.StorePath,
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("store close failed")
		}
	}()

	counters := stats.New()
	if snap, ok, err := st.LoadCounters(rootCtx); err != nil {
		logger.Warn().Err(err).Msg("failed to load persisted counters")
	} else if ok {
		counters.Restore(snap)
		logger.Info().Int64("requests", snap.Requests).Msg("restored counters")
	}

	extractor := extract.NewYtdlp(cfg.YtdlpPath, cfg.ExtractTimeout)
	res := resolver.New(rootCtx, extractor, st, counters, cfg.CacheTTL)
	rl := relay.New(counters)
	server := api.New(cfg, res, rl, counters, st)

	// Periodic counters flush to the durable tier.
	go func() {
		ticker := time.NewTicker(countersFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				err := counters.Persist(func(snap stats.Snapshot) error {
					return st.SaveCounters(context.Background(), snap)
				})
				if err != nil {
					logger.Warn().Err(err).Msg("counters flush failed")
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info().
		Str("listen", cfg.ListenAddr).
		Str("store", cfg.StoreBackend).
		Dur("cache_ttl", cfg.CacheTTL).
		Msg("vidgate started")

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server exited")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	err = counters.Persist(func(snap stats.Snapshot) error {
		return st.SaveCounters(shutdownCtx, snap)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("final counters flush failed")
	}
}
