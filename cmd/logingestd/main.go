package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rejavarti/logging-server-sub008/internal/config"
	"github.com/rejavarti/logging-server-sub008/internal/metrics"
	"github.com/rejavarti/logging-server-sub008/internal/notify"
	"github.com/rejavarti/logging-server-sub008/internal/observability"
	"github.com/rejavarti/logging-server-sub008/internal/offset"
	"github.com/rejavarti/logging-server-sub008/internal/storage"
	"github.com/rejavarti/logging-server-sub008/internal/watcher"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("version", version).
		Msg("Starting log ingestion service")

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracer(observability.TracerConfig{
			ServiceName:    "logingestd",
			ServiceVersion: version,
			Endpoint:       cfg.TracingEndpoint,
			Protocol:       cfg.TracingProtocol,
			Enabled:        true,
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize tracer")
		} else {
			defer shutdown(context.Background())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agg := metrics.New(metrics.Config{
		SourceCap:         cfg.SourceCap,
		DataFile:          cfg.DataFile,
		DiskCapacityBytes: cfg.DiskCapacityBytes,
	})
	defer agg.Shutdown()

	// No backend, no service: initialization failure here is fatal.
	store, err := storage.Open(ctx, storage.Config{
		Path:           cfg.DataFile,
		Engine:         cfg.Engine,
		Fallback:       cfg.Fallback,
		CacheKiB:       cfg.CacheKiB,
		MemoryLimitMiB: cfg.MemoryLimitMiB,
	}, agg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage backend")
	}
	defer store.Close(context.Background())

	bolt, err := offset.NewBoltStore(cfg.OffsetDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open offset store")
	}
	var offsets offset.Store = bolt
	if cfg.OffsetMirror {
		offsets = offset.NewMirrorStore(bolt, store)
	}
	defer offsets.Close()

	rules, err := watcher.LoadRules(cfg.PatternsFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.PatternsFile).Msg("Failed to load pattern rules")
	}
	parser, err := watcher.NewParser(rules)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to compile pattern rules")
	}

	recorder := notify.NewRecorder(store)

	w := watcher.New(watcher.Config{
		Dir:           cfg.WatchDir,
		Pattern:       cfg.WatchPattern,
		Enabled:       cfg.WatchEnabled,
		Mode:          cfg.WatchMode,
		TailOnlyNew:   cfg.TailOnlyNew,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval(),
		PollInterval:  cfg.PollInterval(),
		BufferLimit:   cfg.BufferLimit,
	}, store, offsets, recorder, agg, parser)

	if ok := w.Initialize(ctx); ok {
		defer w.Stop()
	}

	go retentionLoop(ctx, store, cfg.LogRetentionDays)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Info().
		Str("backend", store.Backend()).
		Msg("Log ingestion service started")

	<-sigChan
	log.Info().Msg("Received shutdown signal")

	cancel()
	log.Info().Msg("Shutting down gracefully...")
}

// retentionLoop purges rows older than the configured retention once an
// hour.
func retentionLoop(ctx context.Context, store *storage.Store, retentionDays int) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	age := time.Duration(retentionDays) * 24 * time.Hour
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.PurgeOlderThan(ctx, age)
			if err != nil {
				log.Warn().Err(err).Msg("Retention purge failed")
				continue
			}
			if removed > 0 {
				log.Info().Int64("removed", removed).Msg("Retention purge complete")
			}
		}
	}
}
