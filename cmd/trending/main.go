// Trending is the process entrypoint wiring ingest, aggregation, the
// Top-K engine, change broadcast, and the HTTP read API together.
// Grounded on mape's cmd/server/main.go graceful-shutdown shape
// (signal.Notify on SIGINT/SIGTERM, a cancellable context shared by every
// background goroutine, a bounded shutdown timeout) generalized from a
// single control-loop-plus-HTTP-server process to this system's
// ingest/engine/broadcast/API set of goroutines.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nrgchamp/trending/internal/aggregate"
	"github.com/nrgchamp/trending/internal/api"
	"github.com/nrgchamp/trending/internal/broadcast"
	"github.com/nrgchamp/trending/internal/bucketstore"
	"github.com/nrgchamp/trending/internal/clock"
	"github.com/nrgchamp/trending/internal/config"
	"github.com/nrgchamp/trending/internal/engine"
	"github.com/nrgchamp/trending/internal/idempotency"
	"github.com/nrgchamp/trending/internal/ingest"
	"github.com/nrgchamp/trending/internal/logging"
	"github.com/nrgchamp/trending/internal/metrics"
	"github.com/nrgchamp/trending/internal/model"
	"github.com/nrgchamp/trending/internal/snapshotstore"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config_load_failed", slog.Any("err", err))
		os.Exit(1)
	}

	log, closeLog, err := logging.New(cfg.DataDir, cfg.LogLevel)
	if err != nil {
		slog.Error("logger_init_failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeLog()

	log.Info("trending engine starting",
		slog.String("listen", cfg.ListenAddress),
		slog.Int("windows", len(cfg.Windows)),
	)

	sysClock := clock.NewSystem()

	minBucketWidth := cfg.Windows[0].BucketWidth
	for _, w := range cfg.Windows {
		if w.BucketWidth < minBucketWidth {
			minBucketWidth = w.BucketWidth
		}
	}
	store := bucketstore.NewMemStore(minBucketWidth)

	snapStore, err := snapshotstore.Open(cfg.DataDir+"/snapshots", cfg.SnapshotRetentionGenerations)
	if err != nil {
		log.Error("snapshotstore_open_failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer snapStore.Close()

	guard, err := idempotency.New(idempotency.Config{
		TTL:     cfg.IdempotencyTTL,
		MaxKeys: cfg.IdempotencyMaxKeys,
	})
	if err != nil {
		log.Error("idempotency_guard_init_failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer guard.Close()

	m := metrics.New()
	mcast := broadcast.New(cfg.MailboxSize, log, m)

	windows := make([]model.WindowDef, 0, len(cfg.Windows))
	for _, w := range cfg.Windows {
		windows = append(windows, model.WindowDef{
			Name:        w.Name,
			Duration:    w.Duration,
			BucketWidth: w.BucketWidth,
			NumBuckets:  int(w.Duration / w.BucketWidth),
		})
	}
	categories := make([]model.Category, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		categories = append(categories, model.Category(c))
	}

	agg := aggregate.NewWindowAggregator(store, sysClock, aggregate.SumScorer)

	persistEveryN := uint64(cfg.SnapshotPersistEveryNTicks)
	if persistEveryN == 0 {
		persistEveryN = 1
	}
	eng, err := engine.New(engine.Config{
		Windows:    windows,
		Categories: categories,
		Capacity:   cfg.Capacity,
		Aggregator: agg,
		Store:      store,
		Clock:      sysClock,
		Logger:     log,
		Metrics:    m,
		Publish: func(snap model.Snapshot) {
			mcast.Publish(snap)
			if snap.Generation%persistEveryN != 0 {
				return
			}
			if err := snapStore.Save(snap); err != nil {
				log.Warn("snapshot_persist_failed", slog.String("window", snap.Window), slog.Any("err", err))
			}
		},
	})
	if err != nil {
		log.Error("engine_init_failed", slog.Any("err", err))
		os.Exit(1)
	}

	pipeline, err := ingest.New(ingest.Config{
		Store:        store,
		Guard:        guard,
		Clock:        sysClock,
		BucketWidth:  minBucketWidth,
		QueueSize:    cfg.IngestQueueSize,
		Workers:      cfg.IngestWorkers,
		Logger:       log,
		Metrics:      m,
		Categories:   categories,
		MaxEventSkew: cfg.MaxEventSkew,
		SmallFuture:  cfg.SmallFuture,
		OnIngested: func(e model.Event) {
			m.EventsIngested.WithLabelValues(string(e.Category)).Inc()
		},
	})
	if err != nil {
		log.Error("ingest_pipeline_init_failed", slog.Any("err", err))
		os.Exit(1)
	}

	kafkaSink, err := ingest.NewKafkaSink(ingest.KafkaSinkConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.KafkaGroupID,
	}, pipeline, log)
	if err != nil {
		log.Error("kafka_sink_init_failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer kafkaSink.Close()

	health := api.NewHealthState()
	router := api.NewRouter(api.Config{
		Engine:      eng,
		Broadcaster: mcast,
		Metrics:     m,
		Health:      health,
		Logger:      log,
	})
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pipeline.Run(ctx, cfg.IngestWorkers)
	go func() {
		if err := kafkaSink.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("kafka_sink_run_failed", slog.Any("err", err))
		}
	}()
	go func() {
		if err := eng.Run(ctx, cfg.RefreshInterval); err != nil {
			log.Error("engine_run_failed", slog.Any("err", err))
		}
	}()
	go func() {
		log.Info("http_server_listening", slog.String("addr", cfg.ListenAddress))
		health.SetReady(true)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_server_error", slog.Any("err", err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown_requested")
	health.SetReady(false)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http_server_shutdown_error", slog.Any("err", err))
	}
	log.Info("shutdown_complete")
}
