// Command harvester ingests public asset declarations from the national
// registry into Postgres, with a Redis-backed dedup cache and per-worker
// checkpointing.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/openveris/nazk-harvester/internal/storage"
	"github.com/openveris/nazk-harvester/pkg/config"
	"github.com/openveris/nazk-harvester/pkg/dedup"
	"github.com/openveris/nazk-harvester/pkg/logging"
	"github.com/openveris/nazk-harvester/pkg/nazk"
	"github.com/openveris/nazk-harvester/pkg/partition"
	"github.com/openveris/nazk-harvester/pkg/worker"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("Harvester failed")
	}
	logger.Info().Msg("Harvester finished")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.NewLogger("main")

	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.Migrate(db, cfg.MigrationsPath); err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis at %s: %w", cfg.RedisAddr, err)
	}

	client, err := nazk.New(nazk.Config{
		BaseURL:           cfg.APIBaseURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Timeout:           cfg.RequestTimeout,
		Retry:             nazk.DefaultRetryConfig(),
	})
	if err != nil {
		return err
	}

	writer := storage.NewWriter(db)
	checkpoints := storage.NewCheckpointStore(db)
	cache := dedup.New(redisClient)

	// Cold-start preload: the cache answers only for documents the store
	// already holds, so a flushed Redis never causes re-ingestion churn.
	ids, err := writer.ExistingDocumentIDs(ctx)
	if err != nil {
		return err
	}
	if err := cache.Preload(ctx, ids); err != nil {
		return err
	}
	logger.Info().Int("documents", len(ids)).Msg("Dedup cache preloaded")

	ranges, err := partition.Split(cfg.PageStart, cfg.PageEnd, cfg.Workers)
	if err != nil {
		return err
	}

	metricsServer := startMetricsServer(cfg.MetricsAddr)
	defer shutdownMetricsServer(metricsServer)

	filters := nazk.SearchFilters{
		Query:           cfg.Query,
		DeclarationYear: cfg.DeclarationYear,
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		r := r
		workerID := fmt.Sprintf("worker-%d", i)
		w := worker.New(worker.Config{
			WorkerID:         workerID,
			Filters:          filters,
			FetchConcurrency: cfg.FetchConcurrency,
		}, client, cache, writer, checkpoints)

		g.Go(func() error {
			logger.Info().
				Str("worker_id", workerID).
				Int("page_start", r.First).
				Int("page_end", r.Last).
				Msg("Worker starting")
			if err := w.Run(gctx, r); err != nil {
				return fmt.Errorf("%s: %w", workerID, err)
			}
			return nil
		})
	}

	return g.Wait()
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger := logging.NewLogger("metrics")
			logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	return server
}

func shutdownMetricsServer(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}
