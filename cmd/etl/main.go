package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/couchcryptid/inmet-climate-etl/internal/adapter/bronze"
	httpadapter "github.com/couchcryptid/inmet-climate-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/inmet-climate-etl/internal/adapter/kafka"
	"github.com/couchcryptid/inmet-climate-etl/internal/adapter/lake"
	redisadapter "github.com/couchcryptid/inmet-climate-etl/internal/adapter/redis"
	"github.com/couchcryptid/inmet-climate-etl/internal/config"
	"github.com/couchcryptid/inmet-climate-etl/internal/domain"
	"github.com/couchcryptid/inmet-climate-etl/internal/observability"
	"github.com/couchcryptid/inmet-climate-etl/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/goccy/go-json"
)

// checkpointCacheSize bounds the in-process cache in front of Redis.
const checkpointCacheSize = 1024

// readiness is ready when every checker is.
type readiness []sharedobs.ReadinessChecker

func (rs readiness) CheckReadiness(ctx context.Context) error {
	for _, r := range rs {
		if err := r.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	silver := domain.NewSilverTransformer(
		domain.NewSchemaNormalizer(domain.DefaultSchemaVersions()),
		domain.NewTypeCoercer(cfg.SentinelValues),
		cfg.SourceLocation,
		cfg.TargetLocation,
		logger,
	)
	gold := domain.NewAggregator(cfg.TargetLocation)

	p := pipeline.New(
		bronze.NewReader(cfg.BronzeDir, cfg.BronzeFileFilter, logger),
		lake.New(cfg.SilverDir, cfg.GoldDir, cfg.TargetLocation, logger),
		silver,
		gold,
		logger,
		metrics,
		pipeline.Options{
			Stages:        cfg.Stages,
			Workers:       cfg.PartitionWorkers,
			SkipUnchanged: cfg.SkipUnchanged,
		},
	)
	checks := readiness{p}

	// Publication notices (feature-flagged via KAFKA_ENABLED).
	if cfg.KafkaEnabled {
		notifier := kafkaadapter.NewNotifier(cfg, logger)
		defer func() {
			if err := notifier.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		p.WithNotifier(notifier)
		logger.Info("publication notices enabled", "topic", cfg.KafkaNotifyTopic)
	} else {
		logger.Info("publication notices disabled")
	}

	// Checkpoints persist in Redis; config rejects SKIP_UNCHANGED without it.
	if cfg.RedisURL != "" {
		client, err := redisadapter.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			return 1
		}
		defer client.Close()
		store := redisadapter.NewStore(client)
		p.WithCheckpoints(redisadapter.NewCached(store, checkpointCacheSize))
		checks = append(checks, store)
		logger.Info("redis checkpoints enabled", "skip_unchanged", cfg.SkipUnchanged)
	} else {
		logger.Info("checkpoints disabled, every partition is rebuilt")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, checks, p, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		logger.Info("shutdown complete")
	}()

	report, runErr := p.Run(ctx, cfg.Years)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Error("failed to write run report", "error", err)
		return 1
	}

	code := 0
	if runErr != nil {
		logger.Error("run completed with failures", "failed", len(report.Failed()), "error", runErr)
		code = 1
	}

	if cfg.ServeAfterRun && ctx.Err() == nil {
		logger.Info("serving run report until signaled", "addr", cfg.HTTPAddr)
		<-ctx.Done()
	}
	return code
}
