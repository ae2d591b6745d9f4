// Command relay drains the transactional outbox to Kafka and serves
// Prometheus metrics.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/curvehq/curve-events/internal/broker"
	"github.com/curvehq/curve-events/internal/config"
	"github.com/curvehq/curve-events/internal/outbox"
	httptransport "github.com/curvehq/curve-events/internal/transport/http"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	store := outbox.NewStore(pool, outbox.StoreConfig{
		MaxRetries: cfg.OutboxMaxRetries,
		SchemaMode: outbox.SchemaMode(strings.ToUpper(cfg.OutboxSchemaMode)),
	}, logger)
	if err := store.InitSchema(ctx); err != nil {
		logger.Fatal("outbox schema init failed", zap.Error(err))
	}

	producer := broker.NewKafkaProducer(cfg.KafkaBrokers, 0)
	defer producer.Close()

	poller := outbox.NewPoller(store, producer, outbox.PollerConfig{
		Topic:                   cfg.Topic,
		PollInterval:            cfg.OutboxPollInterval,
		BatchSize:               cfg.OutboxBatchSize,
		SendTimeout:             cfg.OutboxSendTimeout,
		BreakerOpenDuration:     cfg.OutboxBreakerOpen,
		BreakerFailureThreshold: uint32(cfg.OutboxBreakerTrips),
	}, logger)

	cleaner := outbox.NewCleaner(store, outbox.CleanerConfig{
		Schedule:      cfg.CleanupSchedule,
		RetentionDays: cfg.RetentionDays,
	}, logger)
	if err := cleaner.Start(ctx); err != nil {
		logger.Fatal("invalid cleanup schedule", zap.Error(err))
	}

	server := httptransport.NewAdminServer(httptransport.ServerConfig{
		Address:      cfg.MetricsAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, pool)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		poller.Start(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("relay metrics listening", zap.String("address", cfg.MetricsAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdownCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-gctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
	cleaner.Stop()
	poller.Wait()

	if err := g.Wait(); err != nil {
		logger.Error("relay exited with error", zap.Error(err))
		os.Exit(1)
	}
}
