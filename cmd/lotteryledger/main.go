package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"LotteryLedger/internal/config"
	"LotteryLedger/internal/core"
	"LotteryLedger/internal/ingestion"
	"LotteryLedger/internal/ledger"
	"LotteryLedger/internal/observability"
	"LotteryLedger/internal/persistence"
	"LotteryLedger/internal/projection"
	"LotteryLedger/internal/query"
	"LotteryLedger/internal/server"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file (default config/lotteryledger.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerWithLevel("lotteryledger", observability.ParseLogLevel(cfg.LogLevel))
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("lotteryledger stopped")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().Msg("LotteryLedger starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	applied, err := persistence.NewMigrator(db, cfg.MigrationsDir, logger).Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Core ---
	// Persist channel blocks (backpressure); projection channel drops.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	faucet, err := cfg.FaucetUnits()
	if err != nil {
		return err
	}
	var clock core.Clock = core.SystemClock{}
	if cfg.Clock == config.ClockManual {
		clock = core.NewManualClock(cfg.ClockStart)
	}
	coreLogger := logger.With().Str("component", "core").Logger()
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	engine := core.NewEngine(core.Options{
		Resolver:            ledger.AccountID(cfg.Resolver),
		FaucetAmount:        faucet,
		IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
		Clock:               clock,
		Logger:              &coreLogger,
	}, persistChan, projectionChan, dbChecker, metrics)

	// --- Recovery: snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db, metrics)
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, logger)

	replayed, err := recoverEngine(ctx, engine, snapMgr, persistWorker.Writer(), dbChecker, cfg.IdempotencyLRUCapacity, metrics, logger)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if err := engine.CheckInvariants(); err != nil {
		return fmt.Errorf("invariants after recovery: %w", err)
	}
	logger.Info().Int64("replayed", replayed).Int64("sequence", engine.GetSequence()).Msg("recovery complete")

	snaps := newSnapshotter(engine, snapMgr, logger.With().Str("component", "snapshot").Logger())
	persistWorker.OnFlushed(snaps.flushed)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}

	rawChan := make(chan ingestion.RawCommand, cfg.InboundChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, logger)
	if err := subscriber.Subscribe(ctx); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	// --- API ---
	svc := server.NewService(server.Deps{
		Engine:   engine,
		History:  query.NewHistory(db),
		Snapshot: snaps.Take,
		Rebuild: func(ctx context.Context) error {
			return projection.RebuildProjections(ctx, db, engine, logger)
		},
		Health:  healthChecker,
		Metrics: metrics,
		Logger:  logger,
	})
	grpcServer, err := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, svc)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	// --- Goroutines ---
	errChan := make(chan error, 10)

	// 1. Persistence worker
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		errChan <- persistWorker.Run(ctx)
	}()

	// 2. Fan-out of committed outputs to projections and the publisher
	projectionWorkerChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	publishChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	go fanOut(ctx, projectionChan, projectionWorkerChan, publishChan, metrics)

	// 3. Projection worker
	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, metrics, logger)
	go func() {
		errChan <- projWorker.Run(ctx)
	}()

	// 4. Outbound publisher
	publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics, logger)
	go func() {
		errChan <- publisher.Run(ctx)
	}()

	// 5. NATS → core
	processor := ingestion.NewProcessor(engine, metrics, logger)
	go func() {
		errChan <- processor.Run(ctx, rawChan)
	}()

	// 6. gRPC server
	go func() {
		errChan <- grpcServer.StartGRPC(ctx)
	}()

	// 7. HTTP/JSON gateway
	go func() {
		errChan <- grpcServer.StartHTTPGateway(ctx)
	}()

	// 8. Periodic snapshots
	go snaps.Run(ctx, cfg.SnapshotInterval, cfg.SnapshotCheckEvery)

	// 9. Channel depth sampling
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
				metrics.SetChannelMetrics("projection", len(projectionWorkerChan), cap(projectionWorkerChan))
				metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
				metrics.SetChannelMetrics("inbound", len(rawChan), cap(rawChan))
			}
		}
	}()

	// 10. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("sequence", engine.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("LotteryLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake first so the final snapshot sees a quiescent core.
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	subscriber.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	select {
	case <-persistDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("persistence worker did not finish before shutdown timeout")
	}

	seq, err := snaps.Take(shutdownCtx)
	if err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	logger.Info().Msg("LotteryLedger shutdown complete")
	return nil
}
