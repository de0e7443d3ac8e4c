package main

import (
	"LockerLedger/internal/config"
	"LockerLedger/internal/core"
	"LockerLedger/internal/ingestion"
	"LockerLedger/internal/observability"
	"LockerLedger/internal/persistence"
	"LockerLedger/internal/projection"
	"LockerLedger/internal/query"
	"LockerLedger/internal/server"
	"LockerLedger/internal/settlement"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func serve(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level := observability.ParseLogLevel(cfg.LogLevel)
	logger := observability.NewLoggerWithLevel("lockerd", level)
	component := func(name string) zerolog.Logger {
		return observability.NewLoggerWithLevel(name, level)
	}

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	logger.Info().Msg("postgres connected")

	if err := persistence.NewMigrator(db, cfg.MigrationsDir, component("migrator")).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)
	snapMgr := persistence.NewSnapshotManager(db)

	// --- Reference ledgers: genesis plus the persisted journal ---
	deltas, err := snapMgr.LedgerDeltas(ctx)
	if err != nil {
		return err
	}
	owners, err := snapMgr.AssetOwners(ctx)
	if err != nil {
		return err
	}
	ledgers, err := buildLedgers(cfg, deltas, owners)
	if err != nil {
		return fmt.Errorf("rebuild reference ledgers: %w", err)
	}
	settler := settlement.NewSettler(component("settlement"), metrics)
	for currency, bank := range ledgers.banks {
		settler.RegisterLedger(currency, bank)
	}
	for name, reg := range ledgers.registries {
		settler.RegisterRegistry(name, reg)
	}

	// --- Dispatcher ---
	policies, err := cfg.Policies()
	if err != nil {
		return err
	}
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	publishChan := make(chan core.CoreOutput, cfg.PublishChanSize)

	d, err := core.NewDispatcher(core.Config{
		Templates:           policies,
		Settler:             settler,
		IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
		DBChecker:           persistence.NewPostgresIdempotencyChecker(db),
		CheckCustody:        cfg.CheckCustody,
		PersistChan:         persistChan,
		ProjectionChan:      projectionChan,
		Metrics:             metrics,
		Logger:              component("core"),
	})
	if err != nil {
		return err
	}

	// --- Recovery: snapshot + replay, then bring the read model up to date ---
	next, err := persistence.Recover(ctx, snapMgr, d, metrics, component("recovery"))
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if err := projection.RebuildProjections(ctx, db, d.Snapshot().Lockers, next-1, component("projection")); err != nil {
		return fmt.Errorf("rebuild projections: %w", err)
	}

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout.Duration, metrics, component("persistence"))
	persistWorker.SetPersisted(next - 1)

	// --- NATS (optional) ---
	var (
		nc         *nats.Conn
		subscriber *ingestion.NATSSubscriber
		publisher  *ingestion.OutboundPublisher
		msgChan    chan ingestion.RawMessage
	)
	if cfg.NATSEnabled {
		conn, js, err := ingestion.ConnectNATS(cfg.NATSURL, component("nats"))
		if err != nil {
			return err
		}
		nc = conn
		defer nc.Close()

		if err := ingestion.EnsureStreams(ctx, js, component("nats")); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats not connected")
			}
			return nil
		})

		msgChan = make(chan ingestion.RawMessage, 4096)
		subscriber = ingestion.NewNATSSubscriber(js, msgChan, component("ingestion"))
		publisher = ingestion.NewOutboundPublisher(js, publishChan, metrics, component("publisher"))
		persistWorker.PublishTo(publishChan)
	}

	// --- Surfaces ---
	queries := query.NewQueryService(d, db, nil, metrics)
	service := server.NewLockerService(d, queries, nil, component("server"))
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, service, healthChecker)

	// Workers drain their channels after the surfaces stop. A failing worker
	// takes the surfaces down with it.
	workers, workerCtx := errgroup.WithContext(context.Background())
	frontCtx, cancelFront := context.WithCancel(ctx)
	defer cancelFront()
	go func() {
		<-workerCtx.Done()
		cancelFront()
	}()
	snapCtx, stopSnapshots := context.WithCancel(workerCtx)
	defer stopSnapshots()

	front, fctx := errgroup.WithContext(frontCtx)
	if subscriber != nil {
		// Consumers only fill msgChan until the runner starts below.
		if err := subscriber.Subscribe(fctx, ingestion.DefaultSubjects()); err != nil {
			subscriber.Stop()
			return fmt.Errorf("nats subscribe: %w", err)
		}
	}

	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, component("projection"))
	snapWorker := persistence.NewSnapshotWorker(snapMgr, d, persistWorker.Persisted, cfg.SnapshotInterval, metrics, component("snapshot"))

	workers.Go(func() error {
		defer close(publishChan)
		return persistWorker.Run(workerCtx)
	})
	workers.Go(func() error { return projWorker.Run(workerCtx) })
	workers.Go(func() error { return ignoreCanceled(snapWorker.Run(snapCtx)) })
	if publisher != nil {
		workers.Go(func() error { return publisher.Run(workerCtx) })
	}

	front.Go(func() error { return grpcServer.StartGRPC(fctx) })
	front.Go(func() error { return grpcServer.StartHTTPGateway(fctx) })
	front.Go(func() error { return serveMetrics(fctx, cfg.MetricsAddr, logger) })
	front.Go(func() error {
		sampleChannels(fctx, metrics, map[string]func() (int, int){
			"persist":    func() (int, int) { return len(persistChan), cap(persistChan) },
			"projection": func() (int, int) { return len(projectionChan), cap(projectionChan) },
			"publish":    func() (int, int) { return len(publishChan), cap(publishChan) },
			"ingest":     func() (int, int) { return len(msgChan), cap(msgChan) },
		})
		return nil
	})
	if subscriber != nil {
		runner := ingestion.NewRunner(d, msgChan, 0, metrics, component("ingestion"))
		front.Go(func() error { return runner.Run(fctx) })
	}

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("sequence", next).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Bool("nats", cfg.NATSEnabled).
		Msg("lockerd ready")

	frontErr := ignoreCanceled(front.Wait())
	if frontErr != nil {
		logger.Error().Err(frontErr).Msg("surface failed, shutting down")
	} else {
		logger.Info().Msg("shutting down")
	}
	healthChecker.SetReady(false)
	if subscriber != nil {
		subscriber.Stop()
	}

	// No more writers: let the workers drain and exit.
	close(persistChan)
	close(projectionChan)
	stopSnapshots()
	workerErr := ignoreCanceled(workers.Wait())

	if err := finalSnapshot(snapMgr, d, persistWorker.Persisted(), logger); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}
	logger.Info().Msg("lockerd shutdown complete")

	if frontErr != nil {
		return frontErr
	}
	return workerErr
}

// finalSnapshot saves and verifies a snapshot when everything the
// dispatcher applied is durable.
func finalSnapshot(sm *persistence.SnapshotManager, d *core.Dispatcher, persisted int64, logger zerolog.Logger) error {
	snap := d.Snapshot()
	if persisted < snap.Sequence-1 {
		logger.Warn().
			Int64("persisted", persisted).
			Int64("sequence", snap.Sequence).
			Msg("event log behind memory, skipping final snapshot")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := sm.SaveSnapshot(ctx, snap, time.Now().UTC()); err != nil {
		return err
	}
	if err := sm.MarkVerified(ctx, snap.Sequence); err != nil {
		return err
	}
	logger.Info().Int64("sequence", snap.Sequence).Msg("final snapshot saved")
	return nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// sampleChannels reports queue depths once a second until ctx is done.
func sampleChannels(ctx context.Context, metrics *observability.Metrics, channels map[string]func() (int, int)) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, depth := range channels {
				size, capacity := depth()
				metrics.SetChannelMetrics(name, size, capacity)
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
