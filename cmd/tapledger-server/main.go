package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jmrettig/tapledger/internal/config"
	"github.com/jmrettig/tapledger/internal/db"
	"github.com/jmrettig/tapledger/internal/httpapi"
	"github.com/jmrettig/tapledger/internal/logging"
	"github.com/jmrettig/tapledger/internal/tapledger/chain"
	"github.com/jmrettig/tapledger/internal/tapledger/notify"
	"github.com/jmrettig/tapledger/internal/tapledger/service"
	"github.com/jmrettig/tapledger/internal/tapledger/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger, err := logging.Init(logging.ConfigFromEnv())
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer func() { _ = sqlDB.Close() }()

	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, sqlDB, db.SeedDevOptions{KnownReaders: cfg.KnownReaders}); err != nil {
			logger.Fatal("seed dev data", zap.Error(err))
		}
	}

	// All writes are serialized through one worker; sqlite holds a single
	// connection and the worker keeps transactions from interleaving.
	writer := db.NewWorker(sqlDB)
	defer writer.Close()

	hasher := chain.SHA256{}

	readerStore := sqlite.NewReaderStore(sqlDB, writer)
	heartbeatStore := sqlite.NewHeartbeatStore(sqlDB, writer)
	ledgerStore := sqlite.NewLedgerStore(sqlDB, writer, hasher)
	attendanceStore := sqlite.NewAttendanceStore(sqlDB, writer)
	correctionStore := sqlite.NewCorrectionStore(sqlDB, writer)
	badgeStore := sqlite.NewBadgeStore(sqlDB, writer)

	registry := service.NewReaderRegistry(readerStore)
	ingestSvc := service.NewIngestService(registry, ledgerStore)
	heartbeatSvc := service.NewHeartbeatService(heartbeatStore, registry)
	correctionSvc := service.NewCorrectionService(attendanceStore, correctionStore, cfg.MinJustificationLen)

	reconciler := service.NewReconcileService(ledgerStore, attendanceStore, badgeStore, hasher, service.ReconcileConfig{
		DedupWindow: cfg.DedupWindow,
		BatchLimit:  cfg.BatchLimit,
	}, logger)

	notifier := notify.NewLogNotifier(logger)
	job := service.NewProcessingJob(reconciler, notifier, service.JobConfig{
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.JobMaxAttempts,
		Backoff:     cfg.JobBackoff,
		Recipients:  cfg.NotifyRecipients,
	}, logger)
	job.Start(ctx)
	defer job.Stop()

	pruner := service.NewHeartbeatPruner(heartbeatStore, service.PrunerConfig{
		RetentionDays: cfg.HeartbeatRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:            logger,
		Addr:              cfg.HTTPAddr,
		IngestService:     ingestSvc,
		HeartbeatService:  heartbeatSvc,
		CorrectionService: correctionSvc,
		Attendance:        attendanceStore,
		Ledger:            ledgerStore,
		Hasher:            hasher,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.Env))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
