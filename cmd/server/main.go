// Package main is the entry point for the governor service. It wires the
// parameter store, status state machine, optimization engine and review
// workflow around a single SQLite database, then runs the HTTP API and the
// cron jobs until shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpilot/governor/internal/config"
	"github.com/quantpilot/governor/internal/database"
	"github.com/quantpilot/governor/internal/events"
	"github.com/quantpilot/governor/internal/history"
	"github.com/quantpilot/governor/internal/modules/optimization"
	"github.com/quantpilot/governor/internal/modules/review"
	"github.com/quantpilot/governor/internal/modules/status"
	"github.com/quantpilot/governor/internal/modules/thresholds"
	"github.com/quantpilot/governor/internal/modules/versions"
	"github.com/quantpilot/governor/internal/notify"
	"github.com/quantpilot/governor/internal/reliability"
	"github.com/quantpilot/governor/internal/scheduler"
	"github.com/quantpilot/governor/internal/server"
	"github.com/quantpilot/governor/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().
		Str("account", cfg.Account).
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Msg("Governor starting")

	// Single database: version flips, change log entries and run state
	// changes commit in one transaction.
	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "governor.db"),
		Profile: database.ProfileLedger,
		Name:    "governor",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	// Events: in-process bus for live subscribers, persistent outbox for
	// the notification sink and the recent-events API.
	bus := events.NewBus(log)
	outbox := events.NewOutbox(db.Conn(), log)
	emitter := events.NewEmitter(bus, outbox, log)

	// Repositories and services.
	thresholdRepo := thresholds.NewRepository(db.Conn(), log)
	store := versions.NewStore(
		db.Conn(),
		versions.NewRepository(db.Conn(), log),
		versions.NewChangeLogRepository(db.Conn(), log),
		versions.NewSchemaRegistry(),
		log,
	)
	tradeHistory := history.NewProvider(db.Conn(), log)
	snapshots := status.NewRepository(db.Conn(), log)
	statusSvc := status.NewService(snapshots, thresholdRepo, store, tradeHistory, emitter, cfg.EvalWorkers, 30, log)
	runs := optimization.NewRepository(db.Conn(), log)
	engine := optimization.NewEngine(runs, store, thresholdRepo, tradeHistory, emitter, cfg.EvalWorkers, cfg.OptLookbackDays, log)
	reviewSvc := review.NewService(db.Conn(), runs, store, statusSvc, emitter, log)

	// Notification sink is optional; events still land in the outbox
	// without it.
	var sink *notify.TelegramSink
	if cfg.Telegram.Token != "" {
		sink, err = notify.NewTelegramSink(notify.TelegramConfig{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
		}, bus, outbox, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Telegram sink")
		}
		sink.Start()
		defer sink.Stop()
	} else {
		log.Info().Msg("Telegram notifications disabled")
	}

	// Scheduled jobs.
	dailyJob := scheduler.FuncJob{
		JobName: "daily_evaluation",
		Fn: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			summary, err := statusSvc.RunDaily(ctx, cfg.Account, time.Now().UTC())
			if err != nil {
				return err
			}
			log.Info().
				Int("total", summary.Total).
				Int("failed", summary.Failed).
				Msg("Daily evaluation finished")
			return nil
		},
	}
	monthlyJob := scheduler.FuncJob{
		JobName: "monthly_optimization",
		Fn: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
			defer cancel()
			summary, err := engine.RunMonthly(ctx, cfg.Account, time.Now().UTC())
			if err != nil {
				return err
			}
			log.Info().
				Int("total", summary.Total).
				Int("failed", summary.Failed).
				Msg("Monthly optimization finished")
			return nil
		},
	}

	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.DailyEvalSpec, dailyJob); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.DailyEvalSpec).Msg("Invalid daily evaluation schedule")
	}
	if err := sched.AddJob(cfg.MonthlyOptSpec, monthlyJob); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.MonthlyOptSpec).Msg("Invalid monthly optimization schedule")
	}

	// Backups are optional; without a bucket the database only lives on
	// local disk.
	if cfg.Backup.Bucket != "" {
		s3Client, err := reliability.NewS3Client(cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 client")
		}
		startupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := s3Client.HeadBucket(startupCtx); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("Backup bucket check failed")
		}
		cancel()

		backupSvc := reliability.NewBackupService(db, s3Client, cfg.DataDir, cfg.Backup.RetentionDays, log)
		if err := sched.AddJob(cfg.NightlyBackup, backupSvc); err != nil {
			log.Fatal().Err(err).Str("spec", cfg.NightlyBackup).Msg("Invalid backup schedule")
		}
	} else {
		log.Info().Msg("S3 backups disabled")
	}

	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:        log,
		Cfg:        cfg,
		DB:         db,
		Bus:        bus,
		Outbox:     outbox,
		Store:      store,
		StatusSvc:  statusSvc,
		Engine:     engine,
		ReviewSvc:  reviewSvc,
		Thresholds: thresholdRepo,
	})
	srv.SetJobs(dailyJob, monthlyJob)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	// Wait for shutdown signal or server failure.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Governor stopped")
}
