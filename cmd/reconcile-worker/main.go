package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/carebook/appointment-booking/internal/booking"
	"github.com/carebook/appointment-booking/internal/config"
	"github.com/carebook/appointment-booking/internal/db"
	"github.com/carebook/appointment-booking/internal/logging"
)

// The reconcile worker repairs the degraded-cancel path: a cancellation is
// authoritative even when its slot release failed, so booked slots whose
// appointment is cancelled (or deleted) are swept back to availability here.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal("config load error", zap.Error(err))
	}

	logging.Init(cfg.Env)
	defer logging.Sync()
	log := logging.L()

	log.Info("reconcile-worker starting up",
		zap.String("env", cfg.Env),
		zap.String("schedule", cfg.ReconcileSchedule))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PgMaxConns, cfg.PgMinConns)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	repo := booking.NewPgRepository(pgPool)
	svc := booking.NewService(repo, nil, log)

	// Run once at startup, then on the cron schedule.
	runOnce(rootCtx, svc, log)

	c := cron.New()
	if _, err := c.AddFunc(cfg.ReconcileSchedule, func() {
		runOnce(rootCtx, svc, log)
	}); err != nil {
		log.Fatal("invalid reconcile schedule", zap.Error(err))
	}
	c.Start()

	<-rootCtx.Done()
	log.Info("shutdown signal received, stopping reconcile worker")

	stopCtx := c.Stop()
	<-stopCtx.Done()
}

func runOnce(ctx context.Context, svc *booking.Service, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	released, err := svc.ReleaseOrphanedClaims(runCtx)
	if err != nil {
		log.Error("reconcile run error", zap.Error(err))
		return
	}
	log.Info("reconcile run complete",
		zap.Int("slots_released", released),
		zap.Duration("took", time.Since(start)))
}
