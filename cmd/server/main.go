// Command server runs the attendance proof and reward issuance service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decentracode/attendme/internal/app"
	"github.com/decentracode/attendme/internal/app/httpapi"
	rewardsvc "github.com/decentracode/attendme/internal/app/services/rewards"
	"github.com/decentracode/attendme/internal/app/storage/postgres"
	"github.com/decentracode/attendme/internal/cache"
	"github.com/decentracode/attendme/internal/chain"
	"github.com/decentracode/attendme/internal/config"
	"github.com/decentracode/attendme/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("server").WithError(err).Fatal("load configuration")
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: "stdout",
	}).WithField("component", "server")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stores := app.Stores{}
	checks := map[string]httpapi.HealthFunc{}

	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := postgres.Migrate(db); err != nil {
			return err
		}

		store := postgres.New(db)
		stores = app.Stores{
			Whitelist:  store,
			Attendance: store,
			Claims:     store,
			Sessions:   store,
		}
		checks["postgres"] = func() bool { return db.Ping() == nil }
		log.Info("postgres storage ready")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	ledger, err := chain.Dial(ctx, chain.Config{
		RPCURL:        cfg.RPCURL,
		PrivateKey:    cfg.PrivateKey,
		TokenContract: cfg.TokenContract,
		TokenDecimals: cfg.TokenDecimals,
		Timeout:       cfg.ChainTimeout,
	})
	if err != nil {
		return err
	}
	defer ledger.Close()
	log.WithField("wallet", ledger.From().Hex()).Info("ledger client connected")
	checks["ledger"] = func() bool {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer pingCancel()
		return ledger.Healthy(pingCtx)
	}

	var balanceCache rewardsvc.BalanceCache
	if cfg.RedisAddr != "" {
		redisCache := cache.NewBalanceCache(cfg.RedisAddr, cfg.BalanceCacheTTL, log)
		defer redisCache.Close()
		balanceCache = redisCache
		checks["redis"] = func() bool {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer pingCancel()
			return redisCache.Healthy(pingCtx)
		}
	}

	seeds, err := cfg.SessionSeeds()
	if err != nil {
		return err
	}

	application, err := app.New(stores, ledger, balanceCache, app.Options{
		Rewards: rewardsvc.Config{
			ConfirmTimeout: cfg.ConfirmTimeout,
			ReconcileGrace: cfg.ReconcileGrace,
		},
		ReconcileSchedule: cfg.ReconcileSchedule,
		SessionSeeds:      seeds,
	}, log)
	if err != nil {
		return err
	}

	if err := application.Start(ctx); err != nil {
		return err
	}

	handler := httpapi.NewHandler(
		application.Attendance,
		application.Rewards,
		application.Whitelist,
		application.Sessions,
		httpapi.Options{RateLimitPerMinute: cfg.RateLimitPerMin, Checks: checks},
		log,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("forced http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}

	log.Info("server exited")
	return nil
}
