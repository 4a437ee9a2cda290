package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/decentracode/attendme/internal/app/domain/session"
	attendancesvc "github.com/decentracode/attendme/internal/app/services/attendance"
	rewardsvc "github.com/decentracode/attendme/internal/app/services/rewards"
	sessionsvc "github.com/decentracode/attendme/internal/app/services/sessions"
	whitelistsvc "github.com/decentracode/attendme/internal/app/services/whitelist"
	"github.com/decentracode/attendme/internal/app/storage"
	"github.com/decentracode/attendme/internal/app/storage/memory"
	"github.com/decentracode/attendme/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Whitelist  storage.WhitelistStore
	Attendance storage.AttendanceStore
	Claims     storage.ClaimStore
	Sessions   storage.SessionStore
}

// Options tunes application behaviour beyond the stores.
type Options struct {
	Rewards rewardsvc.Config

	// ReconcileSchedule is a cron expression for settling claims that were
	// left pending by a crash or a confirmation timeout.
	ReconcileSchedule string

	// SessionSeeds are upserted on Start so a fresh deployment has at least
	// one active session code.
	SessionSeeds []session.Session
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	cron *cron.Cron
	log  *logger.Logger

	seeds []session.Session

	Whitelist  *whitelistsvc.Service
	Attendance *attendancesvc.Service
	Rewards    *rewardsvc.Service
	Sessions   *sessionsvc.Service
}

// New builds a fully initialised application with the provided stores and
// ledger client.
func New(stores Stores, ledger rewardsvc.Ledger, cache rewardsvc.BalanceCache, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if ledger == nil {
		return nil, fmt.Errorf("app: ledger client is required")
	}

	mem := memory.New()
	if stores.Whitelist == nil {
		stores.Whitelist = mem
	}
	if stores.Attendance == nil {
		stores.Attendance = mem
	}
	if stores.Claims == nil {
		stores.Claims = mem
	}
	if stores.Sessions == nil {
		stores.Sessions = mem
	}

	sessionService := sessionsvc.New(stores.Sessions, log)
	whitelistService := whitelistsvc.New(stores.Whitelist, log)
	attendanceService := attendancesvc.New(stores.Attendance, sessionService, log)
	rewardService := rewardsvc.New(stores.Claims, ledger, cache, opts.Rewards, log)

	app := &Application{
		cron:       cron.New(),
		log:        log,
		seeds:      opts.SessionSeeds,
		Whitelist:  whitelistService,
		Attendance: attendanceService,
		Rewards:    rewardService,
		Sessions:   sessionService,
	}

	schedule := opts.ReconcileSchedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	if _, err := app.cron.AddFunc(schedule, app.reconcile); err != nil {
		return nil, fmt.Errorf("app: schedule claim reconciler: %w", err)
	}

	return app, nil
}

// Start seeds the session registry and begins the background reconciler.
func (a *Application) Start(ctx context.Context) error {
	if len(a.seeds) > 0 {
		if err := a.Sessions.Seed(ctx, a.seeds); err != nil {
			return fmt.Errorf("app: seed sessions: %w", err)
		}
	}
	a.cron.Start()
	a.log.Info("application started")
	return nil
}

// Stop halts the reconciler and waits for in-flight runs to finish.
func (a *Application) Stop(ctx context.Context) error {
	stopped := a.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	a.log.Info("application stopped")
	return nil
}

func (a *Application) reconcile() {
	ctx := context.Background()
	if err := a.Rewards.ReconcilePending(ctx); err != nil {
		a.log.WithError(err).Warn("claim reconciliation run failed")
	}
}
