// ABOUTME: Wires the store, credentials, engine, scheduler and service for a command
// ABOUTME: Every subcommand that touches events or Google builds one app and closes it on exit
package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/harperreed/calsync/config"
	"github.com/harperreed/calsync/db"
	"github.com/harperreed/calsync/holiday"
	"github.com/harperreed/calsync/service"
	calsync "github.com/harperreed/calsync/sync"
)

type app struct {
	cfg       *config.Config
	logger    *log.Logger
	db        *sql.DB
	creds     *calsync.CredentialStore
	scheduler *calsync.Scheduler
	svc       *service.Service
}

func (o *rootOptions) newApp(ctx context.Context) (*app, error) {
	cfg, logger := o.cfg, o.logger

	database, err := db.OpenDatabase(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	logger.Debug("database opened", "path", cfg.DatabasePath)

	creds := calsync.NewCredentialStore(calsync.CredentialOptions{
		ClientID:      cfg.Google.ClientID,
		ClientSecret:  cfg.Google.ClientSecret,
		RedirectURL:   cfg.Google.RedirectURL,
		TokenPath:     cfg.TokenPath,
		RefreshMargin: cfg.Sync.RefreshMargin,
		Logger:        logger.WithPrefix("oauth"),
	})

	remote, err := calsync.NewGoogleCalendar(ctx, creds)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to create calendar client: %w", err)
	}

	store := db.NewEventStore(database)
	engine := calsync.NewEngine(store, remote, creds, calsync.EngineOptions{
		CalendarID: cfg.CalendarID,
		Logger:     logger.WithPrefix("sync"),
	})
	scheduler := calsync.NewScheduler(engine, calsync.SchedulerOptions{
		Interval: cfg.Sync.Interval,
		Debounce: cfg.Sync.Debounce,
		Timeout:  cfg.Sync.Timeout,
		Logger:   logger.WithPrefix("scheduler"),
	})

	var holidays service.Holidays
	if cfg.HolidayCountry != "" {
		holidays = holiday.NewProvider(holiday.Options{Logger: logger.WithPrefix("holiday")})
	}

	svc := service.New(service.Options{
		Store:          store,
		Credentials:    creds,
		Resolver:       engine,
		Scheduler:      scheduler,
		Holidays:       holidays,
		HolidayCountry: cfg.HolidayCountry,
		Logger:         logger,
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        database,
		creds:     creds,
		scheduler: scheduler,
		svc:       svc,
	}, nil
}

// startBackground starts the scheduler and requests the startup pass.
func (a *app) startBackground(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	a.scheduler.Trigger(calsync.TriggerStartup)
	return nil
}

func (a *app) Close() {
	a.scheduler.Stop()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "err", err)
	}
}
