// Package app wires settings into the long-lived components shared by the
// server and the command line tools.
package app

import (
	"time"

	"github.com/verdant-app/verdant/internal/conf"
	"github.com/verdant-app/verdant/internal/datastore"
	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/garden"
	"github.com/verdant-app/verdant/internal/handles"
	"github.com/verdant-app/verdant/internal/logger"
	"github.com/verdant-app/verdant/internal/observability"
	"github.com/verdant-app/verdant/internal/privacy"
)

const sentryFlushTimeout = 2 * time.Second

// App owns the database, metrics and logging for one process
type App struct {
	Settings *conf.Settings
	Log      logger.Logger
	Metrics  *observability.Metrics
	DB       *datastore.DB

	central   *logger.CentralLogger
	telemetry bool
}

// New opens everything settings describe. Close releases it.
func New(settings *conf.Settings) (*App, error) {
	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	a := &App{Settings: settings, central: central, Log: central.Module("verdant")}
	for _, w := range settings.Warnings {
		a.Log.Warn(w)
	}

	if settings.Telemetry.Enabled {
		errors.SetPrivacyScrubber(privacy.ScrubMessage)
		if err := errors.InitSentry(settings.Telemetry.DSN, settings.Telemetry.Environment, settings.Version); err != nil {
			// reporting is optional, keep going without it
			a.Log.Warn("error reporting disabled", logger.Error(err))
		} else {
			a.telemetry = true
		}
	}

	a.Metrics, err = observability.NewMetrics()
	if err != nil {
		_ = central.Close()
		return nil, err
	}

	a.DB, err = datastore.Open(&settings.Database, a.Log, a.Metrics.Datastore)
	if err != nil {
		_ = central.Close()
		return nil, err
	}
	return a, nil
}

// Gardens builds a store manager over the database with the offline cache in
// front of it.
func (a *App) Gardens() *garden.Manager {
	g := a.Settings.Garden
	backend := datastore.NewCachedPlants(
		datastore.NewPlantRepository(a.DB),
		g.CacheTTL,
		a.Log,
		a.Metrics.Datastore,
	)
	m := garden.NewManager(backend, a.Log.Module("garden"),
		garden.WithOpTimeout(g.OpTimeout),
		garden.WithRecomputeInterval(g.RecomputeInterval),
	)
	m.SetMetrics(a.Metrics.Garden)
	return m
}

// Store builds a single unmanaged store, for one-shot commands
func (a *App) Store(ownerID string) (*garden.Store, error) {
	return garden.NewStore(ownerID, datastore.NewPlantRepository(a.DB),
		garden.WithOpTimeout(a.Settings.Garden.OpTimeout),
		garden.WithLogger(a.Log.Module("garden")),
		garden.WithMetrics(a.Metrics.Garden),
	)
}

// Handles builds the handle registry over the database
func (a *App) Handles() *handles.Registry {
	h := a.Settings.Handles
	return handles.NewRegistry(datastore.NewHandleStore(a.DB),
		handles.Config{
			MaxAttempts:  h.MaxAttempts,
			Timeout:      h.Timeout,
			RetryBackoff: h.RetryBackoff,
			MinLength:    h.MinLength,
			MaxLength:    h.MaxLength,
		},
		handles.WithLogger(a.Log.Module("handles")),
		handles.WithMetrics(a.Metrics.Handles),
	)
}

// Alerts returns the recorded alert history
func (a *App) Alerts() *datastore.AlertHistory {
	return datastore.NewAlertHistory(a.DB)
}

// Logger returns a logger scoped to module
func (a *App) Logger(module string) logger.Logger {
	return a.Log.Module(module)
}

// Close closes the database, flushes error reports and the log file
func (a *App) Close() error {
	err := a.DB.Close()
	if a.telemetry {
		errors.FlushSentry(sentryFlushTimeout)
	}
	return errors.Join(err, a.central.Close())
}
