// Package serve runs the garden engine: plant stores, care alerts and the API
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/verdant-app/verdant/internal/api"
	v1 "github.com/verdant-app/verdant/internal/api/v1"
	"github.com/verdant-app/verdant/internal/app"
	"github.com/verdant-app/verdant/internal/broadcast"
	"github.com/verdant-app/verdant/internal/care"
	"github.com/verdant-app/verdant/internal/conf"
	"github.com/verdant-app/verdant/internal/datastore"
	"github.com/verdant-app/verdant/internal/logger"
)

const (
	statsInterval = 30 * time.Second
	pruneInterval = time.Hour
)

// Command creates the serve command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the garden engine and HTTP API",
		Long:  "Keep every loaded garden's health current, deliver care alerts and serve the HTTP API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, settings)
		},
	}

	cmd.Flags().String("listen", "", "Listen address of the HTTP API")
	cmd.Flags().Bool("no-api", false, "Run without the HTTP API")
	if err := viper.BindPFlag("webserver.listen", cmd.Flags().Lookup("listen")); err != nil {
		panic(err)
	}

	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if noAPI, _ := cmd.Flags().GetBool("no-api"); noAPI {
			settings.WebServer.Enabled = false
		}
	}
	return cmd
}

// Run serves until ctx is done
func Run(ctx context.Context, settings *conf.Settings) error {
	a, err := app.New(settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Log.Warn("shutdown incomplete", logger.Error(err))
		}
	}()

	log := a.Log
	log.Info("starting verdant",
		logger.String("version", settings.Version),
		logger.String("database", a.DB.Dialect()))

	hub := broadcast.NewHub[care.Event]()
	defer hub.Close()

	gardens := a.Gardens()
	gardens.OnStart(care.StartHook(hub,
		care.WithLogger(a.Logger("care")),
		care.WithMetrics(a.Metrics.Garden)))

	dispatcher := care.NewDispatcher(a.Logger("care"), a.Metrics.Garden)
	if settings.Care.LogEvents {
		dispatcher.Register(care.NewLogSink(a.Logger("care")))
	}
	alerts := a.Alerts()
	if settings.Care.RecordAlerts {
		dispatcher.Register(alerts)
	}
	events := hub.Subscribe(broadcast.Options{Mode: broadcast.ModeDropOldest, Capacity: settings.Care.EventBuffer})

	g, gctx := errgroup.WithContext(ctx)
	gardens.Start(gctx)
	defer gardens.Stop()

	g.Go(func() error { return dispatcher.Run(gctx, events) })
	g.Go(func() error {
		housekeeping(gctx, a, alerts)
		return nil
	})

	if settings.WebServer.Enabled {
		server := api.New(&settings.WebServer, gardens, a.Handles(), log,
			api.WithMetrics(a.Metrics),
			api.WithAPIOptions(
				v1.WithVersion(settings.Version),
				v1.WithAlerts(alerts),
				v1.WithDetectorStats(func() care.Stats {
					st := dispatcher.Stats()
					return care.Stats{Events: st.Received, Subscribers: hub.Subscribers()}
				}),
			))
		g.Go(func() error { return server.Run(gctx) })
	}

	err = g.Wait()
	log.Info("verdant stopped")
	return err
}

// housekeeping refreshes connection pool gauges and prunes old alerts
func housekeeping(ctx context.Context, a *app.App, alerts *datastore.AlertHistory) {
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()
	pruneTicker := time.NewTicker(pruneInterval)
	defer pruneTicker.Stop()

	retention := a.Settings.Care.AlertRetention
	for {
		select {
		case <-ctx.Done():
			return
		case <-statsTicker.C:
			a.DB.CollectStats()
		case <-pruneTicker.C:
			if retention <= 0 {
				continue
			}
			n, err := alerts.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				a.Log.Warn("alert pruning failed", logger.Error(err))
				continue
			}
			if n > 0 {
				a.Log.Info("old alerts pruned", logger.Int64("count", n))
			}
		}
	}
}
