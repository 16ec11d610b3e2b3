package cmd

import (
	"fmt"

	"github.com/wfunc/racebot/broadcast"
	"github.com/wfunc/racebot/catalog"
	"github.com/wfunc/racebot/config"
	"github.com/wfunc/racebot/events"
	"github.com/wfunc/racebot/interaction"
	"github.com/wfunc/racebot/logger"
	"github.com/wfunc/racebot/monitor"
	"github.com/wfunc/racebot/persistence"
	"github.com/wfunc/racebot/round"
	"github.com/wfunc/racebot/series"
	"github.com/wfunc/racebot/services"
	"github.com/wfunc/racebot/session"
	"github.com/wfunc/racebot/timer"
)

const metricsNamespace = "racebot"

// openStore connects the record store selected by the config.
func openStore(db config.DatabaseConfig) (persistence.Store, error) {
	switch db.Driver {
	case config.DriverGorm:
		return persistence.NewGormPostgreSQL(db.Postgres.DSN())
	case config.DriverPostgres:
		return persistence.NewPostgreSQL(db.Postgres.DSN())
	case config.DriverSQLite, "":
		return persistence.NewSQLite(db.SQLite.Path)
	case config.DriverMemory:
		return persistence.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", db.Driver)
}

// app is the wired bot: engines, sessions and the chat gatekeeper.
type app struct {
	store    persistence.Store
	bus      *events.Bus
	timers   *timer.TimerManager
	sessions *session.Manager
	rounds   *round.Engine
	series   *series.Engine
	stats    *services.StatsService
	gate     *interaction.Gatekeeper
	hub      *broadcast.Hub
	monitor  *monitor.Monitor
}

func newApp(c *config.Config, store persistence.Store) (*app, error) {
	cat, err := catalog.Load(c.Catalog.CSVPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	logger.Log.Infof("Loaded %d cars from %s", cat.Len(), c.Catalog.CSVPath)

	icons, err := catalog.LoadIcons(c.Catalog.RaceIconDir)
	if err != nil {
		return nil, fmt.Errorf("load race icons: %w", err)
	}
	images := catalog.NewImageFinder(store, catalog.ImageOptions{
		Enabled:        c.Catalog.Images.Enabled,
		UserAgent:      c.Catalog.Images.UserAgent,
		RatePerSecond:  c.Catalog.Images.RatePerSecond,
		RequestTimeout: c.Catalog.Images.RequestTimeout,
		FandomURL:      c.Catalog.Images.FandomURL,
		WikipediaURL:   c.Catalog.Images.WikipediaURL,
	})

	a := &app{
		store:   store,
		bus:     events.NewBus(),
		timers:  timer.NewTimerManagerWithResolution(c.Sessions.TimerResolution),
		hub:     broadcast.NewHub(),
		monitor: monitor.NewMonitor(metricsNamespace),
	}
	a.sessions = session.NewManager(a.timers, c.Sessions.PickerIdleTimeout, c.Sessions.ControlTimeout)
	a.rounds = round.NewEngine(store, cat, a.bus)
	a.series = series.NewEngine(store, a.rounds, a.bus)
	a.stats = services.NewStatsService(store, a.rounds, a.series)
	a.gate = interaction.New(interaction.Deps{
		Store:    store,
		Rounds:   a.rounds,
		Series:   a.series,
		Sessions: a.sessions,
		Stats:    a.stats,
		Images:   images,
		Icons:    icons,
		Metrics:  a.monitor,
	})
	a.monitor.GaugeFunc(metricsNamespace, "open_sessions", "Open control surfaces",
		func() float64 { return float64(a.sessions.Count()) })
	a.monitor.GaugeFunc(metricsNamespace, "connected_hub_clients", "Bridges receiving broadcasts",
		func() float64 { return float64(a.hub.Count()) })
	return a, nil
}

func (a *app) Close() {
	a.timers.Stop()
	if err := a.bus.Close(); err != nil {
		logger.Log.Warnf("close event bus: %v", err)
	}
	if err := a.store.Close(); err != nil {
		logger.Log.Warnf("close store: %v", err)
	}
}
