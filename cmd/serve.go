package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wfunc/racebot/events"
	"github.com/wfunc/racebot/logger"
	"github.com/wfunc/racebot/rpc"
	"github.com/wfunc/racebot/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot server (bridge websocket, dashboard and admin RPC)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.Flags().String("http-address", ":8080", "bridge and dashboard listen address")
	cmd.Flags().Duration("heartbeat", 30*time.Second, "bridge heartbeat interval")
	cmd.Flags().String("catalog", "output.csv", "car catalog CSV (Vehicle,Value)")
	cmd.Flags().String("race-icons", "media/races", "directory of race type icons")
	cmd.Flags().Duration("picker-timeout", 5*time.Minute, "idle timeout of pickers and pagers")
	cmd.Flags().Duration("control-timeout", time.Hour, "lifetime of a game control")
	cmd.Flags().String("sqlite-path", "racebot.db", "sqlite database file")
	return cmd
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return err
	}
	logger.Log.Infof("Database (%s) ready.", cfg.Database.Driver)

	a, err := newApp(cfg, store)
	if err != nil {
		store.Close()
		return err
	}
	defer a.Close()

	feed, err := a.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	go a.hub.Relay(ctx, feed, func(ev events.RoundEvent) {
		a.monitor.IncRoundEvent(string(ev.Kind))
	})

	admin, err := rpc.NewServer(cfg.Server.RPCAddress, rpc.NewAdminService(a.gate, a.stats))
	if err != nil {
		return err
	}
	go admin.Start()
	defer admin.Stop()

	bot := server.NewGatekeeperServer(server.Options{
		Addr:           cfg.Server.HTTPAddress,
		Heartbeat:      cfg.Server.Heartbeat,
		AllowedOrigins: cfg.Dashboard.AllowedOrigins,
	}, a.gate, a.hub, a.stats, a.monitor)

	errs := make(chan error, 1)
	go func() { errs <- bot.Start() }()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Log.Info("Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return bot.Shutdown(shutdownCtx)
}
