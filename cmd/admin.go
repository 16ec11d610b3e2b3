package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wfunc/racebot/logger"
	"github.com/wfunc/racebot/rpc"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Log.Infof("Schema for %s is up to date.", cfg.Database.Driver)
			return nil
		},
	}
	cmd.Flags().String("sqlite-path", "racebot.db", "sqlite database file")
	cmd.Flags().String("postgres-host", "localhost", "postgres host")
	cmd.Flags().Int("postgres-port", 5432, "postgres port")
	cmd.Flags().String("postgres-user", "racebot", "postgres user")
	cmd.Flags().String("postgres-password", "", "postgres password")
	cmd.Flags().String("postgres-db", "racebot", "postgres database")
	return cmd
}

func newResetCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Force-finish every open round with a random winner (via admin RPC)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := rpc.Dial(cfg.Server.RPCAddress)
			if err != nil {
				return fmt.Errorf("dial admin rpc: %w", err)
			}
			defer client.Close()

			rounds, err := client.ResetRounds(actor)
			if err != nil {
				return err
			}
			if len(rounds) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No active rounds to reset.")
				return nil
			}
			for _, r := range rounds {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s: winner %s (%s)\n", r.RoundID, r.Class, r.RaceType, r.Winner, r.WinnerID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "admin", "who the reset is recorded as")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <player-id>",
		Short: "Print a player's stats as JSON (via admin RPC)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := rpc.Dial(cfg.Server.RPCAddress)
			if err != nil {
				return fmt.Errorf("dial admin rpc: %w", err)
			}
			defer client.Close()

			stats, err := client.PlayerStats(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}
