package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/wfunc/racebot/config"
	"github.com/wfunc/racebot/logger"
)

var (
	cfgFile string
	v       = viper.New()
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "racebot",
	Short:         "Coordinates car-racing rounds for a chat community",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-dev", false, "human-friendly development logging")
	rootCmd.PersistentFlags().String("rpc-address", "127.0.0.1:8081", "admin RPC address")
	rootCmd.PersistentFlags().String("db-driver", "sqlite", "record store: gorm, postgres, sqlite or memory")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newResetCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newSendCmd())
}

// flagKeys maps flag names to their config keys.
var flagKeys = map[string]string{
	"log-level":         "log.level",
	"log-dev":           "log.development",
	"rpc-address":       "server.rpc_address",
	"db-driver":         "database.driver",
	"http-address":      "server.http_address",
	"heartbeat":         "server.heartbeat",
	"catalog":           "catalog.csv_path",
	"race-icons":        "catalog.race_icon_dir",
	"picker-timeout":    "sessions.picker_idle_timeout",
	"control-timeout":   "sessions.control_timeout",
	"sqlite-path":       "database.sqlite.path",
	"postgres-host":     "database.postgres.host",
	"postgres-port":     "database.postgres.port",
	"postgres-user":     "database.postgres.user",
	"postgres-password": "database.postgres.password",
	"postgres-db":       "database.postgres.dbname",
}

// initConfig reads the config file and environment, then lets explicitly
// set flags win.
func initConfig(cmd *cobra.Command) error {
	bindFlags(cmd, v)
	loaded, err := config.LoadConfig(v, ".", cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Log.Debugf("Using config file: %s", used)
	}
	return nil
}

// Bind each cobra flag to its config key, and to an env var named after
// the flag, e.g. --db-driver to RACEBOT_DB_DRIVER.
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	bind := func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not bind flag %s: %v\n", f.Name, err)
		}
		if strings.Contains(f.Name, "-") {
			envVar := fmt.Sprintf("%s_%s", config.EnvPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")))
			if err := v.BindEnv(key, envVar, config.EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
				fmt.Fprintf(os.Stderr, "Could not bind env var %s: %v\n", envVar, err)
			}
		}
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
}
