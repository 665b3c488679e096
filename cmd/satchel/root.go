package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dukerupert/satchel/internal/database"
	"github.com/dukerupert/satchel/internal/logging"
)

const version = "0.3.0"

// flagConfig is set by the --config flag.
var flagConfig string

// cfg holds the loaded configuration, populated by PersistentPreRunE so
// every subcommand can read it.
var cfg *viper.Viper

var rootCmd = &cobra.Command{
	Use:     "satchel",
	Short:   "Satchel is an offline-first grocery sync daemon",
	Version: version,
	Long: `Satchel keeps grocery lists usable with or without a network.
Mutations apply to a local SQLite store immediately and are replayed to the
service of record in the background whenever it is reachable.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(flagConfig)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ./satchel.yaml or ~/.satchel/satchel.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(importGuestCmd)
	rootCmd.AddCommand(outboxCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("satchel v" + version)
	},
}

// loadConfig reads satchel.yaml (or the --config file) and layers SATCHEL_*
// environment variables on top. A missing config file is not an error; the
// defaults make a bare invocation work.
func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("token", "")
	v.SetDefault("listen_addr", "127.0.0.1:8070")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("probe_interval", "12s")
	v.SetDefault("drain_interval", "30s")
	v.SetDefault("batch_size", 50)

	v.SetEnvPrefix("SATCHEL")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("satchel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".satchel"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && path == "" {
			return v, nil
		}
		return nil, err
	}
	return v, nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "satchel.db"
	}
	return filepath.Join(home, ".satchel", "satchel.db")
}

// openDatabase opens (and migrates) the configured database, creating its
// directory on first run.
func openDatabase() (*sql.DB, error) {
	dbPath := cfg.GetString("db_path")
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return database.Open(dbPath)
}

func setupLogger() *slog.Logger {
	return logging.Setup(cfg.GetString("log_level"), cfg.GetString("log_format"))
}
