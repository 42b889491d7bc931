package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/checklisthq/syncd/internal/queue"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "Offline-first sync daemon for checklist data",
	Long: `syncd queues local checklist mutations while offline and reconciles
them with the checklist server when connectivity returns.

The queue survives restarts; mutations for the same entity are always
delivered in the order they were recorded, failing deliveries back off
and retry, and conflicting edits are resolved last-write-wins unless
configured otherwise. Records the engine gives up on are kept visible
until you retry or drop them with 'syncd queue'.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.syncd/config.yaml)")
	rootCmd.PersistentFlags().String("queue", "", "queue database path (default ~/.syncd/queue.db)")

	if err := viper.BindPFlag("queue.path", rootCmd.PersistentFlags().Lookup("queue")); err != nil {
		panic(err)
	}
}

// initConfig loads the config file and environment overrides.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".syncd"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SYNCD")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config is fine; everything has a default.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config: %v\n", err)
		}
	}
}

// setDefaults registers every config default in one place.
func setDefaults() {
	viper.SetDefault("queue.path", "")

	viper.SetDefault("server.url", "http://localhost:8080/api")
	viper.SetDefault("server.token", "")
	viper.SetDefault("server.timeout", 15*time.Second)
	viper.SetDefault("server.health_url", "")

	viper.SetDefault("sync.max_in_flight", 4)
	viper.SetDefault("sync.batch_size", 16)
	viper.SetDefault("sync.max_attempts", 8)
	viper.SetDefault("sync.interval", time.Minute)
	viper.SetDefault("sync.backoff_base", time.Second)
	viper.SetDefault("sync.backoff_cap", 5*time.Minute)
	viper.SetDefault("sync.backoff_jitter", 0.2)
	viper.SetDefault("sync.probe_interval", 30*time.Second)

	viper.SetDefault("spool.enabled", true)
	viper.SetDefault("spool.dir", "")

	viper.SetDefault("dashboard.enabled", true)
	viper.SetDefault("dashboard.port", 8477)

	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size_mb", 10)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age_days", 30)
}

// syncdDir returns the per-user syncd directory, creating it if needed.
func syncdDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}

	dir := filepath.Join(home, ".syncd")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}

// queuePath resolves the queue database location from config.
func queuePath() (string, error) {
	if p := viper.GetString("queue.path"); p != "" {
		return p, nil
	}

	dir, err := syncdDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.db"), nil
}

// openStore opens the queue database configured for this invocation.
func openStore() (*queue.Store, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	return queue.Open(path)
}
