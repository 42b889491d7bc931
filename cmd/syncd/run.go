package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/checklisthq/syncd/internal/connectivity"
	"github.com/checklisthq/syncd/internal/dashboard"
	"github.com/checklisthq/syncd/internal/engine"
	"github.com/checklisthq/syncd/internal/remote"
	"github.com/checklisthq/syncd/internal/spool"
	"github.com/checklisthq/syncd/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Run the sync daemon in the foreground.

The daemon:
  1. Recovers any mutations stranded in flight by a previous run
  2. Watches the spool directory for mutations from other processes
  3. Dispatches queued mutations whenever the server is reachable
  4. Serves a WebSocket dashboard with live status and progress

Stop with Ctrl-C; in-flight work is released back to the queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// newDaemonLogger builds the daemon's log writer: stderr, optionally
// teed into a size-rotated file.
func newDaemonLogger(prefix string) (*log.Logger, error) {
	logFile := viper.GetString("log.file")
	if logFile == "" {
		return log.New(os.Stderr, prefix, log.LstdFlags), nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rotated := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    viper.GetInt("log.max_size_mb"),
		MaxBackups: viper.GetInt("log.max_backups"),
		MaxAge:     viper.GetInt("log.max_age_days"),
	}

	return log.New(io.MultiWriter(os.Stderr, rotated), prefix, log.LstdFlags), nil
}

func runDaemon() error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer store.Close()

	engineLog, err := newDaemonLogger("[engine] ")
	if err != nil {
		return err
	}

	client, err := remote.NewHTTPClient(&remote.HTTPConfig{
		BaseURL:   viper.GetString("server.url"),
		Timeout:   viper.GetDuration("server.timeout"),
		AuthToken: viper.GetString("server.token"),
	})
	if err != nil {
		return fmt.Errorf("failed to build remote client: %w", err)
	}

	healthURL := viper.GetString("server.health_url")
	if healthURL == "" {
		healthURL = strings.TrimSuffix(viper.GetString("server.url"), "/api") + "/health"
	}
	probe := connectivity.NewProbe(&connectivity.ProbeConfig{
		HealthURL: healthURL,
		Interval:  viper.GetDuration("sync.probe_interval"),
	})

	eng, err := engine.New(store, client, &engine.Config{
		MaxInFlight: viper.GetInt("sync.max_in_flight"),
		BatchSize:   viper.GetInt("sync.batch_size"),
		MaxAttempts: viper.GetInt("sync.max_attempts"),
		Backoff: engine.Backoff{
			Base:   viper.GetDuration("sync.backoff_base"),
			Cap:    viper.GetDuration("sync.backoff_cap"),
			Jitter: viper.GetFloat64("sync.backoff_jitter"),
		},
		SyncInterval: viper.GetDuration("sync.interval"),
		Monitor:      probe,
		Logger:       engineLog,
	})
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 4)

	go func() { errCh <- probe.Run(ctx) }()
	go func() { errCh <- eng.Run(ctx) }()

	if viper.GetBool("spool.enabled") {
		spoolDir := viper.GetString("spool.dir")
		if spoolDir == "" {
			dir, err := syncdDir()
			if err != nil {
				return err
			}
			spoolDir = filepath.Join(dir, "spool")
		}

		spoolLog, err := newDaemonLogger("[spool] ")
		if err != nil {
			return err
		}

		watcher, err := spool.New(eng, &spool.Config{
			Dir:    spoolDir,
			Logger: spoolLog,
		})
		if err != nil {
			return fmt.Errorf("failed to build spool watcher: %w", err)
		}

		go func() { errCh <- watcher.Run(ctx) }()
	}

	if viper.GetBool("dashboard.enabled") {
		dashLog, err := newDaemonLogger("[dashboard] ")
		if err != nil {
			return err
		}

		server := dashboard.NewServer(store, &dashboard.Config{
			Port:   viper.GetInt("dashboard.port"),
			Logger: dashLog,
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer func() {
			if err := server.Stop(); err != nil {
				dashLog.Printf("Error stopping dashboard: %v", err)
			}
		}()

		handler := dashboard.NewHandler(server, dashLog)
		unsubscribe := eng.Subscribe(handler.Observer())
		defer unsubscribe()

		fmt.Printf("%s Dashboard: http://localhost%s\n", ui.RenderAccent("▣"), server.GetAddr())
	}

	fmt.Printf("%s syncd running (queue: %s)\n", ui.RenderPass("✓"), store.Path())

	// First error wins; context cancellation is a clean shutdown.
	err = <-errCh
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Printf("%s syncd stopped\n", ui.RenderPass("✓"))
	return nil
}
