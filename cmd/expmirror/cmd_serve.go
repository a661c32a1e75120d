package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/expmirror/internal/delivery"
	"github.com/user/expmirror/internal/jobs"
	"github.com/user/expmirror/internal/telegram"
	"github.com/user/expmirror/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled jobs and the trigger server in the foreground",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

const pidFileName = "expmirror.pid"

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// The daemon handles its own signals; the root context only carries
	// cancellation for one-shot commands.
	ctx, cancel := context.WithCancel(context.WithoutCancel(cmd.Context()))
	defer cancel()

	store := jobs.NewStore(jobStorePath(cfg))
	deliveryReg := delivery.NewRegistry()

	runner := jobs.NewRunner(store, newExecutor(cfg), int64(cfg.MaxConcurrentJobs))
	runner.SetNotifier(deliveryReg.Deliver)
	runner.Start(ctx)
	defer func() {
		if !runner.WaitIdle(30 * time.Second) {
			slog.Warn("jobs still running at shutdown; canceling")
		}
		runner.Stop()
	}()

	slog.Info("expmirror started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent_jobs", cfg.MaxConcurrentJobs,
		"source", cfg.Source.BaseURL,
		"destination", cfg.DestinationEndpoint().BaseURL,
		"pid_file", pidPath,
	)

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, store, runner.Enqueue)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		deliveryReg.Register(telegram.TargetPrefix, adapter.SendTo)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	sched := jobs.NewScheduler(store, func(job *jobs.Job) {
		if _, err := runner.Enqueue(job, "cron", ""); err != nil {
			slog.Error("cron enqueue failed", "name", job.Name, "error", err)
		}
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	slog.Info("scheduler started")

	if cfg.HTTP.Enabled {
		httpServer := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: webhook.NewServer(store, runner.Enqueue),
		}
		go func() {
			slog.Info("trigger server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("trigger server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)

	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGUSR1:
			slog.Info("received SIGUSR1, reloading job schedules")
			if err := sched.Reload(); err != nil {
				slog.Error("reload schedules", "error", err)
			}
			continue
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
			}
			continue
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
