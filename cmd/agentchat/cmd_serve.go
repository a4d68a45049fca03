package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/agentchat/internal/api"
	"github.com/user/agentchat/internal/scheduler"
	"github.com/user/agentchat/internal/telegram"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local API, Telegram bridge and cache sync",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Write PID file
	pidFile, err := writePIDFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	slog.Info("agentchat started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"storage", cfg.Storage.Backend,
		"org_id", cfg.Session.OrgID,
		"max_concurrent", cfg.MaxConcurrent,
		"pid_file", pidFile,
	)

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, a.gw, cfg.Telegram.AgentID)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		slog.Info("telegram adapter started", "agent_id", cfg.Telegram.AgentID)
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Cache sync
	if cfg.Sync.Schedule != "" {
		syncer := scheduler.NewSyncer(a.store)
		sched := scheduler.New("sync", cfg.Sync.Schedule, syncer.Job(syncAgents(a)))
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
		slog.Info("scheduler started", "schedule", cfg.Sync.Schedule)
	}

	// Local API
	var httpServer *http.Server
	if cfg.HTTP.Enabled {
		httpServer = &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           api.NewServer(a.gw),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("api server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("api server error", "error", err)
				cancel()
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-ctx.Done():
			return errors.New("api server stopped")
		}

		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			shutdown(httpServer, a)
			// Clean up PID file before re-exec
			os.Remove(pidFile)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				return fmt.Errorf("re-exec: %w", err)
			}
		}

		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		shutdown(httpServer, a)
		return nil
	}
}

// shutdown stops accepting requests and lets in-flight sends persist their
// transcripts.
func shutdown(httpServer *http.Server, a *app) {
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Warn("api server shutdown", "error", err)
		}
	}
	if !a.gw.Wait(10 * time.Second) {
		slog.Warn("sends still in flight at shutdown")
	}
}
