package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/agentchat/internal/config"
	"github.com/user/agentchat/internal/gateway"
	"github.com/user/agentchat/internal/metrics"
	"github.com/user/agentchat/internal/ownership"
	"github.com/user/agentchat/internal/state"
	"github.com/user/agentchat/internal/threads"
	"github.com/user/agentchat/internal/types"
	"github.com/user/agentchat/pkg/chatapi"
	"github.com/user/agentchat/pkg/chatapi/msg91"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "agentchat",
	Short:         "Chat with MSG91 agents from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config",
		filepath.Join(os.Getenv("HOME"), ".agentchat", "config.json"), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file, exiting on failure.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// app holds the wired core for one command invocation.
type app struct {
	cfg    *config.Config
	kv     types.KV
	client *msg91.Client
	store  *threads.Store
	gw     *gateway.Gateway
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	setupLogging(cfg)

	if cfg.API.Token == "" {
		return nil, errors.New("no API token configured (run `agentchat setup` or set AGENTCHAT_TOKEN)")
	}
	if cfg.API.CompanyID == "" || cfg.API.UserID == "" {
		return nil, errors.New("api.company_id and api.user_id are required (run `agentchat setup`)")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	kv, err := state.Open(ctx, state.Options{
		Backend:     cfg.Storage.Backend,
		Path:        cfg.StoragePath(),
		RedisURL:    cfg.Storage.RedisURL,
		RedisPrefix: cfg.Storage.RedisPrefix,
		SQLitePath:  cfg.SQLitePath(),
	})
	if err != nil {
		return nil, err
	}

	client := msg91.New(&msg91.Config{
		BaseURL:   cfg.API.BaseURL,
		CompanyID: cfg.API.CompanyID,
		UserID:    cfg.API.UserID,
		Timeout:   cfg.Timeout(),
		Observer:  metrics.ObserveAPI,
	}, chatapi.StaticToken(cfg.API.Token))

	store := threads.NewStore(client, kv)
	owners := ownership.NewResolver(client, ownership.NewCache(), cfg.Session.OrgID)

	maxConcurrent := int64(cfg.MaxConcurrent)
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	gw := gateway.New(client, store, owners, state.NewConversationStore(kv), gateway.WithMaxConcurrent(maxConcurrent))

	return &app{cfg: cfg, kv: kv, client: client, store: store, gw: gw}, nil
}

func (a *app) Close() {
	if err := a.kv.Close(); err != nil {
		slog.Warn("close store", "error", err)
	}
}

// withApp runs fn with a wired app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// resolveThread finds localID among the cached threads of agentID, falling
// back to the thread directory.
func resolveThread(ctx context.Context, gw *gateway.Gateway, agentID, localID string) (types.Thread, error) {
	th, ok, err := gw.ResolveThread(ctx, agentID, localID)
	if err != nil {
		return types.Thread{}, err
	}
	if !ok {
		return types.Thread{}, fmt.Errorf("thread not found: %s", localID)
	}
	return th, nil
}
