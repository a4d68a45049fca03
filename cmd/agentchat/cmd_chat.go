package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/user/agentchat/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat <agentID>",
	Short: "Open the interactive chat screen",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID := args[0]
		return withApp(cmd, func(ctx context.Context, a *app) error {
			// The chat screen owns the terminal; logs go to a file.
			logFile, err := os.OpenFile(filepath.Join(a.cfg.DataDir, "chat.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
			if err != nil {
				return fmt.Errorf("open chat log: %w", err)
			}
			defer logFile.Close()
			slog.SetDefault(slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})))

			if err := attach(ctx, cmd, a.gw, agentID); err != nil {
				return err
			}
			title := agentID
			if ag, err := a.gw.Agent(ctx, agentID); err != nil {
				slog.Debug("fetch agent name", "agent_id", agentID, "error", err)
			} else if ag.Name != "" {
				title = ag.Name
			}
			return tui.Run(ctx, a.gw, cliConversation(agentID), agentID, title)
		})
	},
}
