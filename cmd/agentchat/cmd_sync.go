package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/agentchat/internal/scheduler"
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringSlice("agent", nil, "agents to sync (default: sync.agents, or every agent of the organization)")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Prefetch thread transcripts into the local cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		agents, _ := cmd.Flags().GetStringSlice("agent")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			ids := agents
			if len(ids) == 0 {
				var err error
				if ids, err = syncAgents(a)(ctx); err != nil {
					return err
				}
			}
			res, err := scheduler.NewSyncer(a.store).Run(ctx, ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Synced %d agents: %d threads, %d fetched, %d failed.\n",
				res.Agents, res.Threads, res.Fetched, res.Failed)
			return nil
		})
	},
}

// syncAgents returns the agents to keep cached: sync.agents when set,
// otherwise every agent of the current organization.
func syncAgents(a *app) func(ctx context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		if len(a.cfg.Sync.Agents) > 0 {
			return a.cfg.Sync.Agents, nil
		}
		agents, err := a.gw.Agents(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(agents))
		for _, ag := range agents {
			ids = append(ids, ag.ID)
		}
		return ids, nil
	}
}
