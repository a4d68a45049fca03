package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/agentchat/internal/types"
)

func init() {
	rootCmd.AddCommand(threadCmd)
	threadCmd.AddCommand(threadListCmd, threadShowCmd, threadDeleteCmd, threadPruneCmd)
	threadShowCmd.Flags().String("remote-id", "", "internal key of the thread, when it is not cached")
	threadDeleteCmd.Flags().String("agent", "", "agent the thread belongs to, to drop it from the cache")
	threadPruneCmd.Flags().Bool("dry-run", false, "list the transcripts that would be removed")
}

var threadCmd = &cobra.Command{
	Use:   "thread",
	Short: "Browse and manage conversation threads",
}

var threadListCmd = &cobra.Command{
	Use:   "list <agentID>",
	Short: "List an agent's threads, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			list, err := a.gw.ListThreads(ctx, args[0])
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No threads found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tCREATED\tSTATE")
			for _, th := range list {
				st := ""
				if th.IsDraft() {
					st = "draft"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					th.LocalID,
					th.Title(),
					th.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					st,
				)
			}
			return w.Flush()
		})
	},
}

var threadShowCmd = &cobra.Command{
	Use:   "show <agentID> <threadID>",
	Short: "Print a thread's messages",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		remoteID, _ := cmd.Flags().GetString("remote-id")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			agentID, localID := args[0], args[1]
			if remoteID == "" {
				if th, err := resolveThread(ctx, a.gw, agentID, localID); err == nil {
					localID, remoteID = th.LocalID, th.RemoteID
				}
			}
			msgs, err := a.gw.Messages(ctx, agentID, localID, remoteID)
			if err != nil {
				return err
			}
			printMessages(msgs)
			return nil
		})
	},
}

var threadDeleteCmd = &cobra.Command{
	Use:   "delete <threadID>",
	Short: "Delete a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if !a.gw.DeleteThread(ctx, agentID, args[0]) {
				return fmt.Errorf("delete thread %s failed", args[0])
			}
			fmt.Fprintf(os.Stdout, "Thread %s deleted.\n", args[0])
			return nil
		})
	},
}

var threadPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove cached transcripts no thread list refers to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if dryRun {
				orphans, err := a.gw.OrphanThreads(ctx)
				if err != nil {
					return fmt.Errorf("list orphaned threads: %w", err)
				}
				for _, id := range orphans {
					fmt.Fprintln(os.Stdout, id)
				}
				fmt.Fprintf(os.Stdout, "%d cached transcripts would be removed.\n", len(orphans))
				return nil
			}
			n, err := a.gw.PruneThreads(ctx)
			if err != nil {
				return fmt.Errorf("prune threads: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Removed %d cached transcripts.\n", n)
			return nil
		})
	},
}

func printMessages(msgs []types.Message) {
	for i, m := range msgs {
		if i > 0 {
			fmt.Println()
		}
		who := "Agent"
		if m.IsUser {
			who = "You"
		}
		stamp := ""
		if !m.Timestamp.IsZero() {
			stamp = " · " + m.Timestamp.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%s%s\n%s\n", who, stamp, m.Text)
	}
}
