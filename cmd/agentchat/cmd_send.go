package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/agentchat/internal/gateway"
	"github.com/user/agentchat/internal/types"
)

func init() {
	rootCmd.AddCommand(sendCmd, chatCmd)
	sendCmd.Flags().String("thread", "", "continue this thread instead of the conversation's current one")
	sendCmd.Flags().Bool("new", false, "start a new thread")
	chatCmd.Flags().String("thread", "", "continue this thread instead of the conversation's current one")
	chatCmd.Flags().Bool("new", false, "start a new thread")
}

// cliConversation is the conversation the CLI front-ends share per agent,
// so `send` and `chat` continue the same thread.
func cliConversation(agentID string) types.ConversationKey {
	return types.NewConversationKey("cli", agentID)
}

// attach points the CLI conversation of agentID at the thread selected by
// the --thread and --new flags.
func attach(ctx context.Context, cmd *cobra.Command, gw *gateway.Gateway, agentID string) error {
	key := cliConversation(agentID)
	if fresh, _ := cmd.Flags().GetBool("new"); fresh {
		return gw.NewThread(ctx, key, agentID)
	}
	threadID, _ := cmd.Flags().GetString("thread")
	if threadID == "" {
		return nil
	}
	th, err := resolveThread(ctx, gw, agentID, threadID)
	if err != nil {
		return err
	}
	return gw.UseThread(ctx, key, th)
}

var sendCmd = &cobra.Command{
	Use:   "send <agentID> <message...>",
	Short: "Send a message to an agent and print the reply",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID := args[0]
		text := strings.Join(args[1:], " ")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := attach(ctx, cmd, a.gw, agentID); err != nil {
				return err
			}
			res, err := a.gw.Send(ctx, cliConversation(agentID), agentID, text)
			if err != nil {
				return err
			}
			if res.Err != nil {
				return fmt.Errorf("send message: %s", res.Notice)
			}
			fmt.Fprintln(os.Stdout, res.Messages[len(res.Messages)-1].Text)
			if res.NewThread != nil {
				fmt.Fprintf(os.Stderr, "(new thread %s)\n", res.NewThread.LocalID)
			}
			return nil
		})
	},
}
