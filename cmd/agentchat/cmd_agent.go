package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentListCmd, agentShowCmd, agentCheckCmd, agentModelsCmd, agentSetModelCmd)
	agentListCmd.Flags().String("search", "", "only list agents whose name contains this text")
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect and configure agents",
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the agents of the current organization",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		search, _ := cmd.Flags().GetString("search")
		search = strings.ToLower(strings.TrimSpace(search))

		return withApp(cmd, func(ctx context.Context, a *app) error {
			agents, err := a.gw.Agents(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tMODEL\tOWNED")
			shown := 0
			for _, ag := range agents {
				if search != "" && !strings.Contains(strings.ToLower(ag.Name), search) {
					continue
				}
				owned := ""
				if a.gw.IsAgentOwned(ctx, ag.ID) {
					owned = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ag.ID, ag.Name, modelLabel(ag.LLM.Service, ag.LLM.Model), owned)
				shown++
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if shown == 0 {
				fmt.Println("No agents found.")
			}
			return nil
		})
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show <agentID>",
	Short: "Show an agent's profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			ag, err := a.gw.Agent(ctx, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID:\t%s\n", ag.ID)
			fmt.Fprintf(w, "Name:\t%s\n", ag.Name)
			fmt.Fprintf(w, "Model:\t%s\n", modelLabel(ag.LLM.Service, ag.LLM.Model))
			fmt.Fprintf(w, "Owner:\t%s\n", ag.OwnerName)
			fmt.Fprintf(w, "Organization:\t%s\n", ag.OrgID)
			if err := w.Flush(); err != nil {
				return err
			}
			if ag.Instructions != "" {
				fmt.Println()
				fmt.Println(ag.Instructions)
			}
			return nil
		})
	},
}

var agentCheckCmd = &cobra.Command{
	Use:   "check <agentID>",
	Short: "Explain whether you may change an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			ex := a.gw.Explain(ctx, args[0])
			if ex.Error != "" {
				return fmt.Errorf("check ownership: %s", ex.Error)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Agent:\t%s\n", ex.AgentID)
			fmt.Fprintf(w, "Organization:\t%s\n", ex.OrgID)
			fmt.Fprintf(w, "Created by you:\t%s\n", yesNo(ex.Creator))
			fmt.Fprintf(w, "Editor:\t%s\n", yesNo(ex.Editor))
			fmt.Fprintf(w, "Organization default:\t%s\n", yesNo(ex.OrgDefault))
			fmt.Fprintf(w, "Owner name matches:\t%s (not used for access)\n", yesNo(ex.NameMatch))
			fmt.Fprintf(w, "Owned:\t%s\n", yesNo(ex.IsOwned))
			return w.Flush()
		})
	},
}

var agentModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models agents can run on",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			models, err := a.gw.Models(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tMODEL")
			for _, m := range models {
				fmt.Fprintf(w, "%s\t%s\n", m.Service, m.Model)
			}
			return w.Flush()
		})
	},
}

var agentSetModelCmd = &cobra.Command{
	Use:   "set-model <agentID> <service> <model>",
	Short: "Switch the model an agent you own runs on",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res := a.gw.UpdateAgentModel(ctx, args[0], args[2], args[1])
			if !res.Success {
				return errors.New(res.Message)
			}
			fmt.Fprintln(os.Stdout, res.Message)
			return nil
		})
	},
}

func modelLabel(service, model string) string {
	if service == "" && model == "" {
		return "-"
	}
	return model + " (" + service + ")"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
