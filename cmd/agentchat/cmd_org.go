package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/agentchat/internal/config"
)

func init() {
	rootCmd.AddCommand(orgCmd)
	orgCmd.AddCommand(orgListCmd, orgSwitchCmd)
}

var orgCmd = &cobra.Command{
	Use:   "org",
	Short: "Manage organizations",
}

var orgListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the organizations you belong to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			orgs, err := a.gw.Organizations(ctx)
			if err != nil {
				return err
			}
			if len(orgs) == 0 {
				fmt.Println("No organizations found.")
				return nil
			}

			current := a.gw.OrgID()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\tID\tNAME\tROLE")
			for _, o := range orgs {
				id := strconv.FormatInt(o.ID, 10)
				mark := ""
				if id == current {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, id, o.DisplayName(), o.RoleName)
			}
			return w.Flush()
		})
	},
}

var orgSwitchCmd = &cobra.Command{
	Use:   "switch <orgID>",
	Short: "Switch the current organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			orgID := args[0]
			profile, err := a.gw.SwitchOrganization(ctx, orgID)
			if err != nil {
				return err
			}

			// Persist to the file only, so env overrides are not written back.
			if err := config.SetValue(cfgPath, "session.org_id", orgID); err != nil {
				return fmt.Errorf("save organization: %w", err)
			}

			name := profile.Name
			if name == "" {
				name = profile.ID
			}
			fmt.Fprintf(os.Stdout, "Switched to organization %s as %s.\n", orgID, name)
			return nil
		})
	},
}
