package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alvesdmateus/apphost/internal/cli/prompt"
	"github.com/alvesdmateus/apphost/pkg/models"
)

func newDeploymentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deployments",
		Aliases: []string{"deployment", "d"},
		Short:   "Manage existing deployments",
	}

	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newDeleteCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newLogsCmd(a, "logs", models.LogTypeApp, "Stream application logs of a deployment"))
	cmd.AddCommand(newLogsCmd(a, "build-logs", models.LogTypeDeploy, "Stream build and deploy logs of a deployment"))
	cmd.AddCommand(newRegionsCmd(a))
	cmd.AddCommand(newShareCmd(a))

	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all deployments",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deployments, err := a.client.ListDeployments(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(deployments))
			for _, d := range deployments {
				regions := "-"
				if len(d.Regions) > 0 {
					regions = strings.Join(d.Regions, ",")
				}
				rows = append(rows, []string{d.Key, d.AppName, d.URL, regions, formatTime(d.UpdatedAt)})
			}

			return printOutput(cmd.OutOrStdout(), a.output, deployments,
				[]string{"KEY", "APP", "URL", "REGIONS", "UPDATED"}, rows)
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			out := cmd.OutOrStdout()

			if !yes {
				confirmed, err := prompt.New(cmd.InOrStdin(), out).
					Confirm(fmt.Sprintf("Delete deployment %q? This cannot be undone.", key), false)
				if err != nil {
					return fmt.Errorf("read confirmation: %w", err)
				}
				if !confirmed {
					fmt.Fprintln(out, "Aborted.")
					return nil
				}
			}

			if err := a.client.DeleteDeployment(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted deployment %s\n", key)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <key>",
		Short: "Show whether both halves of a deployment are reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := a.client.GetDeploymentStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			rows := [][]string{
				{"frontend", status.Frontend.URL, yesNo(status.Frontend.Reachable), formatTime(status.Frontend.UpdatedAt)},
				{"backend", status.Backend.URL, yesNo(status.Backend.Reachable), formatTime(status.Backend.UpdatedAt)},
			}
			return printOutput(cmd.OutOrStdout(), a.output, status,
				[]string{"COMPONENT", "URL", "REACHABLE", "UPDATED"}, rows)
		},
	}
}

func newLogsCmd(a *app, use, logType, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <key>",
		Short: short,
		Long:  short + ". Rows are printed until the server ends the stream or Ctrl-C is pressed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.client.StreamLogs(cmd.Context(), args[0], logType, cmd.OutOrStdout())
		},
	}
}

func newRegionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List the regions deployments can be placed in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			regions, err := a.client.ListRegions(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(regions))
			for _, r := range regions {
				rows = append(rows, []string{r.Code, r.Name})
			}
			return printOutput(cmd.OutOrStdout(), a.output, regions, []string{"CODE", "NAME"}, rows)
		},
	}
}

func newShareCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "share <key>",
		Short: "Print a shareable message for a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deployment, err := a.client.GetDeployment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Check out %s, deployed with apphost: %s\n", deployment.AppName, deployment.URL)
			return nil
		},
	}
}
