package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResumeCmd(app *app) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "resume <request-id>",
		Short: "Resume a request parked on a verification challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.client(server).Resume(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("resume %s: %w", args[0], err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "resumed %s\n", args[0])
			return err
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "relay base URL (defaults to http://<server.listen>)")
	return cmd
}

func newCancelCmd(app *app) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "cancel <request-id>",
		Short: "Cancel a running request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.client(server).Cancel(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("cancel %s: %w", args[0], err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return err
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "relay base URL (defaults to http://<server.listen>)")
	return cmd
}
