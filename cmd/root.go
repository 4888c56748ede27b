package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "arena",
		Short:         "arena-relay: send one prompt to two models and stream both answers",
		Long:          "arena drives a pool of browser sessions against a dual-model comparison service, streams both model responses to callers and hands verification challenges to a solver or an operator.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(app),
		newAskCmd(app),
		newResumeCmd(app),
		newCancelCmd(app),
		newStatusCmd(app),
		newProfilesCmd(app),
		newProxiesCmd(app),
		newSecretCmd(app),
	)

	return rootCmd
}
