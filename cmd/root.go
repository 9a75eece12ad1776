package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gs",
		Short:         "GreenScore CLI (gs): private sustainability scores on fhEVM",
		Long:          "gs connects a wallet, builds an FHE session for the wallet's chain, decrypts your GreenScore and submits encrypted green actions from the terminal.",
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
		newProvidersCmd(app),
		newWalletCmd(app),
		newFheCmd(app),
		newActionsCmd(),
		newScoreCmd(app),
		newSubmitCmd(app),
		newClaimCmd(app),
		newPrefsCmd(app),
		newNodeCmd(app),
	)

	return rootCmd
}
