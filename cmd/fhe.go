package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFheCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fhe",
		Short: "Inspect the FHE session",
	}

	cmd.AddCommand(newFheStatusCmd(app))

	return cmd
}

func newFheStatusCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Build the FHE instance for the connected chain and report its state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runtime, release, err := app.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			status := runtime.Status()
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "fhe: %s\n", status.Instance.Status)
			if status.Instance.ChainID != nil {
				_, _ = fmt.Fprintf(w, "chain: %d\n", *status.Instance.ChainID)
			}
			if status.Instance.Error != "" {
				_, _ = fmt.Fprintf(w, "error: %s\n", status.Instance.Error)
			}
			if status.ContractErr == nil {
				_, _ = fmt.Fprintf(w, "contract: %s\n", status.Contract.Hex())
			}
			_, _ = fmt.Fprintf(w, "ready: %t\n", status.Ready)
			return nil
		},
	}
}
