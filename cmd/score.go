package cmd

import (
	"errors"
	"fmt"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/spf13/cobra"
)

func newScoreCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Fetch and decrypt the connected account's score",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runtime, release, err := app.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			status := runtime.Status()
			view, err := runtime.Refetch(cmd.Context())
			switch {
			case errors.Is(err, domain.ErrWalletOrInstanceNotReady), errors.Is(err, domain.ErrContractUnavailable):
				return writeDashboardOutput(cmd, app, status, nil, "", asJSON)
			case err != nil && view.Handles == (domain.HandleBundle{}):
				return err
			case err != nil:
				// Handles were read but not decrypted; they render sealed.
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "decrypt: %v\n", err)
				view.Decrypted = nil
			}

			return writeDashboardOutput(cmd, app, status, &view, "", asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON output")

	return cmd
}
