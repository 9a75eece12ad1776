package cmd

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/spf13/cobra"
)

func newProvidersCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List announced wallet providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			details, err := app.discovery.Discover(cmd.Context(), app.cfg.DiscoveryBudget)
			if err != nil {
				return err
			}

			if len(details) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No wallet providers announced.")
				return nil
			}

			for _, detail := range details {
				name := sanitizeForTerminal(detail.Info.Name)
				if strings.TrimSpace(name) == "" {
					name = "unnamed"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", detail.Info.UUID, name, sanitizeForTerminal(detail.Info.RDNS))
			}
			return nil
		},
	}
}

// sanitizeForTerminal drops control characters from strings a wallet
// announced about itself.
func sanitizeForTerminal(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
}
