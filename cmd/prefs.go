package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/spf13/cobra"
)

func newPrefsCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change display preferences",
	}

	cmd.AddCommand(
		newPrefsShowCmd(app),
		newPrefsSetCmd(app),
	)

	return cmd
}

func newPrefsShowCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show display preferences",
		RunE: func(cmd *cobra.Command, _ []string) error {
			prefs, err := app.preferences.Hydrate(cmd.Context())
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "theme: %s\n", prefs.Theme)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "density: %s\n", prefs.Density)
			return nil
		},
	}
}

func newPrefsSetCmd(app *app) *cobra.Command {
	var theme string
	var density string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change display preferences",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(theme) == "" && strings.TrimSpace(density) == "" {
				return errors.New("nothing to set: pass --theme or --density")
			}

			if theme != "" {
				parsed, err := domain.ParseTheme(theme)
				if err != nil {
					return err
				}
				if err := app.preferences.SetTheme(cmd.Context(), parsed); err != nil {
					return err
				}
			}
			if density != "" {
				parsed, err := domain.ParseDensity(density)
				if err != nil {
					return err
				}
				if err := app.preferences.SetDensity(cmd.Context(), parsed); err != nil {
					return err
				}
			}

			prefs := app.preferences.Current()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved theme=%s density=%s\n", prefs.Theme, prefs.Density)
			return nil
		},
	}

	cmd.Flags().StringVar(&theme, "theme", "", "light, dark or system")
	cmd.Flags().StringVar(&density, "density", "", "comfortable or compact")

	return cmd
}
