package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/spf13/cobra"
)

func newWalletCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the wallet session",
	}

	cmd.AddCommand(
		newWalletConnectCmd(app),
		newWalletDisconnectCmd(app),
		newWalletStatusCmd(app),
	)

	return cmd
}

func newWalletConnectCmd(app *app) *cobra.Command {
	var connector string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect a wallet provider and persist the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.session.Hydrate(cmd.Context()); err != nil {
				return err
			}

			accounts, chainID, err := app.session.Connect(cmd.Context(), strings.TrimSpace(connector))
			if err != nil {
				return err
			}

			state := app.session.State()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Connected %s via %s on chain %d\n",
				accounts[0], sanitizeForTerminal(state.ProviderName), chainID)
			if len(accounts) > 1 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d more account(s) available\n", len(accounts)-1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&connector, "connector", "", "Provider UUID to connect (see gs providers)")

	return cmd
}

func newWalletDisconnectCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect the wallet and clear the persisted session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.restoreSession(cmd.Context()); err != nil {
				return err
			}

			app.session.Disconnect(cmd.Context())
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Disconnected")
			return nil
		},
	}
}

type walletStatusOutput struct {
	Status    domain.WalletStatus `json:"status"`
	Provider  string              `json:"provider,omitempty"`
	Account   string              `json:"account,omitempty"`
	Accounts  []string            `json:"accounts,omitempty"`
	ChainID   *uint64             `json:"chainId,omitempty"`
	Connector string              `json:"connector,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func newWalletStatusCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the wallet session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.restoreSession(cmd.Context()); err != nil {
				return err
			}

			state := app.session.State()
			out := walletStatusOutput{
				Status:    state.Status,
				Provider:  state.ProviderName,
				Account:   state.Snapshot.ActiveAccount(),
				Accounts:  state.Snapshot.Accounts,
				ChainID:   state.Snapshot.ChainID,
				Connector: state.Snapshot.LastConnectorID,
				Error:     state.Error,
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "status: %s\n", out.Status)
			if out.Provider != "" {
				_, _ = fmt.Fprintf(w, "provider: %s\n", sanitizeForTerminal(out.Provider))
			}
			if out.Account == "" {
				_, _ = fmt.Fprintln(w, "account: none")
			} else {
				_, _ = fmt.Fprintf(w, "account: %s\n", out.Account)
			}
			if out.ChainID != nil {
				_, _ = fmt.Fprintf(w, "chain: %d\n", *out.ChainID)
			}
			if out.Error != "" {
				_, _ = fmt.Fprintf(w, "error: %s\n", out.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON output")

	return cmd
}
