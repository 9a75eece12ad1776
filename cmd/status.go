package cmd

import (
	"encoding/json"
	"fmt"

	statusadapter "github.com/bnema/greenscore/internal/adapters/render/status"
	"github.com/bnema/greenscore/internal/application"
	"github.com/bnema/greenscore/internal/domain"
	"github.com/spf13/cobra"
)

type scoreOutput struct {
	Wallet   domain.WalletState    `json:"wallet"`
	Fhe      domain.FhevmStatus    `json:"fhe"`
	Ready    bool                  `json:"ready"`
	Contract string                `json:"contract,omitempty"`
	View     *domain.AggregateView `json:"view,omitempty"`
}

func writeDashboardOutput(cmd *cobra.Command, app *app, status application.RuntimeStatus, view *domain.AggregateView, txHash string, asJSON bool) error {
	if asJSON {
		out := scoreOutput{
			Wallet: status.Wallet,
			Fhe:    status.Instance.Status,
			Ready:  status.Ready,
			View:   view,
		}
		if status.ContractErr == nil {
			out.Contract = status.Contract.Hex()
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	prefs, err := app.preferences.Hydrate(cmd.Context())
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}

	rendered, err := app.statusRenderer(statusadapter.Dashboard{Status: status, View: view}, statusadapter.RenderOptions{
		Theme:   prefs.Theme,
		Density: prefs.Density,
		TxHash:  txHash,
	})
	if err != nil {
		return fmt.Errorf("render score: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}
