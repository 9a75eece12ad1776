package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/spf13/cobra"
)

func newSubmitCmd(app *app) *cobra.Command {
	var actionID string
	var quantity float64
	var note string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Encrypt and submit a green action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			action, err := domain.FindAction(domain.ActionID(strings.TrimSpace(actionID)))
			if err != nil {
				return err
			}

			runtime, release, err := app.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			amounts := domain.ComputeActionAmounts(action, quantity, note)
			label := fmt.Sprintf("Submitting %d %s of %s...", amounts.Quantity, action.Unit, action.Label)
			receipt, err := runTxSpinner(cmd.Context(), cmd.ErrOrStderr(), label, func(ctx context.Context) (domain.TxReceipt, error) {
				return runtime.SubmitAction(ctx, domain.ActionSubmission{ActionID: action.ID, Quantity: quantity, Note: note})
			})
			if err != nil {
				return err
			}

			return writeReceipt(cmd, receipt, fmt.Sprintf("Submitted %s: +%d points", action.ID, amounts.WeightedPoints))
		},
	}

	cmd.Flags().StringVar(&actionID, "action", "", "Action ID (see gs actions)")
	cmd.Flags().Float64Var(&quantity, "quantity", 1, "Quantity in the action's unit, rounded to a whole number")
	cmd.Flags().StringVar(&note, "note", "", "Optional note; only its hash is sent")
	_ = cmd.MarkFlagRequired("action")

	return cmd
}

func newClaimCmd(app *app) *cobra.Command {
	var amount int64

	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Encrypt and claim pending rewards",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if amount <= 0 {
				return domain.ErrNothingToClaim
			}

			runtime, release, err := app.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			receipt, err := runTxSpinner(cmd.Context(), cmd.ErrOrStderr(), fmt.Sprintf("Claiming %d reward points...", amount), func(ctx context.Context) (domain.TxReceipt, error) {
				return runtime.ClaimReward(ctx, amount)
			})
			if err != nil {
				return err
			}

			return writeReceipt(cmd, receipt, fmt.Sprintf("Claimed %d reward points", amount))
		},
	}

	cmd.Flags().Int64Var(&amount, "amount", 0, "Reward points to claim")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func writeReceipt(cmd *cobra.Command, receipt domain.TxReceipt, summary string) error {
	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(w, summary)
	_, _ = fmt.Fprintf(w, "tx: %s (block %d)\n", receipt.Hash, receipt.BlockNumber)
	if !receipt.Succeeded() {
		return domain.ErrTransactionReverted
	}
	return nil
}
