package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/spf13/cobra"
)

func newActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the green action catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tLABEL\tWEIGHT\tUNIT\tBUCKET")
			for _, action := range domain.Actions() {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\n", action.ID, action.Label, action.Weight, action.Unit, action.Bucket)
			}
			return tw.Flush()
		},
	}
}
