package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/greenscore/internal/adapters/fhevm/mock"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/spf13/cobra"
)

const defaultNodeCheckTimeout = 10 * time.Second

func newNodeCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Inspect the local FHE mock node",
	}

	cmd.AddCommand(newNodeCheckCmd(app))

	return cmd
}

func newNodeCheckCmd(app *app) *cobra.Command {
	var rpcURL string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the mock node answers and exposes FHE metadata",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultNodeCheckTimeout)
			defer cancel()

			client, err := rpc.DialContext(ctx, rpcURL)
			if err != nil {
				return fmt.Errorf("dial %s: %w", rpcURL, err)
			}
			defer client.Close()

			result, err := mock.Probe(ctx, client)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "node: %s\n", rpcURL)
			_, _ = fmt.Fprintf(w, "chain: %d\n", result.ChainID)
			if result.ChainID != app.cfg.Mock.ChainID {
				_, _ = fmt.Fprintf(w, "warning: mock.chain_id is %d, node reports %d\n", app.cfg.Mock.ChainID, result.ChainID)
			}
			_, _ = fmt.Fprintf(w, "acl: %s\n", result.Metadata.ACLAddress.Hex())
			_, _ = fmt.Fprintf(w, "input verifier: %s\n", result.Metadata.InputVerifierAddress.Hex())
			_, _ = fmt.Fprintf(w, "kms verifier: %s\n", result.Metadata.KMSVerifierAddress.Hex())
			return nil
		},
	}

	cmd.Flags().StringVar(&rpcURL, "rpc-url", app.cfg.Mock.RPCURL, "Mock node JSON-RPC endpoint")

	return cmd
}
