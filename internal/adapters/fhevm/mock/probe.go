package mock

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

type ProbeResult struct {
	ChainID  uint64
	Metadata Metadata
}

// Probe checks that the node answers eth_chainId and exposes FHE metadata.
func Probe(ctx context.Context, client *rpc.Client) (ProbeResult, error) {
	chainID, err := ethclient.NewClient(client).ChainID(ctx)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("eth_chainId: %w", err)
	}

	metadata, err := FetchMetadata(ctx, client)
	if err != nil {
		return ProbeResult{ChainID: chainID.Uint64()}, err
	}

	return ProbeResult{ChainID: chainID.Uint64(), Metadata: metadata}, nil
}
