// Package fhevm picks the FHE instance strategy for a chain: the local
// mock node for the development chain and the relayer for everything else.
package fhevm

import (
	"context"
	"fmt"
	"sync"

	"github.com/bnema/greenscore/internal/adapters/fhevm/mock"
	"github.com/bnema/greenscore/internal/adapters/fhevm/relayer"
	"github.com/bnema/greenscore/internal/config"
	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/logging"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

var builderLog = logging.NewLogger("fhevm.builder")

type Builder struct {
	mock    config.MockConfig
	relayer *relayer.Strategy

	mu         sync.Mutex
	mockClient *rpc.Client
}

var _ ports.InstanceFactory = (*Builder)(nil)

// NewBuilder returns a Builder. A nil strategy limits it to the mock chain.
func NewBuilder(mockCfg config.MockConfig, strategy *relayer.Strategy) *Builder {
	return &Builder{mock: mockCfg, relayer: strategy}
}

func (b *Builder) Build(ctx context.Context, provider ports.WalletProvider, chainID uint64) (ports.FHEInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fields := logrus.Fields{"chain_id": chainID}
	if chainID == b.mock.ChainID {
		builderLog.WithFields(fields).Debug("building mock instance")
		return b.buildMock(ctx, chainID)
	}

	if b.relayer == nil {
		return nil, fmt.Errorf("chain %d: %w", chainID, domain.ErrUnsupportedNetwork)
	}
	builderLog.WithFields(fields).Debug("building relayer instance")
	instance, err := b.relayer.Build(ctx, provider)
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func (b *Builder) buildMock(ctx context.Context, chainID uint64) (ports.FHEInstance, error) {
	client, err := b.dialMock(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	instance, err := mock.New(ctx, client, mock.Options{
		ChainID:        chainID,
		CoprocessorKey: b.mock.CoprocessorKey,
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// dialMock keeps one client to the mock node for every instance it serves.
func (b *Builder) dialMock(ctx context.Context) (*rpc.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mockClient != nil {
		return b.mockClient, nil
	}
	client, err := rpc.DialContext(ctx, b.mock.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial mock node %s: %w", b.mock.RPCURL, err)
	}
	b.mockClient = client
	return client, nil
}

func (b *Builder) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.mockClient != nil {
		b.mockClient.Close()
		b.mockClient = nil
	}
	b.mu.Unlock()

	if b.relayer != nil {
		return b.relayer.Close(ctx)
	}
	return nil
}
