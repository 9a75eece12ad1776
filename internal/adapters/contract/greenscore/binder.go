package greenscore

import (
	"fmt"

	"github.com/bnema/greenscore/internal/config"
	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/ports"
)

// Binder resolves deployments from the configured table.
type Binder struct {
	deployments map[uint64]config.Deployment
}

var _ ports.ContractBinder = (*Binder)(nil)

func NewBinder(deployments map[uint64]config.Deployment) *Binder {
	return &Binder{deployments: deployments}
}

func (b *Binder) Bind(provider ports.WalletProvider, chainID uint64) (ports.GreenScoreContract, error) {
	deployment, ok := b.deployments[chainID]
	if !ok {
		return nil, fmt.Errorf("chain %d: %w", chainID, domain.ErrContractUnavailable)
	}
	if provider == nil {
		return nil, fmt.Errorf("chain %d: provider is nil", chainID)
	}

	chainName := deployment.ChainName
	if chainName == "" {
		chainName = fmt.Sprintf("chain-%d", chainID)
	}
	return New(provider, deployment.Address, chainName), nil
}
