package eip1193

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer signs typed data through a provider's eth_signTypedData_v4.
type Signer struct {
	provider ports.WalletProvider
	address  common.Address
}

var _ ports.Signer = (*Signer)(nil)

func NewSigner(provider ports.WalletProvider, address common.Address) *Signer {
	return &Signer{provider: provider, address: address}
}

func (s *Signer) Address() common.Address {
	return s.address
}

func (s *Signer) SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error) {
	if s.provider == nil {
		return nil, errors.New("sign typed data: provider is nil")
	}

	payload, err := json.Marshal(typedData)
	if err != nil {
		return nil, fmt.Errorf("encode typed data: %w", err)
	}

	raw, err := s.provider.Request(ctx, "eth_signTypedData_v4", s.address.Hex(), string(payload))
	if err != nil {
		if IsUserRejected(err) {
			return nil, fmt.Errorf("sign typed data: %w", domain.ErrUserRejected)
		}
		return nil, fmt.Errorf("sign typed data: %w", err)
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	signature, err := hexutil.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(signature) != 65 {
		return nil, fmt.Errorf("decode signature: unexpected length %d", len(signature))
	}

	return signature, nil
}
