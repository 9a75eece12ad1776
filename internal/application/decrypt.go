package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// LegacyPermitKeyPrefix namespaces decrypt signatures persisted by older
// clients. Nothing writes under it any more.
const LegacyPermitKeyPrefix = "fhevm.decryptionSignature."

// DecryptAuthorizer issues single-use decrypt permits. Permits are never
// cached or persisted.
type DecryptAuthorizer struct {
	store ports.KVStore
	clock ports.Clock
}

func NewDecryptAuthorizer(store ports.KVStore, clock ports.Clock) *DecryptAuthorizer {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &DecryptAuthorizer{store: store, clock: clock}
}

// Authorize signs a fresh permit that lets signer decrypt contract's handles
// for PermitDurationDays. Any signing failure maps to ErrSignatureRejected.
func (a *DecryptAuthorizer) Authorize(ctx context.Context, instance ports.FHEInstance, contract common.Address, signer ports.Signer) (domain.DecryptPermit, error) {
	if err := ctx.Err(); err != nil {
		return domain.DecryptPermit{}, err
	}
	if instance == nil || signer == nil {
		return domain.DecryptPermit{}, domain.ErrWalletOrInstanceNotReady
	}

	keypair, err := instance.GenerateKeypair()
	if err != nil {
		return domain.DecryptPermit{}, fmt.Errorf("generate decrypt keypair: %w", err)
	}

	contracts := []common.Address{contract}
	start := a.clock.Now().Unix()
	typedData, err := instance.CreateEIP712(keypair.PublicKey, contracts, start, domain.PermitDurationDays)
	if err != nil {
		return domain.DecryptPermit{}, fmt.Errorf("build decrypt request: %w", err)
	}

	signature, err := signer.SignTypedData(ctx, typedData)
	if err != nil {
		if ctx.Err() != nil {
			return domain.DecryptPermit{}, ctx.Err()
		}
		return domain.DecryptPermit{}, fmt.Errorf("%w: %w", domain.ErrSignatureRejected, err)
	}

	return domain.DecryptPermit{
		PrivateKey:        keypair.PrivateKey,
		PublicKey:         keypair.PublicKey,
		Signature:         hexutil.Encode(signature),
		ContractAddresses: contracts,
		UserAddress:       signer.Address(),
		StartTimestamp:    start,
		DurationDays:      domain.PermitDurationDays,
	}, nil
}

// Drop removes any permit an older client persisted for account.
func (a *DecryptAuthorizer) Drop(ctx context.Context, account string) error {
	if a.store == nil || strings.TrimSpace(account) == "" {
		return nil
	}
	key := LegacyPermitKeyPrefix + strings.ToLower(strings.TrimSpace(account))
	if err := a.store.Delete(ctx, key); err != nil && !errors.Is(err, ports.ErrKeyNotFound) {
		return fmt.Errorf("delete legacy permit: %w", err)
	}
	return nil
}
