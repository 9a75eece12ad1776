package ports

import (
	"context"
	"math/big"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

type EncryptedInput interface {
	Add64(value uint64) EncryptedInput
	Encrypt(ctx context.Context) (EncryptedInputResult, error)
}

type EncryptedInputResult struct {
	Handles    []domain.Handle
	InputProof []byte
}

type Keypair struct {
	PublicKey  string
	PrivateKey string
}

type KeyMaterial struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

type UserDecryptRequest struct {
	Handles []domain.HandleContractPair
	Permit  domain.DecryptPermit
}

// FHEInstance is the client-side homomorphic capability bound to one chain.
type FHEInstance interface {
	CreateEncryptedInput(contract common.Address, user common.Address) EncryptedInput
	GenerateKeypair() (Keypair, error)
	CreateEIP712(publicKey string, contracts []common.Address, startTimestamp int64, durationDays int) (apitypes.TypedData, error)
	UserDecrypt(ctx context.Context, req UserDecryptRequest) (map[domain.Handle]*big.Int, error)
	PublicKey() (KeyMaterial, error)
	PublicParams(bits int) (KeyMaterial, error)
}

// InstanceFactory builds an FHEInstance for a provider and chain. It must
// check ctx after every suspension point and return ctx.Err() once cancelled.
type InstanceFactory interface {
	Build(ctx context.Context, provider WalletProvider, chainID uint64) (FHEInstance, error)
}
