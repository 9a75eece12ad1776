package ports

import (
	"context"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type GreenScoreReader interface {
	EncryptedScore(ctx context.Context, user common.Address) (domain.Handle, error)
	EncryptedActionCount(ctx context.Context, user common.Address) (domain.Handle, error)
	EncryptedPendingRewards(ctx context.Context, user common.Address) (domain.Handle, error)
	EncryptedGlobalScore(ctx context.Context) (domain.Handle, error)
	EncryptedGlobalActions(ctx context.Context) (domain.Handle, error)
	BucketAggregate(ctx context.Context, bucket uint8) (domain.Handle, error)
	LeaderboardSlot(ctx context.Context, slot uint8) (domain.Handle, error)
	PlainActionCount(ctx context.Context, user common.Address) (uint64, error)
}

type SubmitActionArgs struct {
	EncryptedPoints domain.Handle
	PointsProof     []byte
	EncryptedCount  domain.Handle
	CountProof      []byte
	Bucket          uint8
	NoteHash        common.Hash
	PlainQuantity   uint32
}

type GreenScoreWriter interface {
	SubmitAction(ctx context.Context, from common.Address, args SubmitActionArgs) (common.Hash, error)
	ClaimReward(ctx context.Context, from common.Address, encryptedAmount domain.Handle, proof []byte) (common.Hash, error)
	WaitMined(ctx context.Context, tx common.Hash) (domain.TxReceipt, error)
}

type GreenScoreContract interface {
	Address() common.Address
	ChainName() string
	GreenScoreReader
	GreenScoreWriter
}

// ContractBinder resolves the deployed contract for a chain. It returns
// domain.ErrContractUnavailable when nothing is deployed there.
type ContractBinder interface {
	Bind(provider WalletProvider, chainID uint64) (GreenScoreContract, error)
}
