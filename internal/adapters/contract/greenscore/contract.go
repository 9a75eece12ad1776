// Package greenscore binds the GreenScore contract through a wallet
// provider: reads use eth_call and writes use eth_sendTransaction, so the
// wallet decides how transactions are signed.
package greenscore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/logging"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const defaultPollInterval = time.Second

var contractLog = logging.NewLogger("contract.greenscore")

type Contract struct {
	provider     ports.WalletProvider
	address      common.Address
	chainName    string
	pollInterval time.Duration
}

var _ ports.GreenScoreContract = (*Contract)(nil)

type callArgs struct {
	From *common.Address `json:"from,omitempty"`
	To   common.Address  `json:"to"`
	Data hexutil.Bytes   `json:"data"`
}

func New(provider ports.WalletProvider, address common.Address, chainName string) *Contract {
	return &Contract{
		provider:     provider,
		address:      address,
		chainName:    chainName,
		pollInterval: defaultPollInterval,
	}
}

func (c *Contract) Address() common.Address {
	return c.address
}

func (c *Contract) ChainName() string {
	return c.chainName
}

func (c *Contract) EncryptedScore(ctx context.Context, user common.Address) (domain.Handle, error) {
	return c.readHandle(ctx, "getEncryptedScore", user)
}

func (c *Contract) EncryptedActionCount(ctx context.Context, user common.Address) (domain.Handle, error) {
	return c.readHandle(ctx, "getEncryptedActionCount", user)
}

func (c *Contract) EncryptedPendingRewards(ctx context.Context, user common.Address) (domain.Handle, error) {
	return c.readHandle(ctx, "getEncryptedPendingRewards", user)
}

func (c *Contract) EncryptedGlobalScore(ctx context.Context) (domain.Handle, error) {
	return c.readHandle(ctx, "getEncryptedGlobalScore")
}

func (c *Contract) EncryptedGlobalActions(ctx context.Context) (domain.Handle, error) {
	return c.readHandle(ctx, "getEncryptedGlobalActions")
}

func (c *Contract) BucketAggregate(ctx context.Context, bucket uint8) (domain.Handle, error) {
	return c.readHandle(ctx, "getBucketAggregate", bucket)
}

func (c *Contract) LeaderboardSlot(ctx context.Context, slot uint8) (domain.Handle, error) {
	return c.readHandle(ctx, "getLeaderboardSlot", slot)
}

func (c *Contract) PlainActionCount(ctx context.Context, user common.Address) (uint64, error) {
	out, err := c.call(ctx, "getPlainActionCount", user)
	if err != nil {
		return 0, err
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("getPlainActionCount: unexpected output %T", out[0])
	}
	if !count.IsUint64() {
		return 0, fmt.Errorf("getPlainActionCount: value %s overflows uint64", count)
	}
	return count.Uint64(), nil
}

func (c *Contract) readHandle(ctx context.Context, method string, args ...any) (domain.Handle, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return domain.Handle{}, err
	}
	handle, ok := out[0].([32]byte)
	if !ok {
		return domain.Handle{}, fmt.Errorf("%s: unexpected output %T", method, out[0])
	}
	return domain.Handle(handle), nil
}

func (c *Contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.provider == nil {
		return nil, errors.New("contract provider is nil")
	}

	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := c.provider.Request(ctx, "eth_call", callArgs{To: c.address, Data: data}, "latest")
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	var encoded hexutil.Bytes
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", method, err)
	}
	if len(encoded) == 0 {
		return nil, fmt.Errorf("call %s: empty result from %s", method, c.address.Hex())
	}

	out, err := parsedABI.Unpack(method, encoded)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unpack %s: expected one output, got %d", method, len(out))
	}
	return out, nil
}
