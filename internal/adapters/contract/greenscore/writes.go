package greenscore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
)

type receiptPayload struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	Status          hexutil.Uint64 `json:"status"`
}

func (c *Contract) SubmitAction(ctx context.Context, from common.Address, args ports.SubmitActionArgs) (common.Hash, error) {
	return c.transact(ctx, from, "submitAction",
		[32]byte(args.EncryptedPoints),
		args.PointsProof,
		[32]byte(args.EncryptedCount),
		args.CountProof,
		args.Bucket,
		[32]byte(args.NoteHash),
		args.PlainQuantity,
	)
}

func (c *Contract) ClaimReward(ctx context.Context, from common.Address, encryptedAmount domain.Handle, proof []byte) (common.Hash, error) {
	return c.transact(ctx, from, "claimReward", [32]byte(encryptedAmount), proof)
}

// WaitMined polls for the receipt until it appears or ctx ends. A receipt
// with status 0 is returned together with domain.ErrTransactionReverted.
func (c *Contract) WaitMined(ctx context.Context, tx common.Hash) (domain.TxReceipt, error) {
	interval := c.pollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	for {
		if err := ctx.Err(); err != nil {
			return domain.TxReceipt{}, err
		}

		raw, err := c.provider.Request(ctx, "eth_getTransactionReceipt", tx.Hex())
		if err != nil {
			return domain.TxReceipt{}, fmt.Errorf("get receipt %s: %w", tx.Hex(), err)
		}

		if len(raw) > 0 && string(raw) != "null" {
			var payload receiptPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return domain.TxReceipt{}, fmt.Errorf("decode receipt %s: %w", tx.Hex(), err)
			}
			receipt := domain.TxReceipt{
				Hash:        tx.Hex(),
				BlockNumber: uint64(payload.BlockNumber),
				Status:      uint64(payload.Status),
			}
			if !receipt.Succeeded() {
				return receipt, fmt.Errorf("transaction %s: %w", tx.Hex(), domain.ErrTransactionReverted)
			}
			contractLog.WithFields(logrus.Fields{"tx": tx.Hex(), "block": receipt.BlockNumber}).Debug("transaction mined")
			return receipt, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return domain.TxReceipt{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Contract) transact(ctx context.Context, from common.Address, method string, args ...any) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	if c.provider == nil {
		return common.Hash{}, errors.New("contract provider is nil")
	}

	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := c.provider.Request(ctx, "eth_sendTransaction", callArgs{From: &from, To: c.address, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("send %s: %w", method, err)
	}

	var hash common.Hash
	if err := json.Unmarshal(raw, &hash); err != nil {
		return common.Hash{}, fmt.Errorf("decode %s tx hash: %w", method, err)
	}

	contractLog.WithFields(logrus.Fields{"method": method, "tx": hash.Hex()}).Info("transaction submitted")
	return hash, nil
}
