package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/logging"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrActionInProgress = errors.New("another transaction of this kind is in progress")

var actionLog = logging.NewLogger("actions")

// ActionTarget is everything a write path needs. All three fields must be
// set.
type ActionTarget struct {
	Contract ports.GreenScoreContract
	Instance ports.FHEInstance
	Account  common.Address
}

func (t ActionTarget) ready() bool {
	return t.Contract != nil && t.Instance != nil && t.Account != (common.Address{})
}

// ActionService runs the encrypted write paths. Each busy flag stays set for
// the whole call and is cleared on every exit.
type ActionService struct {
	submitting atomic.Bool
	claiming   atomic.Bool

	mu         sync.Mutex
	lastTxHash common.Hash
}

func NewActionService() *ActionService {
	return &ActionService{}
}

func (s *ActionService) IsSubmitting() bool {
	return s.submitting.Load()
}

func (s *ActionService) IsClaiming() bool {
	return s.claiming.Load()
}

// LastTxHash is the hash of the most recent transaction sent, or the zero
// hash.
func (s *ActionService) LastTxHash() common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTxHash
}

// SubmitAction encrypts the weighted points and the count as two inputs,
// each with its own proof, and sends one submitAction transaction.
func (s *ActionService) SubmitAction(ctx context.Context, target ActionTarget, submission domain.ActionSubmission) (domain.TxReceipt, error) {
	if !s.submitting.CompareAndSwap(false, true) {
		return domain.TxReceipt{}, ErrActionInProgress
	}
	defer s.submitting.Store(false)

	if !target.ready() {
		return domain.TxReceipt{}, domain.ErrWalletOrInstanceNotReady
	}
	action, err := domain.FindAction(submission.ActionID)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	amounts := domain.ComputeActionAmounts(action, submission.Quantity, submission.Note)

	var points, count ports.EncryptedInputResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		points, err = encryptOne(gctx, target, amounts.WeightedPoints)
		if err != nil {
			return fmt.Errorf("encrypt points: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		count, err = encryptOne(gctx, target, amounts.Quantity)
		if err != nil {
			return fmt.Errorf("encrypt count: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.TxReceipt{}, err
	}

	tx, err := target.Contract.SubmitAction(ctx, target.Account, ports.SubmitActionArgs{
		EncryptedPoints: points.Handles[0],
		PointsProof:     points.InputProof,
		EncryptedCount:  count.Handles[0],
		CountProof:      count.InputProof,
		Bucket:          amounts.Bucket,
		NoteHash:        amounts.NoteHash,
		PlainQuantity:   uint32(amounts.Quantity),
	})
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("submit action: %w", err)
	}
	s.recordTx(tx)

	actionLog.WithFields(logrus.Fields{
		"action":   action.ID,
		"quantity": amounts.Quantity,
		"tx":       tx.Hex(),
	}).Info("action submitted")

	return target.Contract.WaitMined(ctx, tx)
}

// ClaimReward encrypts amount and sends one claimReward transaction. A
// non-positive amount fails before anything is encrypted.
func (s *ActionService) ClaimReward(ctx context.Context, target ActionTarget, amount int64) (domain.TxReceipt, error) {
	if !s.claiming.CompareAndSwap(false, true) {
		return domain.TxReceipt{}, ErrActionInProgress
	}
	defer s.claiming.Store(false)

	if !target.ready() {
		return domain.TxReceipt{}, domain.ErrWalletOrInstanceNotReady
	}
	if amount <= 0 {
		return domain.TxReceipt{}, domain.ErrNothingToClaim
	}

	encrypted, err := encryptOne(ctx, target, uint64(amount))
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("encrypt claim amount: %w", err)
	}

	tx, err := target.Contract.ClaimReward(ctx, target.Account, encrypted.Handles[0], encrypted.InputProof)
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("claim reward: %w", err)
	}
	s.recordTx(tx)

	actionLog.WithFields(logrus.Fields{"amount": amount, "tx": tx.Hex()}).Info("reward claimed")

	return target.Contract.WaitMined(ctx, tx)
}

func (s *ActionService) recordTx(tx common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTxHash = tx
}

func encryptOne(ctx context.Context, target ActionTarget, value uint64) (ports.EncryptedInputResult, error) {
	result, err := target.Instance.
		CreateEncryptedInput(target.Contract.Address(), target.Account).
		Add64(value).
		Encrypt(ctx)
	if err != nil {
		return ports.EncryptedInputResult{}, err
	}
	if len(result.Handles) != 1 {
		return ports.EncryptedInputResult{}, fmt.Errorf("expected 1 handle, got %d", len(result.Handles))
	}
	return result, nil
}
