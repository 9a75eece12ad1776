package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTarget(contract *fakeContract, instance *fakeInstance) ActionTarget {
	return ActionTarget{
		Contract: contract,
		Instance: instance,
		Account:  common.HexToAddress(alice),
	}
}

func TestSubmitActionEncryptsPointsAndCount(t *testing.T) {
	t.Parallel()

	contract := newFakeContract()
	instance := &fakeInstance{}
	service := NewActionService()

	receipt, err := service.SubmitAction(context.Background(), newTarget(contract, instance), domain.ActionSubmission{
		ActionID: domain.ActionPublicTransport,
		Quantity: 2.4,
		Note:     " bus ",
	})
	require.NoError(t, err)
	assert.Equal(t, contract.receipt, receipt)

	assert.ElementsMatch(t, [][]uint64{{36}, {2}}, instance.encryptions())

	require.Len(t, contract.submitted, 1)
	args := contract.submitted[0]
	assert.Equal(t, uint8(0), args.Bucket)
	assert.Equal(t, domain.NoteHash("bus"), args.NoteHash)
	assert.Equal(t, uint32(2), args.PlainQuantity)
	assert.NotEqual(t, args.EncryptedPoints, args.EncryptedCount)
	assert.NotEmpty(t, args.PointsProof)
	assert.NotEmpty(t, args.CountProof)

	assert.Equal(t, common.HexToHash("0xabc"), service.LastTxHash())
	assert.False(t, service.IsSubmitting())
}

func TestSubmitActionHoldsBusyFlag(t *testing.T) {
	t.Parallel()

	contract := newFakeContract()
	contract.gate = make(chan struct{})
	contract.entered = make(chan struct{})
	service := NewActionService()
	target := newTarget(contract, &fakeInstance{})
	submission := domain.ActionSubmission{ActionID: domain.ActionRecycling, Quantity: 1}

	result := make(chan error, 1)
	go func() {
		_, err := service.SubmitAction(context.Background(), target, submission)
		result <- err
	}()

	<-contract.entered
	assert.True(t, service.IsSubmitting())
	assert.False(t, service.IsClaiming())

	_, err := service.SubmitAction(context.Background(), target, submission)
	require.ErrorIs(t, err, ErrActionInProgress)

	close(contract.gate)
	require.NoError(t, receive(t, result))
	assert.False(t, service.IsSubmitting())
}

func TestSubmitActionFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		target     func() ActionTarget
		submission domain.ActionSubmission
		wantErr    error
		wantText   string
	}{
		{
			name:       "missing instance",
			target:     func() ActionTarget { return ActionTarget{Contract: newFakeContract(), Account: common.HexToAddress(alice)} },
			submission: domain.ActionSubmission{ActionID: domain.ActionRecycling, Quantity: 1},
			wantErr:    domain.ErrWalletOrInstanceNotReady,
		},
		{
			name:       "missing account",
			target:     func() ActionTarget { return ActionTarget{Contract: newFakeContract(), Instance: &fakeInstance{}} },
			submission: domain.ActionSubmission{ActionID: domain.ActionRecycling, Quantity: 1},
			wantErr:    domain.ErrWalletOrInstanceNotReady,
		},
		{
			name:       "unknown action",
			target:     func() ActionTarget { return newTarget(newFakeContract(), &fakeInstance{}) },
			submission: domain.ActionSubmission{ActionID: "flying", Quantity: 1},
			wantErr:    domain.ErrUnknownAction,
		},
		{
			name: "encryption failure",
			target: func() ActionTarget {
				return newTarget(newFakeContract(), &fakeInstance{encryptErr: errors.New("relayer unavailable")})
			},
			submission: domain.ActionSubmission{ActionID: domain.ActionRecycling, Quantity: 1},
			wantText:   "relayer unavailable",
		},
		{
			name: "reverted",
			target: func() ActionTarget {
				contract := newFakeContract()
				contract.mineErr = domain.ErrTransactionReverted
				return newTarget(contract, &fakeInstance{})
			},
			submission: domain.ActionSubmission{ActionID: domain.ActionRecycling, Quantity: 1},
			wantErr:    domain.ErrTransactionReverted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			service := NewActionService()
			_, err := service.SubmitAction(context.Background(), tt.target(), tt.submission)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantText != "" {
				require.ErrorContains(t, err, tt.wantText)
			}
			assert.False(t, service.IsSubmitting())
		})
	}
}

func TestClaimReward(t *testing.T) {
	t.Parallel()

	contract := newFakeContract()
	instance := &fakeInstance{}
	service := NewActionService()

	receipt, err := service.ClaimReward(context.Background(), newTarget(contract, instance), 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), receipt.BlockNumber)
	assert.Equal(t, [][]uint64{{250}}, instance.encryptions())
	require.Len(t, contract.claimed, 1)
	assert.Equal(t, common.HexToHash("0xdef"), service.LastTxHash())
	assert.False(t, service.IsClaiming())
}

func TestClaimRewardRejectsNothingToClaim(t *testing.T) {
	t.Parallel()

	for _, amount := range []int64{0, -5} {
		contract := newFakeContract()
		instance := &fakeInstance{}
		service := NewActionService()

		_, err := service.ClaimReward(context.Background(), newTarget(contract, instance), amount)
		require.ErrorIs(t, err, domain.ErrNothingToClaim)
		assert.Empty(t, instance.encryptions())
		assert.Empty(t, contract.claimed)
	}
}

func TestSubmitAndClaimRunIndependently(t *testing.T) {
	t.Parallel()

	contract := newFakeContract()
	contract.gate = make(chan struct{})
	contract.entered = make(chan struct{})
	service := NewActionService()
	target := newTarget(contract, &fakeInstance{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := service.SubmitAction(context.Background(), target, domain.ActionSubmission{ActionID: domain.ActionCommunity, Quantity: 3})
		assert.NoError(t, err)
	}()

	<-contract.entered
	_, err := service.ClaimReward(context.Background(), target, 10)
	require.NoError(t, err)

	close(contract.gate)
	wg.Wait()
	assert.False(t, service.IsSubmitting())
	assert.False(t, service.IsClaiming())
}
