package application

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchHandlesReadsEverySlot(t *testing.T) {
	t.Parallel()

	reader := NewScoreReader(NewDecryptAuthorizer(nil, nil))
	bundle, err := reader.FetchHandles(context.Background(), newFakeContract(), common.HexToAddress(alice))
	require.NoError(t, err)

	assert.Equal(t, domain.Handle{0x01}, bundle.Score)
	assert.Equal(t, domain.Handle{0x02}, bundle.Actions)
	assert.Equal(t, domain.Handle{0x03}, bundle.PendingRewards)
	assert.Equal(t, domain.Handle{0x04}, bundle.GlobalScore)
	assert.Equal(t, domain.Handle{0x05}, bundle.GlobalActions)
	for i := range domain.BucketCount {
		assert.Equal(t, domain.Handle{0x10 + byte(i)}, bundle.Buckets[i])
		assert.Equal(t, domain.Handle{0x20 + byte(i)}, bundle.Leaderboard[i])
	}
	assert.Equal(t, uint64(7), bundle.PlainActionCount)
}

func TestFetchHandlesFailures(t *testing.T) {
	t.Parallel()

	reader := NewScoreReader(NewDecryptAuthorizer(nil, nil))

	_, err := reader.FetchHandles(context.Background(), nil, common.HexToAddress(alice))
	require.ErrorIs(t, err, domain.ErrContractUnavailable)

	contract := newFakeContract()
	contract.readErr = errors.New("execution reverted")
	_, err = reader.FetchHandles(context.Background(), contract, common.HexToAddress(alice))
	require.ErrorContains(t, err, "execution reverted")
}

func TestDecryptSkipsZeroHandles(t *testing.T) {
	t.Parallel()

	reader := NewScoreReader(NewDecryptAuthorizer(nil, nil))
	instance := &fakeInstance{}
	signer := &fakeSigner{address: common.HexToAddress(alice)}

	view, err := reader.Decrypt(context.Background(), instance, signer, contractAddress, domain.HandleBundle{PlainActionCount: 3})
	require.NoError(t, err)
	assert.Nil(t, view.Score)
	assert.Zero(t, signer.callCount())
	assert.Zero(t, instance.decryptCalls)
}

func TestDecryptBatchesOneRequest(t *testing.T) {
	t.Parallel()

	bundle := domain.HandleBundle{
		Score:       domain.Handle{0x01},
		Actions:     domain.Handle{0x02},
		GlobalScore: domain.Handle{0x01},
	}
	bundle.Buckets[2] = domain.Handle{0x12}

	instance := &fakeInstance{values: map[domain.Handle]*big.Int{
		{0x01}: big.NewInt(540),
		{0x12}: big.NewInt(24),
	}}
	signer := &fakeSigner{address: common.HexToAddress(alice)}
	reader := NewScoreReader(NewDecryptAuthorizer(nil, nil))

	view, err := reader.Decrypt(context.Background(), instance, signer, contractAddress, bundle)
	require.NoError(t, err)

	assert.Equal(t, 1, signer.callCount())
	assert.Equal(t, 1, instance.decryptCalls)
	require.Len(t, instance.lastDecrypt.Handles, 3)
	for _, pair := range instance.lastDecrypt.Handles {
		assert.Equal(t, contractAddress, pair.ContractAddress)
	}
	assert.Equal(t, []common.Address{contractAddress}, instance.lastDecrypt.Permit.ContractAddresses)

	assert.Equal(t, big.NewInt(540), view.Score)
	assert.Equal(t, big.NewInt(540), view.GlobalScore)
	assert.Nil(t, view.Actions)
	assert.Equal(t, big.NewInt(24), view.Buckets[2])
	assert.Nil(t, view.Buckets[0])
}

func TestDecryptSurfacesRejectedSignature(t *testing.T) {
	t.Parallel()

	instance := &fakeInstance{}
	signer := &fakeSigner{address: common.HexToAddress(alice), err: domain.ErrUserRejected}
	reader := NewScoreReader(NewDecryptAuthorizer(nil, nil))

	_, err := reader.Decrypt(context.Background(), instance, signer, contractAddress, domain.HandleBundle{Score: domain.Handle{0x01}})
	require.ErrorIs(t, err, domain.ErrSignatureRejected)
	assert.Zero(t, instance.decryptCalls)
}
