package application

import (
	"context"
	"fmt"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// ScoreReader reads the encrypted score surface and decrypts it in one batch.
type ScoreReader struct {
	authorizer *DecryptAuthorizer
}

func NewScoreReader(authorizer *DecryptAuthorizer) *ScoreReader {
	return &ScoreReader{authorizer: authorizer}
}

// FetchHandles reads every handle of account's view concurrently.
func (r *ScoreReader) FetchHandles(ctx context.Context, contract ports.GreenScoreReader, account common.Address) (domain.HandleBundle, error) {
	if contract == nil {
		return domain.HandleBundle{}, domain.ErrContractUnavailable
	}

	var bundle domain.HandleBundle
	g, gctx := errgroup.WithContext(ctx)

	read := func(name string, dst *domain.Handle, fn func(context.Context) (domain.Handle, error)) {
		g.Go(func() error {
			handle, err := fn(gctx)
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			*dst = handle
			return nil
		})
	}

	read("score", &bundle.Score, func(ctx context.Context) (domain.Handle, error) {
		return contract.EncryptedScore(ctx, account)
	})
	read("action count", &bundle.Actions, func(ctx context.Context) (domain.Handle, error) {
		return contract.EncryptedActionCount(ctx, account)
	})
	read("pending rewards", &bundle.PendingRewards, func(ctx context.Context) (domain.Handle, error) {
		return contract.EncryptedPendingRewards(ctx, account)
	})
	read("global score", &bundle.GlobalScore, contract.EncryptedGlobalScore)
	read("global actions", &bundle.GlobalActions, contract.EncryptedGlobalActions)
	for i := range domain.BucketCount {
		bucket := uint8(i)
		read(fmt.Sprintf("bucket %d", i), &bundle.Buckets[i], func(ctx context.Context) (domain.Handle, error) {
			return contract.BucketAggregate(ctx, bucket)
		})
		read(fmt.Sprintf("leaderboard slot %d", i), &bundle.Leaderboard[i], func(ctx context.Context) (domain.Handle, error) {
			return contract.LeaderboardSlot(ctx, bucket)
		})
	}
	g.Go(func() error {
		count, err := contract.PlainActionCount(gctx, account)
		if err != nil {
			return fmt.Errorf("read plain action count: %w", err)
		}
		bundle.PlainActionCount = count
		return nil
	})

	if err := g.Wait(); err != nil {
		return domain.HandleBundle{}, err
	}
	return bundle, nil
}

// Decrypt resolves every non-zero handle of bundle with one permit and one
// decrypt call. Values the instance does not return stay nil. A bundle of
// zero handles needs no signature and no decryption.
func (r *ScoreReader) Decrypt(ctx context.Context, instance ports.FHEInstance, signer ports.Signer, contract common.Address, bundle domain.HandleBundle) (domain.DecryptedView, error) {
	handles := bundle.NonZeroHandles()
	if len(handles) == 0 {
		return domain.NewDecryptedView(bundle, nil), nil
	}
	if instance == nil || signer == nil {
		return domain.DecryptedView{}, domain.ErrWalletOrInstanceNotReady
	}

	permit, err := r.authorizer.Authorize(ctx, instance, contract, signer)
	if err != nil {
		return domain.DecryptedView{}, err
	}

	pairs := make([]domain.HandleContractPair, 0, len(handles))
	for _, handle := range handles {
		pairs = append(pairs, domain.HandleContractPair{Handle: handle, ContractAddress: contract})
	}

	values, err := instance.UserDecrypt(ctx, ports.UserDecryptRequest{Handles: pairs, Permit: permit})
	if err != nil {
		return domain.DecryptedView{}, fmt.Errorf("decrypt handles: %w", err)
	}
	return domain.NewDecryptedView(bundle, values), nil
}
