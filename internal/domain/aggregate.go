package domain

import "math/big"

const BucketCount = 5

type HandleBundle struct {
	Score            Handle              `json:"score"`
	Actions          Handle              `json:"actions"`
	PendingRewards   Handle              `json:"pendingRewards"`
	GlobalScore      Handle              `json:"globalScore"`
	GlobalActions    Handle              `json:"globalActions"`
	Buckets          [BucketCount]Handle `json:"buckets"`
	Leaderboard      [BucketCount]Handle `json:"leaderboard"`
	PlainActionCount uint64              `json:"plainActionCount"`
}

// NonZeroHandles returns each distinct non-zero handle once, in field order.
func (b HandleBundle) NonZeroHandles() []Handle {
	seen := map[Handle]struct{}{}
	out := make([]Handle, 0, 5+2*BucketCount)

	add := func(h Handle) {
		if h.IsZero() {
			return
		}
		if _, ok := seen[h]; ok {
			return
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}

	add(b.Score)
	add(b.Actions)
	add(b.PendingRewards)
	add(b.GlobalScore)
	add(b.GlobalActions)
	for _, h := range b.Buckets {
		add(h)
	}
	for _, h := range b.Leaderboard {
		add(h)
	}

	return out
}

// DecryptedView mirrors HandleBundle. A nil field is not available yet.
type DecryptedView struct {
	Score          *big.Int              `json:"score,omitempty"`
	Actions        *big.Int              `json:"actions,omitempty"`
	PendingRewards *big.Int              `json:"pendingRewards,omitempty"`
	GlobalScore    *big.Int              `json:"globalScore,omitempty"`
	GlobalActions  *big.Int              `json:"globalActions,omitempty"`
	Buckets        [BucketCount]*big.Int `json:"buckets"`
	Leaderboard    [BucketCount]*big.Int `json:"leaderboard"`
}

func NewDecryptedView(bundle HandleBundle, values map[Handle]*big.Int) DecryptedView {
	lookup := func(h Handle) *big.Int {
		if h.IsZero() {
			return nil
		}
		value, ok := values[h]
		if !ok || value == nil {
			return nil
		}
		return new(big.Int).Set(value)
	}

	view := DecryptedView{
		Score:          lookup(bundle.Score),
		Actions:        lookup(bundle.Actions),
		PendingRewards: lookup(bundle.PendingRewards),
		GlobalScore:    lookup(bundle.GlobalScore),
		GlobalActions:  lookup(bundle.GlobalActions),
	}
	for i := range BucketCount {
		view.Buckets[i] = lookup(bundle.Buckets[i])
		view.Leaderboard[i] = lookup(bundle.Leaderboard[i])
	}

	return view
}

type AggregateView struct {
	Handles   HandleBundle   `json:"handles"`
	Decrypted *DecryptedView `json:"decrypted,omitempty"`
}
