package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/greenscore/internal/ports"
)

const DefaultDiscoveryBudget = 200 * time.Millisecond

// DiscoveryService collects provider announcements for a fixed budget.
type DiscoveryService struct {
	bus ports.ProviderBus

	// mu serializes rounds so announcements are never split between two.
	mu sync.Mutex
}

func NewDiscoveryService(bus ports.ProviderBus) *DiscoveryService {
	return &DiscoveryService{bus: bus}
}

// Discover broadcasts one request and returns the providers that answered
// within budget, de-duplicated by UUID in arrival order. An empty result is
// not an error.
func (d *DiscoveryService) Discover(ctx context.Context, budget time.Duration) ([]ports.ProviderDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if budget <= 0 {
		budget = DefaultDiscoveryBudget
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		collected sync.Mutex
		details   []ports.ProviderDetail
		seen      = map[string]struct{}{}
	)
	unsubscribe, err := d.bus.OnAnnounce(func(detail ports.ProviderDetail) {
		if detail.Provider == nil {
			return
		}
		collected.Lock()
		defer collected.Unlock()
		if _, ok := seen[detail.Info.UUID]; ok {
			return
		}
		seen[detail.Info.UUID] = struct{}{}
		details = append(details, detail)
	})
	if err != nil {
		return nil, fmt.Errorf("listen for provider announcements: %w", err)
	}
	defer unsubscribe()

	d.bus.RequestProviders()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	collected.Lock()
	defer collected.Unlock()
	return append([]ports.ProviderDetail{}, details...), nil
}
