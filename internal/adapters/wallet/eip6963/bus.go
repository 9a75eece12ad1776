// Package eip6963 carries the wallet discovery exchange over an in-process
// event bus: discoverers broadcast a request and wallets answer with an
// announcement.
package eip6963

import (
	"fmt"
	"strings"

	evbus "github.com/asaskevich/EventBus"
	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/google/uuid"
)

const (
	TopicRequestProvider  = "eip6963:requestProvider"
	TopicAnnounceProvider = "eip6963:announceProvider"
)

// Bus keeps requests and announcements on separate event buses: EventBus
// holds its lock while a synchronous handler runs, and wallets announce from
// inside their request handler.
type Bus struct {
	requests      evbus.Bus
	announcements evbus.Bus
}

var _ ports.ProviderBus = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{requests: evbus.New(), announcements: evbus.New()}
}

func (b *Bus) RequestProviders() {
	b.requests.Publish(TopicRequestProvider)
}

func (b *Bus) OnAnnounce(handler func(ports.ProviderDetail)) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", TopicAnnounceProvider)
	}
	if err := b.announcements.Subscribe(TopicAnnounceProvider, handler); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", TopicAnnounceProvider, err)
	}
	return func() {
		_ = b.announcements.Unsubscribe(TopicAnnounceProvider, handler)
	}, nil
}

func (b *Bus) Announce(detail ports.ProviderDetail) {
	b.announcements.Publish(TopicAnnounceProvider, detail)
}

// Register makes provider answer every discovery request. A missing UUID is
// generated so the announcement can be de-duplicated.
func (b *Bus) Register(info domain.ProviderInfo, provider ports.WalletProvider) (domain.ProviderInfo, error) {
	if provider == nil {
		return domain.ProviderInfo{}, fmt.Errorf("register %q: provider is nil", info.Name)
	}
	if strings.TrimSpace(info.UUID) == "" {
		info.UUID = uuid.NewString()
	}

	detail := ports.ProviderDetail{Info: info, Provider: provider}
	announce := func() {
		b.Announce(detail)
	}
	if err := b.requests.Subscribe(TopicRequestProvider, announce); err != nil {
		return domain.ProviderInfo{}, fmt.Errorf("register %q: %w", info.Name, err)
	}

	return info, nil
}
