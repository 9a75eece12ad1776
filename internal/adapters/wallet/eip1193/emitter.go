package eip1193

import (
	"fmt"

	evbus "github.com/asaskevich/EventBus"
	"github.com/bnema/greenscore/internal/ports"
)

// Emitter dispatches provider events synchronously. Handlers run with the
// bus locked and must not emit or unsubscribe on the same emitter. EventBus
// matches handlers by code pointer on unsubscribe, so a caller must not hold
// two live subscriptions created from the same closure literal on one event.
type Emitter struct {
	bus evbus.Bus
}

func NewEmitter() *Emitter {
	return &Emitter{bus: evbus.New()}
}

func (e *Emitter) On(event ports.WalletEvent, handler func(payload any)) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", event)
	}
	if err := e.bus.Subscribe(string(event), handler); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", event, err)
	}

	return func() {
		_ = e.bus.Unsubscribe(string(event), handler)
	}, nil
}

func (e *Emitter) Emit(event ports.WalletEvent, payload any) {
	e.bus.Publish(string(event), payload)
}
