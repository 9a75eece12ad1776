package application

import (
	"context"
	"sync"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/logging"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/sirupsen/logrus"
)

var instanceLog = logging.NewLogger("fhevm.session")

// InstanceSession is the current FHE session. Instance is set only when
// Status is ready.
type InstanceSession struct {
	Status   domain.FhevmStatus
	Instance ports.FHEInstance
	Error    string
	ChainID  *uint64
}

// InstanceManager keeps one FHE instance per (provider, chain id). Changing
// either input cancels the build in flight and starts a new one; a build
// commits only while its generation is current and its context alive.
type InstanceManager struct {
	factory ports.InstanceFactory
	root    context.Context
	stop    context.CancelFunc

	mu         sync.Mutex
	session    InstanceSession
	provider   ports.WalletProvider
	chainID    *uint64
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	observers  map[uint64]func(InstanceSession)
	nextID     uint64
}

func NewInstanceManager(factory ports.InstanceFactory) *InstanceManager {
	root, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	close(done)

	return &InstanceManager{
		factory:   factory,
		root:      root,
		stop:      stop,
		session:   InstanceSession{Status: domain.FhevmStatusIdle},
		done:      done,
		observers: map[uint64]func(InstanceSession){},
	}
}

func (m *InstanceManager) Session() InstanceSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionLocked()
}

func (m *InstanceManager) Subscribe(fn func(InstanceSession)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.observers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// SetInputs retargets the manager. Unchanged inputs keep the current
// session; a nil provider or chain id leaves it idle.
func (m *InstanceManager) SetInputs(provider ports.WalletProvider, chainID *uint64) {
	m.mu.Lock()
	if m.provider == provider && sameChainID(m.chainID, chainID) && m.session.Status != domain.FhevmStatusIdle {
		m.mu.Unlock()
		return
	}
	if m.provider == provider && sameChainID(m.chainID, chainID) && (provider == nil || chainID == nil) {
		m.mu.Unlock()
		return
	}
	m.provider = provider
	m.chainID = copyChainID(chainID)
	m.restartLocked()
	m.mu.Unlock()

	m.notify()
}

// Rebuild discards the current session and builds again with the same
// inputs. It returns once the new build has started.
func (m *InstanceManager) Rebuild(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.restartLocked()
	m.mu.Unlock()

	m.notify()
	return nil
}

// Wait blocks until the build in flight, if any, has settled and returns
// the session at that point.
func (m *InstanceManager) Wait(ctx context.Context) (InstanceSession, error) {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return InstanceSession{}, ctx.Err()
	case <-done:
		return m.Session(), nil
	}
}

// Close cancels any build in flight. The manager stays idle afterwards.
func (m *InstanceManager) Close() {
	m.mu.Lock()
	m.generation++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.session = InstanceSession{Status: domain.FhevmStatusIdle}
	m.mu.Unlock()

	m.stop()
}

func (m *InstanceManager) restartLocked() {
	m.generation++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	if m.provider == nil || m.chainID == nil || m.root.Err() != nil {
		m.session = InstanceSession{Status: domain.FhevmStatusIdle, ChainID: copyChainID(m.chainID)}
		return
	}

	ctx, cancel := context.WithCancel(m.root)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.session = InstanceSession{Status: domain.FhevmStatusCreating, ChainID: copyChainID(m.chainID)}

	go m.build(ctx, m.generation, m.provider, *m.chainID, done)
}

func (m *InstanceManager) build(ctx context.Context, generation uint64, provider ports.WalletProvider, chainID uint64, done chan struct{}) {
	defer close(done)

	fields := logrus.Fields{"chain_id": chainID, "generation": generation}
	instanceLog.WithFields(fields).Debug("building fhe instance")

	instance, err := m.factory.Build(ctx, provider, chainID)

	m.mu.Lock()
	if generation != m.generation || ctx.Err() != nil {
		m.mu.Unlock()
		instanceLog.WithFields(fields).Debug("discarding superseded fhe build")
		return
	}
	if err != nil {
		m.session = InstanceSession{Status: domain.FhevmStatusError, Error: err.Error(), ChainID: &chainID}
	} else {
		m.session = InstanceSession{Status: domain.FhevmStatusReady, Instance: instance, ChainID: &chainID}
	}
	m.mu.Unlock()

	if err != nil {
		instanceLog.WithFields(fields).WithError(err).Warn("fhe instance build failed")
	} else {
		instanceLog.WithFields(fields).Info("fhe instance ready")
	}
	m.notify()
}

func (m *InstanceManager) notify() {
	m.mu.Lock()
	session := m.sessionLocked()
	observers := make([]func(InstanceSession), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(session)
	}
}

func (m *InstanceManager) sessionLocked() InstanceSession {
	session := m.session
	session.ChainID = copyChainID(m.session.ChainID)
	return session
}

func sameChainID(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyChainID(chainID *uint64) *uint64 {
	if chainID == nil {
		return nil
	}
	value := *chainID
	return &value
}
