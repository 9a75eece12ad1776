package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/logging"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/sirupsen/logrus"
)

const (
	KeyLastConnectorID = "wallet.lastConnectorId"
	KeyLastAccounts    = "wallet.lastAccounts"
	KeyLastChainID     = "wallet.lastChainId"
	KeyConnected       = "wallet.connected"
)

var sessionLog = logging.NewLogger("session")

// AccountDropper forgets authorization material held for an account.
type AccountDropper interface {
	Drop(ctx context.Context, account string) error
}

type SessionOptions struct {
	Discovery *DiscoveryService
	// Fallback answers when no announced provider matches. It is selected
	// under the "injected" connector id.
	Fallback     ports.WalletProvider
	FallbackName string
	Budget       time.Duration
	Dropper      AccountDropper
}

// SessionService owns the wallet session. It is the only writer of the
// snapshot and persists every change before observers hear about it.
type SessionService struct {
	store        ports.KVStore
	discovery    *DiscoveryService
	fallback     ports.WalletProvider
	fallbackName string
	budget       time.Duration
	dropper      AccountDropper

	mu            sync.Mutex
	state         domain.WalletState
	provider      ports.WalletProvider
	subscriptions []func()
	observers     map[uint64]func(domain.WalletState)
	nextObserver  uint64
}

func NewSessionService(store ports.KVStore, opts SessionOptions) *SessionService {
	name := opts.FallbackName
	if name == "" {
		name = "Injected"
	}
	return &SessionService{
		store:        store,
		discovery:    opts.Discovery,
		fallback:     opts.Fallback,
		fallbackName: name,
		budget:       opts.Budget,
		dropper:      opts.Dropper,
		state:        domain.WalletState{Status: domain.WalletStatusIdle},
		observers:    map[uint64]func(domain.WalletState){},
	}
}

func (s *SessionService) State() domain.WalletState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Provider returns the active provider, or nil when none is attached.
func (s *SessionService) Provider() ports.WalletProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider
}

// Subscribe registers fn for every state change. fn runs on the goroutine
// that made the change, after the lock is released.
func (s *SessionService) Subscribe(fn func(domain.WalletState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// Hydrate restores the persisted snapshot. A session persisted as connected
// comes back as reconnecting until Reconnect settles it.
func (s *SessionService) Hydrate(ctx context.Context) error {
	snapshot, connected, err := s.loadSnapshot(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state.Snapshot = snapshot
	s.state.Error = ""
	if connected {
		s.state.Status = domain.WalletStatusReconnecting
	} else {
		s.state.Status = domain.WalletStatusIdle
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// Connect prompts the resolved provider for accounts. preferredID selects an
// announced provider by UUID; empty falls back to the last connector used.
func (s *SessionService) Connect(ctx context.Context, preferredID string) ([]string, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.setStatus(domain.WalletStatusConnecting)

	detail, connectorID, err := s.resolveProvider(ctx, preferredID)
	if err != nil {
		s.fail(err)
		return nil, 0, err
	}
	prior := s.activeDetail()
	s.attach(detail)

	rawAccounts, err := detail.Provider.Request(ctx, "eth_requestAccounts")
	if err != nil {
		err = fmt.Errorf("request accounts: %w", err)
		s.restore(prior)
		s.fail(err)
		return nil, 0, err
	}
	accounts := accountsFromPayload(rawAccounts)
	if len(accounts) == 0 {
		err = fmt.Errorf("%w: wallet returned no accounts", domain.ErrUserRejected)
		s.restore(prior)
		s.fail(err)
		return nil, 0, err
	}

	chainID, err := readChainID(ctx, detail.Provider)
	if err != nil {
		s.restore(prior)
		s.fail(err)
		return nil, 0, err
	}

	snapshot := domain.SessionSnapshot{Accounts: accounts, ChainID: &chainID, LastConnectorID: connectorID}
	if err := s.commit(ctx, snapshot, domain.WalletStatusConnected); err != nil {
		return nil, 0, err
	}

	sessionLog.WithFields(logrus.Fields{"connector": connectorID, "chain_id": chainID}).Info("wallet connected")
	return append([]string{}, accounts...), chainID, nil
}

// Reconnect silently restores a session left in the reconnecting state. It
// never prompts: zero accounts reset the session to idle.
func (s *SessionService) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	status := s.state.Status
	preferredID := s.state.Snapshot.LastConnectorID
	s.mu.Unlock()
	if status != domain.WalletStatusReconnecting {
		return nil
	}

	detail, connectorID, err := s.resolveProvider(ctx, preferredID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.resetAccounts(ctx)
		return err
	}
	s.attach(detail)

	rawAccounts, err := detail.Provider.Request(ctx, "eth_accounts")
	if err != nil {
		err = fmt.Errorf("read accounts: %w", err)
		s.fail(err)
		return err
	}
	accounts := accountsFromPayload(rawAccounts)
	if len(accounts) == 0 {
		s.resetAccounts(ctx)
		return nil
	}

	chainID, err := readChainID(ctx, detail.Provider)
	if err != nil {
		s.fail(err)
		return err
	}

	snapshot := domain.SessionSnapshot{Accounts: accounts, ChainID: &chainID, LastConnectorID: connectorID}
	return s.commit(ctx, snapshot, domain.WalletStatusConnected)
}

// Disconnect drops the provider and clears the session. Persistence and
// provider failures are logged, never returned.
func (s *SessionService) Disconnect(ctx context.Context) {
	s.mu.Lock()
	provider := s.provider
	subscriptions := s.subscriptions
	previous := s.state.Snapshot.Accounts
	s.provider = nil
	s.subscriptions = nil
	s.state = domain.WalletState{Status: domain.WalletStatusIdle}
	s.mu.Unlock()

	for _, unsubscribe := range subscriptions {
		unsubscribe()
	}
	if provider != nil {
		if _, err := provider.Request(ctx, "wallet_disconnect"); err != nil {
			sessionLog.WithError(err).Debug("provider disconnect failed")
		}
	}

	if err := s.persist(ctx, domain.SessionSnapshot{}, false); err != nil {
		sessionLog.WithError(err).Warn("could not clear persisted session")
	}
	s.dropAccounts(ctx, previous, nil)
	s.notify()
}

// UpdateSnapshot merges patch into the snapshot and persists it before
// returning. connected, when set, overrides the connected flag; a snapshot
// without accounts is always idle.
func (s *SessionService) UpdateSnapshot(ctx context.Context, patch domain.SnapshotPatch, connected *bool) error {
	s.mu.Lock()
	next := s.state.Snapshot.Apply(patch)
	s.state.Snapshot = next
	switch {
	case len(next.Accounts) == 0:
		s.state.Status = domain.WalletStatusIdle
	case connected != nil && *connected:
		s.state.Status = domain.WalletStatusConnected
		s.state.Error = ""
	case connected != nil:
		s.state.Status = domain.WalletStatusIdle
	}
	isConnected := s.state.Status == domain.WalletStatusConnected
	s.mu.Unlock()

	err := s.persist(ctx, next, isConnected)
	s.notify()
	return err
}

func (s *SessionService) resolveProvider(ctx context.Context, preferredID string) (ports.ProviderDetail, string, error) {
	if preferredID == "" {
		s.mu.Lock()
		preferredID = s.state.Snapshot.LastConnectorID
		s.mu.Unlock()
	}

	var discovered []ports.ProviderDetail
	if s.discovery != nil && preferredID != domain.InjectedConnectorID {
		details, err := s.discovery.Discover(ctx, s.budget)
		if err != nil {
			return ports.ProviderDetail{}, "", err
		}
		discovered = details
	}

	for _, detail := range discovered {
		if preferredID != "" && detail.Info.UUID == preferredID {
			return detail, detail.Info.UUID, nil
		}
	}
	if s.fallback != nil {
		info := domain.ProviderInfo{UUID: domain.InjectedConnectorID, Name: s.fallbackName}
		return ports.ProviderDetail{Info: info, Provider: s.fallback}, domain.InjectedConnectorID, nil
	}
	if len(discovered) > 0 {
		return discovered[0], discovered[0].Info.UUID, nil
	}
	return ports.ProviderDetail{}, "", domain.ErrNoProviderFound
}

// attach makes detail the active provider and moves the event subscriptions
// to it. It must not run inside a provider event handler.
func (s *SessionService) attach(detail ports.ProviderDetail) {
	provider := detail.Provider

	s.mu.Lock()
	s.state.ProviderName = detail.Info.Name
	if s.provider == provider && len(s.subscriptions) > 0 {
		s.mu.Unlock()
		return
	}
	stale := s.subscriptions
	s.subscriptions = nil
	s.provider = provider
	s.mu.Unlock()

	for _, unsubscribe := range stale {
		unsubscribe()
	}

	handlers := []struct {
		event   ports.WalletEvent
		handler func(any)
	}{
		{ports.EventAccountsChanged, func(payload any) { s.onAccountsChanged(provider, payload) }},
		{ports.EventChainChanged, func(payload any) { s.onChainChanged(provider, payload) }},
		{ports.EventConnect, func(payload any) { s.onConnect(provider, payload) }},
		{ports.EventDisconnect, func(any) { s.onDisconnect(provider) }},
	}

	subscriptions := make([]func(), 0, len(handlers))
	for _, h := range handlers {
		unsubscribe, err := provider.On(h.event, h.handler)
		if err != nil {
			sessionLog.WithError(err).WithField("event", h.event).Warn("could not subscribe to provider event")
			continue
		}
		subscriptions = append(subscriptions, unsubscribe)
	}

	s.mu.Lock()
	if s.provider == provider {
		s.subscriptions = subscriptions
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	for _, unsubscribe := range subscriptions {
		unsubscribe()
	}
}

func (s *SessionService) activeDetail() ports.ProviderDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ports.ProviderDetail{Info: domain.ProviderInfo{Name: s.state.ProviderName}, Provider: s.provider}
}

// restore puts back the provider that was active before a failed connect.
func (s *SessionService) restore(prior ports.ProviderDetail) {
	if prior.Provider != nil {
		s.attach(prior)
		return
	}

	s.mu.Lock()
	stale := s.subscriptions
	s.subscriptions = nil
	s.provider = nil
	s.state.ProviderName = ""
	s.mu.Unlock()

	for _, unsubscribe := range stale {
		unsubscribe()
	}
}

// Event handlers run with the provider's emitter locked. They must not
// subscribe, unsubscribe or issue provider requests.

func (s *SessionService) onAccountsChanged(provider ports.WalletProvider, payload any) {
	accounts := accountsFromPayload(payload)

	s.mu.Lock()
	if s.provider != provider {
		s.mu.Unlock()
		return
	}
	previous := s.state.Snapshot.Accounts
	s.state.Snapshot.Accounts = accounts
	if len(accounts) == 0 {
		s.state.Status = domain.WalletStatusIdle
	}
	snapshot := s.state.Snapshot.Clone()
	connected := s.state.Status == domain.WalletStatusConnected
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.persist(ctx, snapshot, connected); err != nil {
		sessionLog.WithError(err).Warn("could not persist account change")
	}
	s.dropAccounts(ctx, previous, accounts)
	sessionLog.WithField("accounts", len(accounts)).Debug("accounts changed")
	s.notify()
}

func (s *SessionService) onChainChanged(provider ports.WalletProvider, payload any) {
	chainID, ok := domain.ParseChainID(payload)
	if !ok {
		sessionLog.WithField("payload", payload).Warn("ignoring unparseable chain id")
		return
	}

	s.mu.Lock()
	if s.provider != provider {
		s.mu.Unlock()
		return
	}
	s.state.Snapshot.ChainID = &chainID
	snapshot := s.state.Snapshot.Clone()
	connected := s.state.Status == domain.WalletStatusConnected
	s.mu.Unlock()

	if err := s.persist(context.Background(), snapshot, connected); err != nil {
		sessionLog.WithError(err).Warn("could not persist chain change")
	}
	sessionLog.WithField("chain_id", chainID).Debug("chain changed")
	s.notify()
}

func (s *SessionService) onConnect(provider ports.WalletProvider, payload any) {
	var raw any = payload
	switch info := payload.(type) {
	case ports.ConnectInfo:
		raw = info.ChainID
	case *ports.ConnectInfo:
		if info != nil {
			raw = info.ChainID
		}
	case map[string]any:
		raw = info["chainId"]
	}

	s.mu.Lock()
	if s.provider != provider {
		s.mu.Unlock()
		return
	}
	if chainID, ok := domain.ParseChainID(raw); ok {
		s.state.Snapshot.ChainID = &chainID
	}
	if len(s.state.Snapshot.Accounts) > 0 {
		s.state.Status = domain.WalletStatusConnected
		s.state.Error = ""
	}
	snapshot := s.state.Snapshot.Clone()
	connected := s.state.Status == domain.WalletStatusConnected
	s.mu.Unlock()

	if err := s.persist(context.Background(), snapshot, connected); err != nil {
		sessionLog.WithError(err).Warn("could not persist connect event")
	}
	s.notify()
}

// onDisconnect resets the session but leaves the stale subscriptions in
// place; the next attach or Disconnect removes them.
func (s *SessionService) onDisconnect(provider ports.WalletProvider) {
	s.mu.Lock()
	if s.provider != provider {
		s.mu.Unlock()
		return
	}
	previous := s.state.Snapshot.Accounts
	s.provider = nil
	s.state = domain.WalletState{Status: domain.WalletStatusIdle}
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.persist(ctx, domain.SessionSnapshot{}, false); err != nil {
		sessionLog.WithError(err).Warn("could not clear persisted session")
	}
	s.dropAccounts(ctx, previous, nil)
	sessionLog.Info("wallet disconnected by provider")
	s.notify()
}

func (s *SessionService) commit(ctx context.Context, snapshot domain.SessionSnapshot, status domain.WalletStatus) error {
	s.mu.Lock()
	previous := s.state.Snapshot.Accounts
	s.state.Snapshot = snapshot.Clone()
	s.state.Status = status
	s.state.Error = ""
	s.mu.Unlock()

	err := s.persist(ctx, snapshot, status == domain.WalletStatusConnected)
	s.dropAccounts(ctx, previous, snapshot.Accounts)
	s.notify()
	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (s *SessionService) resetAccounts(ctx context.Context) {
	s.mu.Lock()
	previous := s.state.Snapshot.Accounts
	s.state.Snapshot.Accounts = []string{}
	s.state.Status = domain.WalletStatusIdle
	s.state.Error = ""
	s.mu.Unlock()

	if err := s.store.Set(ctx, KeyConnected, "false"); err != nil {
		sessionLog.WithError(err).Warn("could not reset connected flag")
	}
	if err := s.store.Set(ctx, KeyLastAccounts, "[]"); err != nil {
		sessionLog.WithError(err).Warn("could not reset persisted accounts")
	}
	s.dropAccounts(ctx, previous, nil)
	s.notify()
}

func (s *SessionService) setStatus(status domain.WalletStatus) {
	s.mu.Lock()
	s.state.Status = status
	s.state.Error = ""
	s.mu.Unlock()
	s.notify()
}

func (s *SessionService) fail(err error) {
	s.mu.Lock()
	s.state.Status = domain.WalletStatusError
	s.state.Error = err.Error()
	s.mu.Unlock()

	sessionLog.WithError(err).Debug("wallet session failed")
	s.notify()
}

func (s *SessionService) persist(ctx context.Context, snapshot domain.SessionSnapshot, connected bool) error {
	accounts := snapshot.Accounts
	if accounts == nil {
		accounts = []string{}
	}
	encoded, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}

	chainID := ""
	if snapshot.ChainID != nil {
		chainID = strconv.FormatUint(*snapshot.ChainID, 10)
	}

	values := []struct{ key, value string }{
		{KeyLastConnectorID, snapshot.LastConnectorID},
		{KeyLastAccounts, string(encoded)},
		{KeyLastChainID, chainID},
		{KeyConnected, strconv.FormatBool(connected)},
	}
	for _, kv := range values {
		if err := s.store.Set(ctx, kv.key, kv.value); err != nil {
			return fmt.Errorf("persist %s: %w", kv.key, err)
		}
	}
	return nil
}

func (s *SessionService) loadSnapshot(ctx context.Context) (domain.SessionSnapshot, bool, error) {
	read := func(key string) (string, error) {
		value, err := s.store.Get(ctx, key)
		if errors.Is(err, ports.ErrKeyNotFound) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", key, err)
		}
		return value, nil
	}

	var snapshot domain.SessionSnapshot
	connectorID, err := read(KeyLastConnectorID)
	if err != nil {
		return domain.SessionSnapshot{}, false, err
	}
	snapshot.LastConnectorID = connectorID

	rawAccounts, err := read(KeyLastAccounts)
	if err != nil {
		return domain.SessionSnapshot{}, false, err
	}
	if rawAccounts != "" {
		var accounts []string
		if err := json.Unmarshal([]byte(rawAccounts), &accounts); err != nil {
			sessionLog.WithError(err).Warn("ignoring malformed persisted accounts")
		} else {
			snapshot.Accounts = accountsFromPayload(accounts)
		}
	}

	rawChainID, err := read(KeyLastChainID)
	if err != nil {
		return domain.SessionSnapshot{}, false, err
	}
	if chainID, ok := domain.ParseChainID(rawChainID); ok {
		snapshot.ChainID = &chainID
	}

	rawConnected, err := read(KeyConnected)
	if err != nil {
		return domain.SessionSnapshot{}, false, err
	}

	return snapshot, rawConnected == "true", nil
}

func (s *SessionService) dropAccounts(ctx context.Context, previous []string, current []string) {
	if s.dropper == nil {
		return
	}
	kept := make(map[string]struct{}, len(current))
	for _, account := range current {
		kept[strings.ToLower(account)] = struct{}{}
	}
	for _, account := range previous {
		if _, ok := kept[strings.ToLower(account)]; ok {
			continue
		}
		if err := s.dropper.Drop(ctx, account); err != nil {
			sessionLog.WithError(err).Warn("could not drop account authorization")
		}
	}
}

func (s *SessionService) notify() {
	s.mu.Lock()
	state := s.stateLocked()
	observers := make([]func(domain.WalletState), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}

func (s *SessionService) stateLocked() domain.WalletState {
	state := s.state
	state.Snapshot = s.state.Snapshot.Clone()
	return state
}

func readChainID(ctx context.Context, provider ports.WalletProvider) (uint64, error) {
	raw, err := provider.Request(ctx, "eth_chainId")
	if err != nil {
		return 0, fmt.Errorf("read chain id: %w", err)
	}
	chainID, ok := domain.ParseChainID(raw)
	if !ok {
		return 0, fmt.Errorf("read chain id: unparseable value %s", string(raw))
	}
	return chainID, nil
}

// accountsFromPayload accepts the shapes wallets deliver accounts in and
// drops blank entries.
func accountsFromPayload(payload any) []string {
	var raw []string
	switch v := payload.(type) {
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if account, ok := item.(string); ok {
				raw = append(raw, account)
			}
		}
	case json.RawMessage:
		if err := json.Unmarshal(v, &raw); err != nil {
			sessionLog.WithError(err).Debug("ignoring malformed accounts payload")
		}
	}

	accounts := make([]string, 0, len(raw))
	for _, account := range raw {
		if trimmed := strings.TrimSpace(account); trimmed != "" {
			accounts = append(accounts, trimmed)
		}
	}
	return accounts
}
