package application

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	tomlkv "github.com/bnema/greenscore/internal/adapters/kv/toml"
	"github.com/bnema/greenscore/internal/adapters/wallet/eip1193"
	"github.com/bnema/greenscore/internal/adapters/wallet/eip6963"
	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionConnectWithFallbackPersistsSnapshot(t *testing.T) {
	t.Parallel()

	cfg := viper.New()
	cfg.Set("state.path", filepath.Join(t.TempDir(), "state.toml"))
	store, err := tomlkv.NewStore(cfg)
	require.NoError(t, err)

	provider := newFakeProvider("0x7a69", alice)
	session := NewSessionService(store, SessionOptions{Fallback: provider})

	accounts, chainID, err := session.Connect(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{alice}, accounts)
	assert.Equal(t, uint64(31337), chainID)

	state := session.State()
	assert.True(t, state.Connected())
	assert.Equal(t, domain.InjectedConnectorID, state.Snapshot.LastConnectorID)

	for key, want := range map[string]string{
		KeyLastConnectorID: domain.InjectedConnectorID,
		KeyLastAccounts:    `["` + alice + `"]`,
		KeyLastChainID:     "31337",
		KeyConnected:       "true",
	} {
		got, err := store.Get(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, want, got, key)
	}

	// A fresh service over the same file comes back reconnecting.
	restored := NewSessionService(store, SessionOptions{Fallback: provider})
	require.NoError(t, restored.Hydrate(context.Background()))
	assert.Equal(t, domain.WalletStatusReconnecting, restored.State().Status)
	assert.Equal(t, []string{alice}, restored.State().Snapshot.Accounts)
}

func TestSessionConnectPrefersAnnouncedProvider(t *testing.T) {
	t.Parallel()

	bus := eip6963.NewBus()
	first := newFakeProvider("0x1", alice)
	second := newFakeProvider("0xaa36a7", bob)
	_, err := bus.Register(domain.ProviderInfo{UUID: "wallet-a", Name: "Wallet A"}, first)
	require.NoError(t, err)
	_, err = bus.Register(domain.ProviderInfo{UUID: "wallet-b", Name: "Wallet B"}, second)
	require.NoError(t, err)

	fallback := newFakeProvider("0x7a69", alice)
	session := NewSessionService(newMemStore(nil), SessionOptions{
		Discovery: NewDiscoveryService(bus),
		Fallback:  fallback,
		Budget:    10 * time.Millisecond,
	})

	accounts, chainID, err := session.Connect(context.Background(), "wallet-b")
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, accounts)
	assert.Equal(t, uint64(11155111), chainID)
	assert.Equal(t, "wallet-b", session.State().Snapshot.LastConnectorID)
	assert.Equal(t, "Wallet B", session.State().ProviderName)
	assert.Zero(t, first.callCount("eth_requestAccounts"))
	assert.Zero(t, fallback.callCount("eth_requestAccounts"))

	// An unknown id lands on the injected fallback.
	_, _, err = session.Connect(context.Background(), "wallet-z")
	require.NoError(t, err)
	assert.Equal(t, domain.InjectedConnectorID, session.State().Snapshot.LastConnectorID)
}

func TestSessionConnectFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider func() *fakeProvider
		wantErr  error
	}{
		{
			name:     "no provider",
			provider: func() *fakeProvider { return nil },
			wantErr:  domain.ErrNoProviderFound,
		},
		{
			name: "user rejected",
			provider: func() *fakeProvider {
				p := newFakeProvider("0x7a69", alice)
				p.failWith("eth_requestAccounts", eip1193.UserRejected("denied"))
				return p
			},
			wantErr: domain.ErrUserRejected,
		},
		{
			name:     "no accounts",
			provider: func() *fakeProvider { return newFakeProvider("0x7a69") },
			wantErr:  domain.ErrUserRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := SessionOptions{}
			if p := tt.provider(); p != nil {
				opts.Fallback = p
			}
			store := newMemStore(nil)
			session := NewSessionService(store, opts)

			_, _, err := session.Connect(context.Background(), "")
			require.ErrorIs(t, err, tt.wantErr)

			state := session.State()
			assert.Equal(t, domain.WalletStatusError, state.Status)
			assert.NotEmpty(t, state.Error)
			assert.Empty(t, store.value(KeyConnected))
		})
	}
}

func TestSessionFailedConnectKeepsPreviousProvider(t *testing.T) {
	t.Parallel()

	bus := eip6963.NewBus()
	rejecting := newFakeProvider("0xaa36a7", bob)
	rejecting.failWith("eth_requestAccounts", eip1193.UserRejected("denied"))
	_, err := bus.Register(domain.ProviderInfo{UUID: "wallet-b", Name: "Wallet B"}, rejecting)
	require.NoError(t, err)

	fallback := newFakeProvider("0x7a69", alice)
	session := NewSessionService(newMemStore(nil), SessionOptions{
		Discovery:    NewDiscoveryService(bus),
		Fallback:     fallback,
		FallbackName: "Dev node",
		Budget:       10 * time.Millisecond,
	})

	_, _, err = session.Connect(context.Background(), domain.InjectedConnectorID)
	require.NoError(t, err)

	_, _, err = session.Connect(context.Background(), "wallet-b")
	require.ErrorIs(t, err, domain.ErrUserRejected)

	state := session.State()
	assert.Equal(t, domain.WalletStatusError, state.Status)
	assert.Equal(t, "Dev node", state.ProviderName)
	assert.Same(t, fallback, session.Provider())

	// Events from the rejected wallet no longer reach the session.
	rejecting.Emit(ports.EventAccountsChanged, []string{bob})
	assert.Equal(t, []string{alice}, session.State().Snapshot.Accounts)

	fallback.Emit(ports.EventChainChanged, "0xaa36a7")
	require.NotNil(t, session.State().Snapshot.ChainID)
	assert.Equal(t, uint64(11155111), *session.State().Snapshot.ChainID)
}

func TestSessionFailedFirstConnectDetachesProvider(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider("0x7a69")
	session := NewSessionService(newMemStore(nil), SessionOptions{Fallback: provider})

	_, _, err := session.Connect(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrUserRejected)
	assert.Nil(t, session.Provider())
	assert.Empty(t, session.State().ProviderName)
	assert.Contains(t, session.State().Error, "wallet returned no accounts")
}

func TestAccountsFromPayloadShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload any
		want    []string
	}{
		{name: "strings", payload: []string{alice, " "}, want: []string{alice}},
		{name: "any slice", payload: []any{alice, 7, bob}, want: []string{alice, bob}},
		{name: "raw json", payload: json.RawMessage(`["` + bob + `"]`), want: []string{bob}},
		{name: "malformed json", payload: json.RawMessage(`{"accounts":`), want: []string{}},
		{name: "unknown shape", payload: 42, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, accountsFromPayload(tt.payload))
		})
	}
}

func TestSessionReconnectRestoresSilently(t *testing.T) {
	t.Parallel()

	store := newMemStore(map[string]string{
		KeyLastConnectorID: domain.InjectedConnectorID,
		KeyLastAccounts:    `["` + alice + `"]`,
		KeyLastChainID:     "31337",
		KeyConnected:       "true",
	})
	provider := newFakeProvider("0x7a69", alice)
	session := NewSessionService(store, SessionOptions{Fallback: provider})

	require.NoError(t, session.Hydrate(context.Background()))
	require.Equal(t, domain.WalletStatusReconnecting, session.State().Status)

	require.NoError(t, session.Reconnect(context.Background()))
	assert.True(t, session.State().Connected())
	assert.Equal(t, 1, provider.callCount("eth_accounts"))
	assert.Zero(t, provider.callCount("eth_requestAccounts"))

	// Reconnect is a no-op once settled.
	require.NoError(t, session.Reconnect(context.Background()))
	assert.Equal(t, 1, provider.callCount("eth_accounts"))
}

func TestSessionReconnectWithoutAccountsResetsPersistence(t *testing.T) {
	t.Parallel()

	store := newMemStore(map[string]string{
		KeyLastAccounts: `["` + alice + `"]`,
		KeyLastChainID:  "31337",
		KeyConnected:    "true",
	})
	session := NewSessionService(store, SessionOptions{Fallback: newFakeProvider("0x7a69")})

	require.NoError(t, session.Hydrate(context.Background()))
	require.NoError(t, session.Reconnect(context.Background()))

	state := session.State()
	assert.Equal(t, domain.WalletStatusIdle, state.Status)
	assert.Empty(t, state.Snapshot.Accounts)
	assert.Equal(t, "false", store.value(KeyConnected))
	assert.Equal(t, "[]", store.value(KeyLastAccounts))
}

func TestSessionHandlesProviderEvents(t *testing.T) {
	t.Parallel()

	store := newMemStore(nil)
	provider := newFakeProvider("0x7a69", alice)
	dropper := &recordingDropper{}
	session := NewSessionService(store, SessionOptions{Fallback: provider, Dropper: dropper})

	_, _, err := session.Connect(context.Background(), "")
	require.NoError(t, err)

	provider.Emit(ports.EventAccountsChanged, []string{bob})
	assert.Equal(t, []string{bob}, session.State().Snapshot.Accounts)
	assert.Equal(t, `["`+bob+`"]`, store.value(KeyLastAccounts))
	assert.Equal(t, []string{alice}, dropper.accounts())

	provider.Emit(ports.EventChainChanged, "0xaa36a7")
	require.NotNil(t, session.State().Snapshot.ChainID)
	assert.Equal(t, uint64(11155111), *session.State().Snapshot.ChainID)
	assert.Equal(t, "11155111", store.value(KeyLastChainID))

	provider.Emit(ports.EventChainChanged, "11155420")
	assert.Equal(t, uint64(11155420), *session.State().Snapshot.ChainID)

	provider.Emit(ports.EventAccountsChanged, []string{})
	assert.Equal(t, domain.WalletStatusIdle, session.State().Status)
	assert.Equal(t, "false", store.value(KeyConnected))
	assert.Equal(t, "[]", store.value(KeyLastAccounts))
	assert.Equal(t, []string{alice, bob}, dropper.accounts())
}

func TestSessionProviderDisconnectEventResetsSession(t *testing.T) {
	t.Parallel()

	store := newMemStore(nil)
	provider := newFakeProvider("0x7a69", alice)
	session := NewSessionService(store, SessionOptions{Fallback: provider})

	_, _, err := session.Connect(context.Background(), "")
	require.NoError(t, err)

	provider.Emit(ports.EventDisconnect, nil)
	assert.Equal(t, domain.WalletStatusIdle, session.State().Status)
	assert.Nil(t, session.Provider())
	assert.Equal(t, "false", store.value(KeyConnected))

	// Events from the detached provider are ignored.
	provider.Emit(ports.EventAccountsChanged, []string{bob})
	assert.Empty(t, session.State().Snapshot.Accounts)

	// Reconnecting to the same provider replaces the stale subscriptions.
	_, _, err = session.Connect(context.Background(), "")
	require.NoError(t, err)
	provider.Emit(ports.EventAccountsChanged, []string{bob})
	assert.Equal(t, []string{bob}, session.State().Snapshot.Accounts)
}

func TestSessionDisconnectClearsEverything(t *testing.T) {
	t.Parallel()

	store := newMemStore(nil)
	provider := newFakeProvider("0x7a69", alice)
	dropper := &recordingDropper{}
	session := NewSessionService(store, SessionOptions{Fallback: provider, Dropper: dropper})

	_, _, err := session.Connect(context.Background(), "")
	require.NoError(t, err)

	session.Disconnect(context.Background())

	state := session.State()
	assert.Equal(t, domain.WalletStatusIdle, state.Status)
	assert.Empty(t, state.Snapshot.Accounts)
	assert.Nil(t, state.Snapshot.ChainID)
	assert.Equal(t, 1, provider.callCount("wallet_disconnect"))
	assert.Equal(t, "false", store.value(KeyConnected))
	assert.Equal(t, "[]", store.value(KeyLastAccounts))
	assert.Empty(t, store.value(KeyLastChainID))
	assert.Equal(t, []string{alice}, dropper.accounts())

	provider.Emit(ports.EventAccountsChanged, []string{bob})
	assert.Empty(t, session.State().Snapshot.Accounts)
}

func TestSessionUpdateSnapshotPersistsAndNotifies(t *testing.T) {
	t.Parallel()

	store := newMemStore(nil)
	session := NewSessionService(store, SessionOptions{})

	var seen []domain.WalletState
	unsubscribe := session.Subscribe(func(state domain.WalletState) {
		seen = append(seen, state)
	})

	accounts := []string{alice}
	connected := true
	err := session.UpdateSnapshot(context.Background(), domain.SnapshotPatch{
		Accounts: &accounts,
		ChainID:  uint64Ptr(31337),
	}, &connected)
	require.NoError(t, err)

	assert.Equal(t, "true", store.value(KeyConnected))
	assert.Equal(t, "31337", store.value(KeyLastChainID))
	require.Len(t, seen, 1)
	assert.True(t, seen[0].Connected())

	unsubscribe()
	require.NoError(t, session.UpdateSnapshot(context.Background(), domain.SnapshotPatch{ClearChainID: true}, nil))
	assert.Len(t, seen, 1)
	assert.Empty(t, store.value(KeyLastChainID))
}

func TestSessionHydrateToleratesMalformedState(t *testing.T) {
	t.Parallel()

	store := newMemStore(map[string]string{
		KeyLastAccounts: "not json",
		KeyLastChainID:  "nope",
	})
	session := NewSessionService(store, SessionOptions{})

	require.NoError(t, session.Hydrate(context.Background()))
	state := session.State()
	assert.Equal(t, domain.WalletStatusIdle, state.Status)
	assert.Empty(t, state.Snapshot.Accounts)
	assert.Nil(t, state.Snapshot.ChainID)
}

func TestSessionConnectHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := NewSessionService(newMemStore(nil), SessionOptions{Fallback: newFakeProvider("0x7a69", alice)})
	_, _, err := session.Connect(ctx, "")
	require.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, domain.WalletStatusIdle, session.State().Status)
}
