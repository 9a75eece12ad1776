package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bnema/greenscore/internal/adapters/contract/greenscore"
	"github.com/bnema/greenscore/internal/adapters/fhevm"
	"github.com/bnema/greenscore/internal/adapters/fhevm/keycache"
	"github.com/bnema/greenscore/internal/adapters/fhevm/relayer"
	bboltkv "github.com/bnema/greenscore/internal/adapters/kv/bbolt"
	tomlkv "github.com/bnema/greenscore/internal/adapters/kv/toml"
	statusadapter "github.com/bnema/greenscore/internal/adapters/render/status"
	chainstore "github.com/bnema/greenscore/internal/adapters/secrets/chain"
	"github.com/bnema/greenscore/internal/adapters/wallet/eip1193"
	"github.com/bnema/greenscore/internal/adapters/wallet/eip6963"
	"github.com/bnema/greenscore/internal/adapters/wallet/keystore"
	"github.com/bnema/greenscore/internal/adapters/wallet/rpcwallet"
	"github.com/bnema/greenscore/internal/application"
	"github.com/bnema/greenscore/internal/config"
	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/logging"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	rpcWalletRDNS      = "org.greenscore.wallet.rpc"
	keystoreWalletRDNS = "org.greenscore.wallet.keystore"

	defaultInstanceTimeout = 2 * time.Minute
)

type app struct {
	cfg            config.Config
	state          ports.KVStore
	secrets        ports.SecretStore
	bus            *eip6963.Bus
	discovery      *application.DiscoveryService
	session        *application.SessionService
	authorizer     *application.DecryptAuthorizer
	preferences    *application.PreferencesService
	binder         ports.ContractBinder
	statusRenderer func(statusadapter.Dashboard, statusadapter.RenderOptions) (string, error)
	httpClient     *http.Client
	instanceWait   time.Duration
}

func wireApp() (*app, error) {
	v := viper.New()
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logging.Configure(cfg.LogLevel, nil); err != nil {
		return nil, err
	}

	state, err := tomlkv.NewStore(v)
	if err != nil {
		return nil, fmt.Errorf("wire state store: %w", err)
	}

	secretStore, err := chainstore.NewPassFirstWithFileFallback(cfg.SecretsDir)
	if err != nil {
		return nil, fmt.Errorf("wire secret store chain: %w", err)
	}

	bus := eip6963.NewBus()
	fallback, err := registerWallets(bus, cfg, secretStore)
	if err != nil {
		return nil, err
	}

	discovery := application.NewDiscoveryService(bus)
	authorizer := application.NewDecryptAuthorizer(state, ports.SystemClock{})

	return &app{
		cfg:        cfg,
		state:      state,
		secrets:    secretStore,
		bus:        bus,
		discovery:  discovery,
		authorizer: authorizer,
		session: application.NewSessionService(state, application.SessionOptions{
			Discovery:    discovery,
			Fallback:     fallback,
			FallbackName: "Dev node",
			Budget:       cfg.DiscoveryBudget,
			Dropper:      authorizer,
		}),
		preferences:    application.NewPreferencesService(state),
		binder:         greenscore.NewBinder(cfg.Deployments),
		statusRenderer: statusadapter.Render,
		httpClient:     http.DefaultClient,
		instanceWait:   defaultInstanceTimeout,
	}, nil
}

// registerWallets announces the local wallets on bus and returns the one
// selected by wallet.mode as the fallback provider. Dialing is lazy for
// HTTP endpoints, so nothing here touches the network.
func registerWallets(bus *eip6963.Bus, cfg config.Config, secrets ports.SecretStore) (ports.WalletProvider, error) {
	ctx := context.Background()

	devNode, err := rpcwallet.Dial(ctx, cfg.Wallet.RPCURL)
	if err != nil {
		return nil, err
	}
	if _, err := bus.Register(walletInfo("Dev node", rpcWalletRDNS), devNode); err != nil {
		return nil, err
	}
	if cfg.Wallet.Mode != config.WalletModeKeystore {
		return devNode, nil
	}

	local, err := keystore.Open(ctx, cfg.Wallet.KeystoreDir, cfg.Wallet.RPCURL, secrets, cfg.Wallet.PassphraseRef)
	if err != nil {
		return nil, err
	}
	if _, err := bus.Register(walletInfo("Keystore", keystoreWalletRDNS), local); err != nil {
		return nil, err
	}
	return local, nil
}

// walletInfo derives a stable UUID from rdns so the last connector id
// survives restarts.
func walletInfo(name, rdns string) domain.ProviderInfo {
	return domain.ProviderInfo{
		UUID: uuid.NewSHA1(uuid.NameSpaceURL, []byte(rdns)).String(),
		Name: name,
		RDNS: rdns,
	}
}

// restoreSession hydrates the persisted wallet session and silently
// reconnects it when it was left connected.
func (a *app) restoreSession(ctx context.Context) error {
	if err := a.session.Hydrate(ctx); err != nil {
		return fmt.Errorf("restore wallet session: %w", err)
	}
	return a.session.Reconnect(ctx)
}

// openRuntime wires the encrypted pipeline on top of the restored session
// and waits for the FHE instance to settle. The returned release func must
// be called once the command is done.
func (a *app) openRuntime(ctx context.Context) (*application.Runtime, func(), error) {
	if err := a.restoreSession(ctx); err != nil {
		return nil, nil, err
	}

	cacheStore, err := bboltkv.Open(a.cfg.KeyCachePath, a.cfg.KeyCacheQuota)
	if err != nil {
		return nil, nil, fmt.Errorf("open key cache: %w", err)
	}

	strategy := relayer.NewStrategy(
		relayer.NewLoader(a.cfg.Relayer.SDKURL, a.httpClient),
		keycache.New(cacheStore),
		a.cfg.Relayer,
		a.httpClient,
	)
	builder := fhevm.NewBuilder(a.cfg.Mock, strategy)

	runtime := application.NewRuntime(
		a.session,
		application.NewInstanceManager(builder),
		a.binder,
		application.NewScoreReader(a.authorizer),
		application.NewActionService(),
		signerFactory,
	)
	runtime.Start()

	release := func() {
		runtime.Stop()
		if err := builder.Close(context.Background()); err != nil {
			logging.NewLogger("cmd").WithError(err).Debug("close fhe builder")
		}
		if err := cacheStore.Close(); err != nil {
			logging.NewLogger("cmd").WithError(err).Debug("close key cache")
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.instanceWait)
	defer cancel()
	if _, err := runtime.Instances().Wait(waitCtx); err != nil {
		release()
		return nil, nil, fmt.Errorf("wait for fhe instance: %w", err)
	}

	return runtime, release, nil
}

func signerFactory(provider ports.WalletProvider, account common.Address) ports.Signer {
	return eip1193.NewSigner(provider, account)
}
