package relayer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/bnema/greenscore/internal/adapters/fhevm/keycache"
	"github.com/bnema/greenscore/internal/adapters/wallet/eip1193"
	"github.com/bnema/greenscore/internal/config"
	"github.com/bnema/greenscore/internal/logging"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/sirupsen/logrus"
)

var relayerLog = logging.NewLogger("fhevm.relayer")

// Strategy builds relayer-backed instances. The SDK module is downloaded
// and instantiated once per Strategy and shared by every instance it builds.
type Strategy struct {
	loader     *Loader
	cache      *keycache.Cache
	overrides  map[uint64]config.NetworkOverride
	relayerURL string
	httpClient *http.Client

	mu  sync.Mutex
	sdk *SDK
}

func NewStrategy(loader *Loader, cache *keycache.Cache, cfg config.RelayerConfig, httpClient *http.Client) *Strategy {
	return &Strategy{
		loader:     loader,
		cache:      cache,
		overrides:  cfg.Networks,
		relayerURL: cfg.URL,
		httpClient: httpClient,
	}
}

// Build resolves the provider's network against the static table, then loads
// the SDK and returns a ready instance. It returns ctx.Err() as soon as a
// cancellation is observed between steps.
func (s *Strategy) Build(ctx context.Context, provider ports.WalletProvider) (*Instance, error) {
	if provider == nil {
		return nil, errors.New("relayer build: provider is nil")
	}

	rawChainID, err := provider.Request(ctx, "eth_chainId")
	if err != nil {
		return nil, fmt.Errorf("read provider chain id: %w", err)
	}
	chainID, err := eip1193.DecodeChainID(rawChainID)
	if err != nil {
		return nil, err
	}
	network, err := ResolveNetwork(chainID, s.overrides)
	if err != nil {
		return nil, err
	}
	if s.relayerURL != "" {
		network.RelayerURL = s.relayerURL
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wasm, err := s.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sdk, err := s.ensureSDK(ctx, wasm)
	if err != nil {
		return nil, err
	}
	if err := sdk.Init(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := Client{BaseURL: network.RelayerURL, HTTPClient: s.httpClient}

	publicKey, publicParams, err := s.keyMaterial(ctx, client, network)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	instance := &Instance{
		sdk:          sdk,
		client:       client,
		network:      network,
		publicKey:    publicKey,
		publicParams: publicParams,
	}

	if s.cache != nil {
		entry := keycache.Entry{PublicKey: publicKey, PublicParams: publicParams}
		if err := s.cache.Store(ctx, network.ACLAddress, entry); err != nil {
			relayerLog.WithError(err).WithField("acl", network.ACLAddress.Hex()).Warn("could not cache key material")
		}
	}

	relayerLog.WithFields(logrus.Fields{"chain_id": chainID, "network": network.Name}).Debug("relayer instance ready")
	return instance, nil
}

func (s *Strategy) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sdk == nil {
		return nil
	}
	err := s.sdk.Close(ctx)
	s.sdk = nil
	return err
}

func (s *Strategy) ensureSDK(ctx context.Context, wasm []byte) (*SDK, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sdk != nil {
		return s.sdk, nil
	}
	sdk, err := Instantiate(ctx, wasm)
	if err != nil {
		return nil, err
	}
	s.sdk = sdk
	return sdk, nil
}

// keyMaterial reuses cached material whose ids still match what the relayer
// advertises and downloads the rest.
func (s *Strategy) keyMaterial(ctx context.Context, client Client, network Network) (ports.KeyMaterial, ports.KeyMaterial, error) {
	var cached keycache.Entry
	hasCached := false
	if s.cache != nil {
		var err error
		cached, hasCached, err = s.cache.Load(ctx, network.ACLAddress)
		if err != nil {
			relayerLog.WithError(err).Warn("could not read cached key material")
		}
	}

	urls, err := client.KeyURLs(ctx)
	if err != nil {
		return ports.KeyMaterial{}, ports.KeyMaterial{}, err
	}
	paramsRef, ok := urls.PublicParams[PublicParamsBits]
	if !ok {
		return ports.KeyMaterial{}, ports.KeyMaterial{}, fmt.Errorf("relayer advertises no %d-bit public params", PublicParamsBits)
	}

	publicKey := cached.PublicKey
	if !hasCached || publicKey.ID != urls.PublicKey.DataID || len(publicKey.Data) == 0 {
		data, err := client.Download(ctx, urls.PublicKey)
		if err != nil {
			return ports.KeyMaterial{}, ports.KeyMaterial{}, err
		}
		publicKey = ports.KeyMaterial{ID: urls.PublicKey.DataID, Data: data}
	}
	if err := ctx.Err(); err != nil {
		return ports.KeyMaterial{}, ports.KeyMaterial{}, err
	}

	publicParams := cached.PublicParams
	if !hasCached || publicParams.ID != paramsRef.DataID || len(publicParams.Data) == 0 {
		data, err := client.Download(ctx, paramsRef)
		if err != nil {
			return ports.KeyMaterial{}, ports.KeyMaterial{}, err
		}
		publicParams = ports.KeyMaterial{ID: paramsRef.DataID, Data: data}
	}

	return publicKey, publicParams, nil
}
