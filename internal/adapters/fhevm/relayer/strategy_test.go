package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bnema/greenscore/internal/adapters/fhevm/inputproof"
	"github.com/bnema/greenscore/internal/adapters/fhevm/keycache"
	bboltkv "github.com/bnema/greenscore/internal/adapters/kv/bbolt"
	"github.com/bnema/greenscore/internal/config"
	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chainProvider struct {
	chainID string
}

func (p chainProvider) Request(_ context.Context, method string, _ ...any) (json.RawMessage, error) {
	if method != "eth_chainId" {
		return nil, fmt.Errorf("unexpected method %s", method)
	}
	return json.Marshal(p.chainID)
}

func (chainProvider) On(ports.WalletEvent, func(any)) (func(), error) {
	return func() {}, nil
}

// fakeRelayer serves the SDK module, the key listing and the proof and
// decrypt endpoints.
type fakeRelayer struct {
	*httptest.Server

	downloads atomic.Int32
	mu        sync.Mutex
	proofReqs []InputProofRequest
	decrypts  []UserDecryptRequest
}

func newFakeRelayer(t *testing.T) *fakeRelayer {
	t.Helper()

	wasm, err := os.ReadFile("testdata/keypair_sdk.wasm")
	require.NoError(t, err)

	relayer := &fakeRelayer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/sdk.wasm", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(wasm)
	})
	mux.HandleFunc(keyURLPath, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"fhe_key_info":[{"fhe_public_key":{"data_id":"pk-1","urls":["` +
			relayer.URL + `/keys/pk"]}}],"crs":{"2048":{"data_id":"crs-1","urls":["` + relayer.URL + `/keys/crs"]}}}}`))
	})
	mux.HandleFunc("/keys/", func(w http.ResponseWriter, r *http.Request) {
		relayer.downloads.Add(1)
		_, _ = w.Write([]byte("material:" + strings.TrimPrefix(r.URL.Path, "/keys/")))
	})
	mux.HandleFunc(inputProofPath, func(w http.ResponseWriter, r *http.Request) {
		var req InputProofRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		relayer.mu.Lock()
		relayer.proofReqs = append(relayer.proofReqs, req)
		relayer.mu.Unlock()
		_, _ = w.Write([]byte(`{"response":{"handles":["` + strings.Repeat("11", 32) + `"],"signatures":["0x` + strings.Repeat("22", 65) + `"]}}`))
	})
	mux.HandleFunc(userDecryptPath, func(w http.ResponseWriter, r *http.Request) {
		var req UserDecryptRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		relayer.mu.Lock()
		relayer.decrypts = append(relayer.decrypts, req)
		relayer.mu.Unlock()
		_, _ = w.Write([]byte(`{"response":[{"payload":"p","signature":"s"}]}`))
	})
	relayer.Server = httptest.NewServer(mux)
	t.Cleanup(relayer.Close)
	return relayer
}

func newStrategy(t *testing.T, relayer *fakeRelayer, cache *keycache.Cache) *Strategy {
	t.Helper()

	strategy := NewStrategy(
		NewLoader(relayer.URL+"/sdk.wasm", relayer.Client()),
		cache,
		config.RelayerConfig{URL: relayer.URL},
		relayer.Client(),
	)
	t.Cleanup(func() { _ = strategy.Close(context.Background()) })
	return strategy
}

func newCache(t *testing.T) *keycache.Cache {
	t.Helper()

	store, err := bboltkv.Open(filepath.Join(t.TempDir(), "keycache.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return keycache.New(store)
}

func TestBuildResolvesNetworkAndCachesKeyMaterial(t *testing.T) {
	t.Parallel()

	relayer := newFakeRelayer(t)
	cache := newCache(t)

	instance, err := newStrategy(t, relayer, cache).Build(context.Background(), chainProvider{chainID: "0xaa36a7"})
	require.NoError(t, err)
	assert.Equal(t, SepoliaChainID, instance.Network().ChainID)
	assert.Equal(t, int32(2), relayer.downloads.Load())

	publicKey, err := instance.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, ports.KeyMaterial{ID: "pk-1", Data: []byte("material:pk")}, publicKey)

	_, err = instance.PublicParams(1024)
	require.Error(t, err)

	cached, ok, err := cache.Load(context.Background(), instance.Network().ACLAddress)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "crs-1", cached.PublicParams.ID)

	// A fresh strategy finds matching ids in the cache and skips downloads.
	_, err = newStrategy(t, relayer, cache).Build(context.Background(), chainProvider{chainID: "0xaa36a7"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), relayer.downloads.Load())
}

func TestBuildRejectsUnsupportedChains(t *testing.T) {
	t.Parallel()

	relayer := newFakeRelayer(t)
	strategy := newStrategy(t, relayer, nil)

	_, err := strategy.Build(context.Background(), chainProvider{chainID: "0x2a"})
	require.ErrorIs(t, err, domain.ErrUnsupportedNetwork)

	_, err = strategy.Build(context.Background(), chainProvider{chainID: "0x1"})
	require.ErrorIs(t, err, domain.ErrMissingNetworkConfig)
}

func TestBuildChecksNetworkBeforeLoadingSDK(t *testing.T) {
	t.Parallel()

	var sdkRequests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sdkRequests.Add(1)
		_, _ = w.Write([]byte("(function (global, factory) { factory(global.relayerSDK = {}) })(this)"))
	}))
	t.Cleanup(srv.Close)

	strategy := NewStrategy(NewLoader(srv.URL+"/relayer-sdk-js.umd.cjs", srv.Client()), nil, config.RelayerConfig{}, srv.Client())
	t.Cleanup(func() { _ = strategy.Close(context.Background()) })

	_, err := strategy.Build(context.Background(), chainProvider{chainID: "0x2a"})
	require.ErrorIs(t, err, domain.ErrUnsupportedNetwork)
	assert.Zero(t, sdkRequests.Load())

	// A supported chain reaches the loader and rejects a non-wasm body.
	_, err = strategy.Build(context.Background(), chainProvider{chainID: "0xaa36a7"})
	require.ErrorContains(t, err, "compile relayer sdk")
	assert.Equal(t, int32(1), sdkRequests.Load())
}

func TestBuildWithoutSDKURL(t *testing.T) {
	t.Parallel()

	strategy := NewStrategy(NewLoader("", nil), nil, config.RelayerConfig{}, nil)

	_, err := strategy.Build(context.Background(), chainProvider{chainID: "0xaa36a7"})
	require.ErrorIs(t, err, ErrSDKNotConfigured)

	_, err = strategy.Build(context.Background(), chainProvider{chainID: "0x2a"})
	require.ErrorIs(t, err, domain.ErrUnsupportedNetwork)
}

func TestBuildStopsWhenCancelled(t *testing.T) {
	t.Parallel()

	relayer := newFakeRelayer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newStrategy(t, relayer, nil).Build(ctx, chainProvider{chainID: "0xaa36a7"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestInstanceEncryptAssemblesProof(t *testing.T) {
	t.Parallel()

	relayer := newFakeRelayer(t)
	instance, err := newStrategy(t, relayer, nil).Build(context.Background(), chainProvider{chainID: "0xaa36a7"})
	require.NoError(t, err)

	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	user := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	result, err := instance.CreateEncryptedInput(contract, user).Add64(42).Encrypt(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Handles, 1)
	assert.Equal(t, byte(0x11), result.Handles[0][0])

	proof, err := inputproof.Decode(result.InputProof)
	require.NoError(t, err)
	require.Len(t, proof.Signatures, 1)
	assert.Equal(t, byte(0x22), proof.Signatures[0][0])

	relayer.mu.Lock()
	defer relayer.mu.Unlock()
	require.Len(t, relayer.proofReqs, 1)
	assert.Equal(t, contract.Hex(), relayer.proofReqs[0].ContractAddress)
	assert.Equal(t, "0xaa36a7", relayer.proofReqs[0].ContractChainID)
}

func TestInstanceUserDecryptForwardsPermit(t *testing.T) {
	t.Parallel()

	relayer := newFakeRelayer(t)
	instance, err := newStrategy(t, relayer, nil).Build(context.Background(), chainProvider{chainID: "0xaa36a7"})
	require.NoError(t, err)

	keypair, err := instance.GenerateKeypair()
	require.NoError(t, err)
	assert.Equal(t, ports.Keypair{PublicKey: "aa", PrivateKey: "bb"}, keypair)

	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	_, err = instance.UserDecrypt(context.Background(), ports.UserDecryptRequest{
		Handles: []domain.HandleContractPair{{Handle: domain.Handle{1}, ContractAddress: contract}},
		Permit: domain.DecryptPermit{
			PublicKey:         "0xaa",
			PrivateKey:        "bb",
			Signature:         "0x1234",
			ContractAddresses: []common.Address{contract},
			StartTimestamp:    1_760_000_000,
			DurationDays:      365,
		},
	})
	require.NoError(t, err)

	relayer.mu.Lock()
	defer relayer.mu.Unlock()
	require.Len(t, relayer.decrypts, 1)
	sent := relayer.decrypts[0]
	assert.Equal(t, "1234", sent.Signature)
	assert.Equal(t, "aa", sent.PublicKey)
	assert.Equal(t, "11155111", sent.ContractsChainID)
	assert.Equal(t, RequestValidity{StartTimestamp: "1760000000", DurationDays: "365"}, sent.RequestValidity)
}

func TestCreateEIP712UsesDecryptionDomain(t *testing.T) {
	t.Parallel()

	instance := &Instance{network: knownNetworks()[SepoliaChainID]}
	typedData, err := instance.CreateEIP712("aa", []common.Address{common.HexToAddress("0x01")}, 1, 365)
	require.NoError(t, err)
	assert.Equal(t, "Decryption", typedData.Domain.Name)
	assert.Equal(t, "0x5D8BD78e2ea6bbE41f26dFe9fdaEAa349e077478", typedData.Domain.VerifyingContract)
}
