package application

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bnema/greenscore/internal/adapters/wallet/eip1193"
	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	bob   = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

var contractAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// memStore is an in-memory ports.KVStore.
type memStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemStore(initial map[string]string) *memStore {
	values := map[string]string{}
	for key, value := range initial {
		values[key] = value
	}
	return &memStore{values: values}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", ports.ErrKeyNotFound
	}
	return value, nil
}

func (s *memStore) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return ports.ErrKeyNotFound
	}
	delete(s.values, key)
	return nil
}

func (s *memStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memStore) value(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// fakeProvider answers the account and chain methods from fields and emits
// events through a real emitter.
type fakeProvider struct {
	*eip1193.Emitter

	mu       sync.Mutex
	accounts []string
	chainID  string
	errs     map[string]error
	calls    map[string]int
}

func newFakeProvider(chainID string, accounts ...string) *fakeProvider {
	return &fakeProvider{
		Emitter:  eip1193.NewEmitter(),
		accounts: accounts,
		chainID:  chainID,
		errs:     map[string]error{},
		calls:    map[string]int{},
	}
}

func (p *fakeProvider) Request(_ context.Context, method string, _ ...any) (json.RawMessage, error) {
	p.mu.Lock()
	p.calls[method]++
	err := p.errs[method]
	accounts := append([]string{}, p.accounts...)
	chainID := p.chainID
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	switch method {
	case "eth_requestAccounts", "eth_accounts":
		return json.Marshal(accounts)
	case "eth_chainId":
		return json.Marshal(chainID)
	case "wallet_disconnect":
		return json.RawMessage("null"), nil
	default:
		return nil, fmt.Errorf("unsupported method %s", method)
	}
}

func (p *fakeProvider) setAccounts(accounts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = accounts
}

func (p *fakeProvider) failWith(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[method] = err
}

func (p *fakeProvider) callCount(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

type recordingDropper struct {
	mu      sync.Mutex
	dropped []string
}

func (d *recordingDropper) Drop(_ context.Context, account string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropped = append(d.dropped, account)
	return nil
}

func (d *recordingDropper) accounts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.dropped...)
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

// fakeInstance hands out sequential handles and decrypts from a value table.
type fakeInstance struct {
	mu           sync.Mutex
	values       map[domain.Handle]*big.Int
	encrypted    [][]uint64
	encryptErr   error
	nextHandle   byte
	decryptCalls int
	lastDecrypt  ports.UserDecryptRequest
	eip712Start  int64
	eip712Days   int
}

var _ ports.FHEInstance = (*fakeInstance)(nil)

func (i *fakeInstance) CreateEncryptedInput(contract common.Address, user common.Address) ports.EncryptedInput {
	return &fakeInput{instance: i}
}

func (i *fakeInstance) GenerateKeypair() (ports.Keypair, error) {
	return ports.Keypair{PublicKey: "0xpub", PrivateKey: "priv"}, nil
}

func (i *fakeInstance) CreateEIP712(publicKey string, contracts []common.Address, startTimestamp int64, durationDays int) (apitypes.TypedData, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.eip712Start = startTimestamp
	i.eip712Days = durationDays
	return apitypes.TypedData{
		PrimaryType: "UserDecryptRequestVerification",
		Message:     apitypes.TypedDataMessage{"publicKey": publicKey},
	}, nil
}

func (i *fakeInstance) UserDecrypt(_ context.Context, req ports.UserDecryptRequest) (map[domain.Handle]*big.Int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.decryptCalls++
	i.lastDecrypt = req

	out := map[domain.Handle]*big.Int{}
	for _, pair := range req.Handles {
		if value, ok := i.values[pair.Handle]; ok {
			out[pair.Handle] = value
		}
	}
	return out, nil
}

func (i *fakeInstance) PublicKey() (ports.KeyMaterial, error) {
	return ports.KeyMaterial{}, nil
}

func (i *fakeInstance) PublicParams(int) (ports.KeyMaterial, error) {
	return ports.KeyMaterial{}, nil
}

func (i *fakeInstance) encryptions() [][]uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([][]uint64{}, i.encrypted...)
}

type fakeInput struct {
	instance *fakeInstance
	values   []uint64
}

func (in *fakeInput) Add64(value uint64) ports.EncryptedInput {
	in.values = append(in.values, value)
	return in
}

func (in *fakeInput) Encrypt(context.Context) (ports.EncryptedInputResult, error) {
	i := in.instance
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.encryptErr != nil {
		return ports.EncryptedInputResult{}, i.encryptErr
	}
	i.nextHandle++
	i.encrypted = append(i.encrypted, in.values)
	return ports.EncryptedInputResult{
		Handles:    []domain.Handle{{i.nextHandle}},
		InputProof: []byte{i.nextHandle},
	}, nil
}

type fakeSigner struct {
	address common.Address
	err     error

	mu    sync.Mutex
	calls int
}

func (s *fakeSigner) Address() common.Address {
	return s.address
}

func (s *fakeSigner) SignTypedData(context.Context, apitypes.TypedData) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []byte{0xde, 0xad}, nil
}

func (s *fakeSigner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeContract serves fixed handles and records writes. A non-nil gate
// holds SubmitAction until it is closed.
type fakeContract struct {
	handles    map[string]domain.Handle
	plainCount uint64
	readErr    error
	receipt    domain.TxReceipt
	mineErr    error
	gate       chan struct{}
	entered    chan struct{}

	mu        sync.Mutex
	submitted []ports.SubmitActionArgs
	claimed   []domain.Handle
}

var _ ports.GreenScoreContract = (*fakeContract)(nil)

func newFakeContract() *fakeContract {
	handles := map[string]domain.Handle{
		"score":          {0x01},
		"actions":        {0x02},
		"pendingRewards": {0x03},
		"globalScore":    {0x04},
		"globalActions":  {0x05},
	}
	for i := range domain.BucketCount {
		handles[fmt.Sprintf("bucket%d", i)] = domain.Handle{0x10 + byte(i)}
		handles[fmt.Sprintf("slot%d", i)] = domain.Handle{0x20 + byte(i)}
	}
	return &fakeContract{
		handles:    handles,
		plainCount: 7,
		receipt:    domain.TxReceipt{Hash: "0xabc", BlockNumber: 12, Status: 1},
	}
}

func (c *fakeContract) Address() common.Address { return contractAddress }
func (c *fakeContract) ChainName() string { return "hardhat" }

func (c *fakeContract) read(name string) (domain.Handle, error) {
	if c.readErr != nil {
		return domain.Handle{}, c.readErr
	}
	return c.handles[name], nil
}

func (c *fakeContract) EncryptedScore(context.Context, common.Address) (domain.Handle, error) {
	return c.read("score")
}

func (c *fakeContract) EncryptedActionCount(context.Context, common.Address) (domain.Handle, error) {
	return c.read("actions")
}

func (c *fakeContract) EncryptedPendingRewards(context.Context, common.Address) (domain.Handle, error) {
	return c.read("pendingRewards")
}

func (c *fakeContract) EncryptedGlobalScore(context.Context) (domain.Handle, error) {
	return c.read("globalScore")
}

func (c *fakeContract) EncryptedGlobalActions(context.Context) (domain.Handle, error) {
	return c.read("globalActions")
}

func (c *fakeContract) BucketAggregate(_ context.Context, bucket uint8) (domain.Handle, error) {
	return c.read(fmt.Sprintf("bucket%d", bucket))
}

func (c *fakeContract) LeaderboardSlot(_ context.Context, slot uint8) (domain.Handle, error) {
	return c.read(fmt.Sprintf("slot%d", slot))
}

func (c *fakeContract) PlainActionCount(context.Context, common.Address) (uint64, error) {
	return c.plainCount, c.readErr
}

func (c *fakeContract) SubmitAction(ctx context.Context, _ common.Address, args ports.SubmitActionArgs) (common.Hash, error) {
	if c.entered != nil {
		close(c.entered)
	}
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, args)
	return common.HexToHash("0xabc"), nil
}

func (c *fakeContract) ClaimReward(_ context.Context, _ common.Address, encryptedAmount domain.Handle, _ []byte) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimed = append(c.claimed, encryptedAmount)
	return common.HexToHash("0xdef"), nil
}

func (c *fakeContract) WaitMined(context.Context, common.Hash) (domain.TxReceipt, error) {
	return c.receipt, c.mineErr
}

type binderFunc func(provider ports.WalletProvider, chainID uint64) (ports.GreenScoreContract, error)

func (f binderFunc) Bind(provider ports.WalletProvider, chainID uint64) (ports.GreenScoreContract, error) {
	return f(provider, chainID)
}

type factoryFunc func(ctx context.Context, provider ports.WalletProvider, chainID uint64) (ports.FHEInstance, error)

func (f factoryFunc) Build(ctx context.Context, provider ports.WalletProvider, chainID uint64) (ports.FHEInstance, error) {
	return f(ctx, provider, chainID)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case value := <-ch:
		return value
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for value")
		var zero T
		return zero
	}
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}
