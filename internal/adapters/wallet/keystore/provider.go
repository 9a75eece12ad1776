// Package keystore is a wallet provider backed by an encrypted go-ethereum
// keystore directory. Transactions are signed locally and broadcast through
// the configured node.
package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/bnema/greenscore/internal/adapters/wallet/eip1193"
	"github.com/bnema/greenscore/internal/logging"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	MethodRequestAccounts = "eth_requestAccounts"
	MethodAccounts        = "eth_accounts"
	MethodChainID         = "eth_chainId"
	MethodSignTypedData   = "eth_signTypedData_v4"
	MethodSendTransaction = "eth_sendTransaction"
	MethodDisconnect      = "wallet_disconnect"
)

var walletLog = logging.NewLogger("wallet.keystore")

type Provider struct {
	*eip1193.Emitter

	ks            *gethkeystore.KeyStore
	client        *rpc.Client
	eth           *ethclient.Client
	secrets       ports.SecretStore
	passphraseRef string

	mu       sync.Mutex
	unlocked []accounts.Account
}

var _ ports.WalletProvider = (*Provider)(nil)

type txArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Value *hexutil.Big    `json:"value"`
	Gas   *hexutil.Uint64 `json:"gas"`
}

func New(ks *gethkeystore.KeyStore, client *rpc.Client, secrets ports.SecretStore, passphraseRef string) *Provider {
	return &Provider{
		Emitter:       eip1193.NewEmitter(),
		ks:            ks,
		client:        client,
		eth:           ethclient.NewClient(client),
		secrets:       secrets,
		passphraseRef: passphraseRef,
	}
}

// Open opens the keystore directory with standard scrypt parameters and
// dials the node at rpcURL.
func Open(ctx context.Context, dir string, rpcURL string, secrets ports.SecretStore, passphraseRef string) (*Provider, error) {
	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial wallet rpc %s: %w", rpcURL, err)
	}
	ks := gethkeystore.NewKeyStore(dir, gethkeystore.StandardScryptN, gethkeystore.StandardScryptP)
	return New(ks, client, secrets, passphraseRef), nil
}

func (p *Provider) Close() {
	if p.client != nil {
		p.client.Close()
	}
}

func (p *Provider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch method {
	case MethodRequestAccounts:
		return p.requestAccounts(ctx)
	case MethodAccounts:
		return json.Marshal(p.addresses())
	case MethodChainID:
		chainID, err := p.eth.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", method, err)
		}
		return json.Marshal(hexutil.EncodeBig(chainID))
	case MethodSignTypedData:
		return p.signTypedData(params)
	case MethodSendTransaction:
		return p.sendTransaction(ctx, params)
	case MethodDisconnect:
		p.lockAll()
		return json.RawMessage("null"), nil
	}

	var result json.RawMessage
	if err := p.client.CallContext(ctx, &result, method, params...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return result, nil
}

func (p *Provider) requestAccounts(ctx context.Context) (json.RawMessage, error) {
	if addresses := p.addresses(); len(addresses) > 0 {
		return json.Marshal(addresses)
	}

	passphrase, err := p.secrets.Get(ctx, p.passphraseRef)
	if err != nil {
		if errors.Is(err, ports.ErrSecretNotFound) {
			return nil, eip1193.UserRejected("keystore passphrase is not configured")
		}
		return nil, fmt.Errorf("read keystore passphrase: %w", err)
	}

	var unlocked []accounts.Account
	for _, account := range p.ks.Accounts() {
		if err := p.ks.Unlock(account, passphrase); err != nil {
			walletLog.WithError(err).WithField("account", account.Address.Hex()).Debug("skip locked keystore account")
			continue
		}
		unlocked = append(unlocked, account)
	}
	if len(unlocked) == 0 {
		return nil, eip1193.UserRejected("no keystore account could be unlocked")
	}

	chainID, err := p.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MethodChainID, err)
	}

	p.mu.Lock()
	p.unlocked = unlocked
	p.mu.Unlock()

	addresses := p.addresses()
	p.Emit(ports.EventConnect, ports.ConnectInfo{ChainID: hexutil.EncodeBig(chainID)})
	p.Emit(ports.EventAccountsChanged, addresses)

	return json.Marshal(addresses)
}

func (p *Provider) signTypedData(params []any) (json.RawMessage, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("%s: expected address and typed data, got %d params", MethodSignTypedData, len(params))
	}

	account, err := p.unlockedAccount(params[0])
	if err != nil {
		return nil, err
	}

	var typedData apitypes.TypedData
	switch payload := params[1].(type) {
	case string:
		err = json.Unmarshal([]byte(payload), &typedData)
	default:
		var encoded []byte
		encoded, err = json.Marshal(payload)
		if err == nil {
			err = json.Unmarshal(encoded, &typedData)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode typed data: %w", err)
	}

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}

	signature, err := p.ks.SignHash(account, digest)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	signature[crypto.RecoveryIDOffset] += 27

	return json.Marshal(hexutil.Encode(signature))
}

func (p *Provider) sendTransaction(ctx context.Context, params []any) (json.RawMessage, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("%s: expected one transaction object, got %d params", MethodSendTransaction, len(params))
	}

	encoded, err := json.Marshal(params[0])
	if err != nil {
		return nil, fmt.Errorf("encode transaction args: %w", err)
	}
	var args txArgs
	if err := json.Unmarshal(encoded, &args); err != nil {
		return nil, fmt.Errorf("decode transaction args: %w", err)
	}

	account, err := p.unlockedAccount(args.From.Hex())
	if err != nil {
		return nil, err
	}

	value := new(big.Int)
	if args.Value != nil {
		value = args.Value.ToInt()
	}

	chainID, err := p.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MethodChainID, err)
	}
	nonce, err := p.eth.PendingNonceAt(ctx, account.Address)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := p.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	var gas uint64
	if args.Gas != nil {
		gas = uint64(*args.Gas)
	} else {
		gas, err = p.eth.EstimateGas(ctx, ethereum.CallMsg{
			From:  account.Address,
			To:    args.To,
			Data:  args.Data,
			Value: value,
		})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       args.To,
		Value:    value,
		Data:     args.Data,
	})
	signed, err := p.ks.SignTx(account, tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := p.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	walletLog.WithField("tx", signed.Hash().Hex()).Info("transaction broadcast")
	return json.Marshal(signed.Hash().Hex())
}

func (p *Provider) unlockedAccount(raw any) (accounts.Account, error) {
	address, ok := raw.(string)
	if !ok || !common.IsHexAddress(address) {
		return accounts.Account{}, fmt.Errorf("invalid account %v", raw)
	}
	target := common.HexToAddress(address)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, account := range p.unlocked {
		if account.Address == target {
			return account, nil
		}
	}
	return accounts.Account{}, &eip1193.RPCError{
		Code:    eip1193.CodeUnauthorized,
		Message: fmt.Sprintf("account %s is not unlocked", target.Hex()),
	}
}

func (p *Provider) addresses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	addresses := make([]string, 0, len(p.unlocked))
	for _, account := range p.unlocked {
		addresses = append(addresses, strings.ToLower(account.Address.Hex()))
	}
	return addresses
}

func (p *Provider) lockAll() {
	p.mu.Lock()
	unlocked := p.unlocked
	p.unlocked = nil
	p.mu.Unlock()

	for _, account := range unlocked {
		_ = p.ks.Lock(account.Address)
	}
	if len(unlocked) > 0 {
		p.Emit(ports.EventDisconnect, nil)
	}
}
