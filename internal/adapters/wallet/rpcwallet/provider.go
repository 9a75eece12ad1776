// Package rpcwallet exposes a JSON-RPC node that manages its own unlocked
// accounts (a dev node such as hardhat or anvil) as a wallet provider.
package rpcwallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/greenscore/internal/adapters/wallet/eip1193"
	"github.com/bnema/greenscore/internal/logging"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	MethodRequestAccounts = "eth_requestAccounts"
	MethodAccounts        = "eth_accounts"
	MethodChainID         = "eth_chainId"
	// MethodDisconnect is a local extension; nodes do not know it.
	MethodDisconnect = "wallet_disconnect"
)

var walletLog = logging.NewLogger("wallet.rpc")

type Provider struct {
	*eip1193.Emitter

	client *rpc.Client

	mu        sync.Mutex
	connected bool
}

var _ ports.WalletProvider = (*Provider)(nil)

func New(client *rpc.Client) *Provider {
	return &Provider{Emitter: eip1193.NewEmitter(), client: client}
}

func Dial(ctx context.Context, url string) (*Provider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial wallet rpc %s: %w", url, err)
	}
	return New(client), nil
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
	if p.client == nil {
		return nil, errors.New("wallet rpc client is nil")
	}

	switch method {
	case MethodRequestAccounts:
		return p.requestAccounts(ctx)
	case MethodDisconnect:
		p.disconnect()
		return json.RawMessage("null"), nil
	}

	return p.call(ctx, method, params...)
}

// requestAccounts has no prompt to show; the node's unlocked accounts are
// the authorised set.
func (p *Provider) requestAccounts(ctx context.Context) (json.RawMessage, error) {
	raw, err := p.call(ctx, MethodAccounts)
	if err != nil {
		return nil, err
	}

	accounts, err := eip1193.DecodeAccounts(raw)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, eip1193.UserRejected("node exposes no unlocked accounts")
	}

	chainRaw, err := p.call(ctx, MethodChainID)
	if err != nil {
		return nil, err
	}
	var chainID string
	if err := json.Unmarshal(chainRaw, &chainID); err != nil {
		return nil, fmt.Errorf("decode chain id: %w", err)
	}

	p.mu.Lock()
	wasConnected := p.connected
	p.connected = true
	p.mu.Unlock()

	if !wasConnected {
		walletLog.WithField("chain_id", chainID).Debug("rpc wallet connected")
		p.Emit(ports.EventConnect, ports.ConnectInfo{ChainID: chainID})
	}
	p.Emit(ports.EventAccountsChanged, accounts)

	return raw, nil
}

func (p *Provider) disconnect() {
	p.mu.Lock()
	wasConnected := p.connected
	p.connected = false
	p.mu.Unlock()

	if wasConnected {
		p.Emit(ports.EventDisconnect, nil)
	}
}

func (p *Provider) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var result json.RawMessage
	if err := p.client.CallContext(ctx, &result, method, params...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return result, nil
}
