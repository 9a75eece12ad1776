package ports

import (
	"context"
	"encoding/json"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

type WalletEvent string

const (
	EventAccountsChanged WalletEvent = "accountsChanged"
	EventChainChanged    WalletEvent = "chainChanged"
	EventConnect         WalletEvent = "connect"
	EventDisconnect      WalletEvent = "disconnect"
)

// WalletProvider is an EIP-1193 style provider.
//
// Event payloads: accountsChanged carries []string, chainChanged carries the
// chain id as delivered by the wallet, connect carries ConnectInfo and
// disconnect carries an error or nil.
type WalletProvider interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
	On(event WalletEvent, handler func(payload any)) (unsubscribe func(), err error)
}

type ConnectInfo struct {
	ChainID string `json:"chainId"`
}

type ProviderDetail struct {
	Info     domain.ProviderInfo
	Provider WalletProvider
}

// ProviderBus carries the EIP-6963 request/announce exchange.
type ProviderBus interface {
	RequestProviders()
	OnAnnounce(handler func(ProviderDetail)) (unsubscribe func(), err error)
}

type Signer interface {
	Address() common.Address
	SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error)
}

// SignerFactory binds a Signer to an account of a provider.
type SignerFactory func(provider WalletProvider, account common.Address) Signer
