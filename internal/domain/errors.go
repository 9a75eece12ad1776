package domain

import "errors"

var (
	ErrNoProviderFound          = errors.New("no wallet provider found")
	ErrUserRejected             = errors.New("user rejected the request")
	ErrInvalidRelayerMetadata   = errors.New("invalid fhevm relayer metadata")
	ErrUnsupportedNetwork       = errors.New("unsupported network")
	ErrMissingNetworkConfig     = errors.New("relayer network configuration missing")
	ErrContractUnavailable      = errors.New("greenscore contract unavailable on this chain")
	ErrSignatureRejected        = errors.New("decrypt signature rejected")
	ErrWalletOrInstanceNotReady = errors.New("wallet or fhe instance not ready")
	ErrNothingToClaim           = errors.New("nothing to claim")
	ErrUnknownAction            = errors.New("unknown action")
	ErrTransactionReverted      = errors.New("transaction reverted")
)
