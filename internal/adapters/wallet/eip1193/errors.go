package eip1193

import (
	"errors"
	"fmt"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
)

// RPCError is a provider error carrying an EIP-1193 code.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

func (e *RPCError) ErrorCode() int {
	return e.Code
}

func (e *RPCError) Is(target error) bool {
	return target == domain.ErrUserRejected && e.Code == CodeUserRejected
}

func UserRejected(message string) error {
	return &RPCError{Code: CodeUserRejected, Message: message}
}

// IsUserRejected also recognises code 4001 relayed by a JSON-RPC node.
func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrUserRejected) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode() == CodeUserRejected
	}
	return false
}
