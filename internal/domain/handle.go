package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Handle references an on-chain ciphertext. The zero value means the
// contract has not stored anything yet.
type Handle [32]byte

var ZeroHandle Handle

func HandleFromHex(raw string) (Handle, error) {
	decoded, err := hexutil.Decode(raw)
	if err != nil {
		return Handle{}, err
	}
	return Handle(common.BytesToHash(decoded)), nil
}

func (h Handle) IsZero() bool {
	return h == ZeroHandle
}

func (h Handle) Hash() common.Hash {
	return common.Hash(h)
}

func (h Handle) Hex() string {
	return common.Hash(h).Hex()
}

func (h Handle) String() string {
	return h.Hex()
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := HandleFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

type HandleContractPair struct {
	Handle          Handle
	ContractAddress common.Address
}
