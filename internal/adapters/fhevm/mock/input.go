package mock

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/bnema/greenscore/internal/adapters/fhevm/eip712"
	"github.com/bnema/greenscore/internal/adapters/fhevm/inputproof"
	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	handleIndexByte   = 21
	handleChainIDFrom = 22
	handleTypeByte    = 30
	handleVersionByte = 31

	typeEuint64   byte = 5
	handleVersion byte = 0
)

type encryptedInput struct {
	instance *Instance
	contract common.Address
	user     common.Address
	values   []uint64
}

type cleartextEntry struct {
	Handle   string `json:"handle"`
	Value    string `json:"value"`
	Contract string `json:"contract"`
	User     string `json:"user"`
}

func (in *encryptedInput) Add64(value uint64) ports.EncryptedInput {
	in.values = append(in.values, value)
	return in
}

// Encrypt derives one handle per value, registers the cleartexts with the
// node and returns a proof attested by the coprocessor key.
func (in *encryptedInput) Encrypt(ctx context.Context) (ports.EncryptedInputResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.EncryptedInputResult{}, err
	}
	if len(in.values) == 0 {
		return ports.EncryptedInputResult{}, errors.New("encrypted input has no values")
	}
	if len(in.values) > math.MaxUint8 {
		return ports.EncryptedInputResult{}, fmt.Errorf("encrypted input has %d values, at most %d allowed", len(in.values), math.MaxUint8)
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return ports.EncryptedInputResult{}, fmt.Errorf("input seed: %w", err)
	}

	i := in.instance
	handles := make([][32]byte, len(in.values))
	entries := make([]cleartextEntry, len(in.values))
	for idx, value := range in.values {
		handle := deriveHandle(seed, in.contract, in.user, idx, i.chainID)
		handles[idx] = handle
		entries[idx] = cleartextEntry{
			Handle:   domain.Handle(handle).Hex(),
			Value:    strconv.FormatUint(value, 10),
			Contract: in.contract.Hex(),
			User:     in.user.Hex(),
		}
	}

	typedData := eip712.CiphertextVerification(eip712.Domain{
		Name:              eip712.InputDomainName,
		ChainID:           i.inputDomain.GatewayChainID,
		VerifyingContract: i.inputDomain.VerifyingContract,
	}, handles, in.user, in.contract, i.chainID)
	signature, err := eip712.Sign(typedData, func(digest []byte) ([]byte, error) {
		return crypto.Sign(digest, i.coprocessor)
	})
	if err != nil {
		return ports.EncryptedInputResult{}, fmt.Errorf("attest input proof: %w", err)
	}

	proof, err := inputproof.Encode(handles, [][]byte{signature})
	if err != nil {
		return ports.EncryptedInputResult{}, err
	}

	if err := i.client.CallContext(ctx, nil, MethodRegisterCleartexts, entries); err != nil {
		return ports.EncryptedInputResult{}, fmt.Errorf("%s: %w", MethodRegisterCleartexts, err)
	}

	result := ports.EncryptedInputResult{
		Handles:    make([]domain.Handle, len(handles)),
		InputProof: proof,
	}
	for idx, handle := range handles {
		result.Handles[idx] = domain.Handle(handle)
	}
	return result, nil
}

func deriveHandle(seed []byte, contract common.Address, user common.Address, index int, chainID uint64) [32]byte {
	digest := crypto.Keccak256(seed, contract.Bytes(), user.Bytes(), big.NewInt(int64(index)).Bytes())

	var handle [32]byte
	copy(handle[:], digest)
	handle[handleIndexByte] = byte(index)
	binary.BigEndian.PutUint64(handle[handleChainIDFrom:handleTypeByte], chainID)
	handle[handleTypeByte] = typeEuint64
	handle[handleVersionByte] = handleVersion
	return handle
}
