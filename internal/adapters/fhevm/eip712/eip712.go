// Package eip712 builds the typed-data payloads shared by the FHE instance
// implementations.
package eip712

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	DecryptionDomainName = "Decryption"
	InputDomainName      = "InputVerification"
	DomainVersion        = "1"

	UserDecryptPrimaryType = "UserDecryptRequestVerification"
	CiphertextPrimaryType  = "CiphertextVerification"
	defaultExtraData       = "0x00"
	eip712DomainTypeName   = "EIP712Domain"
)

type Domain struct {
	Name              string
	ChainID           uint64
	VerifyingContract common.Address
}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

func (d Domain) typed() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           DomainVersion,
		ChainId:           math.NewHexOrDecimal256(int64(d.ChainID)),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// UserDecryptRequest binds a decrypt public key to a set of contracts for a
// validity window.
func UserDecryptRequest(domain Domain, publicKey string, contracts []common.Address, startTimestamp int64, durationDays int) (apitypes.TypedData, error) {
	key, err := normalizeHex(publicKey)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("public key: %w", err)
	}
	if len(contracts) == 0 {
		return apitypes.TypedData{}, errors.New("at least one contract address is required")
	}
	if startTimestamp < 0 {
		return apitypes.TypedData{}, fmt.Errorf("invalid start timestamp %d", startTimestamp)
	}
	if durationDays <= 0 {
		return apitypes.TypedData{}, fmt.Errorf("invalid duration %d days", durationDays)
	}
	if domain.Name == "" {
		domain.Name = DecryptionDomainName
	}

	addresses := make([]interface{}, 0, len(contracts))
	for _, contract := range contracts {
		addresses = append(addresses, contract.Hex())
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			eip712DomainTypeName: domainFields,
			UserDecryptPrimaryType: {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
				{Name: "extraData", Type: "bytes"},
			},
		},
		PrimaryType: UserDecryptPrimaryType,
		Domain:      domain.typed(),
		Message: apitypes.TypedDataMessage{
			"publicKey":         key,
			"contractAddresses": addresses,
			"startTimestamp":    strconv.FormatInt(startTimestamp, 10),
			"durationDays":      strconv.Itoa(durationDays),
			"extraData":         defaultExtraData,
		},
	}, nil
}

// CiphertextVerification is what the coprocessor signs to attest an input
// proof.
func CiphertextVerification(domain Domain, handles [][32]byte, user common.Address, contract common.Address, contractChainID uint64) apitypes.TypedData {
	if domain.Name == "" {
		domain.Name = InputDomainName
	}

	encoded := make([]interface{}, 0, len(handles))
	for _, handle := range handles {
		encoded = append(encoded, hexutil.Encode(handle[:]))
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			eip712DomainTypeName: domainFields,
			CiphertextPrimaryType: {
				{Name: "ctHandles", Type: "bytes32[]"},
				{Name: "userAddress", Type: "address"},
				{Name: "contractAddress", Type: "address"},
				{Name: "contractChainId", Type: "uint256"},
				{Name: "extraData", Type: "bytes"},
			},
		},
		PrimaryType: CiphertextPrimaryType,
		Domain:      domain.typed(),
		Message: apitypes.TypedDataMessage{
			"ctHandles":       encoded,
			"userAddress":     user.Hex(),
			"contractAddress": contract.Hex(),
			"contractChainId": strconv.FormatUint(contractChainID, 10),
			"extraData":       defaultExtraData,
		},
	}
}

// Recover returns the address that produced signature over typedData.
// Both 0/1 and 27/28 recovery ids are accepted.
func Recover(typedData apitypes.TypedData, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return common.Address{}, fmt.Errorf("hash typed data: %w", err)
	}

	sig := append([]byte{}, signature...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces a 27/28-style signature the way a wallet would.
func Sign(typedData apitypes.TypedData, sign func(digest []byte) ([]byte, error)) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	signature, err := sign(digest)
	if err != nil {
		return nil, err
	}
	if len(signature) != crypto.SignatureLength {
		return nil, fmt.Errorf("invalid signature length %d", len(signature))
	}
	signature[crypto.RecoveryIDOffset] += 27
	return signature, nil
}

func normalizeHex(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", errors.New("value is empty")
	}
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		trimmed = "0x" + trimmed
	}
	if _, err := hexutil.Decode(trimmed); err != nil {
		return "", err
	}
	return strings.ToLower(trimmed), nil
}
