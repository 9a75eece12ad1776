package relayer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/bnema/greenscore/internal/adapters/fhevm/eip712"
	"github.com/bnema/greenscore/internal/adapters/fhevm/inputproof"
	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// PublicParamsBits is the CRS size used for encrypted inputs.
const PublicParamsBits = 2048

type Instance struct {
	sdk          *SDK
	client       Client
	network      Network
	publicKey    ports.KeyMaterial
	publicParams ports.KeyMaterial
}

var _ ports.FHEInstance = (*Instance)(nil)

type keypairResult struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

type encryptRequest struct {
	PublicKey       []byte   `json:"publicKey"`
	PublicParams    []byte   `json:"publicParams"`
	ACLAddress      string   `json:"aclContractAddress"`
	ChainID         uint64   `json:"chainId"`
	ContractAddress string   `json:"contractAddress"`
	UserAddress     string   `json:"userAddress"`
	Values          []string `json:"values"`
	Bits            []int    `json:"bits"`
}

type encryptResult struct {
	Ciphertext string `json:"ciphertext"`
}

type userDecryptSDKRequest struct {
	Shares                      []DecryptionShare `json:"shares"`
	PrivateKey                  string            `json:"privateKey"`
	PublicKey                   string            `json:"publicKey"`
	Handles                     []string          `json:"handles"`
	UserAddress                 string            `json:"userAddress"`
	ContractsChainID            uint64            `json:"contractsChainId"`
	GatewayChainID              uint64            `json:"gatewayChainId"`
	VerifyingContractDecryption string            `json:"verifyingContractDecryption"`
}

type userDecryptSDKResult struct {
	Values map[string]string `json:"values"`
}

func (i *Instance) Network() Network {
	return i.network
}

func (i *Instance) CreateEncryptedInput(contract common.Address, user common.Address) ports.EncryptedInput {
	return &encryptedInput{instance: i, contract: contract, user: user}
}

func (i *Instance) GenerateKeypair() (ports.Keypair, error) {
	var result keypairResult
	if err := i.sdk.Call(context.Background(), OpKeypair, struct{}{}, &result); err != nil {
		return ports.Keypair{}, err
	}
	if result.PublicKey == "" || result.PrivateKey == "" {
		return ports.Keypair{}, errors.New("sdk keypair: empty key")
	}
	return ports.Keypair{PublicKey: result.PublicKey, PrivateKey: result.PrivateKey}, nil
}

func (i *Instance) CreateEIP712(publicKey string, contracts []common.Address, startTimestamp int64, durationDays int) (apitypes.TypedData, error) {
	return eip712.UserDecryptRequest(eip712.Domain{
		Name:              eip712.DecryptionDomainName,
		ChainID:           i.network.GatewayChainID,
		VerifyingContract: i.network.VerifyingContractDecryption,
	}, publicKey, contracts, startTimestamp, durationDays)
}

// UserDecrypt asks the relayer for KMS shares and reconstructs cleartexts
// with the permit's private key. Handles without a value are omitted.
func (i *Instance) UserDecrypt(ctx context.Context, req ports.UserDecryptRequest) (map[domain.Handle]*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Handles) == 0 {
		return map[domain.Handle]*big.Int{}, nil
	}

	permit := req.Permit
	pairs := make([]HandleContractPair, 0, len(req.Handles))
	handles := make([]string, 0, len(req.Handles))
	for _, pair := range req.Handles {
		pairs = append(pairs, HandleContractPair{Handle: pair.Handle.Hex(), ContractAddress: pair.ContractAddress.Hex()})
		handles = append(handles, pair.Handle.Hex())
	}
	contracts := make([]string, 0, len(permit.ContractAddresses))
	for _, contract := range permit.ContractAddresses {
		contracts = append(contracts, contract.Hex())
	}

	shares, err := i.client.UserDecrypt(ctx, UserDecryptRequest{
		HandleContractPairs: pairs,
		RequestValidity: RequestValidity{
			StartTimestamp: strconv.FormatInt(permit.StartTimestamp, 10),
			DurationDays:   strconv.Itoa(permit.DurationDays),
		},
		ContractsChainID:  strconv.FormatUint(i.network.ChainID, 10),
		ContractAddresses: contracts,
		UserAddress:       permit.UserAddress.Hex(),
		Signature:         strings.TrimPrefix(permit.Signature, "0x"),
		PublicKey:         strings.TrimPrefix(permit.PublicKey, "0x"),
		ExtraData:         "0x00",
	})
	if err != nil {
		return nil, fmt.Errorf("user decrypt: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result userDecryptSDKResult
	if err := i.sdk.Call(ctx, OpUserDecrypt, userDecryptSDKRequest{
		Shares:                      shares,
		PrivateKey:                  permit.PrivateKey,
		PublicKey:                   permit.PublicKey,
		Handles:                     handles,
		UserAddress:                 permit.UserAddress.Hex(),
		ContractsChainID:            i.network.ChainID,
		GatewayChainID:              i.network.GatewayChainID,
		VerifyingContractDecryption: i.network.VerifyingContractDecryption.Hex(),
	}, &result); err != nil {
		return nil, err
	}

	values := make(map[domain.Handle]*big.Int, len(result.Values))
	for rawHandle, rawValue := range result.Values {
		handle, err := domain.HandleFromHex(withHexPrefix(rawHandle))
		if err != nil {
			return nil, fmt.Errorf("sdk user_decrypt: %w", err)
		}
		value, ok := new(big.Int).SetString(rawValue, 0)
		if !ok {
			return nil, fmt.Errorf("sdk user_decrypt: invalid value %q", rawValue)
		}
		values[handle] = value
	}
	return values, nil
}

func (i *Instance) PublicKey() (ports.KeyMaterial, error) {
	return i.publicKey, nil
}

func (i *Instance) PublicParams(bits int) (ports.KeyMaterial, error) {
	if bits != PublicParamsBits {
		return ports.KeyMaterial{}, fmt.Errorf("public params of %d bits are not loaded", bits)
	}
	return i.publicParams, nil
}

type encryptedInput struct {
	instance *Instance
	contract common.Address
	user     common.Address
	values   []uint64
}

func (in *encryptedInput) Add64(value uint64) ports.EncryptedInput {
	in.values = append(in.values, value)
	return in
}

func (in *encryptedInput) Encrypt(ctx context.Context) (ports.EncryptedInputResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.EncryptedInputResult{}, err
	}
	if len(in.values) == 0 {
		return ports.EncryptedInputResult{}, errors.New("encrypted input has no values")
	}

	i := in.instance
	values := make([]string, 0, len(in.values))
	bits := make([]int, 0, len(in.values))
	for _, value := range in.values {
		values = append(values, strconv.FormatUint(value, 10))
		bits = append(bits, 64)
	}

	var encrypted encryptResult
	if err := i.sdk.Call(ctx, OpEncrypt, encryptRequest{
		PublicKey:       i.publicKey.Data,
		PublicParams:    i.publicParams.Data,
		ACLAddress:      i.network.ACLAddress.Hex(),
		ChainID:         i.network.ChainID,
		ContractAddress: in.contract.Hex(),
		UserAddress:     in.user.Hex(),
		Values:          values,
		Bits:            bits,
	}, &encrypted); err != nil {
		return ports.EncryptedInputResult{}, err
	}

	proofResp, err := i.client.InputProof(ctx, InputProofRequest{
		ContractAddress: in.contract.Hex(),
		UserAddress:     in.user.Hex(),
		Ciphertext:      strings.TrimPrefix(encrypted.Ciphertext, "0x"),
		ContractChainID: hexutil.EncodeUint64(i.network.ChainID),
		ExtraData:       "0x00",
	})
	if err != nil {
		return ports.EncryptedInputResult{}, fmt.Errorf("input proof: %w", err)
	}
	if len(proofResp.Handles) != len(in.values) {
		return ports.EncryptedInputResult{}, fmt.Errorf("input proof: expected %d handles, got %d", len(in.values), len(proofResp.Handles))
	}

	result := ports.EncryptedInputResult{Handles: make([]domain.Handle, 0, len(proofResp.Handles))}
	rawHandles := make([][32]byte, 0, len(proofResp.Handles))
	for _, raw := range proofResp.Handles {
		handle, err := domain.HandleFromHex(withHexPrefix(raw))
		if err != nil {
			return ports.EncryptedInputResult{}, fmt.Errorf("input proof: %w", err)
		}
		result.Handles = append(result.Handles, handle)
		rawHandles = append(rawHandles, handle)
	}

	signatures := make([][]byte, 0, len(proofResp.Signatures))
	for _, raw := range proofResp.Signatures {
		signature, err := hexutil.Decode(withHexPrefix(raw))
		if err != nil {
			return ports.EncryptedInputResult{}, fmt.Errorf("input proof signature: %w", err)
		}
		signatures = append(signatures, signature)
	}

	result.InputProof, err = inputproof.Encode(rawHandles, signatures)
	if err != nil {
		return ports.EncryptedInputResult{}, fmt.Errorf("input proof: %w", err)
	}
	return result, nil
}

func withHexPrefix(raw string) string {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return raw
	}
	return "0x" + raw
}
