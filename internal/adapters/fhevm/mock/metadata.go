// Package mock builds FHE instances against a local development node that
// simulates the coprocessor and KMS.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const MethodRelayerMetadata = "fhevm_relayer_metadata"

// Metadata is what the node reports about its FHE system contracts.
type Metadata struct {
	ACLAddress           common.Address `json:"aclAddress"`
	InputVerifierAddress common.Address `json:"inputVerifierAddress"`
	KMSVerifierAddress   common.Address `json:"kmsVerifierAddress"`
}

type metadataPayload struct {
	ACLAddress           string `json:"ACLAddress"`
	InputVerifierAddress string `json:"InputVerifierAddress"`
	KMSVerifierAddress   string `json:"KMSVerifierAddress"`
}

// InputDomain is the EIP-712 domain of the InputVerifier contract.
type InputDomain struct {
	GatewayChainID    uint64
	VerifyingContract common.Address
}

const eip712DomainABI = `[{"type":"function","name":"eip712Domain","stateMutability":"view","inputs":[],"outputs":[
  {"name":"fields","type":"bytes1"},
  {"name":"name","type":"string"},
  {"name":"version","type":"string"},
  {"name":"chainId","type":"uint256"},
  {"name":"verifyingContract","type":"address"},
  {"name":"salt","type":"bytes32"},
  {"name":"extensions","type":"uint256[]"}
]}]`

var domainABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(eip712DomainABI))
	if err != nil {
		panic("parse eip712Domain ABI: " + err.Error())
	}
	return parsed
}()

// FetchMetadata reads the relayer metadata. Nodes answer either with the
// addresses directly or wrapped in a "result" member.
func FetchMetadata(ctx context.Context, client *rpc.Client) (Metadata, error) {
	var raw json.RawMessage
	if err := client.CallContext(ctx, &raw, MethodRelayerMetadata); err != nil {
		return Metadata{}, fmt.Errorf("%s: %w", MethodRelayerMetadata, err)
	}
	return ParseMetadata(raw)
}

func ParseMetadata(raw json.RawMessage) (Metadata, error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Result) > 0 && string(envelope.Result) != "null" {
		raw = envelope.Result
	}

	var payload metadataPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", domain.ErrInvalidRelayerMetadata, err)
	}

	fields := []struct {
		name  string
		value string
	}{
		{name: "ACLAddress", value: payload.ACLAddress},
		{name: "InputVerifierAddress", value: payload.InputVerifierAddress},
		{name: "KMSVerifierAddress", value: payload.KMSVerifierAddress},
	}
	for _, field := range fields {
		if !common.IsHexAddress(strings.TrimSpace(field.value)) {
			return Metadata{}, fmt.Errorf("%w: %s %q", domain.ErrInvalidRelayerMetadata, field.name, field.value)
		}
	}

	return Metadata{
		ACLAddress:           common.HexToAddress(payload.ACLAddress),
		InputVerifierAddress: common.HexToAddress(payload.InputVerifierAddress),
		KMSVerifierAddress:   common.HexToAddress(payload.KMSVerifierAddress),
	}, nil
}

// FetchInputDomain calls eip712Domain() on the InputVerifier. The gateway
// chain id and verifying contract are outputs 3 and 4.
func FetchInputDomain(ctx context.Context, client *rpc.Client, inputVerifier common.Address) (InputDomain, error) {
	data, err := domainABI.Pack("eip712Domain")
	if err != nil {
		return InputDomain{}, fmt.Errorf("pack eip712Domain: %w", err)
	}

	result, err := ethclient.NewClient(client).CallContract(ctx, ethereum.CallMsg{To: &inputVerifier, Data: data}, nil)
	if err != nil {
		return InputDomain{}, fmt.Errorf("call eip712Domain on %s: %w", inputVerifier.Hex(), err)
	}

	out, err := domainABI.Unpack("eip712Domain", result)
	if err != nil {
		return InputDomain{}, fmt.Errorf("unpack eip712Domain: %w", err)
	}
	if len(out) < 5 {
		return InputDomain{}, fmt.Errorf("unpack eip712Domain: got %d outputs", len(out))
	}

	chainID, ok := out[3].(*big.Int)
	if !ok || !chainID.IsUint64() {
		return InputDomain{}, fmt.Errorf("eip712Domain chain id %v is invalid", out[3])
	}
	verifying, ok := out[4].(common.Address)
	if !ok {
		return InputDomain{}, fmt.Errorf("eip712Domain verifying contract %v is invalid", out[4])
	}

	return InputDomain{GatewayChainID: chainID.Uint64(), VerifyingContract: verifying}, nil
}
