package mock

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/bnema/greenscore/internal/adapters/fhevm/eip712"
	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/logging"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/crypto/curve25519"
)

const (
	MethodRegisterCleartexts = "fhevm_registerCleartexts"
	MethodGetClearText       = "fhevm_getClearText"
)

// DecryptionVerifyingContract is the fixed verifying contract of the
// decryption domain on development nodes.
var DecryptionVerifyingContract = common.HexToAddress("0x5ffdaAB0373E62E2ea2944776209aEf29E631A64")

var mockLog = logging.NewLogger("fhevm.mock")

type Options struct {
	ChainID        uint64
	// CoprocessorKey is a hex secp256k1 key used to attest input proofs.
	// An empty key gets an ephemeral one per instance.
	CoprocessorKey string
	Now            func() time.Time
}

type Instance struct {
	client      *rpc.Client
	chainID     uint64
	metadata    Metadata
	inputDomain InputDomain
	coprocessor *ecdsa.PrivateKey
	now         func() time.Time
}

var _ ports.FHEInstance = (*Instance)(nil)

// New resolves the node's FHE metadata and input domain and returns a
// ready instance. ctx is checked between the two node round trips.
func New(ctx context.Context, client *rpc.Client, opts Options) (*Instance, error) {
	if client == nil {
		return nil, errors.New("mock node client is nil")
	}

	coprocessor, err := coprocessorKey(opts.CoprocessorKey)
	if err != nil {
		return nil, err
	}

	metadata, err := FetchMetadata(ctx, client)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputDomain, err := FetchInputDomain(ctx, client, metadata.InputVerifierAddress)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	mockLog.WithField("acl", metadata.ACLAddress.Hex()).Debug("mock instance ready")
	return &Instance{
		client:      client,
		chainID:     opts.ChainID,
		metadata:    metadata,
		inputDomain: inputDomain,
		coprocessor: coprocessor,
		now:         now,
	}, nil
}

func coprocessorKey(raw string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate coprocessor key: %w", err)
		}
		return key, nil
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse coprocessor key: %w", err)
	}
	return key, nil
}

func (i *Instance) Metadata() Metadata {
	return i.metadata
}

func (i *Instance) CoprocessorAddress() common.Address {
	return crypto.PubkeyToAddress(i.coprocessor.PublicKey)
}

func (i *Instance) CreateEncryptedInput(contract common.Address, user common.Address) ports.EncryptedInput {
	return &encryptedInput{instance: i, contract: contract, user: user}
}

// GenerateKeypair returns an X25519 keypair, hex encoded without prefix.
func (i *Instance) GenerateKeypair() (ports.Keypair, error) {
	private := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(private); err != nil {
		return ports.Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return ports.Keypair{}, fmt.Errorf("derive public key: %w", err)
	}
	return ports.Keypair{PublicKey: hex.EncodeToString(public), PrivateKey: hex.EncodeToString(private)}, nil
}

func (i *Instance) CreateEIP712(publicKey string, contracts []common.Address, startTimestamp int64, durationDays int) (apitypes.TypedData, error) {
	return eip712.UserDecryptRequest(i.decryptionDomain(), publicKey, contracts, startTimestamp, durationDays)
}

func (i *Instance) decryptionDomain() eip712.Domain {
	return eip712.Domain{
		Name:              eip712.DecryptionDomainName,
		ChainID:           i.inputDomain.GatewayChainID,
		VerifyingContract: DecryptionVerifyingContract,
	}
}

// UserDecrypt checks the permit the way the KMS would and then reads the
// cleartexts the node recorded for the handles. Handles the node does not
// know are omitted from the result.
func (i *Instance) UserDecrypt(ctx context.Context, req ports.UserDecryptRequest) (map[domain.Handle]*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := i.verifyPermit(req); err != nil {
		return nil, err
	}
	if len(req.Handles) == 0 {
		return map[domain.Handle]*big.Int{}, nil
	}

	encoded := make([]string, 0, len(req.Handles))
	for _, pair := range req.Handles {
		encoded = append(encoded, pair.Handle.Hex())
	}

	var cleartexts []*string
	if err := i.client.CallContext(ctx, &cleartexts, MethodGetClearText, encoded); err != nil {
		return nil, fmt.Errorf("%s: %w", MethodGetClearText, err)
	}
	if len(cleartexts) != len(encoded) {
		return nil, fmt.Errorf("%s: expected %d values, got %d", MethodGetClearText, len(encoded), len(cleartexts))
	}

	results := make(map[domain.Handle]*big.Int, len(encoded))
	for idx, value := range cleartexts {
		if value == nil {
			continue
		}
		parsed, ok := new(big.Int).SetString(*value, 0)
		if !ok {
			return nil, fmt.Errorf("%s: invalid cleartext %q", MethodGetClearText, *value)
		}
		results[req.Handles[idx].Handle] = parsed
	}
	return results, nil
}

func (i *Instance) verifyPermit(req ports.UserDecryptRequest) error {
	permit := req.Permit
	if !permit.ValidAt(i.now()) {
		return errors.New("decrypt permit is outside its validity window")
	}
	for _, pair := range req.Handles {
		if !slices.Contains(permit.ContractAddresses, pair.ContractAddress) {
			return fmt.Errorf("decrypt permit does not cover contract %s", pair.ContractAddress.Hex())
		}
	}

	typedData, err := i.CreateEIP712(permit.PublicKey, permit.ContractAddresses, permit.StartTimestamp, permit.DurationDays)
	if err != nil {
		return fmt.Errorf("rebuild decrypt permit: %w", err)
	}
	signature, err := hexutil.Decode(permit.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSignatureRejected, err)
	}
	signer, err := eip712.Recover(typedData, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSignatureRejected, err)
	}
	if signer != permit.UserAddress {
		return fmt.Errorf("%w: permit signed by %s, not %s", domain.ErrSignatureRejected, signer.Hex(), permit.UserAddress.Hex())
	}
	return nil
}

// PublicKey is a stand-in: the node keeps no real FHE key, so the material
// is derived from the ACL address to keep cache entries stable.
func (i *Instance) PublicKey() (ports.KeyMaterial, error) {
	return ports.KeyMaterial{
		ID:   "mock-" + strings.ToLower(i.metadata.ACLAddress.Hex()),
		Data: crypto.Keccak256(i.metadata.ACLAddress.Bytes()),
	}, nil
}

func (i *Instance) PublicParams(bits int) (ports.KeyMaterial, error) {
	if bits <= 0 {
		return ports.KeyMaterial{}, fmt.Errorf("invalid public params size %d", bits)
	}
	return ports.KeyMaterial{
		ID:   fmt.Sprintf("mock-crs-%d", bits),
		Data: crypto.Keccak256(i.metadata.ACLAddress.Bytes(), big.NewInt(int64(bits)).Bytes()),
	}, nil
}
