package keystore

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/bnema/greenscore/internal/adapters/wallet/eip1193"
	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/bnema/greenscore/internal/ports/mocks"
	"github.com/bnema/greenscore/internal/testutil"
	"github.com/ethereum/go-ethereum/accounts"
	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	passphraseRef = "greenscore/keystore/passphrase"
	passphrase    = "correct horse"
)

type fixture struct {
	provider *Provider
	account  accounts.Account
	node     *testutil.RPCServer
	secrets  *mocks.MockSecretStore
	sent     []*types.Transaction
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ks := gethkeystore.NewKeyStore(t.TempDir(), gethkeystore.LightScryptN, gethkeystore.LightScryptP)
	account, err := ks.NewAccount(passphrase)
	require.NoError(t, err)

	f := &fixture{account: account, secrets: mocks.NewMockSecretStore(t)}
	f.node = testutil.NewRPCServer(t, map[string]testutil.RPCHandler{
		"eth_chainId":             testutil.Static("0x7a69"),
		"eth_getTransactionCount": testutil.Static("0x3"),
		"eth_gasPrice":            testutil.Static("0x3b9aca00"),
		"eth_estimateGas":         testutil.Static("0x5208"),
		"eth_sendRawTransaction": func(params []json.RawMessage) (any, *testutil.RPCError) {
			var encoded string
			if err := json.Unmarshal(params[0], &encoded); err != nil {
				return nil, &testutil.RPCError{Code: -32602, Message: err.Error()}
			}
			tx := new(types.Transaction)
			if err := tx.UnmarshalBinary(hexutil.MustDecode(encoded)); err != nil {
				return nil, &testutil.RPCError{Code: -32602, Message: err.Error()}
			}
			f.sent = append(f.sent, tx)
			return tx.Hash().Hex(), nil
		},
	})

	client, err := rpc.DialContext(context.Background(), f.node.URL)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	f.provider = New(ks, client, f.secrets, passphraseRef)
	return f
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()

	f.secrets.EXPECT().Get(mock.Anything, passphraseRef).Return(passphrase, nil).Once()
	_, err := f.provider.Request(context.Background(), MethodRequestAccounts)
	require.NoError(t, err)
}

func TestRequestAccountsUnlocksWithStoredPassphrase(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	raw, err := f.provider.Request(context.Background(), MethodAccounts)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))

	var connectInfo ports.ConnectInfo
	_, err = f.provider.On(ports.EventConnect, func(payload any) {
		connectInfo = payload.(ports.ConnectInfo)
	})
	require.NoError(t, err)

	f.connect(t)
	assert.Equal(t, "0x7a69", connectInfo.ChainID)

	raw, err = f.provider.Request(context.Background(), MethodAccounts)
	require.NoError(t, err)
	accounts, err := eip1193.DecodeAccounts(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{strings.ToLower(f.account.Address.Hex())}, accounts)

	// A second request reuses the unlocked set without reading the secret again.
	_, err = f.provider.Request(context.Background(), MethodRequestAccounts)
	require.NoError(t, err)
}

func TestRequestAccountsRejectsWithoutUsablePassphrase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		secret string
		err    error
	}{
		{name: "missing secret", err: ports.ErrSecretNotFound},
		{name: "wrong passphrase", secret: "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.secrets.EXPECT().Get(mock.Anything, passphraseRef).Return(tt.secret, tt.err).Once()

			_, err := f.provider.Request(context.Background(), MethodRequestAccounts)
			require.ErrorIs(t, err, domain.ErrUserRejected)
		})
	}
}

func TestSignTypedDataRecoversToAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.connect(t)

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Note": {{Name: "contents", Type: "string"}},
		},
		PrimaryType: "Note",
		Domain: apitypes.TypedDataDomain{
			Name:              "GreenScore",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(31337),
			VerifyingContract: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		},
		Message: apitypes.TypedDataMessage{"contents": "planted a tree"},
	}
	payload, err := json.Marshal(typedData)
	require.NoError(t, err)

	raw, err := f.provider.Request(context.Background(), MethodSignTypedData, f.account.Address.Hex(), string(payload))
	require.NoError(t, err)

	var encoded string
	require.NoError(t, json.Unmarshal(raw, &encoded))
	signature := hexutil.MustDecode(encoded)
	require.Len(t, signature, 65)
	assert.Contains(t, []byte{27, 28}, signature[64])

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	require.NoError(t, err)
	signature[64] -= 27
	pub, err := crypto.SigToPub(digest, signature)
	require.NoError(t, err)
	assert.Equal(t, f.account.Address, crypto.PubkeyToAddress(*pub))
}

func TestSignTypedDataRequiresUnlockedAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.provider.Request(context.Background(), MethodSignTypedData, f.account.Address.Hex(), "{}")
	var rpcErr *eip1193.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, eip1193.CodeUnauthorized, rpcErr.Code)
}

func TestSendTransactionSignsAndBroadcasts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.connect(t)

	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	raw, err := f.provider.Request(context.Background(), MethodSendTransaction, map[string]any{
		"from": f.account.Address.Hex(),
		"to":   to.Hex(),
		"data": "0xdeadbeef",
	})
	require.NoError(t, err)

	require.Len(t, f.sent, 1)
	tx := f.sent[0]

	var hash string
	require.NoError(t, json.Unmarshal(raw, &hash))
	assert.Equal(t, tx.Hash().Hex(), hash)
	assert.Equal(t, uint64(3), tx.Nonce())
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Equal(t, &to, tx.To())
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, tx.Data())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), tx)
	require.NoError(t, err)
	assert.Equal(t, f.account.Address, sender)
}

func TestDisconnectLocksAccounts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.connect(t)

	disconnected := false
	_, err := f.provider.On(ports.EventDisconnect, func(any) { disconnected = true })
	require.NoError(t, err)

	_, err = f.provider.Request(context.Background(), MethodDisconnect)
	require.NoError(t, err)
	assert.True(t, disconnected)

	raw, err := f.provider.Request(context.Background(), MethodAccounts)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}
