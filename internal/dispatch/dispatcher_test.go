package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Maphikza/sheet-wallet/internal/chain/chaintest"
	sheetdb "github.com/Maphikza/sheet-wallet/internal/database"
	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
	"github.com/Maphikza/sheet-wallet/internal/peer"
	"github.com/Maphikza/sheet-wallet/internal/schema"
	"github.com/Maphikza/sheet-wallet/internal/wallet"
)

const (
	testKey     = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testChainID = 421614
	recipient   = "0x000000000000000000000000000000000000dEaD"
	explorer    = "https://sepolia.arbiscan.io/tx/"
)

type fixture struct {
	d        *Dispatcher
	w        *wallet.Wallet
	provider *chaintest.MockProvider
	ledger   *schema.LedgerTable
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sheetdb.InitSQLiteDB(":memory:")
	require.NoError(t, err)
	grid := sheetdb.NewSQLiteGrid(db)

	w, err := wallet.Open(wallet.Options{PrivateKey: testKey, ChainID: testChainID})
	require.NoError(t, err)
	require.NoError(t, schema.Bootstrap(ctx, grid, schema.Identity{WalletAddress: w.Address().Hex(), ChainID: testChainID}))

	provider := new(chaintest.MockProvider)
	ledger := schema.NewLedgerTable(grid)
	d := New(Config{
		Signer:      w,
		Provider:    provider,
		Ledger:      ledger,
		ExplorerURL: explorer,
		Logger:      zerolog.Nop(),
	})
	return fixture{d: d, w: w, provider: provider, ledger: ledger}
}

func params(t *testing.T, v ...interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestEveryMethodIsHandled(t *testing.T) {
	f := newFixture(t)
	for _, m := range Methods {
		t.Run(m.String(), func(t *testing.T) {
			assert.Equal(t, m, ParseMethod(m.String()))
			_, err := f.d.execute(context.Background(), m, Call{RequestID: "req-" + m.String(), Method: m.String(), Params: json.RawMessage(`[]`)})
			assert.False(t, werrors.Is(err, werrors.KindUnsupported))
		})
	}

	_, err := f.d.Execute(context.Background(), Call{Method: "wallet_switchEthereumChain"})
	assert.True(t, werrors.Is(err, werrors.KindUnsupported))
	assert.Equal(t, SignTypedData, ParseMethod("eth_signTypedData_v4"))
}

func TestAutoApprovedMethods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.d.Execute(ctx, Call{Method: "eth_chainId"})
	require.NoError(t, err)
	assert.Equal(t, "0x66eee", id)

	accts, err := f.d.Execute(ctx, Call{Method: "eth_accounts"})
	require.NoError(t, err)
	assert.Equal(t, []string{f.w.Address().Hex()}, accts)

	assert.True(t, ChainID.AutoApproved())
	assert.False(t, SendTransaction.AutoApproved())
}

func recoverSigner(t *testing.T, msg []byte, sigHex interface{}) string {
	t.Helper()
	sig, err := hexutil.Decode(sigHex.(string))
	require.NoError(t, err)
	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(*pub).Hex()
}

func TestSignMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addr := f.w.Address().Hex()

	t.Run("personal_sign decodes hex", func(t *testing.T) {
		res, err := f.d.Execute(ctx, Call{Method: "personal_sign", Params: params(t, "0x68656c6c6f", addr)})
		require.NoError(t, err)
		assert.Equal(t, addr, recoverSigner(t, []byte("hello"), res))
	})

	t.Run("personal_sign plain text", func(t *testing.T) {
		res, err := f.d.Execute(ctx, Call{Method: "personal_sign", Params: params(t, "Sign in to dapp", addr)})
		require.NoError(t, err)
		assert.Equal(t, addr, recoverSigner(t, []byte("Sign in to dapp"), res))
	})

	t.Run("eth_sign reads the second param", func(t *testing.T) {
		res, err := f.d.Execute(ctx, Call{Method: "eth_sign", Params: params(t, addr, "hello")})
		require.NoError(t, err)
		assert.Equal(t, addr, recoverSigner(t, []byte("hello"), res))
	})

	t.Run("missing message", func(t *testing.T) {
		_, err := f.d.Execute(ctx, Call{Method: "personal_sign", Params: json.RawMessage(`[]`)})
		assert.True(t, werrors.Is(err, werrors.KindValidation))
	})
}

func TestSignTypedDataAsString(t *testing.T) {
	f := newFixture(t)
	typed := `{"types":{"EIP712Domain":[{"name":"name","type":"string"}],"Mail":[{"name":"contents","type":"string"}]},` +
		`"primaryType":"Mail","domain":{"name":"Sheet"},"message":{"contents":"hi"}}`

	res, err := f.d.Execute(context.Background(), Call{
		Method: "eth_signTypedData_v4",
		Params: params(t, f.w.Address().Hex(), typed),
	})
	require.NoError(t, err)
	sig, err := hexutil.Decode(res.(string))
	require.NoError(t, err)
	assert.Len(t, sig, 65)
}

func expectEIP1559(p *chaintest.MockProvider) {
	p.On("Nonce", mock.Anything, mock.Anything).Return(uint64(7), nil)
	p.On("Header", mock.Anything, (*big.Int)(nil)).Return(&types.Header{BaseFee: big.NewInt(100)}, nil)
	p.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(21000), nil)
	p.On("GasTipCap", mock.Anything).Return(big.NewInt(2), nil)
}

func TestSendTransactionRecordsLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expectEIP1559(f.provider)

	var sent *types.Transaction
	f.provider.On("SendTransaction", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*types.Transaction) }).
		Return(nil).Once()

	res, err := f.d.Execute(ctx, Call{
		RequestID: "req-1",
		Method:    "eth_sendTransaction",
		Params:    params(t, map[string]string{"from": f.w.Address().Hex(), "to": recipient, "value": "0x38d7ea4c68000"}),
	})
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.Equal(t, sent.Hash().Hex(), res)
	assert.Equal(t, uint8(types.DynamicFeeTxType), sent.Type())
	assert.Equal(t, uint64(7), sent.Nonce())
	assert.Equal(t, big.NewInt(202), sent.GasFeeCap())

	recs, err := f.ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, res, recs[0].Hash)
	assert.Equal(t, schema.TxPending, recs[0].Status)
	assert.Equal(t, "0.001", recs[0].Amount)
	assert.Equal(t, explorer+recs[0].Hash, recs[0].ExplorerURL)
	f.provider.AssertNumberOfCalls(t, "SendTransaction", 1)
}

func TestSendTransactionLegacyFees(t *testing.T) {
	f := newFixture(t)
	f.provider.On("Nonce", mock.Anything, mock.Anything).Return(uint64(0), nil)
	f.provider.On("Header", mock.Anything, (*big.Int)(nil)).Return(&types.Header{}, nil)
	f.provider.On("GasPrice", mock.Anything).Return(big.NewInt(5), nil)
	f.provider.On("SendTransaction", mock.Anything, mock.Anything).Return(nil)

	res, err := f.d.Execute(context.Background(), Call{
		RequestID: "req-2",
		Method:    "eth_sendTransaction",
		Params:    params(t, map[string]string{"to": recipient, "value": "1", "gas": "0x5208"}),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res)
	f.provider.AssertNotCalled(t, "EstimateGas", mock.Anything, mock.Anything)
}

func TestSendTransactionFailureMarksRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expectEIP1559(f.provider)
	f.provider.On("SendTransaction", mock.Anything, mock.Anything).
		Return(werrors.Chain("send_transaction", errors.New("nonce too low"))).Once()

	res, execErr := f.d.Execute(ctx, Call{
		RequestID: "req-3",
		Method:    "eth_sendTransaction",
		Params:    params(t, map[string]string{"to": recipient, "value": "0x1"}),
	})
	require.Error(t, execErr)
	assert.Nil(t, res)

	recs, err := f.ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "failed-req-3", recs[0].Hash)
	assert.Equal(t, schema.TxFailed, recs[0].Status)

	resp := Respond(9, nil, execErr)
	require.NotNil(t, resp.Error)
	assert.Equal(t, peer.CodeInternal, resp.Error.Code)
	assert.Equal(t, "Error: nonce too low", resp.Error.Message)
	f.provider.AssertNumberOfCalls(t, "SendTransaction", 1)
}

func TestSendTransactionRejectsForeignFrom(t *testing.T) {
	f := newFixture(t)
	f.provider.On("Nonce", mock.Anything, mock.Anything).Return(uint64(0), nil)

	_, err := f.d.Execute(context.Background(), Call{
		RequestID: "req-4",
		Method:    "eth_sendTransaction",
		Params:    params(t, map[string]string{"from": recipient, "to": recipient}),
	})
	assert.True(t, werrors.Is(err, werrors.KindValidation))
	f.provider.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)
}

func TestSignTransactionReturnsRawHex(t *testing.T) {
	f := newFixture(t)
	expectEIP1559(f.provider)

	res, err := f.d.Execute(context.Background(), Call{
		Method: "eth_signTransaction",
		Params: params(t, map[string]string{"to": recipient, "value": "0x1"}),
	})
	require.NoError(t, err)

	raw, err := hexutil.Decode(res.(string))
	require.NoError(t, err)
	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(raw))
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(testChainID)), &tx)
	require.NoError(t, err)
	assert.Equal(t, f.w.Address(), from)
	f.provider.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)
}

func TestParamKey(t *testing.T) {
	a := ParamKey("eth_sendTransaction", params(t, map[string]string{"to": recipient, "value": "0x1", "from": "x"}))
	b := ParamKey("eth_sendTransaction", params(t, map[string]string{"to": "0x000000000000000000000000000000000000dead", "value": "0x1"}))
	c := ParamKey("eth_sendTransaction", params(t, map[string]string{"to": recipient, "value": "0x2"}))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	assert.Equal(t, "hello", ParamKey("personal_sign", params(t, "0x68656c6c6f", recipient)))
	assert.Equal(t, `["x"]`, ParamKey("wallet_watchAsset", json.RawMessage(`["x"]`)))
}

func TestRespond(t *testing.T) {
	ok := Respond(1, "0xabc", nil)
	assert.Nil(t, ok.Error)
	assert.Equal(t, "0xabc", ok.Result)

	bad := Respond(2, nil, werrors.Validation("x", "missing message parameter"))
	assert.Equal(t, "Error: missing message parameter", bad.Error.Message)
}
