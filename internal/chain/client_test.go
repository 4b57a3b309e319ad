package chain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
)

func newTestClient(b *mockBackend) *Client {
	return NewClient(b, zerolog.Nop()).WithPolicy(werrors.Policy{
		Name:        "test",
		MaxAttempts: 3,
		Backoff:     werrors.Fixed(time.Millisecond),
	})
}

func TestReceiptNotFoundIsNil(t *testing.T) {
	b := new(mockBackend)
	hash := ethcommon.HexToHash("0x01")
	b.On("TransactionReceipt", mock.Anything, hash).Return(nil, ethereum.NotFound).Once()

	r, err := newTestClient(b).Receipt(context.Background(), hash)
	require.NoError(t, err)
	assert.Nil(t, r)
	b.AssertExpectations(t)
}

func TestReadsRetryThenSucceed(t *testing.T) {
	b := new(mockBackend)
	hash := ethcommon.HexToHash("0x02")
	b.On("TransactionReceipt", mock.Anything, hash).Return(nil, errors.New("429 too many requests")).Twice()
	b.On("TransactionReceipt", mock.Anything, hash).Return(&types.Receipt{Status: types.ReceiptStatusSuccessful}, nil).Once()

	r, err := newTestClient(b).Receipt(context.Background(), hash)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, types.ReceiptStatusSuccessful, r.Status)
	b.AssertNumberOfCalls(t, "TransactionReceipt", 3)
}

func TestReadsGiveUpWithChainError(t *testing.T) {
	b := new(mockBackend)
	addr := ethcommon.HexToAddress("0xabc")
	b.On("BalanceAt", mock.Anything, addr, (*big.Int)(nil)).Return(nil, errors.New("connection refused"))

	_, err := newTestClient(b).Balance(context.Background(), addr)
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.KindChain))
	b.AssertNumberOfCalls(t, "BalanceAt", 3)
}

func TestSendTransactionIsNotRetried(t *testing.T) {
	b := new(mockBackend)
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)})
	b.On("SendTransaction", mock.Anything, tx).Return(errors.New("nonce too low")).Once()

	err := newTestClient(b).SendTransaction(context.Background(), tx)
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.KindChain))
	b.AssertNumberOfCalls(t, "SendTransaction", 1)
}

func TestTransactionNotFound(t *testing.T) {
	b := new(mockBackend)
	hash := ethcommon.HexToHash("0x03")
	b.On("TransactionByHash", mock.Anything, hash).Return(nil, false, ethereum.NotFound)

	tx, pending, err := newTestClient(b).Transaction(context.Background(), hash)
	require.NoError(t, err)
	assert.Nil(t, tx)
	assert.False(t, pending)
}

func TestDialerFunc(t *testing.T) {
	calls := 0
	d := DialerFunc(func(ctx context.Context, url string) (Provider, error) {
		calls++
		assert.Equal(t, "http://node", url)
		return NewClient(new(mockBackend), zerolog.Nop()), nil
	})
	p, err := d.Dial(context.Background(), "http://node")
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Equal(t, 1, calls)
}

type fixtureRPC struct {
	body   string
	method string
	args   []interface{}
}

func (f *fixtureRPC) CallContext(_ context.Context, result interface{}, method string, args ...interface{}) error {
	f.method, f.args = method, args
	return json.Unmarshal([]byte(f.body), result)
}

func TestBlockHashesReadsHashesOnly(t *testing.T) {
	rpc := &fixtureRPC{body: `{
		"number": "0x2a",
		"timestamp": "0x6553f100",
		"transactions": [
			"0x00000000000000000000000000000000000000000000000000000000000000aa",
			"0x00000000000000000000000000000000000000000000000000000000000000bb"
		]
	}`}
	b := new(mockBackend)

	s, err := newTestClient(b).WithRPC(rpc).BlockHashes(context.Background(), big.NewInt(42))
	require.NoError(t, err)
	assert.Equal(t, "eth_getBlockByNumber", rpc.method)
	assert.Equal(t, []interface{}{"0x2a", false}, rpc.args)
	assert.Equal(t, uint64(42), s.Number)
	assert.Equal(t, uint64(1700000000), s.Time)
	assert.Equal(t, []ethcommon.Hash{ethcommon.HexToHash("0xaa"), ethcommon.HexToHash("0xbb")}, s.Hashes)
	b.AssertNotCalled(t, "BlockByNumber", mock.Anything, mock.Anything)
}

func TestBlockHashesMissingBlock(t *testing.T) {
	_, err := newTestClient(new(mockBackend)).WithRPC(&fixtureRPC{body: "null"}).
		BlockHashes(context.Background(), big.NewInt(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ethereum.NotFound)
}

func TestUnsupportedTransactionTypeIsNotRetried(t *testing.T) {
	b := new(mockBackend)
	hash := ethcommon.HexToHash("0x6a")
	b.On("TransactionByHash", mock.Anything, hash).Return(nil, false, types.ErrTxTypeNotSupported)

	_, _, err := newTestClient(b).Transaction(context.Background(), hash)
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.KindUnsupported))
	b.AssertNumberOfCalls(t, "TransactionByHash", 1)
}
