// Package chaintest provides a testify mock of chain.Provider.
package chaintest

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"

	"github.com/Maphikza/sheet-wallet/internal/chain"
)

var _ chain.Provider = (*MockProvider)(nil)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) ChainID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if id := args.Get(0); id != nil {
		return id.(*big.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockProvider) Balance(ctx context.Context, account ethcommon.Address) (*big.Int, error) {
	args := m.Called(ctx, account)
	if bal := args.Get(0); bal != nil {
		return bal.(*big.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) Nonce(ctx context.Context, account ethcommon.Address) (uint64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockProvider) GasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if p := args.Get(0); p != nil {
		return p.(*big.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) GasTipCap(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if p := args.Get(0); p != nil {
		return p.(*big.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockProvider) Header(ctx context.Context, number *big.Int) (*types.Header, error) {
	args := m.Called(ctx, number)
	if h := args.Get(0); h != nil {
		return h.(*types.Header), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) BlockHashes(ctx context.Context, number *big.Int) (chain.BlockSummary, error) {
	args := m.Called(ctx, number)
	return args.Get(0).(chain.BlockSummary), args.Error(1)
}

func (m *MockProvider) Receipt(ctx context.Context, hash ethcommon.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, hash)
	if r := args.Get(0); r != nil {
		return r.(*types.Receipt), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) Transaction(ctx context.Context, hash ethcommon.Hash) (*types.Transaction, bool, error) {
	args := m.Called(ctx, hash)
	if tx := args.Get(0); tx != nil {
		return tx.(*types.Transaction), args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *MockProvider) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockProvider) Close() {
	m.Called()
}
