// Package chain is the wallet's view of the EVM node.
package chain

import (
	"context"
	stderrors "errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
)

// Backend is the subset of *ethclient.Client the wallet uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account ethcommon.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash ethcommon.Hash) (*types.Transaction, bool, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// Provider is what the dispatcher, sweeper and history loader talk to.
type Provider interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, account ethcommon.Address) (*big.Int, error)
	Nonce(ctx context.Context, account ethcommon.Address) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	GasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	Header(ctx context.Context, number *big.Int) (*types.Header, error)
	// BlockHashes lists a block's transaction hashes without decoding the
	// transactions, so blocks carrying chain-specific types can still be read.
	BlockHashes(ctx context.Context, number *big.Int) (BlockSummary, error)
	// Receipt returns nil, nil while the transaction is not yet mined.
	Receipt(ctx context.Context, hash ethcommon.Hash) (*types.Receipt, error)
	Transaction(ctx context.Context, hash ethcommon.Hash) (*types.Transaction, bool, error)
	// SendTransaction submits once; it is never retried.
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// RPCCaller is the raw JSON-RPC surface of *rpc.Client.
type RPCCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// BlockSummary is a block header time plus its transaction hashes.
type BlockSummary struct {
	Number uint64
	Time   uint64
	Hashes []ethcommon.Hash
}

// Client implements Provider over a Backend. Reads are retried with the
// network policy.
type Client struct {
	backend Backend
	rpc     RPCCaller
	policy  werrors.Policy
	logger  zerolog.Logger
}

func NewClient(backend Backend, logger zerolog.Logger) *Client {
	log := logger.With().Str("component", "evm_client").Logger()
	policy := werrors.NetworkPolicy()
	policy.OnRetry = func(attempt int, err error) {
		log.Debug().Err(err).Int("attempt", attempt).Msg("retrying chain read")
	}
	return &Client{backend: backend, policy: policy, logger: log}
}

// WithPolicy replaces the retry policy used for reads.
func (c *Client) WithPolicy(p werrors.Policy) *Client {
	c.policy = p
	return c
}

// WithRPC sets the raw caller used for hash-only block reads.
func (c *Client) WithRPC(rpc RPCCaller) *Client {
	c.rpc = rpc
	return c
}

// read retries fn under the policy. A transaction type the client cannot
// decode will not decode on a retry either, so it comes back Unsupported.
func (c *Client) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return c.policy.Do(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case stderrors.Is(err, types.ErrTxTypeNotSupported):
			return werrors.Wrap(err, werrors.KindUnsupported, op, "")
		default:
			return werrors.Chain(op, err)
		}
	})
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.read(ctx, "chain_id", func(ctx context.Context) (err error) {
		id, err = c.backend.ChainID(ctx)
		return err
	})
	return id, err
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.read(ctx, "block_number", func(ctx context.Context) (err error) {
		n, err = c.backend.BlockNumber(ctx)
		return err
	})
	return n, err
}

func (c *Client) Balance(ctx context.Context, account ethcommon.Address) (*big.Int, error) {
	var bal *big.Int
	err := c.read(ctx, "balance", func(ctx context.Context) (err error) {
		bal, err = c.backend.BalanceAt(ctx, account, nil)
		return err
	})
	return bal, err
}

func (c *Client) Nonce(ctx context.Context, account ethcommon.Address) (uint64, error) {
	var nonce uint64
	err := c.read(ctx, "nonce", func(ctx context.Context) (err error) {
		nonce, err = c.backend.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.read(ctx, "gas_price", func(ctx context.Context) (err error) {
		price, err = c.backend.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

func (c *Client) GasTipCap(ctx context.Context) (*big.Int, error) {
	var tip *big.Int
	err := c.read(ctx, "gas_tip_cap", func(ctx context.Context) (err error) {
		tip, err = c.backend.SuggestGasTipCap(ctx)
		return err
	})
	return tip, err
}

// EstimateGas is not retried: a revert is deterministic.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, werrors.Chain("estimate_gas", err)
	}
	return gas, nil
}

func (c *Client) Header(ctx context.Context, number *big.Int) (*types.Header, error) {
	var h *types.Header
	err := c.read(ctx, "header", func(ctx context.Context) (err error) {
		h, err = c.backend.HeaderByNumber(ctx, number)
		return err
	})
	return h, err
}

type rpcBlock struct {
	Number       hexutil.Uint64   `json:"number"`
	Timestamp    hexutil.Uint64   `json:"timestamp"`
	Transactions []ethcommon.Hash `json:"transactions"`
}

func (c *Client) BlockHashes(ctx context.Context, number *big.Int) (BlockSummary, error) {
	var summary BlockSummary
	err := c.read(ctx, "block", func(ctx context.Context) error {
		if c.rpc == nil {
			b, err := c.backend.BlockByNumber(ctx, number)
			if err != nil {
				return err
			}
			summary = BlockSummary{Number: b.NumberU64(), Time: b.Time()}
			for _, tx := range b.Transactions() {
				summary.Hashes = append(summary.Hashes, tx.Hash())
			}
			return nil
		}

		var raw *rpcBlock
		if err := c.rpc.CallContext(ctx, &raw, "eth_getBlockByNumber", blockArg(number), false); err != nil {
			return err
		}
		if raw == nil {
			return ethereum.NotFound
		}
		summary = BlockSummary{
			Number: uint64(raw.Number),
			Time:   uint64(raw.Timestamp),
			Hashes: raw.Transactions,
		}
		return nil
	})
	return summary, err
}

func blockArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	return hexutil.EncodeBig(number)
}

func (c *Client) Receipt(ctx context.Context, hash ethcommon.Hash) (*types.Receipt, error) {
	var r *types.Receipt
	err := c.read(ctx, "receipt", func(ctx context.Context) (err error) {
		r, err = c.backend.TransactionReceipt(ctx, hash)
		if stderrors.Is(err, ethereum.NotFound) {
			r, err = nil, nil
		}
		return err
	})
	return r, err
}

func (c *Client) Transaction(ctx context.Context, hash ethcommon.Hash) (*types.Transaction, bool, error) {
	var (
		tx      *types.Transaction
		pending bool
	)
	err := c.read(ctx, "transaction", func(ctx context.Context) (err error) {
		tx, pending, err = c.backend.TransactionByHash(ctx, hash)
		if stderrors.Is(err, ethereum.NotFound) {
			tx, pending, err = nil, false, nil
		}
		return err
	})
	return tx, pending, err
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return werrors.Chain("send_transaction", err)
	}
	c.logger.Info().Str("tx_hash", tx.Hash().Hex()).Msg("transaction submitted")
	return nil
}

func (c *Client) Close() {
	c.backend.Close()
}

// Dialer opens a new Provider for an RPC endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Provider, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Provider, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Provider, error) {
	return f(ctx, url)
}

// EthDialer dials ethclient endpoints and checks the chain id.
type EthDialer struct {
	ExpectedChainID int64
	Logger          zerolog.Logger
}

const dialTimeout = 30 * time.Second

func (d EthDialer) Dial(ctx context.Context, url string) (Provider, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, werrors.Chain("dial", err)
	}
	client := NewClient(ec, d.Logger).WithRPC(ec.Client())

	if d.ExpectedChainID == 0 {
		return client, nil
	}
	id, err := ec.ChainID(ctx)
	if err != nil {
		// Some public endpoints are slow to answer; proceed without the check.
		client.logger.Warn().Err(err).Str("url", url).
			Int64("expected_chain_id", d.ExpectedChainID).
			Msg("failed to verify chain ID, proceeding with client anyway")
		return client, nil
	}
	if id.Int64() != d.ExpectedChainID {
		ec.Close()
		return nil, werrors.Validation("dial", "chain ID mismatch: endpoint reports "+id.String())
	}
	return client, nil
}
