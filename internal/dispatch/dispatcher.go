// Package dispatch executes approved peer requests against the wallet and
// the chain.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/rs/zerolog"

	"github.com/Maphikza/sheet-wallet/internal/chain"
	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
	"github.com/Maphikza/sheet-wallet/internal/metrics"
	"github.com/Maphikza/sheet-wallet/internal/peer"
	"github.com/Maphikza/sheet-wallet/internal/schema"
	"github.com/Maphikza/sheet-wallet/internal/wallet"
)

// Signer is the key material the dispatcher signs with.
type Signer interface {
	Address() ethcommon.Address
	ChainID() *big.Int
	SignMessage(msg []byte) ([]byte, error)
	SignTypedData(data apitypes.TypedData) ([]byte, error)
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Ledger is where sent transactions are recorded.
type Ledger interface {
	Append(ctx context.Context, recs ...schema.TxRecord) error
	Replace(ctx context.Context, hash string, rec schema.TxRecord) error
}

type Config struct {
	Signer      Signer
	Provider    chain.Provider
	Ledger      Ledger
	ExplorerURL string
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

type Dispatcher struct {
	signer      Signer
	provider    chain.Provider
	ledger      Ledger
	explorerURL string
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		signer:      cfg.Signer,
		provider:    cfg.Provider,
		ledger:      cfg.Ledger,
		explorerURL: cfg.ExplorerURL,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With().Str("component", "dispatcher").Logger(),
		now:         time.Now,
	}
}

// Call is one request to execute.
type Call struct {
	RequestID string
	Method    string
	Params    json.RawMessage
}

// Execute runs call and returns the JSON-RPC result.
func (d *Dispatcher) Execute(ctx context.Context, call Call) (interface{}, error) {
	m := ParseMethod(call.Method)
	result, err := d.execute(ctx, m, call)
	if err != nil {
		d.metrics.DispatchError(call.Method)
		d.logger.Error().Err(err).
			Str("request_id", call.RequestID).
			Str("method", call.Method).
			Msg("request execution failed")
	}
	return result, err
}

func (d *Dispatcher) execute(ctx context.Context, m Method, call Call) (interface{}, error) {
	switch m {
	case ChainID:
		return hexutil.EncodeBig(d.signer.ChainID()), nil
	case Accounts:
		return []string{d.signer.Address().Hex()}, nil
	case PersonalSign, EthSign:
		return d.signMessage(m, call.Params)
	case SignTypedData:
		return d.signTypedData(call.Params)
	case SignTransaction:
		return d.signTransaction(ctx, call.Params)
	case SendTransaction:
		return d.sendTransaction(ctx, call.RequestID, call.Params)
	default:
		return nil, werrors.Unsupported("dispatch", call.Method)
	}
}

func (d *Dispatcher) signMessage(m Method, params json.RawMessage) (interface{}, error) {
	msg, err := signMessage(m, params)
	if err != nil {
		return nil, werrors.Validation(m.String(), err.Error())
	}
	sig, err := d.signer.SignMessage(msg)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.KindInternal, m.String(), "signing failed")
	}
	return hexutil.Encode(sig), nil
}

func (d *Dispatcher) signTypedData(params json.RawMessage) (interface{}, error) {
	const op = "eth_signTypedData"
	td, err := typedDataParam(params)
	if err != nil {
		return nil, werrors.Validation(op, err.Error())
	}
	sig, err := d.signer.SignTypedData(td)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.KindValidation, op, "")
	}
	return hexutil.Encode(sig), nil
}

func (d *Dispatcher) signTransaction(ctx context.Context, params json.RawMessage) (interface{}, error) {
	const op = "eth_signTransaction"
	p, err := txParam(params)
	if err != nil {
		return nil, werrors.Validation(op, err.Error())
	}
	signed, err := d.buildAndSign(ctx, p)
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, werrors.Wrap(err, werrors.KindInternal, op, "")
	}
	return hexutil.Encode(raw), nil
}

// sendTransaction records a placeholder ledger row first, then builds,
// signs and submits once. The placeholder is rewritten in place with the
// real hash, or marked failed.
func (d *Dispatcher) sendTransaction(ctx context.Context, requestID string, params json.RawMessage) (interface{}, error) {
	const op = "eth_sendTransaction"
	from := d.signer.Address().Hex()
	placeholder := schema.TxRecord{
		Hash:      schema.PendingHash(requestID),
		From:      from,
		Timestamp: d.now().UTC().Format(schema.TimeFormat),
		Status:    schema.TxProcessing,
	}

	p, perr := txParam(params)
	if perr == nil {
		placeholder.To = p.To
		placeholder.Amount = p.Value
		if wei, err := wallet.ParseValue(p.Value); err == nil {
			placeholder.Amount = wallet.FormatEther(wei)
		}
	}
	if err := d.ledger.Append(ctx, placeholder); err != nil {
		d.logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to record pending transaction")
	}

	fail := func(err error) (interface{}, error) {
		failed := placeholder
		failed.Hash = schema.FailedHash(requestID)
		failed.Status = schema.TxFailed
		if lerr := d.ledger.Replace(ctx, placeholder.Hash, failed); lerr != nil {
			d.logger.Warn().Err(lerr).Str("request_id", requestID).Msg("failed to record failed transaction")
		}
		return nil, err
	}

	if perr != nil {
		return fail(werrors.Validation(op, perr.Error()))
	}

	signed, err := d.buildAndSign(ctx, p)
	if err != nil {
		return fail(err)
	}
	if err := d.provider.SendTransaction(ctx, signed); err != nil {
		return fail(err)
	}

	hash := signed.Hash().Hex()
	sent := placeholder
	sent.Hash = hash
	sent.Status = schema.TxPending
	sent.ExplorerURL = d.explorerURL + hash
	if err := d.ledger.Replace(ctx, placeholder.Hash, sent); err != nil {
		d.logger.Warn().Err(err).Str("tx_hash", hash).Msg("failed to record submitted transaction")
	}

	d.logger.Info().Str("request_id", requestID).Str("tx_hash", hash).Msg("transaction sent")
	return hash, nil
}

// buildAndSign fills in nonce, fees and gas. EIP-1559 fees are used when the
// latest header carries a base fee, legacy gas pricing otherwise.
func (d *Dispatcher) buildAndSign(ctx context.Context, p TxParams) (*types.Transaction, error) {
	const op = "build_transaction"
	from := d.signer.Address()

	if p.From != "" && !strings.EqualFold(p.From, from.Hex()) {
		return nil, werrors.Validation(op, "from address "+p.From+" is not this wallet")
	}

	var to *ethcommon.Address
	if p.To != "" {
		if !ethcommon.IsHexAddress(p.To) {
			return nil, werrors.Validation(op, "invalid to address "+p.To)
		}
		addr := ethcommon.HexToAddress(p.To)
		to = &addr
	}

	value, err := wallet.ParseValue(p.Value)
	if err != nil {
		return nil, werrors.Validation(op, err.Error())
	}

	var data []byte
	if payload := p.payload(); payload != "" && payload != "0x" {
		data, err = hexutil.Decode(payload)
		if err != nil {
			return nil, werrors.Validation(op, "invalid data: "+err.Error())
		}
	}

	nonce, err := d.nonce(ctx, p.Nonce, from)
	if err != nil {
		return nil, err
	}

	head, err := d.provider.Header(ctx, nil)
	if err != nil {
		return nil, err
	}

	gas, err := optionalUint(p.Gas)
	if err != nil {
		return nil, werrors.Validation(op, "invalid gas: "+err.Error())
	}
	if gas == 0 {
		gas, err = d.provider.EstimateGas(ctx, ethereum.CallMsg{From: from, To: to, Value: value, Data: data})
		if err != nil {
			return nil, err
		}
	}

	var txdata types.TxData
	if head.BaseFee != nil {
		tip, err := d.bigOr(ctx, p.MaxPriorityFeePerGas, d.provider.GasTipCap)
		if err != nil {
			return nil, err
		}
		feeCap, err := optionalBig(p.MaxFeePerGas)
		if err != nil {
			return nil, werrors.Validation(op, "invalid maxFeePerGas")
		}
		if feeCap == nil {
			feeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
		}
		txdata = &types.DynamicFeeTx{
			ChainID:   d.signer.ChainID(),
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        to,
			Value:     value,
			Data:      data,
		}
	} else {
		price, err := d.bigOr(ctx, p.GasPrice, d.provider.GasPrice)
		if err != nil {
			return nil, err
		}
		txdata = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       to,
			Value:    value,
			Data:     data,
		}
	}

	signed, err := d.signer.SignTx(types.NewTx(txdata))
	if err != nil {
		return nil, werrors.Wrap(err, werrors.KindInternal, op, "signing failed")
	}
	return signed, nil
}

func (d *Dispatcher) nonce(ctx context.Context, param string, from ethcommon.Address) (uint64, error) {
	if param != "" {
		n, err := optionalUint(param)
		if err != nil {
			return 0, werrors.Validation("build_transaction", "invalid nonce")
		}
		return n, nil
	}
	return d.provider.Nonce(ctx, from)
}

func (d *Dispatcher) bigOr(ctx context.Context, param string, fallback func(context.Context) (*big.Int, error)) (*big.Int, error) {
	v, err := optionalBig(param)
	if err != nil {
		return nil, werrors.Validation("build_transaction", "invalid fee "+param)
	}
	if v != nil {
		return v, nil
	}
	return fallback(ctx)
}

// optionalBig parses a quantity that peers send as 0x-hex (leading zeros
// tolerated) or decimal. Empty means unset.
func optionalBig(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	base, digits := 10, s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base, digits = 16, s[2:]
	}
	if digits == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(digits, base)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	return v, nil
}

func optionalUint(s string) (uint64, error) {
	v, err := optionalBig(s)
	if err != nil || v == nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("quantity %q overflows uint64", s)
	}
	return v.Uint64(), nil
}

// Respond turns an execution outcome into the JSON-RPC response for id.
// Any error becomes code 5000 with an "Error: " message.
func Respond(id uint64, result interface{}, err error) peer.Response {
	if err != nil {
		return peer.Error(id, peer.CodeInternal, "Error: "+Detail(err))
	}
	return peer.Result(id, result)
}

// Detail is the human part of err, without kind and op prefixes.
func Detail(err error) string {
	var e *werrors.Error
	if !werrors.As(err, &e) {
		return err.Error()
	}
	switch {
	case e.Cause != nil:
		return e.Cause.Error()
	case e.Message != "":
		return e.Message
	default:
		return err.Error()
	}
}
