package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TxParams is the transaction object of eth_sendTransaction and
// eth_signTransaction.
type TxParams struct {
	From                 string `json:"from"`
	To                   string `json:"to"`
	Value                string `json:"value"`
	Data                 string `json:"data"`
	Input                string `json:"input"`
	Gas                  string `json:"gas"`
	GasPrice             string `json:"gasPrice"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	Nonce                string `json:"nonce"`
}

func (p TxParams) payload() string {
	if p.Data != "" {
		return p.Data
	}
	return p.Input
}

func splitParams(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("params must be an array")
	}
	return list, nil
}

func stringParam(list []json.RawMessage, i int) (string, bool) {
	if i >= len(list) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(list[i], &s); err != nil {
		return "", false
	}
	return s, true
}

// signMessage picks the message for personal_sign (params[0]) or eth_sign
// (params[1], falling back to params[0]).
func signMessage(m Method, raw json.RawMessage) ([]byte, error) {
	list, err := splitParams(raw)
	if err != nil {
		return nil, err
	}

	var (
		msg string
		ok  bool
	)
	if m == EthSign {
		msg, ok = stringParam(list, 1)
	}
	if !ok {
		msg, ok = stringParam(list, 0)
	}
	if !ok {
		return nil, fmt.Errorf("missing message parameter")
	}
	return decodeMessage(msg), nil
}

// decodeMessage treats 0x-prefixed valid hex as bytes and anything else as text.
func decodeMessage(msg string) []byte {
	if strings.HasPrefix(msg, "0x") {
		if b, err := hexutil.Decode(msg); err == nil {
			return b
		}
	}
	return []byte(msg)
}

// typedDataParam finds the typed data argument. Wallets send it either as
// an object or as a JSON string, in either position.
func typedDataParam(raw json.RawMessage) (apitypes.TypedData, error) {
	var td apitypes.TypedData
	list, err := splitParams(raw)
	if err != nil {
		return td, err
	}

	for _, p := range list {
		candidate := []byte(p)
		var s string
		if err := json.Unmarshal(p, &s); err == nil {
			candidate = []byte(s)
		}
		if !strings.Contains(string(candidate), `"types"`) {
			continue
		}
		if err := json.Unmarshal(candidate, &td); err != nil {
			return td, fmt.Errorf("invalid typed data: %v", err)
		}
		return td, nil
	}
	return td, fmt.Errorf("missing typed data parameter")
}

func txParam(raw json.RawMessage) (TxParams, error) {
	var p TxParams
	list, err := splitParams(raw)
	if err != nil {
		return p, err
	}
	if len(list) == 0 {
		return p, fmt.Errorf("missing transaction parameter")
	}
	if err := json.Unmarshal(list[0], &p); err != nil {
		return p, fmt.Errorf("invalid transaction parameter: %v", err)
	}
	return p, nil
}

// ParamKey identifies requests that ask for the same thing, so duplicates
// from a retrying peer can share one row.
func ParamKey(method string, raw json.RawMessage) string {
	switch m := ParseMethod(method); m {
	case SendTransaction, SignTransaction:
		if p, err := txParam(raw); err == nil {
			return strings.ToLower(p.To) + ":" + p.Value + ":" + p.payload()
		}
	case PersonalSign, EthSign:
		if msg, err := signMessage(m, raw); err == nil {
			return string(msg)
		}
	case SignTypedData:
		if td, err := typedDataParam(raw); err == nil {
			domain, _ := json.Marshal(td.Domain)
			message, _ := json.Marshal(td.Message)
			return string(domain) + string(message)
		}
	}
	return string(raw)
}
