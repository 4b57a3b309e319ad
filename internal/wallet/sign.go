package wallet

import (
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SignMessage produces an EIP-191 personal_sign signature with v in {27, 28}.
func (w *Wallet) SignMessage(msg []byte) ([]byte, error) {
	return w.signHash(accounts.TextHash(msg))
}

// SignTypedData produces an EIP-712 signature with v in {27, 28}.
func (w *Wallet) SignTypedData(data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, err
	}
	return w.signHash(hash)
}

func (w *Wallet) signHash(hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, w.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignTx signs tx for the wallet's chain.
func (w *Wallet) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
}
