// Package wallet holds the operator's EVM key and the signing primitives
// the dispatcher calls.
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
)

// Key sources, in the order Open tries them.
const (
	SourcePrivateKey = "private_key"
	SourceMnemonic   = "mnemonic"
	SourceEnvFile    = "env_file"
	SourceSheet      = "sheet"
	SourceGenerated  = "generated"
)

type Options struct {
	PrivateKey string
	Mnemonic   string
	Path       string

	// EnvPath holds the encrypted seed phrase; Password unlocks it.
	EnvPath  string
	Password string

	// Sheet-bound derivation inputs.
	SpreadsheetID string
	OwnerEmail    string
	Salt          string

	ChainID int64
}

type Wallet struct {
	key     *ecdsa.PrivateKey
	address ethcommon.Address
	chainID *big.Int
	source  string
}

func New(key *ecdsa.PrivateKey, chainID int64) *Wallet {
	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
	}
}

// Open resolves the wallet key: an explicit private key, then a mnemonic,
// then the encrypted env file, then the sheet-bound derivation. With none
// of those available a new seed phrase is generated and saved to EnvPath.
func Open(opts Options) (*Wallet, error) {
	const op = "open_wallet"
	path := opts.Path
	if path == "" {
		path = DefaultPath
	}

	build := func(key *ecdsa.PrivateKey, source string) *Wallet {
		w := New(key, opts.ChainID)
		w.source = source
		return w
	}

	if opts.PrivateKey != "" {
		key, err := KeyFromHex(opts.PrivateKey)
		if err != nil {
			return nil, werrors.Wrap(err, werrors.KindValidation, op, "")
		}
		return build(key, SourcePrivateKey), nil
	}

	if opts.Mnemonic != "" {
		key, err := KeyFromMnemonic(opts.Mnemonic, path)
		if err != nil {
			return nil, werrors.Wrap(err, werrors.KindValidation, op, "")
		}
		return build(key, SourceMnemonic), nil
	}

	if opts.EnvPath != "" {
		mnemonic, err := loadWalletData(opts.EnvPath, opts.Password)
		switch {
		case err == nil:
			key, err := KeyFromMnemonic(mnemonic, path)
			if err != nil {
				return nil, werrors.Wrap(err, werrors.KindValidation, op, "")
			}
			return build(key, SourceEnvFile), nil
		case !errors.Is(err, ErrNoWalletFile):
			return nil, werrors.Wrap(err, werrors.KindAuth, op, "")
		}
	}

	if opts.SpreadsheetID != "" && opts.OwnerEmail != "" {
		key, err := DeriveSheetKey(opts.SpreadsheetID, opts.OwnerEmail, opts.Salt)
		if err != nil {
			return nil, werrors.Wrap(err, werrors.KindInternal, op, "")
		}
		return build(key, SourceSheet), nil
	}

	if opts.EnvPath == "" || opts.Password == "" {
		return nil, werrors.Validation(op, "no wallet key configured: set WALLET_PRIVATE_KEY, WALLET_MNEMONIC or a wallet password")
	}

	mnemonic, err := NewMnemonic()
	if err != nil {
		return nil, werrors.Wrap(err, werrors.KindInternal, op, "")
	}
	key, err := KeyFromMnemonic(mnemonic, path)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.KindInternal, op, "")
	}
	w := build(key, SourceGenerated)
	if err := saveWalletData(opts.EnvPath, mnemonic, opts.Password, w.address.Hex()); err != nil {
		return nil, werrors.Wrap(err, werrors.KindInternal, op, "")
	}
	return w, nil
}

func (w *Wallet) Address() ethcommon.Address {
	return w.address
}

func (w *Wallet) ChainID() *big.Int {
	return new(big.Int).Set(w.chainID)
}

// Source reports where the key came from.
func (w *Wallet) Source() string {
	return w.source
}
