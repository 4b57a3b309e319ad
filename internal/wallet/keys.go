package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// DefaultPath is the first BIP-44 Ethereum account.
const DefaultPath = "m/44'/60'/0'/0/0"

// NewMnemonic returns a fresh 24 word seed phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("error generating entropy: %v", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("error generating mnemonic: %v", err)
	}
	return mnemonic, nil
}

func isValidMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// KeyFromMnemonic derives the secp256k1 key at path from a BIP-39 phrase.
func KeyFromMnemonic(mnemonic, path string) (*ecdsa.PrivateKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !isValidMnemonic(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic provided")
	}
	seed := bip39.NewSeed(mnemonic, "")

	// The network params only affect serialization, not derivation.
	rootKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %v", err)
	}

	child, err := deriveKeyFromPath(rootKey, path)
	if err != nil {
		return nil, err
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %v", err)
	}
	return priv.ToECDSA(), nil
}

// deriveKeyFromPath derives the extended key from the given path
func deriveKeyFromPath(rootKey *hdkeychain.ExtendedKey, path string) (*hdkeychain.ExtendedKey, error) {
	path = strings.TrimPrefix(strings.TrimPrefix(path, "m"), "/")
	if path == "" {
		return rootKey, nil
	}

	key := rootKey
	for _, part := range strings.Split(path, "/") {
		var index uint32
		if strings.HasSuffix(part, "'") {
			index64, err := strconv.ParseUint(part[:len(part)-1], 10, 31)
			if err != nil {
				return nil, fmt.Errorf("invalid path component %s: %v", part, err)
			}
			index = hdkeychain.HardenedKeyStart + uint32(index64)
		} else {
			index64, err := strconv.ParseUint(part, 10, 31)
			if err != nil {
				return nil, fmt.Errorf("invalid path component %s: %v", part, err)
			}
			index = uint32(index64)
		}

		var err error
		key, err = key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key: %v", err)
		}
	}
	return key, nil
}

// KeyFromHex parses a hex private key, with or without 0x.
func KeyFromHex(s string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}
	return key, nil
}

// DeriveSheetKey derives the wallet key bound to one spreadsheet and owner:
// keccak256(spreadsheetID || ownerEmail || salt).
func DeriveSheetKey(spreadsheetID, ownerEmail, salt string) (*ecdsa.PrivateKey, error) {
	if spreadsheetID == "" || ownerEmail == "" {
		return nil, fmt.Errorf("spreadsheet id and owner email are required")
	}
	seed := crypto.Keccak256([]byte(spreadsheetID + ownerEmail + salt))
	return crypto.ToECDSA(seed)
}
