package wallet

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

const (
	timeFormat = "2006-01-02T15:04:05Z"

	envSeedPhrase = "ENCRYPTED_SEED_PHRASE"
	envBirthdate  = "ENCRYPTED_BIRTHDATE"
	envAddress    = "WALLET_ADDRESS"
)

// ErrNoWalletFile is returned by loadWalletData when the env file is absent.
var ErrNoWalletFile = errors.New("wallet file not found")

func saveWalletData(envFile, mnemonic, password, address string) error {
	if dir := filepath.Dir(envFile); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("error creating wallet directory: %v", err)
		}
	}

	encryptedMnemonic, err := encrypt(mnemonic, password)
	if err != nil {
		return fmt.Errorf("error encrypting seed phrase: %v", err)
	}
	encryptedBirthdate, err := encrypt(time.Now().UTC().Format(timeFormat), password)
	if err != nil {
		return fmt.Errorf("error encrypting birthdate: %v", err)
	}

	err = godotenv.Write(map[string]string{
		envSeedPhrase: encryptedMnemonic,
		envBirthdate:  encryptedBirthdate,
		envAddress:    address,
	}, envFile)
	if err != nil {
		return fmt.Errorf("error saving encrypted data: %v", err)
	}
	return os.Chmod(envFile, 0600)
}

// loadWalletData reads the env file without touching the process
// environment and returns the decrypted seed phrase.
func loadWalletData(envFile, password string) (string, error) {
	values, err := godotenv.Read(envFile)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoWalletFile
	}
	if err != nil {
		return "", fmt.Errorf("error loading wallet file: %v", err)
	}

	encryptedSeedPhrase := values[envSeedPhrase]
	if encryptedSeedPhrase == "" {
		return "", fmt.Errorf("encrypted wallet data not found")
	}

	seedPhrase, err := decrypt(encryptedSeedPhrase, password)
	if err != nil {
		return "", fmt.Errorf("error decrypting seed phrase: %v", err)
	}
	return seedPhrase, nil
}
