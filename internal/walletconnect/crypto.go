package walletconnect

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const envelopeType0 byte = 0

// KeyPair is an X25519 key pair used for session key agreement.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return kp, err
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return kp, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

func (kp KeyPair) PublicHex() string {
	return hex.EncodeToString(kp.Public[:])
}

// DeriveSymKey runs X25519 against the peer's public key and expands the
// shared secret with HKDF-SHA256 into a 32-byte symmetric key.
func DeriveSymKey(self KeyPair, peerPublicHex string) ([]byte, error) {
	peer, err := hex.DecodeString(peerPublicHex)
	if err != nil || len(peer) != 32 {
		return nil, fmt.Errorf("invalid peer public key")
	}
	shared, err := curve25519.X25519(self.Private[:], peer)
	if err != nil {
		return nil, err
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, nil), key); err != nil {
		return nil, err
	}
	return key, nil
}

// TopicFromKey is the relay topic for messages sealed with symKey.
func TopicFromKey(symKey []byte) string {
	sum := sha256.Sum256(symKey)
	return hex.EncodeToString(sum[:])
}

// Seal encrypts plaintext into a base64 type 0 envelope.
func Seal(symKey, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.New(symKey)
	if err != nil {
		return "", err
	}
	iv := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}
	out := make([]byte, 0, 1+len(iv)+len(plaintext)+aead.Overhead())
	out = append(out, envelopeType0)
	out = append(out, iv...)
	out = aead.Seal(out, iv, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a base64 type 0 envelope.
func Open(symKey []byte, message string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(message)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(raw) < 1+chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("envelope too short")
	}
	if raw[0] != envelopeType0 {
		return nil, fmt.Errorf("unsupported envelope type %d", raw[0])
	}
	aead, err := chacha20poly1305.New(symKey)
	if err != nil {
		return nil, err
	}
	iv := raw[1 : 1+chacha20poly1305.NonceSize]
	return aead.Open(nil, iv, raw[1+chacha20poly1305.NonceSize:], nil)
}
