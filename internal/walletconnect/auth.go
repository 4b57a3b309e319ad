package walletconnect

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/mr-tron/base58"
)

const (
	didPrefix       = "did:key:"
	multibaseBase58 = "z"
)

var ed25519Multicodec = []byte{0xed, 0x01}

// Identity is the client's relay authentication key.
type Identity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func NewIdentity() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Public: pub, Private: priv}, nil
}

// DID renders the public key as a did:key identifier.
func (id Identity) DID() string {
	return didPrefix + multibaseBase58 + base58.Encode(append(append([]byte{}, ed25519Multicodec...), id.Public...))
}

// RelayToken signs the JWT the relay expects in the auth query parameter.
func (id Identity) RelayToken(audience string, ttl time.Duration) (string, error) {
	sub := make([]byte, 32)
	if _, err := rand.Read(sub); err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    id.DID(),
		Subject:   hex.EncodeToString(sub),
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(id.Private)
}

// RelayURL builds the websocket URL with auth token and project id.
func RelayURL(base, token, projectID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("auth", token)
	q.Set("projectId", projectID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
