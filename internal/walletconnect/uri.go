package walletconnect

import (
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"

	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
)

// URIScheme is the prefix every pairing URI starts with.
const URIScheme = "wc:"

// PairingURI is a parsed v2 pairing URI:
//
//	wc:<topic>@2?relay-protocol=irn&symKey=<hex>&expiryTimestamp=<unix>
type PairingURI struct {
	Topic         string
	Version       int
	RelayProtocol string
	SymKey        []byte
	Expiry        time.Time
}

// ParseURI validates the scheme, version and key of a pairing URI. An
// expiry in the past is reported as a validation error.
func ParseURI(raw string, now time.Time) (PairingURI, error) {
	const op = "parse_uri"
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, URIScheme) {
		return PairingURI{}, werrors.Validation(op, "pairing URI must start with wc:")
	}

	body := strings.TrimPrefix(raw, URIScheme)
	path, query, _ := strings.Cut(body, "?")
	topic, version, ok := strings.Cut(path, "@")
	if !ok || topic == "" {
		return PairingURI{}, werrors.Validation(op, "pairing URI is missing topic or version")
	}

	v, err := strconv.Atoi(version)
	if err != nil || v != 2 {
		return PairingURI{}, werrors.Validation(op, "only version 2 pairing URIs are supported")
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		return PairingURI{}, werrors.Validation(op, "malformed pairing URI query")
	}

	key, err := hex.DecodeString(params.Get("symKey"))
	if err != nil || len(key) != 32 {
		return PairingURI{}, werrors.Validation(op, "pairing URI symKey must be 32 bytes of hex")
	}

	uri := PairingURI{
		Topic:         topic,
		Version:       v,
		RelayProtocol: params.Get("relay-protocol"),
		SymKey:        key,
	}
	if uri.RelayProtocol == "" {
		uri.RelayProtocol = "irn"
	}

	if exp := params.Get("expiryTimestamp"); exp != "" {
		secs, err := strconv.ParseInt(exp, 10, 64)
		if err != nil {
			return PairingURI{}, werrors.Validation(op, "pairing URI expiryTimestamp is not a unix time")
		}
		uri.Expiry = time.Unix(secs, 0)
		if uri.Expired(now) {
			return PairingURI{}, werrors.Validation(op, "pairing URI has expired; get a fresh one from the dApp")
		}
	}

	return uri, nil
}

// Expired reports whether the URI carried an expiry that has passed.
func (u PairingURI) Expired(now time.Time) bool {
	return !u.Expiry.IsZero() && !now.Before(u.Expiry)
}
