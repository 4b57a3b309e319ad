package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nbd-wtf/go-nostr"

	sheetdb "github.com/Maphikza/sheet-wallet/internal/database"
)

const challengeTTL = 2 * time.Minute

func (a *API) HandleChallengeRequest(w http.ResponseWriter, r *http.Request) {
	// The wallet has one operator, configured by npub hex.
	if a.userPubkey == "" {
		http.Error(w, "Primary user public key not configured", http.StatusInternalServerError)
		return
	}

	challenge, hash, err := generateChallenge(a.now())
	if err != nil {
		http.Error(w, "Failed to generate challenge", http.StatusInternalServerError)
		return
	}

	err = a.challenges.SaveChallenge(r.Context(), sheetdb.Challenge{
		Challenge: challenge,
		Hash:      hash,
		Status:    sheetdb.ChallengeUnused,
		Npub:      a.userPubkey,
		CreatedAt: a.now(),
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to save challenge")
		http.Error(w, "Failed to save challenge", http.StatusInternalServerError)
		return
	}

	// Return the challenge as an unsigned Nostr event for the frontend to sign
	event := &nostr.Event{
		PubKey:    a.userPubkey,
		CreatedAt: nostr.Timestamp(a.now().Unix()),
		Kind:      1,
		Tags:      nostr.Tags{},
		Content:   challenge,
	}
	writeJSON(w, http.StatusOK, event)
}

func generateChallenge(now time.Time) (string, string, error) {
	letters := []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	challenge := make([]byte, 12)
	_, err := rand.Read(challenge)
	if err != nil {
		return "", "", err
	}
	for i := range challenge {
		challenge[i] = letters[challenge[i]%byte(len(letters))]
	}
	fullChallenge := fmt.Sprintf("%s-%s", string(challenge), now.Format(time.RFC3339Nano))
	return fullChallenge, hashChallenge(fullChallenge), nil
}

func hashChallenge(challenge string) string {
	h := sha256.Sum256([]byte(challenge))
	return hex.EncodeToString(h[:])
}

type verifyPayload struct {
	Challenge string      `json:"challenge"`
	Event     nostr.Event `json:"event"`
}

func (a *API) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var payload verifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Cannot parse JSON", http.StatusBadRequest)
		return
	}

	challenge, err := a.challenges.GetChallenge(r.Context(), hashChallenge(payload.Challenge))
	if err != nil || challenge.Status != sheetdb.ChallengeUnused {
		http.Error(w, "Invalid or expired challenge", http.StatusUnauthorized)
		return
	}

	if a.now().Sub(challenge.CreatedAt) > challengeTTL {
		if err := a.challenges.MarkChallengeAsUsed(r.Context(), challenge.Hash); err != nil {
			a.logger.Warn().Err(err).Msg("failed to retire expired challenge")
		}
		http.Error(w, "Challenge expired", http.StatusUnauthorized)
		return
	}

	if payload.Event.PubKey != challenge.Npub {
		http.Error(w, "Public key mismatch", http.StatusUnauthorized)
		return
	}
	if payload.Event.Content != challenge.Challenge {
		http.Error(w, "Challenge mismatch", http.StatusUnauthorized)
		return
	}
	if !verifyEvent(&payload.Event) {
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	if err := a.challenges.MarkChallengeAsUsed(r.Context(), challenge.Hash); err != nil {
		http.Error(w, "Failed to mark challenge as used", http.StatusInternalServerError)
		return
	}

	tokenString, err := a.GenerateJWT(challenge.Npub)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to generate token")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	a.logger.Info().Str("npub", challenge.Npub).Msg("operator logged in")
	writeJSON(w, http.StatusOK, map[string]string{"token": tokenString})
}

// verifyEvent checks that the event id matches its content and that the
// signature is valid for the claimed pubkey.
func verifyEvent(event *nostr.Event) bool {
	if event.GetID() != event.ID {
		return false
	}
	ok, err := event.CheckSignature()
	return err == nil && ok
}
