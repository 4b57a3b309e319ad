package walletconnect

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
	"github.com/Maphikza/sheet-wallet/internal/peer"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay answers irn_subscribe/irn_publish and lets the test push
// subscription messages to the connected client.
type fakeRelay struct {
	t        *testing.T
	srv      *httptest.Server
	query    chan map[string]string
	publish  chan publishParams
	mu       sync.Mutex
	conn     *websocket.Conn
	subCount int
}

func newFakeRelay(t *testing.T) *fakeRelay {
	f := &fakeRelay{
		t:       t,
		query:   make(chan map[string]string, 4),
		publish: make(chan publishParams, 16),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.query <- map[string]string{
			"auth":      r.URL.Query().Get("auth"),
			"projectId": r.URL.Query().Get("projectId"),
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		go f.serve(conn)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeRelay) serve(conn *websocket.Conn) {
	for {
		var msg rpcMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Method {
		case "irn_subscribe":
			f.mu.Lock()
			f.subCount++
			id := fmt.Sprintf("sub-%d", f.subCount)
			f.mu.Unlock()
			f.reply(msg.ID, id)
		case "irn_publish":
			var p publishParams
			_ = json.Unmarshal(msg.Params, &p)
			f.publish <- p
			f.reply(msg.ID, true)
		case "irn_unsubscribe":
			f.reply(msg.ID, true)
		}
	}
}

func (f *fakeRelay) reply(id uint64, result interface{}) {
	raw, _ := json.Marshal(result)
	_ = f.write(rpcMessage{ID: id, JSONRPC: "2.0", Result: raw})
}

func (f *fakeRelay) write(msg rpcMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn.WriteJSON(msg)
}

// push seals payload with key and delivers it on topic.
func (f *fakeRelay) push(topic string, key []byte, payload interface{}) {
	plain, err := json.Marshal(payload)
	require.NoError(f.t, err)
	sealed, err := Seal(key, plain)
	require.NoError(f.t, err)

	var sub subscriptionData
	sub.ID = "sub-1"
	sub.Data.Topic = topic
	sub.Data.Message = sealed
	params, _ := json.Marshal(sub)
	require.NoError(f.t, f.write(rpcMessage{ID: payloadID(), JSONRPC: "2.0", Method: "irn_subscription", Params: params}))
}

func (f *fakeRelay) nextPublish(t *testing.T) publishParams {
	t.Helper()
	select {
	case p := <-f.publish:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for publish")
		return publishParams{}
	}
}

func nextEvent(t *testing.T, c *Client) peer.Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return peer.Event{}
	}
}

func randomKey(t *testing.T) []byte {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestParseURI(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	key := strings.Repeat("ab", 32)

	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{"valid", "wc:abc@2?relay-protocol=irn&symKey=" + key, false},
		{"valid with expiry", fmt.Sprintf("wc:abc@2?symKey=%s&expiryTimestamp=%d", key, now.Unix()+60), false},
		{"expired", fmt.Sprintf("wc:abc@2?symKey=%s&expiryTimestamp=%d", key, now.Unix()-1), true},
		{"wrong scheme", "https://example.com", true},
		{"version 1", "wc:abc@1?symKey=" + key, true},
		{"missing key", "wc:abc@2?relay-protocol=irn", true},
		{"short key", "wc:abc@2?symKey=abcd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, err := ParseURI(tt.uri, now)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, werrors.Is(err, werrors.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "abc", uri.Topic)
			assert.Equal(t, "irn", uri.RelayProtocol)
			assert.Len(t, uri.SymKey, 32)
		})
	}
}

func TestSealOpen(t *testing.T) {
	key := randomKey(t)
	msg, err := Seal(key, []byte(`{"id":1}`))
	require.NoError(t, err)

	plain, err := Open(key, msg)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(plain))

	_, err = Open(randomKey(t), msg)
	assert.Error(t, err)
}

func TestKeyAgreement(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	k1, err := DeriveSymKey(a, b.PublicHex())
	require.NoError(t, err)
	k2, err := DeriveSymKey(b, a.PublicHex())
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, TopicFromKey(k1), 64)

	_, err = DeriveSymKey(a, "zz")
	assert.Error(t, err)
}

func TestIdentityToken(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id.DID(), "did:key:z6Mk"))

	token, err := id.RelayToken("wss://relay.example", time.Minute)
	require.NoError(t, err)

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
		return id.Public, nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	assert.Equal(t, id.DID(), claims.Issuer)
	assert.True(t, claims.VerifyAudience("wss://relay.example", true))
}

func TestClientSessionFlow(t *testing.T) {
	ctx := context.Background()
	relay := newFakeRelay(t)

	client, err := Dial(ctx, Config{
		RelayURL:  relay.url(),
		ProjectID: "project-1",
		Metadata:  peer.Metadata{Name: "Sheet Wallet"},
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	defer client.Close()

	q := <-relay.query
	assert.Equal(t, "project-1", q["projectId"])
	assert.NotEmpty(t, q["auth"])

	pairingKey := randomKey(t)
	pairingTopic := TopicFromKey(pairingKey)
	topic, err := client.Pair(ctx, fmt.Sprintf("wc:%s@2?relay-protocol=irn&symKey=%s", pairingTopic, hex.EncodeToString(pairingKey)))
	require.NoError(t, err)
	assert.Equal(t, pairingTopic, topic)

	dapp, err := GenerateKeyPair()
	require.NoError(t, err)
	relay.push(pairingTopic, pairingKey, map[string]interface{}{
		"id":      42,
		"jsonrpc": "2.0",
		"method":  "wc_sessionPropose",
		"params": map[string]interface{}{
			"proposer": map[string]interface{}{
				"publicKey": dapp.PublicHex(),
				"metadata":  map[string]interface{}{"name": "Uniswap", "url": "https://app.uniswap.org"},
			},
			"requiredNamespaces": map[string]interface{}{
				"eip155": map[string]interface{}{"chains": []string{"eip155:1"}, "methods": []string{"eth_sendTransaction"}, "events": []string{}},
			},
		},
	})

	ev := nextEvent(t, client)
	require.Equal(t, peer.EventProposal, ev.Kind)
	require.NotNil(t, ev.Proposal)
	assert.Equal(t, uint64(42), ev.Proposal.ID)
	assert.Equal(t, "https://app.uniswap.org", ev.Proposal.Proposer.URL)
	assert.Equal(t, dapp.PublicHex(), ev.Proposal.ProposerPublicKey)

	session, err := client.ApproveSession(ctx, *ev.Proposal, peer.Namespaces{
		"eip155": {Chains: []string{"eip155:421614"}, Accounts: []string{"eip155:421614:0xabc"}, Methods: []string{"eth_sendTransaction"}, Events: []string{}},
	})
	require.NoError(t, err)

	propose := relay.nextPublish(t)
	assert.Equal(t, pairingTopic, propose.Topic)
	assert.Equal(t, tagProposeResponse, propose.Tag)
	plain, err := Open(pairingKey, propose.Message)
	require.NoError(t, err)
	var proposeResp struct {
		ID     uint64 `json:"id"`
		Result struct {
			ResponderPublicKey string `json:"responderPublicKey"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(plain, &proposeResp))
	assert.Equal(t, uint64(42), proposeResp.ID)

	sessionKey, err := DeriveSymKey(dapp, proposeResp.Result.ResponderPublicKey)
	require.NoError(t, err)
	assert.Equal(t, TopicFromKey(sessionKey), session.Topic)

	settle := relay.nextPublish(t)
	assert.Equal(t, session.Topic, settle.Topic)
	assert.Equal(t, tagSettleRequest, settle.Tag)
	plain, err = Open(sessionKey, settle.Message)
	require.NoError(t, err)
	assert.Contains(t, string(plain), "wc_sessionSettle")
	assert.Contains(t, string(plain), "eip155:421614:0xabc")

	relay.push(session.Topic, sessionKey, map[string]interface{}{
		"id":      7,
		"jsonrpc": "2.0",
		"method":  "wc_sessionRequest",
		"params": map[string]interface{}{
			"chainId": "eip155:421614",
			"request": map[string]interface{}{"method": "eth_chainId", "params": []interface{}{}},
		},
	})

	ev = nextEvent(t, client)
	require.Equal(t, peer.EventRequest, ev.Kind)
	assert.Equal(t, "eth_chainId", ev.Request.Method)
	assert.Equal(t, session.Topic, ev.Request.Topic)

	require.NoError(t, client.RespondSessionRequest(ctx, session.Topic, peer.Result(ev.Request.ID, "0x66eee")))
	resp := relay.nextPublish(t)
	assert.Equal(t, tagSessionResponse, resp.Tag)
	plain, err = Open(sessionKey, resp.Message)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"jsonrpc":"2.0","result":"0x66eee"}`, string(plain))

	relay.push(session.Topic, sessionKey, map[string]interface{}{
		"id": 8, "jsonrpc": "2.0", "method": "wc_sessionDelete",
		"params": map[string]interface{}{"code": 6000, "message": "User disconnected"},
	})
	ev = nextEvent(t, client)
	assert.Equal(t, peer.EventDelete, ev.Kind)
	assert.Equal(t, session.Topic, ev.Topic)
	ack := relay.nextPublish(t)
	assert.Equal(t, tagDeleteResponse, ack.Tag)
	assert.Equal(t, deleteTTL, ack.TTL)
}

func TestDialUnauthorizedIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized: invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), Config{
		RelayURL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
		ProjectID: "bad",
		Logger:    zerolog.Nop(),
	})
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.KindAuth))
}

func TestClassifyCloseCodes(t *testing.T) {
	tests := []struct {
		code int
		kind werrors.Kind
	}{
		{closeUnauthorized, werrors.KindAuth},
		{closeInvalidKey, werrors.KindAuth},
		{websocket.CloseAbnormalClosure, werrors.KindAuth},
		{websocket.ClosePolicyViolation, werrors.KindAuth},
		{websocket.CloseGoingAway, werrors.KindTransport},
		{websocket.CloseServiceRestart, werrors.KindTransport},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			err := classify("read", nil, &websocket.CloseError{Code: tt.code})
			assert.Equal(t, tt.kind, werrors.KindOf(err))
		})
	}
}
