package walletconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
	"github.com/Maphikza/sheet-wallet/internal/peer"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Message tags and TTLs of the sign protocol.
const (
	tagPairingDeleteResponse = 1001
	tagPairingPingResponse   = 1003
	tagProposeResponse       = 1101
	tagSettleRequest         = 1102
	tagSessionResponse       = 1109
	tagDeleteResponse        = 1113
	tagPingResponse          = 1115

	defaultTTL  = int64(300)
	deleteTTL   = int64(86400)
	sessionLife = 7 * 24 * time.Hour

	callTimeout = 30 * time.Second
	tokenTTL    = 24 * time.Hour
)

type Config struct {
	RelayURL  string
	ProjectID string
	Metadata  peer.Metadata
	Dialer    *websocket.Dialer
	Logger    zerolog.Logger
}

type payload struct {
	ID      uint64          `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *peer.RPCError  `json:"error,omitempty"`
}

type relayProtocol struct {
	Protocol string `json:"protocol"`
}

type proposeParams struct {
	Proposer struct {
		PublicKey string        `json:"publicKey"`
		Metadata  peer.Metadata `json:"metadata"`
	} `json:"proposer"`
	RequiredNamespaces peer.Namespaces `json:"requiredNamespaces"`
	OptionalNamespaces peer.Namespaces `json:"optionalNamespaces"`
}

type sessionRequestParams struct {
	Request struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	} `json:"request"`
	ChainID string `json:"chainId"`
}

// Client is a peer.Client speaking the WalletConnect v2 sign protocol over
// the relay websocket.
type Client struct {
	cfg      Config
	identity Identity
	relay    *relay
	log      zerolog.Logger
	events   chan peer.Event
	done     chan struct{}
	once     sync.Once

	mu       sync.Mutex
	keys     map[string][]byte // topic -> symmetric key
	subs     map[string]string // topic -> subscription id
	sessions map[string]peer.Session
}

// Dial connects to the relay and returns a ready client.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	identity, err := NewIdentity()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		identity: identity,
		log:      cfg.Logger.With().Str("component", "walletconnect").Logger(),
		events:   make(chan peer.Event, 64),
		done:     make(chan struct{}),
		keys:     make(map[string][]byte),
		subs:     make(map[string]string),
		sessions: make(map[string]peer.Session),
	}
	c.relay = newRelay(cfg.Dialer, c.relayURL, c.log)
	c.relay.onMessage = c.handleMessage
	c.relay.onError = func(err error) {
		c.emit(peer.Event{Kind: peer.EventTransportError, Err: err})
	}

	if err := c.relay.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) relayURL() (string, error) {
	aud, err := url.Parse(c.cfg.RelayURL)
	if err != nil {
		return "", err
	}
	aud.RawQuery = ""
	token, err := c.identity.RelayToken(aud.String(), tokenTTL)
	if err != nil {
		return "", err
	}
	return RelayURL(c.cfg.RelayURL, token, c.cfg.ProjectID)
}

func (c *Client) Events() <-chan peer.Event {
	return c.events
}

func (c *Client) emit(ev peer.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Pair subscribes to the pairing topic of uri.
func (c *Client) Pair(ctx context.Context, uri string) (string, error) {
	parsed, err := ParseURI(uri, time.Now())
	if err != nil {
		return "", err
	}
	if err := c.subscribe(ctx, parsed.Topic, parsed.SymKey); err != nil {
		return "", err
	}
	c.log.Info().Str("topic", parsed.Topic).Msg("paired")
	return parsed.Topic, nil
}

func (c *Client) subscribe(ctx context.Context, topic string, key []byte) error {
	c.mu.Lock()
	c.keys[topic] = key
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	id, err := c.relay.subscribe(ctx, topic)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.subs[topic] = id
	c.mu.Unlock()
	return nil
}

// ApproveSession answers the proposal, derives the session key and sends
// the settle request on the new session topic.
func (c *Client) ApproveSession(ctx context.Context, proposal peer.Proposal, namespaces peer.Namespaces) (peer.Session, error) {
	const op = "approve_session"
	self, err := GenerateKeyPair()
	if err != nil {
		return peer.Session{}, werrors.Wrap(err, werrors.KindInternal, op, "key generation failed")
	}
	symKey, err := DeriveSymKey(self, proposal.ProposerPublicKey)
	if err != nil {
		return peer.Session{}, werrors.Wrap(err, werrors.KindValidation, op, "bad proposer key")
	}
	topic := TopicFromKey(symKey)

	if err := c.subscribe(ctx, topic, symKey); err != nil {
		return peer.Session{}, err
	}

	err = c.send(ctx, proposal.PairingTopic, payload{
		ID:      proposal.ID,
		JSONRPC: "2.0",
		Result: map[string]interface{}{
			"relay":              relayProtocol{Protocol: "irn"},
			"responderPublicKey": self.PublicHex(),
		},
	}, tagProposeResponse, defaultTTL)
	if err != nil {
		return peer.Session{}, err
	}

	expiry := time.Now().Add(sessionLife).Unix()
	settle, err := json.Marshal(map[string]interface{}{
		"relay":      relayProtocol{Protocol: "irn"},
		"namespaces": namespaces,
		"controller": map[string]interface{}{
			"publicKey": self.PublicHex(),
			"metadata":  c.cfg.Metadata,
		},
		"expiry": expiry,
	})
	if err != nil {
		return peer.Session{}, err
	}
	err = c.send(ctx, topic, payload{
		ID:      payloadID(),
		JSONRPC: "2.0",
		Method:  "wc_sessionSettle",
		Params:  settle,
	}, tagSettleRequest, defaultTTL)
	if err != nil {
		return peer.Session{}, err
	}

	session := peer.Session{
		Topic:      topic,
		Peer:       proposal.Proposer,
		Namespaces: namespaces,
		Expiry:     expiry,
	}
	c.mu.Lock()
	c.sessions[topic] = session
	c.mu.Unlock()

	c.log.Info().Str("topic", topic).Str("peer", proposal.Proposer.URL).Msg("session settled")
	return session, nil
}

func (c *Client) RespondSessionRequest(ctx context.Context, topic string, resp peer.Response) error {
	return c.send(ctx, topic, payload{
		ID:      resp.ID,
		JSONRPC: "2.0",
		Result:  resp.Result,
		Error:   resp.Error,
	}, tagSessionResponse, defaultTTL)
}

// send encrypts p with the topic key and publishes it.
func (c *Client) send(ctx context.Context, topic string, p payload, tag int, ttl int64) error {
	c.mu.Lock()
	key, ok := c.keys[topic]
	c.mu.Unlock()
	if !ok {
		return werrors.Validation("publish", fmt.Sprintf("no key for topic %s", topic))
	}

	plain, err := json.Marshal(p)
	if err != nil {
		return err
	}
	message, err := Seal(key, plain)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.relay.publish(ctx, publishParams{Topic: topic, Message: message, TTL: ttl, Tag: tag})
}

// RestartTransport redials the relay and re-subscribes every known topic.
func (c *Client) RestartTransport(ctx context.Context) error {
	if err := c.relay.connect(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	topics := make(map[string][]byte, len(c.keys))
	for t, k := range c.keys {
		topics[t] = k
	}
	c.mu.Unlock()

	for topic, key := range topics {
		if err := c.subscribe(ctx, topic, key); err != nil {
			return err
		}
	}
	c.log.Info().Int("topics", len(topics)).Msg("transport restarted")
	return nil
}

func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.relay.close()
}

// handleMessage runs on the relay read goroutine. Anything that publishes
// is moved off it, since publish waits for a reply read by that goroutine.
func (c *Client) handleMessage(topic, message string) {
	c.mu.Lock()
	key, ok := c.keys[topic]
	c.mu.Unlock()
	if !ok {
		c.log.Debug().Str("topic", topic).Msg("message for unknown topic")
		return
	}

	plain, err := Open(key, message)
	if err != nil {
		c.log.Warn().Err(err).Str("topic", topic).Msg("unable to decrypt message")
		return
	}

	var p struct {
		ID     uint64          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(plain, &p); err != nil {
		c.log.Warn().Err(err).Str("topic", topic).Msg("malformed payload")
		return
	}

	switch p.Method {
	case "":
		// Reply to one of our requests (settle ack); nothing waits on it.
	case "wc_sessionPropose":
		var params proposeParams
		if err := json.Unmarshal(p.Params, &params); err != nil {
			c.log.Warn().Err(err).Msg("malformed session proposal")
			return
		}
		c.emit(peer.Event{Kind: peer.EventProposal, Topic: topic, Proposal: &peer.Proposal{
			ID:                 p.ID,
			PairingTopic:       topic,
			Proposer:           params.Proposer.Metadata,
			ProposerPublicKey:  params.Proposer.PublicKey,
			RequiredNamespaces: params.RequiredNamespaces,
			OptionalNamespaces: params.OptionalNamespaces,
		}})
	case "wc_sessionRequest":
		var params sessionRequestParams
		if err := json.Unmarshal(p.Params, &params); err != nil {
			c.log.Warn().Err(err).Msg("malformed session request")
			return
		}
		c.emit(peer.Event{Kind: peer.EventRequest, Topic: topic, Request: &peer.Request{
			ID:      p.ID,
			Topic:   topic,
			ChainID: params.ChainID,
			Method:  params.Request.Method,
			Params:  params.Request.Params,
		}})
	case "wc_sessionDelete":
		go func(id uint64) {
			c.ack(topic, id, tagDeleteResponse, deleteTTL)
			c.forget(topic)
		}(p.ID)
		c.mu.Lock()
		delete(c.sessions, topic)
		c.mu.Unlock()
		c.emit(peer.Event{Kind: peer.EventDelete, Topic: topic})
	case "wc_sessionPing":
		go c.ack(topic, p.ID, tagPingResponse, defaultTTL)
	case "wc_pairingPing":
		go c.ack(topic, p.ID, tagPairingPingResponse, defaultTTL)
	case "wc_pairingDelete":
		go c.ack(topic, p.ID, tagPairingDeleteResponse, deleteTTL)
	default:
		c.log.Debug().Str("method", p.Method).Msg("ignoring unsupported peer method")
	}
}

// forget unsubscribes from topic and drops its key.
func (c *Client) forget(topic string) {
	c.mu.Lock()
	subID := c.subs[topic]
	delete(c.subs, topic)
	delete(c.keys, topic)
	c.mu.Unlock()
	if subID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := c.relay.unsubscribe(ctx, topic, subID); err != nil {
		c.log.Debug().Err(err).Str("topic", topic).Msg("unsubscribe failed")
	}
}

func (c *Client) ack(topic string, id uint64, tag int, ttl int64) {
	err := c.send(context.Background(), topic, payload{ID: id, JSONRPC: "2.0", Result: true}, tag, ttl)
	if err != nil {
		c.log.Warn().Err(err).Str("topic", topic).Int("tag", tag).Msg("failed to acknowledge")
	}
}
