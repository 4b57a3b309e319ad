// Package session tracks peer connections through their lifecycle in the
// sessions sheet and turns relay events into row transitions.
package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Maphikza/sheet-wallet/internal/approval"
	"github.com/Maphikza/sheet-wallet/internal/dispatch"
	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
	"github.com/Maphikza/sheet-wallet/internal/metrics"
	"github.com/Maphikza/sheet-wallet/internal/peer"
	"github.com/Maphikza/sheet-wallet/internal/schema"
	"github.com/Maphikza/sheet-wallet/internal/walletconnect"
)

const authFailureMessage = "Invalid or expired WalletConnect URL. Please get a fresh URL from the dApp."

// Submitter accepts peer requests for approval.
type Submitter interface {
	Submit(ctx context.Context, s approval.Submission) (string, error)
}

type Config struct {
	Sessions *schema.SessionTable
	Client   peer.Client
	Queue    Submitter
	Logs     *schema.LogTable

	Address string
	ChainID int64

	// ApprovalPolicy governs ApproveSession retries. The zero value means
	// errors.SessionApprovalPolicy.
	ApprovalPolicy werrors.Policy

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Manager owns the per-connection state that used to live in globals:
// which pairing and session topics belong to which connection row.
type Manager struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	topics map[string]string // pairing or session topic -> connection id

	wg sync.WaitGroup
}

func NewManager(cfg Config) *Manager {
	if cfg.ApprovalPolicy.MaxAttempts == 0 {
		cfg.ApprovalPolicy = werrors.SessionApprovalPolicy()
	}
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "session").Logger(),
		now:    time.Now,
		topics: make(map[string]string),
	}
}

// Connect validates uri, records a Connecting row and joins the pairing.
// A pairing failure leaves the row Failed. The connection id is returned
// whenever a row was written.
func (m *Manager) Connect(ctx context.Context, uri string) (string, error) {
	if _, err := walletconnect.ParseURI(uri, m.now()); err != nil {
		return "", err
	}

	id := "conn-" + uuid.NewString()
	err := m.cfg.Sessions.Insert(ctx, schema.Connection{
		ID:            id,
		URI:           uri,
		Status:        schema.ConnConnecting,
		WalletAddress: m.cfg.Address,
	})
	if err != nil {
		return "", err
	}
	m.cfg.Metrics.ConnectionTransition(string(schema.ConnConnecting))
	m.logger.Info().Str("connection_id", id).Msg("pairing with dApp")

	topic, err := m.cfg.Client.Pair(ctx, uri)
	if err != nil {
		m.logger.Error().Err(err).Str("connection_id", id).Msg("pairing failed")
		m.transition(ctx, id, schema.ConnFailed, nil)
		m.audit(ctx, "Connection "+id+" failed to pair: "+dispatch.Detail(err))
		return id, err
	}

	m.bind(topic, id)
	if _, err := m.cfg.Sessions.SetTopic(ctx, id, topic); err != nil {
		m.logger.Warn().Err(err).Str("connection_id", id).Msg("failed to record pairing topic")
	}
	return id, nil
}

// Namespaces is the grant offered to every peer: one eip155 account on the
// configured chain.
func (m *Manager) Namespaces() peer.Namespaces {
	chain := "eip155:" + strconv.FormatInt(m.cfg.ChainID, 10)
	return peer.Namespaces{
		"eip155": {
			Chains:   []string{chain},
			Accounts: []string{chain + ":" + m.cfg.Address},
			Methods:  append([]string(nil), dispatch.SessionMethods...),
			Events:   []string{"accountsChanged", "chainChanged"},
		},
	}
}

// OnProposal approves a session proposal for the connection that owns its
// pairing topic. Retries stop as soon as the row leaves Connecting/Pending.
func (m *Manager) OnProposal(ctx context.Context, p peer.Proposal) (schema.Connection, error) {
	id, ok := m.lookup(ctx, p.PairingTopic)
	if !ok {
		m.logger.Warn().Str("pairing_topic", p.PairingTopic).Msg("proposal for unknown pairing")
		return schema.Connection{}, werrors.Validation("session_proposal", "no connection for pairing topic "+p.PairingTopic)
	}

	conn, _ := m.transition(ctx, id, schema.ConnPending, func(c *schema.Connection) {
		c.PeerURL = p.Proposer.URL
	})
	m.logger.Info().
		Str("connection_id", id).
		Str("peer", p.Proposer.Name).
		Str("peer_url", p.Proposer.URL).
		Msg("session proposal received")

	policy := m.cfg.ApprovalPolicy.WithGuard(func(ctx context.Context) bool {
		return m.negotiating(ctx, id)
	})
	policy.OnRetry = func(attempt int, err error) {
		m.logger.Warn().Err(err).
			Str("connection_id", id).
			Int("attempt", attempt).
			Msg("session approval failed, retrying")
	}

	var sess peer.Session
	err := policy.Do(ctx, func(ctx context.Context) error {
		s, err := m.cfg.Client.ApproveSession(ctx, p, m.Namespaces())
		if err != nil {
			return err
		}
		sess = s
		return nil
	})
	if err != nil {
		m.logger.Error().Err(err).Str("connection_id", id).Msg("session approval gave up")
		if failed, changed := m.transition(ctx, id, schema.ConnFailed, nil); changed {
			conn = failed
		}
		m.audit(ctx, fmt.Sprintf("Connection %s to %s failed: %s", id, peerName(p.Proposer), dispatch.Detail(err)))
		return conn, err
	}

	m.bind(sess.Topic, id)
	connected, changed := m.transition(ctx, id, schema.ConnConnected, func(c *schema.Connection) {
		c.Topic = sess.Topic
		if c.PeerURL == "" {
			c.PeerURL = p.Proposer.URL
		}
	})
	if !changed {
		// The row moved on (operator or auth failure) while approval was in flight.
		m.logger.Warn().Str("connection_id", id).Msg("session approved but connection is no longer negotiating")
		return connected, nil
	}
	m.audit(ctx, "Connected to "+peerName(p.Proposer))
	return connected, nil
}

// OnSessionDelete marks the connection owning topic Disconnected.
func (m *Manager) OnSessionDelete(ctx context.Context, topic string) {
	id, ok := m.lookup(ctx, topic)
	if !ok {
		m.logger.Debug().Str("topic", topic).Msg("delete for unknown topic")
		return
	}
	m.unbind(id)
	if _, changed := m.transition(ctx, id, schema.ConnDisconnected, nil); changed {
		m.audit(ctx, "Connection "+id+" was disconnected by the dApp")
	}
}

// OnTransportError reacts to relay failures. Auth failures are terminal for
// every live connection; anything else restarts the transport.
func (m *Manager) OnTransportError(ctx context.Context, err error) {
	if !werrors.Is(err, werrors.KindAuth) {
		m.logger.Warn().Err(err).Msg("relay transport error, restarting")
		if rerr := m.cfg.Client.RestartTransport(ctx); rerr != nil {
			m.logger.Error().Err(rerr).Msg("transport restart failed")
		}
		return
	}

	m.logger.Error().Err(err).Msg(authFailureMessage)
	conns, lerr := m.cfg.Sessions.List(ctx)
	if lerr != nil {
		m.logger.Error().Err(lerr).Msg("failed to list connections")
		return
	}
	for _, c := range conns {
		if c.Status.Terminal() {
			continue
		}
		m.transition(ctx, c.ID, schema.ConnFailed, nil)
	}
	m.audit(ctx, authFailureMessage)
}

// OnRequest routes a peer request to the approval queue tagged with the
// connection that owns its session topic.
func (m *Manager) OnRequest(ctx context.Context, r peer.Request) {
	id, ok := m.lookup(ctx, r.Topic)
	if !ok {
		m.logger.Warn().Str("topic", r.Topic).Str("method", r.Method).Msg("request on unknown session")
		resp := peer.Error(r.ID, peer.CodeInternal, "Error: unknown session")
		if err := m.cfg.Client.RespondSessionRequest(ctx, r.Topic, resp); err != nil {
			m.logger.Error().Err(err).Msg("failed to answer request on unknown session")
		}
		return
	}

	_, err := m.cfg.Queue.Submit(ctx, approval.Submission{
		ConnectionID: id,
		Topic:        r.Topic,
		PeerID:       r.ID,
		Method:       r.Method,
		Params:       r.Params,
	})
	if err != nil {
		m.logger.Error().Err(err).Str("connection_id", id).Str("method", r.Method).Msg("failed to queue request")
	}
}

// Run consumes client events until ctx ends or the event channel closes.
// Proposals are handled on their own goroutine so approval backoff never
// stalls the loop.
func (m *Manager) Run(ctx context.Context) error {
	defer m.wg.Wait()

	events := m.cfg.Client.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.handle(ctx, ev)
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev peer.Event) {
	switch ev.Kind {
	case peer.EventProposal:
		if ev.Proposal == nil {
			return
		}
		p := *ev.Proposal
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.OnProposal(ctx, p)
		}()
	case peer.EventRequest:
		if ev.Request != nil {
			m.OnRequest(ctx, *ev.Request)
		}
	case peer.EventDelete:
		m.OnSessionDelete(ctx, ev.Topic)
	case peer.EventTransportError:
		m.OnTransportError(ctx, ev.Err)
	default:
		m.logger.Debug().Str("kind", string(ev.Kind)).Msg("ignoring event")
	}
}

// List returns every connection row.
func (m *Manager) List(ctx context.Context) ([]schema.Connection, error) {
	return m.cfg.Sessions.List(ctx)
}

func (m *Manager) transition(ctx context.Context, id string, next schema.ConnectionStatus, apply func(*schema.Connection)) (schema.Connection, bool) {
	conn, changed, err := m.cfg.Sessions.Transition(ctx, id, next, apply)
	if err != nil {
		m.logger.Error().Err(err).Str("connection_id", id).Str("status", string(next)).Msg("failed to update connection")
		return conn, false
	}
	if changed {
		m.cfg.Metrics.ConnectionTransition(string(next))
		m.logger.Info().Str("connection_id", id).Str("status", string(next)).Msg("connection status changed")
	}
	return conn, changed
}

func (m *Manager) negotiating(ctx context.Context, id string) bool {
	conn, ok, err := m.cfg.Sessions.Find(ctx, id)
	if err != nil || !ok {
		return false
	}
	return conn.Status == schema.ConnConnecting || conn.Status == schema.ConnPending
}

func (m *Manager) bind(topic, id string) {
	if topic == "" {
		return
	}
	m.mu.Lock()
	m.topics[topic] = id
	m.mu.Unlock()
}

func (m *Manager) unbind(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for topic, owner := range m.topics {
		if owner == id {
			delete(m.topics, topic)
		}
	}
}

// lookup resolves a topic from memory first and falls back to the Topic
// column, which survives restarts.
func (m *Manager) lookup(ctx context.Context, topic string) (string, bool) {
	m.mu.Lock()
	id, ok := m.topics[topic]
	m.mu.Unlock()
	if ok {
		return id, true
	}

	conn, found, err := m.cfg.Sessions.FindByTopic(ctx, topic)
	if err != nil {
		m.logger.Warn().Err(err).Str("topic", topic).Msg("topic lookup failed")
		return "", false
	}
	if !found {
		return "", false
	}
	m.bind(topic, conn.ID)
	return conn.ID, true
}

func (m *Manager) audit(ctx context.Context, message string) {
	if m.cfg.Logs == nil {
		return
	}
	if err := m.cfg.Logs.Append(ctx, message); err != nil {
		m.logger.Debug().Err(err).Msg("failed to append to logs sheet")
	}
}

func peerName(md peer.Metadata) string {
	if md.Name != "" {
		return md.Name
	}
	if md.URL != "" {
		return md.URL
	}
	return "dApp"
}
