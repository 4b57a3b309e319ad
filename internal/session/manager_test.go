package session

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maphikza/sheet-wallet/internal/approval"
	sheetdb "github.com/Maphikza/sheet-wallet/internal/database"
	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
	"github.com/Maphikza/sheet-wallet/internal/metrics"
	"github.com/Maphikza/sheet-wallet/internal/peer"
	"github.com/Maphikza/sheet-wallet/internal/schema"
)

const testAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"

type fakeClient struct {
	mu         sync.Mutex
	pairTopic  string
	pairErr    error
	approve    func(call int) (peer.Session, error)
	approvals  int
	namespaces peer.Namespaces
	restarts   int
	responses  []peer.Response
	events     chan peer.Event
}

func (c *fakeClient) Pair(context.Context, string) (string, error) {
	return c.pairTopic, c.pairErr
}

func (c *fakeClient) ApproveSession(_ context.Context, _ peer.Proposal, ns peer.Namespaces) (peer.Session, error) {
	c.mu.Lock()
	c.approvals++
	call := c.approvals
	c.namespaces = ns
	c.mu.Unlock()
	return c.approve(call)
}

func (c *fakeClient) RespondSessionRequest(_ context.Context, _ string, resp peer.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, resp)
	return nil
}

func (c *fakeClient) RestartTransport(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restarts++
	return nil
}

func (c *fakeClient) Events() <-chan peer.Event { return c.events }
func (c *fakeClient) Close() error              { return nil }

func (c *fakeClient) approvalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.approvals
}

type fakeQueue struct {
	mu   sync.Mutex
	subs []approval.Submission
}

func (q *fakeQueue) Submit(_ context.Context, s approval.Submission) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs = append(q.subs, s)
	return "req-1", nil
}

type fixture struct {
	m        *Manager
	grid     sheetdb.Grid
	sessions *schema.SessionTable
	client   *fakeClient
	queue    *fakeQueue
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := sheetdb.InitSQLiteDB(":memory:")
	require.NoError(t, err)
	grid := sheetdb.NewSQLiteGrid(db)
	require.NoError(t, schema.Bootstrap(context.Background(), grid, schema.Identity{WalletAddress: testAddress, ChainID: 421614}))

	client := &fakeClient{
		pairTopic: "pairing-topic",
		approve: func(int) (peer.Session, error) {
			return peer.Session{Topic: "session-topic"}, nil
		},
		events: make(chan peer.Event, 8),
	}
	sessions := schema.NewSessionTable(grid)
	queue := &fakeQueue{}
	m := metrics.New()
	mgr := NewManager(Config{
		Sessions:       sessions,
		Client:         client,
		Queue:          queue,
		Logs:           schema.NewLogTable(grid),
		Address:        testAddress,
		ChainID:        421614,
		ApprovalPolicy: werrors.SessionApprovalPolicy().WithBackoff(nil),
		Metrics:        m,
		Logger:         zerolog.Nop(),
	})
	return fixture{m: mgr, grid: grid, sessions: sessions, client: client, queue: queue, metrics: m}
}

func pairingURI(expiry time.Time) string {
	return "wc:7f6e504bfad60b485450578e05678ed3e8e8c4751d3c6160be17160d63ec90f9@2?relay-protocol=irn" +
		"&symKey=587d5484ce2a2a6ee3ba1962fdd7e8588e06200c46823bd18fbd67def96ad303" +
		"&expiryTimestamp=" + strconv.FormatInt(expiry.Unix(), 10)
}

func (f fixture) status(t *testing.T, id string) schema.ConnectionStatus {
	t.Helper()
	conn, ok, err := f.sessions.Find(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	return conn.Status
}

func (f fixture) logMessages(t *testing.T) []string {
	t.Helper()
	rows, err := f.grid.Values(context.Background(), schema.LogsSheet)
	require.NoError(t, err)
	var msgs []string
	for _, r := range rows[1:] {
		if len(r) > 1 {
			msgs = append(msgs, r[1])
		}
	}
	return msgs
}

func TestConnectWritesConnectingRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.m.Connect(ctx, pairingURI(time.Now().Add(5*time.Minute)))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "conn-"))

	conn, ok, err := f.sessions.Find(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, schema.ConnConnecting, conn.Status)
	assert.Equal(t, testAddress, conn.WalletAddress)
	assert.NotEmpty(t, conn.CreatedAt)
}

func TestConnectRejectsBadURIs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, uri := range []string{"https://example.com", pairingURI(time.Now().Add(-time.Minute))} {
		id, err := f.m.Connect(ctx, uri)
		assert.Empty(t, id)
		assert.True(t, werrors.Is(err, werrors.KindValidation), uri)
	}

	conns, err := f.sessions.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestConnectPairFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.client.pairErr = werrors.Transport("pair", errors.New("relay unreachable"))

	id, err := f.m.Connect(context.Background(), pairingURI(time.Now().Add(time.Minute)))
	require.Error(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, schema.ConnFailed, f.status(t, id))
}

func TestProposalApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.m.Connect(ctx, pairingURI(time.Now().Add(time.Minute)))
	require.NoError(t, err)

	conn, err := f.m.OnProposal(ctx, peer.Proposal{
		ID:           1,
		PairingTopic: "pairing-topic",
		Proposer:     peer.Metadata{Name: "Uniswap", URL: "https://app.uniswap.org"},
	})
	require.NoError(t, err)
	assert.Equal(t, id, conn.ID)
	assert.Equal(t, schema.ConnConnected, conn.Status)
	assert.Equal(t, "session-topic", conn.Topic)
	assert.Equal(t, "https://app.uniswap.org", conn.PeerURL)

	ns := f.client.namespaces["eip155"]
	assert.Equal(t, []string{"eip155:421614"}, ns.Chains)
	assert.Equal(t, []string{"eip155:421614:" + testAddress}, ns.Accounts)
	assert.Contains(t, ns.Methods, "eth_sendTransaction")
	assert.Equal(t, []string{"accountsChanged", "chainChanged"}, ns.Events)

	assert.Contains(t, f.logMessages(t), "Connected to Uniswap")
}

func TestProposalRetriesThenFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.approve = func(int) (peer.Session, error) {
		return peer.Session{}, werrors.Transport("approve_session", errors.New("publish timed out"))
	}

	id, err := f.m.Connect(ctx, pairingURI(time.Now().Add(time.Minute)))
	require.NoError(t, err)

	conn, err := f.m.OnProposal(ctx, peer.Proposal{PairingTopic: "pairing-topic"})
	require.Error(t, err)
	assert.Equal(t, 3, f.client.approvalCount())
	assert.Equal(t, schema.ConnFailed, conn.Status)

	// Failed never regresses.
	_, changed, err := f.sessions.Transition(ctx, id, schema.ConnConnected, nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, schema.ConnFailed, f.status(t, id))
}

func TestProposalRetryStopsWhenRowLeavesNegotiation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.m.Connect(ctx, pairingURI(time.Now().Add(time.Minute)))
	require.NoError(t, err)

	f.client.approve = func(int) (peer.Session, error) {
		_, _, err := f.sessions.Transition(ctx, id, schema.ConnDisconnected, nil)
		require.NoError(t, err)
		return peer.Session{}, werrors.Transport("approve_session", errors.New("boom"))
	}

	_, err = f.m.OnProposal(ctx, peer.Proposal{PairingTopic: "pairing-topic"})
	require.Error(t, err)
	assert.Equal(t, 1, f.client.approvalCount())
	assert.Equal(t, schema.ConnDisconnected, f.status(t, id))
}

func TestProposalAfterRestartFindsPairingTopic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.m.Connect(ctx, pairingURI(time.Now().Add(time.Minute)))
	require.NoError(t, err)
	conn, ok, err := f.sessions.Find(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pairing-topic", conn.Topic)

	restarted := NewManager(f.m.cfg)
	conn, err = restarted.OnProposal(ctx, peer.Proposal{PairingTopic: "pairing-topic"})
	require.NoError(t, err)
	assert.Equal(t, id, conn.ID)
	assert.Equal(t, schema.ConnConnected, conn.Status)
	assert.Equal(t, "session-topic", conn.Topic)
}

func TestProposalForUnknownPairing(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.OnProposal(context.Background(), peer.Proposal{PairingTopic: "nope"})
	assert.True(t, werrors.Is(err, werrors.KindValidation))
	assert.Equal(t, 0, f.client.approvalCount())
}

func TestSessionDeleteDisconnects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.m.Connect(ctx, pairingURI(time.Now().Add(time.Minute)))
	require.NoError(t, err)
	_, err = f.m.OnProposal(ctx, peer.Proposal{PairingTopic: "pairing-topic"})
	require.NoError(t, err)

	f.m.OnSessionDelete(ctx, "session-topic")
	assert.Equal(t, schema.ConnDisconnected, f.status(t, id))

	// The topic is resolved from the sheet once the in-memory binding is gone.
	f.m.OnSessionDelete(ctx, "session-topic")
	assert.Equal(t, schema.ConnDisconnected, f.status(t, id))
}

func TestAuthErrorFailsEveryLiveConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	live, err := f.m.Connect(ctx, pairingURI(time.Now().Add(time.Minute)))
	require.NoError(t, err)
	gone, err := f.m.Connect(ctx, pairingURI(time.Now().Add(time.Minute)))
	require.NoError(t, err)
	_, _, err = f.sessions.Transition(ctx, gone, schema.ConnDisconnected, nil)
	require.NoError(t, err)

	f.m.OnTransportError(ctx, werrors.Auth("relay_connect", "unauthorized", nil))

	assert.Equal(t, schema.ConnFailed, f.status(t, live))
	assert.Equal(t, schema.ConnDisconnected, f.status(t, gone))
	assert.Contains(t, f.logMessages(t), authFailureMessage)
	assert.Equal(t, 0, f.client.restarts)
}

func TestTransportErrorRestarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.m.Connect(ctx, pairingURI(time.Now().Add(time.Minute)))
	require.NoError(t, err)

	f.m.OnTransportError(ctx, werrors.Transport("relay_read", errors.New("connection reset")))
	assert.Equal(t, 1, f.client.restarts)
	assert.Equal(t, schema.ConnConnecting, f.status(t, id))
}

func TestRequestsAreRoutedByTopic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.m.Connect(ctx, pairingURI(time.Now().Add(time.Minute)))
	require.NoError(t, err)
	_, err = f.m.OnProposal(ctx, peer.Proposal{PairingTopic: "pairing-topic"})
	require.NoError(t, err)

	f.m.OnRequest(ctx, peer.Request{ID: 42, Topic: "session-topic", Method: "personal_sign", Params: []byte(`["0x68690a"]`)})
	require.Len(t, f.queue.subs, 1)
	assert.Equal(t, id, f.queue.subs[0].ConnectionID)
	assert.Equal(t, uint64(42), f.queue.subs[0].PeerID)

	f.m.OnRequest(ctx, peer.Request{ID: 43, Topic: "stranger", Method: "personal_sign"})
	assert.Len(t, f.queue.subs, 1)
	require.Len(t, f.client.responses, 1)
	assert.Equal(t, peer.CodeInternal, f.client.responses[0].Error.Code)
}

func TestRunHandlesEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := f.m.Connect(ctx, pairingURI(time.Now().Add(time.Minute)))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx) }()

	f.client.events <- peer.Event{Kind: peer.EventProposal, Proposal: &peer.Proposal{PairingTopic: "pairing-topic"}}
	require.Eventually(t, func() bool {
		conn, _, err := f.sessions.Find(ctx, id)
		return err == nil && conn.Status == schema.ConnConnected
	}, 2*time.Second, 10*time.Millisecond)

	f.client.events <- peer.Event{Kind: peer.EventDelete, Topic: "session-topic"}
	close(f.client.events)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the event channel closed")
	}
	assert.Equal(t, schema.ConnDisconnected, f.status(t, id))
}

func TestPairingInputWatcher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.m.CheckPairingInput(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, f.grid.SetCell(ctx, schema.SessionsSheet, schema.PairingInputRow, schema.PairingInputCol, "  "+pairingURI(time.Now().Add(time.Minute))))
	id, err = f.m.CheckPairingInput(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, schema.ConnConnecting, f.status(t, id))

	input, err := f.sessions.PairingInput(ctx)
	require.NoError(t, err)
	assert.Empty(t, input)

	require.NoError(t, f.grid.SetCell(ctx, schema.SessionsSheet, schema.PairingInputRow, schema.PairingInputCol, pairingURI(time.Now().Add(-time.Minute))))
	_, err = f.m.CheckPairingInput(ctx)
	assert.True(t, werrors.Is(err, werrors.KindValidation))
	input, err = f.sessions.PairingInput(ctx)
	require.NoError(t, err)
	assert.Empty(t, input)
	assert.Contains(t, strings.Join(f.logMessages(t), "\n"), "Could not use WalletConnect URL")
}
