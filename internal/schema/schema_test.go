package schema

import (
	"context"
	"testing"
	"time"

	sheetdb "github.com/Maphikza/sheet-wallet/internal/database"
	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x1111111111111111111111111111111111111111"

func newGrid(t *testing.T) sheetdb.Grid {
	t.Helper()
	db, err := sheetdb.InitSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	grid := sheetdb.NewSQLiteGrid(db)
	require.NoError(t, Bootstrap(context.Background(), grid, Identity{
		WalletAddress: testAddress,
		OwnerEmail:    "owner@example.com",
		ChainID:       421614,
	}))
	return grid
}

func quick() werrors.Policy {
	return werrors.Policy{Name: "test", MaxAttempts: 1, Backoff: werrors.Fixed(time.Millisecond)}
}

func TestConnectionStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to ConnectionStatus
		want     bool
	}{
		{ConnConnecting, ConnPending, true},
		{ConnConnecting, ConnConnected, true},
		{ConnPending, ConnConnected, true},
		{ConnConnected, ConnDisconnected, true},
		{ConnPending, ConnFailed, true},
		{ConnConnected, ConnFailed, true},
		{ConnConnected, ConnPending, false},
		{ConnConnected, ConnConnecting, false},
		{ConnDisconnected, ConnConnecting, false},
		{ConnDisconnected, ConnFailed, false},
		{ConnFailed, ConnConnecting, false},
		{ConnFailed, ConnConnected, false},
		{ConnPending, ConnPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestDisposition(t *testing.T) {
	tests := []struct {
		name string
		req  PendingRequest
		want RequestStatus
	}{
		{"untouched", PendingRequest{Status: ReqPending}, ReqPending},
		{"approve box", PendingRequest{Status: ReqPending, Approve: true}, ReqApproved},
		{"reject box", PendingRequest{Status: ReqPending, Reject: true}, ReqRejected},
		{"both boxes", PendingRequest{Status: ReqPending, Approve: true, Reject: true}, ReqRejected},
		{"status text approved", PendingRequest{Status: ReqApproved}, ReqApproved},
		{"terminal text beats boxes", PendingRequest{Status: ReqApproved, Reject: true}, ReqApproved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.Disposition())
		})
	}
}

func TestIsPlaceholderHash(t *testing.T) {
	submitted := "0x" + "ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34"
	assert.False(t, IsPlaceholderHash(submitted))
	for _, h := range []string{"", "pending-req-1", "rejected-req-1", "failed-req-1", "failed-tx", "0xabc"} {
		assert.True(t, IsPlaceholderHash(h), h)
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	grid := newGrid(t)
	require.NoError(t, Bootstrap(ctx, grid, Identity{WalletAddress: testAddress, ChainID: 421614}))

	names, err := grid.Sheets(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{SettingsSheet, LedgerSheet, SessionsSheet, RequestsSheet, LogsSheet}, names)

	settings := NewSettingsTable(grid)
	flag, err := settings.RefreshFlag(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshDefault, flag)

	email, err := settings.OwnerEmail(ctx)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", email)

	label, err := grid.Cell(ctx, SessionsSheet, PairingInputRow, "A")
	require.NoError(t, err)
	assert.Equal(t, PairingInputLabel, label)
}

func TestSessionTransitionNeverRegresses(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessionTable(newGrid(t))
	sessions.WithPolicy(quick())

	require.NoError(t, sessions.Insert(ctx, Connection{ID: "conn-1", URI: "wc:abc@2", Status: ConnConnecting, Topic: "pair-topic"}))

	c, changed, err := sessions.Transition(ctx, "conn-1", ConnConnected, func(c *Connection) { c.Topic = "session-topic" })
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, SessionsFirstRow, c.Row)

	_, changed, err = sessions.Transition(ctx, "conn-1", ConnPending, nil)
	require.NoError(t, err)
	assert.False(t, changed)

	got, ok, err := sessions.FindByTopic(ctx, "session-topic")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ConnConnected, got.Status)

	_, changed, err = sessions.Transition(ctx, "missing", ConnFailed, nil)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRequestSettleIsMonotonic(t *testing.T) {
	ctx := context.Background()
	reqs := NewRequestTable(newGrid(t))
	reqs.WithPolicy(quick())

	require.NoError(t, reqs.Insert(ctx, PendingRequest{ID: "req-1", ConnectionID: "conn-1", Method: "personal_sign", Params: `["0x68656c6c6f"]`}))

	r, ok, err := reqs.Find(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ReqPending, r.Disposition())

	marked, err := reqs.Mark(ctx, "req-1", true)
	require.NoError(t, err)
	assert.True(t, marked)

	r, _, err = reqs.Find(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, ReqApproved, r.Disposition())

	changed, err := reqs.Settle(ctx, "req-1", ReqApproved)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = reqs.Settle(ctx, "req-1", ReqRejected)
	require.NoError(t, err)
	assert.False(t, changed)

	r, _, err = reqs.Find(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, ReqApproved, r.Status)
	assert.False(t, r.Approve)

	require.NoError(t, reqs.Delete(ctx, "req-1"))
	_, ok, err = reqs.Find(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedgerReplaceAndSetStatus(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerTable(newGrid(t))
	ledger.WithPolicy(quick())
	hash := "0x" + "11223344556677881122334455667788112233445566778811223344556677ff"

	require.NoError(t, ledger.Append(ctx, TxRecord{Hash: PendingHash("req-9"), From: testAddress, Status: TxProcessing}))
	require.NoError(t, ledger.Replace(ctx, PendingHash("req-9"), TxRecord{Hash: hash, From: testAddress, Status: TxPending}))

	recs, err := ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, hash, recs[0].Hash)

	changed, err := ledger.SetStatus(ctx, hash, TxSuccess)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = ledger.SetStatus(ctx, hash, TxFailed)
	require.NoError(t, err)
	assert.False(t, changed)
}
