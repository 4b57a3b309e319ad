package schema

import (
	"context"
	"time"

	sheetdb "github.com/Maphikza/sheet-wallet/internal/database"
)

// Connection is one row of the sessions sheet.
type Connection struct {
	Row           int
	ID            string
	PeerURL       string
	URI           string
	Status        ConnectionStatus
	CreatedAt     string
	Topic         string
	WalletAddress string
}

func (c Connection) values() []string {
	return []string{c.ID, c.PeerURL, c.URI, string(c.Status), c.CreatedAt, c.Topic, c.WalletAddress}
}

func decodeConnection(rowNum int, r []string) Connection {
	return Connection{
		Row:           rowNum,
		ID:            cell(r, 0),
		PeerURL:       cell(r, 1),
		URI:           cell(r, 2),
		Status:        ConnectionStatus(cell(r, 3)),
		CreatedAt:     cell(r, 4),
		Topic:         cell(r, 5),
		WalletAddress: cell(r, 6),
	}
}

// SessionTable reads and writes Connection rows.
type SessionTable struct {
	table
}

func NewSessionTable(grid sheetdb.Grid) *SessionTable {
	return &SessionTable{table: newTable(grid, SessionsSheet)}
}

func (t *SessionTable) List(ctx context.Context) ([]Connection, error) {
	nums, rows, err := t.dataRows(ctx, SessionsFirstRow)
	if err != nil {
		return nil, err
	}
	conns := make([]Connection, 0, len(rows))
	for i, r := range rows {
		conns = append(conns, decodeConnection(nums[i], r))
	}
	return conns, nil
}

// Insert appends a new connection row. CreatedAt defaults to now.
func (t *SessionTable) Insert(ctx context.Context, c Connection) error {
	if c.CreatedAt == "" {
		c.CreatedAt = time.Now().UTC().Format(TimeFormat)
	}
	return t.mutate(ctx, func(ctx context.Context) error {
		return t.grid.AppendRows(ctx, t.sheet, [][]string{c.values()})
	})
}

// Find returns the connection with the given id.
func (t *SessionTable) Find(ctx context.Context, id string) (Connection, bool, error) {
	return t.find(ctx, func(c Connection) bool { return c.ID == id })
}

// FindByTopic matches the Topic column. It holds the pairing topic while the
// connection negotiates and the session topic once it is approved.
func (t *SessionTable) FindByTopic(ctx context.Context, topic string) (Connection, bool, error) {
	if topic == "" {
		return Connection{}, false, nil
	}
	return t.find(ctx, func(c Connection) bool { return c.Topic == topic })
}

func (t *SessionTable) find(ctx context.Context, match func(Connection) bool) (Connection, bool, error) {
	conns, err := t.List(ctx)
	if err != nil {
		return Connection{}, false, err
	}
	for _, c := range conns {
		if match(c) {
			return c, true, nil
		}
	}
	return Connection{}, false, nil
}

// Transition re-reads the row and moves it to next only when the current
// status allows it. apply may adjust other fields of the row before it is
// written. It reports whether the row changed.
func (t *SessionTable) Transition(ctx context.Context, id string, next ConnectionStatus, apply func(*Connection)) (Connection, bool, error) {
	var (
		result  Connection
		changed bool
	)
	err := t.mutate(ctx, func(ctx context.Context) error {
		cur, ok, err := t.Find(ctx, id)
		if err != nil {
			return err
		}
		if !ok || !cur.Status.CanTransition(next) {
			result, changed = cur, false
			return nil
		}
		cur.Status = next
		if apply != nil {
			apply(&cur)
		}
		if err := t.grid.SetRange(ctx, t.sheet, cur.Row, "A", [][]string{cur.values()}); err != nil {
			return err
		}
		result, changed = cur, true
		return nil
	})
	return result, changed, err
}

// SetTopic records topic on a connection that has not reached a terminal
// status. It reports whether the row was written.
func (t *SessionTable) SetTopic(ctx context.Context, id, topic string) (bool, error) {
	var written bool
	err := t.mutate(ctx, func(ctx context.Context) error {
		cur, ok, err := t.Find(ctx, id)
		if err != nil || !ok || cur.Status.Terminal() {
			return err
		}
		cur.Topic = topic
		if err := t.grid.SetRange(ctx, t.sheet, cur.Row, "A", [][]string{cur.values()}); err != nil {
			return err
		}
		written = true
		return nil
	})
	return written, err
}

// PairingInput returns the URI typed into the pairing cell.
func (t *SessionTable) PairingInput(ctx context.Context) (string, error) {
	return t.grid.Cell(ctx, t.sheet, PairingInputRow, PairingInputCol)
}

func (t *SessionTable) ClearPairingInput(ctx context.Context) error {
	return t.mutate(ctx, func(ctx context.Context) error {
		return t.grid.SetCell(ctx, t.sheet, PairingInputRow, PairingInputCol, "")
	})
}
