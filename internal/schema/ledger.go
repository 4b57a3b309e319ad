package schema

import (
	"context"

	sheetdb "github.com/Maphikza/sheet-wallet/internal/database"
)

// TxRecord is one row of the transaction ledger.
type TxRecord struct {
	Row         int
	Hash        string
	From        string
	To          string
	Amount      string
	Timestamp   string
	Status      TxStatus
	ExplorerURL string
}

func (r TxRecord) values() []string {
	return []string{r.Hash, r.From, r.To, r.Amount, r.Timestamp, string(r.Status), r.ExplorerURL}
}

func decodeTx(rowNum int, r []string) TxRecord {
	return TxRecord{
		Row:         rowNum,
		Hash:        cell(r, 0),
		From:        cell(r, 1),
		To:          cell(r, 2),
		Amount:      cell(r, 3),
		Timestamp:   cell(r, 4),
		Status:      TxStatus(cell(r, 5)),
		ExplorerURL: cell(r, 6),
	}
}

// LedgerTable reads and writes TxRecord rows.
type LedgerTable struct {
	table
}

func NewLedgerTable(grid sheetdb.Grid) *LedgerTable {
	return &LedgerTable{table: newTable(grid, LedgerSheet)}
}

func (t *LedgerTable) List(ctx context.Context) ([]TxRecord, error) {
	nums, rows, err := t.dataRows(ctx, 2)
	if err != nil {
		return nil, err
	}
	recs := make([]TxRecord, 0, len(rows))
	for i, r := range rows {
		recs = append(recs, decodeTx(nums[i], r))
	}
	return recs, nil
}

func (t *LedgerTable) Append(ctx context.Context, recs ...TxRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, r.values())
	}
	return t.mutate(ctx, func(ctx context.Context) error {
		return t.grid.AppendRows(ctx, t.sheet, rows)
	})
}

func (t *LedgerTable) Find(ctx context.Context, hash string) (TxRecord, bool, error) {
	recs, err := t.List(ctx)
	if err != nil {
		return TxRecord{}, false, err
	}
	for _, r := range recs {
		if r.Hash == hash {
			return r, true, nil
		}
	}
	return TxRecord{}, false, nil
}

// Replace rewrites the row currently keyed by hash. Used to turn a
// placeholder row into the submitted (or failed) transaction in place.
// When no such row exists, rec is appended.
func (t *LedgerTable) Replace(ctx context.Context, hash string, rec TxRecord) error {
	return t.mutate(ctx, func(ctx context.Context) error {
		cur, ok, err := t.Find(ctx, hash)
		if err != nil {
			return err
		}
		if !ok {
			return t.grid.AppendRows(ctx, t.sheet, [][]string{rec.values()})
		}
		return t.grid.SetRange(ctx, t.sheet, cur.Row, "A", [][]string{rec.values()})
	})
}

// SetStatus moves the row for hash to status if the row is still in flight.
// It reports whether the row changed.
func (t *LedgerTable) SetStatus(ctx context.Context, hash string, status TxStatus) (bool, error) {
	var changed bool
	err := t.mutate(ctx, func(ctx context.Context) error {
		cur, ok, err := t.Find(ctx, hash)
		if err != nil {
			return err
		}
		if !ok || cur.Status.Terminal() || cur.Status == status {
			changed = false
			return nil
		}
		if err := t.grid.SetCell(ctx, t.sheet, cur.Row, "F", string(status)); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}
