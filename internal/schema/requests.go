package schema

import (
	"context"
	"time"

	sheetdb "github.com/Maphikza/sheet-wallet/internal/database"
)

// PendingRequest is one row of the pending-requests sheet.
type PendingRequest struct {
	Row          int
	ID           string
	ConnectionID string
	Method       string
	Params       string
	Status       RequestStatus
	CreatedAt    string
	Approve      bool
	Reject       bool
}

// Disposition combines the Status text and the checkbox columns. A terminal
// Status wins; otherwise a ticked Reject wins over a ticked Approve.
func (r PendingRequest) Disposition() RequestStatus {
	if r.Status.Terminal() {
		return r.Status
	}
	switch {
	case r.Reject:
		return ReqRejected
	case r.Approve:
		return ReqApproved
	default:
		return ReqPending
	}
}

func (r PendingRequest) values() []string {
	return []string{r.ID, r.ConnectionID, r.Method, r.Params, string(r.Status), r.CreatedAt, boolCell(r.Approve), boolCell(r.Reject)}
}

func boolCell(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func decodeRequest(rowNum int, r []string) PendingRequest {
	return PendingRequest{
		Row:          rowNum,
		ID:           cell(r, 0),
		ConnectionID: cell(r, 1),
		Method:       cell(r, 2),
		Params:       cell(r, 3),
		Status:       parseRequestStatus(cell(r, 4)),
		CreatedAt:    cell(r, 5),
		Approve:      checked(cell(r, 6)),
		Reject:       checked(cell(r, 7)),
	}
}

// RequestTable reads and writes PendingRequest rows.
type RequestTable struct {
	table
}

func NewRequestTable(grid sheetdb.Grid) *RequestTable {
	return &RequestTable{table: newTable(grid, RequestsSheet)}
}

func (t *RequestTable) List(ctx context.Context) ([]PendingRequest, error) {
	nums, rows, err := t.dataRows(ctx, 2)
	if err != nil {
		return nil, err
	}
	reqs := make([]PendingRequest, 0, len(rows))
	for i, r := range rows {
		reqs = append(reqs, decodeRequest(nums[i], r))
	}
	return reqs, nil
}

// Insert appends a Pending row with both checkboxes cleared.
func (t *RequestTable) Insert(ctx context.Context, r PendingRequest) error {
	r.Status = ReqPending
	r.Approve, r.Reject = false, false
	if r.CreatedAt == "" {
		r.CreatedAt = time.Now().UTC().Format(TimeFormat)
	}
	return t.mutate(ctx, func(ctx context.Context) error {
		return t.grid.AppendRows(ctx, t.sheet, [][]string{r.values()})
	})
}

func (t *RequestTable) Find(ctx context.Context, id string) (PendingRequest, bool, error) {
	reqs, err := t.List(ctx)
	if err != nil {
		return PendingRequest{}, false, err
	}
	for _, r := range reqs {
		if r.ID == id {
			return r, true, nil
		}
	}
	return PendingRequest{}, false, nil
}

// Settle writes a terminal status, but only while the row's Status text is
// still Pending. Checkboxes are reset so the row shows a single disposition.
func (t *RequestTable) Settle(ctx context.Context, id string, status RequestStatus) (bool, error) {
	var changed bool
	err := t.mutate(ctx, func(ctx context.Context) error {
		cur, ok, err := t.Find(ctx, id)
		if err != nil {
			return err
		}
		if !ok || cur.Status.Terminal() {
			changed = false
			return nil
		}
		err = t.grid.SetRange(ctx, t.sheet, cur.Row, RequestStatusCol, [][]string{{string(status)}})
		if err != nil {
			return err
		}
		err = t.grid.SetRange(ctx, t.sheet, cur.Row, RequestApproveCol, [][]string{{"FALSE", "FALSE"}})
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// Mark ticks the Approve or Reject checkbox of a row that is still Pending.
func (t *RequestTable) Mark(ctx context.Context, id string, approve bool) (bool, error) {
	var changed bool
	err := t.mutate(ctx, func(ctx context.Context) error {
		cur, ok, err := t.Find(ctx, id)
		if err != nil {
			return err
		}
		if !ok || cur.Disposition() != ReqPending {
			changed = false
			return nil
		}
		col := RequestRejectCol
		if approve {
			col = RequestApproveCol
		}
		if err := t.grid.SetCell(ctx, t.sheet, cur.Row, col, "TRUE"); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// Delete removes the row for id if it is present.
func (t *RequestTable) Delete(ctx context.Context, id string) error {
	return t.mutate(ctx, func(ctx context.Context) error {
		cur, ok, err := t.Find(ctx, id)
		if err != nil || !ok {
			return err
		}
		return t.grid.DeleteRow(ctx, t.sheet, cur.Row)
	})
}
