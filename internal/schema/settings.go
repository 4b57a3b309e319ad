package schema

import (
	"context"
	"strconv"
	"time"

	sheetdb "github.com/Maphikza/sheet-wallet/internal/database"
)

// SettingsTable exposes the single-value cells of the Settings sheet.
type SettingsTable struct {
	table
}

func NewSettingsTable(grid sheetdb.Grid) *SettingsTable {
	return &SettingsTable{table: newTable(grid, SettingsSheet)}
}

func (t *SettingsTable) get(ctx context.Context, row int) (string, error) {
	return t.grid.Cell(ctx, t.sheet, row, SettingsValueCol)
}

func (t *SettingsTable) set(ctx context.Context, row int, value string) error {
	return t.mutate(ctx, func(ctx context.Context) error {
		return t.grid.SetCell(ctx, t.sheet, row, SettingsValueCol, value)
	})
}

func (t *SettingsTable) WalletAddress(ctx context.Context) (string, error) {
	return t.get(ctx, SettingsWalletRow)
}

func (t *SettingsTable) SetWalletAddress(ctx context.Context, addr string) error {
	return t.set(ctx, SettingsWalletRow, addr)
}

func (t *SettingsTable) OwnerEmail(ctx context.Context) (string, error) {
	return t.get(ctx, SettingsEmailRow)
}

func (t *SettingsTable) SetOwnerEmail(ctx context.Context, email string) error {
	return t.set(ctx, SettingsEmailRow, email)
}

func (t *SettingsTable) SetChainID(ctx context.Context, id int64) error {
	return t.set(ctx, SettingsChainRow, strconv.FormatInt(id, 10))
}

func (t *SettingsTable) SetLastUpdated(ctx context.Context, at time.Time) error {
	return t.set(ctx, SettingsLastUpdatedRow, at.UTC().Format(TimeFormat))
}

// RefreshFlag returns the raw content of the refresh flag cell.
func (t *SettingsTable) RefreshFlag(ctx context.Context) (string, error) {
	return t.get(ctx, SettingsRefreshRow)
}

func (t *SettingsTable) SetRefreshFlag(ctx context.Context, value string) error {
	return t.set(ctx, SettingsRefreshRow, value)
}
