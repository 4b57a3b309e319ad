package schema

import (
	"context"
	"time"

	sheetdb "github.com/Maphikza/sheet-wallet/internal/database"
)

// LogTable appends operator-facing messages to the Logs sheet.
type LogTable struct {
	table
}

func NewLogTable(grid sheetdb.Grid) *LogTable {
	return &LogTable{table: newTable(grid, LogsSheet)}
}

func (t *LogTable) Append(ctx context.Context, message string) error {
	row := []string{time.Now().UTC().Format(TimeFormat), message}
	return t.mutate(ctx, func(ctx context.Context) error {
		return t.grid.AppendRows(ctx, t.sheet, [][]string{row})
	})
}
