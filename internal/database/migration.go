package sheetdb

import (
	"context"
	"fmt"
)

// CopySheets replaces the contents of each named sheet in dst with the rows
// held in src. Sheets missing from dst are created. It returns the number of
// rows written.
func CopySheets(ctx context.Context, src, dst Grid, sheets []string) (int, error) {
	written := 0
	for _, name := range sheets {
		rows, err := src.Values(ctx, name)
		if err != nil {
			return written, fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := dst.CreateSheet(ctx, name); err != nil {
			return written, fmt.Errorf("create %s: %w", name, err)
		}
		if err := dst.ClearRange(ctx, name, 1, 0); err != nil {
			return written, fmt.Errorf("clear %s: %w", name, err)
		}
		if len(rows) == 0 {
			continue
		}
		if err := dst.SetRange(ctx, name, 1, "A", rows); err != nil {
			return written, fmt.Errorf("write %s: %w", name, err)
		}
		written += len(rows)
	}
	return written, nil
}
