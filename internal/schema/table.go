package schema

import (
	"context"
	"time"

	sheetdb "github.com/Maphikza/sheet-wallet/internal/database"
	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
)

// TimeFormat is used for every Timestamp column.
const TimeFormat = time.RFC3339

type table struct {
	grid   sheetdb.Grid
	sheet  string
	policy werrors.Policy
}

func newTable(grid sheetdb.Grid, sheet string) table {
	return table{grid: grid, sheet: sheet, policy: werrors.StoreMutationPolicy()}
}

// mutate runs fn under the store mutation retry policy.
func (t table) mutate(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.policy.Do(ctx, fn)
}

// dataRows returns (rowNumber, cells) pairs from firstRow on.
func (t table) dataRows(ctx context.Context, firstRow int) ([]int, [][]string, error) {
	values, err := t.grid.Values(ctx, t.sheet)
	if err != nil {
		return nil, nil, err
	}
	var nums []int
	var rows [][]string
	for i := firstRow - 1; i < len(values); i++ {
		if len(values[i]) == 0 || values[i][0] == "" {
			continue
		}
		nums = append(nums, i+1)
		rows = append(rows, values[i])
	}
	return nums, rows, nil
}

// WithPolicy replaces the mutation retry policy; tests use it to avoid backoff sleeps.
func (t *table) WithPolicy(p werrors.Policy) {
	t.policy = p
}
