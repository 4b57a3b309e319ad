package sheetdb

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/Maphikza/sheet-wallet/internal/config"
	"gorm.io/gorm"
)

// DatabaseType represents the grid backend to use
type DatabaseType string

const (
	// DBTypeSQLite keeps the grid in a local SQLite file
	DBTypeSQLite DatabaseType = "sqlite"
	// DBTypeSheets talks to a hosted spreadsheet
	DBTypeSheets DatabaseType = "sheets"
)

// ErrSheetNotFound is returned when an operation names a sheet that does not exist.
var ErrSheetNotFound = stderrors.New("sheet not found")

// Grid is the tabular store the engine reads and writes. Rows and columns
// follow spreadsheet conventions: rows are 1-based, columns are letters.
type Grid interface {
	// Values returns every row of the sheet starting at row 1, with trailing
	// empty cells and rows trimmed.
	Values(ctx context.Context, sheet string) ([][]string, error)
	Cell(ctx context.Context, sheet string, row int, col string) (string, error)
	SetCell(ctx context.Context, sheet string, row int, col string, value string) error
	// SetRange writes a block whose top-left corner is (row, col).
	SetRange(ctx context.Context, sheet string, row int, col string, values [][]string) error
	// AppendRows writes rows after the last non-empty row.
	AppendRows(ctx context.Context, sheet string, rows [][]string) error
	// ClearRange blanks rows fromRow..toRow inclusive. toRow <= 0 clears to the end.
	ClearRange(ctx context.Context, sheet string, fromRow, toRow int) error
	InsertRow(ctx context.Context, sheet string, row int) error
	DeleteRow(ctx context.Context, sheet string, row int) error
	// CreateSheet is idempotent and returns the sheet id.
	CreateSheet(ctx context.Context, name string) (int64, error)
	DeleteSheet(ctx context.Context, name string) error
	SheetID(ctx context.Context, name string) (int64, error)
	Sheets(ctx context.Context) ([]string, error)
}

// Store bundles the grid with the local state the daemon keeps next to it.
type Store struct {
	Grid       Grid
	Challenges *ChallengeStore
	Backend    DatabaseType

	db *gorm.DB
}

// Open initializes the grid using the configured backend. The local SQLite
// file is always opened: it holds login challenges, and the grid itself when
// the sqlite backend is selected.
func Open(ctx context.Context, s config.Settings) (*Store, error) {
	db, err := InitSQLiteDB(s.StorePath)
	if err != nil {
		return nil, err
	}

	store := &Store{
		Challenges: NewChallengeStore(db),
		Backend:    DatabaseType(s.StoreBackend),
		db:         db,
	}

	switch store.Backend {
	case DBTypeSQLite:
		store.Grid = NewSQLiteGrid(db)
	case DBTypeSheets:
		grid, err := NewSheetsGrid(ctx, s.SpreadsheetID, s.CredentialsPath)
		if err != nil {
			store.Close()
			return nil, err
		}
		store.Grid = grid
	default:
		store.Close()
		return nil, fmt.Errorf("unknown store backend %q", s.StoreBackend)
	}

	return store, nil
}

// Close releases the local database handle
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
