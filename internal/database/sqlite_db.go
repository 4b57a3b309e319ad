package sheetdb

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// InitSQLiteDB opens (creating if needed) the local SQLite database
func InitSQLiteDB(dbPath string) (*gorm.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %v", err)
		}
	}

	// Configure GORM to be less verbose
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	}

	db, err := gorm.Open(sqlite.Open(dbPath), config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// One connection: keeps :memory: databases shared and serializes writers.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&SQLiteSheet{},
		&SQLiteCell{},
		&SQLiteChallenge{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %v", err)
	}

	return db, nil
}

// SQLiteGrid implements Grid on top of gorm/sqlite.
type SQLiteGrid struct {
	db *gorm.DB
}

func NewSQLiteGrid(db *gorm.DB) *SQLiteGrid {
	return &SQLiteGrid{db: db}
}

func (g *SQLiteGrid) sheet(ctx context.Context, tx *gorm.DB, name string) (uint, error) {
	var s SQLiteSheet
	err := tx.WithContext(ctx).Where("name = ?", name).First(&s).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return 0, werrors.Wrap(ErrSheetNotFound, werrors.KindValidation, "sheet", name)
	}
	if err != nil {
		return 0, werrors.Store("sheet", err)
	}
	return s.ID, nil
}

func (g *SQLiteGrid) Values(ctx context.Context, sheet string) ([][]string, error) {
	id, err := g.sheet(ctx, g.db, sheet)
	if err != nil {
		return nil, err
	}

	var cells []SQLiteCell
	if err := g.db.WithContext(ctx).Where("sheet_id = ?", id).Order("row_num, col_num").Find(&cells).Error; err != nil {
		return nil, werrors.Store("values", err)
	}
	if len(cells) == 0 {
		return [][]string{}, nil
	}

	rows := make([][]string, cells[len(cells)-1].Row)
	for _, c := range cells {
		r := c.Row - 1
		for len(rows[r]) <= c.Col {
			rows[r] = append(rows[r], "")
		}
		rows[r][c.Col] = c.Value
	}
	return trimRows(rows), nil
}

func (g *SQLiteGrid) Cell(ctx context.Context, sheet string, row int, col string) (string, error) {
	id, err := g.sheet(ctx, g.db, sheet)
	if err != nil {
		return "", err
	}

	var cell SQLiteCell
	err = g.db.WithContext(ctx).
		Where("sheet_id = ? AND row_num = ? AND col_num = ?", id, row, ColumnIndex(col)).
		Limit(1).Find(&cell).Error
	if err != nil {
		return "", werrors.Store("cell", err)
	}
	return cell.Value, nil
}

func (g *SQLiteGrid) SetCell(ctx context.Context, sheet string, row int, col string, value string) error {
	return g.SetRange(ctx, sheet, row, col, [][]string{{value}})
}

func (g *SQLiteGrid) SetRange(ctx context.Context, sheet string, row int, col string, values [][]string) error {
	if row < 1 || ColumnIndex(col) < 0 {
		return werrors.Validation("set_range", fmt.Sprintf("invalid cell %s%d", col, row))
	}
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := g.sheet(ctx, tx, sheet)
		if err != nil {
			return err
		}
		return writeBlock(tx, id, row, ColumnIndex(col), values)
	})
	return storeErr("set_range", err)
}

func writeBlock(tx *gorm.DB, sheetID uint, row, col int, values [][]string) error {
	for i, vals := range values {
		for j, v := range vals {
			r, c := row+i, col+j
			if v == "" {
				if err := tx.Where("sheet_id = ? AND row_num = ? AND col_num = ?", sheetID, r, c).Delete(&SQLiteCell{}).Error; err != nil {
					return err
				}
				continue
			}
			cell := SQLiteCell{SheetID: sheetID, Row: r, Col: c, Value: v}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "sheet_id"}, {Name: "row_num"}, {Name: "col_num"}},
				DoUpdates: clause.AssignmentColumns([]string{"value"}),
			}).Create(&cell).Error
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *SQLiteGrid) AppendRows(ctx context.Context, sheet string, rows [][]string) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := g.sheet(ctx, tx, sheet)
		if err != nil {
			return err
		}
		var last int
		if err := tx.Model(&SQLiteCell{}).Where("sheet_id = ?", id).
			Select("COALESCE(MAX(row_num), 0)").Scan(&last).Error; err != nil {
			return err
		}
		return writeBlock(tx, id, last+1, 0, rows)
	})
	return storeErr("append_rows", err)
}

func (g *SQLiteGrid) ClearRange(ctx context.Context, sheet string, fromRow, toRow int) error {
	id, err := g.sheet(ctx, g.db, sheet)
	if err != nil {
		return err
	}
	q := g.db.WithContext(ctx).Where("sheet_id = ? AND row_num >= ?", id, fromRow)
	if toRow > 0 {
		q = q.Where("row_num <= ?", toRow)
	}
	return storeErr("clear_range", q.Delete(&SQLiteCell{}).Error)
}

// InsertRow shifts row and everything below it down by one.
func (g *SQLiteGrid) InsertRow(ctx context.Context, sheet string, row int) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := g.sheet(ctx, tx, sheet)
		if err != nil {
			return err
		}
		return shiftRows(tx, id, row, 1)
	})
	return storeErr("insert_row", err)
}

// DeleteRow removes row and shifts everything below it up by one.
func (g *SQLiteGrid) DeleteRow(ctx context.Context, sheet string, row int) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := g.sheet(ctx, tx, sheet)
		if err != nil {
			return err
		}
		if err := tx.Where("sheet_id = ? AND row_num = ?", id, row).Delete(&SQLiteCell{}).Error; err != nil {
			return err
		}
		return shiftRows(tx, id, row+1, -1)
	})
	return storeErr("delete_row", err)
}

// shiftRows moves rows >= from by delta. Rows are parked at negative
// numbers first so the (sheet, row, col) unique index never collides.
func shiftRows(tx *gorm.DB, sheetID uint, from, delta int) error {
	err := tx.Model(&SQLiteCell{}).
		Where("sheet_id = ? AND row_num >= ?", sheetID, from).
		Update("row_num", gorm.Expr("-(row_num + ?)", delta)).Error
	if err != nil {
		return err
	}
	return tx.Model(&SQLiteCell{}).
		Where("sheet_id = ? AND row_num < 0", sheetID).
		Update("row_num", gorm.Expr("-row_num")).Error
}

func (g *SQLiteGrid) CreateSheet(ctx context.Context, name string) (int64, error) {
	s := SQLiteSheet{Name: name}
	if err := g.db.WithContext(ctx).Where(SQLiteSheet{Name: name}).FirstOrCreate(&s).Error; err != nil {
		return 0, werrors.Store("create_sheet", err)
	}
	return int64(s.ID), nil
}

func (g *SQLiteGrid) DeleteSheet(ctx context.Context, name string) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := g.sheet(ctx, tx, name)
		if err != nil {
			return err
		}
		if err := tx.Where("sheet_id = ?", id).Delete(&SQLiteCell{}).Error; err != nil {
			return err
		}
		return tx.Delete(&SQLiteSheet{}, id).Error
	})
	return storeErr("delete_sheet", err)
}

func (g *SQLiteGrid) SheetID(ctx context.Context, name string) (int64, error) {
	id, err := g.sheet(ctx, g.db, name)
	return int64(id), err
}

func (g *SQLiteGrid) Sheets(ctx context.Context) ([]string, error) {
	var names []string
	if err := g.db.WithContext(ctx).Model(&SQLiteSheet{}).Order("id").Pluck("name", &names).Error; err != nil {
		return nil, werrors.Store("sheets", err)
	}
	return names, nil
}

// storeErr classifies err as a store failure unless it already carries a kind
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return werrors.Store(op, err)
}

// ErrChallengeNotFound is returned for an unknown challenge hash.
var ErrChallengeNotFound = stderrors.New("challenge not found")

// ChallengeStore persists API login challenges.
type ChallengeStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewChallengeStore(db *gorm.DB) *ChallengeStore {
	return &ChallengeStore{db: db, now: time.Now}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (c SQLiteChallenge) challenge() Challenge {
	out := Challenge{
		Challenge: c.Challenge,
		Hash:      c.Hash,
		Status:    c.Status,
		Npub:      c.Npub,
		CreatedAt: c.CreatedAt,
	}
	if c.UsedAt != nil {
		out.UsedAt = *c.UsedAt
	}
	if c.ExpiredAt != nil {
		out.ExpiredAt = *c.ExpiredAt
	}
	return out
}

// SaveChallenge stores a freshly issued challenge.
func (s *ChallengeStore) SaveChallenge(ctx context.Context, c Challenge) error {
	row := SQLiteChallenge{
		Challenge: c.Challenge,
		Hash:      c.Hash,
		Status:    c.Status,
		Npub:      c.Npub,
		CreatedAt: c.CreatedAt,
		UsedAt:    optionalTime(c.UsedAt),
		ExpiredAt: optionalTime(c.ExpiredAt),
	}
	return storeErr("save_challenge", s.db.WithContext(ctx).Create(&row).Error)
}

// GetChallenge looks a challenge up by its hash.
func (s *ChallengeStore) GetChallenge(ctx context.Context, hash string) (Challenge, error) {
	var row SQLiteChallenge
	err := s.db.WithContext(ctx).Where("hash = ?", hash).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return Challenge{}, ErrChallengeNotFound
	}
	if err != nil {
		return Challenge{}, werrors.Store("get_challenge", err)
	}
	return row.challenge(), nil
}

// MarkChallengeAsUsed consumes a challenge so it cannot be replayed.
func (s *ChallengeStore) MarkChallengeAsUsed(ctx context.Context, hash string) error {
	result := s.db.WithContext(ctx).Model(&SQLiteChallenge{}).
		Where("hash = ?", hash).
		Updates(map[string]interface{}{
			"status":  ChallengeUsed,
			"used_at": s.now(),
		})
	if result.Error != nil {
		return werrors.Store("mark_challenge", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrChallengeNotFound
	}
	return nil
}

// ExpireOldChallenges marks unused challenges older than maxAge as expired
func (s *ChallengeStore) ExpireOldChallenges(ctx context.Context, maxAge time.Duration) error {
	now := s.now()
	return storeErr("expire_challenges", s.db.WithContext(ctx).Model(&SQLiteChallenge{}).
		Where("status = ? AND created_at < ?", ChallengeUnused, now.Add(-maxAge)).
		Updates(map[string]interface{}{
			"status":     ChallengeExpired,
			"expired_at": now,
		}).Error)
}
