package sheetdb

import "time"

// SQLiteSheet is one named sheet of the local grid
type SQLiteSheet struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex"`
	CreatedAt time.Time
}

// SQLiteCell stores a single non-empty cell. Empty cells are not stored.
type SQLiteCell struct {
	ID      uint `gorm:"primaryKey"`
	SheetID uint `gorm:"uniqueIndex:idx_sheet_row_col"`
	Row     int  `gorm:"column:row_num;uniqueIndex:idx_sheet_row_col"`
	Col     int  `gorm:"column:col_num;uniqueIndex:idx_sheet_row_col"`
	Value   string
}

// SQLiteChallenge represents an auth challenge
type SQLiteChallenge struct {
	ID        uint      `gorm:"primaryKey"`
	Challenge string    `gorm:"uniqueIndex"`
	Hash      string    `gorm:"uniqueIndex"`
	Status    string    `gorm:"index"` // unused, used, expired
	Npub      string    `gorm:"index"`
	CreatedAt time.Time `gorm:"index"`
	UsedAt    *time.Time
	ExpiredAt *time.Time
}
