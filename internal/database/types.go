package sheetdb

import (
	"fmt"
	"strings"
	"time"
)

type Challenge struct {
	Challenge string    `json:"challenge"`
	Hash      string    `json:"hash"`
	Status    string    `json:"status"` // "unused", "used", "expired"
	Npub      string    `json:"npub"`
	CreatedAt time.Time `json:"created_at"`
	UsedAt    time.Time `json:"used_at,omitempty"`
	ExpiredAt time.Time `json:"expired_at,omitempty"`
}

const (
	ChallengeUnused  = "unused"
	ChallengeUsed    = "used"
	ChallengeExpired = "expired"
)

// ColumnIndex converts a column letter ("A", "H", "AA") to a 0-based index.
func ColumnIndex(col string) int {
	idx := 0
	for _, r := range strings.ToUpper(col) {
		if r < 'A' || r > 'Z' {
			return -1
		}
		idx = idx*26 + int(r-'A'+1)
	}
	return idx - 1
}

// ColumnLetter converts a 0-based index to its column letter.
func ColumnLetter(idx int) string {
	if idx < 0 {
		return ""
	}
	var b []byte
	for n := idx + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// A1 renders a quoted A1 reference such as 'Pending Transactions'!G4.
func A1(sheet string, row int, col string) string {
	return fmt.Sprintf("%s!%s%d", quoteSheet(sheet), col, row)
}

func quoteSheet(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

// trimRows drops trailing empty cells of each row and trailing empty rows.
func trimRows(rows [][]string) [][]string {
	for i, row := range rows {
		end := len(row)
		for end > 0 && row[end-1] == "" {
			end--
		}
		rows[i] = row[:end]
	}
	end := len(rows)
	for end > 0 && len(rows[end-1]) == 0 {
		end--
	}
	return rows[:end]
}
