package schema

import (
	"regexp"
	"strings"
)

// Sheet names
const (
	SettingsSheet = "Settings"
	LedgerSheet   = "Wallet Explorer"
	SessionsSheet = "ActiveSessions"
	RequestsSheet = "Pending Transactions"
	LogsSheet     = "Logs"
)

// Sheets lists every sheet the wallet owns, in creation order.
var Sheets = []string{SettingsSheet, LedgerSheet, SessionsSheet, RequestsSheet, LogsSheet}

// Refresh flag sentinels
const (
	RefreshDefault    = "⚠️ TYPE ANYTHING HERE TO REFRESH"
	RefreshInProgress = "🔄 Refreshing..."
)

// Settings sheet cells (column B holds the values)
const (
	SettingsWalletRow      = 2
	SettingsEmailRow       = 3
	SettingsChainRow       = 4
	SettingsLastUpdatedRow = 5
	SettingsRefreshRow     = 6
	SettingsValueCol       = "B"
)

// Sessions sheet layout: row 2 is the pairing input, data starts at row 3.
const (
	PairingInputRow   = 2
	PairingInputCol   = "B"
	PairingInputLabel = "WalletConnect URL:"
	SessionsFirstRow  = 3
)

var (
	SessionHeaders = []string{"Connection ID", "dApp URL", "Session URI", "Status", "Timestamp", "Topic", "Wallet Address"}
	RequestHeaders = []string{"Request ID", "Connection ID", "Type", "Details", "Status", "Timestamp", "Approve", "Reject"}
	LedgerHeaders  = []string{"Transaction Hash", "From", "To", "Amount", "Timestamp", "Status", "Explorer URL"}
	LogHeaders     = []string{"Timestamp", "Message"}
)

// Pending-requests columns written after creation
const (
	RequestStatusCol  = "E"
	RequestApproveCol = "G"
	RequestRejectCol  = "H"
)

// Placeholder hash prefixes used for ledger rows that were never submitted.
const (
	PendingHashPrefix  = "pending-"
	RejectedHashPrefix = "rejected-"
	FailedHashPrefix   = "failed-"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// IsPlaceholderHash reports whether hash is a sentinel rather than a
// submitted transaction hash.
func IsPlaceholderHash(hash string) bool {
	if hash == "" {
		return true
	}
	for _, p := range []string{PendingHashPrefix, RejectedHashPrefix, FailedHashPrefix} {
		if strings.HasPrefix(hash, p) {
			return true
		}
	}
	return !txHashPattern.MatchString(hash)
}

func PendingHash(requestID string) string { return PendingHashPrefix + requestID }
func FailedHash(requestID string) string  { return FailedHashPrefix + requestID }

// checked interprets a checkbox cell.
func checked(v string) bool {
	switch strings.TrimSpace(v) {
	case "TRUE", "true", "1":
		return true
	}
	return false
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
