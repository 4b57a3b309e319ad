package schema

import (
	"context"
	"slices"
	"strconv"

	sheetdb "github.com/Maphikza/sheet-wallet/internal/database"
	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
)

// Identity is written into the Settings sheet on every start.
type Identity struct {
	WalletAddress string
	OwnerEmail    string
	ChainID       int64
}

type sheetTemplate struct {
	name string
	rows [][]string
}

func templates(id Identity) []sheetTemplate {
	return []sheetTemplate{
		{SettingsSheet, [][]string{
			{"Setting", "Value"},
			{"Wallet Address", id.WalletAddress},
			{"Sheet Owner Email", id.OwnerEmail},
			{"Chain ID", strconv.FormatInt(id.ChainID, 10)},
			{"Last Updated", ""},
			{"Refresh", RefreshDefault},
		}},
		{LedgerSheet, [][]string{LedgerHeaders}},
		{SessionsSheet, [][]string{SessionHeaders, {PairingInputLabel, ""}}},
		{RequestsSheet, [][]string{RequestHeaders}},
		{LogsSheet, [][]string{LogHeaders}},
	}
}

// Bootstrap creates any missing sheet with its headers and input cells, and
// stores the wallet identity in Settings. Existing data rows are left alone.
func Bootstrap(ctx context.Context, grid sheetdb.Grid, id Identity) error {
	existing, err := grid.Sheets(ctx)
	if err != nil {
		return werrors.Wrapf(err, "list sheets")
	}

	policy := werrors.StoreMutationPolicy()
	for _, tpl := range templates(id) {
		tpl := tpl
		if slices.Contains(existing, tpl.name) {
			continue
		}
		err := policy.Do(ctx, func(ctx context.Context) error {
			if _, err := grid.CreateSheet(ctx, tpl.name); err != nil {
				return err
			}
			return grid.SetRange(ctx, tpl.name, 1, "A", tpl.rows)
		})
		if err != nil {
			return werrors.Wrapf(err, "create sheet %s", tpl.name)
		}
	}

	settings := NewSettingsTable(grid)
	if err := settings.SetWalletAddress(ctx, id.WalletAddress); err != nil {
		return err
	}
	if id.OwnerEmail != "" {
		if err := settings.SetOwnerEmail(ctx, id.OwnerEmail); err != nil {
			return err
		}
	}
	if err := settings.SetChainID(ctx, id.ChainID); err != nil {
		return err
	}

	label, err := grid.Cell(ctx, SessionsSheet, PairingInputRow, "A")
	if err != nil {
		return err
	}
	if label == "" {
		return grid.SetCell(ctx, SessionsSheet, PairingInputRow, "A", PairingInputLabel)
	}
	return nil
}
