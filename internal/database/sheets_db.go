package sheetdb

import (
	"context"
	"fmt"

	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const valueInputOption = "USER_ENTERED"

// SheetsGrid implements Grid against a hosted spreadsheet through the Sheets v4 API.
type SheetsGrid struct {
	srv           *sheets.Service
	spreadsheetID string
}

// NewSheetsGrid authenticates with a service account credentials file.
// An empty path falls back to application default credentials.
func NewSheetsGrid(ctx context.Context, spreadsheetID, credentialsPath string) (*SheetsGrid, error) {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.KindAuth, "sheets_service", "unable to create sheets client")
	}

	return &SheetsGrid{srv: srv, spreadsheetID: spreadsheetID}, nil
}

func (g *SheetsGrid) Values(ctx context.Context, sheet string) ([][]string, error) {
	resp, err := g.srv.Spreadsheets.Values.Get(g.spreadsheetID, quoteSheet(sheet)).Context(ctx).Do()
	if err != nil {
		return nil, werrors.Store("values", err)
	}
	return trimRows(toStrings(resp.Values)), nil
}

func (g *SheetsGrid) Cell(ctx context.Context, sheet string, row int, col string) (string, error) {
	resp, err := g.srv.Spreadsheets.Values.Get(g.spreadsheetID, A1(sheet, row, col)).Context(ctx).Do()
	if err != nil {
		return "", werrors.Store("cell", err)
	}
	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		return "", nil
	}
	return fmt.Sprint(resp.Values[0][0]), nil
}

func (g *SheetsGrid) SetCell(ctx context.Context, sheet string, row int, col string, value string) error {
	return g.SetRange(ctx, sheet, row, col, [][]string{{value}})
}

func (g *SheetsGrid) SetRange(ctx context.Context, sheet string, row int, col string, values [][]string) error {
	vr := &sheets.ValueRange{Values: toInterfaces(values)}
	_, err := g.srv.Spreadsheets.Values.Update(g.spreadsheetID, A1(sheet, row, col), vr).
		ValueInputOption(valueInputOption).Context(ctx).Do()
	if err != nil {
		return werrors.Store("set_range", err)
	}
	return nil
}

func (g *SheetsGrid) AppendRows(ctx context.Context, sheet string, rows [][]string) error {
	vr := &sheets.ValueRange{Values: toInterfaces(rows)}
	_, err := g.srv.Spreadsheets.Values.Append(g.spreadsheetID, A1(sheet, 1, "A"), vr).
		ValueInputOption(valueInputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return werrors.Store("append_rows", err)
	}
	return nil
}

func (g *SheetsGrid) ClearRange(ctx context.Context, sheet string, fromRow, toRow int) error {
	rng := fmt.Sprintf("%s!A%d:Z", quoteSheet(sheet), fromRow)
	if toRow > 0 {
		rng = fmt.Sprintf("%s!A%d:Z%d", quoteSheet(sheet), fromRow, toRow)
	}
	_, err := g.srv.Spreadsheets.Values.Clear(g.spreadsheetID, rng, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return werrors.Store("clear_range", err)
	}
	return nil
}

func (g *SheetsGrid) InsertRow(ctx context.Context, sheet string, row int) error {
	id, err := g.SheetID(ctx, sheet)
	if err != nil {
		return err
	}
	return g.batch(ctx, "insert_row", &sheets.Request{
		InsertDimension: &sheets.InsertDimensionRequest{
			Range:             rowRange(id, row),
			InheritFromBefore: row > 1,
		},
	})
}

func (g *SheetsGrid) DeleteRow(ctx context.Context, sheet string, row int) error {
	id, err := g.SheetID(ctx, sheet)
	if err != nil {
		return err
	}
	return g.batch(ctx, "delete_row", &sheets.Request{
		DeleteDimension: &sheets.DeleteDimensionRequest{Range: rowRange(id, row)},
	})
}

func (g *SheetsGrid) CreateSheet(ctx context.Context, name string) (int64, error) {
	if id, err := g.SheetID(ctx, name); err == nil {
		return id, nil
	} else if !werrors.Is(err, werrors.KindValidation) {
		return 0, err
	}

	resp, err := g.srv.Spreadsheets.BatchUpdate(g.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: name}},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return 0, werrors.Store("create_sheet", err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil {
		return 0, werrors.New(werrors.KindStore, "create_sheet", "empty reply from add sheet")
	}
	return resp.Replies[0].AddSheet.Properties.SheetId, nil
}

func (g *SheetsGrid) DeleteSheet(ctx context.Context, name string) error {
	id, err := g.SheetID(ctx, name)
	if err != nil {
		return err
	}
	return g.batch(ctx, "delete_sheet", &sheets.Request{
		DeleteSheet: &sheets.DeleteSheetRequest{SheetId: id},
	})
}

func (g *SheetsGrid) SheetID(ctx context.Context, name string) (int64, error) {
	props, err := g.properties(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range props {
		if p.Title == name {
			return p.SheetId, nil
		}
	}
	return 0, werrors.Wrap(ErrSheetNotFound, werrors.KindValidation, "sheet", name)
}

func (g *SheetsGrid) Sheets(ctx context.Context) ([]string, error) {
	props, err := g.properties(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(props))
	for _, p := range props {
		names = append(names, p.Title)
	}
	return names, nil
}

func (g *SheetsGrid) properties(ctx context.Context) ([]*sheets.SheetProperties, error) {
	ss, err := g.srv.Spreadsheets.Get(g.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, werrors.Store("spreadsheet_metadata", err)
	}
	props := make([]*sheets.SheetProperties, 0, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			props = append(props, s.Properties)
		}
	}
	return props, nil
}

func (g *SheetsGrid) batch(ctx context.Context, op string, reqs ...*sheets.Request) error {
	_, err := g.srv.Spreadsheets.BatchUpdate(g.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: reqs,
	}).Context(ctx).Do()
	if err != nil {
		return werrors.Store(op, err)
	}
	return nil
}

func rowRange(sheetID int64, row int) *sheets.DimensionRange {
	return &sheets.DimensionRange{
		SheetId:    sheetID,
		Dimension:  "ROWS",
		StartIndex: int64(row - 1),
		EndIndex:   int64(row),
	}
}

func toStrings(values [][]interface{}) [][]string {
	rows := make([][]string, len(values))
	for i, row := range values {
		rows[i] = make([]string, len(row))
		for j, v := range row {
			rows[i][j] = fmt.Sprint(v)
		}
	}
	return rows
}

func toInterfaces(values [][]string) [][]interface{} {
	rows := make([][]interface{}, len(values))
	for i, row := range values {
		rows[i] = make([]interface{}, len(row))
		for j, v := range row {
			rows[i][j] = v
		}
	}
	return rows
}
