package parser

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/taxprep/internal/model"
)

// XLSX parses spreadsheet exports such as a broker's capital-gains
// statement. The first non-blank row is the header; every later row is one
// extract, with the same reserved columns as CSV.
type XLSX struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// Name implements Parser.
func (XLSX) Name() string { return "xlsx" }

// Supports implements Parser.
func (XLSX) Supports(_ model.SourceKind, format string) bool { return format == FormatXLSX }

// Parse implements Parser.
func (p XLSX) Parse(ctx context.Context, doc model.Document) ([]model.RawExtract, error) {
	f, err := xlsx.OpenBinary(doc.Payload)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}
	sheet, err := p.sheet(f)
	if err != nil {
		return nil, err
	}

	var (
		header []string
		out    []model.RawExtract
		row    int
	)
	for _, r := range sheet.Rows {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}
		if r == nil {
			continue
		}
		cells := rowToStrings(r)
		if blankRow(cells) {
			continue
		}
		if header == nil {
			for i, col := range cells {
				cells[i] = strings.ToLower(col)
			}
			header = cells
			continue
		}
		row++
		raw, err := recordExtract(doc, p.Name(), header, cells, row)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	if header == nil {
		return nil, eris.New("xlsx: missing header row")
	}
	return out, nil
}

func (p XLSX) sheet(f *xlsx.File) (*xlsx.Sheet, error) {
	if p.SheetName != "" {
		sheet, ok := f.Sheet[p.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", p.SheetName)
		}
		return sheet, nil
	}
	if p.SheetIndex < 0 || p.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (workbook has %d sheets)", p.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[p.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = strings.TrimSpace(cell.String())
	}
	return cells
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
