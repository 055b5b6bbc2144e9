package ingest

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/cml-optimizer/internal/reconcile"
)

// XLSXOptions configures the XLSX reader.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// ReadXLSX reads the header row and data rows of one sheet into rows
// keyed through cmap. Numeric, boolean and date cells keep their type.
func ReadXLSX(path string, opts XLSXOptions, cmap ColumnMap) ([]reconcile.Row, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: xlsx: open file")
	}
	return readWorkbook(f, opts, cmap)
}

// ReadXLSXBytes is ReadXLSX over an in-memory workbook.
func ReadXLSXBytes(data []byte, opts XLSXOptions, cmap ColumnMap) ([]reconcile.Row, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: xlsx: open workbook")
	}
	return readWorkbook(f, opts, cmap)
}

func readWorkbook(f *xlsx.File, opts XLSXOptions, cmap ColumnMap) ([]reconcile.Row, error) {
	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("ingest: xlsx: sheet %q is empty", sheet.Name)
	}

	keys := cmap.Resolve(rowToStrings(sheet.Rows[0]))
	var rows []reconcile.Row
	for _, r := range sheet.Rows[1:] {
		cells := make([]any, len(r.Cells))
		for j, c := range r.Cells {
			cells[j] = cellValue(c, f.Date1904)
		}
		if isBlank(cells) {
			continue
		}
		rows = append(rows, buildRow(keys, cells))
	}

	zap.L().Debug("ingest: xlsx sheet read",
		zap.String("sheet", sheet.Name),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("ingest: xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("ingest: xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

// cellValue returns a typed value for the cell: time.Time for date
// formatted numbers, float64 for other numbers, bool for booleans and
// the display string otherwise.
func cellValue(c *xlsx.Cell, date1904 bool) any {
	switch c.Type() {
	case xlsx.CellTypeNumeric:
		if c.IsTime() {
			if t, err := c.GetTime(date1904); err == nil {
				return t
			}
		}
		if v, err := c.Float(); err == nil {
			return v
		}
	case xlsx.CellTypeBool:
		return c.Bool()
	}
	return c.String()
}
