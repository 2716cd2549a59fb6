package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the XLSX parser.
type XLSXOptions struct {
	SheetName string // if set, only this sheet is read
	SkipRows  int    // number of header rows to skip per sheet
	MaxRows   int    // per-sheet row cap; 0 = unlimited
}

// Sheet is one worksheet rendered as strings.
type Sheet struct {
	Name string
	Rows [][]string
}

// ReadWorkbook reads an XLSX file from disk.
func ReadWorkbook(path string, opts XLSXOptions) ([]Sheet, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	return readSheets(f, opts)
}

// ReadWorkbookBytes reads an XLSX workbook held in memory.
func ReadWorkbookBytes(data []byte, opts XLSXOptions) ([]Sheet, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open binary")
	}
	return readSheets(f, opts)
}

func readSheets(f *xlsx.File, opts XLSXOptions) ([]Sheet, error) {
	sheets := f.Sheets
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		sheets = []*xlsx.Sheet{sheet}
	}

	out := make([]Sheet, 0, len(sheets))
	for _, sheet := range sheets {
		s := Sheet{Name: sheet.Name}
		for i, row := range sheet.Rows {
			if i < opts.SkipRows {
				continue
			}
			if opts.MaxRows > 0 && len(s.Rows) >= opts.MaxRows {
				break
			}
			s.Rows = append(s.Rows, rowToStrings(row))
		}
		out = append(out, s)
	}
	return out, nil
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
