package importer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// IndexedRow pairs a canonical row with its 1-based spreadsheet index so
// error messages can point at the offending line.
type IndexedRow struct {
	Index int
	Row   CanonicalRow
}

// Sheet is one recognized workbook sheet, canonicalized and materialized.
type Sheet struct {
	Kind SheetKind
	Name string // original sheet name
	Rows []IndexedRow
}

// Workbook is the canonicalized view of an uploaded spreadsheet.
type Workbook struct {
	Sheets  map[SheetKind]*Sheet
	Unknown []string // sheet names that resolved to no kind
}

// TotalRows counts candidate rows across all recognized sheets.
func (w *Workbook) TotalRows() int {
	total := 0
	for _, sheet := range w.Sheets {
		total += len(sheet.Rows)
	}
	return total
}

// OpenWorkbook parses workbook bytes, resolves sheet names against the alias
// table, and materializes each recognized sheet's rows keyed by canonical
// column. Headers that resolve to no canonical key are ignored; rows with no
// non-empty cell are dropped. When two sheets resolve to the same kind, the
// first wins.
func OpenWorkbook(data []byte) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	wb := &Workbook{Sheets: make(map[SheetKind]*Sheet)}

	for _, name := range f.GetSheetList() {
		kind, ok := CanonicalSheet(name)
		if !ok {
			wb.Unknown = append(wb.Unknown, name)
			continue
		}
		if _, dup := wb.Sheets[kind]; dup {
			wb.Unknown = append(wb.Unknown, name)
			continue
		}

		rows, err := readSheet(f, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
		}
		wb.Sheets[kind] = &Sheet{Kind: kind, Name: name, Rows: rows}
	}

	return wb, nil
}

func readSheet(f *excelize.File, name string) ([]IndexedRow, error) {
	raw, err := f.GetRows(name)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	// header row → column index to canonical key
	columns := make(map[int]string)
	for i, cell := range raw[0] {
		if key, ok := CanonicalHeader(cell); ok {
			columns[i] = key
		}
	}

	var rows []IndexedRow
	for i, cells := range raw[1:] {
		row := make(CanonicalRow, len(columns))
		empty := true
		for col, key := range columns {
			if col >= len(cells) {
				continue
			}
			v := strings.TrimSpace(cells[col])
			if v == "" {
				continue
			}
			row[key] = v
			empty = false
		}
		if empty {
			continue
		}
		rows = append(rows, IndexedRow{Index: i + 2, Row: row})
	}

	return rows, nil
}
