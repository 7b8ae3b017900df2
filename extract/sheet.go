package extract

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

func firstSheetRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}

	return f.GetRows(sheets[0])
}

// SheetCSV renders the first worksheet as CSV
func SheetCSV(path string) (string, error) {
	rows, err := firstSheetRows(path)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// SheetJSON renders the first worksheet as a list of objects keyed by the header row.
// Numbers and booleans keep their type. Empty cells and blank rows are left out,
// empty headers become __EMPTY and repeated headers get a _N suffix.
func SheetJSON(path string) ([]byte, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	records := make([]map[string]any, 0)
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return json.Marshal(records)
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return json.MarshalIndent(records, "", "  ")
	}

	keys := headerKeys(rows[0])
	for r, row := range rows[1:] {
		record := make(map[string]any, len(keys))
		for c, cell := range row {
			if c >= len(keys) || cell == "" {
				continue
			}
			name, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, err
			}
			typ, err := f.GetCellType(sheet, name)
			if err != nil {
				return nil, err
			}
			record[keys[c]] = cellValue(typ, cell)
		}
		if len(record) > 0 {
			records = append(records, record)
		}
	}

	return json.MarshalIndent(records, "", "  ")
}

func headerKeys(header []string) []string {
	keys := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.TrimSpace(h)
		if key == "" {
			key = "__EMPTY"
		}
		if n := seen[key]; n > 0 {
			seen[key] = n + 1
			key = fmt.Sprintf("%s_%d", key, n)
		} else {
			seen[key] = 1
		}
		keys[i] = key
	}

	return keys
}

func cellValue(typ excelize.CellType, raw string) any {
	switch typ {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true")
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n
		}
	}

	return raw
}
