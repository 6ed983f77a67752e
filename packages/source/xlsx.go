package source

import (
	"fmt"

	"laundromat-importer/packages/domain"

	"github.com/xuri/excelize/v2"
)

func ReadXLSX(path, sheet string) ([]domain.SourceRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}
	// GetRows keeps empty rows in the middle of a sheet, so positions are
	// sheet row numbers minus the header.
	return toRecords(rows[0], rows[1:], nil)
}
