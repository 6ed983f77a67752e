package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"laundromat-importer/packages/domain"
)

func ReadCSV(path string) ([]domain.SourceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) ([]domain.SourceRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("source file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	headerLine, _ := cr.FieldPos(0)

	// encoding/csv skips empty lines, so IDs come from line numbers
	// relative to the header rather than from the record count.
	var (
		rows [][]string
		ids  []int64
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(rows)+1, err)
		}
		line, _ := cr.FieldPos(0)
		rows = append(rows, row)
		ids = append(ids, int64(line-headerLine))
	}
	return toRecords(header, rows, ids)
}
