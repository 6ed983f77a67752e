// Package source reads laundromat rows from spreadsheet exports.
package source

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"laundromat-importer/packages/domain"
)

// Open reads every record of a CSV or XLSX export. sheet selects the XLSX
// worksheet; empty means the first one.
func Open(path, sheet string) ([]domain.SourceRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(path)
	case ".xlsx", ".xlsm":
		return ReadXLSX(path, sheet)
	default:
		return nil, fmt.Errorf("unsupported source file type %q", filepath.Ext(path))
	}
}

type field int

const (
	fieldName field = iota
	fieldAddress
	fieldCity
	fieldState
	fieldZip
	fieldLatitude
	fieldLongitude
	fieldPhone
	fieldWebsite
	fieldRating
	fieldReviews
	fieldHours
	fieldServices
)

var headerAliases = map[string]field{
	"name":           fieldName,
	"business name":  fieldName,
	"title":          fieldName,
	"address":        fieldAddress,
	"street":         fieldAddress,
	"street address": fieldAddress,
	"full address":   fieldAddress,
	"city":           fieldCity,
	"state":          fieldState,
	"us state":       fieldState,
	"region":         fieldState,
	"zip":            fieldZip,
	"zipcode":        fieldZip,
	"zip code":       fieldZip,
	"postal code":    fieldZip,
	"latitude":       fieldLatitude,
	"lat":            fieldLatitude,
	"longitude":      fieldLongitude,
	"lng":            fieldLongitude,
	"lon":            fieldLongitude,
	"phone":          fieldPhone,
	"phone number":   fieldPhone,
	"website":        fieldWebsite,
	"site":           fieldWebsite,
	"url":            fieldWebsite,
	"rating":         fieldRating,
	"reviews":        fieldReviews,
	"review count":   fieldReviews,
	"reviews count":  fieldReviews,
	"hours":          fieldHours,
	"working hours":  fieldHours,
	"opening hours":  fieldHours,
	"services":       fieldServices,
	"amenities":      fieldServices,
	"features":       fieldServices,
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	h = strings.NewReplacer("_", " ", "-", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// columnMap resolves header cells to fields. The first column wins when two
// headers alias the same field.
func columnMap(header []string) (map[field]int, error) {
	cols := make(map[field]int)
	for i, h := range header {
		f, ok := headerAliases[normalizeHeader(h)]
		if !ok {
			continue
		}
		if _, dup := cols[f]; !dup {
			cols[f] = i
		}
	}
	if _, ok := cols[fieldName]; !ok {
		return nil, fmt.Errorf("source has no name column (header: %v)", header)
	}
	return cols, nil
}

// toRecords converts data rows into records. ids[i] is the ID of rows[i];
// when ids is nil the ID is the 1-based position of the row below the
// header. Blank rows are dropped but never renumber the rows after them.
func toRecords(header []string, rows [][]string, ids []int64) ([]domain.SourceRecord, error) {
	cols, err := columnMap(header)
	if err != nil {
		return nil, err
	}

	records := make([]domain.SourceRecord, 0, len(rows))
	for i, row := range rows {
		if isBlank(row) {
			continue
		}
		get := func(f field) string {
			idx, ok := cols[f]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		id := int64(i + 1)
		if ids != nil {
			id = ids[i]
		}
		rec := domain.SourceRecord{
			ID:       id,
			Name:     get(fieldName),
			Address:  get(fieldAddress),
			City:     get(fieldCity),
			State:    get(fieldState),
			Zip:      get(fieldZip),
			Phone:    get(fieldPhone),
			Website:  get(fieldWebsite),
			Hours:    get(fieldHours),
			Services: get(fieldServices),
		}
		lat, latErr := strconv.ParseFloat(get(fieldLatitude), 64)
		lng, lngErr := strconv.ParseFloat(get(fieldLongitude), 64)
		if latErr == nil && lngErr == nil && (lat != 0 || lng != 0) {
			rec.Latitude, rec.Longitude, rec.HasCoords = lat, lng, true
		}
		rec.Rating, _ = strconv.ParseFloat(get(fieldRating), 64)
		rec.ReviewCount = parseCount(get(fieldReviews))
		records = append(records, rec)
	}
	return records, nil
}

func parseCount(s string) int {
	s = strings.ReplaceAll(s, ",", "")
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
