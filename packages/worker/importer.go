package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"laundromat-importer/packages/domain"
	"laundromat-importer/packages/driver"
	"laundromat-importer/packages/transform"
	"laundromat-importer/packages/writer"
)

// Importer feeds spreadsheet rows through the transformer into the writer.
type Importer struct {
	records   []domain.SourceRecord
	writer    *writer.Writer
	inspector Inspector
	newToken  func() string
}

// NewImporter takes the full source file. inspector may be nil to skip
// website inspection.
func NewImporter(records []domain.SourceRecord, w *writer.Writer, inspector Inspector) *Importer {
	sorted := make([]domain.SourceRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Importer{records: sorted, writer: w, inspector: inspector, newToken: transform.NewToken}
}

func (im *Importer) Name() string { return "import" }

func (im *Importer) ID(rec domain.SourceRecord) int64 { return rec.ID }

func (im *Importer) Count(context.Context) (int64, error) {
	return int64(len(im.records)), nil
}

func (im *Importer) Fetch(_ context.Context, afterID int64, limit int) ([]domain.SourceRecord, error) {
	start := sort.Search(len(im.records), func(i int) bool { return im.records[i].ID > afterID })
	end := min(start+limit, len(im.records))
	return im.records[start:end], nil
}

func (im *Importer) Process(ctx context.Context, rec domain.SourceRecord) (driver.Outcome, error) {
	enriched, err := im.enrich(ctx, rec)
	if err != nil {
		return driver.Outcome{}, err
	}
	out, err := im.writer.Write(ctx, enriched)
	if err != nil {
		return driver.Outcome{}, fmt.Errorf("failed to write %q: %w", rec.Name, err)
	}
	if out == writer.Skipped {
		slog.Info("Duplicate listing skipped", "record_id", rec.ID, "name", rec.Name, "city", rec.City)
	}
	return driver.Outcome{Skipped: out == writer.Skipped, Group: strings.ToUpper(strings.TrimSpace(rec.State))}, nil
}

// ProcessBatch writes a chunk in one transaction.
func (im *Importer) ProcessBatch(ctx context.Context, recs []domain.SourceRecord) ([]driver.Outcome, error) {
	enriched := make([]domain.EnrichedRecord, 0, len(recs))
	for _, rec := range recs {
		e, err := im.enrich(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.ID, err)
		}
		enriched = append(enriched, e)
	}

	outs, err := im.writer.WriteGroup(ctx, enriched)
	if err != nil {
		return nil, err
	}
	outcomes := make([]driver.Outcome, len(outs))
	for i, out := range outs {
		outcomes[i] = driver.Outcome{
			Skipped: out == writer.Skipped,
			Group:   strings.ToUpper(strings.TrimSpace(recs[i].State)),
		}
	}
	return outcomes, nil
}

func (im *Importer) enrich(ctx context.Context, rec domain.SourceRecord) (domain.EnrichedRecord, error) {
	if strings.TrimSpace(rec.Name) == "" {
		return domain.EnrichedRecord{}, fmt.Errorf("row %d has no name", rec.ID)
	}

	var site *domain.WebsiteInfo
	if im.inspector != nil && strings.TrimSpace(rec.Website) != "" {
		info, err := im.inspector.Inspect(ctx, rec.Website)
		if err != nil {
			slog.Warn("Website inspection failed, continuing without it", "record_id", rec.ID, "website", rec.Website, "error", err)
		} else {
			site = info
		}
	}
	return transform.Enrich(rec, im.newToken(), site), nil
}
