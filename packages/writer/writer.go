// Package writer persists enriched listings idempotently and keeps the
// per-city and per-state counters in step.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"laundromat-importer/packages/domain"
	"laundromat-importer/packages/transform"
)

const maxSlugAttempts = 3

var (
	ErrMissingField  = errors.New("record is missing a required field")
	ErrSlugExhausted = errors.New("could not find a free slug")
)

type Outcome int

const (
	Inserted Outcome = iota
	Skipped
)

func (o Outcome) String() string {
	if o == Skipped {
		return "skipped"
	}
	return "inserted"
}

// Row is what InsertLaundromat stores.
type Row struct {
	Record     domain.EnrichedRecord
	NaturalKey string
	StateID    int64
	CityID     int64
}

// Tx is the narrow repository surface the writer needs inside one
// transaction.
type Tx interface {
	EnsureState(ctx context.Context, code string) (int64, error)
	EnsureCity(ctx context.Context, stateID int64, name string) (int64, error)
	FindByNaturalKey(ctx context.Context, key string) (id int64, found bool, err error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	// InsertLaundromat reports inserted=false when a concurrent writer
	// already stored the same natural key.
	InsertLaundromat(ctx context.Context, row Row) (id int64, inserted bool, err error)
	IncrementCounters(ctx context.Context, stateID, cityID int64) error
}

// Store runs fn in a transaction: committed when fn returns nil, rolled
// back otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Reconciler recomputes denormalized counters from the rows themselves.
type Reconciler interface {
	RecomputeCounters(ctx context.Context) error
}

type Writer struct {
	store    Store
	newToken func() string
}

func New(store Store) *Writer {
	return &Writer{store: store, newToken: transform.NewToken}
}

// WithTokens replaces the slug token source used on collisions.
func (w *Writer) WithTokens(fn func() string) *Writer {
	w.newToken = fn
	return w
}

// Write stores one record in its own transaction.
func (w *Writer) Write(ctx context.Context, rec domain.EnrichedRecord) (Outcome, error) {
	var out Outcome
	err := w.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = w.write(ctx, tx, rec)
		return err
	})
	if err != nil {
		return Inserted, err
	}
	return out, nil
}

// WriteGroup stores every record in one transaction. Any failure rolls the
// whole group back.
func (w *Writer) WriteGroup(ctx context.Context, recs []domain.EnrichedRecord) ([]Outcome, error) {
	var outs []Outcome
	err := w.store.InTx(ctx, func(tx Tx) error {
		outs = make([]Outcome, 0, len(recs))
		for _, rec := range recs {
			out, err := w.write(ctx, tx, rec)
			if err != nil {
				return fmt.Errorf("record %d: %w", rec.Source.ID, err)
			}
			outs = append(outs, out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outs, nil
}

func (w *Writer) write(ctx context.Context, tx Tx, rec domain.EnrichedRecord) (Outcome, error) {
	src := rec.Source
	name := strings.TrimSpace(src.Name)
	city := strings.TrimSpace(src.City)
	state := strings.ToUpper(strings.TrimSpace(src.State))
	switch {
	case name == "":
		return Inserted, fmt.Errorf("%w: name", ErrMissingField)
	case city == "":
		return Inserted, fmt.Errorf("%w: city", ErrMissingField)
	case state == "":
		return Inserted, fmt.Errorf("%w: state", ErrMissingField)
	}

	key := src.NaturalKey().String()
	if id, found, err := tx.FindByNaturalKey(ctx, key); err != nil {
		return Inserted, fmt.Errorf("failed to look up natural key: %w", err)
	} else if found {
		slog.Debug("Listing already stored, skipping", "record_id", src.ID, "laundromat_id", id)
		return Skipped, nil
	}

	stateID, err := tx.EnsureState(ctx, state)
	if err != nil {
		return Inserted, fmt.Errorf("failed to ensure state %s: %w", state, err)
	}
	cityID, err := tx.EnsureCity(ctx, stateID, city)
	if err != nil {
		return Inserted, fmt.Errorf("failed to ensure city %s: %w", city, err)
	}

	if rec.Slug, err = w.freeSlug(ctx, tx, rec); err != nil {
		return Inserted, err
	}

	_, inserted, err := tx.InsertLaundromat(ctx, Row{Record: rec, NaturalKey: key, StateID: stateID, CityID: cityID})
	if err != nil {
		return Inserted, fmt.Errorf("failed to insert laundromat: %w", err)
	}
	if !inserted {
		return Skipped, nil
	}

	if err := tx.IncrementCounters(ctx, stateID, cityID); err != nil {
		return Inserted, fmt.Errorf("failed to increment counters: %w", err)
	}
	return Inserted, nil
}

// freeSlug keeps rec.Slug when it is unused, otherwise retries with fresh
// tokens.
func (w *Writer) freeSlug(ctx context.Context, tx Tx, rec domain.EnrichedRecord) (string, error) {
	slug := rec.Slug
	if slug == "" {
		slug = transform.Slug(rec.Source.Name, rec.Source.City, rec.Source.State, w.newToken())
	}
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		taken, err := tx.SlugExists(ctx, slug)
		if err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if !taken {
			return slug, nil
		}
		slog.Debug("Slug collision, regenerating", "slug", slug, "attempt", attempt+1)
		slug = transform.Slug(rec.Source.Name, rec.Source.City, rec.Source.State, w.newToken())
	}
	return "", fmt.Errorf("%w after %d attempts", ErrSlugExhausted, maxSlugAttempts)
}
