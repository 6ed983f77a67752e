// Package db
package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"laundromat-importer/packages/domain"
	"laundromat-importer/packages/metrics"
	"laundromat-importer/packages/transform"
	"laundromat-importer/packages/writer"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

type Storage struct {
	DB *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string, maxConns int32) (*Storage, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	return &Storage{DB: db}, nil
}

func (s *Storage) Close() {
	s.DB.Close()
}

// EnsureSchema creates the tables and indexes when they do not exist.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	defer observe("ensure_schema")()
	if _, err := s.DB.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	slog.Info("Database schema ensured")
	return nil
}

func (s *Storage) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}

// InTx adapts WithTransaction to the writer's repository interface.
func (s *Storage) InTx(ctx context.Context, fn func(tx writer.Tx) error) error {
	return s.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&repoTx{tx: tx})
	})
}

func observe(queryName string) func() {
	start := time.Now()
	return func() {
		metrics.DBQueryDuration.WithLabelValues(queryName).Observe(time.Since(start).Seconds())
	}
}

type repoTx struct {
	tx pgx.Tx
}

func (r *repoTx) EnsureState(ctx context.Context, code string) (int64, error) {
	defer observe("ensure_state")()
	code = strings.ToUpper(strings.TrimSpace(code))
	var id int64
	err := r.tx.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO states (code, slug) VALUES ($1, $2)
			ON CONFLICT (code) DO NOTHING
			RETURNING id
		)
		SELECT id FROM ins
		UNION ALL
		SELECT id FROM states WHERE code = $1
		LIMIT 1`, code, strings.ToLower(code)).Scan(&id)
	return id, err
}

func (r *repoTx) EnsureCity(ctx context.Context, stateID int64, name string) (int64, error) {
	defer observe("ensure_city")()
	var id int64
	err := r.tx.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO cities (state_id, name, slug) VALUES ($1, $2, $3)
			ON CONFLICT (state_id, slug) DO NOTHING
			RETURNING id
		)
		SELECT id FROM ins
		UNION ALL
		SELECT id FROM cities WHERE state_id = $1 AND slug = $3
		LIMIT 1`, stateID, strings.TrimSpace(name), transform.Slugify(name)).Scan(&id)
	return id, err
}

func (r *repoTx) FindByNaturalKey(ctx context.Context, key string) (int64, bool, error) {
	defer observe("find_by_natural_key")()
	var id int64
	err := r.tx.QueryRow(ctx, `SELECT id FROM laundromats WHERE natural_key = $1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *repoTx) SlugExists(ctx context.Context, slug string) (bool, error) {
	defer observe("slug_exists")()
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM laundromats WHERE slug = $1)`, slug).Scan(&exists)
	return exists, err
}

func (r *repoTx) InsertLaundromat(ctx context.Context, row writer.Row) (int64, bool, error) {
	defer observe("insert_laundromat")()
	rec := row.Record
	src := rec.Source

	var lat, lng *float64
	if src.HasCoords {
		lat, lng = &src.Latitude, &src.Longitude
	}

	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO laundromats (
			natural_key, slug, source_row, name, address, city_id, state_id, city, state, zip,
			latitude, longitude, phone, website, rating, review_count, hours, is_24_hours,
			services, amenities, seo_title, seo_description, seo_tags, premium_score, website_language
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25
		)
		ON CONFLICT (natural_key) DO NOTHING
		RETURNING id`,
		row.NaturalKey, rec.Slug, src.ID, strings.TrimSpace(src.Name), src.Address, row.CityID, row.StateID,
		strings.TrimSpace(src.City), strings.ToUpper(strings.TrimSpace(src.State)), src.Zip,
		lat, lng, src.Phone, src.Website, src.Rating, src.ReviewCount, src.Hours, rec.Is24Hours,
		nonNil(rec.Services), nonNil(rec.Amenities), rec.SEOTitle, rec.SEODescription, nonNil(rec.SEOTags),
		rec.PremiumScore, rec.WebsiteLanguage,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *repoTx) IncrementCounters(ctx context.Context, stateID, cityID int64) error {
	defer observe("increment_counters")()
	if _, err := r.tx.Exec(ctx, `UPDATE cities SET laundromat_count = laundromat_count + 1 WHERE id = $1`, cityID); err != nil {
		return fmt.Errorf("city counter: %w", err)
	}
	if _, err := r.tx.Exec(ctx, `UPDATE states SET laundromat_count = laundromat_count + 1 WHERE id = $1`, stateID); err != nil {
		return fmt.Errorf("state counter: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// RecomputeCounters rewrites every city and state counter from COUNT(*)
// over the laundromats table.
func (s *Storage) RecomputeCounters(ctx context.Context) error {
	defer observe("recompute_counters")()
	return s.WithTransaction(ctx, func(tx pgx.Tx) error {
		cities, err := tx.Exec(ctx, `
			UPDATE cities c SET laundromat_count = x.n
			FROM (
				SELECT c2.id, COUNT(l.id) AS n
				FROM cities c2 LEFT JOIN laundromats l ON l.city_id = c2.id
				GROUP BY c2.id
			) x
			WHERE x.id = c.id AND c.laundromat_count <> x.n`)
		if err != nil {
			return fmt.Errorf("failed to recompute city counters: %w", err)
		}
		states, err := tx.Exec(ctx, `
			UPDATE states s SET laundromat_count = x.n
			FROM (
				SELECT s2.id, COUNT(l.id) AS n
				FROM states s2 LEFT JOIN laundromats l ON l.state_id = s2.id
				GROUP BY s2.id
			) x
			WHERE x.id = s.id AND s.laundromat_count <> x.n`)
		if err != nil {
			return fmt.Errorf("failed to recompute state counters: %w", err)
		}
		if cities.RowsAffected() > 0 || states.RowsAffected() > 0 {
			slog.Warn("Reconciler: corrected drifted counters",
				"cities_fixed", cities.RowsAffected(), "states_fixed", states.RowsAffected())
		}
		return nil
	})
}

// RefreshGauges updates the table-level Prometheus gauges.
func (s *Storage) RefreshGauges(ctx context.Context) error {
	defer observe("refresh_gauges")()
	var total, pending int64
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE nearby_places IS NULL)
		FROM laundromats`).Scan(&total, &pending)
	if err != nil {
		return fmt.Errorf("failed to count laundromats: %w", err)
	}
	metrics.TotalLaundromats.Set(float64(total))
	metrics.PendingNearby.Set(float64(pending))
	return nil
}

const listingColumns = `id, name, address, city, state, zip, latitude, longitude`

func (s *Storage) fetchListings(ctx context.Context, queryName, where string, afterID int64, limit int) ([]domain.Listing, error) {
	defer observe(queryName)()
	rows, err := s.DB.Query(ctx,
		`SELECT `+listingColumns+` FROM laundromats WHERE `+where+` AND id > $1 ORDER BY id LIMIT $2`,
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}

	var (
		listings []domain.Listing
		l        domain.Listing
		lat, lng *float64
	)
	_, err = pgx.ForEachRow(rows, []any{&l.ID, &l.Name, &l.Address, &l.City, &l.State, &l.Zip, &lat, &lng}, func() error {
		item := l
		if lat != nil && lng != nil {
			item.Latitude, item.Longitude, item.HasCoords = *lat, *lng, true
		}
		listings = append(listings, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate listings: %w", err)
	}
	return listings, nil
}

func (s *Storage) count(ctx context.Context, queryName, where string) (int64, error) {
	defer observe(queryName)()
	var n int64
	err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM laundromats WHERE `+where).Scan(&n)
	return n, err
}

const (
	wherePendingNearby  = `nearby_places IS NULL`
	whereMissingAddress = `address = '' AND latitude IS NOT NULL AND longitude IS NOT NULL`
)

func (s *Storage) FetchPendingNearby(ctx context.Context, afterID int64, limit int) ([]domain.Listing, error) {
	return s.fetchListings(ctx, "fetch_pending_nearby", wherePendingNearby, afterID, limit)
}

func (s *Storage) CountPendingNearby(ctx context.Context) (int64, error) {
	return s.count(ctx, "count_pending_nearby", wherePendingNearby)
}

func (s *Storage) SaveNearbyPlaces(ctx context.Context, id int64, places domain.NearbyPlaces) error {
	defer observe("save_nearby_places")()
	if places.UpdatedAt.IsZero() {
		places.UpdatedAt = time.Now().UTC()
	}
	tag, err := s.DB.Exec(ctx, `
		UPDATE laundromats
		SET nearby_places = $2, nearby_updated_at = $3, updated_at = now()
		WHERE id = $1`, id, places, places.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save nearby places for %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("laundromat %d not found", id)
	}
	return nil
}

func (s *Storage) FetchMissingAddress(ctx context.Context, afterID int64, limit int) ([]domain.Listing, error) {
	return s.fetchListings(ctx, "fetch_missing_address", whereMissingAddress, afterID, limit)
}

func (s *Storage) CountMissingAddress(ctx context.Context) (int64, error) {
	return s.count(ctx, "count_missing_address", whereMissingAddress)
}

// UpdateAddress sets the street address; zip is only filled when empty.
func (s *Storage) UpdateAddress(ctx context.Context, id int64, addr domain.Address) error {
	defer observe("update_address")()
	_, err := s.DB.Exec(ctx, `
		UPDATE laundromats
		SET address = $2,
		    zip = CASE WHEN zip = '' THEN $3 ELSE zip END,
		    updated_at = now()
		WHERE id = $1`, id, addr.Street, addr.PostalCode)
	if err != nil {
		return fmt.Errorf("failed to update address for %d: %w", id, err)
	}
	return nil
}
