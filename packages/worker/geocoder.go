package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"laundromat-importer/packages/domain"
	"laundromat-importer/packages/driver"
	"laundromat-importer/packages/places"
)

// Geocoder fills street addresses of listings that only have coordinates.
type Geocoder struct {
	store   AddressStore
	geocode ReverseGeocoder
}

func NewGeocoder(store AddressStore, geocoder ReverseGeocoder) *Geocoder {
	return &Geocoder{store: store, geocode: geocoder}
}

func (g *Geocoder) Name() string { return "geocode" }

func (g *Geocoder) ID(l domain.Listing) int64 { return l.ID }

func (g *Geocoder) Count(ctx context.Context) (int64, error) {
	return g.store.CountMissingAddress(ctx)
}

func (g *Geocoder) Fetch(ctx context.Context, afterID int64, limit int) ([]domain.Listing, error) {
	return g.store.FetchMissingAddress(ctx, afterID, limit)
}

func (g *Geocoder) Process(ctx context.Context, l domain.Listing) (driver.Outcome, error) {
	addr, res := g.geocode.ReverseGeocode(ctx, l.Latitude, l.Longitude)
	switch res.Status {
	case places.StatusOK:
	case places.StatusEmpty:
		slog.Info("No address found for coordinates", "laundromat_id", l.ID, "lat", l.Latitude, "lng", l.Longitude)
		return driver.Outcome{Skipped: true}, nil
	case places.StatusRateLimited:
		return driver.Outcome{}, fmt.Errorf("reverse geocode: %w: %w", driver.ErrRateLimited, res.Err)
	case places.StatusNetworkError:
		return driver.Outcome{}, fmt.Errorf("reverse geocode: %w: %w", driver.ErrTransient, res.Err)
	default:
		return driver.Outcome{}, fmt.Errorf("reverse geocode returned %s: %w", res.Status, res.Err)
	}

	if strings.TrimSpace(addr.Street) == "" {
		slog.Info("Geocoded address has no street, skipping", "laundromat_id", l.ID, "formatted", addr.Formatted)
		return driver.Outcome{Skipped: true}, nil
	}
	if err := g.store.UpdateAddress(ctx, l.ID, addr); err != nil {
		return driver.Outcome{}, err
	}
	slog.Info("Address filled from coordinates", "laundromat_id", l.ID, "street", addr.Street, "zip", addr.PostalCode)
	return driver.Outcome{Group: strings.ToUpper(l.State)}, nil
}
