// Package worker binds the batch driver to the import and enrichment
// pipelines.
package worker

import (
	"context"

	"laundromat-importer/packages/config"
	"laundromat-importer/packages/domain"
	"laundromat-importer/packages/driver"
	"laundromat-importer/packages/places"
)

// DriverConfig maps environment configuration onto driver settings.
func DriverConfig(cfg config.Config) driver.Config {
	return driver.Config{
		BatchSize:    cfg.BatchSize,
		PerRunLimit:  cfg.PerRunLimit,
		ItemDelay:    cfg.ItemDelay,
		BatchDelay:   cfg.BatchDelay,
		Jitter:       cfg.DelayJitter,
		MaxCycles:    cfg.MaxCycles,
		LoopInterval: cfg.LoopInterval,
		MaxRetries:   cfg.MaxRetries,
		BackoffBase:  cfg.BackoffBase,
		BackoffMax:   cfg.BackoffMax,
	}
}

type Inspector interface {
	Inspect(ctx context.Context, rawURL string) (*domain.WebsiteInfo, error)
}

type PlacesSearcher interface {
	Search(ctx context.Context, loc places.Location, cat domain.PlaceCategory) places.Result
}

type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (domain.Address, places.Result)
}

type NearbyStore interface {
	FetchPendingNearby(ctx context.Context, afterID int64, limit int) ([]domain.Listing, error)
	CountPendingNearby(ctx context.Context) (int64, error)
	SaveNearbyPlaces(ctx context.Context, id int64, places domain.NearbyPlaces) error
}

type AddressStore interface {
	FetchMissingAddress(ctx context.Context, afterID int64, limit int) ([]domain.Listing, error)
	CountMissingAddress(ctx context.Context) (int64, error)
	UpdateAddress(ctx context.Context, id int64, addr domain.Address) error
}

func location(l domain.Listing) places.Location {
	return places.Location{
		Address:   l.Address,
		City:      l.City,
		State:     l.State,
		Zip:       l.Zip,
		Lat:       l.Latitude,
		Lng:       l.Longitude,
		HasCoords: l.HasCoords,
	}
}
