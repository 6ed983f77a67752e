package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"laundromat-importer/packages/domain"
	"laundromat-importer/packages/driver"
	"laundromat-importer/packages/places"

	"golang.org/x/sync/errgroup"
)

// NearbyEnricher attaches categorized nearby places to stored listings.
type NearbyEnricher struct {
	store       NearbyStore
	places      PlacesSearcher
	concurrency int
	categories  []domain.PlaceCategory
	now         func() time.Time
}

func NewNearbyEnricher(store NearbyStore, searcher PlacesSearcher, concurrency int) *NearbyEnricher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &NearbyEnricher{
		store:       store,
		places:      searcher,
		concurrency: concurrency,
		categories:  domain.AllCategories,
		now:         time.Now,
	}
}

func (n *NearbyEnricher) Name() string { return "nearby" }

func (n *NearbyEnricher) ID(l domain.Listing) int64 { return l.ID }

func (n *NearbyEnricher) Count(ctx context.Context) (int64, error) {
	return n.store.CountPendingNearby(ctx)
}

func (n *NearbyEnricher) Fetch(ctx context.Context, afterID int64, limit int) ([]domain.Listing, error) {
	return n.store.FetchPendingNearby(ctx, afterID, limit)
}

// Process fires one lookup per category, at most concurrency at a time.
// A rate-limited category fails the whole record so the driver backs off
// and retries it. Upstream and network failures degrade that category to
// empty; only when every category hit a network error is the record
// treated as transient.
func (n *NearbyEnricher) Process(ctx context.Context, l domain.Listing) (driver.Outcome, error) {
	loc := location(l)
	if err := loc.Validate(); err != nil {
		return driver.Outcome{}, fmt.Errorf("listing %d: %w", l.ID, err)
	}

	results := make([]places.Result, len(n.categories))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)
	for i, cat := range n.categories {
		i, cat := i, cat
		g.Go(func() error {
			results[i] = n.places.Search(gCtx, loc, cat)
			return nil
		})
	}
	_ = g.Wait()

	nearby := domain.NewNearbyPlaces()
	var rateLimited, networkErrs []error
	for i, res := range results {
		cat := n.categories[i]
		switch res.Status {
		case places.StatusOK:
			nearby.Set(cat, res.Places)
		case places.StatusEmpty:
		case places.StatusRateLimited:
			rateLimited = append(rateLimited, res.Err)
		case places.StatusNetworkError:
			slog.Warn("Nearby lookup network error, treating category as empty",
				"laundromat_id", l.ID, "category", cat, "error", res.Err)
			networkErrs = append(networkErrs, res.Err)
		default:
			slog.Warn("Nearby lookup failed, treating category as empty",
				"laundromat_id", l.ID, "category", cat, "status", res.Status.String(),
				"http_status", res.HTTPStatus, "upstream_status", res.UpstreamStatus, "error", res.Err)
		}
		if res.Approximate {
			nearby.Approximate = true
		}
	}

	if len(rateLimited) > 0 {
		return driver.Outcome{}, fmt.Errorf("%d of %d lookups rate limited: %w: %w",
			len(rateLimited), len(results), driver.ErrRateLimited, errors.Join(rateLimited...))
	}
	if len(networkErrs) == len(results) {
		return driver.Outcome{}, fmt.Errorf("all lookups failed: %w: %w", driver.ErrTransient, errors.Join(networkErrs...))
	}

	if nearby.Approximate {
		slog.Info("Nearby places located from coordinates only, results are approximate", "laundromat_id", l.ID)
	}
	nearby.UpdatedAt = n.now().UTC()
	if err := n.store.SaveNearbyPlaces(ctx, l.ID, nearby); err != nil {
		return driver.Outcome{}, err
	}
	slog.Info("Nearby places saved", "laundromat_id", l.ID, "name", l.Name, "places", nearby.Total())
	return driver.Outcome{Group: strings.ToUpper(l.State)}, nil
}
