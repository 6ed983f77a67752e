// Package places is a client for a Google-Places-shaped HTTP API: text
// search for nearby places and reverse geocoding. HTTP failures never cross
// the package boundary as Go errors; every call returns a Result whose
// Status tells the caller what to do next.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"laundromat-importer/packages/domain"
	"laundromat-importer/packages/metrics"
	"laundromat-importer/packages/transform"

	"golang.org/x/time/rate"
)

type Status int

const (
	StatusOK Status = iota
	StatusEmpty
	StatusRateLimited
	StatusUpstreamError
	StatusNetworkError
	StatusInvalidInput
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusRateLimited:
		return "rate_limited"
	case StatusUpstreamError:
		return "upstream_error"
	case StatusNetworkError:
		return "network_error"
	case StatusInvalidInput:
		return "invalid_input"
	}
	return "unknown"
}

type Result struct {
	Status Status
	Places []domain.NearbyPlace
	// Approximate is set when the query was built from coordinates alone.
	Approximate bool
	// HTTPStatus and UpstreamStatus describe an UpstreamError.
	HTTPStatus     int
	UpstreamStatus string
	Err            error
}

// Cache stores lookup results between runs. Implementations must be safe
// for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RPS        float64
	Burst      int
	MaxResults int
	Radius     int
	MaxRadius  int
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cache   Cache
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Radius <= 0 {
		cfg.Radius = 1500
	}
	if cfg.MaxRadius < cfg.Radius {
		cfg.MaxRadius = cfg.Radius
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
}

// WithCache makes the client consult c before every search.
func (c *Client) WithCache(cache Cache) *Client {
	c.cache = cache
	return c
}

type categoryQuery struct {
	term      string
	fallbacks []string
}

var categoryQueries = map[domain.PlaceCategory]categoryQuery{
	domain.CategoryFood:       {"restaurants", []string{"cafe", "bakery"}},
	domain.CategoryActivities: {"parks", []string{"gym", "movie theater"}},
	domain.CategoryShopping:   {"grocery store", []string{"convenience store", "pharmacy"}},
	domain.CategoryTransit:    {"bus stop", []string{"transit station", "train station"}},
	domain.CategoryCommunity:  {"community center", []string{"library", "post office"}},
}

// Search looks up places of one category near loc. When the first query is
// empty and coordinates are known the radius doubles up to MaxRadius; after
// that each fallback term is tried. Results keep upstream order and are cut
// to MaxResults.
func (c *Client) Search(ctx context.Context, loc Location, cat domain.PlaceCategory) Result {
	if err := loc.Validate(); err != nil {
		return Result{Status: StatusInvalidInput, Err: err}
	}
	q, ok := categoryQueries[cat]
	if !ok {
		return Result{Status: StatusInvalidInput, Err: fmt.Errorf("unknown category %q", cat)}
	}
	approximate := loc.CoordsOnly()
	if approximate {
		slog.Debug("Searching by coordinates only, results are approximate", "category", cat, "location", loc.Describe())
	}

	cacheKey := fmt.Sprintf("places:search:%s:%s", cat, loc.cacheKey())
	if c.cache != nil {
		var cached []domain.NearbyPlace
		hit, err := c.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			slog.Warn("Places cache read failed", "key", cacheKey, "error", err)
		} else if hit {
			status := StatusOK
			if len(cached) == 0 {
				status = StatusEmpty
			}
			return Result{Status: status, Places: cached, Approximate: approximate}
		}
	}

	res := Result{Status: StatusEmpty}
	for _, term := range append([]string{q.term}, q.fallbacks...) {
		res = c.searchTerm(ctx, loc, term)
		if res.Status != StatusEmpty {
			break
		}
	}
	res.Approximate = approximate

	switch res.Status {
	case StatusOK, StatusEmpty:
		if res.Places == nil {
			res.Places = []domain.NearbyPlace{}
		}
		if c.cache != nil {
			if err := c.cache.Set(ctx, cacheKey, res.Places); err != nil {
				slog.Warn("Places cache write failed", "key", cacheKey, "error", err)
			}
		}
	}
	return res
}

func (c *Client) searchTerm(ctx context.Context, loc Location, term string) Result {
	radius := c.cfg.Radius
	for {
		params := url.Values{}
		if loc.CoordsOnly() {
			params.Set("query", term)
		} else {
			params.Set("query", term+" near "+loc.Describe())
		}
		if loc.HasCoords {
			params.Set("location", loc.coords())
			params.Set("radius", fmt.Sprint(radius))
		}

		var body textSearchResponse
		res := c.get(ctx, "textsearch", "/place/textsearch/json", params, &body)
		if res.Status == StatusOK {
			if res.Places = c.shape(loc, body.Results); len(res.Places) > 0 {
				return res
			}
			res.Status = StatusEmpty
		}
		if res.Status != StatusEmpty || !loc.HasCoords || radius >= c.cfg.MaxRadius {
			return res
		}
		radius = min(radius*2, c.cfg.MaxRadius)
		slog.Debug("No results, widening search radius", "query", term, "radius", radius)
	}
}

type textSearchResponse struct {
	Results []placeResult `json:"results"`
}

type placeResult struct {
	Name             string   `json:"name"`
	FormattedAddress string   `json:"formatted_address"`
	Vicinity         string   `json:"vicinity"`
	Rating           float64  `json:"rating"`
	PriceLevel       *int     `json:"price_level"`
	Types            []string `json:"types"`
	Geometry         struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

func (c *Client) shape(loc Location, results []placeResult) []domain.NearbyPlace {
	n := min(len(results), c.cfg.MaxResults)
	out := make([]domain.NearbyPlace, 0, n)
	for _, r := range results[:n] {
		p := domain.NearbyPlace{
			Name:      r.Name,
			Category:  transform.Classify(r.Types),
			Address:   r.FormattedAddress,
			Rating:    r.Rating,
			PriceTier: PriceTier(r.PriceLevel),
		}
		if p.Address == "" {
			p.Address = r.Vicinity
		}
		pl := r.Geometry.Location
		if loc.HasCoords && (pl.Lat != 0 || pl.Lng != 0) {
			meters := Haversine(loc.Lat, loc.Lng, pl.Lat, pl.Lng)
			p.DistanceText = DistanceText(meters)
			p.WalkingTime = WalkingTime(meters)
		}
		out = append(out, p)
	}
	return out
}

// get performs one rate-limited request, decodes the JSON body into out and
// classifies the response by HTTP code and the body's "status" field.
func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values, out any) (res Result) {
	defer func() {
		metrics.PlacesRequests.WithLabelValues(endpoint, res.Status.String()).Inc()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return Result{Status: StatusNetworkError, Err: fmt.Errorf("rate limiter wait: %w", err)}
	}

	params.Set("key", c.cfg.APIKey)
	reqURL := strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + params.Encode()
	masked := MaskKey(reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Result{Status: StatusNetworkError, Err: fmt.Errorf("failed to build request for %s: %w", masked, maskErr(err))}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("Places request failed", "url", masked, "error", maskErr(err))
		return Result{Status: StatusNetworkError, Err: maskErr(err)}
	}
	defer resp.Body.Close()
	slog.Debug("Places request", "url", masked, "status_code", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode == http.StatusTooManyRequests {
		return Result{Status: StatusRateLimited, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("upstream returned %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Status: StatusUpstreamError, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("bad status code: %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Status: StatusNetworkError, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", maskErr(err))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return Result{Status: StatusUpstreamError, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	var envelope struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
	}
	_ = json.Unmarshal(data, &envelope)
	return classify(resp.StatusCode, envelope.Status, envelope.ErrorMessage)
}

func classify(httpStatus int, upstream, message string) Result {
	res := Result{HTTPStatus: httpStatus, UpstreamStatus: upstream}
	switch upstream {
	case "OK":
		res.Status = StatusOK
	case "ZERO_RESULTS":
		res.Status = StatusEmpty
	case "OVER_QUERY_LIMIT":
		res.Status = StatusRateLimited
		res.Err = fmt.Errorf("upstream status %s: %s", upstream, message)
	default:
		res.Status = StatusUpstreamError
		res.Err = fmt.Errorf("upstream status %q: %s", upstream, message)
	}
	return res
}

var keyParam = regexp.MustCompile(`([?&]key=)[^&#]*`)

// MaskKey hides the API key in a request URL so it can be logged.
func MaskKey(rawURL string) string {
	return keyParam.ReplaceAllString(rawURL, "${1}REDACTED")
}

// maskErr strips the API key from errors that embed the request URL.
func maskErr(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		masked := *uerr
		masked.URL = MaskKey(uerr.URL)
		return &masked
	}
	return err
}
