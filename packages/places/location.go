package places

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidLocation = errors.New("location needs an address, a city and state, or coordinates")

// Location is the best-known position of a listing.
type Location struct {
	Address   string
	City      string
	State     string
	Zip       string
	Lat       float64
	Lng       float64
	HasCoords bool
}

func (l Location) hasAddress() bool {
	return strings.TrimSpace(l.Address) != "" && strings.TrimSpace(l.City) != ""
}

func (l Location) hasCityState() bool {
	return strings.TrimSpace(l.City) != "" && strings.TrimSpace(l.State) != ""
}

func (l Location) Validate() error {
	if l.hasAddress() || l.hasCityState() || l.HasCoords {
		return nil
	}
	return ErrInvalidLocation
}

// CoordsOnly reports whether coordinates are the only usable input, which
// makes text-query results less precise.
func (l Location) CoordsOnly() bool {
	return l.HasCoords && !l.hasAddress() && !l.hasCityState()
}

// Describe renders the most specific text form of the location.
func (l Location) Describe() string {
	switch {
	case l.hasAddress():
		return strings.TrimSpace(joinNonEmpty(", ", l.Address, l.City, strings.TrimSpace(l.State+" "+l.Zip)))
	case l.hasCityState():
		return l.City + ", " + l.State
	case l.HasCoords:
		return l.coords()
	}
	return ""
}

func (l Location) coords() string {
	return fmt.Sprintf("%.6f,%.6f", l.Lat, l.Lng)
}

// cacheKey identifies a lookup for the result cache. Coordinates are rounded
// to roughly 10 m.
func (l Location) cacheKey() string {
	key := strings.ToLower(strings.Join(strings.Fields(l.Describe()), " "))
	if l.HasCoords {
		key += fmt.Sprintf("@%.4f,%.4f", l.Lat, l.Lng)
	}
	return key
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
