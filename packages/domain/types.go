// Package domain
package domain

import (
	"strings"
	"time"
)

// SourceRecord is one raw row read from a spreadsheet export.
// ID is the 1-based data row number and defines processing order.
type SourceRecord struct {
	ID          int64
	Name        string
	Address     string
	City        string
	State       string
	Zip         string
	Latitude    float64
	Longitude   float64
	HasCoords   bool
	Phone       string
	Website     string
	Rating      float64
	ReviewCount int
	Hours       string
	Services    string
}

// NaturalKey returns the dedup key for the record.
func (r SourceRecord) NaturalKey() NaturalKey {
	return NaturalKey{Name: r.Name, Address: r.Address, City: r.City, State: r.State}
}

type NaturalKey struct {
	Name, Address, City, State string
}

// String normalizes the key: lower case, single spaces, pipe separated.
func (k NaturalKey) String() string {
	parts := []string{k.Name, k.Address, k.City, k.State}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.Join(strings.Fields(p), " "))
	}
	return strings.Join(parts, "|")
}

type WebsiteInfo struct {
	FinalURL    string
	Title       string
	Description string
	TextContent string
	Language    string // ISO 639-3, e.g. "eng"
}

// EnrichedRecord is a SourceRecord plus derived fields. Written once.
type EnrichedRecord struct {
	Source          SourceRecord
	Slug            string
	SEOTitle        string
	SEODescription  string
	SEOTags         []string
	PremiumScore    int
	Is24Hours       bool
	Services        []string
	Amenities       []string
	WebsiteLanguage string
}

type PlaceCategory string

const (
	CategoryFood       PlaceCategory = "food"
	CategoryActivities PlaceCategory = "activities"
	CategoryShopping   PlaceCategory = "shopping"
	CategoryTransit    PlaceCategory = "transit"
	CategoryCommunity  PlaceCategory = "community"
)

// AllCategories is the lookup order used by the nearby enrichment.
var AllCategories = []PlaceCategory{CategoryFood, CategoryActivities, CategoryShopping, CategoryTransit, CategoryCommunity}

type NearbyPlace struct {
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Address      string  `json:"address,omitempty"`
	DistanceText string  `json:"distance,omitempty"`
	WalkingTime  string  `json:"walkingTime,omitempty"`
	Rating       float64 `json:"rating,omitempty"`
	PriceTier    string  `json:"priceTier,omitempty"`
}

// NearbyPlaces is stored in the laundromats.nearby_places JSON column.
// All category slices are non-nil so an empty lookup still serializes as [].
type NearbyPlaces struct {
	Food        []NearbyPlace `json:"food"`
	Activities  []NearbyPlace `json:"activities"`
	Shopping    []NearbyPlace `json:"shopping"`
	Transit     []NearbyPlace `json:"transit"`
	Community   []NearbyPlace `json:"community"`
	Approximate bool          `json:"approximate,omitempty"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func NewNearbyPlaces() NearbyPlaces {
	return NearbyPlaces{
		Food:       []NearbyPlace{},
		Activities: []NearbyPlace{},
		Shopping:   []NearbyPlace{},
		Transit:    []NearbyPlace{},
		Community:  []NearbyPlace{},
	}
}

// Set stores places under the given category.
func (n *NearbyPlaces) Set(cat PlaceCategory, places []NearbyPlace) {
	if places == nil {
		places = []NearbyPlace{}
	}
	switch cat {
	case CategoryFood:
		n.Food = places
	case CategoryActivities:
		n.Activities = places
	case CategoryShopping:
		n.Shopping = places
	case CategoryTransit:
		n.Transit = places
	case CategoryCommunity:
		n.Community = places
	}
}

func (n NearbyPlaces) Total() int {
	return len(n.Food) + len(n.Activities) + len(n.Shopping) + len(n.Transit) + len(n.Community)
}

// Listing is a persisted laundromat row as read back by enrichment jobs.
type Listing struct {
	ID        int64
	Name      string
	Address   string
	City      string
	State     string
	Zip       string
	Latitude  float64
	Longitude float64
	HasCoords bool
}

// Address is a structured reverse-geocoding result.
type Address struct {
	Street     string
	City       string
	State      string
	PostalCode string
	Formatted  string
}
