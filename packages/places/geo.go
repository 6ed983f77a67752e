package places

import (
	"fmt"
	"math"
	"strings"
)

const (
	earthRadiusMeters = 6371000.0
	metersPerMile     = 1609.344
	walkMetersPerMin  = 80.0
)

// Haversine returns the great-circle distance in meters.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// DistanceText formats meters as miles, e.g. "0.4 mi".
func DistanceText(meters float64) string {
	return fmt.Sprintf("%.1f mi", meters/metersPerMile)
}

// WalkingTime estimates walking minutes at an average pace.
func WalkingTime(meters float64) string {
	mins := int(math.Ceil(meters / walkMetersPerMin))
	if mins < 1 {
		mins = 1
	}
	return fmt.Sprintf("%d min walk", mins)
}

// PriceTier renders an upstream 0-4 price level as dollar signs.
func PriceTier(level *int) string {
	if level == nil || *level <= 0 {
		return ""
	}
	return strings.Repeat("$", min(*level, 4))
}
