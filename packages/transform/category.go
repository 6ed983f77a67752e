package transform

import "strings"

const (
	LabelFoodDrink  = "Food & Drink"
	LabelTransit    = "Transit"
	LabelShopping   = "Shopping"
	LabelActivities = "Activities"
	LabelCommunity  = "Community"
	LabelFallback   = "Nearby"
)

type categoryRule struct {
	label string
	match func(types map[string]bool) bool
}

func anyOf(tags ...string) func(map[string]bool) bool {
	return func(types map[string]bool) bool {
		for _, t := range tags {
			if types[t] {
				return true
			}
		}
		return false
	}
}

// categoryRules is evaluated top to bottom and the first match wins.
var categoryRules = []categoryRule{
	{LabelFoodDrink, anyOf("restaurant", "cafe", "bakery", "bar", "meal_takeaway", "meal_delivery", "food")},
	{LabelTransit, anyOf("transit_station", "bus_station", "subway_station", "train_station", "light_rail_station", "taxi_stand")},
	{LabelShopping, anyOf("supermarket", "grocery_or_supermarket", "convenience_store", "shopping_mall", "store", "pharmacy", "department_store", "clothing_store")},
	{LabelActivities, anyOf("park", "gym", "movie_theater", "library", "museum", "bowling_alley", "amusement_park", "tourist_attraction")},
	{LabelCommunity, anyOf("church", "place_of_worship", "school", "post_office", "city_hall", "local_government_office", "community_center")},
}

// Classify maps upstream place type tags to one user-facing label.
func Classify(types []string) string {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	for _, rule := range categoryRules {
		if rule.match(set) {
			return rule.label
		}
	}
	return LabelFallback
}
