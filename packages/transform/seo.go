package transform

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"laundromat-importer/packages/domain"
)

const (
	maxTitleRunes       = 70
	maxDescriptionRunes = 160
)

const (
	TierTopRated    = "Top Rated"
	TierHighlyRated = "Highly Rated"
	TierRated       = "Rated"
)

// RatingTier buckets a rating into a label. Unrated listings get "".
func RatingTier(rating float64, reviews int) string {
	switch {
	case rating >= 4.5 && reviews >= 10:
		return TierTopRated
	case rating >= 4.0:
		return TierHighlyRated
	case rating >= 3.0:
		return TierRated
	default:
		return ""
	}
}

type SEOText struct {
	Title       string
	Description string
	Tags        []string
}

// SEO renders the templated title, description and tags for a listing.
func SEO(rec domain.SourceRecord, services []string, is24 bool) SEOText {
	name := clean(rec.Name)
	city := clean(rec.City)
	state := strings.ToUpper(clean(rec.State))
	where := joinNonEmpty(", ", city, state)

	title := name
	if where != "" {
		title = fmt.Sprintf("%s - Laundromat in %s", name, where)
	}
	if is24 && utf8.RuneCountInString(title+" | Open 24 Hours") <= maxTitleRunes {
		title += " | Open 24 Hours"
	}

	var desc strings.Builder
	desc.WriteString(name)
	if where != "" {
		desc.WriteString(" is a laundromat in " + where + ".")
	} else {
		desc.WriteString(" is a laundromat.")
	}
	tier := RatingTier(rec.Rating, rec.ReviewCount)
	if tier != "" {
		fmt.Fprintf(&desc, " %s: %.1f stars", tier, rec.Rating)
		if rec.ReviewCount > 0 {
			fmt.Fprintf(&desc, " from %d reviews", rec.ReviewCount)
		}
		desc.WriteString(".")
	}
	if is24 {
		desc.WriteString(" Open 24 hours.")
	}
	if len(services) > 0 {
		desc.WriteString(" Services: " + strings.Join(services, ", ") + ".")
	}

	tags := []string{"laundromat"}
	if city != "" {
		tags = append(tags, "laundromat "+strings.ToLower(city))
	}
	if state != "" {
		tags = append(tags, "laundromat "+strings.ToLower(state))
	}
	if tier != "" {
		tags = append(tags, strings.ToLower(tier))
	}
	if is24 {
		tags = append(tags, "24 hour laundromat")
	}
	for _, s := range services {
		tags = append(tags, strings.ToLower(s))
	}

	return SEOText{
		Title:       truncateRunes(title, maxTitleRunes),
		Description: truncateRunes(desc.String(), maxDescriptionRunes),
		Tags:        dedupe(tags),
	}
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// truncateRunes cuts s to at most n runes, preferring a word boundary and
// marking the cut with an ellipsis.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)[:n-1]
	cut := string(r)
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.-|") + "…"
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
