package transform

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type serviceKeyword struct {
	label    string
	keywords []string
}

// serviceKeywords is matched case-insensitively against listing text.
// Order here is the order services are reported in.
var serviceKeywords = []serviceKeyword{
	{"Wash & Fold", []string{"wash & fold", "wash and fold", "wash-and-fold", "fluff and fold", "drop-off laundry", "drop off laundry"}},
	{"Dry Cleaning", []string{"dry clean"}},
	{"Self-Service", []string{"self-service", "self service", "self serve", "coin laundry"}},
	{"Pickup & Delivery", []string{"pickup", "pick-up", "pick up", "delivery"}},
	{"Free WiFi", []string{"wifi", "wi-fi", "wireless internet"}},
	{"Card Payment", []string{"credit card", "card payment", "cards accepted", "debit", "card operated", "app payment"}},
	{"Attendant On Duty", []string{"attendant"}},
	{"Large Capacity Machines", []string{"large capacity", "oversized", "comforter", "large machines", "mega washer"}},
	{"Parking", []string{"parking"}},
	{"Alterations", []string{"alteration", "tailor"}},
	{"Coin Operated", []string{"coin-op", "coin op", "coin operated", "coins accepted"}},
}

// DetectServices returns the curated service labels whose keywords occur in
// any of the given texts.
func DetectServices(texts ...string) []string {
	haystack := strings.ToLower(strings.Join(texts, " \n "))
	var found []string
	for _, sk := range serviceKeywords {
		for _, kw := range sk.keywords {
			if strings.Contains(haystack, kw) {
				found = append(found, sk.label)
				break
			}
		}
	}
	return found
}

// NormalizeServices splits a free-form services cell on commas, semicolons,
// pipes and newlines, maps entries onto curated labels where one matches,
// title-cases the rest and drops duplicates.
func NormalizeServices(raw string) []string {
	caser := cases.Title(language.English)
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || r == '\n'
	})

	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		f = strings.Join(strings.Fields(f), " ")
		if f == "" {
			continue
		}
		label := caser.String(f)
		if curated := DetectServices(f); len(curated) == 1 {
			label = curated[0]
		}
		key := strings.ToLower(label)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, label)
	}
	return out
}

// MergeServices appends b to a, skipping case-insensitive duplicates.
func MergeServices(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			key := strings.ToLower(s)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Is24Hours reports whether an hours string describes round-the-clock opening.
func Is24Hours(hours string) bool {
	h := strings.ToLower(hours)
	return strings.Contains(h, "24 hours") ||
		strings.Contains(h, "24hrs") ||
		strings.Contains(h, "24 hrs") ||
		strings.Contains(h, "open 24") ||
		strings.Contains(h, "24/7")
}
