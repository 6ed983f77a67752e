package transform

import (
	"strings"

	"laundromat-importer/packages/domain"
)

const AmenitySpanish = "Spanish Spoken"

// Enrich derives every computed field of a listing. website is optional and
// adds services found on the listing's own site plus its language.
func Enrich(rec domain.SourceRecord, token string, website *domain.WebsiteInfo) domain.EnrichedRecord {
	services := MergeServices(
		NormalizeServices(rec.Services),
		DetectServices(rec.Name, rec.Services, rec.Hours),
	)

	var amenities []string
	var lang string
	if website != nil {
		services = MergeServices(services, DetectServices(website.Title, website.Description, website.TextContent))
		lang = website.Language
		if lang == "spa" {
			amenities = append(amenities, AmenitySpanish)
		}
	}

	is24 := Is24Hours(rec.Hours)
	if is24 {
		amenities = append(amenities, "Open 24 Hours")
	}
	seo := SEO(rec, services, is24)

	return domain.EnrichedRecord{
		Source:         rec,
		Slug:           Slug(rec.Name, rec.City, rec.State, token),
		SEOTitle:       seo.Title,
		SEODescription: seo.Description,
		SEOTags:        seo.Tags,
		PremiumScore: PremiumScore(ScoreInput{
			Rating:       rec.Rating,
			ReviewCount:  rec.ReviewCount,
			HasWebsite:   strings.TrimSpace(rec.Website) != "",
			HasHours:     strings.TrimSpace(rec.Hours) != "",
			ServiceCount: len(services),
		}),
		Is24Hours:       is24,
		Services:        services,
		Amenities:       amenities,
		WebsiteLanguage: lang,
	}
}
