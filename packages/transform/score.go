package transform

import "math"

const (
	scoreBase          = 20
	scoreRatingMax     = 30
	scoreReviewsMax    = 20
	scoreWebsite       = 10
	scoreHours         = 5
	scorePerService    = 3
	scoreServicesMax   = 15
	scoreMin, scoreMax = 0, 100
)

type ScoreInput struct {
	Rating       float64
	ReviewCount  int
	HasWebsite   bool
	HasHours     bool
	ServiceCount int
}

// reviewBands are checked in order; the first threshold met wins.
var reviewBands = []struct {
	min    int
	points int
}{
	{500, 20},
	{200, 16},
	{100, 12},
	{50, 8},
	{10, 4},
	{1, 1},
}

// PremiumScore combines listing signals into a 0..100 ranking value. Each
// signal is capped on its own before the sum is clamped.
func PremiumScore(in ScoreInput) int {
	score := scoreBase
	score += ratingPoints(in.Rating)
	score += reviewPoints(in.ReviewCount)
	if in.HasWebsite {
		score += scoreWebsite
	}
	if in.HasHours {
		score += scoreHours
	}
	score += min(max(in.ServiceCount, 0)*scorePerService, scoreServicesMax)
	return min(max(score, scoreMin), scoreMax)
}

func ratingPoints(rating float64) int {
	if math.IsNaN(rating) || rating <= 0 {
		return 0
	}
	rating = math.Min(rating, 5)
	return min(int(math.Round(rating/5*scoreRatingMax)), scoreRatingMax)
}

func reviewPoints(count int) int {
	for _, b := range reviewBands {
		if count >= b.min {
			return min(b.points, scoreReviewsMax)
		}
	}
	return 0
}
