package scorer

import (
	"math"

	"github.com/sells-group/provider-sync/internal/model"
)

// NormalizeRating maps a 0-5 star rating onto 0-100.
func NormalizeRating(rating float64) float64 {
	return clamp(rating * 20)
}

// AverageRating returns the mean of the present ratings and whether any were present.
func AverageRating(ratings ...*float64) (float64, bool) {
	var sum float64
	var n int
	for _, r := range ratings {
		if r == nil {
			continue
		}
		sum += *r
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Score derives the quality scores from the available source ratings.
// Client satisfaction and service quality follow the normalized average
// rating; the other sub-scores have no upstream signal and use
// DefaultSubScore. With no rating at all every sub-score is the default.
func Score(ratings ...*float64) model.QualityScores {
	return ScoreWith(DefaultWeights, ratings...)
}

// ScoreWith is Score with explicit weights.
func ScoreWith(w Weights, ratings ...*float64) model.QualityScores {
	sourced := DefaultSubScore
	if avg, ok := AverageRating(ratings...); ok {
		sourced = round2(NormalizeRating(avg))
	}

	s := model.QualityScores{
		ClientSatisfaction: sourced,
		ServiceQuality:     sourced,
		Punctuality:        DefaultSubScore,
		Communication:      DefaultSubScore,
		Value:              DefaultSubScore,
	}
	s.Overall = Overall(w, s)
	return s
}

// Overall blends the five sub-scores with w, clamped to [0,100] and
// rounded to two decimals.
func Overall(w Weights, s model.QualityScores) float64 {
	total := w.ClientSatisfaction*clamp(s.ClientSatisfaction) +
		w.ServiceQuality*clamp(s.ServiceQuality) +
		w.Punctuality*clamp(s.Punctuality) +
		w.Communication*clamp(s.Communication) +
		w.Value*clamp(s.Value)
	return round2(clamp(total))
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
