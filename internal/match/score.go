package match

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-sync/internal/config"
	"github.com/sells-group/provider-sync/internal/geo"
	"github.com/sells-group/provider-sync/internal/model"
)

// DefaultConfig returns the matcher settings used when none are configured.
// Weights sum to 1.
func DefaultConfig() config.MatchConfig {
	return config.MatchConfig{
		AutoThreshold:     0.70,
		PartialThreshold:  0.45,
		MergePartial:      true,
		ProximityMeters:   200,
		MaxDistanceMeters: 1000,
		Weights: config.MatchWeights{
			Name:     0.40,
			Phone:    0.35,
			Location: 0.15,
			Tags:     0.10,
		},
	}
}

// WeightSum returns the sum of all signal weights.
func WeightSum(c config.MatchConfig) float64 {
	return c.Weights.Name + c.Weights.Phone + c.Weights.Location + c.Weights.Tags
}

// ValidateConfig checks that a MatchConfig is internally consistent.
func ValidateConfig(c config.MatchConfig) error {
	var errs []string
	if c.Weights.Name < 0 || c.Weights.Phone < 0 || c.Weights.Location < 0 || c.Weights.Tags < 0 {
		errs = append(errs, "weights must be >= 0")
	}
	if sum := WeightSum(c); math.Abs(sum-1) > 0.001 {
		errs = append(errs, fmt.Sprintf("weights should sum to 1, got %.3f", sum))
	}
	if c.PartialThreshold < 0 || c.AutoThreshold > 1 || c.AutoThreshold < c.PartialThreshold {
		errs = append(errs, "thresholds must satisfy 0 <= partial <= auto <= 1")
	}
	if c.ProximityMeters < 0 || (c.MaxDistanceMeters > 0 && c.MaxDistanceMeters < c.ProximityMeters) {
		errs = append(errs, "max_distance_meters must be >= proximity_meters")
	}
	if len(errs) > 0 {
		return eris.Errorf("match: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Scorer computes pairwise confidence between records of opposite sources.
type Scorer struct {
	cfg config.MatchConfig
}

// NewScorer creates a Scorer. Invalid configs are rejected.
func NewScorer(cfg config.MatchConfig) (*Scorer, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Config returns the scorer's settings.
func (s *Scorer) Config() config.MatchConfig {
	return s.cfg
}

// Compare scores a against b. Missing inputs score zero for their signal.
// The result is rounded to four decimals so scores are stable across stores.
func (s *Scorer) Compare(a, b *model.SourceRecord) (float64, model.MatchBreakdown) {
	var bd model.MatchBreakdown

	bd.Name = NameSimilarity(a.Name, b.Name)

	if pa, pb := NormalizePhone(a.Phone), NormalizePhone(b.Phone); pa != "" && pb != "" {
		bd.HasPhone = true
		if pa == pb {
			bd.Phone = 1.0
		}
	}

	if ptA, ok := geo.FromPtrs(a.Latitude, a.Longitude); ok {
		if ptB, ok := geo.FromPtrs(b.Latitude, b.Longitude); ok {
			bd.HasLocation = true
			bd.Location = s.proximity(geo.DistanceMeters(ptA, ptB))
		}
	}

	if na, nb := NormalizeAddress(a.Address), NormalizeAddress(b.Address); na != "" && nb != "" {
		bd.Address = TokenDice(tokens(na), tokens(nb))
	}

	bd.Tags = Jaccard(NormalizeTags(a.Tags), NormalizeTags(b.Tags))

	w := s.cfg.Weights
	conf := w.Name*bd.Name +
		w.Phone*bd.Phone +
		w.Location*math.Max(bd.Location, bd.Address) +
		w.Tags*bd.Tags
	conf = math.Max(0, math.Min(1, conf))
	return math.Round(conf*10000) / 10000, bd
}

// Classify buckets a confidence against the thresholds. Two known phone
// numbers that differ mark distinct businesses, so such a pair is never
// partial; it matches only when the remaining signals reach auto alone.
func (s *Scorer) Classify(conf float64, bd model.MatchBreakdown) model.MatchClass {
	switch {
	case conf >= s.cfg.AutoThreshold:
		return model.MatchAuto
	case conf >= s.cfg.PartialThreshold && !PhoneConflict(bd):
		return model.MatchPartial
	default:
		return model.MatchNone
	}
}

// PhoneConflict reports whether both sides carried a phone and they differ.
func PhoneConflict(bd model.MatchBreakdown) bool {
	return bd.HasPhone && bd.Phone == 0
}

// proximity is 1 within ProximityMeters and decays linearly to 0 at
// MaxDistanceMeters.
func (s *Scorer) proximity(meters float64) float64 {
	if meters <= s.cfg.ProximityMeters {
		return 1.0
	}
	if s.cfg.MaxDistanceMeters <= s.cfg.ProximityMeters || meters >= s.cfg.MaxDistanceMeters {
		return 0.0
	}
	return 1.0 - (meters-s.cfg.ProximityMeters)/(s.cfg.MaxDistanceMeters-s.cfg.ProximityMeters)
}

// NameSimilarity compares two raw business names after normalization.
func NameSimilarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0.0
	}
	return math.Max(JaroWinkler(na, nb), TokenDice(tokens(na), tokens(nb)))
}
