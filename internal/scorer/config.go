// Package scorer computes the five-component quality score of a canonical provider.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultSubScore is used for sub-scores with no source-driven signal.
const DefaultSubScore = 80.0

// Weights are the fixed blend of the five sub-scores. They sum to 1.
type Weights struct {
	ClientSatisfaction float64
	ServiceQuality     float64
	Punctuality        float64
	Communication      float64
	Value              float64
}

// DefaultWeights is the production weighting.
var DefaultWeights = Weights{
	ClientSatisfaction: 0.25,
	ServiceQuality:     0.25,
	Punctuality:        0.20,
	Communication:      0.15,
	Value:              0.15,
}

// WeightSum returns the sum of all component weights.
func WeightSum(w Weights) float64 {
	return w.ClientSatisfaction + w.ServiceQuality + w.Punctuality + w.Communication + w.Value
}

// ValidateWeights checks that weights are non-negative and sum to 1.
func ValidateWeights(w Weights) error {
	var errs []string

	weights := map[string]float64{
		"client_satisfaction": w.ClientSatisfaction,
		"service_quality":     w.ServiceQuality,
		"punctuality":         w.Punctuality,
		"communication":       w.Communication,
		"value":               w.Value,
	}
	for name, v := range weights {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	if sum := WeightSum(w); math.Abs(sum-1) > 1e-9 {
		errs = append(errs, fmt.Sprintf("weights should sum to 1, got %.3f", sum))
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: weight validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
