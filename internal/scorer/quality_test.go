package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-sync/internal/model"
)

func TestDefaultWeights(t *testing.T) {
	assert.InDelta(t, 1.0, WeightSum(DefaultWeights), 1e-9)
	assert.NoError(t, ValidateWeights(DefaultWeights))
}

func TestValidateWeights_Errors(t *testing.T) {
	w := DefaultWeights
	w.Value = -0.15
	err := ValidateWeights(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value must be >= 0")
	assert.Contains(t, err.Error(), "weights should sum to 1")
}

func TestScore_BothSources(t *testing.T) {
	s := Score(model.Float(4.8), model.Float(4.6))

	assert.InDelta(t, 94.0, s.ClientSatisfaction, 1e-9)
	assert.InDelta(t, 94.0, s.ServiceQuality, 1e-9)
	assert.InDelta(t, DefaultSubScore, s.Punctuality, 1e-9)
	assert.InDelta(t, DefaultSubScore, s.Communication, 1e-9)
	assert.InDelta(t, DefaultSubScore, s.Value, 1e-9)
	// 0.25*94 + 0.25*94 + 0.20*80 + 0.15*80 + 0.15*80
	assert.InDelta(t, 87.0, s.Overall, 1e-9)
}

func TestScore_SingleSource(t *testing.T) {
	s := Score(nil, model.Float(4.8))
	assert.InDelta(t, 96.0, s.ClientSatisfaction, 1e-9)
	assert.InDelta(t, 88.0, s.Overall, 1e-9)
}

func TestScore_NoRatings(t *testing.T) {
	s := Score(nil, nil)
	assert.InDelta(t, DefaultSubScore, s.ClientSatisfaction, 1e-9)
	assert.InDelta(t, DefaultSubScore, s.Overall, 1e-9)
}

func TestScore_Bounds(t *testing.T) {
	for _, r := range []float64{-3, 0, 0.1, 2.5, 5, 7} {
		s := Score(model.Float(r))
		for _, v := range []float64{s.ClientSatisfaction, s.ServiceQuality, s.Punctuality, s.Communication, s.Value, s.Overall} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 100.0)
		}
	}
	assert.InDelta(t, 100.0, Score(model.Float(5)).ClientSatisfaction, 1e-9)
}

func TestAverageRating(t *testing.T) {
	avg, ok := AverageRating(model.Float(4.8), nil, model.Float(4.6))
	require.True(t, ok)
	assert.InDelta(t, 4.7, avg, 1e-9)

	_, ok = AverageRating()
	assert.False(t, ok)
}
