package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-sync/internal/model"
)

func TestPair_GreedyOneToOne(t *testing.T) {
	s := newTestScorer(t)

	g1 := rec(1, model.SourceGoogle, "Chris Evans DJ")
	g1.Phone = "5125550100"
	g2 := rec(2, model.SourceGoogle, "Chris Evans Music")
	g2.Phone = "5125550100"

	y1 := rec(10, model.SourceYelp, "Chris Evans DJ Services")
	y1.Phone = "5125550100"

	cands := s.Pair("dj", []model.SourceRecord{g1, g2}, []model.SourceRecord{y1})
	require.Len(t, cands, 2)

	// Best pair wins; the loser becomes an unmatched marker.
	assert.Equal(t, int64(1), *cands[0].GoogleRecordID)
	assert.Equal(t, int64(10), *cands[0].YelpRecordID)
	assert.Equal(t, model.MatchAuto, cands[0].Class)
	assert.True(t, cands[0].Paired())

	assert.Equal(t, int64(2), *cands[1].GoogleRecordID)
	assert.Nil(t, cands[1].YelpRecordID)
	assert.Equal(t, model.MatchNone, cands[1].Class)
	assert.Greater(t, cands[1].Confidence, 0.45, "marker keeps its best observed score")
	assert.False(t, cands[1].Paired())
}

func TestPair_EachRecordAtMostOnce(t *testing.T) {
	s := newTestScorer(t)

	var google, yelp []model.SourceRecord
	for i := int64(1); i <= 4; i++ {
		g := rec(i, model.SourceGoogle, "Same Name DJ")
		g.Phone = "5125550100"
		google = append(google, g)
		y := rec(100+i, model.SourceYelp, "Same Name DJ")
		y.Phone = "5125550100"
		yelp = append(yelp, y)
	}

	cands := s.Pair("dj", google, yelp)
	seenG := map[int64]bool{}
	seenY := map[int64]bool{}
	paired := 0
	for _, c := range cands {
		if c.GoogleRecordID != nil {
			assert.False(t, seenG[*c.GoogleRecordID])
			seenG[*c.GoogleRecordID] = true
		}
		if c.YelpRecordID != nil {
			assert.False(t, seenY[*c.YelpRecordID])
			seenY[*c.YelpRecordID] = true
		}
		if c.Paired() {
			paired++
		}
	}
	assert.Equal(t, 4, paired)
	assert.Len(t, cands, 4)

	// Equal scores tie-break on ids: g1 with y101, g2 with y102, ...
	assert.Equal(t, int64(1), *cands[0].GoogleRecordID)
	assert.Equal(t, int64(101), *cands[0].YelpRecordID)
	assert.Equal(t, int64(2), *cands[1].GoogleRecordID)
	assert.Equal(t, int64(102), *cands[1].YelpRecordID)
}

func TestPair_ConflictingPhonesStayUnpaired(t *testing.T) {
	s := newTestScorer(t)

	g := rec(1, model.SourceGoogle, "DJ Mike")
	g.Phone = "512-555-0001"
	g.Address = "100 Congress Ave, Austin, TX"
	g.Latitude, g.Longitude = model.Float(30.2672), model.Float(-97.7431)
	y := rec(10, model.SourceYelp, "DJ Mark")
	y.Phone = "512-555-0999"
	y.Address = "100 Congress Ave, Austin, TX"
	y.Latitude, y.Longitude = model.Float(30.2672), model.Float(-97.7431)
	y2 := rec(11, model.SourceYelp, "DJ Mike Events")
	y2.Phone = "+1 512 555 0001"

	cands := s.Pair("dj", []model.SourceRecord{g}, []model.SourceRecord{y, y2})
	require.Len(t, cands, 2)
	assert.True(t, cands[0].Paired())
	assert.Equal(t, int64(11), *cands[0].YelpRecordID)
	assert.False(t, cands[1].Paired())
	assert.Equal(t, int64(10), *cands[1].YelpRecordID)
	assert.Equal(t, model.MatchNone, cands[1].Class)
}

func TestPair_EmptyInputs(t *testing.T) {
	s := newTestScorer(t)
	assert.Empty(t, s.Pair("dj", nil, nil))

	cands := s.Pair("dj", nil, []model.SourceRecord{rec(5, model.SourceYelp, "Solo Video")})
	require.Len(t, cands, 1)
	assert.Nil(t, cands[0].GoogleRecordID)
	assert.Equal(t, int64(5), *cands[0].YelpRecordID)
	assert.Equal(t, model.MatchNone, cands[0].Class)
	assert.Zero(t, cands[0].Confidence)
}
