package match

import (
	"sort"

	"github.com/sells-group/provider-sync/internal/model"
)

type scoredPair struct {
	google     *model.SourceRecord
	yelp       *model.SourceRecord
	confidence float64
	breakdown  model.MatchBreakdown
}

type best struct {
	confidence float64
	breakdown  model.MatchBreakdown
}

// Pair scores every google/yelp combination in one category and assigns
// pairs greedily by descending confidence, so each record joins at most one
// pair. Combinations that classify as none never claim a record. Ties break on google id, then yelp id. Records left over become
// unmatched markers carrying their best observed score.
func (s *Scorer) Pair(category string, google, yelp []model.SourceRecord) []model.MatchCandidate {
	var pairs []scoredPair
	bestG := make([]best, len(google))
	bestY := make([]best, len(yelp))

	for i := range google {
		for j := range yelp {
			conf, bd := s.Compare(&google[i], &yelp[j])
			if conf > bestG[i].confidence {
				bestG[i] = best{conf, bd}
			}
			if conf > bestY[j].confidence {
				bestY[j] = best{conf, bd}
			}
			if s.Classify(conf, bd) != model.MatchNone {
				pairs = append(pairs, scoredPair{google: &google[i], yelp: &yelp[j], confidence: conf, breakdown: bd})
			}
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		if a.google.ID != b.google.ID {
			return a.google.ID < b.google.ID
		}
		return a.yelp.ID < b.yelp.ID
	})

	usedG := make(map[*model.SourceRecord]bool)
	usedY := make(map[*model.SourceRecord]bool)
	var out []model.MatchCandidate

	for _, p := range pairs {
		if usedG[p.google] || usedY[p.yelp] {
			continue
		}
		usedG[p.google] = true
		usedY[p.yelp] = true
		out = append(out, model.MatchCandidate{
			Category:       category,
			GoogleRecordID: idPtr(p.google.ID),
			YelpRecordID:   idPtr(p.yelp.ID),
			Confidence:     p.confidence,
			Breakdown:      p.breakdown,
			Class:          s.Classify(p.confidence, p.breakdown),
			Google:         p.google,
			Yelp:           p.yelp,
		})
	}

	for i := range google {
		if usedG[&google[i]] {
			continue
		}
		out = append(out, model.MatchCandidate{
			Category:       category,
			GoogleRecordID: idPtr(google[i].ID),
			Confidence:     bestG[i].confidence,
			Breakdown:      bestG[i].breakdown,
			Class:          model.MatchNone,
			Google:         &google[i],
		})
	}
	for j := range yelp {
		if usedY[&yelp[j]] {
			continue
		}
		out = append(out, model.MatchCandidate{
			Category:     category,
			YelpRecordID: idPtr(yelp[j].ID),
			Confidence:   bestY[j].confidence,
			Breakdown:    bestY[j].breakdown,
			Class:        model.MatchNone,
			Yelp:         &yelp[j],
		})
	}

	return out
}

func idPtr(id int64) *int64 {
	return &id
}
