package merge

import (
	"math"

	"github.com/sells-group/provider-sync/internal/match"
	"github.com/sells-group/provider-sync/internal/model"
	"github.com/sells-group/provider-sync/internal/scorer"
)

// Group is the set of source records describing one business in one
// merge step. A pair carries both records; a solo group carries one.
type Group struct {
	Category   string
	Google     *model.SourceRecord
	Yelp       *model.SourceRecord
	Confidence float64
	// Paired marks groups built from a mergeable match candidate.
	Paired bool
}

// Record returns the group's record for src.
func (g Group) Record(src model.SourceType) *model.SourceRecord {
	if src == model.SourceYelp {
		return g.Yelp
	}
	return g.Google
}

// Name is the display name by source precedence.
func (g Group) Name() string {
	return firstString(recName(g.Google), recName(g.Yelp))
}

// Key identifies the group in logs and error lists.
func (g Group) Key() string {
	switch {
	case g.Google != nil && g.Yelp != nil:
		return g.Google.Key() + "+" + g.Yelp.Key()
	case g.Google != nil:
		return g.Google.Key()
	case g.Yelp != nil:
		return g.Yelp.Key()
	}
	return "empty"
}

// PairGroup builds a group from a mergeable candidate.
func PairGroup(c model.MatchCandidate) Group {
	return Group{
		Category:   c.Category,
		Google:     c.Google,
		Yelp:       c.Yelp,
		Confidence: c.Confidence,
		Paired:     true,
	}
}

// SoloGroup wraps one record.
func SoloGroup(r *model.SourceRecord) Group {
	g := Group{Category: r.Category}
	if r.Source == model.SourceYelp {
		g.Yelp = r
	} else {
		g.Google = r
	}
	return g
}

// NameKey is the normalized name used by the name tier of identity
// resolution.
func NameKey(name string) string {
	return match.NormalizeName(name)
}

// MergeFields rewrites the source-derived fields of p from the given
// records. Google wins over Yelp field by field; coordinates move as a pair.
// Curated fields are left untouched.
func MergeFields(p *model.Provider, google, yelp *model.SourceRecord) {
	p.Name = firstString(recName(google), recName(yelp))
	p.NameKey = NameKey(p.Name)
	p.Address = firstString(field(google, func(r *model.SourceRecord) string { return r.Address }),
		field(yelp, func(r *model.SourceRecord) string { return r.Address }))
	p.Phone = firstString(field(google, func(r *model.SourceRecord) string { return r.Phone }),
		field(yelp, func(r *model.SourceRecord) string { return r.Phone }))
	p.Website = firstString(field(google, func(r *model.SourceRecord) string { return r.Website }),
		field(yelp, func(r *model.SourceRecord) string { return r.Website }))
	p.PhotoRef = firstString(field(google, func(r *model.SourceRecord) string { return r.PhotoRef }),
		field(yelp, func(r *model.SourceRecord) string { return r.PhotoRef }))

	p.Latitude, p.Longitude = nil, nil
	for _, r := range []*model.SourceRecord{google, yelp} {
		if r != nil && r.HasLocation() {
			lat, lon := *r.Latitude, *r.Longitude
			p.Latitude, p.Longitude = &lat, &lon
			break
		}
	}

	p.Google = slot(google)
	p.Yelp = slot(yelp)

	var gr, yr *float64
	if google != nil {
		gr = google.Rating
	}
	if yelp != nil {
		yr = yelp.Rating
	}
	p.Rating = model.NeutralRating
	if avg, ok := scorer.AverageRating(gr, yr); ok {
		p.Rating = math.Round(avg*100) / 100
	}
	p.ReviewCount = p.Google.ReviewCount + p.Yelp.ReviewCount
	p.Scores = scorer.Score(gr, yr)

	if google != nil && yelp != nil {
		p.SyncStatus = model.SyncSynced
	} else {
		p.SyncStatus = model.SyncPartial
	}
}

// applyCuratedDefaults sets the admin-owned fields of a new row.
func applyCuratedDefaults(p *model.Provider) {
	p.Verified = false
	p.Claimed = false
	p.Active = true
	p.DirectProvider = false
	p.Listed = true
	p.ViewCount = 0
	p.ContactCount = 0
}

func slot(r *model.SourceRecord) model.SourceSlot {
	if r == nil {
		return model.SourceSlot{}
	}
	s := model.SourceSlot{
		NativeID:    r.NativeID,
		ReviewCount: r.ReviewCount,
		PhotoRef:    r.PhotoRef,
	}
	if r.Rating != nil {
		v := *r.Rating
		s.Rating = &v
	}
	return s
}

func recName(r *model.SourceRecord) string {
	if r == nil {
		return ""
	}
	return r.Name
}

func field(r *model.SourceRecord, get func(*model.SourceRecord) string) string {
	if r == nil {
		return ""
	}
	return get(r)
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
