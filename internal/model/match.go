package model

import "time"

// MatchClass buckets a candidate's confidence against the configured thresholds.
type MatchClass string

const (
	MatchAuto    MatchClass = "auto"
	MatchPartial MatchClass = "partial"
	MatchNone    MatchClass = "none"
)

// Mergeable reports whether the class pairs two records.
func (c MatchClass) Mergeable() bool {
	return c == MatchAuto || c == MatchPartial
}

// MatchBreakdown holds the per-signal similarity sub-scores (each in [0,1]).
type MatchBreakdown struct {
	Name     float64 `json:"name"`
	Address  float64 `json:"address"`
	Phone    float64 `json:"phone"`
	Location float64 `json:"location"`
	Tags     float64 `json:"tags"`

	HasPhone    bool `json:"has_phone"`
	HasLocation bool `json:"has_location"`
}

// MatchCandidate is one proposed cross-source pairing, or an unmatched marker
// when one side is nil. Candidates are audit rows and never updated.
type MatchCandidate struct {
	ID             int64          `json:"id"`
	RunID          string         `json:"run_id"`
	Category       string         `json:"category"`
	GoogleRecordID *int64         `json:"google_record_id,omitempty"`
	YelpRecordID   *int64         `json:"yelp_record_id,omitempty"`
	Confidence     float64        `json:"confidence"`
	Breakdown      MatchBreakdown `json:"breakdown"`
	Class          MatchClass     `json:"class"`
	CreatedAt      time.Time      `json:"created_at"`

	// Google and Yelp carry the records the candidate was scored from.
	// They are not persisted.
	Google *SourceRecord `json:"-"`
	Yelp   *SourceRecord `json:"-"`
}

// Paired reports whether both sides are present and the class is mergeable.
func (c *MatchCandidate) Paired() bool {
	return c.Google != nil && c.Yelp != nil && c.Class.Mergeable()
}

// MatchStats summarizes pairing coverage for one category.
type MatchStats struct {
	Category      string `json:"category"`
	GoogleTotal   int    `json:"google_total"`
	GoogleMatched int    `json:"google_matched"`
	YelpTotal     int    `json:"yelp_total"`
	YelpMatched   int    `json:"yelp_matched"`
}

// MergeAction says what a merge did to the canonical row.
type MergeAction string

const (
	MergeCreated MergeAction = "created"
	MergeUpdated MergeAction = "updated"
)

// MergeEvent is the audit row written when a pair of records is merged.
type MergeEvent struct {
	RunID          string      `json:"run_id"`
	ProviderID     string      `json:"provider_id"`
	GoogleRecordID *int64      `json:"google_record_id,omitempty"`
	YelpRecordID   *int64      `json:"yelp_record_id,omitempty"`
	Action         MergeAction `json:"action"`
	Confidence     float64     `json:"confidence"`
}
