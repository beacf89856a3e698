package model

import "time"

// SyncStatus records how the last sync of a canonical provider went.
type SyncStatus string

const (
	SyncSynced   SyncStatus = "synced"    // both sources contributed
	SyncPartial  SyncStatus = "partial"   // one source contributed
	SyncFailed   SyncStatus = "failed"    // lookups errored
	SyncNotFound SyncStatus = "not_found" // no source returned the provider
)

// NeutralRating is the merged rating of a provider no source has rated.
// Zero renders as "unrated".
const NeutralRating = 0.0

// SourceSlot is the per-source snapshot kept on the canonical row.
type SourceSlot struct {
	NativeID    string   `json:"native_id,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount int      `json:"review_count"`
	PhotoRef    string   `json:"photo_ref,omitempty"`
}

// Linked reports whether the slot references a source record.
func (s SourceSlot) Linked() bool {
	return s.NativeID != ""
}

// QualityScores are the five 0-100 sub-scores and their weighted overall.
type QualityScores struct {
	ClientSatisfaction float64 `json:"client_satisfaction"`
	ServiceQuality     float64 `json:"service_quality"`
	Punctuality        float64 `json:"punctuality"`
	Communication      float64 `json:"communication"`
	Value              float64 `json:"value"`
	Overall            float64 `json:"overall"`
}

// Provider is the canonical, merged listing shown to end users.
type Provider struct {
	ID         string `json:"id"`
	Seq        int64  `json:"seq"`
	Name       string `json:"name"`
	NameKey    string `json:"-"` // normalized name used for identity lookups
	CategoryID int64  `json:"category_id"`
	Category   string `json:"category"`

	// Source-derived fields. Rewritten by every merge.
	Address     string        `json:"address,omitempty"`
	Phone       string        `json:"phone,omitempty"`
	Website     string        `json:"website,omitempty"`
	PhotoRef    string        `json:"photo_ref,omitempty"`
	Latitude    *float64      `json:"latitude,omitempty"`
	Longitude   *float64      `json:"longitude,omitempty"`
	Rating      float64       `json:"rating"`
	ReviewCount int           `json:"review_count"`
	Google      SourceSlot    `json:"google"`
	Yelp        SourceSlot    `json:"yelp"`
	SyncStatus  SyncStatus    `json:"sync_status"`
	Scores      QualityScores `json:"scores"`
	Position    int           `json:"position"`

	// Curated fields. Owned by admins and never written by a merge.
	Verified       bool  `json:"verified"`
	Claimed        bool  `json:"claimed"`
	Active         bool  `json:"active"`
	DirectProvider bool  `json:"direct_provider"`
	Listed         bool  `json:"listed"`
	ViewCount      int64 `json:"view_count"`
	ContactCount   int64 `json:"contact_count"`

	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Slot returns the source slot for s.
func (p *Provider) Slot(s SourceType) SourceSlot {
	if s == SourceYelp {
		return p.Yelp
	}
	return p.Google
}

// Rankable reports whether the provider takes a ranking position.
func (p *Provider) Rankable() bool {
	return p.Active && p.Listed
}

// SourceFieldsEqual reports whether two providers carry the same
// source-derived content. Timestamps and curated fields are ignored.
func SourceFieldsEqual(a, b *Provider) bool {
	return a.Name == b.Name &&
		a.CategoryID == b.CategoryID &&
		a.Address == b.Address &&
		a.Phone == b.Phone &&
		a.Website == b.Website &&
		a.PhotoRef == b.PhotoRef &&
		floatPtrEqual(a.Latitude, b.Latitude) &&
		floatPtrEqual(a.Longitude, b.Longitude) &&
		a.Rating == b.Rating &&
		a.ReviewCount == b.ReviewCount &&
		slotEqual(a.Google, b.Google) &&
		slotEqual(a.Yelp, b.Yelp) &&
		a.SyncStatus == b.SyncStatus &&
		a.Scores == b.Scores
}

func slotEqual(a, b SourceSlot) bool {
	return a.NativeID == b.NativeID &&
		floatPtrEqual(a.Rating, b.Rating) &&
		a.ReviewCount == b.ReviewCount &&
		a.PhotoRef == b.PhotoRef
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ProviderFilter selects canonical providers.
type ProviderFilter struct {
	Category     string // empty = all categories
	RankableOnly bool   // active and listed
	Limit        int
}

// Category is a provider vertical and its upstream query terms.
type Category struct {
	ID          int64  `json:"id" yaml:"-"`
	Slug        string `json:"slug" yaml:"slug"`
	Name        string `json:"name" yaml:"name"`
	GoogleQuery string `json:"google_query" yaml:"google_query"`
	YelpAlias   string `json:"yelp_alias" yaml:"yelp_alias"`
}
