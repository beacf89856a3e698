package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// SourceType identifies an upstream business-listing source.
type SourceType string

const (
	SourceGoogle SourceType = "google" // Google Places, highest merge precedence
	SourceYelp   SourceType = "yelp"   // Yelp Fusion
)

// Sources lists every source in merge-precedence order.
var Sources = []SourceType{SourceGoogle, SourceYelp}

// Valid reports whether s is a known source.
func (s SourceType) Valid() bool {
	return s == SourceGoogle || s == SourceYelp
}

// Other returns the counterpart source used for cross-source pairing.
func (s SourceType) Other() SourceType {
	if s == SourceGoogle {
		return SourceYelp
	}
	return SourceGoogle
}

// ParseSourceType converts a CLI or API value into a SourceType.
func ParseSourceType(v string) (SourceType, error) {
	s := SourceType(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", eris.Errorf("model: unknown source %q", v)
	}
	return s, nil
}

// SourceRecord is one business listing as reported by one upstream source.
// It is keyed by (Source, NativeID, Category) and only rewritten by re-ingestion.
type SourceRecord struct {
	ID          int64      `json:"id"`
	Source      SourceType `json:"source"`
	NativeID    string     `json:"native_id"`
	Category    string     `json:"category"`
	Name        string     `json:"name"`
	Rating      *float64   `json:"rating,omitempty"`
	ReviewCount int        `json:"review_count"`
	PhotoRef    string     `json:"photo_ref,omitempty"`
	Address     string     `json:"address,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	Website     string     `json:"website,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Closed      bool       `json:"closed"`
	Matched     bool       `json:"matched"`
	ContentHash string     `json:"content_hash"`
	IngestedAt  time.Time  `json:"ingested_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
}

// NewSourceRecord builds a record with its identity fields validated.
func NewSourceRecord(source SourceType, nativeID, category, name string) (*SourceRecord, error) {
	r := &SourceRecord{
		Source:   source,
		NativeID: strings.TrimSpace(nativeID),
		Category: strings.TrimSpace(category),
		Name:     strings.TrimSpace(name),
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks identity fields and value ranges.
func (r *SourceRecord) Validate() error {
	switch {
	case !r.Source.Valid():
		return eris.Errorf("model: source record: unknown source %q", r.Source)
	case r.NativeID == "":
		return eris.New("model: source record: native id is required")
	case r.Category == "":
		return eris.New("model: source record: category is required")
	case r.Name == "":
		return eris.New("model: source record: name is required")
	case r.Rating != nil && (*r.Rating < 0 || *r.Rating > 5):
		return eris.Errorf("model: source record %s/%s: rating %.2f out of range", r.Source, r.NativeID, *r.Rating)
	case r.ReviewCount < 0:
		return eris.Errorf("model: source record %s/%s: negative review count", r.Source, r.NativeID)
	case r.Latitude != nil && (*r.Latitude < -90 || *r.Latitude > 90):
		return eris.Errorf("model: source record %s/%s: latitude out of range", r.Source, r.NativeID)
	case r.Longitude != nil && (*r.Longitude < -180 || *r.Longitude > 180):
		return eris.Errorf("model: source record %s/%s: longitude out of range", r.Source, r.NativeID)
	}
	return nil
}

// HasLocation reports whether both coordinates are present.
func (r *SourceRecord) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Key returns the "source:native_id" identity used in logs and error lists.
func (r *SourceRecord) Key() string {
	return string(r.Source) + ":" + r.NativeID
}

// Fingerprint hashes the content fields. A changed fingerprint on
// re-ingestion makes a consumed record eligible for matching again.
func (r *SourceRecord) Fingerprint() string {
	tags := append([]string(nil), r.Tags...)
	sort.Strings(tags)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%d|%s|%s|%s|%s|%s|%s|%t",
		r.Source, r.NativeID, r.Category, r.Name,
		fmtFloat(r.Rating), r.ReviewCount, r.PhotoRef, r.Address,
		fmtFloat(r.Latitude), fmtFloat(r.Longitude),
		r.Phone, r.Website, r.Closed)
	fmt.Fprintf(h, "|%s", strings.Join(tags, ","))
	return hex.EncodeToString(h.Sum(nil))
}

func fmtFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%.6f", *f)
}

// Float returns a pointer to v. Convenience for optional numeric fields.
func Float(v float64) *float64 {
	return &v
}

// RecordFilter selects source records for matching and merging.
type RecordFilter struct {
	Category      string     // empty = all categories
	Source        SourceType // empty = both sources
	UnmatchedOnly bool
	IncludeClosed bool
}
