package store

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-sync/internal/geo"
	"github.com/sells-group/provider-sync/internal/model"
)

// scanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const providerColumns = `id, seq, name, name_key, category_id, category,
	address, phone, website, photo_ref, latitude, longitude, rating, review_count,
	google_id, google_rating, google_review_count, google_photo_ref,
	yelp_id, yelp_rating, yelp_review_count, yelp_photo_ref,
	sync_status, score_client_satisfaction, score_service_quality, score_punctuality,
	score_communication, score_value, score_overall, position,
	verified, claimed, active, direct_provider, listed, view_count, contact_count,
	last_synced_at, created_at, updated_at`

// providerDests returns scan destinations matching providerColumns.
func providerDests(p *model.Provider) []any {
	return []any{
		&p.ID, &p.Seq, &p.Name, &p.NameKey, &p.CategoryID, &p.Category,
		&p.Address, &p.Phone, &p.Website, &p.PhotoRef, &p.Latitude, &p.Longitude, &p.Rating, &p.ReviewCount,
		&p.Google.NativeID, &p.Google.Rating, &p.Google.ReviewCount, &p.Google.PhotoRef,
		&p.Yelp.NativeID, &p.Yelp.Rating, &p.Yelp.ReviewCount, &p.Yelp.PhotoRef,
		&p.SyncStatus, &p.Scores.ClientSatisfaction, &p.Scores.ServiceQuality, &p.Scores.Punctuality,
		&p.Scores.Communication, &p.Scores.Value, &p.Scores.Overall, &p.Position,
		&p.Verified, &p.Claimed, &p.Active, &p.DirectProvider, &p.Listed, &p.ViewCount, &p.ContactCount,
		&p.LastSyncedAt, &p.CreatedAt, &p.UpdatedAt,
	}
}

func scanProvider(s scanner) (*model.Provider, error) {
	var p model.Provider
	if err := s.Scan(providerDests(&p)...); err != nil {
		return nil, err
	}
	return &p, nil
}

// sourceFieldArgs returns the values written by UpdateProviderSourceFields,
// in the order of its SET list, followed by the provider id.
func sourceFieldArgs(p *model.Provider, geom any, syncedAt any) []any {
	return []any{
		p.Name, p.NameKey, p.Address, p.Phone, p.Website, p.PhotoRef,
		p.Latitude, p.Longitude, geom, p.Rating, p.ReviewCount,
		p.Google.NativeID, p.Google.Rating, p.Google.ReviewCount, p.Google.PhotoRef,
		p.Yelp.NativeID, p.Yelp.Rating, p.Yelp.ReviewCount, p.Yelp.PhotoRef,
		string(p.SyncStatus), p.Scores.ClientSatisfaction, p.Scores.ServiceQuality, p.Scores.Punctuality,
		p.Scores.Communication, p.Scores.Value, p.Scores.Overall,
		syncedAt, syncedAt, p.ID,
	}
}

const recordColumns = `id, source, native_id, category, name, rating, review_count,
	photo_ref, address, latitude, longitude, phone, website, tags, closed, matched,
	content_hash, ingested_at, last_seen_at`

// recordDests returns scan destinations matching recordColumns. The tags
// destination differs per driver.
func recordDests(r *model.SourceRecord, tags any) []any {
	return []any{
		&r.ID, &r.Source, &r.NativeID, &r.Category, &r.Name, &r.Rating, &r.ReviewCount,
		&r.PhotoRef, &r.Address, &r.Latitude, &r.Longitude, &r.Phone, &r.Website, tags, &r.Closed, &r.Matched,
		&r.ContentHash, &r.IngestedAt, &r.LastSeenAt,
	}
}

const categoryColumns = `id, slug, name, google_query, yelp_alias`

const runColumns = `id, mode, status, started_at, completed_at, duration_ms, success, summary, errors`

// providerGeom encodes the provider location as EWKB, or nil when unplaced.
func providerGeom(p *model.Provider) ([]byte, error) {
	pt, ok := geo.FromPtrs(p.Latitude, p.Longitude)
	if !ok {
		return nil, nil
	}
	b, err := geo.EncodeEWKB(pt)
	if err != nil {
		return nil, eris.Wrapf(err, "store: encode geom for %s", p.ID)
	}
	return b, nil
}
