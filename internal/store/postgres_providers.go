package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-sync/internal/model"
)

const insertProviderSQL = `INSERT INTO providers (
	id, name, name_key, category_id, category,
	address, phone, website, photo_ref, latitude, longitude, geom, rating, review_count,
	google_id, google_rating, google_review_count, google_photo_ref,
	yelp_id, yelp_rating, yelp_review_count, yelp_photo_ref,
	sync_status, score_client_satisfaction, score_service_quality, score_punctuality,
	score_communication, score_value, score_overall, position,
	verified, claimed, active, direct_provider, listed, view_count, contact_count,
	last_synced_at, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9, $10, $11, ST_GeomFromEWKB($12), $13, $14,
	$15, $16, $17, $18,
	$19, $20, $21, $22,
	$23, $24, $25, $26,
	$27, $28, $29, $30,
	$31, $32, $33, $34, $35, $36, $37,
	$38, $39, $39
) RETURNING seq`

const updateProviderSQL = `UPDATE providers SET
	name = $1, name_key = $2, address = $3, phone = $4, website = $5, photo_ref = $6,
	latitude = $7, longitude = $8, geom = ST_GeomFromEWKB($9), rating = $10, review_count = $11,
	google_id = $12, google_rating = $13, google_review_count = $14, google_photo_ref = $15,
	yelp_id = $16, yelp_rating = $17, yelp_review_count = $18, yelp_photo_ref = $19,
	sync_status = $20, score_client_satisfaction = $21, score_service_quality = $22,
	score_punctuality = $23, score_communication = $24, score_value = $25, score_overall = $26,
	last_synced_at = $27, updated_at = $28
WHERE id = $29`

// CreateProvider inserts p, assigning an id when empty and filling Seq and
// the timestamps.
func (s *PostgresStore) CreateProvider(ctx context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	geom, err := providerGeom(p)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	err = s.pool.QueryRow(ctx, insertProviderSQL,
		p.ID, p.Name, p.NameKey, p.CategoryID, p.Category,
		p.Address, p.Phone, p.Website, p.PhotoRef, p.Latitude, p.Longitude, geom, p.Rating, p.ReviewCount,
		p.Google.NativeID, p.Google.Rating, p.Google.ReviewCount, p.Google.PhotoRef,
		p.Yelp.NativeID, p.Yelp.Rating, p.Yelp.ReviewCount, p.Yelp.PhotoRef,
		string(p.SyncStatus), p.Scores.ClientSatisfaction, p.Scores.ServiceQuality, p.Scores.Punctuality,
		p.Scores.Communication, p.Scores.Value, p.Scores.Overall, p.Position,
		p.Verified, p.Claimed, p.Active, p.DirectProvider, p.Listed, p.ViewCount, p.ContactCount,
		now, now,
	).Scan(&p.Seq)
	if err != nil {
		return eris.Wrapf(err, "postgres: create provider %s", p.Name)
	}
	p.LastSyncedAt = &now
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// UpdateProviderSourceFields rewrites only the source-derived columns.
// Curated columns and position are left untouched.
func (s *PostgresStore) UpdateProviderSourceFields(ctx context.Context, p *model.Provider) error {
	geom, err := providerGeom(p)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, updateProviderSQL, sourceFieldArgs(p, geom, now)...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update provider %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: provider %s not found", p.ID)
	}
	p.LastSyncedAt = &now
	p.UpdatedAt = now
	return nil
}

func (s *PostgresStore) SetProviderSyncStatus(ctx context.Context, id string, status model.SyncStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE providers SET sync_status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set sync status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: provider %s not found", id)
	}
	return nil
}

func (s *PostgresStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	p, err := scanProvider(s.pool.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get provider %s", id)
	}
	return p, nil
}

func (s *PostgresStore) FindProvidersByNativeID(ctx context.Context, source model.SourceType, nativeID, category string) ([]model.Provider, error) {
	if nativeID == "" {
		return nil, nil
	}
	col := slotColumn(source)
	return s.queryProviders(ctx, "find by "+col,
		`SELECT `+providerColumns+` FROM providers WHERE `+col+` = $1 AND category = $2 ORDER BY seq`,
		nativeID, category)
}

func (s *PostgresStore) FindProvidersByNameKey(ctx context.Context, nameKey, category string) ([]model.Provider, error) {
	if nameKey == "" {
		return nil, nil
	}
	return s.queryProviders(ctx, "find by name key",
		`SELECT `+providerColumns+` FROM providers WHERE name_key = $1 AND category = $2 ORDER BY seq`,
		nameKey, category)
}

func (s *PostgresStore) ListProviders(ctx context.Context, f model.ProviderFilter) ([]model.Provider, error) {
	q := `SELECT ` + providerColumns + ` FROM providers
		WHERE ($1 = '' OR category = $1) AND (NOT $2 OR (active AND listed))
		ORDER BY category, score_overall DESC, seq`
	args := []any{f.Category, f.RankableOnly}
	if f.Limit > 0 {
		q += ` LIMIT $3`
		args = append(args, f.Limit)
	}
	return s.queryProviders(ctx, "list providers", q, args...)
}

func (s *PostgresStore) queryProviders(ctx context.Context, op, sql string, args ...any) ([]model.Provider, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s: scan", op)
		}
		out = append(out, *p)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s: iterate", op)
}

// UpdatePositions writes the given positions and zeroes every other provider
// in the category, in one transaction.
func (s *PostgresStore) UpdatePositions(ctx context.Context, category string, positions map[string]int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin positions tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`UPDATE providers SET position = 0 WHERE category = $1 AND position <> 0`, category,
	); err != nil {
		return eris.Wrapf(err, "postgres: clear positions for %s", category)
	}

	for _, id := range sortedKeys(positions) {
		if _, err := tx.Exec(ctx,
			`UPDATE providers SET position = $1 WHERE id = $2 AND category = $3`,
			positions[id], id, category,
		); err != nil {
			return eris.Wrapf(err, "postgres: set position for %s", id)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit positions")
}

// DeactivateUnseen clears active on providers in category (all when empty)
// none of whose linked source records was seen at or after seenBefore.
// Only providers whose every linked slot belongs to a queried source are
// judged; a provider with a link to an unqueried source is left alone.
func (s *PostgresStore) DeactivateUnseen(ctx context.Context, category string, sources []model.SourceType, seenBefore time.Time) (int64, error) {
	google, yelp := queriedSlots(sources)
	if !google && !yelp {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `UPDATE providers SET active = false, sync_deactivated = true, updated_at = $1
		WHERE active AND ($2 = '' OR category = $2)
		AND (google_id <> '' OR yelp_id <> '')
		AND (google_id = '' OR $3::boolean) AND (yelp_id = '' OR $4::boolean)
		AND NOT EXISTS (`+fmt.Sprintf(seenRecordSQL, "$5")+`)`,
		time.Now().UTC(), category, google, yelp, seenBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: deactivate unseen in %s", category)
	}
	return tag.RowsAffected(), nil
}

// ReactivateSeen restores providers that a previous sync deactivated once
// one of their linked records is seen again. Providers deactivated by hand
// are never touched.
func (s *PostgresStore) ReactivateSeen(ctx context.Context, category string, seenSince time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE providers SET active = true, sync_deactivated = false, updated_at = $1
		WHERE sync_deactivated AND ($2 = '' OR category = $2)
		AND EXISTS (`+fmt.Sprintf(seenRecordSQL, "$3")+`)`,
		time.Now().UTC(), category, seenSince.UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: reactivate seen in %s", category)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ProviderCounts(ctx context.Context) (map[model.SyncStatus]int, int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sync_status, COUNT(*), SUM(CASE WHEN active AND listed THEN 1 ELSE 0 END)
		FROM providers GROUP BY sync_status`)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: provider counts")
	}
	defer rows.Close()

	counts := make(map[model.SyncStatus]int)
	var activeListed int
	for rows.Next() {
		var status string
		var n, al int
		if err := rows.Scan(&status, &n, &al); err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan provider counts")
		}
		counts[model.SyncStatus(status)] = n
		activeListed += al
	}
	return counts, activeListed, eris.Wrap(rows.Err(), "postgres: iterate provider counts")
}
