package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-sync/internal/model"
)

const sqliteInsertProviderSQL = `INSERT INTO providers (
	id, name, name_key, category_id, category,
	address, phone, website, photo_ref, latitude, longitude, geom, rating, review_count,
	google_id, google_rating, google_review_count, google_photo_ref,
	yelp_id, yelp_rating, yelp_review_count, yelp_photo_ref,
	sync_status, score_client_satisfaction, score_service_quality, score_punctuality,
	score_communication, score_value, score_overall, position,
	verified, claimed, active, direct_provider, listed, view_count, contact_count,
	last_synced_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const sqliteUpdateProviderSQL = `UPDATE providers SET
	name = ?, name_key = ?, address = ?, phone = ?, website = ?, photo_ref = ?,
	latitude = ?, longitude = ?, geom = ?, rating = ?, review_count = ?,
	google_id = ?, google_rating = ?, google_review_count = ?, google_photo_ref = ?,
	yelp_id = ?, yelp_rating = ?, yelp_review_count = ?, yelp_photo_ref = ?,
	sync_status = ?, score_client_satisfaction = ?, score_service_quality = ?,
	score_punctuality = ?, score_communication = ?, score_value = ?, score_overall = ?,
	last_synced_at = ?, updated_at = ?
WHERE id = ?`

func (s *SQLiteStore) CreateProvider(ctx context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	geom, err := providerGeom(p)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	ts := sqliteTime(now)

	res, err := s.db.ExecContext(ctx, sqliteInsertProviderSQL,
		p.ID, p.Name, p.NameKey, p.CategoryID, p.Category,
		p.Address, p.Phone, p.Website, p.PhotoRef, p.Latitude, p.Longitude, geom, p.Rating, p.ReviewCount,
		p.Google.NativeID, p.Google.Rating, p.Google.ReviewCount, p.Google.PhotoRef,
		p.Yelp.NativeID, p.Yelp.Rating, p.Yelp.ReviewCount, p.Yelp.PhotoRef,
		string(p.SyncStatus), p.Scores.ClientSatisfaction, p.Scores.ServiceQuality, p.Scores.Punctuality,
		p.Scores.Communication, p.Scores.Value, p.Scores.Overall, p.Position,
		p.Verified, p.Claimed, p.Active, p.DirectProvider, p.Listed, p.ViewCount, p.ContactCount,
		ts, ts, ts,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: create provider %s", p.Name)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: provider seq")
	}
	p.Seq = seq
	p.LastSyncedAt = &now
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) UpdateProviderSourceFields(ctx context.Context, p *model.Provider) error {
	geom, err := providerGeom(p)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, sqliteUpdateProviderSQL, sourceFieldArgs(p, geom, sqliteTime(now))...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update provider %s", p.ID)
	}
	if err := checkRowsAffected(res, "provider", p.ID); err != nil {
		return err
	}
	p.LastSyncedAt = &now
	p.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) SetProviderSyncStatus(ctx context.Context, id string, status model.SyncStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET sync_status = ?, updated_at = ? WHERE id = ?`,
		string(status), sqliteTime(time.Now()), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set sync status %s", id)
	}
	return checkRowsAffected(res, "provider", id)
}

func (s *SQLiteStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	p, err := scanProvider(s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get provider %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) FindProvidersByNativeID(ctx context.Context, source model.SourceType, nativeID, category string) ([]model.Provider, error) {
	if nativeID == "" {
		return nil, nil
	}
	col := slotColumn(source)
	return s.queryProviders(ctx, "find by "+col,
		`SELECT `+providerColumns+` FROM providers WHERE `+col+` = ? AND category = ? ORDER BY seq`,
		nativeID, category)
}

func (s *SQLiteStore) FindProvidersByNameKey(ctx context.Context, nameKey, category string) ([]model.Provider, error) {
	if nameKey == "" {
		return nil, nil
	}
	return s.queryProviders(ctx, "find by name key",
		`SELECT `+providerColumns+` FROM providers WHERE name_key = ? AND category = ? ORDER BY seq`,
		nameKey, category)
}

func (s *SQLiteStore) ListProviders(ctx context.Context, f model.ProviderFilter) ([]model.Provider, error) {
	q := `SELECT ` + providerColumns + ` FROM providers WHERE 1=1`
	var args []any
	if f.Category != "" {
		q += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.RankableOnly {
		q += ` AND active AND listed`
	}
	q += ` ORDER BY category, score_overall DESC, seq`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.queryProviders(ctx, "list providers", q, args...)
}

func (s *SQLiteStore) queryProviders(ctx context.Context, op, query string, args ...any) ([]model.Provider, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s: scan", op)
		}
		out = append(out, *p)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s: iterate", op)
}

func (s *SQLiteStore) UpdatePositions(ctx context.Context, category string, positions map[string]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin positions tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE providers SET position = 0 WHERE category = ? AND position <> 0`, category,
	); err != nil {
		return eris.Wrapf(err, "sqlite: clear positions for %s", category)
	}
	for _, id := range sortedKeys(positions) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE providers SET position = ? WHERE id = ? AND category = ?`,
			positions[id], id, category,
		); err != nil {
			return eris.Wrapf(err, "sqlite: set position for %s", id)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit positions")
}

func (s *SQLiteStore) DeactivateUnseen(ctx context.Context, category string, sources []model.SourceType, seenBefore time.Time) (int64, error) {
	google, yelp := queriedSlots(sources)
	if !google && !yelp {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE providers SET active = 0, sync_deactivated = 1, updated_at = ?
		WHERE active AND (? = '' OR category = ?)
		AND (google_id <> '' OR yelp_id <> '')
		AND (google_id = '' OR ?) AND (yelp_id = '' OR ?)
		AND NOT EXISTS (`+fmt.Sprintf(seenRecordSQL, "?")+`)`,
		sqliteTime(time.Now()), category, category, google, yelp, sqliteTime(seenBefore),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: deactivate unseen in %s", category)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: deactivate rows affected")
}

func (s *SQLiteStore) ReactivateSeen(ctx context.Context, category string, seenSince time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE providers SET active = 1, sync_deactivated = 0, updated_at = ?
		WHERE sync_deactivated AND (? = '' OR category = ?)
		AND EXISTS (`+fmt.Sprintf(seenRecordSQL, "?")+`)`,
		sqliteTime(time.Now()), category, category, sqliteTime(seenSince),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: reactivate seen in %s", category)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: reactivate rows affected")
}

func (s *SQLiteStore) ProviderCounts(ctx context.Context) (map[model.SyncStatus]int, int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sync_status, COUNT(*), SUM(CASE WHEN active AND listed THEN 1 ELSE 0 END)
		FROM providers GROUP BY sync_status`)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: provider counts")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.SyncStatus]int)
	var activeListed int
	for rows.Next() {
		var status string
		var n, al int
		if err := rows.Scan(&status, &n, &al); err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan provider counts")
		}
		counts[model.SyncStatus(status)] = n
		activeListed += al
	}
	return counts, activeListed, eris.Wrap(rows.Err(), "sqlite: iterate provider counts")
}
