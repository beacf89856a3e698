package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-sync/internal/db"
	"github.com/sells-group/provider-sync/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres opens a pgx pool and wraps it in a PostgresStore.
func NewPostgres(ctx context.Context, connString string, opts db.PoolOptions) (*PostgresStore, error) {
	pool, err := db.Open(ctx, connString, opts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close is a no-op.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Categories ---

func (s *PostgresStore) UpsertCategories(ctx context.Context, cats []model.Category) error {
	for _, c := range cats {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO categories (slug, name, google_query, yelp_alias) VALUES ($1, $2, $3, $4)
			ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name,
				google_query = EXCLUDED.google_query, yelp_alias = EXCLUDED.yelp_alias`,
			c.Slug, c.Name, c.GoogleQuery, c.YelpAlias,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert category %s", c.Slug)
		}
	}
	return nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY slug`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list categories")
	}
	defer rows.Close()

	var cats []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.GoogleQuery, &c.YelpAlias); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		cats = append(cats, c)
	}
	return cats, eris.Wrap(rows.Err(), "postgres: iterate categories")
}

func (s *PostgresStore) GetCategoryBySlug(ctx context.Context, slug string) (*model.Category, error) {
	var c model.Category
	err := s.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE slug = $1`, slug).
		Scan(&c.ID, &c.Slug, &c.Name, &c.GoogleQuery, &c.YelpAlias)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get category %s", slug)
	}
	return &c, nil
}

// --- Source records ---

var sourceRecordUpsert = db.UpsertConfig{
	Table: "source_records",
	Columns: []string{
		"source", "native_id", "category", "name", "rating", "review_count",
		"photo_ref", "address", "latitude", "longitude", "phone", "website",
		"tags", "closed", "matched", "content_hash", "ingested_at", "last_seen_at",
	},
	ConflictKeys: []string{"source", "native_id", "category"},
	UpdateCols: []string{
		"name", "rating", "review_count", "photo_ref", "address", "latitude", "longitude",
		"phone", "website", "tags", "closed", "matched", "content_hash", "last_seen_at",
	},
	UpdateExprs: map[string]string{
		// Content changes release a consumed record for re-matching.
		"matched": "source_records.matched AND source_records.content_hash = EXCLUDED.content_hash",
	},
}

func (s *PostgresStore) UpsertSourceRecords(ctx context.Context, records []model.SourceRecord) (int64, error) {
	records = dedupeRecords(records)
	now := time.Now().UTC()

	rows := make([][]any, 0, len(records))
	for i := range records {
		r := &records[i]
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		rows = append(rows, []any{
			string(r.Source), r.NativeID, r.Category, r.Name, r.Rating, r.ReviewCount,
			r.PhotoRef, r.Address, r.Latitude, r.Longitude, r.Phone, r.Website,
			tags, r.Closed, false, r.Fingerprint(), now, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, sourceRecordUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert source records")
	}
	return n, nil
}

func (s *PostgresStore) ListSourceRecords(ctx context.Context, f model.RecordFilter) ([]model.SourceRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM source_records
		WHERE ($1 = '' OR category = $1)
		  AND ($2 = '' OR source = $2)
		  AND (NOT $3 OR NOT matched)
		  AND ($4 OR NOT closed)
		ORDER BY id`,
		f.Category, string(f.Source), f.UnmatchedOnly, f.IncludeClosed,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list source records")
	}
	defer rows.Close()

	var out []model.SourceRecord
	for rows.Next() {
		var r model.SourceRecord
		if err := rows.Scan(recordDests(&r, &r.Tags)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source record")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate source records")
}

func (s *PostgresStore) GetSourceRecord(ctx context.Context, source model.SourceType, nativeID, category string) (*model.SourceRecord, error) {
	var r model.SourceRecord
	err := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM source_records
		WHERE source = $1 AND native_id = $2 AND category = $3`,
		string(source), nativeID, category,
	).Scan(recordDests(&r, &r.Tags)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get source record %s:%s", source, nativeID)
	}
	return &r, nil
}

func (s *PostgresStore) MarkMatched(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `UPDATE source_records SET matched = true WHERE id = ANY($1)`, ids); err != nil {
		return eris.Wrap(err, "postgres: mark matched")
	}
	return nil
}

func (s *PostgresStore) ResetMatches(ctx context.Context, category string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE source_records SET matched = false WHERE matched AND ($1 = '' OR category = $1)`, category)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reset matches")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountSourceRecords(ctx context.Context) (map[model.SourceType]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT source, COUNT(*) FROM source_records GROUP BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count source records")
	}
	defer rows.Close()

	counts := make(map[model.SourceType]int)
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source count")
		}
		counts[model.SourceType(src)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate source counts")
}

// --- Match audit ---

var candidateColumns = []string{
	"run_id", "category", "google_record_id", "yelp_record_id", "confidence", "class", "breakdown",
}

func (s *PostgresStore) InsertMatchCandidates(ctx context.Context, candidates []model.MatchCandidate) error {
	rows := make([][]any, 0, len(candidates))
	for _, c := range candidates {
		bd, err := json.Marshal(c.Breakdown)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal match breakdown")
		}
		rows = append(rows, []any{
			c.RunID, c.Category, c.GoogleRecordID, c.YelpRecordID, c.Confidence, string(c.Class), string(bd),
		})
	}
	if _, err := db.CopyFrom(ctx, s.pool, "match_candidates", candidateColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: insert match candidates")
	}
	return nil
}

const matchStatsSQL = `SELECT category,
	SUM(CASE WHEN source = 'google' THEN 1 ELSE 0 END),
	SUM(CASE WHEN source = 'google' AND matched THEN 1 ELSE 0 END),
	SUM(CASE WHEN source = 'yelp' THEN 1 ELSE 0 END),
	SUM(CASE WHEN source = 'yelp' AND matched THEN 1 ELSE 0 END)
FROM source_records GROUP BY category ORDER BY category`

func (s *PostgresStore) MatchStats(ctx context.Context) ([]model.MatchStats, error) {
	rows, err := s.pool.Query(ctx, matchStatsSQL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: match stats")
	}
	defer rows.Close()

	var out []model.MatchStats
	for rows.Next() {
		var m model.MatchStats
		if err := rows.Scan(&m.Category, &m.GoogleTotal, &m.GoogleMatched, &m.YelpTotal, &m.YelpMatched); err != nil {
			return nil, eris.Wrap(err, "postgres: scan match stats")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate match stats")
}

func (s *PostgresStore) RecordMerge(ctx context.Context, ev model.MergeEvent) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO merge_events (run_id, provider_id, google_record_id, yelp_record_id, action, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.RunID, ev.ProviderID, ev.GoogleRecordID, ev.YelpRecordID, string(ev.Action), ev.Confidence,
	); err != nil {
		return eris.Wrapf(err, "postgres: record merge for %s", ev.ProviderID)
	}
	return nil
}

// --- Run history ---

func (s *PostgresStore) StartRun(ctx context.Context, mode model.SyncMode) (*model.RunRecord, error) {
	run := &model.RunRecord{
		ID:        uuid.New().String(),
		Mode:      mode,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, mode, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Mode), string(run.Status), run.StartedAt,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: start run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *model.RunRecord) error {
	summary, errs, err := marshalRunDetails(run)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, completed_at = $2, duration_ms = $3, success = $4,
			summary = $5, errors = $6 WHERE id = $7`,
		string(run.Status), run.CompletedAt, run.DurationMS, run.Success, summary, errs, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run %s not found", run.ID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresStore) LastSuccessfulRun(ctx context.Context, mode model.SyncMode) (*model.RunRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM sync_runs
		WHERE mode = $1 AND status = 'complete' AND success
		ORDER BY started_at DESC LIMIT 1`, string(mode))
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last successful run")
	}
	return run, nil
}

func marshalRunDetails(run *model.RunRecord) ([]byte, []byte, error) {
	summary := run.Summary
	if summary == nil {
		summary = map[string]int{}
	}
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal run summary")
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal run errors")
	}
	return summaryJSON, errsJSON, nil
}

func scanRun(s scanner) (*model.RunRecord, error) {
	var run model.RunRecord
	var summary, errs []byte
	if err := s.Scan(&run.ID, &run.Mode, &run.Status, &run.StartedAt, &run.CompletedAt,
		&run.DurationMS, &run.Success, &summary, &errs); err != nil {
		return nil, err
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &run.Summary); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal run summary")
		}
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &run.Errors); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal run errors")
		}
	}
	return &run, nil
}
