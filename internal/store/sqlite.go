package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/provider-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS categories (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	slug         TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL,
	google_query TEXT NOT NULL DEFAULT '',
	yelp_alias   TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS source_records (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	source       TEXT NOT NULL,
	native_id    TEXT NOT NULL,
	category     TEXT NOT NULL,
	name         TEXT NOT NULL,
	rating       REAL,
	review_count INTEGER NOT NULL DEFAULT 0,
	photo_ref    TEXT NOT NULL DEFAULT '',
	address      TEXT NOT NULL DEFAULT '',
	latitude     REAL,
	longitude    REAL,
	phone        TEXT NOT NULL DEFAULT '',
	website      TEXT NOT NULL DEFAULT '',
	tags         TEXT NOT NULL DEFAULT '[]',
	closed       INTEGER NOT NULL DEFAULT 0,
	matched      INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL,
	ingested_at  DATETIME NOT NULL,
	last_seen_at DATETIME NOT NULL,
	UNIQUE (source, native_id, category)
);

CREATE INDEX IF NOT EXISTS idx_source_records_unmatched ON source_records(category, source, matched);

CREATE TABLE IF NOT EXISTS match_candidates (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT NOT NULL,
	category         TEXT NOT NULL,
	google_record_id INTEGER,
	yelp_record_id   INTEGER,
	confidence       REAL NOT NULL,
	class            TEXT NOT NULL,
	breakdown        TEXT NOT NULL DEFAULT '{}',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_match_candidates_run ON match_candidates(run_id);

CREATE TABLE IF NOT EXISTS providers (
	seq                       INTEGER PRIMARY KEY AUTOINCREMENT,
	id                        TEXT NOT NULL UNIQUE,
	name                      TEXT NOT NULL,
	name_key                  TEXT NOT NULL,
	category_id               INTEGER NOT NULL REFERENCES categories(id),
	category                  TEXT NOT NULL,
	address                   TEXT NOT NULL DEFAULT '',
	phone                     TEXT NOT NULL DEFAULT '',
	website                   TEXT NOT NULL DEFAULT '',
	photo_ref                 TEXT NOT NULL DEFAULT '',
	latitude                  REAL,
	longitude                 REAL,
	geom                      BLOB,
	rating                    REAL NOT NULL DEFAULT 0,
	review_count              INTEGER NOT NULL DEFAULT 0,
	google_id                 TEXT NOT NULL DEFAULT '',
	google_rating             REAL,
	google_review_count       INTEGER NOT NULL DEFAULT 0,
	google_photo_ref          TEXT NOT NULL DEFAULT '',
	yelp_id                   TEXT NOT NULL DEFAULT '',
	yelp_rating               REAL,
	yelp_review_count         INTEGER NOT NULL DEFAULT 0,
	yelp_photo_ref            TEXT NOT NULL DEFAULT '',
	sync_status               TEXT NOT NULL DEFAULT 'partial',
	score_client_satisfaction REAL NOT NULL DEFAULT 0,
	score_service_quality     REAL NOT NULL DEFAULT 0,
	score_punctuality         REAL NOT NULL DEFAULT 0,
	score_communication       REAL NOT NULL DEFAULT 0,
	score_value               REAL NOT NULL DEFAULT 0,
	score_overall             REAL NOT NULL DEFAULT 0,
	position                  INTEGER NOT NULL DEFAULT 0,
	verified                  INTEGER NOT NULL DEFAULT 0,
	claimed                   INTEGER NOT NULL DEFAULT 0,
	active                    INTEGER NOT NULL DEFAULT 1,
	sync_deactivated          INTEGER NOT NULL DEFAULT 0,
	direct_provider           INTEGER NOT NULL DEFAULT 0,
	listed                    INTEGER NOT NULL DEFAULT 1,
	view_count                INTEGER NOT NULL DEFAULT 0,
	contact_count             INTEGER NOT NULL DEFAULT 0,
	last_synced_at            DATETIME,
	created_at                DATETIME NOT NULL,
	updated_at                DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_providers_google ON providers(category, google_id) WHERE google_id <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_providers_yelp ON providers(category, yelp_id) WHERE yelp_id <> '';
CREATE INDEX IF NOT EXISTS idx_providers_name_key ON providers(category, name_key);
CREATE INDEX IF NOT EXISTS idx_providers_rank ON providers(category, score_overall DESC, seq);

CREATE TABLE IF NOT EXISTS merge_events (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT NOT NULL,
	provider_id      TEXT NOT NULL REFERENCES providers(id),
	google_record_id INTEGER,
	yelp_record_id   INTEGER,
	action           TEXT NOT NULL,
	confidence       REAL NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	success      INTEGER NOT NULL DEFAULT 0,
	summary      TEXT NOT NULL DEFAULT '{}',
	errors       TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// DB returns the underlying handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTimeLayout is fixed width so stored timestamps sort lexically.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000-07:00"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func sqliteTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return sqliteTime(*t)
}

// --- Categories ---

func (s *SQLiteStore) UpsertCategories(ctx context.Context, cats []model.Category) error {
	for _, c := range cats {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO categories (slug, name, google_query, yelp_alias) VALUES (?, ?, ?, ?)
			ON CONFLICT (slug) DO UPDATE SET name = excluded.name,
				google_query = excluded.google_query, yelp_alias = excluded.yelp_alias`,
			c.Slug, c.Name, c.GoogleQuery, c.YelpAlias,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert category %s", c.Slug)
		}
	}
	return nil
}

func (s *SQLiteStore) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY slug`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list categories")
	}
	defer rows.Close() //nolint:errcheck

	var cats []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.GoogleQuery, &c.YelpAlias); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		cats = append(cats, c)
	}
	return cats, eris.Wrap(rows.Err(), "sqlite: iterate categories")
}

func (s *SQLiteStore) GetCategoryBySlug(ctx context.Context, slug string) (*model.Category, error) {
	var c model.Category
	err := s.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE slug = ?`, slug).
		Scan(&c.ID, &c.Slug, &c.Name, &c.GoogleQuery, &c.YelpAlias)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get category %s", slug)
	}
	return &c, nil
}

// --- Source records ---

const sqliteUpsertRecordSQL = `INSERT INTO source_records (
	source, native_id, category, name, rating, review_count, photo_ref, address,
	latitude, longitude, phone, website, tags, closed, matched, content_hash,
	ingested_at, last_seen_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
ON CONFLICT (source, native_id, category) DO UPDATE SET
	name = excluded.name, rating = excluded.rating, review_count = excluded.review_count,
	photo_ref = excluded.photo_ref, address = excluded.address,
	latitude = excluded.latitude, longitude = excluded.longitude,
	phone = excluded.phone, website = excluded.website, tags = excluded.tags,
	closed = excluded.closed,
	matched = source_records.matched AND source_records.content_hash = excluded.content_hash,
	content_hash = excluded.content_hash, last_seen_at = excluded.last_seen_at`

func (s *SQLiteStore) UpsertSourceRecords(ctx context.Context, records []model.SourceRecord) (int64, error) {
	records = dedupeRecords(records)
	if len(records) == 0 {
		return 0, nil
	}
	now := sqliteTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert records")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertRecordSQL)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert records")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for i := range records {
		r := &records[i]
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal tags for %s", r.Key())
		}
		if _, err := stmt.ExecContext(ctx,
			string(r.Source), r.NativeID, r.Category, r.Name, r.Rating, r.ReviewCount, r.PhotoRef, r.Address,
			r.Latitude, r.Longitude, r.Phone, r.Website, string(tagsJSON), r.Closed, r.Fingerprint(),
			now, now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert record %s", r.Key())
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert records")
	}
	return n, nil
}

func (s *SQLiteStore) ListSourceRecords(ctx context.Context, f model.RecordFilter) ([]model.SourceRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM source_records WHERE 1=1`
	var args []any
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(f.Source))
	}
	if f.UnmatchedOnly {
		query += ` AND NOT matched`
	}
	if !f.IncludeClosed {
		query += ` AND NOT closed`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list source records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SourceRecord
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate source records")
}

func (s *SQLiteStore) GetSourceRecord(ctx context.Context, source model.SourceType, nativeID, category string) (*model.SourceRecord, error) {
	r, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM source_records
		WHERE source = ? AND native_id = ? AND category = ?`,
		string(source), nativeID, category,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get source record %s:%s", source, nativeID)
	}
	return r, nil
}

func scanSQLiteRecord(s scanner) (*model.SourceRecord, error) {
	var r model.SourceRecord
	var tags string
	if err := s.Scan(recordDests(&r, &tags)...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal tags for record %d", r.ID)
	}
	return &r, nil
}

func (s *SQLiteStore) MarkMatched(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `UPDATE source_records SET matched = 1 WHERE id IN (` + placeholders(len(ids)) + `)`
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return eris.Wrap(err, "sqlite: mark matched")
	}
	return nil
}

func (s *SQLiteStore) ResetMatches(ctx context.Context, category string) (int64, error) {
	query := `UPDATE source_records SET matched = 0 WHERE matched`
	var args []any
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reset matches")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: reset matches rows affected")
}

func (s *SQLiteStore) CountSourceRecords(ctx context.Context) (map[model.SourceType]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM source_records GROUP BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count source records")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.SourceType]int)
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source count")
		}
		counts[model.SourceType(src)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate source counts")
}

// --- Match audit ---

func (s *SQLiteStore) InsertMatchCandidates(ctx context.Context, candidates []model.MatchCandidate) error {
	if len(candidates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert candidates")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO match_candidates (run_id, category, google_record_id, yelp_record_id, confidence, class, breakdown, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert candidates")
	}
	defer stmt.Close() //nolint:errcheck

	now := sqliteTime(time.Now())
	for _, c := range candidates {
		bd, err := json.Marshal(c.Breakdown)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal match breakdown")
		}
		if _, err := stmt.ExecContext(ctx,
			c.RunID, c.Category, c.GoogleRecordID, c.YelpRecordID, c.Confidence, string(c.Class), string(bd), now,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert match candidate")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit candidates")
}

func (s *SQLiteStore) MatchStats(ctx context.Context) ([]model.MatchStats, error) {
	rows, err := s.db.QueryContext(ctx, matchStatsSQL)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: match stats")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MatchStats
	for rows.Next() {
		var m model.MatchStats
		if err := rows.Scan(&m.Category, &m.GoogleTotal, &m.GoogleMatched, &m.YelpTotal, &m.YelpMatched); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match stats")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate match stats")
}

func (s *SQLiteStore) RecordMerge(ctx context.Context, ev model.MergeEvent) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO merge_events (run_id, provider_id, google_record_id, yelp_record_id, action, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.ProviderID, ev.GoogleRecordID, ev.YelpRecordID, string(ev.Action), ev.Confidence,
		sqliteTime(time.Now()),
	); err != nil {
		return eris.Wrapf(err, "sqlite: record merge for %s", ev.ProviderID)
	}
	return nil
}

// --- Run history ---

func (s *SQLiteStore) StartRun(ctx context.Context, mode model.SyncMode) (*model.RunRecord, error) {
	run := &model.RunRecord{
		ID:        uuid.New().String(),
		Mode:      mode,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, mode, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Mode), string(run.Status), sqliteTime(run.StartedAt),
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: start run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.RunRecord) error {
	summary, errs, err := marshalRunDetails(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, completed_at = ?, duration_ms = ?, success = ?,
			summary = ?, errors = ? WHERE id = ?`,
		string(run.Status), sqliteTimePtr(run.CompletedAt), run.DurationMS, run.Success,
		string(summary), string(errs), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) LastSuccessfulRun(ctx context.Context, mode model.SyncMode) (*model.RunRecord, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs
		WHERE mode = ? AND status = 'complete' AND success
		ORDER BY started_at DESC LIMIT 1`, string(mode)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last successful run")
	}
	return run, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Errorf("sqlite: %s %s not found", entity, id)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
