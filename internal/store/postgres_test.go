package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-sync/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_GetProvider_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)SELECT id, seq, name,.* FROM providers WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.GetProvider(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProvider_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM providers WHERE id = \$1`).
		WithArgs("p1").
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetProvider(context.Background(), "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get provider p1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCategoryBySlug(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, slug, name, google_query, yelp_alias FROM categories WHERE slug = \$1`).
		WithArgs("dj").
		WillReturnRows(pgxmock.NewRows([]string{"id", "slug", "name", "google_query", "yelp_alias"}).
			AddRow(int64(3), "dj", "DJs", "wedding dj", "djs"))

	cat, err := s.GetCategoryBySlug(context.Background(), "dj")
	require.NoError(t, err)
	require.NotNil(t, cat)
	assert.Equal(t, int64(3), cat.ID)
	assert.Equal(t, "djs", cat.YelpAlias)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertSourceRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_source_records"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_source_records"}, sourceRecordUpsert.Columns).
		WillReturnResult(1)
	mock.ExpectExec(`(?s)INSERT INTO "source_records".*ON CONFLICT.*source_records\.matched AND source_records\.content_hash = EXCLUDED\.content_hash`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := s.UpsertSourceRecords(context.Background(), []model.SourceRecord{
		{Source: model.SourceGoogle, NativeID: "g1", Category: "dj", Name: "Chris Evans DJ"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostgresStore_UpsertSourceRecords_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.UpsertSourceRecords(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkMatched(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE source_records SET matched = true WHERE id = ANY\(\$1\)`).
		WithArgs([]int64{1, 2}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	require.NoError(t, s.MarkMatched(context.Background(), []int64{1, 2}))
	require.NoError(t, s.MarkMatched(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertMatchCandidates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	g, y := int64(1), int64(2)
	mock.ExpectCopyFrom(pgx.Identifier{"match_candidates"}, candidateColumns).
		WillReturnResult(1)

	err := s.InsertMatchCandidates(context.Background(), []model.MatchCandidate{
		{RunID: "r1", Category: "dj", GoogleRecordID: &g, YelpRecordID: &y, Confidence: 0.9, Class: model.MatchAuto},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateProviderSourceFields_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE providers SET\s+name = \$1`).
		WithArgs(append(anyArgs(28), "p1")...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateProviderSourceFields(context.Background(), &model.Provider{ID: "p1", Name: "A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateProvider(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)INSERT INTO providers \(.*RETURNING seq`).
		WithArgs(anyArgs(39)...).
		WillReturnRows(pgxmock.NewRows([]string{"seq"}).AddRow(int64(42)))

	p := &model.Provider{
		Name: "Chris Evans DJ", NameKey: "chris evans dj", CategoryID: 1, Category: "dj",
		Latitude: model.Float(30.2672), Longitude: model.Float(-97.7431), Active: true, Listed: true,
	}
	require.NoError(t, s.CreateProvider(context.Background(), p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, int64(42), p.Seq)
	assert.NotNil(t, p.LastSyncedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdatePositions(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE providers SET position = 0 WHERE category = \$1`).
		WithArgs("dj").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec(`UPDATE providers SET position = \$1 WHERE id = \$2`).
		WithArgs(1, "b", "dj").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE providers SET position = \$1 WHERE id = \$2`).
		WithArgs(2, "a", "dj").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	require.NoError(t, s.UpdatePositions(context.Background(), "dj", map[string]int{"a": 2, "b": 1}))
}

func TestPostgresStore_UpdatePositions_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE providers SET position = 0`).
		WithArgs("dj").
		WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	err := s.UpdatePositions(context.Background(), "dj", map[string]int{"a": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear positions")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now()
	mock.ExpectExec(`UPDATE sync_runs SET status = \$1`).
		WithArgs(append(anyArgs(6), "r1")...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), &model.RunRecord{ID: "r1", Status: model.RunStatusComplete, CompletedAt: &now})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run r1 not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LastSuccessfulRun_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM sync_runs\s+WHERE mode = \$1 AND status = 'complete' AND success`).
		WithArgs("full").
		WillReturnError(pgx.ErrNoRows)

	run, err := s.LastSuccessfulRun(context.Background(), model.ModeFull)
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)
	completed := started.Add(time.Minute)
	mock.ExpectQuery(`SELECT id, mode, status,.* FROM sync_runs ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(MaxRunHistory).
		WillReturnRows(pgxmock.NewRows([]string{"id", "mode", "status", "started_at", "completed_at", "duration_ms", "success", "summary", "errors"}).
			AddRow("r1", model.ModeFull, model.RunStatusComplete, started, &completed, int64(60000), true,
				[]byte(`{"providers_created":3}`), []byte(`[]`)))

	runs, err := s.ListRuns(context.Background(), 5000)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Summary["providers_created"])
	assert.Empty(t, runs[0].Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateUnseen(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	seenBefore := time.Now()
	mock.ExpectExec(`UPDATE providers SET active = false, sync_deactivated = true`).
		WithArgs(pgxmock.AnyArg(), "dj", true, false, seenBefore.UTC()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := s.DeactivateUnseen(context.Background(), "dj", []model.SourceType{model.SourceGoogle}, seenBefore)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateUnseen_NoSources(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.DeactivateUnseen(context.Background(), "dj", nil, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReactivateSeen(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	since := time.Now()
	mock.ExpectExec(`UPDATE providers SET active = true, sync_deactivated = false`).
		WithArgs(pgxmock.AnyArg(), "", since.UTC()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.ReactivateSeen(context.Background(), "", since)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_init.sql"))
	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS postgis`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("002_provider_geom.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`ADD COLUMN IF NOT EXISTS sync_deactivated`).WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("003_provider_sync_deactivated.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// anyArgs matches n positional arguments of any value.
func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}
