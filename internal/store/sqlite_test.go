package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-sync/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedCategory(t *testing.T, st *SQLiteStore, slug string) *model.Category {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertCategories(ctx, []model.Category{{Slug: slug, Name: slug, GoogleQuery: slug, YelpAlias: slug}}))
	cat, err := st.GetCategoryBySlug(ctx, slug)
	require.NoError(t, err)
	require.NotNil(t, cat)
	return cat
}

func testRecord(source model.SourceType, nativeID, name string) model.SourceRecord {
	return model.SourceRecord{
		Source:      source,
		NativeID:    nativeID,
		Category:    "dj",
		Name:        name,
		Rating:      model.Float(4.5),
		ReviewCount: 10,
		Address:     "100 Congress Ave, Austin, TX",
		Latitude:    model.Float(30.2672),
		Longitude:   model.Float(-97.7431),
		Phone:       "+1 512-555-0100",
		Tags:        []string{"dj", "wedding"},
	}
}

// --- Categories ---

func TestSQLite_Categories(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertCategories(ctx, []model.Category{
		{Slug: "dj", Name: "DJs", GoogleQuery: "wedding dj", YelpAlias: "djs"},
		{Slug: "photographer", Name: "Photographers", GoogleQuery: "wedding photographer", YelpAlias: "eventphotography"},
	}))
	// Re-seeding updates in place.
	require.NoError(t, st.UpsertCategories(ctx, []model.Category{
		{Slug: "dj", Name: "DJs & MCs", GoogleQuery: "wedding dj", YelpAlias: "djs"},
	}))

	cats, err := st.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "dj", cats[0].Slug)
	assert.Equal(t, "DJs & MCs", cats[0].Name)
	assert.NotZero(t, cats[0].ID)

	missing, err := st.GetCategoryBySlug(ctx, "florist")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// --- Source records ---

func TestSQLite_UpsertSourceRecords_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.UpsertSourceRecords(ctx, []model.SourceRecord{
		testRecord(model.SourceGoogle, "g1", "Chris Evans DJ"),
		testRecord(model.SourceYelp, "y1", "Chris Evans DJ Services"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := st.GetSourceRecord(ctx, model.SourceGoogle, "g1", "dj")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Chris Evans DJ", got.Name)
	assert.Equal(t, []string{"dj", "wedding"}, got.Tags)
	require.NotNil(t, got.Rating)
	assert.InDelta(t, 4.5, *got.Rating, 1e-9)
	assert.False(t, got.Matched)
	assert.NotEmpty(t, got.ContentHash)
	assert.False(t, got.IngestedAt.IsZero())

	missing, err := st.GetSourceRecord(ctx, model.SourceGoogle, "nope", "dj")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_UpsertSourceRecords_MatchedResetOnChange(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	g1 := testRecord(model.SourceGoogle, "g1", "Chris Evans DJ")
	g2 := testRecord(model.SourceGoogle, "g2", "Hill Country Sound")
	_, err := st.UpsertSourceRecords(ctx, []model.SourceRecord{g1, g2})
	require.NoError(t, err)

	first, err := st.GetSourceRecord(ctx, model.SourceGoogle, "g1", "dj")
	require.NoError(t, err)
	second, err := st.GetSourceRecord(ctx, model.SourceGoogle, "g2", "dj")
	require.NoError(t, err)
	require.NoError(t, st.MarkMatched(ctx, []int64{first.ID, second.ID}))

	// g1 unchanged, g2 gets a new rating.
	g2.Rating = model.Float(3.9)
	_, err = st.UpsertSourceRecords(ctx, []model.SourceRecord{g1, g2})
	require.NoError(t, err)

	first, err = st.GetSourceRecord(ctx, model.SourceGoogle, "g1", "dj")
	require.NoError(t, err)
	second, err = st.GetSourceRecord(ctx, model.SourceGoogle, "g2", "dj")
	require.NoError(t, err)

	assert.True(t, first.Matched, "unchanged record stays consumed")
	assert.False(t, second.Matched, "changed record is released")
	assert.InDelta(t, 3.9, *second.Rating, 1e-9)
	assert.False(t, first.LastSeenAt.Before(first.IngestedAt))
}

func TestSQLite_UpsertSourceRecords_DedupesBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := testRecord(model.SourceYelp, "y1", "Old Name")
	b := testRecord(model.SourceYelp, "y1", "New Name")
	n, err := st.UpsertSourceRecords(ctx, []model.SourceRecord{a, b})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := st.GetSourceRecord(ctx, model.SourceYelp, "y1", "dj")
	require.NoError(t, err)
	assert.Equal(t, "New Name", got.Name)
}

func TestSQLite_ListSourceRecords_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	closed := testRecord(model.SourceYelp, "y2", "Gone DJ")
	closed.Closed = true
	other := testRecord(model.SourceGoogle, "g9", "Shutter Co")
	other.Category = "photographer"

	_, err := st.UpsertSourceRecords(ctx, []model.SourceRecord{
		testRecord(model.SourceGoogle, "g1", "A"),
		testRecord(model.SourceYelp, "y1", "B"),
		closed, other,
	})
	require.NoError(t, err)

	all, err := st.ListSourceRecords(ctx, model.RecordFilter{IncludeClosed: true})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	open, err := st.ListSourceRecords(ctx, model.RecordFilter{Category: "dj"})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	yelp, err := st.ListSourceRecords(ctx, model.RecordFilter{Category: "dj", Source: model.SourceYelp, IncludeClosed: true})
	require.NoError(t, err)
	assert.Len(t, yelp, 2)

	require.NoError(t, st.MarkMatched(ctx, []int64{open[0].ID}))
	unmatched, err := st.ListSourceRecords(ctx, model.RecordFilter{Category: "dj", UnmatchedOnly: true})
	require.NoError(t, err)
	require.Len(t, unmatched, 1)
	assert.Equal(t, open[1].ID, unmatched[0].ID)

	reset, err := st.ResetMatches(ctx, "dj")
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	counts, err := st.CountSourceRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.SourceGoogle])
	assert.Equal(t, 2, counts[model.SourceYelp])
}

// --- Match audit ---

func TestSQLite_MatchCandidatesAndStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cat := seedCategory(t, st, "dj")

	_, err := st.UpsertSourceRecords(ctx, []model.SourceRecord{
		testRecord(model.SourceGoogle, "g1", "A"),
		testRecord(model.SourceGoogle, "g2", "B"),
		testRecord(model.SourceYelp, "y1", "A"),
	})
	require.NoError(t, err)
	g1, _ := st.GetSourceRecord(ctx, model.SourceGoogle, "g1", "dj")
	y1, _ := st.GetSourceRecord(ctx, model.SourceYelp, "y1", "dj")

	require.NoError(t, st.InsertMatchCandidates(ctx, []model.MatchCandidate{
		{RunID: "run-1", Category: "dj", GoogleRecordID: &g1.ID, YelpRecordID: &y1.ID, Confidence: 0.91, Class: model.MatchAuto},
	}))
	require.NoError(t, st.MarkMatched(ctx, []int64{g1.ID, y1.ID}))

	p := &model.Provider{Name: "A", NameKey: "a", CategoryID: cat.ID, Category: "dj", Active: true, Listed: true, SyncStatus: model.SyncSynced}
	require.NoError(t, st.CreateProvider(ctx, p))
	require.NoError(t, st.RecordMerge(ctx, model.MergeEvent{
		RunID: "run-1", ProviderID: p.ID, GoogleRecordID: &g1.ID, YelpRecordID: &y1.ID,
		Action: model.MergeCreated, Confidence: 0.91,
	}))

	stats, err := st.MatchStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, model.MatchStats{Category: "dj", GoogleTotal: 2, GoogleMatched: 1, YelpTotal: 1, YelpMatched: 1}, stats[0])
}

// --- Providers ---

func TestSQLite_Provider_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cat := seedCategory(t, st, "dj")

	p := &model.Provider{
		Name: "Chris Evans DJ", NameKey: "chris evans dj", CategoryID: cat.ID, Category: "dj",
		Latitude: model.Float(30.2672), Longitude: model.Float(-97.7431),
		Rating: 4.7, ReviewCount: 57,
		Google:     model.SourceSlot{NativeID: "g1", Rating: model.Float(4.8), ReviewCount: 45},
		Yelp:       model.SourceSlot{NativeID: "y1", Rating: model.Float(4.6), ReviewCount: 12},
		SyncStatus: model.SyncSynced,
		Active:     true, Listed: true,
	}
	require.NoError(t, st.CreateProvider(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.Positive(t, p.Seq)

	got, err := st.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, model.SourceFieldsEqual(p, got))
	assert.Equal(t, "chris evans dj", got.NameKey)
	assert.True(t, got.Active)
	require.NotNil(t, got.LastSyncedAt)

	byGoogle, err := st.FindProvidersByNativeID(ctx, model.SourceGoogle, "g1", "dj")
	require.NoError(t, err)
	require.Len(t, byGoogle, 1)
	byYelp, err := st.FindProvidersByNativeID(ctx, model.SourceYelp, "y1", "dj")
	require.NoError(t, err)
	require.Len(t, byYelp, 1)
	byName, err := st.FindProvidersByNameKey(ctx, "chris evans dj", "dj")
	require.NoError(t, err)
	require.Len(t, byName, 1)

	missing, err := st.GetProvider(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_Provider_DuplicateNativeIDRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cat := seedCategory(t, st, "dj")

	a := &model.Provider{Name: "A", NameKey: "a", CategoryID: cat.ID, Category: "dj", Google: model.SourceSlot{NativeID: "g1"}}
	b := &model.Provider{Name: "B", NameKey: "b", CategoryID: cat.ID, Category: "dj", Google: model.SourceSlot{NativeID: "g1"}}
	require.NoError(t, st.CreateProvider(ctx, a))
	require.Error(t, st.CreateProvider(ctx, b))
}

func TestSQLite_Provider_UpdateKeepsCuratedFields(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cat := seedCategory(t, st, "dj")

	p := &model.Provider{
		Name: "A", NameKey: "a", CategoryID: cat.ID, Category: "dj",
		Verified: true, Claimed: true, Active: true, Listed: true, ViewCount: 99, ContactCount: 7, Position: 3,
	}
	require.NoError(t, st.CreateProvider(ctx, p))

	update := *p
	update.Name = "A Renamed"
	update.Verified = false
	update.ViewCount = 0
	update.Position = 0
	update.Phone = "5125550100"
	require.NoError(t, st.UpdateProviderSourceFields(ctx, &update))

	got, err := st.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "A Renamed", got.Name)
	assert.Equal(t, "5125550100", got.Phone)
	assert.True(t, got.Verified)
	assert.True(t, got.Claimed)
	assert.Equal(t, int64(99), got.ViewCount)
	assert.Equal(t, int64(7), got.ContactCount)
	assert.Equal(t, 3, got.Position)

	require.NoError(t, st.SetProviderSyncStatus(ctx, p.ID, model.SyncFailed))
	got, err = st.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncFailed, got.SyncStatus)

	missing := model.Provider{ID: "missing", Name: "x"}
	assert.Error(t, st.UpdateProviderSourceFields(ctx, &missing))
}

func TestSQLite_UpdatePositions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cat := seedCategory(t, st, "dj")

	var ids []string
	for _, name := range []string{"A", "B", "C"} {
		p := &model.Provider{Name: name, NameKey: name, CategoryID: cat.ID, Category: "dj", Active: true, Listed: true, Position: 9}
		require.NoError(t, st.CreateProvider(ctx, p))
		ids = append(ids, p.ID)
	}

	require.NoError(t, st.UpdatePositions(ctx, "dj", map[string]int{ids[2]: 1, ids[0]: 2}))

	a, _ := st.GetProvider(ctx, ids[0])
	b, _ := st.GetProvider(ctx, ids[1])
	c, _ := st.GetProvider(ctx, ids[2])
	assert.Equal(t, 2, a.Position)
	assert.Equal(t, 0, b.Position)
	assert.Equal(t, 1, c.Position)
}

func TestSQLite_ListProvidersAndCounts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cat := seedCategory(t, st, "dj")

	for i, tc := range []struct {
		name   string
		score  float64
		listed bool
		status model.SyncStatus
	}{
		{"Low", 60, true, model.SyncPartial},
		{"High", 90, true, model.SyncSynced},
		{"Hidden", 99, false, model.SyncSynced},
	} {
		p := &model.Provider{
			Name: tc.name, NameKey: tc.name, CategoryID: cat.ID, Category: "dj",
			Active: true, Listed: tc.listed, SyncStatus: tc.status,
			Scores: model.QualityScores{Overall: tc.score},
			Google: model.SourceSlot{NativeID: tc.name + string(rune('0'+i))},
		}
		require.NoError(t, st.CreateProvider(ctx, p))
	}

	ranked, err := st.ListProviders(ctx, model.ProviderFilter{Category: "dj", RankableOnly: true})
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "High", ranked[0].Name)
	assert.Equal(t, "Low", ranked[1].Name)

	limited, err := st.ListProviders(ctx, model.ProviderFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, activeListed, err := st.ProviderCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.SyncSynced])
	assert.Equal(t, 1, counts[model.SyncPartial])
	assert.Equal(t, 2, activeListed)
}

func TestSQLite_DeactivateUnseen(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cat := seedCategory(t, st, "dj")
	both := []model.SourceType{model.SourceGoogle, model.SourceYelp}

	_, err := st.UpsertSourceRecords(ctx, []model.SourceRecord{testRecord(model.SourceGoogle, "g-seen", "Seen DJ")})
	require.NoError(t, err)

	seen := &model.Provider{
		Name: "Seen DJ", NameKey: "seen dj", CategoryID: cat.ID, Category: "dj", Active: true, Listed: true,
		Google: model.SourceSlot{NativeID: "g-seen"},
	}
	gone := &model.Provider{
		Name: "Gone DJ", NameKey: "gone dj", CategoryID: cat.ID, Category: "dj", Active: true, Listed: true,
		Google: model.SourceSlot{NativeID: "g-gone"},
	}
	unlinked := &model.Provider{
		Name: "Walk-in DJ", NameKey: "walk in dj", CategoryID: cat.ID, Category: "dj", Active: true, Listed: true,
	}
	require.NoError(t, st.CreateProvider(ctx, seen))
	require.NoError(t, st.CreateProvider(ctx, gone))
	require.NoError(t, st.CreateProvider(ctx, unlinked))

	n, err := st.DeactivateUnseen(ctx, "", both, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := st.GetProvider(ctx, gone.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	got, err = st.GetProvider(ctx, seen.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	got, err = st.GetProvider(ctx, unlinked.ID)
	require.NoError(t, err)
	assert.True(t, got.Active, "providers without source links are never judged")

	// Nothing was seen after a future cutoff.
	n, err = st.DeactivateUnseen(ctx, "dj", both, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLite_DeactivateUnseen_OnlyJudgesQueriedSources(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cat := seedCategory(t, st, "dj")

	yelpOnly := &model.Provider{
		Name: "Emma Music", NameKey: "emma music", CategoryID: cat.ID, Category: "dj", Active: true, Listed: true,
		Yelp: model.SourceSlot{NativeID: "y-emma"},
	}
	linkedBoth := &model.Provider{
		Name: "Chris Evans DJ", NameKey: "chris evans dj", CategoryID: cat.ID, Category: "dj", Active: true, Listed: true,
		Google: model.SourceSlot{NativeID: "g-chris"}, Yelp: model.SourceSlot{NativeID: "y-chris"},
	}
	googleOnly := &model.Provider{
		Name: "Gone DJ", NameKey: "gone dj", CategoryID: cat.ID, Category: "dj", Active: true, Listed: true,
		Google: model.SourceSlot{NativeID: "g-gone"},
	}
	require.NoError(t, st.CreateProvider(ctx, yelpOnly))
	require.NoError(t, st.CreateProvider(ctx, linkedBoth))
	require.NoError(t, st.CreateProvider(ctx, googleOnly))

	n, err := st.DeactivateUnseen(ctx, "dj", []model.SourceType{model.SourceGoogle}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	for _, p := range []*model.Provider{yelpOnly, linkedBoth} {
		got, err := st.GetProvider(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, got.Active, p.Name)
	}
	got, err := st.GetProvider(ctx, googleOnly.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	n, err = st.DeactivateUnseen(ctx, "dj", nil, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_ReactivateSeen(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	cat := seedCategory(t, st, "dj")

	back := &model.Provider{
		Name: "Back DJ", NameKey: "back dj", CategoryID: cat.ID, Category: "dj", Active: true, Listed: true,
		Google: model.SourceSlot{NativeID: "g-back"},
	}
	manual := &model.Provider{
		Name: "Retired DJ", NameKey: "retired dj", CategoryID: cat.ID, Category: "dj", Active: false, Listed: true,
		Google: model.SourceSlot{NativeID: "g-retired"},
	}
	require.NoError(t, st.CreateProvider(ctx, back))
	require.NoError(t, st.CreateProvider(ctx, manual))

	cutoff := time.Now().Add(-time.Hour)
	n, err := st.DeactivateUnseen(ctx, "dj", []model.SourceType{model.SourceGoogle}, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.UpsertSourceRecords(ctx, []model.SourceRecord{
		testRecord(model.SourceGoogle, "g-back", "Back DJ"),
		testRecord(model.SourceGoogle, "g-retired", "Retired DJ"),
	})
	require.NoError(t, err)

	n, err = st.ReactivateSeen(ctx, "dj", cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := st.GetProvider(ctx, back.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	got, err = st.GetProvider(ctx, manual.ID)
	require.NoError(t, err)
	assert.False(t, got.Active, "hand-deactivated providers stay inactive")

	n, err = st.ReactivateSeen(ctx, "", cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- Run history ---

func TestSQLite_RunHistory(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	none, err := st.LastSuccessfulRun(ctx, model.ModeFull)
	require.NoError(t, err)
	assert.Nil(t, none)

	first, err := st.StartRun(ctx, model.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, first.Status)

	done := time.Now().UTC()
	first.Status = model.RunStatusComplete
	first.CompletedAt = &done
	first.DurationMS = 1200
	first.Success = true
	first.Summary = map[string]int{"providers_created": 2}
	require.NoError(t, st.CompleteRun(ctx, first))

	second, err := st.StartRun(ctx, model.ModeFull)
	require.NoError(t, err)
	second.Status = model.RunStatusFailed
	second.CompletedAt = &done
	second.Errors = []string{"google: quota exceeded"}
	require.NoError(t, st.CompleteRun(ctx, second))

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, []string{"google: quota exceeded"}, runs[0].Errors)

	last, err := st.LastSuccessfulRun(ctx, model.ModeFull)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, first.ID, last.ID)
	assert.Equal(t, 2, last.Summary["providers_created"])
	assert.Equal(t, int64(1200), last.DurationMS)
	require.NotNil(t, last.CompletedAt)

	assert.Error(t, st.CompleteRun(ctx, &model.RunRecord{ID: "missing"}))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 20, clampLimit(0))
	assert.Equal(t, 5, clampLimit(5))
	assert.Equal(t, MaxRunHistory, clampLimit(10_000))
}
