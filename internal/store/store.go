// Package store persists source records, match audit rows, canonical
// providers and run history in Postgres or SQLite.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/sells-group/provider-sync/internal/model"
)

// Store defines the persistence interface for provider sync.
type Store interface {
	// Categories
	UpsertCategories(ctx context.Context, cats []model.Category) error
	ListCategories(ctx context.Context) ([]model.Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (*model.Category, error)

	// Source records
	UpsertSourceRecords(ctx context.Context, records []model.SourceRecord) (int64, error)
	ListSourceRecords(ctx context.Context, f model.RecordFilter) ([]model.SourceRecord, error)
	GetSourceRecord(ctx context.Context, source model.SourceType, nativeID, category string) (*model.SourceRecord, error)
	MarkMatched(ctx context.Context, ids []int64) error
	ResetMatches(ctx context.Context, category string) (int64, error)
	CountSourceRecords(ctx context.Context) (map[model.SourceType]int, error)

	// Match audit
	InsertMatchCandidates(ctx context.Context, candidates []model.MatchCandidate) error
	MatchStats(ctx context.Context) ([]model.MatchStats, error)
	RecordMerge(ctx context.Context, ev model.MergeEvent) error

	// Canonical providers
	CreateProvider(ctx context.Context, p *model.Provider) error
	UpdateProviderSourceFields(ctx context.Context, p *model.Provider) error
	SetProviderSyncStatus(ctx context.Context, id string, status model.SyncStatus) error
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
	FindProvidersByNativeID(ctx context.Context, source model.SourceType, nativeID, category string) ([]model.Provider, error)
	FindProvidersByNameKey(ctx context.Context, nameKey, category string) ([]model.Provider, error)
	ListProviders(ctx context.Context, f model.ProviderFilter) ([]model.Provider, error)
	UpdatePositions(ctx context.Context, category string, positions map[string]int) error
	DeactivateUnseen(ctx context.Context, category string, sources []model.SourceType, seenBefore time.Time) (int64, error)
	ReactivateSeen(ctx context.Context, category string, seenSince time.Time) (int64, error)
	ProviderCounts(ctx context.Context) (map[model.SyncStatus]int, int, error)

	// Run history
	StartRun(ctx context.Context, mode model.SyncMode) (*model.RunRecord, error)
	CompleteRun(ctx context.Context, run *model.RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error)
	LastSuccessfulRun(ctx context.Context, mode model.SyncMode) (*model.RunRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// MaxRunHistory caps ListRuns.
const MaxRunHistory = 200

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > MaxRunHistory {
		return MaxRunHistory
	}
	return limit
}

// dedupeRecords keeps the last record per (source, native id, category) so a
// batch never touches the same row twice.
func dedupeRecords(records []model.SourceRecord) []model.SourceRecord {
	type key struct {
		source   model.SourceType
		nativeID string
		category string
	}
	idx := make(map[key]int, len(records))
	out := make([]model.SourceRecord, 0, len(records))
	for _, r := range records {
		k := key{r.Source, r.NativeID, r.Category}
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}

// slotColumn maps a source to its native id column on providers.
func slotColumn(source model.SourceType) string {
	if source == model.SourceYelp {
		return "yelp_id"
	}
	return "google_id"
}

// seenRecordSQL matches a source record linked to the outer providers row
// and seen at or after the given time.
const seenRecordSQL = `SELECT 1 FROM source_records r
	WHERE r.category = providers.category AND r.last_seen_at >= %s
	AND ((r.source = 'google' AND providers.google_id <> '' AND r.native_id = providers.google_id)
		OR (r.source = 'yelp' AND providers.yelp_id <> '' AND r.native_id = providers.yelp_id))`

// queriedSlots reports which provider slots a deactivation pass may judge.
func queriedSlots(sources []model.SourceType) (google, yelp bool) {
	for _, s := range sources {
		switch s {
		case model.SourceGoogle:
			google = true
		case model.SourceYelp:
			yelp = true
		}
	}
	return google, yelp
}

// sortedKeys orders position updates by rank so writes are deterministic.
func sortedKeys(positions map[string]int) []string {
	keys := make([]string, 0, len(positions))
	for id := range positions {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool {
		if positions[keys[i]] != positions[keys[j]] {
			return positions[keys[i]] < positions[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
