// Package providersync sequences ingestion, matching, merging and ranking
// into logged runs, and reports sync health.
package providersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-sync/internal/ingest"
	"github.com/sells-group/provider-sync/internal/match"
	"github.com/sells-group/provider-sync/internal/merge"
	"github.com/sells-group/provider-sync/internal/model"
)

// ErrRunInProgress is returned when a run is requested while another one
// holds the engine.
var ErrRunInProgress = errors.New("providersync: run in progress")

// Store is the persistence the engine reads and writes directly.
type Store interface {
	RunStore
	GetCategoryBySlug(ctx context.Context, slug string) (*model.Category, error)
	GetSourceRecord(ctx context.Context, source model.SourceType, nativeID, category string) (*model.SourceRecord, error)
	InsertMatchCandidates(ctx context.Context, candidates []model.MatchCandidate) error
	FindProvidersByNameKey(ctx context.Context, nameKey, category string) ([]model.Provider, error)
	SetProviderSyncStatus(ctx context.Context, id string, status model.SyncStatus) error
	DeactivateUnseen(ctx context.Context, category string, sources []model.SourceType, seenBefore time.Time) (int64, error)
	ReactivateSeen(ctx context.Context, category string, seenSince time.Time) (int64, error)
	ResetMatches(ctx context.Context, category string) (int64, error)
	ProviderCounts(ctx context.Context) (map[model.SyncStatus]int, int, error)
	CountSourceRecords(ctx context.Context) (map[model.SourceType]int, error)
}

// Options are the engine's fixed settings.
type Options struct {
	DeactivateMissing bool
	Freshness         time.Duration // staleness window reported by Stats
	HistoryLimit      int           // default History size
}

// Engine is the orchestrator. One run at a time.
type Engine struct {
	store   Store
	runs    *RunLog
	ingest  *ingest.Ingester
	matcher *match.Matcher
	merger  *merge.Merger
	ranker  *merge.Ranker
	opts    Options
	now     func() time.Time

	mu      sync.Mutex
	running bool
}

// New creates an Engine over the stage components.
func New(
	st Store,
	ingester *ingest.Ingester,
	matcher *match.Matcher,
	merger *merge.Merger,
	ranker *merge.Ranker,
	opts Options,
) *Engine {
	if opts.Freshness <= 0 {
		opts.Freshness = 24 * time.Hour
	}
	return &Engine{
		store:   st,
		runs:    NewRunLog(st),
		ingest:  ingester,
		matcher: matcher,
		merger:  merger,
		ranker:  ranker,
		opts:    opts,
		now:     time.Now,
	}
}

// FullOpts selects what a full run does.
type FullOpts struct {
	Ingest       ingest.IngestOpts
	SkipIngest   bool
	SkipMatch    bool
	SkipMerge    bool
	SkipRankings bool
}

// RunFull runs ingest, match, merge, optional deactivation and rankings.
// A failed stage is reported and later stages still run. Providers a
// previous run deactivated are restored as soon as ingestion sees one of
// their records again.
func (e *Engine) RunFull(ctx context.Context, opts FullOpts) (*model.SyncResult, error) {
	return e.run(ctx, model.ModeFull, func(ctx context.Context, res *model.SyncResult) {
		scope := scopeOf(opts.Ingest.Categories)
		if !opts.SkipIngest {
			e.ingestStage(ctx, res, opts.Ingest)
		}
		e.matchMergeStage(ctx, res, scope, !opts.SkipMatch, !opts.SkipMerge)
		if !opts.SkipIngest {
			e.reactivateStage(ctx, res, scope)
			if e.opts.DeactivateMissing {
				e.deactivateStage(ctx, res, scope)
			}
		}
		if !opts.SkipRankings {
			e.rankStage(ctx, res, scope)
		}
	})
}

// RunIngestion runs the ingestion stage alone.
func (e *Engine) RunIngestion(ctx context.Context, opts ingest.IngestOpts) (*model.SyncResult, error) {
	return e.run(ctx, model.ModeIngest, func(ctx context.Context, res *model.SyncResult) {
		e.ingestStage(ctx, res, opts)
		e.reactivateStage(ctx, res, scopeOf(opts.Categories))
	})
}

// RunMatchAndMerge matches and merges already ingested records, then
// rebuilds rankings for the touched categories.
func (e *Engine) RunMatchAndMerge(ctx context.Context, categories []string) (*model.SyncResult, error) {
	return e.run(ctx, model.ModeMatchMerge, func(ctx context.Context, res *model.SyncResult) {
		scope := scopeOf(categories)
		e.matchMergeStage(ctx, res, scope, true, true)
		e.rankStage(ctx, res, scope)
	})
}

// RebuildRankings recomputes positions for one category, or all when
// category is empty.
func (e *Engine) RebuildRankings(ctx context.Context, category string) (*model.SyncResult, error) {
	return e.run(ctx, model.ModeRankings, func(ctx context.Context, res *model.SyncResult) {
		e.rankStage(ctx, res, scopeOf([]string{category}))
	})
}

// ResetMatches clears the matched flag on source records in one category,
// or all when category is empty, so the next match pass pairs them again.
// Providers and merge history are kept.
func (e *Engine) ResetMatches(ctx context.Context, category string) (*model.SyncResult, error) {
	slug := strings.ToLower(strings.TrimSpace(category))
	if slug != "" {
		cat, err := e.store.GetCategoryBySlug(ctx, slug)
		if err != nil {
			return nil, eris.Wrapf(err, "providersync: category %s", slug)
		}
		if cat == nil {
			return nil, eris.Wrapf(merge.ErrCategoryNotFound, "slug %q", slug)
		}
	}
	return e.run(ctx, model.ModeResetMatches, func(ctx context.Context, res *model.SyncResult) {
		n, err := e.store.ResetMatches(ctx, slug)
		if err != nil {
			fail(res, "reset", err.Error())
			return
		}
		res.MatchesReset = n
	})
}

func (e *Engine) acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrRunInProgress
	}
	e.running = true
	return nil
}

func (e *Engine) release() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// Running reports whether a run holds the engine.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// run wraps body with the in-process guard and the run log.
func (e *Engine) run(ctx context.Context, mode model.SyncMode, body func(context.Context, *model.SyncResult)) (*model.SyncResult, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	run, err := e.runs.Start(ctx, mode)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "providersync"), zap.String("run_id", run.ID), zap.String("mode", string(mode)))
	log.Info("sync run started")

	res := &model.SyncResult{RunID: run.ID, Mode: mode, StartedAt: run.StartedAt, Success: true}
	body(ctx, res)
	res.Duration = e.now().Sub(run.StartedAt)

	if err := e.runs.Complete(ctx, run, res.Success, res.Summary(), res.Errors); err != nil {
		log.Error("sync run log failed", zap.Error(err))
		return res, err
	}

	log.Info("sync run complete",
		zap.Bool("success", res.Success),
		zap.Duration("duration", res.Duration),
		zap.Int("errors", len(res.Errors)),
	)
	return res, nil
}

func (e *Engine) ingestStage(ctx context.Context, res *model.SyncResult, opts ingest.IngestOpts) {
	ir, err := e.ingest.Run(ctx, opts)
	if err != nil {
		fail(res, "ingest", err.Error())
		return
	}
	res.Ingest = ir
	collect(res, "ingest", ir.Success, ir.Errors)
}

// matchMergeStage runs matching then merging per category in scope so
// pairing and identity resolution stay sequential within a category.
func (e *Engine) matchMergeStage(ctx context.Context, res *model.SyncResult, scope []string, doMatch, doMerge bool) {
	if !doMatch && !doMerge {
		return
	}
	if doMatch {
		res.Match = &model.MatchResult{Success: true}
	}
	if doMerge {
		res.Merge = &model.MergeResult{Success: true}
	}

	for _, cat := range scope {
		var candidates []model.MatchCandidate
		if doMatch {
			mr, err := e.matcher.Run(ctx, res.RunID, cat)
			if err != nil {
				res.Match.Success = false
				fail(res, "match", err.Error())
			} else {
				addMatch(res.Match, mr)
				candidates = mr.Candidates
			}
		}
		if doMerge {
			gr, err := e.merger.Run(ctx, res.RunID, candidates, cat)
			if err != nil {
				res.Merge.Success = false
				fail(res, "merge", err.Error())
				continue
			}
			addMerge(res.Merge, gr)
		}
	}

	if res.Match != nil {
		collect(res, "match", res.Match.Success, res.Match.Errors)
	}
	if res.Merge != nil {
		collect(res, "merge", res.Merge.Success, res.Merge.Errors)
	}
}

// reactivateStage restores providers a previous run deactivated whose
// records were seen by this run's ingestion.
func (e *Engine) reactivateStage(ctx context.Context, res *model.SyncResult, scope []string) {
	if res.Ingest == nil {
		return
	}
	for _, cat := range scope {
		n, err := e.store.ReactivateSeen(ctx, cat, res.StartedAt)
		if err != nil {
			fail(res, "reactivate", err.Error())
			continue
		}
		res.Reactivated += n
	}
}

// deactivateStage soft-deactivates providers whose sources stopped
// reporting them. It only runs after a clean ingestion pass; a failed
// query would otherwise look like a vanished listing. Only sources queried
// this run are judged, so a skipped or unconfigured source never counts
// against its providers.
func (e *Engine) deactivateStage(ctx context.Context, res *model.SyncResult, scope []string) {
	log := zap.L().With(zap.String("component", "providersync"), zap.String("run_id", res.RunID))
	if res.Ingest == nil || !res.Ingest.Success || len(res.Ingest.Errors) > 0 {
		log.Info("skipping deactivation after incomplete ingestion")
		return
	}
	if len(res.Ingest.Sources) == 0 {
		log.Info("skipping deactivation, no source was queried")
		return
	}
	for _, cat := range scope {
		n, err := e.store.DeactivateUnseen(ctx, cat, res.Ingest.Sources, res.StartedAt)
		if err != nil {
			fail(res, "deactivate", err.Error())
			continue
		}
		res.Deactivated += n
	}
}

func (e *Engine) rankStage(ctx context.Context, res *model.SyncResult, scope []string) {
	res.Rankings = &model.RankingResult{Success: true}
	for _, cat := range scope {
		rr, err := e.ranker.Rebuild(ctx, cat)
		if err != nil {
			res.Rankings.Success = false
			fail(res, "rankings", err.Error())
			continue
		}
		res.Rankings.Categories += rr.Categories
		res.Rankings.Updated += rr.Updated
		res.Rankings.Errors = append(res.Rankings.Errors, rr.Errors...)
		res.Rankings.Success = res.Rankings.Success && rr.Success
	}
	collect(res, "rankings", res.Rankings.Success, res.Rankings.Errors)
}

// scopeOf normalizes a category list; empty means every category.
func scopeOf(categories []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

func fail(res *model.SyncResult, stage, msg string) {
	res.Success = false
	res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", stage, msg))
}

func collect(res *model.SyncResult, stage string, success bool, errs []string) {
	for _, msg := range errs {
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", stage, msg))
	}
	res.Success = res.Success && success
}

func addMatch(dst, src *model.MatchResult) {
	dst.AutoMatches += src.AutoMatches
	dst.PartialMatches += src.PartialMatches
	dst.NoMatches += src.NoMatches
	dst.UnmatchedGoogle += src.UnmatchedGoogle
	dst.UnmatchedYelp += src.UnmatchedYelp
	dst.Errors = append(dst.Errors, src.Errors...)
	dst.Success = dst.Success && src.Success
}

func addMerge(dst, src *model.MergeResult) {
	dst.ProvidersCreated += src.ProvidersCreated
	dst.ProvidersUpdated += src.ProvidersUpdated
	dst.ContentChanged += src.ContentChanged
	dst.SingleSourceCreated += src.SingleSourceCreated
	dst.MatchesRecorded += src.MatchesRecorded
	dst.Conflicts += src.Conflicts
	dst.Errors = append(dst.Errors, src.Errors...)
	dst.Success = dst.Success && src.Success
}

// IsSyncNeeded reports whether the last successful full run finished more
// than window ago. The run is returned alongside, nil when none exists.
func (e *Engine) IsSyncNeeded(ctx context.Context, window time.Duration) (bool, *model.RunRecord, error) {
	last, err := e.runs.LastSuccessful(ctx, model.ModeFull)
	if err != nil {
		return false, nil, err
	}
	if last == nil {
		return true, nil, nil
	}
	return e.now().Sub(finishedAt(last)) > window, last, nil
}

// History returns recent runs, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = e.opts.HistoryLimit
	}
	return e.runs.Recent(ctx, limit)
}

// Stats returns the operator-facing health snapshot.
func (e *Engine) Stats(ctx context.Context) (*model.SyncStats, error) {
	byStatus, activeListed, err := e.store.ProviderCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "providersync: provider counts")
	}
	records, err := e.store.CountSourceRecords(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "providersync: source record counts")
	}
	matching, err := e.matcher.Stats(ctx)
	if err != nil {
		return nil, err
	}

	stats := &model.SyncStats{
		ByStatus:      byStatus,
		ActiveListed:  activeListed,
		SourceRecords: records,
		Matching:      matching,
	}
	for _, n := range byStatus {
		stats.Providers += n
	}

	recent, err := e.runs.Recent(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) > 0 {
		stats.LastRun = &recent[0]
	}
	needed, last, err := e.IsSyncNeeded(ctx, e.opts.Freshness)
	if err != nil {
		return nil, err
	}
	stats.SyncNeeded = needed
	stats.LastSuccessful = last
	return stats, nil
}
