package providersync

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-sync/internal/merge"
	"github.com/sells-group/provider-sync/internal/model"
)

// SyncProvider looks one business up by name on every source and merges
// what comes back. With no hits an existing row is marked not_found, or
// failed when every source errored.
func (e *Engine) SyncProvider(ctx context.Context, name, category, location string) (*model.SingleResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, eris.New("providersync: provider name is required")
	}
	slug := strings.ToLower(strings.TrimSpace(category))
	cat, err := e.store.GetCategoryBySlug(ctx, slug)
	if err != nil {
		return nil, eris.Wrapf(err, "providersync: category %s", slug)
	}
	if cat == nil {
		return nil, eris.Wrapf(merge.ErrCategoryNotFound, "slug %q", slug)
	}

	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	run, err := e.runs.Start(ctx, model.ModeProvider)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "providersync"), zap.String("run_id", run.ID),
		zap.String("provider", name), zap.String("category", slug))

	res, err := e.syncOne(ctx, run.ID, name, cat, location)
	if err != nil {
		res = &model.SingleResult{Status: model.SyncFailed, Errors: []string{err.Error()}}
	}

	summary := map[string]int{}
	if res.Merge != nil {
		summary["providers_created"] = res.Merge.ProvidersCreated
		summary["providers_updated"] = res.Merge.ProvidersUpdated
		summary["content_changed"] = res.Merge.ContentChanged
		summary["matches_recorded"] = res.Merge.MatchesRecorded
	}
	if cerr := e.runs.Complete(ctx, run, res.Success, summary, res.Errors); cerr != nil {
		log.Error("sync run log failed", zap.Error(cerr))
	}
	if err != nil {
		return nil, err
	}

	log.Info("provider sync complete", zap.String("status", string(res.Status)), zap.Bool("success", res.Success))
	return res, nil
}

func (e *Engine) syncOne(ctx context.Context, runID, name string, cat *model.Category, location string) (*model.SingleResult, error) {
	lookup, err := e.ingest.Lookup(ctx, name, *cat, location)
	if err != nil {
		return nil, err
	}

	res := &model.SingleResult{Success: true}
	for _, a := range e.ingest.Adapters() {
		if lerr, ok := lookup.Errors[a.Type()]; ok {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", a.Type(), lerr))
		}
	}

	// Reload hits so they carry their stored ids.
	var google, yelp *model.SourceRecord
	for src, hit := range lookup.Records {
		rec, err := e.store.GetSourceRecord(ctx, src, hit.NativeID, hit.Category)
		if err != nil {
			return nil, eris.Wrapf(err, "providersync: reload %s", hit.Key())
		}
		if rec == nil {
			continue
		}
		if src == model.SourceYelp {
			yelp = rec
		} else {
			google = rec
		}
	}

	if google == nil && yelp == nil {
		return e.markMissing(ctx, res, name, cat, len(lookup.Errors) > 0 && len(lookup.Errors) == len(e.ingest.Adapters()))
	}

	var groups []merge.Group
	if google != nil && yelp != nil {
		scorer := e.matcher.Scorer()
		conf, bd := scorer.Compare(google, yelp)
		gid, yid := google.ID, yelp.ID
		cand := model.MatchCandidate{
			RunID: runID, Category: cat.Slug, GoogleRecordID: &gid, YelpRecordID: &yid,
			Confidence: conf, Breakdown: bd, Class: scorer.Classify(conf, bd), Google: google, Yelp: yelp,
		}
		if err := e.store.InsertMatchCandidates(ctx, []model.MatchCandidate{cand}); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("match: persist candidate: %v", err))
		}
		res.Match = &cand
		if e.merger.Merges(cand.Class) {
			groups = append(groups, merge.PairGroup(cand))
		} else {
			groups = append(groups, merge.SoloGroup(google), merge.SoloGroup(yelp))
		}
	} else if google != nil {
		groups = append(groups, merge.SoloGroup(google))
	} else {
		groups = append(groups, merge.SoloGroup(yelp))
	}

	mr, written := e.merger.Merge(ctx, runID, groups)
	res.Merge = mr
	for _, msg := range mr.Errors {
		res.Errors = append(res.Errors, "merge: "+msg)
	}
	res.Success = mr.Success
	if len(written) == 0 {
		res.Status = model.SyncFailed
		return res, nil
	}
	p := written[0]
	res.Provider = &p
	res.Status = p.SyncStatus

	if rr, err := e.ranker.Rebuild(ctx, cat.Slug); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("rankings: %v", err))
	} else {
		for _, msg := range rr.Errors {
			res.Errors = append(res.Errors, "rankings: "+msg)
		}
	}
	return res, nil
}

// markMissing flags the existing row, if any, when no source returned the
// provider.
func (e *Engine) markMissing(ctx context.Context, res *model.SingleResult, name string, cat *model.Category, allFailed bool) (*model.SingleResult, error) {
	res.Status = model.SyncNotFound
	if allFailed {
		res.Status = model.SyncFailed
		res.Success = false
	}

	rows, err := e.store.FindProvidersByNameKey(ctx, merge.NameKey(name), cat.Slug)
	if err != nil {
		return nil, eris.Wrap(err, "providersync: find provider by name")
	}
	if len(rows) != 1 {
		return res, nil
	}
	p := rows[0]
	if err := e.store.SetProviderSyncStatus(ctx, p.ID, res.Status); err != nil {
		return nil, eris.Wrapf(err, "providersync: mark %s %s", p.ID, res.Status)
	}
	p.SyncStatus = res.Status
	res.Provider = &p
	return res, nil
}
