// Package merge turns matched and single-source records into canonical
// provider rows and keeps per-category ranking positions.
package merge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-sync/internal/model"
)

// ErrCategoryNotFound is returned when a record's category slug is unknown.
var ErrCategoryNotFound = errors.New("merge: category not found")

// Store is the persistence the merger needs.
type Store interface {
	Finder
	GetCategoryBySlug(ctx context.Context, slug string) (*model.Category, error)
	ListSourceRecords(ctx context.Context, f model.RecordFilter) ([]model.SourceRecord, error)
	GetSourceRecord(ctx context.Context, source model.SourceType, nativeID, category string) (*model.SourceRecord, error)
	MarkMatched(ctx context.Context, ids []int64) error
	RecordMerge(ctx context.Context, ev model.MergeEvent) error
	CreateProvider(ctx context.Context, p *model.Provider) error
	UpdateProviderSourceFields(ctx context.Context, p *model.Provider) error
}

// Options tune a Merger.
type Options struct {
	MergePartial   bool          // merge partial-class candidates as pairs
	MaxFailureRate float64       // failed/attempted above this fails the stage
	RecordTimeout  time.Duration // bound on one group's store work
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{MergePartial: true, MaxFailureRate: 0.5, RecordTimeout: 15 * time.Second}
}

// Merger runs the merge stage.
type Merger struct {
	store    Store
	resolver Chain
	opts     Options
}

// New creates a Merger with the default identity chain.
func New(st Store, opts Options) *Merger {
	return &Merger{store: st, resolver: DefaultChain(st), opts: opts}
}

// Merges reports whether candidates of class c are merged as pairs.
func (m *Merger) Merges(c model.MatchClass) bool {
	return c == model.MatchAuto || (c == model.MatchPartial && m.opts.MergePartial)
}

// Outcome describes what merging one group did.
type Outcome struct {
	Provider *model.Provider
	Action   model.MergeAction
	// Changed is true when an existing row's source-derived content moved.
	Changed bool
	Tier    string
}

// Run merges the mergeable candidates of a matching pass, then every
// unmatched open record of the scope that was not paired. Per-group
// failures are collected in the result.
func (m *Merger) Run(ctx context.Context, runID string, candidates []model.MatchCandidate, category string) (*model.MergeResult, error) {
	var groups []Group
	paired := make(map[int64]bool)
	for _, c := range candidates {
		if category != "" && c.Category != category {
			continue
		}
		if !c.Paired() || !m.Merges(c.Class) {
			continue
		}
		groups = append(groups, PairGroup(c))
		paired[c.Google.ID] = true
		paired[c.Yelp.ID] = true
	}

	solo, err := m.store.ListSourceRecords(ctx, model.RecordFilter{Category: category, UnmatchedOnly: true})
	if err != nil {
		return nil, eris.Wrap(err, "merge: list unmatched records")
	}
	for i := range solo {
		r := &solo[i]
		if paired[r.ID] || r.Closed {
			continue
		}
		groups = append(groups, SoloGroup(r))
	}

	res, _ := m.Merge(ctx, runID, groups)
	return res, nil
}

// Merge applies each group in order and returns the tallies plus the rows
// that were written. Cancellation of ctx stops new groups; a group already
// started finishes on a detached context bounded by RecordTimeout.
func (m *Merger) Merge(ctx context.Context, runID string, groups []Group) (*model.MergeResult, []model.Provider) {
	log := zap.L().With(zap.String("component", "merger"), zap.String("run_id", runID))

	res := &model.MergeResult{Success: true}
	var written []model.Provider
	cats := make(map[string]*model.Category)
	attempted, failed := 0, 0

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("merge: canceled with %d groups left: %v", len(groups)-attempted, err))
			res.Success = false
			break
		}
		attempted++

		out, err := m.applyDetached(ctx, runID, g, cats)
		if err != nil {
			failed++
			if errors.Is(err, ErrIdentityConflict) {
				res.Conflicts++
			}
			log.Warn("merge group failed", zap.String("group", g.Key()), zap.Error(err))
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", g.Key(), err))
			continue
		}

		switch out.Action {
		case model.MergeCreated:
			res.ProvidersCreated++
			if out.Provider.SyncStatus == model.SyncPartial {
				res.SingleSourceCreated++
			}
		case model.MergeUpdated:
			res.ProvidersUpdated++
			if out.Changed {
				res.ContentChanged++
			}
		}
		if g.Paired {
			res.MatchesRecorded++
		}
		written = append(written, *out.Provider)
	}

	if attempted > 0 {
		rate := float64(failed) / float64(attempted)
		if failed == attempted || rate > m.opts.MaxFailureRate {
			res.Success = false
		}
	}

	log.Info("merge complete",
		zap.Int("groups", attempted),
		zap.Int("created", res.ProvidersCreated),
		zap.Int("updated", res.ProvidersUpdated),
		zap.Int("content_changed", res.ContentChanged),
		zap.Int("failed", failed),
	)
	return res, written
}

func (m *Merger) applyDetached(ctx context.Context, runID string, g Group, cats map[string]*model.Category) (*Outcome, error) {
	rctx := context.WithoutCancel(ctx)
	if m.opts.RecordTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(rctx, m.opts.RecordTimeout)
		defer cancel()
	}
	cat, err := m.category(rctx, g.Category, cats)
	if err != nil {
		return nil, err
	}
	return m.Apply(rctx, runID, g, cat)
}

// Apply merges one group into its canonical row, creating the row when
// no identity tier resolves.
func (m *Merger) Apply(ctx context.Context, runID string, g Group, cat *model.Category) (*Outcome, error) {
	if g.Google == nil && g.Yelp == nil {
		return nil, eris.New("merge: empty group")
	}

	existing, tier, err := m.resolver.Resolve(ctx, g)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Tier: tier}
	if existing == nil {
		p := &model.Provider{CategoryID: cat.ID, Category: cat.Slug}
		MergeFields(p, g.Google, g.Yelp)
		applyCuratedDefaults(p)
		if err := m.store.CreateProvider(ctx, p); err != nil {
			return nil, eris.Wrapf(err, "merge: create provider for %s", g.Key())
		}
		out.Provider, out.Action = p, model.MergeCreated
	} else {
		if err := m.hydrate(ctx, existing, &g); err != nil {
			return nil, err
		}
		next := *existing
		next.CategoryID, next.Category = cat.ID, cat.Slug
		MergeFields(&next, g.Google, g.Yelp)
		out.Changed = !model.SourceFieldsEqual(existing, &next)
		if err := m.store.UpdateProviderSourceFields(ctx, &next); err != nil {
			return nil, eris.Wrapf(err, "merge: update provider %s", existing.ID)
		}
		out.Provider, out.Action = &next, model.MergeUpdated
	}

	if g.Paired {
		if err := m.recordPair(ctx, runID, g, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// hydrate loads the linked source records the group lacks so the merge
// sees every source of the entity.
func (m *Merger) hydrate(ctx context.Context, p *model.Provider, g *Group) error {
	for _, src := range model.Sources {
		slot := p.Slot(src)
		if g.Record(src) != nil || !slot.Linked() {
			continue
		}
		rec, err := m.store.GetSourceRecord(ctx, src, slot.NativeID, p.Category)
		if err != nil {
			return eris.Wrapf(err, "merge: hydrate %s:%s", src, slot.NativeID)
		}
		if rec == nil {
			zap.L().Debug("merge: linked record missing",
				zap.String("provider_id", p.ID), zap.String("source", string(src)), zap.String("native_id", slot.NativeID))
			continue
		}
		if src == model.SourceYelp {
			g.Yelp = rec
		} else {
			g.Google = rec
		}
	}
	return nil
}

func (m *Merger) recordPair(ctx context.Context, runID string, g Group, out *Outcome) error {
	gid, yid := g.Google.ID, g.Yelp.ID
	if err := m.store.MarkMatched(ctx, []int64{gid, yid}); err != nil {
		return eris.Wrapf(err, "merge: mark matched %s", g.Key())
	}
	if err := m.store.RecordMerge(ctx, model.MergeEvent{
		RunID:          runID,
		ProviderID:     out.Provider.ID,
		GoogleRecordID: &gid,
		YelpRecordID:   &yid,
		Action:         out.Action,
		Confidence:     g.Confidence,
	}); err != nil {
		return eris.Wrapf(err, "merge: record merge %s", g.Key())
	}
	return nil
}

func (m *Merger) category(ctx context.Context, slug string, cache map[string]*model.Category) (*model.Category, error) {
	if c, ok := cache[slug]; ok {
		return c, nil
	}
	c, err := m.store.GetCategoryBySlug(ctx, slug)
	if err != nil {
		return nil, eris.Wrapf(err, "merge: category %s", slug)
	}
	if c == nil {
		return nil, eris.Wrapf(ErrCategoryNotFound, "slug %q", slug)
	}
	cache[slug] = c
	return c, nil
}
