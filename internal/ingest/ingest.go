// Package ingest pulls listings from every enabled source and stores them
// as source records.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/provider-sync/internal/model"
	"github.com/sells-group/provider-sync/internal/source"
)

// Store is the persistence the ingester needs.
type Store interface {
	ListCategories(ctx context.Context) ([]model.Category, error)
	UpsertSourceRecords(ctx context.Context, records []model.SourceRecord) (int64, error)
}

// Options are the ingester's fixed settings.
type Options struct {
	Location      string        // default search location
	Limit         int           // default per-query result cap
	SourceTimeout time.Duration // bound on one adapter call
	Concurrency   int           // categories ingested in parallel
}

// IngestOpts selects what one ingestion pass fetches. Zero values fall back
// to Options.
type IngestOpts struct {
	Categories []string // slugs; empty = every stored category
	Location   string
	Limit      int
	SkipGoogle bool
	SkipYelp   bool
}

// Ingester runs the ingestion stage.
type Ingester struct {
	store    Store
	adapters []source.Adapter
	opts     Options
}

// New creates an Ingester over the given adapters.
func New(st Store, adapters []source.Adapter, opts Options) *Ingester {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Ingester{store: st, adapters: adapters, opts: opts}
}

// Adapters returns the configured adapters.
func (i *Ingester) Adapters() []source.Adapter {
	return i.adapters
}

// Run searches every enabled adapter for every selected category and
// upserts the results. Query failures are reported in the result; only a
// failure to resolve categories is returned as an error.
func (i *Ingester) Run(ctx context.Context, in IngestOpts) (*model.IngestResult, error) {
	log := zap.L().With(zap.String("component", "ingest"))

	cats, err := i.resolveCategories(ctx, in.Categories)
	if err != nil {
		return nil, err
	}
	adapters := i.enabled(in)
	location := firstNonEmpty(in.Location, i.opts.Location)
	limit := in.Limit
	if limit <= 0 {
		limit = i.opts.Limit
	}

	result := &model.IngestResult{Fetched: make(map[model.SourceType]int), Success: true}
	for _, a := range adapters {
		result.Sources = append(result.Sources, a.Type())
	}
	var mu sync.Mutex
	failed := 0

	var g errgroup.Group
	g.SetLimit(i.opts.Concurrency)
	for _, cat := range cats {
		g.Go(func() error {
			for _, a := range adapters {
				if ctx.Err() != nil {
					return nil
				}
				fetched, stored, err := i.ingestOne(ctx, a, cat, location, limit)

				mu.Lock()
				result.Queries++
				result.Fetched[a.Type()] += fetched
				result.Stored += stored
				if err != nil {
					failed++
					result.Errors = append(result.Errors, err.Error())
				}
				mu.Unlock()

				if err != nil {
					log.Warn("ingest query failed",
						zap.String("category", cat.Slug), zap.String("source", string(a.Type())), zap.Error(err))
					continue
				}
				log.Info("ingested category",
					zap.String("category", cat.Slug), zap.String("source", string(a.Type())),
					zap.Int("fetched", fetched), zap.Int64("stored", stored))
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("ingest: canceled: %v", err))
		result.Success = false
	}
	if result.Queries > 0 && failed == result.Queries {
		result.Success = false
	}
	return result, nil
}

func (i *Ingester) ingestOne(ctx context.Context, a source.Adapter, cat model.Category, location string, limit int) (int, int64, error) {
	qctx, cancel := i.queryContext(ctx)
	defer cancel()

	records, err := a.Search(qctx, cat, location, limit)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "ingest: %s/%s", a.Type(), cat.Slug)
	}
	if len(records) == 0 {
		return 0, 0, nil
	}
	n, err := i.store.UpsertSourceRecords(ctx, records)
	if err != nil {
		return len(records), 0, eris.Wrapf(err, "ingest: store %s/%s", a.Type(), cat.Slug)
	}
	return len(records), n, nil
}

// LookupResult holds the per-source outcome of a single-provider lookup.
type LookupResult struct {
	Records map[model.SourceType]*model.SourceRecord
	Errors  map[model.SourceType]error
}

// Lookup runs the zero-or-one lookup on every adapter and stores any hits.
func (i *Ingester) Lookup(ctx context.Context, name string, cat model.Category, location string) (*LookupResult, error) {
	location = firstNonEmpty(location, i.opts.Location)
	res := &LookupResult{
		Records: make(map[model.SourceType]*model.SourceRecord),
		Errors:  make(map[model.SourceType]error),
	}

	var hits []model.SourceRecord
	for _, a := range i.adapters {
		qctx, cancel := i.queryContext(ctx)
		rec, err := a.Lookup(qctx, name, cat, location)
		cancel()
		if err != nil {
			res.Errors[a.Type()] = eris.Wrapf(err, "ingest: lookup %s", a.Type())
			continue
		}
		if rec != nil {
			hits = append(hits, *rec)
		}
	}
	if len(hits) == 0 {
		return res, nil
	}

	if _, err := i.store.UpsertSourceRecords(ctx, hits); err != nil {
		return nil, eris.Wrap(err, "ingest: store lookup results")
	}
	for idx := range hits {
		h := hits[idx]
		res.Records[h.Source] = &h
	}
	return res, nil
}

func (i *Ingester) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.opts.SourceTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, i.opts.SourceTimeout)
}

func (i *Ingester) enabled(in IngestOpts) []source.Adapter {
	out := make([]source.Adapter, 0, len(i.adapters))
	for _, a := range i.adapters {
		switch {
		case a.Type() == model.SourceGoogle && in.SkipGoogle:
		case a.Type() == model.SourceYelp && in.SkipYelp:
		default:
			out = append(out, a)
		}
	}
	return out
}

func (i *Ingester) resolveCategories(ctx context.Context, slugs []string) ([]model.Category, error) {
	all, err := i.store.ListCategories(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: list categories")
	}
	if len(slugs) == 0 {
		return all, nil
	}

	bySlug := make(map[string]model.Category, len(all))
	for _, c := range all {
		bySlug[c.Slug] = c
	}
	out := make([]model.Category, 0, len(slugs))
	var missing []string
	for _, s := range slugs {
		c, ok := bySlug[strings.ToLower(strings.TrimSpace(s))]
		if !ok {
			missing = append(missing, s)
			continue
		}
		out = append(out, c)
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("ingest: unknown categories: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
