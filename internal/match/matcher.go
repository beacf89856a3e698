// Package match pairs source records from different upstreams that describe
// the same provider.
package match

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-sync/internal/model"
)

// Store is the persistence the matcher needs.
type Store interface {
	ListCategories(ctx context.Context) ([]model.Category, error)
	ListSourceRecords(ctx context.Context, f model.RecordFilter) ([]model.SourceRecord, error)
	InsertMatchCandidates(ctx context.Context, candidates []model.MatchCandidate) error
	MatchStats(ctx context.Context) ([]model.MatchStats, error)
}

// Matcher runs the matching stage.
type Matcher struct {
	store  Store
	scorer *Scorer
}

// New creates a Matcher.
func New(st Store, scorer *Scorer) *Matcher {
	return &Matcher{store: st, scorer: scorer}
}

// Scorer exposes the pairwise scorer for single-provider syncs.
func (m *Matcher) Scorer() *Scorer {
	return m.scorer
}

// Run matches unmatched records in one category, or every category when
// category is empty. Candidates are persisted for audit; source records
// are left untouched.
func (m *Matcher) Run(ctx context.Context, runID, category string) (*model.MatchResult, error) {
	log := zap.L().With(zap.String("component", "matcher"), zap.String("run_id", runID))

	categories, err := m.categories(ctx, category)
	if err != nil {
		return nil, err
	}

	result := &model.MatchResult{Success: true}
	for _, cat := range categories {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("match: canceled before %s: %v", cat, err))
			result.Success = false
			break
		}

		candidates, err := m.matchCategory(ctx, cat)
		if err != nil {
			log.Error("match category failed", zap.String("category", cat), zap.Error(err))
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", cat, err))
			result.Success = false
			continue
		}

		for i := range candidates {
			candidates[i].RunID = runID
			c := &candidates[i]
			switch {
			case c.Class == model.MatchAuto && c.Google != nil && c.Yelp != nil:
				result.AutoMatches++
			case c.Class == model.MatchPartial && c.Google != nil && c.Yelp != nil:
				result.PartialMatches++
			default:
				result.NoMatches++
				if c.Google != nil {
					result.UnmatchedGoogle++
				} else {
					result.UnmatchedYelp++
				}
			}
		}

		if err := m.store.InsertMatchCandidates(ctx, candidates); err != nil {
			log.Warn("persist match candidates failed", zap.String("category", cat), zap.Error(err))
			result.Errors = append(result.Errors, fmt.Sprintf("%s: persist candidates: %v", cat, err))
		}
		result.Candidates = append(result.Candidates, candidates...)
	}

	log.Info("matching complete",
		zap.Int("categories", len(categories)),
		zap.Int("auto", result.AutoMatches),
		zap.Int("partial", result.PartialMatches),
		zap.Int("none", result.NoMatches),
	)
	return result, nil
}

func (m *Matcher) matchCategory(ctx context.Context, category string) ([]model.MatchCandidate, error) {
	google, err := m.store.ListSourceRecords(ctx, model.RecordFilter{
		Category: category, Source: model.SourceGoogle, UnmatchedOnly: true,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "match: list google records for %s", category)
	}
	yelp, err := m.store.ListSourceRecords(ctx, model.RecordFilter{
		Category: category, Source: model.SourceYelp, UnmatchedOnly: true,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "match: list yelp records for %s", category)
	}
	return m.scorer.Pair(category, google, yelp), nil
}

func (m *Matcher) categories(ctx context.Context, category string) ([]string, error) {
	if category != "" {
		return []string{category}, nil
	}
	cats, err := m.store.ListCategories(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "match: list categories")
	}
	slugs := make([]string, len(cats))
	for i, c := range cats {
		slugs[i] = c.Slug
	}
	return slugs, nil
}

// Stats returns pairing coverage per category.
func (m *Matcher) Stats(ctx context.Context) ([]model.MatchStats, error) {
	stats, err := m.store.MatchStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "match: stats")
	}
	return stats, nil
}
