package merge

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-sync/internal/model"
)

// RankStore is the persistence the ranker needs.
type RankStore interface {
	ListCategories(ctx context.Context) ([]model.Category, error)
	ListProviders(ctx context.Context, f model.ProviderFilter) ([]model.Provider, error)
	UpdatePositions(ctx context.Context, category string, positions map[string]int) error
}

// Ranker rebuilds per-category positions.
type Ranker struct {
	store RankStore
}

// NewRanker creates a Ranker.
func NewRanker(st RankStore) *Ranker {
	return &Ranker{store: st}
}

// AssignPositions numbers the rankable providers 1..N by overall score
// descending, ties broken by insertion order. Non-rankable rows are absent
// from the result.
func AssignPositions(providers []model.Provider) map[string]int {
	ranked := make([]*model.Provider, 0, len(providers))
	for i := range providers {
		if providers[i].Rankable() {
			ranked = append(ranked, &providers[i])
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Scores.Overall != ranked[j].Scores.Overall {
			return ranked[i].Scores.Overall > ranked[j].Scores.Overall
		}
		return ranked[i].Seq < ranked[j].Seq
	})

	positions := make(map[string]int, len(ranked))
	for i, p := range ranked {
		positions[p.ID] = i + 1
	}
	return positions
}

// Rebuild recomputes positions for one category, or all when category is
// empty. Each category is written in its own transaction.
func (r *Ranker) Rebuild(ctx context.Context, category string) (*model.RankingResult, error) {
	log := zap.L().With(zap.String("component", "ranker"))

	slugs := []string{category}
	if category == "" {
		cats, err := r.store.ListCategories(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "merge: rank list categories")
		}
		slugs = slugs[:0]
		for _, c := range cats {
			slugs = append(slugs, c.Slug)
		}
	}

	res := &model.RankingResult{Success: true}
	for _, slug := range slugs {
		n, err := r.rebuildCategory(ctx, slug)
		if err != nil {
			log.Warn("rank category failed", zap.String("category", slug), zap.Error(err))
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", slug, err))
			res.Success = false
			continue
		}
		res.Categories++
		res.Updated += n
	}

	log.Info("rankings rebuilt", zap.Int("categories", res.Categories), zap.Int("positions", res.Updated))
	return res, nil
}

func (r *Ranker) rebuildCategory(ctx context.Context, slug string) (int, error) {
	providers, err := r.store.ListProviders(ctx, model.ProviderFilter{Category: slug, RankableOnly: true})
	if err != nil {
		return 0, eris.Wrapf(err, "merge: rank list providers %s", slug)
	}
	positions := AssignPositions(providers)
	if err := r.store.UpdatePositions(ctx, slug, positions); err != nil {
		return 0, eris.Wrapf(err, "merge: rank write %s", slug)
	}
	return len(positions), nil
}
