package merge

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-sync/internal/model"
)

// ErrIdentityConflict is returned when a group's identity keys point at
// more than one canonical row.
var ErrIdentityConflict = errors.New("merge: identity conflict")

// Finder looks up canonical rows by identity key.
type Finder interface {
	FindProvidersByNativeID(ctx context.Context, source model.SourceType, nativeID, category string) ([]model.Provider, error)
	FindProvidersByNameKey(ctx context.Context, nameKey, category string) ([]model.Provider, error)
}

// Resolver is one tier of identity resolution.
type Resolver interface {
	Name() string
	// Resolve returns the rows the group's key points at.
	Resolve(ctx context.Context, g Group) ([]model.Provider, error)
	// Exclusive keys are owned by at most one row. They are still checked
	// after an earlier tier hit and must agree with it.
	Exclusive() bool
}

// GoogleIDResolver matches on the Google place id.
type GoogleIDResolver struct{ Finder Finder }

func (GoogleIDResolver) Name() string    { return "google_id" }
func (GoogleIDResolver) Exclusive() bool { return true }

func (r GoogleIDResolver) Resolve(ctx context.Context, g Group) ([]model.Provider, error) {
	if g.Google == nil {
		return nil, nil
	}
	return r.Finder.FindProvidersByNativeID(ctx, model.SourceGoogle, g.Google.NativeID, g.Category)
}

// YelpIDResolver matches on the Yelp business id.
type YelpIDResolver struct{ Finder Finder }

func (YelpIDResolver) Name() string    { return "yelp_id" }
func (YelpIDResolver) Exclusive() bool { return true }

func (r YelpIDResolver) Resolve(ctx context.Context, g Group) ([]model.Provider, error) {
	if g.Yelp == nil {
		return nil, nil
	}
	return r.Finder.FindProvidersByNativeID(ctx, model.SourceYelp, g.Yelp.NativeID, g.Category)
}

// NameCategoryResolver matches on normalized name within the category.
// Rows already linked to a different native id for a source the group
// carries describe another business and are skipped.
type NameCategoryResolver struct{ Finder Finder }

func (NameCategoryResolver) Name() string    { return "name_category" }
func (NameCategoryResolver) Exclusive() bool { return false }

func (r NameCategoryResolver) Resolve(ctx context.Context, g Group) ([]model.Provider, error) {
	key := NameKey(g.Name())
	if key == "" {
		return nil, nil
	}
	rows, err := r.Finder.FindProvidersByNameKey(ctx, key, g.Category)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, p := range rows {
		if compatible(&p, g) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Chain runs resolvers in order; the first tier with a hit wins.
type Chain []Resolver

// DefaultChain is google id, then yelp id, then name and category.
func DefaultChain(f Finder) Chain {
	return Chain{GoogleIDResolver{f}, YelpIDResolver{f}, NameCategoryResolver{f}}
}

// Resolve returns the canonical row for g, or nil when none exists.
func (c Chain) Resolve(ctx context.Context, g Group) (*model.Provider, string, error) {
	var (
		winner *model.Provider
		tier   string
	)
	for _, r := range c {
		if winner != nil && !r.Exclusive() {
			continue
		}
		rows, err := r.Resolve(ctx, g)
		if err != nil {
			return nil, "", eris.Wrapf(err, "merge: resolve %s by %s", g.Key(), r.Name())
		}
		if len(rows) == 0 {
			continue
		}
		if len(rows) > 1 {
			return nil, "", eris.Wrapf(ErrIdentityConflict, "%s: %d rows share %s", g.Key(), len(rows), r.Name())
		}
		if winner == nil {
			winner, tier = &rows[0], r.Name()
			continue
		}
		if rows[0].ID != winner.ID {
			return nil, "", eris.Wrapf(ErrIdentityConflict, "%s: %s resolves to %s, %s resolves to %s",
				g.Key(), tier, winner.ID, r.Name(), rows[0].ID)
		}
	}
	if winner != nil && !compatible(winner, g) {
		return nil, "", eris.Wrapf(ErrIdentityConflict, "%s: row %s is linked to other listings", g.Key(), winner.ID)
	}
	return winner, tier, nil
}

func compatible(p *model.Provider, g Group) bool {
	for _, src := range model.Sources {
		rec := g.Record(src)
		slot := p.Slot(src)
		if rec != nil && slot.Linked() && slot.NativeID != rec.NativeID {
			return false
		}
	}
	return true
}
