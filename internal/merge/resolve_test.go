package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-sync/internal/model"
)

type fakeFinder struct {
	rows []model.Provider
	err  error
}

func (f *fakeFinder) FindProvidersByNativeID(_ context.Context, source model.SourceType, nativeID, category string) ([]model.Provider, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Provider
	for _, p := range f.rows {
		if p.Category == category && p.Slot(source).NativeID == nativeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeFinder) FindProvidersByNameKey(_ context.Context, nameKey, category string) ([]model.Provider, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Provider
	for _, p := range f.rows {
		if p.Category == category && p.NameKey == nameKey {
			out = append(out, p)
		}
	}
	return out, nil
}

func row(id, name, googleID, yelpID string) model.Provider {
	return model.Provider{
		ID: id, Name: name, NameKey: NameKey(name), Category: "dj",
		Google: model.SourceSlot{NativeID: googleID},
		Yelp:   model.SourceSlot{NativeID: yelpID},
	}
}

func group(googleID, yelpID, name string) Group {
	g := Group{Category: "dj"}
	if googleID != "" {
		g.Google = &model.SourceRecord{Source: model.SourceGoogle, NativeID: googleID, Category: "dj", Name: name}
	}
	if yelpID != "" {
		g.Yelp = &model.SourceRecord{Source: model.SourceYelp, NativeID: yelpID, Category: "dj", Name: name}
	}
	return g
}

func TestChain_Precedence(t *testing.T) {
	f := &fakeFinder{rows: []model.Provider{
		row("p1", "Chris Evans DJ", "g1", ""),
		row("p2", "Beat Drop Events", "", "y2"),
		row("p3", "Spin City", "", ""),
	}}
	chain := DefaultChain(f)
	ctx := context.Background()

	tests := []struct {
		name   string
		g      Group
		wantID string
		tier   string
	}{
		{"google id", group("g1", "", "Renamed"), "p1", "google_id"},
		{"google id with new yelp", group("g1", "y9", "Chris Evans DJ"), "p1", "google_id"},
		{"yelp id", group("", "y2", "Beat Drop"), "p2", "yelp_id"},
		{"name and category", group("g3", "", "Spin City LLC"), "p3", "name_category"},
		{"no hit", group("g4", "y4", "Brand New"), "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, tier, err := chain.Resolve(ctx, tt.g)
			require.NoError(t, err)
			assert.Equal(t, tt.tier, tier)
			if tt.wantID == "" {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.wantID, p.ID)
		})
	}
}

func TestChain_IDsDisagree(t *testing.T) {
	f := &fakeFinder{rows: []model.Provider{
		row("p1", "Chris Evans DJ", "g1", ""),
		row("p2", "Chris Evans Entertainment", "", "y1"),
	}}
	_, _, err := DefaultChain(f).Resolve(context.Background(), group("g1", "y1", "Chris Evans DJ"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIdentityConflict))
}

func TestChain_LinkedToOtherListing(t *testing.T) {
	// Yelp id resolves to a row that already carries another google id.
	f := &fakeFinder{rows: []model.Provider{row("p1", "Chris Evans DJ", "g-other", "y1")}}
	_, _, err := DefaultChain(f).Resolve(context.Background(), group("g1", "y1", "Chris Evans DJ"))
	assert.ErrorIs(t, err, ErrIdentityConflict)
}

func TestChain_AmbiguousName(t *testing.T) {
	f := &fakeFinder{rows: []model.Provider{
		row("p1", "Spin City", "", ""),
		row("p2", "Spin City", "", ""),
	}}
	_, _, err := DefaultChain(f).Resolve(context.Background(), group("g1", "", "Spin City"))
	assert.ErrorIs(t, err, ErrIdentityConflict)
}

func TestChain_NameSkipsIncompatibleRows(t *testing.T) {
	f := &fakeFinder{rows: []model.Provider{
		row("p1", "Spin City", "g-other", ""),
		row("p2", "Spin City", "", ""),
	}}
	p, tier, err := DefaultChain(f).Resolve(context.Background(), group("g1", "", "Spin City"))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "p2", p.ID)
	assert.Equal(t, "name_category", tier)
}

func TestChain_FinderError(t *testing.T) {
	f := &fakeFinder{err: errors.New("connection reset")}
	_, _, err := DefaultChain(f).Resolve(context.Background(), group("g1", "", "Spin City"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrIdentityConflict))
	assert.Contains(t, err.Error(), "google_id")
}
