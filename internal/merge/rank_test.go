package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-sync/internal/model"
)

func ranked(id string, seq int64, overall float64, active, listed bool) model.Provider {
	return model.Provider{
		ID: id, Seq: seq, Category: "dj", Active: active, Listed: listed,
		Scores: model.QualityScores{Overall: overall},
	}
}

func TestAssignPositions(t *testing.T) {
	positions := AssignPositions([]model.Provider{
		ranked("low", 1, 70, true, true),
		ranked("tie-late", 5, 90, true, true),
		ranked("tie-early", 2, 90, true, true),
		ranked("hidden", 3, 99, true, false),
		ranked("inactive", 4, 99, false, true),
	})

	assert.Equal(t, map[string]int{"tie-early": 1, "tie-late": 2, "low": 3}, positions)
}

func TestAssignPositions_Empty(t *testing.T) {
	assert.Empty(t, AssignPositions(nil))
}

func TestRankerRebuild_Contiguous(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cat, err := st.GetCategoryBySlug(ctx, "dj")
	require.NoError(t, err)

	create := func(name string, overall float64, listed bool) string {
		p := &model.Provider{
			Name: name, NameKey: NameKey(name), CategoryID: cat.ID, Category: "dj",
			SyncStatus: model.SyncPartial, Scores: model.QualityScores{Overall: overall},
			Active: true, Listed: listed,
		}
		require.NoError(t, st.CreateProvider(ctx, p))
		return p.ID
	}
	a := create("Alpha Sound", 82, true)
	b := create("Bravo Beats", 91, true)
	c := create("Charlie Mix", 91, true)
	hidden := create("Delta Decks", 99, false)

	res, err := NewRanker(st).Rebuild(ctx, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Categories)
	assert.Equal(t, 3, res.Updated)

	want := map[string]int{b: 1, c: 2, a: 3, hidden: 0}
	for id, pos := range want {
		p, err := st.GetProvider(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, pos, p.Position, p.Name)
	}

	// Unlisting the leader closes the gap on the next rebuild.
	_, err = st.DB().ExecContext(ctx, `UPDATE providers SET listed = 0 WHERE id = ?`, b)
	require.NoError(t, err)
	_, err = NewRanker(st).Rebuild(ctx, "dj")
	require.NoError(t, err)

	for id, pos := range map[string]int{b: 0, c: 1, a: 2} {
		p, err := st.GetProvider(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, pos, p.Position, p.Name)
	}
}
