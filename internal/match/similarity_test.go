package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJaro(t *testing.T) {
	assert.InDelta(t, 1.0, Jaro("martha", "martha"), 1e-9)
	assert.InDelta(t, 0.944, Jaro("martha", "marhta"), 0.001)
	assert.InDelta(t, 0.0, Jaro("", "abc"), 1e-9)
	assert.InDelta(t, 0.0, Jaro("abc", "xyz"), 1e-9)
}

func TestJaroWinkler(t *testing.T) {
	assert.InDelta(t, 0.961, JaroWinkler("martha", "marhta"), 0.001)
	assert.InDelta(t, 0.840, JaroWinkler("dwayne", "duane"), 0.001)
	assert.Greater(t, JaroWinkler("chris evans dj", "chris evans dj services"), 0.9)
	assert.InDelta(t, 1.0, JaroWinkler("same", "same"), 1e-9)
}

func TestTokenDice(t *testing.T) {
	assert.InDelta(t, 1.0, TokenDice([]string{"a", "b"}, []string{"b", "a"}), 1e-9)
	assert.InDelta(t, 2.0*3/7, TokenDice([]string{"chris", "evans", "dj"}, []string{"chris", "evans", "dj", "services"}), 1e-9)
	assert.InDelta(t, 0.0, TokenDice(nil, []string{"a"}), 1e-9)
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0/3, Jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
	assert.InDelta(t, 0.0, Jaccard([]string{"a"}, nil), 1e-9)
}
