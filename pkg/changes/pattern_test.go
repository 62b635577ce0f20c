package changes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternEditing(t *testing.T) {
	t.Run("Path to pattern", func(t *testing.T) {
		assert.Equal(t, Pattern{}, PathToPattern(nil))
		assert.Equal(t, Pattern{"a": Pattern{"b": nil}}, PathToPattern(Path{"a", "b"}))
	})

	t.Run("Adding paths merges and respects leaves", func(t *testing.T) {
		p := Pattern{}
		AddPathToPattern(p, Path{"glyphs", "A"})
		AddPathToPattern(p, Path{"glyphs", "B"})
		AddPathToPattern(p, Path{"glyphs", "A", "path"})

		assert.Equal(t, Pattern{"glyphs": Pattern{"A": nil, "B": nil}}, p)
	})

	t.Run("Removing paths prunes empty parents", func(t *testing.T) {
		p := Pattern{"glyphs": Pattern{"A": nil, "B": nil}}

		RemovePathFromPattern(p, Path{"glyphs"})
		assert.Equal(t, Pattern{"glyphs": Pattern{"A": nil, "B": nil}}, p)

		RemovePathFromPattern(p, Path{"glyphs", "A"})
		assert.Equal(t, Pattern{"glyphs": Pattern{"B": nil}}, p)

		RemovePathFromPattern(p, Path{"glyphs", "B"})
		assert.Equal(t, Pattern{}, p)
	})

	t.Run("Adding patterns", func(t *testing.T) {
		p := Pattern{"glyphs": Pattern{"A": nil}}
		AddPatternToPattern(p, Pattern{"glyphs": Pattern{"B": nil}, "axes": nil})
		assert.Equal(t, Pattern{"glyphs": Pattern{"A": nil, "B": nil}, "axes": nil}, p)

		AddPatternToPattern(p, Pattern{"glyphs": nil})
		assert.Equal(t, Pattern{"glyphs": nil, "axes": nil}, p)
	})

	t.Run("Removing patterns", func(t *testing.T) {
		p := Pattern{"glyphs": Pattern{"A": nil, "B": nil}, "axes": nil}
		RemovePatternFromPattern(p, Pattern{"glyphs": Pattern{"A": nil}, "missing": nil})
		assert.Equal(t, Pattern{"glyphs": Pattern{"B": nil}, "axes": nil}, p)

		RemovePatternFromPattern(p, Pattern{"axes": Pattern{"x": nil}})
		assert.Equal(t, Pattern{"glyphs": Pattern{"B": nil}, "axes": nil}, p)

		RemovePatternFromPattern(p, Pattern{"glyphs": Pattern{"B": nil}, "axes": nil})
		assert.Equal(t, Pattern{}, p)
	})

	t.Run("Leaves round trip through JSON as null", func(t *testing.T) {
		var p Pattern
		require.NoError(t, json.Unmarshal([]byte(`{"glyphs":{"A":null}}`), &p))
		assert.True(t, p["glyphs"].IsLeaf("A"))
		assert.False(t, p.IsLeaf("glyphs"))
	})
}

func TestMatchChangePattern(t *testing.T) {
	pattern := Pattern{"glyphs": Pattern{"A": nil}}

	assert.True(t, MatchChangePattern(Change{Path: Path{"glyphs", "A", "path"}, Func: "=xy"}, pattern))
	assert.False(t, MatchChangePattern(Change{Path: Path{"glyphs", "B"}, Func: "="}, pattern))
	assert.True(t, MatchChangePattern(Change{
		Path:     Path{"glyphs"},
		Children: []Change{{Path: Path{"B"}, Func: "="}, {Path: Path{"A"}, Func: "="}},
	}, pattern))
	assert.False(t, MatchChangePattern(Change{Path: Path{"glyphs"}, Func: "=", Args: []any{"A", nil}}, pattern))
}

func TestFilterChangePattern(t *testing.T) {
	change := Change{
		Path: Path{"glyphs"},
		Children: []Change{
			{Path: Path{"A"}, Func: FuncAssign, Args: []any{"x", 1}},
			{Path: Path{"B"}, Func: FuncAssign, Args: []any{"x", 2}},
		},
	}
	pattern := Pattern{"glyphs": Pattern{"A": nil}}

	t.Run("Keeps the matching part", func(t *testing.T) {
		filtered, ok := FilterChangePattern(change, pattern, false)
		require.True(t, ok)
		assert.Equal(t, Change{Path: Path{"glyphs", "A"}, Func: FuncAssign, Args: []any{"x", 1}}, filtered)
	})

	t.Run("Inverse keeps the rest", func(t *testing.T) {
		filtered, ok := FilterChangePattern(change, pattern, true)
		require.True(t, ok)
		assert.Equal(t, Change{Path: Path{"glyphs", "B"}, Func: FuncAssign, Args: []any{"x", 2}}, filtered)
	})

	t.Run("Nothing matching yields no change", func(t *testing.T) {
		_, ok := FilterChangePattern(change, Pattern{"axes": nil}, false)
		assert.False(t, ok)
	})

	t.Run("Inverse keeps an operation above the pattern", func(t *testing.T) {
		c := Change{
			Path:     Path{"glyphs"},
			Func:     FuncDeleteKey,
			Args:     []any{"C"},
			Children: []Change{{Path: Path{"A"}, Func: FuncAssign, Args: []any{"x", 1}}},
		}
		filtered, ok := FilterChangePattern(c, pattern, true)
		require.True(t, ok)
		assert.Equal(t, Change{Path: Path{"glyphs"}, Func: FuncDeleteKey, Args: []any{"C"}}, filtered)
	})
}
