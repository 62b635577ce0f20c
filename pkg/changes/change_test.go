package changes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsolidate(t *testing.T) {
	t.Run("Hoists only the shared prefix", func(t *testing.T) {
		result := Consolidate([]Change{
			{Path: Path{"a", "b"}, Func: FuncAssign, Args: []any{"k", 1}},
			{Path: Path{"a", "c"}, Func: FuncAssign, Args: []any{"k", 2}},
		})

		assert.Equal(t, Path{"a"}, result.Path)
		assert.Empty(t, result.Func)
		require.Len(t, result.Children, 2)
		assert.Equal(t, Path{"b"}, result.Children[0].Path)
		assert.Equal(t, Path{"c"}, result.Children[1].Path)
	})

	t.Run("Consolidating a single change is idempotent", func(t *testing.T) {
		x := Change{Path: Path{"glyphs", "A"}, Func: FuncAssign, Args: []any{"xAdvance", 500}}

		once := Consolidate([]Change{x})
		twice := Consolidate([]Change{once})

		assert.Equal(t, once, twice)
		assert.Equal(t, x, once)
	})

	t.Run("Empty change reduces to the zero node", func(t *testing.T) {
		result := Consolidate([]Change{{}})
		assert.Equal(t, Change{}, result)
		assert.True(t, result.IsEmpty())

		doc := map[string]any{"k": 1}
		applied, err := Apply(doc, result)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"k": 1}, applied)
	})

	t.Run("Path-only nodes are pruned", func(t *testing.T) {
		result := Consolidate([]Change{
			{Path: Path{"a"}, Func: FuncAssign, Args: []any{"k", 1}},
			{Path: Path{"b"}},
		})

		assert.Equal(t, Change{Path: Path{"a"}, Func: FuncAssign, Args: []any{"k", 1}}, result)
	})

	t.Run("Single-child chains collapse into one node", func(t *testing.T) {
		result := Consolidate([]Change{{
			Path: Path{"a"},
			Children: []Change{{
				Path:     Path{"b"},
				Children: []Change{{Func: FuncAssign, Args: []any{"k", 1}}},
			}},
		}})

		assert.Equal(t, Change{Path: Path{"a", "b"}, Func: FuncAssign, Args: []any{"k", 1}}, result)
	})

	t.Run("Empty paths are never retained", func(t *testing.T) {
		result := Consolidate([]Change{
			{Path: Path{}, Func: FuncAssign, Args: []any{"a", 1}},
			{Path: Path{}, Func: FuncAssign, Args: []any{"b", 2}},
		})

		assert.Nil(t, result.Path)
		for _, child := range result.Children {
			assert.Nil(t, child.Path)
		}
	})

	t.Run("Prefix is prepended to the result", func(t *testing.T) {
		result := Consolidate([]Change{
			{Path: Path{"path"}, Func: FuncAssign, Args: []any{"x", 1}},
		}, "glyphs", "A")

		assert.Equal(t, Path{"glyphs", "A", "path"}, result.Path)
	})

	t.Run("Prefix is not added to an empty result", func(t *testing.T) {
		assert.Equal(t, Change{}, Consolidate([]Change{{}}, "glyphs", "A"))
	})
}

func TestChangeJSON(t *testing.T) {
	t.Run("Omits absent fields", func(t *testing.T) {
		data, err := json.Marshal(Change{})
		require.NoError(t, err)
		assert.Equal(t, "{}", string(data))

		data, err = json.Marshal(Change{Path: Path{"glyphs", "A"}, Children: []Change{{Func: "d", Args: []any{"x"}}}})
		require.NoError(t, err)
		assert.JSONEq(t, `{"p":["glyphs","A"],"c":[{"f":"d","a":["x"]}]}`, string(data))
	})

	t.Run("Decodes index segments as int", func(t *testing.T) {
		var change Change
		require.NoError(t, json.Unmarshal([]byte(`{"p":["layers",2,"glyph"],"f":"=","a":["xAdvance",510]}`), &change))

		assert.Equal(t, Path{"layers", 2, "glyph"}, change.Path)
		assert.Equal(t, "=", change.Func)
		assert.Equal(t, []any{"xAdvance", float64(510)}, change.Args)
	})

	t.Run("Rejects fractional index segments", func(t *testing.T) {
		var change Change
		assert.Error(t, json.Unmarshal([]byte(`{"p":[1.5]}`), &change))
	})
}

func TestPath(t *testing.T) {
	p := Path{"glyphs", "A"}

	assert.True(t, p.Equal(Path{"glyphs", "A"}))
	assert.False(t, p.Equal(Path{"glyphs"}))
	assert.True(t, Path{"layers", 1}.Equal(Path{"layers", float64(1)}))
	assert.False(t, Path{"1"}.Equal(Path{1}))
	assert.True(t, Path{"glyphs", "A", "path"}.HasPrefix(p))
	assert.False(t, p.HasPrefix(Path{"glyphs", "A", "path"}))
	assert.Equal(t, Path{"glyphs", "A", "path"}, p.Concat(Path{"path"}))
	assert.Nil(t, Path{}.Concat(nil))
	assert.Equal(t, "glyphs/A/2", Path{"glyphs", "A", 2}.String())

	clone := p.Clone()
	clone[0] = "other"
	assert.Equal(t, "glyphs", p[0])
}

func TestTouchesPath(t *testing.T) {
	target := Path{"glyphs", "A", "path"}

	t.Run("Child with matching path touches", func(t *testing.T) {
		change := Change{
			Path:     Path{"glyphs", "A"},
			Children: []Change{{Path: Path{"path"}, Func: "=xy", Args: []any{0, 1, 2}}},
		}
		assert.True(t, TouchesPath(change, target))
	})

	t.Run("Child without path but with an operation touches", func(t *testing.T) {
		change := Change{
			Path:     Path{"glyphs", "A"},
			Children: []Change{{Func: FuncAssign, Args: []any{"path", map[string]any{}}}},
		}
		assert.True(t, TouchesPath(change, target))
	})

	t.Run("Diverging first segment does not touch", func(t *testing.T) {
		change := Change{Path: Path{"glyphs", "B"}, Func: FuncAssign, Args: []any{"x", 1}}
		assert.False(t, TouchesPath(change, target))
	})

	t.Run("Sibling child does not touch", func(t *testing.T) {
		change := Change{
			Path:     Path{"glyphs", "A"},
			Children: []Change{{Path: Path{"xAdvance"}, Func: FuncAssign, Args: []any{"x", 1}}},
		}
		assert.False(t, TouchesPath(change, target))
	})

	t.Run("Deeper change below target touches", func(t *testing.T) {
		change := Change{Path: Path{"glyphs", "A", "path", "coordinates"}, Func: FuncAssign, Args: []any{0, 10}}
		assert.True(t, TouchesPath(change, target))
	})

	t.Run("Empty change touches nothing", func(t *testing.T) {
		assert.False(t, TouchesPath(Change{Path: Path{"glyphs", "A", "path"}}, target))
	})
}

func TestCollectChangePaths(t *testing.T) {
	change := Change{
		Path: Path{"glyphs"},
		Children: []Change{
			{Path: Path{"B"}, Func: FuncAssign, Args: []any{"x", 1}},
			{Path: Path{"A", "path"}, Func: FuncAssign, Args: []any{"x", 1}},
			{Path: Path{"A"}, Func: FuncAssign, Args: []any{"y", 1}},
		},
	}

	assert.Equal(t, []Path{{"glyphs"}}, CollectChangePaths(change, 1))
	assert.Equal(t, []Path{{"glyphs", "A"}, {"glyphs", "B"}}, CollectChangePaths(change, 2))
	assert.Equal(t, []Path{{"glyphs", "A", "path"}}, CollectChangePaths(change, 3))
	assert.Empty(t, CollectChangePaths(Change{}, 1))
}
