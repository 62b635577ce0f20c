package changes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	t.Run("Round trips a single assignment", func(t *testing.T) {
		c := NewCollector()
		c.AddChange(FuncAssign, "k", 1)

		doc, err := Apply(map[string]any{}, c.Change())
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"k": 1}, doc)
	})

	t.Run("Empty collector yields the empty change", func(t *testing.T) {
		c := NewCollector()
		c.Sub("a", "b")

		assert.False(t, c.HasChange())
		assert.False(t, c.HasRollbackChange())
		assert.Equal(t, Change{}, c.Change())
		assert.Equal(t, Change{}, c.RollbackChange())
	})

	t.Run("Rollback inverts an assign and delete pair", func(t *testing.T) {
		doc := map[string]any{"keep": "x", "gone": 1}
		original := DeepCopy(doc)

		c := NewCollector()
		c.AddChange(FuncAssign, "added", 2)
		c.AddRollbackChange(FuncDeleteKey, "added")
		c.AddChange(FuncDeleteKey, "gone")
		c.AddRollbackChange(FuncAssign, "gone", 1)

		_, err := Apply(doc, c.Change())
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"keep": "x", "added": 2}, doc)

		_, err = Apply(doc, c.RollbackChange())
		require.NoError(t, err)
		assert.Equal(t, original, doc)
	})

	t.Run("Rollback inverts nested sub-collector edits", func(t *testing.T) {
		doc := map[string]any{
			"a": map[string]any{"x": 1},
			"b": []any{1, 2, 3},
			"c": map[string]any{"d": map[string]any{"e": "old"}},
		}
		original := DeepCopy(doc)

		c := NewCollector()
		a := c.Sub("a")
		a.AddChange(FuncAssign, "x", 2)
		a.AddRollbackChange(FuncAssign, "x", 1)
		b := c.Sub("b")
		b.AddChange(FuncSpliceInsert, 3, 4)
		b.AddRollbackChange(FuncSpliceRemove, 3, 1)
		cd := c.Sub("c").Sub("d")
		cd.AddChange(FuncDeleteKey, "e")
		cd.AddRollbackChange(FuncAssign, "e", "old")

		assert.True(t, c.HasChange())
		assert.True(t, c.HasRollbackChange())

		forward := c.Change()
		require.Len(t, forward.Children, 3)
		assert.Equal(t, Path{"c", "d"}, forward.Children[2].Path)

		_, err := Apply(doc, forward)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"a": map[string]any{"x": 2},
			"b": []any{1, 2, 3, 4},
			"c": map[string]any{"d": map[string]any{}},
		}, doc)

		_, err = Apply(doc, c.RollbackChange())
		require.NoError(t, err)
		assert.Equal(t, original, doc)
	})

	t.Run("Rollbacks apply most recent first", func(t *testing.T) {
		c := NewCollector()
		c.AddRollbackChange(FuncAssign, "k", "first")
		c.AddRollbackChange(FuncAssign, "k", "second")

		rollback := c.RollbackChange()
		require.Len(t, rollback.Children, 2)
		assert.Equal(t, []any{"k", "second"}, rollback.Children[0].Args)

		doc, err := Apply(map[string]any{}, rollback)
		require.NoError(t, err)
		assert.Equal(t, "first", doc.(map[string]any)["k"])
	})

	t.Run("Adjacent sub-collectors at the same path share storage", func(t *testing.T) {
		c := NewCollector()
		c.Sub("glyphs", "A").AddChange(FuncAssign, "x", 1)
		c.Sub("glyphs", "A").AddChange(FuncAssign, "y", 2)

		require.Len(t, c.forward.entries, 1)
		change := c.Change()
		assert.Equal(t, Path{"glyphs", "A"}, change.Path)
		assert.Len(t, change.Children, 2)
	})

	t.Run("Sub-collector change is relative to its path", func(t *testing.T) {
		c := NewCollector()
		sub := c.Sub("glyphs", "A")
		sub.AddChange(FuncAssign, "x", 1)

		assert.Equal(t, Change{Func: FuncAssign, Args: []any{"x", 1}}, sub.Change())
		assert.Equal(t, Path{"glyphs", "A"}, c.Change().Path)
	})

	t.Run("Concat orders forward and rollback changes", func(t *testing.T) {
		first := NewCollector()
		first.AddChange(FuncAssign, "k", 1)
		first.AddRollbackChange(FuncAssign, "k", 0)
		second := NewCollector()
		second.AddChange(FuncAssign, "k", 2)
		second.AddRollbackChange(FuncAssign, "k", 1)
		third := NewCollector()
		third.AddChange(FuncAssign, "k", 3)
		third.AddRollbackChange(FuncAssign, "k", 2)

		merged := first.Concat(second, third)

		forward := merged.Change()
		require.Len(t, forward.Children, 3)
		assert.Equal(t, []any{"k", 1}, forward.Children[0].Args)
		assert.Equal(t, []any{"k", 3}, forward.Children[2].Args)

		rollback := merged.RollbackChange()
		require.Len(t, rollback.Children, 3)
		assert.Equal(t, []any{"k", 2}, rollback.Children[0].Args)
		assert.Equal(t, []any{"k", 0}, rollback.Children[2].Args)

		doc, err := Apply(map[string]any{"k": 0}, forward)
		require.NoError(t, err)
		assert.Equal(t, 3, doc.(map[string]any)["k"])
		doc, err = Apply(doc, rollback)
		require.NoError(t, err)
		assert.Equal(t, 0, doc.(map[string]any)["k"])
	})

	t.Run("From changes keeps application order", func(t *testing.T) {
		c := CollectorFromChanges(
			[]Change{{Path: Path{"a"}, Func: FuncAssign, Args: []any{"k", 1}}, {}},
			[]Change{{Path: Path{"a"}, Func: FuncDeleteKey, Args: []any{"k"}}},
		)

		assert.True(t, c.HasChange())
		assert.Equal(t, Change{Path: Path{"a"}, Func: FuncAssign, Args: []any{"k", 1}}, c.Change())
		assert.Equal(t, Change{Path: Path{"a"}, Func: FuncDeleteKey, Args: []any{"k"}}, c.RollbackChange())
	})
}
