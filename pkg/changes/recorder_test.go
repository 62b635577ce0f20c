package changes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGlyph() map[string]any {
	return map[string]any{
		"name":     "A",
		"xAdvance": 500,
		"note":     "draft",
		"path": map[string]any{
			"coordinates": []any{0, 0, 100, 0, 100, 100},
			"pointTypes":  []any{0, 0, 0},
		},
		"components": []any{
			map[string]any{"name": "acute", "location": map[string]any{"wght": 400}},
		},
	}
}

func TestRecord(t *testing.T) {
	mutate := func(subject any) error {
		g := subject.(map[string]any)
		g["xAdvance"] = 600
		delete(g, "note")
		g["unicodes"] = []any{65}

		path := g["path"].(map[string]any)
		coords := path["coordinates"].([]any)
		coords[2] = 150
		path["coordinates"] = coords[:4]
		path["pointTypes"] = []any{0, 0}

		compo := g["components"].([]any)[0].(map[string]any)
		compo["location"].(map[string]any)["wght"] = 700
		g["components"] = append(g["components"].([]any), map[string]any{"name": "dot"})
		return nil
	}

	t.Run("Forward change reproduces the mutation", func(t *testing.T) {
		subject := testGlyph()
		c, err := Record(subject, mutate)
		require.NoError(t, err)

		replay, err := Apply(testGlyph(), c.Change())
		require.NoError(t, err)
		assert.Equal(t, subject, replay)
	})

	t.Run("Rollback restores the original", func(t *testing.T) {
		subject := testGlyph()
		c, err := Record(subject, mutate)
		require.NoError(t, err)
		require.True(t, c.HasRollbackChange())

		restored, err := Apply(subject, c.RollbackChange())
		require.NoError(t, err)
		assert.Equal(t, testGlyph(), restored)
	})

	t.Run("Only changed branches are recorded", func(t *testing.T) {
		subject := testGlyph()
		c, err := Record(subject, func(s any) error {
			s.(map[string]any)["path"].(map[string]any)["coordinates"].([]any)[0] = 5
			return nil
		})
		require.NoError(t, err)

		assert.Equal(t, Change{
			Path: Path{"path", "coordinates"},
			Func: FuncAssign,
			Args: []any{0, 5},
		}, c.Change())
	})

	t.Run("No mutation records nothing", func(t *testing.T) {
		c, err := Record(testGlyph(), func(any) error { return nil })
		require.NoError(t, err)
		assert.False(t, c.HasChange())
	})

	t.Run("Mutator errors are returned", func(t *testing.T) {
		boom := errors.New("boom")
		c, err := Record(testGlyph(), func(any) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, c)
	})
}

func TestDeepCopy(t *testing.T) {
	original := testGlyph()
	clone := DeepCopy(original).(map[string]any)
	clone["path"].(map[string]any)["coordinates"].([]any)[0] = 99

	assert.Equal(t, 0, original["path"].(map[string]any)["coordinates"].([]any)[0])
	assert.True(t, deepEqual(map[string]any{"n": 1}, map[string]any{"n": 1.0}))
	assert.False(t, deepEqual([]any{1}, []any{1, 2}))
}
