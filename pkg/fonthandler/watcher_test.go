package fonthandler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/fontedit/pkg/backends"
	"github.com/developer-mesh/fontedit/pkg/changes"
)

func newDirectoryFont(t *testing.T, glyphs ...map[string]any) (*backends.DirectoryBackend, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "font")
	b, err := backends.NewDirectoryBackend(backends.DirectoryConfig{
		Path:          path,
		Create:        true,
		WatchDebounce: 20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	for _, g := range glyphs {
		require.NoError(t, b.PutGlyph(context.Background(), g["name"].(string), g, []int{}))
	}
	return b, path
}

func saveExternally(t *testing.T, fontPath string, g map[string]any) {
	t.Helper()
	data, err := json.Marshal(g)
	require.NoError(t, err)
	dir := filepath.Join(fontPath, "glyphs")
	tmp := filepath.Join(dir, ".saving")
	require.NoError(t, os.WriteFile(tmp, data, 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, g["name"].(string)+".json")))
}

func TestExternalChanges(t *testing.T) {
	ctx := context.Background()

	t.Run("Externally edited glyphs are reloaded", func(t *testing.T) {
		backend, path := newDirectoryFont(t, testGlyph("A", 500))
		h := newHandler(t, backend)
		client := &recordingClient{}
		require.NoError(t, h.Connect(client).SubscribeChanges(ctx, glyphSubscription("A"), false))
		_, err := h.GetGlyph(ctx, "A")
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		saveExternally(t, path, testGlyph("A", 700))

		assert.Eventually(t, func() bool {
			return len(client.reloaded()) == 1
		}, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, []string{"A"}, client.reloaded()[0])

		g, err := h.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 700.0, advanceOf(t, g))
	})

	t.Run("Externally added glyphs join the glyph map", func(t *testing.T) {
		backend, path := newDirectoryFont(t, testGlyph("A", 500))
		h := newHandler(t, backend)
		client := &recordingClient{}
		require.NoError(t, h.Connect(client).SubscribeChanges(ctx, changes.PathToPattern(changes.Path{"glyphMap"}), false))
		glyphMap, err := h.GetGlyphMap(ctx)
		require.NoError(t, err)
		assert.Len(t, glyphMap, 1)

		saveExternally(t, path, testGlyph("B", 600))

		assert.Eventually(t, func() bool {
			return len(client.received()) == 1
		}, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, "=", client.received()[0].Func)

		glyphMap, err = h.GetGlyphMap(ctx)
		require.NoError(t, err)
		assert.Contains(t, glyphMap, "B")
	})

	t.Run("Edits written by the handler are not reported back", func(t *testing.T) {
		backend, _ := newDirectoryFont(t, testGlyph("A", 500))
		h := newHandler(t, backend)
		watcher := &recordingClient{}
		require.NoError(t, h.Connect(watcher).SubscribeChanges(ctx, glyphSubscription("A"), false))

		conn := h.Connect(&recordingClient{})
		require.NoError(t, conn.EditFinal(ctx, advanceChange("A", 600), advanceChange("A", 500), "advance", true))
		require.NoError(t, h.FinishWriting(ctx))
		time.Sleep(200 * time.Millisecond)

		assert.Len(t, watcher.received(), 1)
		assert.Empty(t, watcher.reloaded())
	})
}

func TestRemovedGlyphNames(t *testing.T) {
	change := changes.Consolidate([]changes.Change{
		changes.NewChange(nil, "d", "A"),
		changes.NewChange(nil, "=", "B", []any{}),
		changes.NewChange(nil, "d", "C"),
	}, "glyphMap")

	assert.Equal(t, []string{"A", "C"}, removedGlyphNames(change))
}
