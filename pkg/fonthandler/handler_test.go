package fonthandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/developer-mesh/fontedit/pkg/backends"
	"github.com/developer-mesh/fontedit/pkg/changes"
	"github.com/developer-mesh/fontedit/pkg/fontcontroller"
	"github.com/developer-mesh/fontedit/pkg/glyph"
	"github.com/developer-mesh/fontedit/pkg/resilience"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingClient struct {
	mu       sync.Mutex
	changes  []changes.Change
	reloads  [][]string
	messages []string
}

func (c *recordingClient) ExternalChange(_ context.Context, change changes.Change) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change)
	return nil
}

func (c *recordingClient) ReloadGlyphs(_ context.Context, glyphNames []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloads = append(c.reloads, glyphNames)
	return nil
}

func (c *recordingClient) MessageFromServer(_ context.Context, title, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, title)
	return nil
}

func (c *recordingClient) received() []changes.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]changes.Change(nil), c.changes...)
}

func (c *recordingClient) reloaded() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.reloads...)
}

func (c *recordingClient) titles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

type fakeBus struct {
	mu   sync.Mutex
	live []changes.Change
	fin  []changes.Change
}

func (b *fakeBus) Publish(_ context.Context, change changes.Change, live bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if live {
		b.live = append(b.live, change)
	} else {
		b.fin = append(b.fin, change)
	}
	return nil
}

func testGlyph(name string, advance float64) map[string]any {
	return glyph.New(name, map[string]any{"xAdvance": advance})
}

func advanceChange(name string, advance float64) changes.Change {
	return changes.NewChange(changes.Path{"glyphs", name, "layers", "default", "glyph"}, "=", "xAdvance", advance)
}

func advanceOf(t *testing.T, g map[string]any) any {
	t.Helper()
	require.NotNil(t, g)
	static, ok := glyph.LayerGlyph(g, "default")
	require.True(t, ok)
	return static["xAdvance"]
}

func fastPolicy() *resilience.Policy {
	return resilience.NewPolicy(nil, resilience.RetryConfig{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsedTime:  time.Second,
	}, nil)
}

func newMemoryFont(t *testing.T, glyphs ...map[string]any) *backends.MemoryBackend {
	t.Helper()
	b := backends.NewMemoryBackend(1000)
	for _, g := range glyphs {
		require.NoError(t, b.PutGlyph(context.Background(), g["name"].(string), g, []int{}))
	}
	return b
}

func newHandler(t *testing.T, backend backends.Backend, opts ...Option) *FontHandler {
	t.Helper()
	opts = append([]Option{WithPolicy(fastPolicy())}, opts...)
	h, err := New(backend, DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = h.Close(context.Background())
	})
	return h
}

func glyphSubscription(name string) changes.Pattern {
	return changes.PathToPattern(changes.Path{"glyphs", name})
}

func TestBroadcast(t *testing.T) {
	ctx := context.Background()

	t.Run("Final changes reach subscribers other than the sender", func(t *testing.T) {
		h := newHandler(t, newMemoryFont(t, testGlyph("A", 500), testGlyph("B", 500)))
		sender, final, liveOther := &recordingClient{}, &recordingClient{}, &recordingClient{}
		senderConn := h.Connect(sender)
		require.NoError(t, senderConn.SubscribeChanges(ctx, glyphSubscription("A"), false))
		require.NoError(t, h.Connect(final).SubscribeChanges(ctx, glyphSubscription("A"), false))
		require.NoError(t, h.Connect(liveOther).SubscribeChanges(ctx, glyphSubscription("B"), true))

		require.NoError(t, senderConn.EditFinal(ctx, advanceChange("A", 600), advanceChange("A", 500), "advance", true))

		assert.Empty(t, sender.received())
		require.Len(t, final.received(), 1)
		assert.Equal(t, advanceChange("A", 600), final.received()[0])
		assert.Empty(t, liveOther.received())
	})

	t.Run("Live changes reach live subscribers only", func(t *testing.T) {
		h := newHandler(t, newMemoryFont(t, testGlyph("A", 500)))
		final, live := &recordingClient{}, &recordingClient{}
		require.NoError(t, h.Connect(final).SubscribeChanges(ctx, glyphSubscription("A"), false))
		require.NoError(t, h.Connect(live).SubscribeChanges(ctx, glyphSubscription("A"), true))
		sender := h.Connect(&recordingClient{})

		require.NoError(t, sender.EditIncremental(ctx, advanceChange("A", 550)))

		assert.Empty(t, final.received())
		assert.Len(t, live.received(), 1)
	})

	t.Run("Unsubscribed and closed connections receive nothing", func(t *testing.T) {
		h := newHandler(t, newMemoryFont(t, testGlyph("A", 500)))
		unsubscribed, closed := &recordingClient{}, &recordingClient{}
		conn := h.Connect(unsubscribed)
		require.NoError(t, conn.SubscribeChanges(ctx, glyphSubscription("A"), false))
		require.NoError(t, conn.UnsubscribeChanges(ctx, glyphSubscription("A"), false))
		closedConn := h.Connect(closed)
		require.NoError(t, closedConn.SubscribeChanges(ctx, glyphSubscription("A"), false))
		closedConn.Close()

		sender := h.Connect(&recordingClient{})
		require.NoError(t, sender.EditFinal(ctx, advanceChange("A", 600), advanceChange("A", 500), "advance", true))

		assert.Empty(t, unsubscribed.received())
		assert.Empty(t, closed.received())
	})

	t.Run("Broadcast changes are published to the bus", func(t *testing.T) {
		bus := &fakeBus{}
		h := newHandler(t, newMemoryFont(t, testGlyph("A", 500)), WithChangeBus(bus))
		conn := h.Connect(&recordingClient{})

		require.NoError(t, conn.EditIncremental(ctx, advanceChange("A", 550)))
		require.NoError(t, conn.EditFinal(ctx, advanceChange("A", 600), advanceChange("A", 500), "advance", true))
		require.NoError(t, conn.EditFinal(ctx, advanceChange("A", 610), advanceChange("A", 600), "advance", false))

		assert.Len(t, bus.live, 1)
		assert.Len(t, bus.fin, 1)
	})
}

func TestEditFinal(t *testing.T) {
	ctx := context.Background()

	t.Run("Writes the edit behind", func(t *testing.T) {
		backend := newMemoryFont(t, testGlyph("A", 500))
		h := newHandler(t, backend)
		conn := h.Connect(&recordingClient{})

		require.NoError(t, conn.EditFinal(ctx, advanceChange("A", 600), advanceChange("A", 500), "advance", false))

		g, err := h.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 600.0, advanceOf(t, g))

		require.NoError(t, h.FinishWriting(ctx))
		stored, err := backend.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 600.0, advanceOf(t, stored))
	})

	t.Run("Creates and deletes glyphs", func(t *testing.T) {
		backend := newMemoryFont(t)
		h := newHandler(t, backend)
		conn := h.Connect(&recordingClient{})

		create := changes.NewChange(changes.Path{"glyphs"}, "=", "B", testGlyph("B", 300))
		require.NoError(t, conn.EditFinal(ctx, create, changes.NewChange(changes.Path{"glyphs"}, "d", "B"), "new glyph", false))
		require.NoError(t, h.FinishWriting(ctx))

		stored, err := backend.GetGlyph(ctx, "B")
		require.NoError(t, err)
		assert.Equal(t, 300.0, advanceOf(t, stored))
		glyphMap, err := h.GetGlyphMap(ctx)
		require.NoError(t, err)
		assert.Contains(t, glyphMap, "B")

		remove := changes.NewChange(changes.Path{"glyphs"}, "d", "B")
		require.NoError(t, conn.EditFinal(ctx, remove, create, "delete glyph", false))
		require.NoError(t, h.FinishWriting(ctx))

		stored, err = backend.GetGlyph(ctx, "B")
		require.NoError(t, err)
		assert.Nil(t, stored)
		glyphMap, err = h.GetGlyphMap(ctx)
		require.NoError(t, err)
		assert.NotContains(t, glyphMap, "B")
	})

	t.Run("Rejects changes outside the glyph set", func(t *testing.T) {
		h := newHandler(t, newMemoryFont(t))
		conn := h.Connect(&recordingClient{})

		change := changes.NewChange(changes.Path{"axes", 0}, "=", "name", "weight")
		err := conn.EditFinal(ctx, change, change, "axis", false)
		assert.ErrorIs(t, err, ErrUnsupportedChange)
	})

	t.Run("Read-only backends reject edits", func(t *testing.T) {
		h := newHandler(t, struct{ backends.Backend }{newMemoryFont(t, testGlyph("A", 500))})
		assert.True(t, h.ReadOnly())

		conn := h.Connect(&recordingClient{})
		err := conn.EditFinal(ctx, advanceChange("A", 600), advanceChange("A", 500), "advance", true)
		assert.ErrorIs(t, err, ErrReadOnly)
	})

	t.Run("Closed handlers reject edits", func(t *testing.T) {
		h, err := New(newMemoryFont(t, testGlyph("A", 500)), DefaultConfig())
		require.NoError(t, err)
		conn := h.Connect(&recordingClient{})
		require.NoError(t, h.Close(ctx))

		err = conn.EditFinal(ctx, advanceChange("A", 600), advanceChange("A", 500), "advance", true)
		assert.ErrorIs(t, err, ErrHandlerClosed)
	})

	t.Run("Tracks component dependencies", func(t *testing.T) {
		aacute := glyph.New("Aacute", map[string]any{
			"components": []any{
				map[string]any{"name": "A"},
				map[string]any{"name": "acutecomb"},
			},
		})
		h := newHandler(t, newMemoryFont(t, aacute))

		_, err := h.GetGlyph(ctx, "Aacute")
		require.NoError(t, err)
		assert.Equal(t, []string{"Aacute"}, h.Dependencies().UsedBy("A"))
	})
}

// gatedBackend blocks writes until the gate is closed.
type gatedBackend struct {
	*backends.MemoryBackend
	gate    chan struct{}
	started chan string

	mu     sync.Mutex
	writes []string
}

func (b *gatedBackend) PutGlyph(ctx context.Context, name string, g map[string]any, codePoints []int) error {
	b.started <- name
	<-b.gate
	b.mu.Lock()
	b.writes = append(b.writes, name)
	b.mu.Unlock()
	return b.MemoryBackend.PutGlyph(ctx, name, g, codePoints)
}

type failingBackend struct {
	*backends.MemoryBackend
	err error
}

func (b *failingBackend) PutGlyph(context.Context, string, map[string]any, []int) error {
	return b.err
}

func TestWriteBehind(t *testing.T) {
	ctx := context.Background()

	t.Run("Coalesces queued writes per glyph", func(t *testing.T) {
		backend := &gatedBackend{
			MemoryBackend: newMemoryFont(t, testGlyph("A", 500), testGlyph("B", 500)),
			gate:          make(chan struct{}),
			started:       make(chan string, 10),
		}
		h := newHandler(t, backend)
		conn := h.Connect(&recordingClient{})

		require.NoError(t, conn.EditFinal(ctx, advanceChange("A", 600), advanceChange("A", 500), "a1", false))
		assert.Equal(t, "A", <-backend.started)

		require.NoError(t, conn.EditFinal(ctx, advanceChange("B", 700), advanceChange("B", 500), "b1", false))
		require.NoError(t, conn.EditFinal(ctx, advanceChange("A", 610), advanceChange("A", 600), "a2", false))
		require.NoError(t, conn.EditFinal(ctx, advanceChange("A", 620), advanceChange("A", 610), "a3", false))
		close(backend.gate)

		require.NoError(t, h.FinishWriting(ctx))
		assert.Equal(t, []string{"A", "B", "A"}, backend.writes)

		stored, err := backend.MemoryBackend.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 620.0, advanceOf(t, stored))
	})

	t.Run("Failed writes reload the glyph and message the editor", func(t *testing.T) {
		backend := &failingBackend{
			MemoryBackend: newMemoryFont(t, testGlyph("A", 500)),
			err:           errors.New("disk full"),
		}
		h := newHandler(t, backend)
		editor, watcher := &recordingClient{}, &recordingClient{}
		conn := h.Connect(editor)
		require.NoError(t, conn.SubscribeChanges(ctx, glyphSubscription("A"), false))
		require.NoError(t, h.Connect(watcher).SubscribeChanges(ctx, glyphSubscription("A"), true))

		require.NoError(t, conn.EditFinal(ctx, advanceChange("A", 600), advanceChange("A", 500), "advance", true))
		require.NoError(t, h.FinishWriting(ctx))

		assert.Equal(t, [][]string{{"A"}}, editor.reloaded())
		assert.Equal(t, [][]string{{"A"}}, watcher.reloaded())
		assert.Equal(t, []string{"The data could not be saved due to an error."}, editor.titles())
		assert.Empty(t, watcher.titles())

		g, err := h.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 500.0, advanceOf(t, g))
	})
}

func TestHandleBusChange(t *testing.T) {
	ctx := context.Background()

	t.Run("Applies final changes to loaded glyphs without writing", func(t *testing.T) {
		backend := newMemoryFont(t, testGlyph("A", 500), testGlyph("B", 500))
		h := newHandler(t, backend)
		client := &recordingClient{}
		require.NoError(t, h.Connect(client).SubscribeChanges(ctx, glyphSubscription("A"), false))
		_, err := h.GetGlyph(ctx, "A")
		require.NoError(t, err)

		require.NoError(t, h.HandleBusChange(ctx, advanceChange("A", 600), false))
		require.NoError(t, h.HandleBusChange(ctx, advanceChange("B", 700), false))

		g, err := h.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 600.0, advanceOf(t, g))
		assert.Len(t, client.received(), 1)

		require.NoError(t, h.FinishWriting(ctx))
		stored, err := backend.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 500.0, advanceOf(t, stored))
	})

	t.Run("Live changes are only forwarded", func(t *testing.T) {
		h := newHandler(t, newMemoryFont(t, testGlyph("A", 500)))
		client := &recordingClient{}
		require.NoError(t, h.Connect(client).SubscribeChanges(ctx, glyphSubscription("A"), true))

		require.NoError(t, h.HandleBusChange(ctx, advanceChange("A", 550), true))

		assert.Len(t, client.received(), 1)
		g, err := h.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 500.0, advanceOf(t, g))
	})
}

func TestControllers(t *testing.T) {
	ctx := context.Background()

	t.Run("Edits and undo reach the other editor and the backend", func(t *testing.T) {
		backend := newMemoryFont(t, testGlyph("A", 500))
		h := newHandler(t, backend)
		cfg := fontcontroller.Config{ThrottleInterval: 10 * time.Millisecond}
		editor, _, err := h.ConnectController(cfg)
		require.NoError(t, err)
		viewer, _, err := h.ConnectController(cfg)
		require.NoError(t, err)

		_, err = viewer.GetGlyph(ctx, "A")
		require.NoError(t, err)

		err = editor.PerformRecordedEdit(ctx, fontcontroller.EditTarget{GlyphName: "A"}, func(subject map[string]any) (string, error) {
			static, _ := glyph.LayerGlyph(subject, "default")
			static["xAdvance"] = 600.0
			return "set advance", nil
		})
		require.NoError(t, err)

		seen, err := viewer.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 600.0, advanceOf(t, seen))

		require.NoError(t, h.FinishWriting(ctx))
		stored, err := backend.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 600.0, advanceOf(t, stored))

		undone, err := editor.Undo(ctx, "A")
		require.NoError(t, err)
		assert.True(t, undone)

		seen, err = viewer.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 500.0, advanceOf(t, seen))

		require.NoError(t, h.FinishWriting(ctx))
		stored, err = backend.GetGlyph(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 500.0, advanceOf(t, stored))
	})
}
