package fonthandler

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/developer-mesh/fontedit/pkg/changes"
	"github.com/developer-mesh/fontedit/pkg/fontcontroller"
)

// Client receives what the handler pushes to a connected editor.
type Client interface {
	ExternalChange(ctx context.Context, change changes.Change) error
	ReloadGlyphs(ctx context.Context, glyphNames []string) error
	MessageFromServer(ctx context.Context, title, message string) error
}

var _ fontcontroller.Remote = (*Connection)(nil)

// Connection is one editor attached to a FontHandler. It keeps two
// subscription patterns: one for live changes and one for final changes
// only.
type Connection struct {
	id      string
	handler *FontHandler
	client  Client

	mu           sync.Mutex
	livePattern  changes.Pattern
	finalPattern changes.Pattern
}

// Connect attaches client to the handler.
func (h *FontHandler) Connect(client Client) *Connection {
	conn := &Connection{
		id:           uuid.New().String(),
		handler:      h,
		client:       client,
		livePattern:  changes.Pattern{},
		finalPattern: changes.Pattern{},
	}
	h.connMu.Lock()
	h.connections[conn.id] = conn
	n := len(h.connections)
	h.connMu.Unlock()

	h.metrics.RecordGauge("connections", float64(n), nil)
	h.logger.Info("Client connected", map[string]interface{}{"connection": conn.id})
	return conn
}

// ID returns the connection id.
func (c *Connection) ID() string {
	return c.id
}

// Close detaches the connection. Queued writes from it still happen.
func (c *Connection) Close() {
	h := c.handler
	h.connMu.Lock()
	delete(h.connections, c.id)
	n := len(h.connections)
	h.connMu.Unlock()

	h.metrics.RecordGauge("connections", float64(n), nil)
	h.logger.Info("Client disconnected", map[string]interface{}{"connection": c.id})
}

func (c *Connection) pattern(live bool) changes.Pattern {
	if live {
		return c.livePattern
	}
	return c.finalPattern
}

// matches reports whether change should be sent. Final changes go to
// both kinds of subscribers.
func (c *Connection) matches(change changes.Change, live bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if changes.MatchChangePattern(change, c.livePattern) {
		return true
	}
	return !live && changes.MatchChangePattern(change, c.finalPattern)
}

// subscribedGlyphNames returns the sorted subset of names this connection
// subscribed to.
func (c *Connection) subscribedGlyphNames(names []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []string
	for _, name := range names {
		for _, p := range []changes.Pattern{c.livePattern, c.finalPattern} {
			glyphs, ok := p["glyphs"]
			if !ok {
				continue
			}
			if _, ok := glyphs[name]; ok || glyphs == nil {
				result = append(result, name)
				break
			}
		}
	}
	sort.Strings(result)
	return result
}

func (c *Connection) GetGlyph(ctx context.Context, name string) (map[string]any, error) {
	return c.handler.GetGlyph(ctx, name)
}

func (c *Connection) GetGlyphMap(ctx context.Context) (map[string][]int, error) {
	return c.handler.GetGlyphMap(ctx)
}

func (c *Connection) SubscribeChanges(_ context.Context, pattern changes.Pattern, wantLiveChanges bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	changes.AddPatternToPattern(c.pattern(wantLiveChanges), pattern)
	return nil
}

func (c *Connection) UnsubscribeChanges(_ context.Context, pattern changes.Pattern, wantLiveChanges bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	changes.RemovePatternFromPattern(c.pattern(wantLiveChanges), pattern)
	return nil
}

// EditIncremental forwards a live change to live subscribers.
func (c *Connection) EditIncremental(ctx context.Context, change changes.Change) error {
	h := c.handler
	err := h.broadcastChange(ctx, change, c, true)
	h.publish(ctx, change, true)
	return err
}

// EditFinal applies the change to the font and queues it for writing.
// Broadcast failures are logged, not returned: the edit is stored.
func (c *Connection) EditFinal(ctx context.Context, change, rollback changes.Change, label string, broadcast bool) error {
	h := c.handler
	if err := h.updateLocalData(ctx, change, c); err != nil {
		h.logger.Warn("Edit rejected", map[string]interface{}{
			"connection": c.id,
			"label":      label,
			"error":      err.Error(),
		})
		return err
	}
	h.logger.Debug("Edit stored", map[string]interface{}{
		"connection": c.id,
		"label":      label,
	})
	if broadcast {
		_ = h.broadcastChange(ctx, change, c, false)
		h.publish(ctx, change, false)
	}
	return nil
}
