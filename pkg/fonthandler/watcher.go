package fonthandler

import (
	"context"
	"fmt"

	"github.com/developer-mesh/fontedit/pkg/backends"
	"github.com/developer-mesh/fontedit/pkg/changes"
)

func (h *FontHandler) startWatching(backend backends.WatchableBackend) error {
	ctx, cancel := context.WithCancel(context.Background())
	events, err := backend.WatchExternalChanges(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to watch for external changes: %w", err)
	}
	h.stopWatching = cancel
	h.watchDone = make(chan struct{})

	go func() {
		defer close(h.watchDone)
		for ext := range events {
			h.processExternalChange(ctx, ext)
		}
	}()
	return nil
}

func (h *FontHandler) stopWatchingExternalChanges() {
	if h.stopWatching == nil {
		return
	}
	h.stopWatching()
	<-h.watchDone
}

// processExternalChange brings the handler up to date with edits made to
// the backend by another program and tells connections about them.
func (h *FontHandler) processExternalChange(ctx context.Context, ext backends.ExternalChange) {
	if ext.Change != nil {
		removed := removedGlyphNames(*ext.Change)
		h.localMu.Lock()
		// Reloaded from the backend on next use.
		h.glyphMap = nil
		for _, name := range removed {
			h.local.Remove(name)
			h.deps.Forget(name)
		}
		h.localMu.Unlock()

		_ = h.broadcastChange(ctx, *ext.Change, nil, false)
	}
	if len(ext.Reload) > 0 {
		if err := h.ReloadGlyphs(ctx, ext.Reload); err != nil {
			h.logger.Warn("Failed to reload externally changed glyphs", map[string]interface{}{
				"glyphs": ext.Reload,
				"error":  err.Error(),
			})
		}
	}
}

// removedGlyphNames returns the glyphs deleted by a glyph map change.
func removedGlyphNames(change changes.Change) []string {
	var names []string
	var walk func(c changes.Change, path changes.Path)
	walk = func(c changes.Change, path changes.Path) {
		path = path.Concat(c.Path)
		if c.Func == "d" && len(c.Args) > 0 && path.Equal(changes.Path{"glyphMap"}) {
			if name, ok := c.Args[0].(string); ok {
				names = append(names, name)
			}
		}
		for _, child := range c.Children {
			walk(child, path)
		}
	}
	walk(change, nil)
	return names
}
