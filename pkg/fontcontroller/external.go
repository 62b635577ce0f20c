package fontcontroller

import (
	"context"

	"github.com/developer-mesh/fontedit/pkg/changes"
)

// ApplyExternalChange applies a change pushed by the remote. Only the parts
// addressing cached glyphs are applied. When isExternal is set the change
// came from another client: undo stacks of the touched glyphs are dropped
// and their in-flight edit sessions are asked to cancel before the change
// waits for the document lock.
func (fc *FontController) ApplyExternalChange(ctx context.Context, change changes.Change, isExternal bool) error {
	filtered, ok := changes.FilterChangePattern(change, glyphsPattern(fc.cache.GlyphNames()), false)
	if !ok {
		return nil
	}

	if isExternal {
		for _, name := range glyphNamesOf(filtered) {
			fc.clearUndo(name)
			if s := fc.activeSession(name); s != nil {
				s.RequestCancel()
			}
		}
	}

	fc.docMu.Lock()
	names, err := fc.applyLocal(filtered)
	fc.docMu.Unlock()
	if err != nil {
		fc.logger.Error("Failed to apply external change", map[string]interface{}{
			"glyphs": names,
			"error":  err.Error(),
		})
		return err
	}
	fc.emit(Event{Kind: EventExternalChange, GlyphNames: names, Change: filtered})
	return nil
}

// ReloadGlyphs drops the named glyphs from the cache so the next access
// loads them from the remote. Undo stacks are dropped and in-flight edit
// sessions are asked to cancel.
func (fc *FontController) ReloadGlyphs(ctx context.Context, names []string) {
	var reloaded []string
	for _, name := range names {
		fc.clearUndo(name)
		if s := fc.activeSession(name); s != nil {
			s.RequestCancel()
		}
		if fc.cache.RemoveGlyph(name) {
			reloaded = append(reloaded, name)
		}
	}
	fc.logger.Info("Glyphs reloaded", map[string]interface{}{"glyphs": reloaded})
	fc.emit(Event{Kind: EventGlyphsReloaded, GlyphNames: reloaded})
}

// MessageFromServer shows a message sent by the remote.
func (fc *FontController) MessageFromServer(title, message string) {
	fc.notifier.Notify(title, message)
}
