package fontcontroller

import (
	"context"
	"fmt"

	"github.com/developer-mesh/fontedit/pkg/changes"
	pkgerrors "github.com/developer-mesh/fontedit/pkg/errors"
	"github.com/developer-mesh/fontedit/pkg/glyph"
	"github.com/developer-mesh/fontedit/pkg/observability"
	"github.com/developer-mesh/fontedit/pkg/undo"
)

// EditResult is what an edit function reports back. Changes are relative to
// the subject.
type EditResult struct {
	Changes   *changes.Collector
	Label     string
	Broadcast bool
}

// EditFunc mutates subject in place and describes what it did.
type EditFunc func(subject map[string]any) (EditResult, error)

// RecordedEditFunc mutates subject in place and returns the undo label.
// The changes are computed by diffing the subject.
type RecordedEditFunc func(subject map[string]any) (string, error)

// PerformEdit runs editFn in an edit session on target and commits the
// result. editFn runs with the document lock held.
//
// If editFn fails, the subject and the selection are restored and the
// error is returned. An edit without changes is cancelled silently. If the
// session was asked to cancel while editFn ran, or the commit fails, the
// rollback is applied locally and broadcast, the user is notified, no undo
// record is kept, and ErrEditInvalidated or ErrCommitFailed is returned.
// Errors carry the session id as correlation id.
func (fc *FontController) PerformEdit(ctx context.Context, target EditTarget, editFn EditFunc) error {
	session, err := fc.BeginEdit(ctx, target)
	if err != nil {
		return err
	}
	ctx = pkgerrors.ContextWithCorrelationID(ctx, session.id)
	subject := session.subject
	selectionBefore := fc.selection.Selection()

	fc.docMu.Lock()
	snapshot, _ := changes.DeepCopy(subject).(map[string]any)
	result, err := editFn(subject)
	if err != nil {
		restoreMap(subject, snapshot)
		fc.docMu.Unlock()
		fc.selection.SetSelection(selectionBefore)
		session.Cancel()
		return err
	}
	if result.Changes == nil || !result.Changes.HasChange() {
		fc.docMu.Unlock()
		session.Cancel()
		return nil
	}

	change := result.Changes.Change()
	rollback := result.Changes.RollbackChange()

	if session.CancelRequested() {
		fc.rollbackLocal(session, rollback)
		fc.docMu.Unlock()
		fc.revert(ctx, session, rollback)
		fc.selection.SetSelection(selectionBefore)
		fc.notifier.Notify(
			"The edit has been cancelled.",
			fmt.Sprintf("The glyph %q was changed elsewhere while it was being edited.", target.GlyphName),
		)
		return sessionError(ctx, ErrEditInvalidated, "PerformEdit", target.GlyphName)
	}
	fc.docMu.Unlock()

	info := undo.Info{
		Label:         result.Label,
		UndoSelection: selectionBefore,
		RedoSelection: fc.selection.Selection(),
		Location:      locationInfo(target.Location),
	}
	if err := session.Final(ctx, change, rollback, info, result.Broadcast); err != nil {
		fc.docMu.Lock()
		fc.rollbackLocal(session, rollback)
		fc.docMu.Unlock()
		fc.revert(ctx, session, rollback)
		fc.selection.SetSelection(selectionBefore)
		fc.notifier.Notify("The edit could not be saved.", "The edit has been reverted.\n\n"+err.Error())
		return err
	}
	return nil
}

// PerformRecordedEdit is PerformEdit with changes captured by diffing the
// subject before and after fn. The edit is always broadcast.
func (fc *FontController) PerformRecordedEdit(ctx context.Context, target EditTarget, fn RecordedEditFunc) error {
	return fc.PerformEdit(ctx, target, func(subject map[string]any) (EditResult, error) {
		var label string
		collector, err := changes.Record(subject, func(s any) error {
			var err error
			label, err = fn(s.(map[string]any))
			return err
		})
		if err != nil {
			return EditResult{}, err
		}
		return EditResult{Changes: collector, Label: label, Broadcast: true}, nil
	})
}

// rollbackLocal applies rollback to the session subject. The caller holds
// docMu.
func (fc *FontController) rollbackLocal(s *EditSession, rollback changes.Change) {
	if _, err := fc.registry.Apply(s.subject, rollback); err != nil {
		fc.logger.Error("Failed to roll back edit", map[string]interface{}{
			"glyph":   s.glyphName,
			"session": s.id,
			"error":   err.Error(),
		})
	}
	fc.glyphChanged(s.glyphName)
}

// revert broadcasts a rollback already applied locally and ends the
// session.
func (fc *FontController) revert(ctx context.Context, s *EditSession, rollback changes.Change) {
	if err := s.Incremental(ctx, rollback, false); err != nil {
		fc.logger.Warn("Failed to broadcast rollback", map[string]interface{}{
			"glyph":   s.glyphName,
			"session": s.id,
			"error":   err.Error(),
		})
	}
	s.Cancel()
}

// Undo reverts the most recent edit of a glyph. It reports false when there
// was nothing to undo.
func (fc *FontController) Undo(ctx context.Context, name string) (bool, error) {
	return fc.undoRedo(ctx, name, false)
}

// Redo re-applies the most recently undone edit of a glyph.
func (fc *FontController) Redo(ctx context.Context, name string) (bool, error) {
	return fc.undoRedo(ctx, name, true)
}

func (fc *FontController) undoRedo(ctx context.Context, name string, isRedo bool) (bool, error) {
	if fc.activeSession(name) != nil {
		return false, fmt.Errorf("%w: %s", ErrEditInProgress, name)
	}
	if _, err := fc.GetGlyph(ctx, name); err != nil {
		return false, err
	}

	stack := fc.undoStack(name)
	rec, ok := stack.Peek(isRedo)
	if !ok {
		return false, nil
	}
	if isRedo {
		rec = rec.Reversed()
	}
	if err := checkUndoRecord(rec, name); err != nil {
		return false, err
	}
	_, _ = stack.Pop(isRedo)

	operation, kind := "undo", EventUndo
	if isRedo {
		operation, kind = "redo", EventRedo
	}
	ctx, span := observability.TraceEdit(ctx, operation, name)
	defer span.End()

	fc.docMu.Lock()
	_, err := fc.applyLocal(rec.RollbackChange)
	fc.docMu.Unlock()
	if err != nil {
		stack.Restore(isRedo)
		return false, err
	}
	if err := fc.remote.EditFinal(ctx, rec.RollbackChange, rec.Change, rec.Info.Label, true); err != nil {
		span.RecordError(err)
		fc.docMu.Lock()
		_, revertErr := fc.applyLocal(rec.Change)
		fc.docMu.Unlock()
		if revertErr != nil {
			fc.logger.Error("Failed to revert local "+operation, map[string]interface{}{
				"glyph": name,
				"error": revertErr.Error(),
			})
		}
		stack.Restore(isRedo)
		fc.notifier.Notify("The "+operation+" could not be saved.", "The change has been reverted.\n\n"+err.Error())
		return false, fmt.Errorf("%w: %w", sessionError(ctx, ErrCommitFailed, operation, name), err)
	}

	fc.selection.SetSelection(rec.Info.UndoSelection)
	fc.emit(Event{Kind: kind, GlyphNames: []string{name}, Change: rec.RollbackChange})
	return true, nil
}

// checkUndoRecord makes sure both halves of a record address exactly the
// glyph being undone.
func checkUndoRecord(rec undo.Record, name string) error {
	for _, c := range []changes.Change{rec.Change, rec.RollbackChange} {
		names := glyphNamesOf(c)
		if len(names) != 1 || names[0] != name {
			return fmt.Errorf("%w: %s", ErrMismatchedUndoRecord, name)
		}
	}
	return nil
}

func restoreMap(dst, snapshot map[string]any) {
	for k := range dst {
		delete(dst, k)
	}
	for k, v := range snapshot {
		dst[k] = v
	}
}

func locationInfo(location glyph.Location) map[string]any {
	if location == nil {
		return nil
	}
	info := make(map[string]any, len(location))
	for axis, v := range location {
		info[axis] = v
	}
	return info
}
