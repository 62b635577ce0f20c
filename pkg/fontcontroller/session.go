package fontcontroller

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/fontedit/pkg/changes"
	"github.com/developer-mesh/fontedit/pkg/glyph"
	"github.com/developer-mesh/fontedit/pkg/observability"
	"github.com/developer-mesh/fontedit/pkg/undo"
)

// EditSession is one live edit of one glyph. Changes passed to its methods
// are relative to the session's base path.
type EditSession struct {
	id        string
	fc        *FontController
	glyphName string
	basePath  changes.Path
	subject   map[string]any
	throttler *Throttler
	started   time.Time

	cancelRequested atomic.Bool
	closed          atomic.Bool
}

// BeginEdit starts an edit session on target. It fails with
// ErrEditInProgress if the glyph is already being edited.
func (fc *FontController) BeginEdit(ctx context.Context, target EditTarget) (*EditSession, error) {
	g, err := fc.GetGlyph(ctx, target.GlyphName)
	if err != nil {
		return nil, err
	}
	fc.docMu.Lock()
	subject, basePath, err := fc.resolveSubject(target, g)
	fc.docMu.Unlock()
	if err != nil {
		return nil, err
	}

	fc.mu.Lock()
	if _, busy := fc.sessions[target.GlyphName]; busy {
		fc.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrEditInProgress, target.GlyphName)
	}
	s := &EditSession{
		id:        uuid.New().String(),
		fc:        fc,
		glyphName: target.GlyphName,
		basePath:  basePath,
		subject:   subject,
		throttler: NewThrottler(fc.config.ThrottleInterval),
		started:   time.Now(),
	}
	fc.sessions[target.GlyphName] = s
	fc.mu.Unlock()

	fc.logger.Debug("Edit session started", map[string]interface{}{
		"glyph":   s.glyphName,
		"session": s.id,
	})
	fc.emit(Event{Kind: EventEditBegin, GlyphNames: []string{s.glyphName}, SessionID: s.id})
	return s, nil
}

func (fc *FontController) resolveSubject(target EditTarget, g map[string]any) (map[string]any, changes.Path, error) {
	if !target.isInstance() {
		return g, changes.Path{"glyphs", target.GlyphName}, nil
	}
	layerName := target.LayerName
	if layerName == "" {
		inst, err := fc.instancer.Instance(target.GlyphName, g, target.Location)
		if err != nil {
			return nil, nil, err
		}
		layerName = inst.LayerName
	}
	static, ok := glyph.LayerGlyph(g, layerName)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s has no layer %q", glyph.ErrNoSource, target.GlyphName, layerName)
	}
	return static, changes.Path{"glyphs", target.GlyphName, "layers", layerName, "glyph"}, nil
}

// ID returns the session id.
func (s *EditSession) ID() string { return s.id }

// GlyphName returns the glyph being edited.
func (s *EditSession) GlyphName() string { return s.glyphName }

// BasePath returns the absolute path of the edit subject.
func (s *EditSession) BasePath() changes.Path { return s.basePath.Clone() }

// Subject returns the document being edited. Callers mutate it in place.
func (s *EditSession) Subject() map[string]any { return s.subject }

// RequestCancel flags the session for cancellation. The flag is checked
// after the edit function returns.
func (s *EditSession) RequestCancel() {
	s.cancelRequested.Store(true)
}

// CancelRequested reports whether RequestCancel was called.
func (s *EditSession) CancelRequested() bool {
	return s.cancelRequested.Load()
}

// Incremental broadcasts an intermediate state of the edit. With mayDrop
// the send goes through the throttle and may be superseded by a later one;
// otherwise any pending throttled send is dropped and the change is sent
// now.
func (s *EditSession) Incremental(ctx context.Context, change changes.Change, mayDrop bool) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	absolute := changes.Consolidate([]changes.Change{change}, s.basePath...)
	if absolute.IsEmpty() {
		return nil
	}
	s.fc.emit(Event{Kind: EventEditIncremental, GlyphNames: []string{s.glyphName}, SessionID: s.id, Change: absolute})

	sendCtx := context.WithoutCancel(ctx)
	if mayDrop {
		s.throttler.Schedule(func() {
			_ = s.send(sendCtx, absolute)
		})
		return nil
	}
	s.throttler.Cancel()
	return s.send(sendCtx, absolute)
}

func (s *EditSession) send(ctx context.Context, change changes.Change) error {
	start := time.Now()
	err := s.fc.remote.EditIncremental(ctx, change)
	s.fc.metrics.RecordEditOperation("incremental", err == nil, time.Since(start))
	if err != nil {
		s.fc.logger.Warn("Incremental edit not delivered", map[string]interface{}{
			"glyph":   s.glyphName,
			"session": s.id,
			"error":   err.Error(),
		})
	}
	return err
}

// Final commits the edit and pushes an undo record. On error the session
// stays open so the caller can roll back and Cancel.
func (s *EditSession) Final(ctx context.Context, change, rollback changes.Change, info undo.Info, broadcast bool) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.throttler.Cancel()

	ctx, span := observability.TraceEdit(ctx, "final", s.glyphName)
	defer span.End()
	start := time.Now()

	forward := changes.Consolidate([]changes.Change{change}, s.basePath...)
	inverse := changes.Consolidate([]changes.Change{rollback}, s.basePath...)
	if err := s.fc.remote.EditFinal(ctx, forward, inverse, info.Label, broadcast); err != nil {
		span.RecordError(err)
		s.fc.metrics.RecordEditOperation("final", false, time.Since(start))
		s.fc.logger.Error("Edit commit failed", map[string]interface{}{
			"glyph":   s.glyphName,
			"session": s.id,
			"error":   err.Error(),
		})
		return fmt.Errorf("%w: %w", sessionError(ctx, ErrCommitFailed, "Final", s.glyphName), err)
	}
	s.fc.metrics.RecordEditOperation("final", true, time.Since(start))

	s.fc.undoStack(s.glyphName).Push(undo.Record{Change: forward, RollbackChange: inverse, Info: info})
	s.close()
	s.fc.docMu.Lock()
	s.fc.glyphChanged(s.glyphName)
	s.fc.docMu.Unlock()
	s.fc.emit(Event{Kind: EventEditFinal, GlyphNames: []string{s.glyphName}, SessionID: s.id, Change: forward})
	return nil
}

// Cancel ends the session without committing. The caller has already
// reverted any local mutation.
func (s *EditSession) Cancel() {
	if !s.close() {
		return
	}
	s.fc.emit(Event{Kind: EventEditCancel, GlyphNames: []string{s.glyphName}, SessionID: s.id})
}

func (s *EditSession) close() bool {
	if !s.closed.CompareAndSwap(false, true) {
		return false
	}
	s.throttler.Cancel()
	s.fc.endSession(s)
	s.fc.logger.Debug("Edit session ended", map[string]interface{}{
		"glyph":    s.glyphName,
		"session":  s.id,
		"duration": time.Since(s.started).String(),
	})
	return true
}
