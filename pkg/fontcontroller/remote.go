package fontcontroller

import (
	"context"
	"sync"

	"github.com/developer-mesh/fontedit/pkg/changes"
	pkgerrors "github.com/developer-mesh/fontedit/pkg/errors"
)

var (
	// ErrEditInProgress is returned when an edit starts on a glyph that
	// already has an active edit session.
	ErrEditInProgress = pkgerrors.New("EDIT_IN_PROGRESS", "glyph already has an active edit session", pkgerrors.ClassUsage)
	// ErrMismatchedUndoRecord is returned when an undo record's change and
	// rollback do not both address the glyph being undone.
	ErrMismatchedUndoRecord = pkgerrors.New("MISMATCHED_UNDO_RECORD", "undo record does not match glyph", pkgerrors.ClassUsage)
	// ErrSessionClosed is returned when a finished session is used.
	ErrSessionClosed = pkgerrors.New("SESSION_CLOSED", "edit session already ended", pkgerrors.ClassUsage)
	// ErrCommitFailed wraps a failed final edit.
	ErrCommitFailed = pkgerrors.New("COMMIT_FAILED", "remote rejected the edit", pkgerrors.ClassCommitFailed)
	// ErrGlyphNotFound is returned when the remote has no such glyph.
	ErrGlyphNotFound = pkgerrors.New("GLYPH_NOT_FOUND", "glyph not found", pkgerrors.ClassNotFound)
	// ErrEditInvalidated is returned when an external change to the glyph
	// arrived while the edit function ran. The edit was rolled back.
	ErrEditInvalidated = pkgerrors.New("EDIT_INVALIDATED", "glyph was changed elsewhere during the edit", pkgerrors.ClassInvalidated)
)

// sessionError returns a copy of sentinel tagged with the operation, the
// glyph and the correlation id carried by ctx.
func sessionError(ctx context.Context, sentinel *pkgerrors.ClassifiedError, operation, glyphName string) *pkgerrors.ClassifiedError {
	return pkgerrors.New(sentinel.Code, sentinel.Message, sentinel.Class).
		WithContext(ctx, "fontcontroller", operation).
		WithMetadata("glyph", glyphName)
}

// Remote is the collaborator that stores the font and fans out changes.
type Remote interface {
	// GetGlyph returns the glyph document, or nil if it does not exist.
	GetGlyph(ctx context.Context, name string) (map[string]any, error)
	SubscribeChanges(ctx context.Context, pattern changes.Pattern, wantLiveChanges bool) error
	UnsubscribeChanges(ctx context.Context, pattern changes.Pattern, wantLiveChanges bool) error
	// EditIncremental is best effort.
	EditIncremental(ctx context.Context, change changes.Change) error
	// EditFinal commits an edit. A returned error means the edit was not
	// stored and the caller owns rolling it back.
	EditFinal(ctx context.Context, change, rollback changes.Change, label string, broadcast bool) error
}

// SelectionModel exposes the editor selection so edits can restore it.
type SelectionModel interface {
	Selection() []string
	SetSelection(selection []string)
}

// Notifier shows blocking messages to the user.
type Notifier interface {
	Notify(title, message string)
}

// EventKind identifies an edit event.
type EventKind int

const (
	EventEditBegin EventKind = iota
	EventEditIncremental
	EventEditFinal
	EventEditCancel
	EventUndo
	EventRedo
	EventExternalChange
	EventGlyphsReloaded
)

func (k EventKind) String() string {
	switch k {
	case EventEditBegin:
		return "editBegin"
	case EventEditIncremental:
		return "editIncremental"
	case EventEditFinal:
		return "editFinal"
	case EventEditCancel:
		return "editCancel"
	case EventUndo:
		return "undo"
	case EventRedo:
		return "redo"
	case EventExternalChange:
		return "externalChange"
	case EventGlyphsReloaded:
		return "glyphsReloaded"
	default:
		return "unknown"
	}
}

// Event is delivered to edit listeners. Change is absolute (rooted at the
// font) when present.
type Event struct {
	Kind       EventKind
	GlyphNames []string
	SessionID  string
	Change     changes.Change
}

// EditListener receives edit events synchronously.
type EditListener func(Event)

// memorySelection is the default selection model.
type memorySelection struct {
	mu        sync.Mutex
	selection []string
}

func (s *memorySelection) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.selection...)
}

func (s *memorySelection) SetSelection(selection []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = append([]string(nil), selection...)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string) {}
