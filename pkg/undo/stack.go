// Package undo implements the per-glyph linear undo stack. Records are
// change/rollback pairs; popping moves a record onto the opposite stack so
// undo and redo can ping-pong without losing data.
package undo

import (
	"sync"

	"github.com/developer-mesh/fontedit/pkg/changes"
)

// Info describes an undo record. UndoSelection is the selection before the
// edit and RedoSelection the selection after it.
type Info struct {
	Label         string         `json:"label"`
	UndoSelection []string       `json:"undoSelection,omitempty"`
	RedoSelection []string       `json:"redoSelection,omitempty"`
	Location      map[string]any `json:"location,omitempty"`
}

// Record is one undoable edit.
type Record struct {
	Change         changes.Change `json:"change"`
	RollbackChange changes.Change `json:"rollbackChange"`
	Info           Info           `json:"info"`
}

// Reversed swaps the roles of change and rollback, and of the before and
// after selections. Redo applies the reversed record of an undone edit.
func (r Record) Reversed() Record {
	return Record{
		Change:         r.RollbackChange,
		RollbackChange: r.Change,
		Info: Info{
			Label:         r.Info.Label,
			UndoSelection: r.Info.RedoSelection,
			RedoSelection: r.Info.UndoSelection,
			Location:      r.Info.Location,
		},
	}
}

// Stack holds undo and redo records. It is safe for concurrent use.
type Stack struct {
	mu   sync.Mutex
	undo []Record
	redo []Record
}

// NewStack returns an empty stack.
func NewStack() *Stack {
	return &Stack{}
}

// Push adds a record to the undo stack and invalidates redo.
func (s *Stack) Push(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.undo = append(s.undo, r)
	s.redo = nil
}

// Pop removes the top record of the undo stack (or the redo stack when
// isRedo is set) and pushes it onto the other stack.
func (s *Stack) Pop(isRedo bool) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, to := &s.undo, &s.redo
	if isRedo {
		from, to = &s.redo, &s.undo
	}
	n := len(*from)
	if n == 0 {
		return Record{}, false
	}
	r := (*from)[n-1]
	*from = (*from)[:n-1]
	*to = append(*to, r)
	return r, true
}

// Peek returns the top record without removing it.
func (s *Stack) Peek(isRedo bool) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.undo
	if isRedo {
		list = s.redo
	}
	if len(list) == 0 {
		return Record{}, false
	}
	return list[len(list)-1], true
}

// Restore undoes a Pop: the top record of the opposite stack moves back.
// Used when applying a popped record failed.
func (s *Stack) Restore(isRedo bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, to := &s.redo, &s.undo
	if isRedo {
		from, to = &s.undo, &s.redo
	}
	n := len(*from)
	if n == 0 {
		return
	}
	*to = append(*to, (*from)[n-1])
	*from = (*from)[:n-1]
}

func (s *Stack) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undo) > 0
}

func (s *Stack) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redo) > 0
}

// Clear drops all records.
func (s *Stack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.undo = nil
	s.redo = nil
}

// Len returns the number of undo and redo records.
func (s *Stack) Len() (undo, redo int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undo), len(s.redo)
}
