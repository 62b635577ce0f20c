package changes

// Collector accumulates forward and rollback changes while an edit runs.
// Sub-collectors address a sub-path of their parent and share storage with
// it, so nested edits produce one tree without knowing absolute paths.
//
// Forward changes keep the order they were added in; rollback changes are
// kept in reverse, so the last rollback added is applied first.
//
// A Collector is not safe for concurrent use.
type Collector struct {
	parent *Collector
	path   Path

	forward  *changeList
	rollback *changeList
}

type changeList struct {
	entries []*entry
}

// entry is either a change (an operation or a prebuilt tree) or the storage
// of a sub-collector located at change.Path.
type entry struct {
	change Change
	group  *changeList
}

// NewCollector returns an empty root collector.
func NewCollector() *Collector {
	return &Collector{}
}

// CollectorFromChanges returns a root collector holding the given forward
// and rollback changes, in application order.
func CollectorFromChanges(forward, rollback []Change) *Collector {
	c := NewCollector()
	c.forward = &changeList{}
	c.rollback = &changeList{}
	for _, ch := range forward {
		if ch.HasChange() {
			c.forward.entries = append(c.forward.entries, &entry{change: ch.Clone()})
		}
	}
	for _, ch := range rollback {
		if ch.HasChange() {
			c.rollback.entries = append(c.rollback.entries, &entry{change: ch.Clone()})
		}
	}
	return c
}

// Sub returns a collector scoped to path below c.
func (c *Collector) Sub(path ...any) *Collector {
	return &Collector{parent: c, path: Path(path).Clone()}
}

// AddChange records a forward operation.
func (c *Collector) AddChange(fn string, args ...any) {
	list := c.forwardList()
	list.entries = append(list.entries, &entry{change: Change{Func: fn, Args: args}})
}

// AddRollbackChange records a rollback operation ahead of earlier ones.
func (c *Collector) AddRollbackChange(fn string, args ...any) {
	list := c.rollbackList()
	list.entries = append([]*entry{{change: Change{Func: fn, Args: args}}}, list.entries...)
}

// HasChange reports whether any forward operation was recorded.
func (c *Collector) HasChange() bool {
	return c.forward != nil && c.forward.hasChange()
}

// HasRollbackChange reports whether any rollback operation was recorded.
func (c *Collector) HasRollbackChange() bool {
	return c.rollback != nil && c.rollback.hasChange()
}

// Change returns the consolidated forward change, relative to c.
func (c *Collector) Change() Change {
	if c.forward == nil {
		return Change{}
	}
	return Consolidate(c.forward.changes())
}

// RollbackChange returns the consolidated rollback change, relative to c.
func (c *Collector) RollbackChange() Change {
	if c.rollback == nil {
		return Change{}
	}
	return Consolidate(c.rollback.changes())
}

// Concat returns a new collector combining c with others. Forward changes
// run c first, then others in order; rollback changes undo the last
// collector first, ending with c.
func (c *Collector) Concat(others ...*Collector) *Collector {
	forward := make([]Change, 0, len(others)+1)
	rollback := make([]Change, 0, len(others)+1)

	forward = append(forward, c.Change())
	for _, o := range others {
		forward = append(forward, o.Change())
	}
	for i := len(others) - 1; i >= 0; i-- {
		rollback = append(rollback, others[i].RollbackChange())
	}
	rollback = append(rollback, c.RollbackChange())

	return CollectorFromChanges(forward, rollback)
}

func (c *Collector) forwardList() *changeList {
	if c.forward != nil {
		return c.forward
	}
	if c.parent == nil {
		c.forward = &changeList{}
		return c.forward
	}
	parent := c.parent.forwardList()
	if n := len(parent.entries); n > 0 {
		if last := parent.entries[n-1]; last.group != nil && last.change.Path.Equal(c.path) {
			c.forward = last.group
			return c.forward
		}
	}
	c.forward = &changeList{}
	parent.entries = append(parent.entries, &entry{change: Change{Path: c.path}, group: c.forward})
	return c.forward
}

func (c *Collector) rollbackList() *changeList {
	if c.rollback != nil {
		return c.rollback
	}
	if c.parent == nil {
		c.rollback = &changeList{}
		return c.rollback
	}
	parent := c.parent.rollbackList()
	if len(parent.entries) > 0 {
		if first := parent.entries[0]; first.group != nil && first.change.Path.Equal(c.path) {
			c.rollback = first.group
			return c.rollback
		}
	}
	c.rollback = &changeList{}
	parent.entries = append([]*entry{{change: Change{Path: c.path}, group: c.rollback}}, parent.entries...)
	return c.rollback
}

func (l *changeList) changes() []Change {
	result := make([]Change, 0, len(l.entries))
	for _, e := range l.entries {
		if e.group == nil {
			result = append(result, e.change)
			continue
		}
		sub := e.group.changes()
		if len(sub) == 0 {
			continue
		}
		result = append(result, Consolidate(sub, e.change.Path...))
	}
	return result
}

func (l *changeList) hasChange() bool {
	for _, e := range l.entries {
		if e.group == nil {
			if e.change.HasChange() {
				return true
			}
		} else if e.group.hasChange() {
			return true
		}
	}
	return false
}
