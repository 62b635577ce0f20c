// Package changes implements the structural change representation used by
// the editor: change trees, their consolidation, application to JSON-shaped
// documents, subscription patterns, and the collector that accumulates
// forward and rollback changes while an edit runs.
package changes

// Change is a node of a change tree. A node may carry a path relative to
// its parent, an operation (Func with Args) applied at the end of that path,
// and child nodes applied to the same resolved subject.
//
// Absent fields are omitted on the wire, never encoded as null.
type Change struct {
	Path     Path     `json:"p,omitempty"`
	Func     string   `json:"f,omitempty"`
	Args     []any    `json:"a,omitempty"`
	Children []Change `json:"c,omitempty"`
}

// NewChange returns a leaf change applying fn with args at path.
func NewChange(path Path, fn string, args ...any) Change {
	return Change{Path: path.Clone(), Func: fn, Args: args}
}

// HasChange reports whether the node carries an operation or children.
func (c Change) HasChange() bool {
	return c.Func != "" || len(c.Children) > 0
}

// IsEmpty reports whether applying the node would be a no-op.
func (c Change) IsEmpty() bool {
	return !c.HasChange()
}

// Clone returns a deep copy of the tree structure. Argument values are
// copied with DeepCopy.
func (c Change) Clone() Change {
	clone := Change{
		Path: c.Path.Clone(),
		Func: c.Func,
	}
	if c.Args != nil {
		clone.Args = make([]any, len(c.Args))
		for i, a := range c.Args {
			clone.Args[i] = DeepCopy(a)
		}
	}
	if c.Children != nil {
		clone.Children = make([]Change, len(c.Children))
		for i, child := range c.Children {
			clone.Children[i] = child.Clone()
		}
	}
	return clone
}

// Consolidate merges raw changes into a single minimal change tree: the
// longest common path prefix is hoisted, empty nodes are pruned and chains
// of single-child wrappers collapse into one node. When prefix is given it
// is prepended to the result's path.
//
// Callers must pass at least one change. An empty result is always the
// zero Change, without a path.
func Consolidate(changes []Change, prefix ...any) Change {
	var change Change
	switch len(changes) {
	case 0:
		return Change{}
	case 1:
		change = changes[0].Clone()
	default:
		common := commonPrefix(changes)
		children := make([]Change, len(changes))
		for i, c := range changes {
			child := c.Clone()
			child.Path = trimPath(child.Path[len(common):])
			children[i] = child
		}
		change = Change{Path: common, Children: children}
	}
	change.Path = trimPath(change.Path)

	change = unnestSingleChildren(change)
	if change.IsEmpty() {
		return Change{}
	}
	if len(prefix) > 0 {
		change = AddPathPrefix(change, Path(prefix))
	}
	return change
}

// AddPathPrefix returns a copy of change with prefix prepended to its path.
func AddPathPrefix(change Change, prefix Path) Change {
	result := change
	result.Path = trimPath(prefix.Concat(change.Path))
	return result
}

func commonPrefix(changes []Change) Path {
	for _, c := range changes {
		if len(c.Path) == 0 {
			return nil
		}
	}
	var common Path
	for i := 0; ; i++ {
		if i >= len(changes[0].Path) {
			return common
		}
		seg := changes[0].Path[i]
		for _, c := range changes[1:] {
			if i >= len(c.Path) || !segmentEqual(c.Path[i], seg) {
				return common
			}
		}
		common = append(common, seg)
	}
}

// unnestSingleChildren prunes empty children post-order and collapses a
// node without an operation into its only remaining child.
func unnestSingleChildren(change Change) Change {
	if change.Children == nil {
		return change
	}
	children := make([]Change, 0, len(change.Children))
	for _, child := range change.Children {
		child = unnestSingleChildren(child)
		if child.HasChange() {
			children = append(children, child)
		}
	}

	switch {
	case len(children) == 0:
		change.Children = nil
	case len(children) == 1 && change.Func == "":
		child := children[0]
		child.Path = trimPath(change.Path.Concat(child.Path))
		change = child
	default:
		change.Children = children
	}
	return change
}

func trimPath(p Path) Path {
	if len(p) == 0 {
		return nil
	}
	return p
}
