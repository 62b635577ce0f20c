package changes

// Pattern is a tree of path segments used for change subscriptions. A nil
// value marks a leaf: everything at and below that path matches.
type Pattern map[string]Pattern

// PathToPattern returns a pattern matching everything below path.
func PathToPattern(path Path) Pattern {
	pattern := Pattern{}
	AddPathToPattern(pattern, path)
	return pattern
}

// Clone returns a deep copy of the pattern.
func (p Pattern) Clone() Pattern {
	if p == nil {
		return nil
	}
	clone := make(Pattern, len(p))
	for k, v := range p {
		clone[k] = v.Clone()
	}
	return clone
}

// IsLeaf reports whether key is present as a leaf.
func (p Pattern) IsLeaf(key string) bool {
	v, ok := p[key]
	return ok && v == nil
}

// AddPathToPattern adds path to pattern in place. A path already covered by
// a leaf is left alone.
func AddPathToPattern(pattern Pattern, path Path) {
	if len(path) == 0 {
		return
	}
	node := pattern
	for i, seg := range path {
		key := segmentKey(seg)
		child, ok := node[key]
		if ok && child == nil {
			return
		}
		if i == len(path)-1 {
			if !ok {
				node[key] = nil
			}
			return
		}
		if !ok {
			child = Pattern{}
			node[key] = child
		}
		node = child
	}
}

// RemovePathFromPattern removes the leaf at path, pruning parents that
// become empty.
func RemovePathFromPattern(pattern Pattern, path Path) {
	if len(path) == 0 {
		return
	}
	key := segmentKey(path[0])
	child, ok := pattern[key]
	if !ok {
		return
	}
	if len(path) == 1 {
		if child == nil {
			delete(pattern, key)
		}
		return
	}
	if child == nil {
		return
	}
	RemovePathFromPattern(child, path[1:])
	if len(child) == 0 {
		delete(pattern, key)
	}
}

// AddPatternToPattern merges add into pattern in place.
func AddPatternToPattern(pattern, add Pattern) {
	for key, addChild := range add {
		existing, ok := pattern[key]
		switch {
		case !ok:
			pattern[key] = addChild.Clone()
		case existing == nil:
		case addChild == nil:
			pattern[key] = nil
		default:
			AddPatternToPattern(existing, addChild)
		}
	}
}

// RemovePatternFromPattern removes the leaves of remove from pattern in
// place. A leaf in pattern is not narrowed by a nested removal.
func RemovePatternFromPattern(pattern, remove Pattern) {
	for key, removeChild := range remove {
		existing, ok := pattern[key]
		switch {
		case !ok:
		case removeChild == nil:
			delete(pattern, key)
		case existing == nil:
		default:
			RemovePatternFromPattern(existing, removeChild)
			if len(existing) == 0 {
				delete(pattern, key)
			}
		}
	}
}

// MatchChangePattern reports whether change descends into any part of
// pattern.
func MatchChangePattern(change Change, pattern Pattern) bool {
	node := pattern
	for _, seg := range change.Path {
		child, ok := node[segmentKey(seg)]
		if !ok {
			return false
		}
		if child == nil {
			return true
		}
		node = child
	}
	for _, child := range change.Children {
		if MatchChangePattern(child, node) {
			return true
		}
	}
	return false
}

// FilterChangePattern returns the part of change that falls inside
// pattern, or outside it when inverse is set. The boolean is false when
// nothing remains.
func FilterChangePattern(change Change, pattern Pattern, inverse bool) (Change, bool) {
	node := pattern
	for _, seg := range change.Path {
		child, ok := node[segmentKey(seg)]
		if !ok {
			if inverse {
				return change, true
			}
			return Change{}, false
		}
		if child == nil {
			if inverse {
				return Change{}, false
			}
			return change, true
		}
		node = child
	}

	var children []Change
	for _, child := range change.Children {
		if filtered, ok := FilterChangePattern(child, node, inverse); ok {
			children = append(children, filtered)
		}
	}

	result := Change{Path: change.Path, Children: children}
	if inverse {
		result.Func = change.Func
		result.Args = change.Args
	}
	if result.IsEmpty() {
		return Change{}, false
	}
	if result.Func == "" && len(children) == 1 {
		child := children[0]
		child.Path = trimPath(result.Path.Concat(child.Path))
		return child, true
	}
	return result, true
}
