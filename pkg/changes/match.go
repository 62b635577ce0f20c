package changes

import "sort"

// TouchesPath reports whether applying change could affect the value at
// target. A change touches target when its path runs along target and it
// either reaches the end of target with an effect, carries an operation
// above target, or has a child touching the rest of target.
func TouchesPath(change Change, target Path) bool {
	n := len(change.Path)
	if n > len(target) {
		n = len(target)
	}
	if !change.Path[:n].Equal(target[:n]) {
		return false
	}
	if len(change.Path) >= len(target) {
		return change.HasChange()
	}
	if change.Func != "" {
		return true
	}
	rest := target[len(change.Path):]
	for _, child := range change.Children {
		if TouchesPath(child, rest) {
			return true
		}
	}
	return false
}

// CollectChangePaths returns the sorted, de-duplicated paths of length
// depth that change descends into. Branches ending above depth yield
// nothing.
func CollectChangePaths(change Change, depth int) []Path {
	seen := make(map[string]struct{})
	var paths []Path
	var walk func(c Change, prefix Path)
	walk = func(c Change, prefix Path) {
		path := prefix.Concat(c.Path)
		if len(path) >= depth {
			p := path[:depth].Clone()
			key := p.String()
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				paths = append(paths, p)
			}
			return
		}
		for _, child := range c.Children {
			walk(child, path)
		}
	}
	walk(change, nil)

	sort.Slice(paths, func(i, j int) bool {
		return comparePaths(paths[i], paths[j]) < 0
	})
	return paths
}
