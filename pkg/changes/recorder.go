package changes

import "sort"

// Record snapshots subject, runs mutate on it, and returns a collector
// holding the forward and rollback changes that describe what mutate did.
// Only structural operations are produced. Subject must be a container
// mutated in place (normally a map[string]any).
func Record(subject any, mutate func(subject any) error) (*Collector, error) {
	before := DeepCopy(subject)
	if err := mutate(subject); err != nil {
		return nil, err
	}
	c := NewCollector()
	Diff(c, before, subject)
	return c, nil
}

// Diff records into c the operations turning old into updated, and their
// inverses as rollback operations.
func Diff(c *Collector, old, updated any) {
	switch o := old.(type) {
	case map[string]any:
		if n, ok := updated.(map[string]any); ok {
			diffMaps(c, o, n)
			return
		}
	case []any:
		if n, ok := updated.([]any); ok {
			diffLists(c, o, n)
			return
		}
	}
}

func diffMaps(c *Collector, old, updated map[string]any) {
	keys := make([]string, 0, len(old)+len(updated))
	for k := range old {
		keys = append(keys, k)
	}
	for k := range updated {
		if _, ok := old[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		oldValue, inOld := old[k]
		newValue, inNew := updated[k]
		switch {
		case !inOld:
			c.AddChange(FuncAssign, k, DeepCopy(newValue))
			c.AddRollbackChange(FuncDeleteKey, k)
		case !inNew:
			c.AddChange(FuncDeleteKey, k)
			c.AddRollbackChange(FuncAssign, k, oldValue)
		default:
			diffValue(c, k, oldValue, newValue)
		}
	}
}

func diffLists(c *Collector, old, updated []any) {
	common := len(old)
	if len(updated) < common {
		common = len(updated)
	}
	for i := 0; i < common; i++ {
		diffValue(c, i, old[i], updated[i])
	}

	switch {
	case len(updated) > len(old):
		added := make([]any, 0, len(updated)-common+1)
		added = append(added, common)
		for _, item := range updated[common:] {
			added = append(added, DeepCopy(item))
		}
		c.AddChange(FuncSpliceInsert, added...)
		c.AddRollbackChange(FuncSpliceRemove, common, len(updated)-common)
	case len(updated) < len(old):
		removed := make([]any, 0, len(old)-common+1)
		removed = append(removed, common)
		removed = append(removed, old[common:]...)
		c.AddChange(FuncSpliceRemove, common, len(old)-common)
		c.AddRollbackChange(FuncSpliceInsert, removed...)
	}
}

func diffValue(c *Collector, key any, oldValue, newValue any) {
	if deepEqual(oldValue, newValue) {
		return
	}
	if sameContainerKind(oldValue, newValue) {
		Diff(c.Sub(key), oldValue, newValue)
		return
	}
	c.AddChange(FuncAssign, key, DeepCopy(newValue))
	c.AddRollbackChange(FuncAssign, key, oldValue)
}

func sameContainerKind(a, b any) bool {
	switch a.(type) {
	case map[string]any:
		_, ok := b.(map[string]any)
		return ok
	case []any:
		_, ok := b.([]any)
		return ok
	}
	return false
}
