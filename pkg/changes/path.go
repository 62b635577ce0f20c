package changes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Path addresses a location in a nested document. Segments are map keys
// (string) or list indices (non-negative int).
type Path []any

// Equal reports whether both paths have the same length and equal segments.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if !segmentEqual(p[i], other[i]) {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a (not necessarily strict) prefix of p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	return p[:len(prefix)].Equal(prefix)
}

// Concat returns a new path with the other paths appended.
func (p Path) Concat(others ...Path) Path {
	n := len(p)
	for _, o := range others {
		n += len(o)
	}
	if n == 0 {
		return nil
	}
	result := make(Path, 0, n)
	result = append(result, p...)
	for _, o := range others {
		result = append(result, o...)
	}
	return result
}

// Clone returns a copy that shares no backing array with p.
func (p Path) Clone() Path {
	if len(p) == 0 {
		return nil
	}
	return append(Path(nil), p...)
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = segmentKey(seg)
	}
	return strings.Join(parts, "/")
}

// UnmarshalJSON decodes a path, turning integral JSON numbers into int.
func (p *Path) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		*p = nil
		return nil
	}
	path := make(Path, len(raw))
	for i, seg := range raw {
		switch v := seg.(type) {
		case string:
			path[i] = v
		case json.Number:
			n, err := strconv.Atoi(v.String())
			if err != nil {
				return fmt.Errorf("path segment %d: %q is not an index", i, v)
			}
			path[i] = n
		default:
			return fmt.Errorf("path segment %d: unsupported type %T", i, seg)
		}
	}
	*p = path
	return nil
}

// toIndex converts the numeric forms a decoded document may carry to int.
func toIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

func segmentEqual(a, b any) bool {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	ai, aok := toIndex(a)
	bi, bok := toIndex(b)
	return aok && bok && ai == bi
}

// segmentKey is the string form of a segment, as used in patterns.
func segmentKey(seg any) string {
	if s, ok := seg.(string); ok {
		return s
	}
	if i, ok := toIndex(seg); ok {
		return strconv.Itoa(i)
	}
	return fmt.Sprint(seg)
}

// comparePaths orders paths segment-wise; indices sort before keys.
func comparePaths(a, b Path) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareSegments(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func compareSegments(a, b any) int {
	ai, aIsIndex := toIndex(a)
	bi, bIsIndex := toIndex(b)
	switch {
	case aIsIndex && bIsIndex:
		return ai - bi
	case aIsIndex:
		return -1
	case bIsIndex:
		return 1
	default:
		return strings.Compare(segmentKey(a), segmentKey(b))
	}
}
