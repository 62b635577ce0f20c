package glyph

import (
	"fmt"
	"sort"

	pkgerrors "github.com/developer-mesh/fontedit/pkg/errors"
)

// ErrNoSource is returned when a glyph has no usable source for a location.
var ErrNoSource = pkgerrors.New("NO_SOURCE", "glyph has no active source", pkgerrors.ClassNotFound)

// Location maps axis names to coordinates.
type Location map[string]float64

// Equal compares locations; missing axes count as 0.
func (l Location) Equal(other Location) bool {
	for k, v := range l {
		if other[k] != v {
			return false
		}
	}
	for k, v := range other {
		if l[k] != v {
			return false
		}
	}
	return true
}

// Key returns a canonical string for use as a cache key.
func (l Location) Key() string {
	names := make([]string, 0, len(l))
	for name, v := range l {
		if v != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	key := ""
	for i, name := range names {
		if i > 0 {
			key += ","
		}
		key += fmt.Sprintf("%s=%g", name, l[name])
	}
	return key
}

// Source is a master of a variable glyph.
type Source struct {
	Name      string
	LayerName string
	Location  Location
	Inactive  bool
}

// Sources reads the sources of a variable glyph document.
func Sources(g map[string]any) []Source {
	raw, _ := g["sources"].([]any)
	sources := make([]Source, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		s := Source{Location: Location{}}
		s.Name, _ = m["name"].(string)
		s.LayerName, _ = m["layerName"].(string)
		s.Inactive, _ = m["inactive"].(bool)
		if loc, ok := m["location"].(map[string]any); ok {
			for axis, v := range loc {
				if f, ok := toFloat(v); ok {
					s.Location[axis] = f
				}
			}
		}
		sources = append(sources, s)
	}
	return sources
}

// LayerGlyph returns the static glyph document of a layer.
func LayerGlyph(g map[string]any, layerName string) (map[string]any, bool) {
	layers, ok := g["layers"].(map[string]any)
	if !ok {
		return nil, false
	}
	layer, ok := layers[layerName].(map[string]any)
	if !ok {
		return nil, false
	}
	static, ok := layer["glyph"].(map[string]any)
	return static, ok
}

// ComponentNames returns the sorted base glyph names of all components
// across all layers.
func ComponentNames(g map[string]any) []string {
	layers, _ := g["layers"].(map[string]any)
	seen := make(map[string]struct{})
	for _, rawLayer := range layers {
		layer, ok := rawLayer.(map[string]any)
		if !ok {
			continue
		}
		static, ok := layer["glyph"].(map[string]any)
		if !ok {
			continue
		}
		components, _ := static["components"].([]any)
		for _, rawCompo := range components {
			compo, ok := rawCompo.(map[string]any)
			if !ok {
				continue
			}
			if name, ok := compo["name"].(string); ok && name != "" {
				seen[name] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns a variable glyph document with a single default source.
func New(name string, static map[string]any) map[string]any {
	if static == nil {
		static = map[string]any{}
	}
	if _, ok := static["path"]; !ok {
		static["path"] = (&PackedPath{}).ToMap()
	}
	if _, ok := static["components"]; !ok {
		static["components"] = []any{}
	}
	return map[string]any{
		"name": name,
		"axes": []any{},
		"sources": []any{
			map[string]any{"name": "default", "layerName": "default", "location": map[string]any{}},
		},
		"layers": map[string]any{
			"default": map[string]any{"glyph": static},
		},
	}
}
