package glyph

import (
	"fmt"

	"github.com/developer-mesh/fontedit/pkg/changes"
)

// Instance is a glyph resolved at a location.
type Instance struct {
	GlyphName  string
	Location   Location
	SourceName string
	// LayerName is the layer the instance was taken from; edits to the
	// instance address this layer.
	LayerName string
	Glyph     map[string]any
}

// Instancer resolves a variable glyph at a location.
type Instancer interface {
	Instance(name string, g map[string]any, location Location) (*Instance, error)
}

// SourceInstancer returns the layer of the active source at exactly the
// requested location, falling back to the first active source. It does not
// interpolate.
type SourceInstancer struct{}

// Instance implements Instancer.
func (SourceInstancer) Instance(name string, g map[string]any, location Location) (*Instance, error) {
	var fallback *Source
	sources := Sources(g)
	for i := range sources {
		s := &sources[i]
		if s.Inactive {
			continue
		}
		if fallback == nil {
			fallback = s
		}
		if s.Location.Equal(location) {
			return newInstance(name, g, location, s)
		}
	}
	if fallback == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, name)
	}
	return newInstance(name, g, location, fallback)
}

func newInstance(name string, g map[string]any, location Location, s *Source) (*Instance, error) {
	static, ok := LayerGlyph(g, s.LayerName)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no layer %q", ErrNoSource, name, s.LayerName)
	}
	loc := make(Location, len(location))
	for k, v := range location {
		loc[k] = v
	}
	return &Instance{
		GlyphName:  name,
		Location:   loc,
		SourceName: s.Name,
		LayerName:  s.LayerName,
		Glyph:      changes.DeepCopy(static).(map[string]any),
	}, nil
}
