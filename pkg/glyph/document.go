package glyph

import (
	"encoding/json"
	"fmt"
	"math"
)

// PackedPathFromMap reads the typed view of a packed path document. An
// absent or nil value yields an empty path.
func PackedPathFromMap(value any) (*PackedPath, error) {
	if value == nil {
		return &PackedPath{}, nil
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrMalformedPath, value)
	}

	p := &PackedPath{}
	var err error
	if p.Coordinates, err = floatList(m["coordinates"]); err != nil {
		return nil, fmt.Errorf("coordinates: %w", err)
	}
	if p.PointTypes, err = pointTypeList(m["pointTypes"]); err != nil {
		return nil, fmt.Errorf("pointTypes: %w", err)
	}
	if len(p.Coordinates) != 2*len(p.PointTypes) {
		return nil, fmt.Errorf("%w: %d coordinates for %d points", ErrMalformedPath, len(p.Coordinates), len(p.PointTypes))
	}

	infos, _ := m["contourInfo"].([]any)
	for i, raw := range infos {
		info, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: contourInfo %d is %T", ErrMalformedPath, i, raw)
		}
		endPoint, ok := toInt(info["endPoint"])
		if !ok {
			return nil, fmt.Errorf("%w: contourInfo %d endPoint", ErrMalformedPath, i)
		}
		isClosed, _ := info["isClosed"].(bool)
		p.ContourInfo = append(p.ContourInfo, ContourInfo{EndPoint: endPoint, IsClosed: isClosed})
	}
	return p, nil
}

// ToMap returns the document form of the path.
func (p *PackedPath) ToMap() map[string]any {
	m := make(map[string]any, 3)
	p.WriteTo(m)
	return m
}

// WriteTo replaces the path fields of m in place.
func (p *PackedPath) WriteTo(m map[string]any) {
	coords := make([]any, len(p.Coordinates))
	for i, v := range p.Coordinates {
		coords[i] = v
	}
	types := make([]any, len(p.PointTypes))
	for i, v := range p.PointTypes {
		types[i] = int(v)
	}
	infos := make([]any, len(p.ContourInfo))
	for i, info := range p.ContourInfo {
		infos[i] = map[string]any{"endPoint": info.EndPoint, "isClosed": info.IsClosed}
	}
	m["coordinates"] = coords
	m["pointTypes"] = types
	m["contourInfo"] = infos
}

// ToMap returns the document form of the contour.
func (c Contour) ToMap() map[string]any {
	coords := make([]any, len(c.Coordinates))
	for i, v := range c.Coordinates {
		coords[i] = v
	}
	types := make([]any, len(c.PointTypes))
	for i, v := range c.PointTypes {
		types[i] = int(v)
	}
	return map[string]any{"coordinates": coords, "pointTypes": types, "isClosed": c.IsClosed}
}

// ContourFromValue accepts a Contour or its document form.
func ContourFromValue(value any) (Contour, error) {
	switch v := value.(type) {
	case Contour:
		return v, nil
	case *Contour:
		return *v, nil
	case map[string]any:
		coords, err := floatList(v["coordinates"])
		if err != nil {
			return Contour{}, fmt.Errorf("coordinates: %w", err)
		}
		types, err := pointTypeList(v["pointTypes"])
		if err != nil {
			return Contour{}, fmt.Errorf("pointTypes: %w", err)
		}
		isClosed, _ := v["isClosed"].(bool)
		return Contour{Coordinates: coords, PointTypes: types, IsClosed: isClosed}, nil
	default:
		return Contour{}, fmt.Errorf("%w: contour is %T", ErrMalformedPath, value)
	}
}

// ToMap returns the document form of the point.
func (pt Point) ToMap() map[string]any {
	m := map[string]any{"x": pt.X, "y": pt.Y}
	if pt.Type != "" {
		m["type"] = pt.Type
	}
	if pt.Smooth {
		m["smooth"] = true
	}
	return m
}

// PointFromValue accepts a Point or its document form.
func PointFromValue(value any) (Point, error) {
	switch v := value.(type) {
	case Point:
		return v, nil
	case *Point:
		return *v, nil
	case map[string]any:
		x, okX := toFloat(v["x"])
		y, okY := toFloat(v["y"])
		if !okX || !okY {
			return Point{}, fmt.Errorf("%w: point needs numeric x and y", ErrMalformedPath)
		}
		pointType, _ := v["type"].(string)
		smooth, _ := v["smooth"].(bool)
		return Point{X: x, Y: y, Type: pointType, Smooth: smooth}, nil
	default:
		return Point{}, fmt.Errorf("%w: point is %T", ErrMalformedPath, value)
	}
}

func floatList(value any) ([]float64, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []float64:
		return append([]float64(nil), v...), nil
	case []any:
		result := make([]float64, len(v))
		for i, item := range v {
			f, ok := toFloat(item)
			if !ok {
				return nil, fmt.Errorf("%w: item %d is %T", ErrMalformedPath, i, item)
			}
			result[i] = f
		}
		return result, nil
	default:
		return nil, fmt.Errorf("%w: list is %T", ErrMalformedPath, value)
	}
}

func pointTypeList(value any) ([]PointType, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []PointType:
		return append([]PointType(nil), v...), nil
	case []any:
		result := make([]PointType, len(v))
		for i, item := range v {
			n, ok := toInt(item)
			if !ok {
				return nil, fmt.Errorf("%w: point type %d is %T", ErrMalformedPath, i, item)
			}
			result[i] = PointType(n)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("%w: list is %T", ErrMalformedPath, value)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case PointType:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
