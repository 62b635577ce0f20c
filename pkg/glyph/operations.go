package glyph

import (
	"fmt"

	"github.com/developer-mesh/fontedit/pkg/changes"
)

// Outline operation names
const (
	FuncSetPointPosition = "=xy"
	FuncInsertContour    = "insertContour"
	FuncDeleteContour    = "deleteContour"
	FuncInsertPoint      = "insertPoint"
	FuncDeletePoint      = "deletePoint"
)

// RegisterOperations installs the outline operations into reg.
func RegisterOperations(reg *changes.Registry) error {
	ops := map[string]changes.OperationFunc{
		FuncSetPointPosition: setPointPosition,
		FuncInsertContour:    insertContour,
		FuncDeleteContour:    deleteContour,
		FuncInsertPoint:      insertPoint,
		FuncDeletePoint:      deletePoint,
	}
	for _, name := range []string{FuncSetPointPosition, FuncInsertContour, FuncDeleteContour, FuncInsertPoint, FuncDeletePoint} {
		if err := reg.Register(name, ops[name]); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a change registry with the outline operations installed.
func NewRegistry() *changes.Registry {
	reg := changes.NewRegistry()
	if err := RegisterOperations(reg); err != nil {
		panic(err)
	}
	return reg
}

// setPointPosition writes x and y into the coordinate list in place.
func setPointPosition(subject any, args []any) (any, error) {
	if len(args) != 3 {
		return subject, fmt.Errorf("%w: =xy takes pointIndex, x, y", changes.ErrInvalidArguments)
	}
	m, ok := subject.(map[string]any)
	if !ok {
		return subject, fmt.Errorf("%w: got %T", ErrMalformedPath, subject)
	}
	pointIndex, ok := toInt(args[0])
	x, okX := toFloat(args[1])
	y, okY := toFloat(args[2])
	if !ok || !okX || !okY {
		return subject, fmt.Errorf("%w: =xy arguments %v", changes.ErrInvalidArguments, args)
	}

	switch coords := m["coordinates"].(type) {
	case []any:
		if pointIndex < 0 || pointIndex*2+1 >= len(coords) {
			return subject, fmt.Errorf("%w: point %d", ErrIndexOutOfRange, pointIndex)
		}
		coords[pointIndex*2] = x
		coords[pointIndex*2+1] = y
	case []float64:
		if pointIndex < 0 || pointIndex*2+1 >= len(coords) {
			return subject, fmt.Errorf("%w: point %d", ErrIndexOutOfRange, pointIndex)
		}
		coords[pointIndex*2] = x
		coords[pointIndex*2+1] = y
	default:
		return subject, fmt.Errorf("%w: coordinates are %T", ErrMalformedPath, m["coordinates"])
	}
	return m, nil
}

func insertContour(subject any, args []any) (any, error) {
	if len(args) != 2 {
		return subject, fmt.Errorf("%w: insertContour takes contourIndex, contour", changes.ErrInvalidArguments)
	}
	contourIndex, ok := toInt(args[0])
	if !ok {
		return subject, fmt.Errorf("%w: contour index %v", changes.ErrInvalidArguments, args[0])
	}
	contour, err := ContourFromValue(args[1])
	if err != nil {
		return subject, err
	}
	return withPath(subject, func(p *PackedPath) error {
		return p.InsertContour(contourIndex, contour)
	})
}

func deleteContour(subject any, args []any) (any, error) {
	if len(args) != 1 {
		return subject, fmt.Errorf("%w: deleteContour takes contourIndex", changes.ErrInvalidArguments)
	}
	contourIndex, ok := toInt(args[0])
	if !ok {
		return subject, fmt.Errorf("%w: contour index %v", changes.ErrInvalidArguments, args[0])
	}
	return withPath(subject, func(p *PackedPath) error {
		return p.DeleteContour(contourIndex)
	})
}

func insertPoint(subject any, args []any) (any, error) {
	if len(args) != 3 {
		return subject, fmt.Errorf("%w: insertPoint takes contourIndex, contourPointIndex, point", changes.ErrInvalidArguments)
	}
	contourIndex, okC := toInt(args[0])
	pointIndex, okP := toInt(args[1])
	if !okC || !okP {
		return subject, fmt.Errorf("%w: insertPoint indices %v, %v", changes.ErrInvalidArguments, args[0], args[1])
	}
	point, err := PointFromValue(args[2])
	if err != nil {
		return subject, err
	}
	return withPath(subject, func(p *PackedPath) error {
		return p.InsertPoint(contourIndex, pointIndex, point)
	})
}

func deletePoint(subject any, args []any) (any, error) {
	if len(args) != 2 {
		return subject, fmt.Errorf("%w: deletePoint takes contourIndex, contourPointIndex", changes.ErrInvalidArguments)
	}
	contourIndex, okC := toInt(args[0])
	pointIndex, okP := toInt(args[1])
	if !okC || !okP {
		return subject, fmt.Errorf("%w: deletePoint indices %v, %v", changes.ErrInvalidArguments, args[0], args[1])
	}
	return withPath(subject, func(p *PackedPath) error {
		return p.DeletePoint(contourIndex, pointIndex)
	})
}

// withPath runs fn on the typed view of a path document and writes the
// result back into the same map.
func withPath(subject any, fn func(p *PackedPath) error) (any, error) {
	m, ok := subject.(map[string]any)
	if !ok {
		return subject, fmt.Errorf("%w: got %T", ErrMalformedPath, subject)
	}
	p, err := PackedPathFromMap(m)
	if err != nil {
		return subject, err
	}
	if err := fn(p); err != nil {
		return subject, err
	}
	p.WriteTo(m)
	return m, nil
}
