package glyph

import (
	"github.com/developer-mesh/fontedit/pkg/changes"
)

// The Record helpers edit a path document in place and add the matching
// forward and rollback operations to c, which must be scoped to the path.

// MovePoint moves the point at pointIndex to (x, y).
func MovePoint(c *changes.Collector, path map[string]any, pointIndex int, x, y float64) error {
	p, err := PackedPathFromMap(path)
	if err != nil {
		return err
	}
	oldX, oldY, err := p.PointPosition(pointIndex)
	if err != nil {
		return err
	}
	if _, err := setPointPosition(path, []any{pointIndex, x, y}); err != nil {
		return err
	}
	c.AddChange(FuncSetPointPosition, pointIndex, x, y)
	c.AddRollbackChange(FuncSetPointPosition, pointIndex, oldX, oldY)
	return nil
}

// RecordInsertContour inserts contour before contourIndex.
func RecordInsertContour(c *changes.Collector, path map[string]any, contourIndex int, contour Contour) error {
	p, err := PackedPathFromMap(path)
	if err != nil {
		return err
	}
	index, err := p.normalizeContourIndex(contourIndex, true)
	if err != nil {
		return err
	}
	if _, err := insertContour(path, []any{index, contour}); err != nil {
		return err
	}
	c.AddChange(FuncInsertContour, index, contour.ToMap())
	c.AddRollbackChange(FuncDeleteContour, index)
	return nil
}

// RecordDeleteContour deletes the contour at contourIndex.
func RecordDeleteContour(c *changes.Collector, path map[string]any, contourIndex int) error {
	p, err := PackedPathFromMap(path)
	if err != nil {
		return err
	}
	index, err := p.normalizeContourIndex(contourIndex, false)
	if err != nil {
		return err
	}
	contour, err := p.GetContour(index)
	if err != nil {
		return err
	}
	if _, err := deleteContour(path, []any{index}); err != nil {
		return err
	}
	c.AddChange(FuncDeleteContour, index)
	c.AddRollbackChange(FuncInsertContour, index, contour.ToMap())
	return nil
}

// RecordInsertPoint inserts point into a contour before contourPointIndex.
func RecordInsertPoint(c *changes.Collector, path map[string]any, contourIndex, contourPointIndex int, point Point) error {
	p, err := PackedPathFromMap(path)
	if err != nil {
		return err
	}
	ci, err := p.normalizeContourIndex(contourIndex, false)
	if err != nil {
		return err
	}
	absolute, err := p.absolutePointIndex(ci, contourPointIndex, true)
	if err != nil {
		return err
	}
	cpi := absolute - p.contourStartPoint(ci)
	if _, err := insertPoint(path, []any{ci, cpi, point}); err != nil {
		return err
	}
	c.AddChange(FuncInsertPoint, ci, cpi, point.ToMap())
	c.AddRollbackChange(FuncDeletePoint, ci, cpi)
	return nil
}

// RecordDeletePoint deletes a point from a contour.
func RecordDeletePoint(c *changes.Collector, path map[string]any, contourIndex, contourPointIndex int) error {
	p, err := PackedPathFromMap(path)
	if err != nil {
		return err
	}
	ci, err := p.normalizeContourIndex(contourIndex, false)
	if err != nil {
		return err
	}
	absolute, err := p.absolutePointIndex(ci, contourPointIndex, false)
	if err != nil {
		return err
	}
	cpi := absolute - p.contourStartPoint(ci)
	point, err := p.GetPoint(ci, cpi)
	if err != nil {
		return err
	}
	if _, err := deletePoint(path, []any{ci, cpi}); err != nil {
		return err
	}
	c.AddChange(FuncDeletePoint, ci, cpi)
	c.AddRollbackChange(FuncInsertPoint, ci, cpi, point.ToMap())
	return nil
}
