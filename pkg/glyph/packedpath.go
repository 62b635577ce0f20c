// Package glyph holds the outline model of a variable glyph and the
// domain change operations that edit it. Glyph documents are JSON-shaped
// trees; PackedPath is the typed view of a glyph's outline used to compute
// operation arguments.
package glyph

import (
	"fmt"

	pkgerrors "github.com/developer-mesh/fontedit/pkg/errors"
)

// ErrIndexOutOfRange is returned for contour or point indices outside the path.
var ErrIndexOutOfRange = pkgerrors.New("INDEX_OUT_OF_RANGE", "path index out of range", pkgerrors.ClassValidation)

// ErrMalformedPath is returned when a document value is not a packed path.
var ErrMalformedPath = pkgerrors.New("MALFORMED_PATH", "malformed packed path", pkgerrors.ClassValidation)

// PointType is the packed type of a path point.
type PointType int

const (
	OnCurve       PointType = 0x00
	OffCurveQuad  PointType = 0x01
	OffCurveCubic PointType = 0x02
	OnCurveSmooth PointType = 0x08
)

// PackPointType returns the packed type for an unpacked point.
func PackPointType(pointType string, smooth bool) PointType {
	switch {
	case pointType == "cubic":
		return OffCurveCubic
	case pointType != "":
		return OffCurveQuad
	case smooth:
		return OnCurveSmooth
	default:
		return OnCurve
	}
}

// ContourInfo records the last point index of a contour and whether it is closed.
type ContourInfo struct {
	EndPoint int  `json:"endPoint"`
	IsClosed bool `json:"isClosed"`
}

// Contour is a single packed contour, detached from any path.
type Contour struct {
	Coordinates []float64   `json:"coordinates"`
	PointTypes  []PointType `json:"pointTypes"`
	IsClosed    bool        `json:"isClosed"`
}

// Point is an unpacked point. Type is "cubic", "quad" or empty for on-curve.
type Point struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Type   string  `json:"type,omitempty"`
	Smooth bool    `json:"smooth,omitempty"`
}

// PackedPath stores all contours of an outline in flat arrays.
type PackedPath struct {
	Coordinates []float64     `json:"coordinates"`
	PointTypes  []PointType   `json:"pointTypes"`
	ContourInfo []ContourInfo `json:"contourInfo"`
}

// NumPoints returns the number of points over all contours.
func (p *PackedPath) NumPoints() int {
	return len(p.PointTypes)
}

// NumContours returns the number of contours.
func (p *PackedPath) NumContours() int {
	return len(p.ContourInfo)
}

// PointPosition returns the coordinates of the point at an absolute index.
func (p *PackedPath) PointPosition(pointIndex int) (float64, float64, error) {
	if pointIndex < 0 || pointIndex >= p.NumPoints() {
		return 0, 0, fmt.Errorf("%w: point %d", ErrIndexOutOfRange, pointIndex)
	}
	return p.Coordinates[pointIndex*2], p.Coordinates[pointIndex*2+1], nil
}

// SetPointPosition moves the point at an absolute index.
func (p *PackedPath) SetPointPosition(pointIndex int, x, y float64) error {
	if pointIndex < 0 || pointIndex >= p.NumPoints() {
		return fmt.Errorf("%w: point %d", ErrIndexOutOfRange, pointIndex)
	}
	p.Coordinates[pointIndex*2] = x
	p.Coordinates[pointIndex*2+1] = y
	return nil
}

// GetContour returns a copy of a contour. Negative indices count from the end.
func (p *PackedPath) GetContour(contourIndex int) (Contour, error) {
	contourIndex, err := p.normalizeContourIndex(contourIndex, false)
	if err != nil {
		return Contour{}, err
	}
	start := p.contourStartPoint(contourIndex)
	end := p.ContourInfo[contourIndex].EndPoint + 1
	return Contour{
		Coordinates: append([]float64(nil), p.Coordinates[start*2:end*2]...),
		PointTypes:  append([]PointType(nil), p.PointTypes[start:end]...),
		IsClosed:    p.ContourInfo[contourIndex].IsClosed,
	}, nil
}

// GetPoint returns an unpacked copy of a contour point.
func (p *PackedPath) GetPoint(contourIndex, contourPointIndex int) (Point, error) {
	pointIndex, err := p.PointIndex(contourIndex, contourPointIndex)
	if err != nil {
		return Point{}, err
	}
	point := Point{X: p.Coordinates[pointIndex*2], Y: p.Coordinates[pointIndex*2+1]}
	switch p.PointTypes[pointIndex] {
	case OffCurveCubic:
		point.Type = "cubic"
	case OffCurveQuad:
		point.Type = "quad"
	case OnCurveSmooth:
		point.Smooth = true
	}
	return point, nil
}

// PointIndex converts a contour and contour point index into an absolute
// point index.
func (p *PackedPath) PointIndex(contourIndex, contourPointIndex int) (int, error) {
	contourIndex, err := p.normalizeContourIndex(contourIndex, false)
	if err != nil {
		return 0, err
	}
	return p.absolutePointIndex(contourIndex, contourPointIndex, false)
}

// DeleteContour removes a contour.
func (p *PackedPath) DeleteContour(contourIndex int) error {
	contourIndex, err := p.normalizeContourIndex(contourIndex, false)
	if err != nil {
		return err
	}
	start := p.contourStartPoint(contourIndex)
	numPoints := p.ContourInfo[contourIndex].EndPoint + 1 - start
	p.replacePoints(start, numPoints, nil, nil)
	p.ContourInfo = append(p.ContourInfo[:contourIndex], p.ContourInfo[contourIndex+1:]...)
	p.moveEndPoints(contourIndex, -numPoints)
	return nil
}

// InsertContour inserts a contour before contourIndex; an index equal to the
// number of contours appends.
func (p *PackedPath) InsertContour(contourIndex int, contour Contour) error {
	if len(contour.Coordinates) != 2*len(contour.PointTypes) {
		return fmt.Errorf("%w: contour has %d coordinates for %d points", ErrMalformedPath, len(contour.Coordinates), len(contour.PointTypes))
	}
	contourIndex, err := p.normalizeContourIndex(contourIndex, true)
	if err != nil {
		return err
	}
	start := p.contourStartPoint(contourIndex)
	p.replacePoints(start, 0, contour.Coordinates, contour.PointTypes)
	info := ContourInfo{EndPoint: start - 1, IsClosed: contour.IsClosed}
	p.ContourInfo = append(p.ContourInfo, ContourInfo{})
	copy(p.ContourInfo[contourIndex+1:], p.ContourInfo[contourIndex:])
	p.ContourInfo[contourIndex] = info
	p.moveEndPoints(contourIndex, len(contour.PointTypes))
	return nil
}

// DeletePoint removes a point from a contour.
func (p *PackedPath) DeletePoint(contourIndex, contourPointIndex int) error {
	contourIndex, err := p.normalizeContourIndex(contourIndex, false)
	if err != nil {
		return err
	}
	pointIndex, err := p.absolutePointIndex(contourIndex, contourPointIndex, false)
	if err != nil {
		return err
	}
	p.replacePoints(pointIndex, 1, nil, nil)
	p.moveEndPoints(contourIndex, -1)
	return nil
}

// InsertPoint inserts a point into a contour before contourPointIndex.
func (p *PackedPath) InsertPoint(contourIndex, contourPointIndex int, point Point) error {
	contourIndex, err := p.normalizeContourIndex(contourIndex, false)
	if err != nil {
		return err
	}
	pointIndex, err := p.absolutePointIndex(contourIndex, contourPointIndex, true)
	if err != nil {
		return err
	}
	p.replacePoints(pointIndex, 0, []float64{point.X, point.Y}, []PointType{PackPointType(point.Type, point.Smooth)})
	p.moveEndPoints(contourIndex, 1)
	return nil
}

func (p *PackedPath) contourStartPoint(contourIndex int) int {
	if contourIndex == 0 {
		return 0
	}
	return p.ContourInfo[contourIndex-1].EndPoint + 1
}

func (p *PackedPath) numContourPoints(contourIndex int) int {
	return p.ContourInfo[contourIndex].EndPoint + 1 - p.contourStartPoint(contourIndex)
}

func (p *PackedPath) absolutePointIndex(contourIndex, contourPointIndex int, forInsert bool) (int, error) {
	start := p.contourStartPoint(contourIndex)
	numPoints := p.numContourPoints(contourIndex)
	original := contourPointIndex
	if contourPointIndex < 0 {
		contourPointIndex += numPoints
	}
	limit := numPoints
	if forInsert {
		limit++
	}
	if contourPointIndex < 0 || contourPointIndex >= limit {
		return 0, fmt.Errorf("%w: contour point %d", ErrIndexOutOfRange, original)
	}
	return start + contourPointIndex, nil
}

func (p *PackedPath) normalizeContourIndex(contourIndex int, forInsert bool) (int, error) {
	original := contourIndex
	numContours := len(p.ContourInfo)
	if contourIndex < 0 {
		contourIndex += numContours
	}
	limit := numContours
	if forInsert {
		limit++
	}
	if contourIndex < 0 || contourIndex >= limit {
		return 0, fmt.Errorf("%w: contour %d", ErrIndexOutOfRange, original)
	}
	return contourIndex, nil
}

func (p *PackedPath) replacePoints(startPoint, numPoints int, coordinates []float64, pointTypes []PointType) {
	p.Coordinates = spliceFloats(p.Coordinates, startPoint*2, numPoints*2, coordinates)
	p.PointTypes = splicePointTypes(p.PointTypes, startPoint, numPoints, pointTypes)
}

func (p *PackedPath) moveEndPoints(fromContourIndex, offset int) {
	for i := fromContourIndex; i < len(p.ContourInfo); i++ {
		p.ContourInfo[i].EndPoint += offset
	}
}

func spliceFloats(s []float64, index, deleteCount int, items []float64) []float64 {
	result := make([]float64, 0, len(s)-deleteCount+len(items))
	result = append(result, s[:index]...)
	result = append(result, items...)
	return append(result, s[index+deleteCount:]...)
}

func splicePointTypes(s []PointType, index, deleteCount int, items []PointType) []PointType {
	result := make([]PointType, 0, len(s)-deleteCount+len(items))
	result = append(result, s[:index]...)
	result = append(result, items...)
	return append(result, s[index+deleteCount:]...)
}
