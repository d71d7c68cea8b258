package main

import (
	"fmt"
	"math"
)

// GridSize is the terminal's character grid. A valid grid is at least 1x1.
type GridSize struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (g GridSize) String() string {
	return fmt.Sprintf("%dx%d", g.Cols, g.Rows)
}

// Valid reports whether both dimensions are at least one cell.
func (g GridSize) Valid() bool {
	return g.Cols >= 1 && g.Rows >= 1
}

// PixelBox is the drawable area of the container hosting a surface.
type PixelBox struct {
	Width  float64
	Height float64
}

// FontMetrics determine the pixel size of one character cell.
type FontMetrics struct {
	FontSize       float64
	LineHeight     float64
	CharWidthRatio float64
}

// DefaultFontMetrics matches the renderer defaults: 14px JetBrains Mono, 1.2 line height.
func DefaultFontMetrics() FontMetrics {
	return FontMetrics{FontSize: 14, LineHeight: 1.2, CharWidthRatio: 0.6}
}

// Cell returns the width and height of one character cell in pixels.
func (m FontMetrics) Cell() (float64, float64) {
	return m.FontSize * m.CharWidthRatio, m.FontSize * m.LineHeight
}

// fitEpsilon absorbs float error so that cols*cellWidth fits exactly cols cells.
const fitEpsilon = 1e-6

// FitGrid computes the grid that fits box with the given metrics, rounding
// down to whole cells. It returns false when the box is smaller than one cell
// in either dimension.
func FitGrid(box PixelBox, m FontMetrics) (GridSize, bool) {
	cw, ch := m.Cell()
	if cw <= 0 || ch <= 0 {
		return GridSize{}, false
	}
	if box.Width+fitEpsilon < cw || box.Height+fitEpsilon < ch {
		return GridSize{}, false
	}
	size := GridSize{
		Cols: int(math.Floor(box.Width/cw + fitEpsilon)),
		Rows: int(math.Floor(box.Height/ch + fitEpsilon)),
	}
	return size, size.Valid()
}

// GridFitter remembers the last successful fit so that a fit attempted before
// the container is measurable leaves the previous grid in place.
type GridFitter struct {
	metrics FontMetrics
	last    GridSize
}

// NewGridFitter creates a fitter whose grid starts at initial.
func NewGridFitter(m FontMetrics, initial GridSize) *GridFitter {
	if !initial.Valid() {
		initial = GridSize{Cols: 80, Rows: 24}
	}
	return &GridFitter{metrics: m, last: initial}
}

// Fit recomputes the grid for box. The second result is false when the
// fit was a no-op.
func (f *GridFitter) Fit(box PixelBox) (GridSize, bool) {
	size, ok := FitGrid(box, f.metrics)
	if !ok {
		return f.last, false
	}
	f.last = size
	return size, true
}

// Last returns the most recent fitted grid.
func (f *GridFitter) Last() GridSize {
	return f.last
}

// Metrics returns the current font metrics.
func (f *GridFitter) Metrics() FontMetrics {
	return f.metrics
}

// SetMetrics replaces the font metrics; the next Fit uses them.
func (f *GridFitter) SetMetrics(m FontMetrics) {
	f.metrics = m
}
