package main

// HostWindow is the size of the terminal webterm itself runs in.
// Width and Height are zero when the host does not report pixels.
type HostWindow struct {
	Cols   int
	Rows   int
	Width  float64
	Height float64
}

// Box returns the pixel area left for sessions after reserving rows at the
// bottom. Without pixel information the box is synthesized from the host's
// cell grid and m, so fitting it yields the host grid itself.
func (w HostWindow) Box(m FontMetrics, reserveRows int) PixelBox {
	rows := max(0, w.Rows-reserveRows)
	if w.Width <= 0 || w.Height <= 0 || w.Rows <= 0 {
		cw, ch := m.Cell()
		return PixelBox{Width: float64(w.Cols) * cw, Height: float64(rows) * ch}
	}
	rowHeight := w.Height / float64(w.Rows)
	return PixelBox{Width: w.Width, Height: float64(rows) * rowHeight}
}
