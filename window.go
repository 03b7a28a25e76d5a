package cogeo

import "fmt"

// A Window is a rectangle of Width*Height pixels whose upper left corner is
// the pixel at column ColOff and row RowOff of a raster.
type Window struct {
	ColOff, RowOff int
	Width, Height  int
}

func (w Window) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", w.Width, w.Height, w.ColOff, w.RowOff)
}

// Empty reports whether the window contains no pixel
func (w Window) Empty() bool {
	return w.Width <= 0 || w.Height <= 0
}

// Pixels returns the number of pixels covered by the window
func (w Window) Pixels() int {
	if w.Empty() {
		return 0
	}
	return w.Width * w.Height
}

// Intersect returns the part of w that is also covered by o. The returned
// window is Empty if they do not overlap.
func (w Window) Intersect(o Window) Window {
	x0, y0 := max(w.ColOff, o.ColOff), max(w.RowOff, o.RowOff)
	x1 := min(w.ColOff+w.Width, o.ColOff+o.Width)
	y1 := min(w.RowOff+w.Height, o.RowOff+o.Height)
	if x1 <= x0 || y1 <= y0 {
		return Window{ColOff: x0, RowOff: y0}
	}
	return Window{ColOff: x0, RowOff: y0, Width: x1 - x0, Height: y1 - y0}
}

// BlockWindows returns the windows matching the internal tiling of a
// width*height raster, in row-major order. Windows on the right and bottom
// edges are clipped to the raster.
//
// The returned windows cover every pixel of the raster exactly once. An empty
// raster yields no windows. blockWidth and blockHeight must be strictly
// positive.
func BlockWindows(width, height, blockWidth, blockHeight int) []Window {
	if width <= 0 || height <= 0 {
		return nil
	}
	nx := (width + blockWidth - 1) / blockWidth
	ny := (height + blockHeight - 1) / blockHeight
	windows := make([]Window, 0, nx*ny)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			w := Window{
				ColOff: i * blockWidth,
				RowOff: j * blockHeight,
				Width:  blockWidth,
				Height: blockHeight,
			}
			if i == nx-1 {
				w.Width = width - w.ColOff
			}
			if j == ny-1 {
				w.Height = height - w.RowOff
			}
			windows = append(windows, w)
		}
	}
	return windows
}
