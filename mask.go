package cogeo

import (
	"fmt"
	"strconv"
)

// Mask is a single band byte raster where every pixel is either 0 (invalid)
// or 255 (valid).
type Mask struct {
	Width, Height int
	Data          []byte
}

// NewMask allocates a fully invalid mask
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Data: make([]byte, width*height)}
}

func (m *Mask) bounds() Window {
	return Window{Width: m.Width, Height: m.Height}
}

// Paste copies the w.Width*w.Height mask values of slice into m at w. w must
// be fully contained in m.
func (m *Mask) Paste(w Window, slice []byte) error {
	if m.bounds().Intersect(w) != w {
		return fmt.Errorf("window %v outside of %dx%d mask", w, m.Width, m.Height)
	}
	if len(slice) != w.Pixels() {
		return fmt.Errorf("mask slice of size %d does not match window %v", len(slice), w)
	}
	for y := 0; y < w.Height; y++ {
		off := (w.RowOff+y)*m.Width + w.ColOff
		copy(m.Data[off:off+w.Width], slice[y*w.Width:(y+1)*w.Width])
	}
	return nil
}

// Window returns a copy of the mask values covered by w
func (m *Mask) Window(w Window) []byte {
	w = m.bounds().Intersect(w)
	ret := make([]byte, w.Pixels())
	for y := 0; y < w.Height; y++ {
		off := (w.RowOff+y)*m.Width + w.ColOff
		copy(ret[y*w.Width:(y+1)*w.Width], m.Data[off:off+w.Width])
	}
	return ret
}

// All reports whether every mask value equals v
func (m *Mask) All(v byte) bool {
	for _, mv := range m.Data {
		if mv != v {
			return false
		}
	}
	return true
}

// A MaskPolicy decides how the validity mask of a window is derived. It is one
// of NoDataPolicy, AlphaPolicy or SourceMaskPolicy.
type MaskPolicy interface {
	fmt.Stringer
	// sliceMask fills out with the w.Width*w.Height mask values of window w.
	// data holds the pixels of bands already read for w.
	sliceMask(src Source, w Window, bands []int, data *Buffer, out []byte) error
}

// NoDataPolicy flags as invalid the pixels equal to Value in at least one of
// the converted bands.
type NoDataPolicy struct {
	Value float64
}

func (p NoDataPolicy) String() string {
	return "nodata=" + strconv.FormatFloat(p.Value, 'g', -1, 64)
}

func (p NoDataPolicy) sliceMask(_ Source, _ Window, _ []int, data *Buffer, out []byte) error {
	return data.noDataMask(p.Value, out)
}

// AlphaPolicy uses the values of source band Band as the mask, verbatim.
type AlphaPolicy struct {
	Band int
}

func (p AlphaPolicy) String() string {
	return "alpha=" + strconv.Itoa(p.Band)
}

func (p AlphaPolicy) sliceMask(src Source, w Window, _ []int, _ *Buffer, out []byte) error {
	abuf := &Buffer{DataType: Byte, Bands: 1, Width: w.Width, Height: w.Height, Data: out}
	if err := src.Read(w, []int{p.Band}, abuf); err != nil {
		return fmt.Errorf("read alpha band %d: %w", p.Band, err)
	}
	return nil
}

// SourceMaskPolicy derives validity from the per-band masks of the source: a
// pixel is valid only if it is valid in all the converted bands.
type SourceMaskPolicy struct{}

func (SourceMaskPolicy) String() string {
	return "source"
}

func (SourceMaskPolicy) sliceMask(src Source, w Window, bands []int, _ *Buffer, out []byte) error {
	npix := w.Pixels()
	masks := make([]byte, npix*len(bands))
	if err := src.ReadMasks(w, bands, masks); err != nil {
		return fmt.Errorf("read masks: %w", err)
	}
	for i := 0; i < npix; i++ {
		out[i] = 255
		for b := range bands {
			if masks[b*npix+i] == 0 {
				out[i] = 0
				break
			}
		}
	}
	return nil
}
