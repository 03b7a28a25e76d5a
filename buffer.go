package cogeo

import (
	"fmt"
	"math"
)

// DataType is the type of the pixel values of a raster band
type DataType int

const (
	Unknown DataType = iota
	Byte
	UInt16
	Int16
	UInt32
	Int32
	Float32
	Float64
)

func (dt DataType) String() string {
	switch dt {
	case Byte:
		return "Byte"
	case UInt16:
		return "UInt16"
	case Int16:
		return "Int16"
	case UInt32:
		return "UInt32"
	case Int32:
		return "Int32"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	default:
		return "Unknown"
	}
}

// Size returns the number of bytes of a single pixel value
func (dt DataType) Size() int {
	switch dt {
	case Byte:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

type pixel interface {
	~uint8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~float32 | ~float64
}

// A Buffer holds the pixels of Bands bands of a Width*Height window, stored
// band after band. Data is a []uint8, []uint16, []int16, []uint32, []int32,
// []float32 or []float64 depending on DataType.
type Buffer struct {
	DataType      DataType
	Bands         int
	Width, Height int
	Data          interface{}
}

func makeSlice(dt DataType, n int) (interface{}, error) {
	switch dt {
	case Byte:
		return make([]uint8, n), nil
	case UInt16:
		return make([]uint16, n), nil
	case Int16:
		return make([]int16, n), nil
	case UInt32:
		return make([]uint32, n), nil
	case Int32:
		return make([]int32, n), nil
	case Float32:
		return make([]float32, n), nil
	case Float64:
		return make([]float64, n), nil
	default:
		return nil, fmt.Errorf("unsupported datatype %v", dt)
	}
}

// NewBuffer allocates a zeroed buffer
func NewBuffer(dt DataType, bands, width, height int) (*Buffer, error) {
	data, err := makeSlice(dt, bands*width*height)
	if err != nil {
		return nil, err
	}
	return &Buffer{DataType: dt, Bands: bands, Width: width, Height: height, Data: data}, nil
}

// Len returns the number of values held by the buffer
func (b *Buffer) Len() int {
	return b.Bands * b.Width * b.Height
}

// Reset resizes the buffer to hold bands*width*height values and zeroes it,
// reusing the underlying storage when it is large enough.
func (b *Buffer) Reset(bands, width, height int) {
	n := bands * width * height
	b.Bands, b.Width, b.Height = bands, width, height
	switch d := b.Data.(type) {
	case []uint8:
		b.Data = resize(d, n)
	case []uint16:
		b.Data = resize(d, n)
	case []int16:
		b.Data = resize(d, n)
	case []uint32:
		b.Data = resize(d, n)
	case []int32:
		b.Data = resize(d, n)
	case []float32:
		b.Data = resize(d, n)
	case []float64:
		b.Data = resize(d, n)
	default:
		b.Data, _ = makeSlice(b.DataType, n)
	}
}

func resize[T pixel](d []T, n int) []T {
	if cap(d) < n {
		return make([]T, n)
	}
	d = d[:n]
	clear(d)
	return d
}

// Paste copies src into b with its upper left corner at colOff,rowOff. Parts
// of src falling outside of b are ignored. Both buffers must share the same
// datatype and band count.
func (b *Buffer) Paste(src *Buffer, colOff, rowOff int) error {
	if src.DataType != b.DataType || src.Bands != b.Bands {
		return fmt.Errorf("cannot paste %d bands of %v into %d bands of %v",
			src.Bands, src.DataType, b.Bands, b.DataType)
	}
	dw := Window{Width: b.Width, Height: b.Height}
	sw := Window{ColOff: colOff, RowOff: rowOff, Width: src.Width, Height: src.Height}
	if dw.Intersect(sw).Empty() {
		return nil
	}
	switch d := b.Data.(type) {
	case []uint8:
		paste(d, b, src.Data.([]uint8), src, colOff, rowOff)
	case []uint16:
		paste(d, b, src.Data.([]uint16), src, colOff, rowOff)
	case []int16:
		paste(d, b, src.Data.([]int16), src, colOff, rowOff)
	case []uint32:
		paste(d, b, src.Data.([]uint32), src, colOff, rowOff)
	case []int32:
		paste(d, b, src.Data.([]int32), src, colOff, rowOff)
	case []float32:
		paste(d, b, src.Data.([]float32), src, colOff, rowOff)
	case []float64:
		paste(d, b, src.Data.([]float64), src, colOff, rowOff)
	default:
		return fmt.Errorf("unsupported buffer data %T", b.Data)
	}
	return nil
}

func paste[T pixel](dst []T, db *Buffer, src []T, sb *Buffer, colOff, rowOff int) {
	in := Window{Width: db.Width, Height: db.Height}.Intersect(
		Window{ColOff: colOff, RowOff: rowOff, Width: sb.Width, Height: sb.Height})
	dplane, splane := db.Width*db.Height, sb.Width*sb.Height
	for band := 0; band < db.Bands; band++ {
		for y := in.RowOff; y < in.RowOff+in.Height; y++ {
			doff := band*dplane + y*db.Width + in.ColOff
			soff := band*splane + (y-rowOff)*sb.Width + in.ColOff - colOff
			copy(dst[doff:doff+in.Width], src[soff:soff+in.Width])
		}
	}
}

// noDataValue returns nodata as a T, and false if no T value equals nodata.
// Floating point pixels compare with nodata rounded to their own precision.
func noDataValue[T pixel](nodata float64) (T, bool) {
	half := 0.5
	if T(half) != 0 {
		return T(nodata), true
	}
	if math.IsNaN(nodata) || nodata != math.Trunc(nodata) {
		return 0, false
	}
	v := T(nodata)
	return v, float64(v) == nodata
}

// noDataMask sets out[i] to 0 if pixel i equals nodata in any band, and to
// 255 otherwise. A NaN nodata matches NaN pixels.
func noDataMask[T pixel](data []T, bands int, nodata float64, out []byte) {
	npix := len(out)
	nd, ok := noDataValue[T](nodata)
	if !ok {
		for i := range out {
			out[i] = 255
		}
		return
	}
	nan := math.IsNaN(nodata)
	for i := 0; i < npix; i++ {
		out[i] = 255
		for b := 0; b < bands; b++ {
			v := data[b*npix+i]
			if v == nd || (nan && math.IsNaN(float64(v))) {
				out[i] = 0
				break
			}
		}
	}
}

func (b *Buffer) noDataMask(nodata float64, out []byte) error {
	if len(out) != b.Width*b.Height {
		return fmt.Errorf("mask size %d does not match %dx%d buffer", len(out), b.Width, b.Height)
	}
	switch d := b.Data.(type) {
	case []uint8:
		noDataMask(d, b.Bands, nodata, out)
	case []uint16:
		noDataMask(d, b.Bands, nodata, out)
	case []int16:
		noDataMask(d, b.Bands, nodata, out)
	case []uint32:
		noDataMask(d, b.Bands, nodata, out)
	case []int32:
		noDataMask(d, b.Bands, nodata, out)
	case []float32:
		noDataMask(d, b.Bands, nodata, out)
	case []float64:
		noDataMask(d, b.Bands, nodata, out)
	default:
		return fmt.Errorf("unsupported buffer data %T", b.Data)
	}
	return nil
}

func floats[T pixel](d []T) []float64 {
	f := make([]float64, len(d))
	for i, v := range d {
		f[i] = float64(v)
	}
	return f
}

func (b *Buffer) floats() ([]float64, error) {
	switch d := b.Data.(type) {
	case []uint8:
		return floats(d), nil
	case []uint16:
		return floats(d), nil
	case []int16:
		return floats(d), nil
	case []uint32:
		return floats(d), nil
	case []int32:
		return floats(d), nil
	case []float32:
		return floats(d), nil
	case []float64:
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported buffer data %T", b.Data)
	}
}

// convert stores values into dst. Values going to integer pixels are rounded
// to the nearest integer and clamped to [lo,hi], NaN becoming 0.
func convert[T pixel](dst []T, values []float64, integer bool, lo, hi float64) {
	for i, v := range values {
		if integer {
			switch {
			case math.IsNaN(v):
				v = 0
			case v < lo:
				v = lo
			case v > hi:
				v = hi
			default:
				v = math.Round(v)
			}
		}
		dst[i] = T(v)
	}
}

// Convert returns the pixels of b as dt. b itself is returned if it already
// holds dt pixels.
func (b *Buffer) Convert(dt DataType) (*Buffer, error) {
	if dt == b.DataType {
		return b, nil
	}
	values, err := b.floats()
	if err != nil {
		return nil, err
	}
	out, err := NewBuffer(dt, b.Bands, b.Width, b.Height)
	if err != nil {
		return nil, err
	}
	switch d := out.Data.(type) {
	case []uint8:
		convert(d, values, true, 0, math.MaxUint8)
	case []uint16:
		convert(d, values, true, 0, math.MaxUint16)
	case []int16:
		convert(d, values, true, math.MinInt16, math.MaxInt16)
	case []uint32:
		convert(d, values, true, 0, math.MaxUint32)
	case []int32:
		convert(d, values, true, math.MinInt32, math.MaxInt32)
	case []float32:
		convert(d, values, false, 0, 0)
	case []float64:
		copy(d, values)
	}
	return out, nil
}
