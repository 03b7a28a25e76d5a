package cogeo

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// memRaster is an in-memory raster used to exercise the converter without
// any raster library.
type memRaster struct {
	width, height int
	dtypes        []DataType
	bands         [][]float64
	nodata        []*float64
	// masks are explicit per-band masks. A nil mask is derived from nodata.
	masks   [][]byte
	profile Profile
	tags    map[string]map[string]string
}

func newMemRaster(width, height, nbands int, dt DataType, fill func(band, x, y int) float64) *memRaster {
	r := &memRaster{
		width:  width,
		height: height,
		dtypes: make([]DataType, nbands),
		bands:  make([][]float64, nbands),
		nodata: make([]*float64, nbands),
		masks:  make([][]byte, nbands),
		tags:   map[string]map[string]string{},
	}
	for b := range r.bands {
		r.dtypes[b] = dt
		r.bands[b] = make([]float64, width*height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r.bands[b][y*width+x] = fill(b+1, x, y)
			}
		}
	}
	r.profile = Profile{Width: width, Height: height, Count: nbands, DataType: dt,
		Options: map[string]string{"INTERLEAVE": "PIXEL"}}
	return r
}

type memSource struct {
	r      *memRaster
	closed int
}

func (s *memSource) Size() (int, int) { return s.r.width, s.r.height }
func (s *memSource) BandCount() int { return len(s.r.bands) }
func (s *memSource) DataType(b int) DataType { return s.r.dtypes[b-1] }
func (s *memSource) Profile() Profile { return s.r.profile }

func (s *memSource) Tags(ns string) map[string]string {
	return s.r.tags[ns]
}

func (s *memSource) Close() error {
	s.closed++
	return nil
}

func setValue(buf *Buffer, i int, v float64) {
	switch d := buf.Data.(type) {
	case []uint8:
		d[i] = uint8(v)
	case []uint16:
		d[i] = uint16(v)
	case []int16:
		d[i] = int16(v)
	case []uint32:
		d[i] = uint32(v)
	case []int32:
		d[i] = int32(v)
	case []float32:
		d[i] = float32(v)
	case []float64:
		d[i] = v
	}
}

func getValue(buf *Buffer, i int) float64 {
	switch d := buf.Data.(type) {
	case []uint8:
		return float64(d[i])
	case []uint16:
		return float64(d[i])
	case []int16:
		return float64(d[i])
	case []uint32:
		return float64(d[i])
	case []int32:
		return float64(d[i])
	case []float32:
		return float64(d[i])
	case []float64:
		return d[i]
	}
	panic("unsupported buffer")
}

func (s *memSource) Read(w Window, bands []int, buf *Buffer) error {
	if buf.Bands != len(bands) || buf.Width != w.Width || buf.Height != w.Height {
		return fmt.Errorf("buffer does not match window")
	}
	npix := w.Pixels()
	for bi, b := range bands {
		if b < 1 || b > len(s.r.bands) {
			return fmt.Errorf("invalid band %d", b)
		}
		for y := 0; y < w.Height; y++ {
			for x := 0; x < w.Width; x++ {
				sx, sy := w.ColOff+x, w.RowOff+y
				v := 0.0
				if sx >= 0 && sy >= 0 && sx < s.r.width && sy < s.r.height {
					v = s.r.bands[b-1][sy*s.r.width+sx]
				}
				setValue(buf, bi*npix+y*w.Width+x, v)
			}
		}
	}
	return nil
}

func (s *memSource) ReadMasks(w Window, bands []int, masks []byte) error {
	npix := w.Pixels()
	if len(masks) != npix*len(bands) {
		return fmt.Errorf("mask buffer does not match window")
	}
	for bi, b := range bands {
		for y := 0; y < w.Height; y++ {
			for x := 0; x < w.Width; x++ {
				sx, sy := w.ColOff+x, w.RowOff+y
				m := byte(0)
				if sx >= 0 && sy >= 0 && sx < s.r.width && sy < s.r.height {
					idx := sy*s.r.width + sx
					switch {
					case s.r.masks[b-1] != nil:
						m = s.r.masks[b-1][idx]
					case s.r.nodata[b-1] != nil && s.r.bands[b-1][idx] == *s.r.nodata[b-1]:
						m = 0
					default:
						m = 255
					}
				}
				masks[bi*npix+y*w.Width+x] = m
			}
		}
	}
	return nil
}

type memDest struct {
	profile   Profile
	bands     [][]float64
	writes    int
	mask      *Mask
	overviews Pyramid
	ovrData   [][][]float64
	tags      map[string]map[string]string
	closed    int

	failWrite    error
	failOverview error
}

func (d *memDest) Size() (int, int) { return d.profile.Width, d.profile.Height }
func (d *memDest) BlockSize() (int, int) { return d.profile.BlockXSize, d.profile.BlockYSize }

func (d *memDest) Write(w Window, buf *Buffer) error {
	if d.failWrite != nil {
		return d.failWrite
	}
	if d.closed > 0 {
		return fmt.Errorf("write after close")
	}
	if buf.Bands != len(d.bands) {
		return fmt.Errorf("got %d bands, expected %d", buf.Bands, len(d.bands))
	}
	npix := w.Pixels()
	for b := range d.bands {
		for y := 0; y < w.Height; y++ {
			for x := 0; x < w.Width; x++ {
				d.bands[b][(w.RowOff+y)*d.profile.Width+w.ColOff+x] = getValue(buf, b*npix+y*w.Width+x)
			}
		}
	}
	d.writes++
	return nil
}

func (d *memDest) WriteMask(m *Mask) error {
	if m.Width != d.profile.Width || m.Height != d.profile.Height {
		return fmt.Errorf("mask size mismatch")
	}
	d.mask = &Mask{Width: m.Width, Height: m.Height, Data: append([]byte(nil), m.Data...)}
	return nil
}

func (d *memDest) BuildOverviews(levels []int, resampling Resampling) error {
	if d.failOverview != nil {
		return d.failOverview
	}
	if resampling != Nearest {
		return fmt.Errorf("unsupported resampling %v", resampling)
	}
	w := d.profile.Width
	d.overviews = NewPyramid(w, d.profile.Height, levels)
	for _, lvl := range d.overviews {
		data := make([][]float64, len(d.bands))
		for b := range d.bands {
			data[b] = make([]float64, lvl.Width*lvl.Height)
			for y := 0; y < lvl.Height; y++ {
				for x := 0; x < lvl.Width; x++ {
					data[b][y*lvl.Width+x] = d.bands[b][y*lvl.Factor*w+x*lvl.Factor]
				}
			}
		}
		d.ovrData = append(d.ovrData, data)
	}
	return nil
}

func (d *memDest) UpdateTags(ns string, tags map[string]string) error {
	if d.tags[ns] == nil {
		d.tags[ns] = map[string]string{}
	}
	for k, v := range tags {
		d.tags[ns][k] = v
	}
	return nil
}

func (d *memDest) Close() error {
	d.closed++
	return nil
}

type memDriver struct {
	mu      sync.Mutex
	rasters map[string]*memRaster
	sources map[string]*memSource
	created map[string]*memDest

	failCreate   error
	failWrite    error
	failOverview error
}

func newMemDriver() *memDriver {
	return &memDriver{
		rasters: map[string]*memRaster{},
		sources: map[string]*memSource{},
		created: map[string]*memDest{},
	}
}

func (m *memDriver) Open(_ context.Context, name string) (Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rasters[name]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, os.ErrNotExist)
	}
	s := &memSource{r: r}
	m.sources[name] = s
	return s, nil
}

func (m *memDriver) Create(_ context.Context, name string, p Profile) (Destination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return nil, m.failCreate
	}
	d := &memDest{
		profile:      p,
		bands:        make([][]float64, p.Count),
		tags:         map[string]map[string]string{},
		failWrite:    m.failWrite,
		failOverview: m.failOverview,
	}
	for b := range d.bands {
		d.bands[b] = make([]float64, p.Width*p.Height)
	}
	m.created[name] = d
	return d, nil
}
