// Package gdalio implements the cogeo raster collaborator on top of GDAL.
package gdalio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/airbusgeo/cogeo"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/osio"
)

// gmfPerDataset is GDAL's GMF_PER_DATASET mask flag
const gmfPerDataset = 0x02

// Driver opens and creates rasters with GDAL. Created rasters are tiled
// GeoTIFFs.
type Driver struct {
	// Handles is the number of datasets opened on a source, i.e. the number of
	// windows that can be read from it concurrently. Defaults to 1.
	Handles int
	// Config are GDAL configuration options (KEY=VALUE) used when opening,
	// creating and building overviews.
	Config []string
}

// RegisterVSI makes GDAL read files starting with prefix (e.g. "gs://")
// through the given adapter.
func RegisterVSI(prefix string, adapter *osio.Adapter) error {
	if err := godal.RegisterVSIHandler(prefix, adapter); err != nil {
		return fmt.Errorf("register %s handler: %w", prefix, err)
	}
	return nil
}

func toGDAL(dt cogeo.DataType) (godal.DataType, error) {
	switch dt {
	case cogeo.Byte:
		return godal.Byte, nil
	case cogeo.UInt16:
		return godal.UInt16, nil
	case cogeo.Int16:
		return godal.Int16, nil
	case cogeo.UInt32:
		return godal.UInt32, nil
	case cogeo.Int32:
		return godal.Int32, nil
	case cogeo.Float32:
		return godal.Float32, nil
	case cogeo.Float64:
		return godal.Float64, nil
	default:
		return godal.Unknown, fmt.Errorf("unsupported datatype %v", dt)
	}
}

func fromGDAL(dt godal.DataType) cogeo.DataType {
	switch dt {
	case godal.Byte:
		return cogeo.Byte
	case godal.UInt16:
		return cogeo.UInt16
	case godal.Int16:
		return cogeo.Int16
	case godal.UInt32:
		return cogeo.UInt32
	case godal.Int32:
		return cogeo.Int32
	case godal.Float32:
		return cogeo.Float32
	case godal.Float64:
		return cogeo.Float64
	default:
		return cogeo.Unknown
	}
}

func resampling(r cogeo.Resampling) (godal.ResamplingAlg, error) {
	switch r {
	case cogeo.Nearest:
		return godal.Nearest, nil
	default:
		return godal.Nearest, fmt.Errorf("unsupported resampling %v", r)
	}
}

type band struct {
	dtype  cogeo.DataType
	nodata float64
	hasND  bool
}

type source struct {
	name    string
	handles chan *godal.Dataset
	all     []*godal.Dataset
	width   int
	height  int
	bands   []band
	profile cogeo.Profile
}

// Open opens name read-only, Handles times.
func (d Driver) Open(_ context.Context, name string) (cogeo.Source, error) {
	n := d.Handles
	if n < 1 {
		n = 1
	}
	s := &source{name: name, handles: make(chan *godal.Dataset, n)}
	for i := 0; i < n; i++ {
		ds, err := godal.Open(name, godal.RasterOnly(), godal.ConfigOption(d.Config...))
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("godal.open %s: %w", name, err)
		}
		s.all = append(s.all, ds)
		s.handles <- ds
	}
	ds := s.all[0]
	st := ds.Structure()
	s.width, s.height = st.SizeX, st.SizeY
	for _, bnd := range ds.Bands() {
		nd, ok := bnd.NoData()
		s.bands = append(s.bands, band{
			dtype:  fromGDAL(bnd.Structure().DataType),
			nodata: nd,
			hasND:  ok,
		})
	}
	s.profile = cogeo.Profile{
		Width:      st.SizeX,
		Height:     st.SizeY,
		Count:      st.NBands,
		DataType:   fromGDAL(st.DataType),
		BlockXSize: st.BlockSizeX,
		BlockYSize: st.BlockSizeY,
		Projection: ds.Projection(),
	}
	if gt, err := ds.GeoTransform(); err == nil {
		s.profile.GeoTransform = &gt
	}
	if len(s.bands) > 0 && s.bands[0].hasND {
		nd := s.bands[0].nodata
		s.profile.NoData = &nd
	}
	return s, nil
}

func (s *source) acquire() *godal.Dataset {
	return <-s.handles
}

func (s *source) release(ds *godal.Dataset) {
	s.handles <- ds
}

func (s *source) Size() (int, int) {
	return s.width, s.height
}

func (s *source) BandCount() int {
	return len(s.bands)
}

func (s *source) DataType(b int) cogeo.DataType {
	if b < 1 || b > len(s.bands) {
		return cogeo.Unknown
	}
	return s.bands[b-1].dtype
}

func (s *source) Profile() cogeo.Profile {
	return s.profile
}

func (s *source) bandIndexes(bands []int) ([]int, error) {
	idx := make([]int, len(bands))
	for i, b := range bands {
		if b < 1 || b > len(s.bands) {
			return nil, fmt.Errorf("band %d out of range [1,%d]", b, len(s.bands))
		}
		idx[i] = b - 1
	}
	return idx, nil
}

func (s *source) bounds() cogeo.Window {
	return cogeo.Window{Width: s.width, Height: s.height}
}

// Read reads the window band interleaved. Windows extending past the raster
// are read as their intersection pasted over zeros.
func (s *source) Read(w cogeo.Window, bands []int, buf *cogeo.Buffer) error {
	idx, err := s.bandIndexes(bands)
	if err != nil {
		return err
	}
	if buf.Bands != len(bands) || buf.Width != w.Width || buf.Height != w.Height {
		return fmt.Errorf("buffer %dx%dx%d does not match window %v of %d bands",
			buf.Width, buf.Height, buf.Bands, w, len(bands))
	}
	in := s.bounds().Intersect(w)
	if in == w {
		if w.Empty() {
			return nil
		}
		ds := s.acquire()
		defer s.release(ds)
		if err := ds.Read(w.ColOff, w.RowOff, buf.Data, w.Width, w.Height,
			godal.Bands(idx...), godal.BandInterleaved()); err != nil {
			return fmt.Errorf("read %v: %w", w, err)
		}
		return nil
	}
	buf.Reset(len(bands), w.Width, w.Height)
	if in.Empty() {
		return nil
	}
	tmp, err := cogeo.NewBuffer(buf.DataType, len(bands), in.Width, in.Height)
	if err != nil {
		return err
	}
	ds := s.acquire()
	err = ds.Read(in.ColOff, in.RowOff, tmp.Data, in.Width, in.Height,
		godal.Bands(idx...), godal.BandInterleaved())
	s.release(ds)
	if err != nil {
		return fmt.Errorf("read %v: %w", in, err)
	}
	return buf.Paste(tmp, in.ColOff-w.ColOff, in.RowOff-w.RowOff)
}

func (s *source) ReadMasks(w cogeo.Window, bands []int, masks []byte) error {
	idx, err := s.bandIndexes(bands)
	if err != nil {
		return err
	}
	npix := w.Pixels()
	if len(masks) != npix*len(bands) {
		return fmt.Errorf("mask buffer of size %d does not match window %v of %d bands", len(masks), w, len(bands))
	}
	in := s.bounds().Intersect(w)
	if in != w {
		for i := range masks {
			masks[i] = 0
		}
	}
	if in.Empty() {
		return nil
	}
	ds := s.acquire()
	defer s.release(ds)
	dsBands := ds.Bands()
	tmp := make([]byte, in.Pixels())
	for i, bi := range idx {
		if err := dsBands[bi].MaskBand().Read(in.ColOff, in.RowOff, tmp, in.Width, in.Height); err != nil {
			return fmt.Errorf("read mask of band %d: %w", bands[i], err)
		}
		out := masks[i*npix : (i+1)*npix]
		for y := 0; y < in.Height; y++ {
			off := (in.RowOff-w.RowOff+y)*w.Width + in.ColOff - w.ColOff
			copy(out[off:off+in.Width], tmp[y*in.Width:(y+1)*in.Width])
		}
	}
	return nil
}

func (s *source) Tags(namespace string) map[string]string {
	ds := s.acquire()
	defer s.release(ds)
	return ds.Metadatas(godal.Domain(namespace))
}

func (s *source) Close() error {
	var errs []string
	for _, ds := range s.all {
		if err := ds.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	s.all = nil
	if len(errs) > 0 {
		return fmt.Errorf("close %s: %s", s.name, strings.Join(errs, ", "))
	}
	return nil
}

type destination struct {
	name   string
	ds     *godal.Dataset
	width  int
	height int
	bw, bh int
	config []string
	closed bool
}

// reserved creation options are always set from the profile
var reserved = map[string]bool{"TILED": true, "BLOCKXSIZE": true, "BLOCKYSIZE": true}

func creationOptions(p cogeo.Profile) []string {
	copts := []string{
		"TILED=YES",
		"BLOCKXSIZE=" + strconv.Itoa(p.BlockXSize),
		"BLOCKYSIZE=" + strconv.Itoa(p.BlockYSize),
	}
	keys := make([]string, 0, len(p.Options))
	for k := range p.Options {
		if !reserved[strings.ToUpper(k)] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		copts = append(copts, strings.ToUpper(k)+"="+p.Options[k])
	}
	return copts
}

// Create creates a tiled GeoTIFF following profile.
func (d Driver) Create(_ context.Context, name string, p cogeo.Profile) (cogeo.Destination, error) {
	if p.Width <= 0 || p.Height <= 0 || p.Count <= 0 {
		return nil, fmt.Errorf("invalid raster size %dx%dx%d", p.Width, p.Height, p.Count)
	}
	if p.BlockXSize <= 0 || p.BlockYSize <= 0 {
		return nil, fmt.Errorf("invalid block size %dx%d", p.BlockXSize, p.BlockYSize)
	}
	dt, err := toGDAL(p.DataType)
	if err != nil {
		return nil, err
	}
	ds, err := godal.Create(godal.GTiff, name, p.Count, dt, p.Width, p.Height,
		godal.CreationOption(creationOptions(p)...), godal.ConfigOption(d.Config...))
	if err != nil {
		return nil, fmt.Errorf("godal.create %s: %w", name, err)
	}
	if p.GeoTransform != nil {
		if err := ds.SetGeoTransform(*p.GeoTransform); err != nil {
			_ = ds.Close()
			return nil, fmt.Errorf("set geotransform: %w", err)
		}
	}
	if p.Projection != "" {
		if err := ds.SetProjection(p.Projection); err != nil {
			_ = ds.Close()
			return nil, fmt.Errorf("set projection: %w", err)
		}
	}
	st := ds.Structure()
	return &destination{
		name:   name,
		ds:     ds,
		width:  st.SizeX,
		height: st.SizeY,
		bw:     st.BlockSizeX,
		bh:     st.BlockSizeY,
		config: d.Config,
	}, nil
}

func (d *destination) Size() (int, int) {
	return d.width, d.height
}

func (d *destination) BlockSize() (int, int) {
	return d.bw, d.bh
}

func (d *destination) Write(w cogeo.Window, buf *cogeo.Buffer) error {
	if buf.Width != w.Width || buf.Height != w.Height {
		return fmt.Errorf("buffer %dx%d does not match window %v", buf.Width, buf.Height, w)
	}
	if w.Empty() {
		return nil
	}
	if err := d.ds.Write(w.ColOff, w.RowOff, buf.Data, w.Width, w.Height, godal.BandInterleaved()); err != nil {
		return fmt.Errorf("write %v: %w", w, err)
	}
	return nil
}

// WriteMask stores m as an internal per-dataset mask.
func (d *destination) WriteMask(m *cogeo.Mask) error {
	if m.Width != d.width || m.Height != d.height {
		return fmt.Errorf("mask %dx%d does not match raster %dx%d", m.Width, m.Height, d.width, d.height)
	}
	config := append(append([]string{}, d.config...), "GDAL_TIFF_INTERNAL_MASK=YES")
	mband, err := d.ds.CreateMaskBand(gmfPerDataset, godal.ConfigOption(config...))
	if err != nil {
		return fmt.Errorf("create mask band: %w", err)
	}
	if len(m.Data) == 0 {
		return nil
	}
	if err := mband.Write(0, 0, m.Data, m.Width, m.Height); err != nil {
		return fmt.Errorf("write mask: %w", err)
	}
	return nil
}

// BuildOverviews builds internal overviews of the image and of its mask. It
// does nothing when levels is empty.
func (d *destination) BuildOverviews(levels []int, r cogeo.Resampling) error {
	if len(levels) == 0 {
		return nil
	}
	alg, err := resampling(r)
	if err != nil {
		return err
	}
	if err := d.ds.BuildOverviews(godal.Levels(levels...), godal.Resampling(alg),
		godal.ConfigOption(d.config...)); err != nil {
		return fmt.Errorf("build overviews %v: %w", levels, err)
	}
	return nil
}

func (d *destination) UpdateTags(namespace string, tags map[string]string) error {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := d.ds.SetMetadata(k, tags[k], godal.Domain(namespace)); err != nil {
			return fmt.Errorf("set %s:%s: %w", namespace, k, err)
		}
	}
	return nil
}

var errClosed = errors.New("already closed")

func (d *destination) Close() error {
	if d.closed {
		return fmt.Errorf("close %s: %w", d.name, errClosed)
	}
	d.closed = true
	if err := d.ds.Close(); err != nil {
		return fmt.Errorf("close %s: %w", d.name, err)
	}
	return nil
}
