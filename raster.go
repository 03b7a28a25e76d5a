package cogeo

import (
	"context"
	"strings"
)

// DefaultBlockSize is the internal tiling used when neither the source nor
// the caller profile set one.
const DefaultBlockSize = 256

// Profile describes how a raster is (or must be) created.
type Profile struct {
	Width, Height int
	Count         int
	DataType      DataType
	// BlockXSize and BlockYSize are the internal tiling of the raster.
	BlockXSize, BlockYSize int
	GeoTransform           *[6]float64
	Projection             string
	NoData                 *float64
	// Options are driver specific creation options, e.g. COMPRESS=DEFLATE
	Options map[string]string
}

// Update returns a copy of p where all the non-zero fields of o take
// precedence. An empty value in o.Options removes the option from the result.
func (p Profile) Update(o Profile) Profile {
	if o.Width > 0 {
		p.Width = o.Width
	}
	if o.Height > 0 {
		p.Height = o.Height
	}
	if o.Count > 0 {
		p.Count = o.Count
	}
	if o.DataType != Unknown {
		p.DataType = o.DataType
	}
	if o.BlockXSize > 0 {
		p.BlockXSize = o.BlockXSize
	}
	if o.BlockYSize > 0 {
		p.BlockYSize = o.BlockYSize
	}
	if o.GeoTransform != nil {
		gt := *o.GeoTransform
		p.GeoTransform = &gt
	}
	if o.Projection != "" {
		p.Projection = o.Projection
	}
	if o.NoData != nil {
		nd := *o.NoData
		p.NoData = &nd
	}
	opts := make(map[string]string, len(p.Options)+len(o.Options))
	for k, v := range p.Options {
		opts[strings.ToUpper(k)] = v
	}
	for k, v := range o.Options {
		if v == "" {
			delete(opts, strings.ToUpper(k))
			continue
		}
		opts[strings.ToUpper(k)] = v
	}
	p.Options = opts
	return p
}

// Source is a read-only raster. Implementations must support concurrent calls
// to Read and ReadMasks.
type Source interface {
	// Size returns the width and height of the raster in pixels
	Size() (int, int)
	BandCount() int
	// DataType takes a 1-based band index
	DataType(band int) DataType
	Profile() Profile
	// Read fills buf with the pixels of bands (1-based) covered by w. buf
	// must hold exactly len(bands) bands of w.Width*w.Height pixels, and
	// pixels are converted to buf.DataType. Parts of w outside of the raster
	// are zero filled.
	Read(w Window, bands []int, buf *Buffer) error
	// ReadMasks fills masks with the validity masks of bands covered by w,
	// band after band. Parts of w outside of the raster are invalid (0).
	ReadMasks(w Window, bands []int, masks []byte) error
	// Tags returns the metadata items of the given namespace, "" being the
	// default one.
	Tags(namespace string) map[string]string
	Close() error
}

// Destination is a raster being written. A Destination is not safe for
// concurrent use.
type Destination interface {
	// Size returns the width and height of the raster in pixels
	Size() (int, int)
	// BlockSize returns the internal tiling of the raster
	BlockSize() (int, int)
	Write(w Window, buf *Buffer) error
	// WriteMask writes the validity mask of the whole raster
	WriteMask(m *Mask) error
	BuildOverviews(levels []int, resampling Resampling) error
	UpdateTags(namespace string, tags map[string]string) error
	// Close flushes the raster. It must be called exactly once.
	Close() error
}

// Driver gives access to rasters on a given storage.
type Driver interface {
	Open(ctx context.Context, name string) (Source, error)
	Create(ctx context.Context, name string, profile Profile) (Destination, error)
}
