package cogeo

import "fmt"

// AutoOverviewLevel makes the converter create as many overviews as needed
// for the smallest one to fit in a single block.
const AutoOverviewLevel = -1

const maxOverviewLevel = 30

// A Converter turns rasters into cloud optimized rasters. A Converter holds
// no state between conversions and may be used concurrently.
type Converter struct {
	bands         []int
	nodata        *float64
	alpha         int
	overviewLevel int
	workers       int
	progress      func(done, total int)
	tempDir       string
}

// Option configures a Converter
type Option func(c *Converter) error

// Bands selects the 1-based source bands to convert, in output order. By
// default all the source bands are converted.
func Bands(bands ...int) Option {
	return func(c *Converter) error {
		if len(bands) == 0 {
			return ErrInvalidOption{"band selection must not be empty"}
		}
		for _, b := range bands {
			if b < 1 {
				return ErrInvalidOption{fmt.Sprintf("invalid band index %d, must be >=1", b)}
			}
		}
		c.bands = append([]int(nil), bands...)
		return nil
	}
}

// NoData computes the mask by flagging pixels equal to value in any of the
// converted bands. Cannot be used together with Alpha.
func NoData(value float64) Option {
	return func(c *Converter) error {
		c.nodata = &value
		return nil
	}
}

// Alpha uses the 1-based source band as the mask. Cannot be used together
// with NoData.
func Alpha(band int) Option {
	return func(c *Converter) error {
		if band < 1 {
			return ErrInvalidOption{fmt.Sprintf("invalid alpha band %d, must be >=1", band)}
		}
		c.alpha = band
		return nil
	}
}

// OverviewLevel sets the number of overviews to create, i.e. overviews will be
// created with decimation factors 2, 4, ..., 2^level. Defaults to 6. Use
// AutoOverviewLevel to compute it from the raster and block sizes.
func OverviewLevel(level int) Option {
	return func(c *Converter) error {
		if level < AutoOverviewLevel || level > maxOverviewLevel {
			return ErrInvalidOption{fmt.Sprintf("overview level must be AutoOverviewLevel or in [0,%d]", maxOverviewLevel)}
		}
		c.overviewLevel = level
		return nil
	}
}

// Workers sets the number of windows that are read concurrently. Writes to
// the output are always serialized.
func Workers(n int) Option {
	return func(c *Converter) error {
		if n < 1 {
			return ErrInvalidOption{"worker count must be >=1"}
		}
		c.workers = n
		return nil
	}
}

// Progress registers a function called after each transferred window
func Progress(fn func(done, total int)) Option {
	return func(c *Converter) error {
		c.progress = fn
		return nil
	}
}

// TempDir sets the directory where Create stages its intermediate file.
// Defaults to os.TempDir().
func TempDir(dir string) Option {
	return func(c *Converter) error {
		c.tempDir = dir
		return nil
	}
}

// NewConverter creates a Converter. By default all bands are converted, the
// mask is taken from the source and 6 overviews are built with a single
// worker.
func NewConverter(options ...Option) (*Converter, error) {
	c := &Converter{
		overviewLevel: DefaultOverviewLevel,
		workers:       1,
	}
	for _, o := range options {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	if c.nodata != nil && c.alpha != 0 {
		return nil, ErrInvalidOption{"nodata and alpha are mutually exclusive"}
	}
	return c, nil
}

func (c *Converter) maskPolicy() MaskPolicy {
	switch {
	case c.nodata != nil:
		return NoDataPolicy{Value: *c.nodata}
	case c.alpha != 0:
		return AlphaPolicy{Band: c.alpha}
	default:
		return SourceMaskPolicy{}
	}
}
