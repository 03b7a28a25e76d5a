package cogeo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Convert creates output as a cloud optimized copy of input, i.e. an internally
// tiled raster with an internal validity mask and overviews.
//
// profile overrides the source profile for the creation of output. Its Count
// is ignored, output always has one band per selected band, and its NoData
// is always removed.
//
// On error, output must be considered invalid and discarded. If the returned
// error is ErrSourceOpen or the band selection is invalid, output has not been
// created.
func Convert(ctx context.Context, drv Driver, input, output string, profile Profile, options ...Option) error {
	c, err := NewConverter(options...)
	if err != nil {
		return err
	}
	return c.Convert(ctx, drv, input, output, profile)
}

// plan is everything that is resolved before the output is created
type plan struct {
	bands   []int
	policy  MaskPolicy
	profile Profile
	depth   int
	// readType is the datatype windows are read as. Pixels are compared to
	// the no-data value in their source datatype.
	readType DataType
}

func (c *Converter) plan(src Source, profile Profile) (*plan, error) {
	n := src.BandCount()
	p := &plan{bands: c.bands, policy: c.maskPolicy()}
	if len(p.bands) == 0 {
		p.bands = make([]int, n)
		for i := range p.bands {
			p.bands[i] = i + 1
		}
	}
	if len(p.bands) == 0 {
		return nil, newError(ErrProfileConflict, "bands", ErrInvalidOption{"source has no band"})
	}
	for _, b := range p.bands {
		if b > n {
			return nil, newError(ErrProfileConflict, "bands",
				ErrInvalidOption{fmt.Sprintf("band %d out of range [1,%d]", b, n)})
		}
	}
	switch pol := p.policy.(type) {
	case AlphaPolicy:
		if pol.Band > n {
			return nil, newError(ErrProfileConflict, "alpha",
				ErrInvalidOption{fmt.Sprintf("alpha band %d out of range [1,%d]", pol.Band, n)})
		}
	case NoDataPolicy:
		dt := src.DataType(p.bands[0])
		for _, b := range p.bands[1:] {
			if src.DataType(b) != dt {
				return nil, newError(ErrProfileConflict, "nodata",
					fmt.Errorf("band %d is %v, band %d is %v", p.bands[0], dt, b, src.DataType(b)))
			}
		}
	}
	dp := src.Profile().Update(profile)
	dp.Count = len(p.bands)
	dp.NoData = nil
	delete(dp.Options, "ALPHA")
	if profile.DataType == Unknown {
		dp.DataType = src.DataType(p.bands[0])
	}
	// the source tiling (e.g. single line strips) says nothing about the
	// output tiling
	dp.BlockXSize, dp.BlockYSize = profile.BlockXSize, profile.BlockYSize
	if dp.BlockXSize <= 0 {
		dp.BlockXSize = DefaultBlockSize
	}
	if dp.BlockYSize <= 0 {
		dp.BlockYSize = DefaultBlockSize
	}
	p.profile = dp
	p.readType = dp.DataType
	if _, ok := p.policy.(NoDataPolicy); ok {
		p.readType = src.DataType(p.bands[0])
	}

	p.depth = c.overviewLevel
	if p.depth == AutoOverviewLevel {
		p.depth = AutoOverviewDepth(dp.Width, dp.Height, dp.BlockXSize, dp.BlockYSize)
	}
	return p, nil
}

// Convert creates output as a cloud optimized copy of input. See the package
// level Convert function.
func (c *Converter) Convert(ctx context.Context, drv Driver, input, output string, profile Profile) (err error) {
	logger := Logger(ctx).With(zap.String("input", input), zap.String("output", output))
	start := time.Now()

	src, err := drv.Open(ctx, input)
	if err != nil {
		return newError(ErrSourceOpen, "open "+input, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn("close source", zap.Error(cerr))
		}
	}()

	p, err := c.plan(src, profile)
	if err != nil {
		return err
	}
	logger.Debug("source opened",
		zap.Ints("bands", p.bands),
		zap.Stringer("mask", p.policy),
		zap.Stringer("datatype", p.profile.DataType))

	dst, err := drv.Create(ctx, output, p.profile)
	if err != nil {
		return newError(ErrProfileConflict, "create "+output, err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = newError(ErrBlockIO, "close "+output, cerr)
		}
	}()

	if tags := src.Tags(""); len(tags) > 0 {
		if err = dst.UpdateTags("", tags); err != nil {
			return newError(ErrBlockIO, "copy tags", err)
		}
	}

	w, h := dst.Size()
	mask := NewMask(w, h)
	if err = c.transfer(ctx, src, dst, p, mask); err != nil {
		return err
	}
	if err = dst.WriteMask(mask); err != nil {
		return newError(ErrBlockIO, "write mask", err)
	}

	levels := OverviewLevels(p.depth)
	logger.Debug("building overviews", zap.Ints("levels", levels))
	if err = dst.BuildOverviews(levels, Nearest); err != nil {
		return newError(ErrOverview, "build overviews", err)
	}
	if err = dst.UpdateTags(OverviewNamespace, map[string]string{ResamplingTag: Nearest.String()}); err != nil {
		return newError(ErrOverview, "update tags", err)
	}
	logger.Debug("converted", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// transfer copies every block window of the destination from src, and fills
// mask accordingly.
func (c *Converter) transfer(ctx context.Context, src Source, dst Destination, p *plan, mask *Mask) error {
	w, h := dst.Size()
	bw, bh := dst.BlockSize()
	if bw <= 0 || bh <= 0 {
		bw, bh = p.profile.BlockXSize, p.profile.BlockYSize
	}
	windows := BlockWindows(w, h, bw, bh)
	Logger(ctx).Debug("transferring windows", zap.Int("count", len(windows)),
		zap.Int("blockx", bw), zap.Int("blocky", bh), zap.Int("workers", c.workers))

	var mu sync.Mutex
	done := 0
	commit := func(win Window, buf *Buffer, slice []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if err := dst.Write(win, buf); err != nil {
			return fmt.Errorf("write %v: %w", win, err)
		}
		if err := mask.Paste(win, slice); err != nil {
			return fmt.Errorf("mask %v: %w", win, err)
		}
		done++
		if c.progress != nil {
			c.progress(done, len(windows))
		}
		return nil
	}

	if c.workers <= 1 {
		for _, win := range windows {
			if err := ctx.Err(); err != nil {
				return newError(ErrBlockIO, "transfer", err)
			}
			buf, slice, err := readWindow(src, p, win)
			if err != nil {
				return newError(ErrBlockIO, "transfer", err)
			}
			if err := commit(win, buf, slice); err != nil {
				return newError(ErrBlockIO, "transfer", err)
			}
		}
		return nil
	}

	wp := pool.New().WithMaxGoroutines(c.workers).WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, win := range windows {
		win := win
		wp.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			buf, slice, err := readWindow(src, p, win)
			if err != nil {
				return err
			}
			return commit(win, buf, slice)
		})
	}
	if err := wp.Wait(); err != nil {
		return newError(ErrBlockIO, "transfer", err)
	}
	return nil
}

// readWindow reads the selected bands of win and computes its mask slice. The
// returned buffer holds destination datatype pixels.
func readWindow(src Source, p *plan, win Window) (*Buffer, []byte, error) {
	buf, err := NewBuffer(p.readType, len(p.bands), win.Width, win.Height)
	if err != nil {
		return nil, nil, err
	}
	if err := src.Read(win, p.bands, buf); err != nil {
		return nil, nil, fmt.Errorf("read %v: %w", win, err)
	}
	slice := make([]byte, win.Pixels())
	if err := p.policy.sliceMask(src, win, p.bands, buf, slice); err != nil {
		return nil, nil, fmt.Errorf("mask %v: %w", win, err)
	}
	if buf, err = buf.Convert(p.profile.DataType); err != nil {
		return nil, nil, fmt.Errorf("convert %v: %w", win, err)
	}
	return buf, slice, nil
}
