package cogeo

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
)

// Rewrite writes to out a cloud optimized version of the tiled tiff read
// from readers[0]. Additional readers are taken as external overviews (each
// one possibly with its masks) of the first one.
//
// Tile data is copied verbatim, i.e. the compression and tiling of the inputs
// are kept untouched. The output is a bigtiff only if it would not fit in a
// classic tiff.
func Rewrite(out io.Writer, readers ...tiff.ReadAtReadSeeker) error {
	if len(readers) == 0 {
		return fmt.Errorf("missing readers")
	}
	tiffs := make([]tiff.TIFF, len(readers))
	for i, r := range readers {
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind tiff %d: %w", i, err)
		}
		tif, err := tiff.Parse(r, nil, nil)
		if err != nil {
			return fmt.Errorf("parse tiff %d: %w", i, err)
		}
		tiffs[i] = tif
	}
	if err := sanityCheck(tiffs); err != nil {
		return fmt.Errorf("consistency check: %w", err)
	}
	c, err := loadTIFFs(tiffs, readers)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if err = c.write(out); err != nil {
		return fmt.Errorf("cog write: %w", err)
	}
	return nil
}

func byteOrder(tif tiff.TIFF) binary.ByteOrder {
	if tif.Order() == "MM" {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// loadTIFFs builds the ifd tree from the parsed tiffs. When more than one tiff
// is given, the ones after the first are overviews and must not contain
// overviews themselves.
func loadTIFFs(tiffs []tiff.TIFF, readers []tiff.ReadAtReadSeeker) (*cog, error) {
	c := newCOG(byteOrder(tiffs[0]))
	ifds := []*ifd{}
	for it, tif := range tiffs {
		for i, tifd := range tif.IFDs() {
			d, err := loadIFD(readers[it], tifd)
			if err != nil {
				return nil, fmt.Errorf("tif %d ifd %d: %w", it, i, err)
			}
			if len(tiffs) > 1 {
				if d.SubfileType&subfileTypeReducedImage != 0 {
					return nil, fmt.Errorf("cannot load multiple tifs if they contain overviews")
				}
				if it != 0 {
					d.SubfileType |= subfileTypeReducedImage
				}
			}
			ifds = append(ifds, d)
		}
	}
	// fullres, fullres masks, ovr1, ovr1 masks, ovr2, ...
	sort.SliceStable(ifds, func(i, j int) bool {
		if ifds[i].ImageLength != ifds[j].ImageLength {
			return ifds[i].ImageLength > ifds[j].ImageLength
		}
		return ifds[i].SubfileType < ifds[j].SubfileType
	})
	if ifds[0].SubfileType != subfileTypeNone {
		return nil, fmt.Errorf("failed sort: first px=%d type=%d", ifds[0].ImageLength, ifds[0].SubfileType)
	}
	c.ifd = ifds[0]
	cur := c.ifd
	for _, d := range ifds[1:] {
		if d.ImageLength == cur.ImageLength {
			if d.SubfileType&subfileTypeMask == 0 {
				return nil, fmt.Errorf("two images of height %d", d.ImageLength)
			}
			if err := cur.addMask(d); err != nil {
				return nil, err
			}
			continue
		}
		if d.SubfileType&subfileTypeMask != 0 {
			return nil, fmt.Errorf("mask of height %d has no matching image", d.ImageLength)
		}
		cur.addOverview(d)
		cur = d
	}
	return c, nil
}

func loadIFD(r io.ReaderAt, tifd tiff.IFD) (*ifd, error) {
	d := &ifd{}
	if err := tiff.UnmarshalIFD(tifd, d); err != nil {
		return nil, err
	}
	for _, s := range []*string{&d.DocumentName, &d.DateTime, &d.GeoAsciiParamsTag, &d.GDALMetaData, &d.NoData} {
		*s = strings.TrimRight(*s, "\x00")
	}
	if d.TileWidth == 0 || d.TileLength == 0 {
		return nil, fmt.Errorf("invalid tile size %dx%d", d.TileWidth, d.TileLength)
	}
	if n := d.nTilesX() * d.nTilesY() * d.nPlanes(); n != uint64(len(d.TileByteCounts)) {
		return nil, fmt.Errorf("inconsistent tile count %d, expected %d", len(d.TileByteCounts), n)
	}
	offsets := d.TileOffsets
	counts := d.TileByteCounts
	d.loadTile = func(idx int, data []byte) error {
		if idx >= len(counts) || len(data) != int(counts[idx]) {
			return fmt.Errorf("BUG: len(data)!=TileByteCounts[%d]", idx)
		}
		if _, err := r.ReadAt(data, int64(offsets[idx])); err != nil {
			return fmt.Errorf("readat len=%d from %d: %w", len(data), offsets[idx], err)
		}
		return nil
	}
	return d, nil
}

func sanityCheck(tiffs []tiff.TIFF) error {
	if len(tiffs) == 0 {
		return fmt.Errorf("no tiffs")
	}
	order := tiffs[0].Order()
	if order != "MM" && order != "II" {
		return fmt.Errorf("unknown byte order")
	}
	for it, tif := range tiffs {
		if tif.Order() != order {
			return fmt.Errorf("inconsistent byte order")
		}
		if len(tif.IFDs()) == 0 {
			return fmt.Errorf("tif %d has no ifd", it)
		}
		for ii, tifd := range tif.IFDs() {
			if err := sanityCheckIFD(tifd); err != nil {
				return fmt.Errorf("tif %d ifd %d: %w", it, ii, err)
			}
		}
	}
	return nil
}

func sanityCheckIFD(tifd tiff.IFD) error {
	to := tifd.GetField(324)
	tl := tifd.GetField(325)
	if to == nil || tl == nil {
		return fmt.Errorf("no tiles")
	}
	if to.Count() != tl.Count() {
		return fmt.Errorf("inconsistent tile off/len count")
	}
	so := tifd.GetField(273)
	sl := tifd.GetField(279)
	if so != nil || sl != nil {
		return fmt.Errorf("tif has strips")
	}
	return nil
}
