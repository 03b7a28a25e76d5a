package cogeo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	subfileTypeNone         = 0
	subfileTypeReducedImage = 1
	subfileTypeMask         = 4
)

const (
	planarConfigurationContig   = 1
	planarConfigurationSeparate = 2
)

// ifd holds the tags of a tiled tiff image that are carried over to the
// rewritten file. Any field added here must also be handled in ifd.fields.
type ifd struct {
	SubfileType               uint32   `tiff:"field,tag=254"`
	ImageWidth                uint64   `tiff:"field,tag=256"`
	ImageLength               uint64   `tiff:"field,tag=257"`
	BitsPerSample             []uint16 `tiff:"field,tag=258"`
	Compression               uint16   `tiff:"field,tag=259"`
	PhotometricInterpretation uint16   `tiff:"field,tag=262"`
	DocumentName              string   `tiff:"field,tag=269"`
	SamplesPerPixel           uint16   `tiff:"field,tag=277"`
	PlanarConfiguration       uint16   `tiff:"field,tag=284"`
	DateTime                  string   `tiff:"field,tag=306"`
	Predictor                 uint16   `tiff:"field,tag=317"`
	Colormap                  []uint16 `tiff:"field,tag=320"`
	TileWidth                 uint16   `tiff:"field,tag=322"`
	TileLength                uint16   `tiff:"field,tag=323"`
	TileOffsets               []uint64 `tiff:"field,tag=324"`
	TileByteCounts            []uint64 `tiff:"field,tag=325"`
	ExtraSamples              []uint16 `tiff:"field,tag=338"`
	SampleFormat              []uint16 `tiff:"field,tag=339"`
	JPEGTables                []byte   `tiff:"field,tag=347"`

	ModelPixelScaleTag     []float64 `tiff:"field,tag=33550"`
	ModelTiePointTag       []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag     []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag     []float64 `tiff:"field,tag=34736"`
	GeoAsciiParamsTag      string    `tiff:"field,tag=34737"`
	GDALMetaData           string    `tiff:"field,tag=42112"`
	NoData                 string    `tiff:"field,tag=42113"`
	LERCParams             []uint32  `tiff:"field,tag=50674"`
	RPCs                   []float64 `tiff:"field,tag=50844"`

	overview *ifd
	masks    []*ifd

	// loadTile fills data with the encoded bytes of tile idx. len(data) is
	// always TileByteCounts[idx].
	loadTile func(idx int, data []byte) error

	newOffsets []uint64
	ntags      uint64
	tagsSize   uint64
	strileSize uint64
}

func (d *ifd) nTilesX() uint64 {
	return (d.ImageWidth + uint64(d.TileWidth) - 1) / uint64(d.TileWidth)
}

func (d *ifd) nTilesY() uint64 {
	return (d.ImageLength + uint64(d.TileLength) - 1) / uint64(d.TileLength)
}

func (d *ifd) nPlanes() uint64 {
	if d.PlanarConfiguration == planarConfigurationSeparate {
		return uint64(d.SamplesPerPixel)
	}
	return 1
}

func (d *ifd) tileIdx(x, y, plane uint64) uint64 {
	ntx, nty := d.nTilesX(), d.nTilesY()
	return plane*ntx*nty + y*ntx + x
}

func (d *ifd) clearGeoTags() {
	d.ModelPixelScaleTag = nil
	d.ModelTiePointTag = nil
	d.ModelTransformationTag = nil
	d.GeoAsciiParamsTag = ""
	d.GeoDoubleParamsTag = nil
	d.GeoKeyDirectoryTag = nil
}

func (d *ifd) addOverview(ovr *ifd) {
	ovr.SubfileType = subfileTypeReducedImage
	ovr.clearGeoTags()
	d.overview = ovr
}

func (d *ifd) addMask(msk *ifd) error {
	if len(msk.masks) > 0 || msk.overview != nil {
		return fmt.Errorf("cannot add mask with overviews or masks")
	}
	switch d.SubfileType {
	case subfileTypeNone:
		msk.SubfileType = subfileTypeMask
	case subfileTypeReducedImage:
		msk.SubfileType = subfileTypeMask | subfileTypeReducedImage
	default:
		return fmt.Errorf("invalid subfiletype %d", d.SubfileType)
	}
	msk.clearGeoTags()
	d.masks = append(d.masks, msk)
	return nil
}

// cog is an ifd tree (full resolution image, its masks, and the chain of
// overviews with their own masks) that is written out with the cloud
// optimized layout: all ifds first, then the tile offsets and bytecounts, then
// the tile data from the smallest overview up to the full resolution, each
// image tile being directly followed by its mask tiles.
type cog struct {
	enc     binary.ByteOrder
	bigtiff bool
	ifd     *ifd
}

func newCOG(enc binary.ByteOrder) *cog {
	return &cog{enc: enc}
}

// each calls fn on every ifd in file order
func (c *cog) each(fn func(d *ifd)) {
	for d := c.ifd; d != nil; d = d.overview {
		fn(d)
		for _, m := range d.masks {
			fn(m)
		}
	}
}

// levels returns the ifds grouped by resolution, smallest first. The first
// ifd of each group is the image, followed by its masks.
func (c *cog) levels() [][]*ifd {
	var lvls [][]*ifd
	for d := c.ifd; d != nil; d = d.overview {
		lvl := append([]*ifd{d}, d.masks...)
		lvls = append([][]*ifd{lvl}, lvls...)
	}
	return lvls
}

// eachTile calls fn for every tile in data order
func (c *cog) eachTile(fn func(d *ifd, idx uint64) error) error {
	for _, lvl := range c.levels() {
		img := lvl[0]
		for y := uint64(0); y < img.nTilesY(); y++ {
			for x := uint64(0); x < img.nTilesX(); x++ {
				for _, d := range lvl {
					for p := uint64(0); p < d.nPlanes(); p++ {
						if err := fn(d, d.tileIdx(x, y, p)); err != nil {
							return err
						}
					}
				}
			}
		}
	}
	return nil
}

func (c *cog) headerSize() uint64 {
	if c.bigtiff {
		return 16
	}
	return 8
}

func (c *cog) computeStructure() {
	c.each(func(d *ifd) {
		d.ntags, d.tagsSize, d.strileSize = d.structure(c.enc, c.bigtiff)
	})
}

// computeImageryOffsets assigns the output offset of every tile, switching to
// bigtiff if the data does not fit in a classic tiff.
func (c *cog) computeImageryOffsets() error {
	c.each(func(d *ifd) {
		d.newOffsets = make([]uint64, len(d.TileByteCounts))
	})
	c.computeStructure()

	dataOffset := c.headerSize()
	c.each(func(d *ifd) {
		dataOffset += d.tagsSize + d.strileSize
	})
	err := c.eachTile(func(d *ifd, idx uint64) error {
		if idx >= uint64(len(d.TileByteCounts)) {
			return fmt.Errorf("tile %d out of range (%d tiles)", idx, len(d.TileByteCounts))
		}
		if d.TileByteCounts[idx] == 0 {
			return nil
		}
		d.newOffsets[idx] = dataOffset
		dataOffset += d.TileByteCounts[idx]
		return nil
	})
	if err != nil {
		return err
	}
	if !c.bigtiff && dataOffset > math.MaxUint32 {
		c.bigtiff = true
		return c.computeImageryOffsets()
	}
	return nil
}

func (c *cog) writeHeader(w io.Writer) error {
	buf := make([]byte, c.headerSize())
	if c.enc == binary.BigEndian {
		copy(buf, "MM")
	} else {
		copy(buf, "II")
	}
	if c.bigtiff {
		c.enc.PutUint16(buf[2:], 43)
		c.enc.PutUint16(buf[4:], 8)
		c.enc.PutUint16(buf[6:], 0)
		c.enc.PutUint64(buf[8:], 16)
	} else {
		c.enc.PutUint16(buf[2:], 42)
		c.enc.PutUint32(buf[4:], 8)
	}
	_, err := w.Write(buf)
	return err
}

func (c *cog) write(out io.Writer) error {
	if c.ifd == nil {
		return fmt.Errorf("no image to write")
	}
	if err := c.computeImageryOffsets(); err != nil {
		return err
	}

	// strile values are placed after all ifds
	striles := &area{Offset: c.headerSize()}
	c.each(func(d *ifd) {
		striles.Offset += d.tagsSize
	})

	if err := c.writeHeader(out); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	var order []*ifd
	c.each(func(d *ifd) { order = append(order, d) })
	off := c.headerSize()
	for i, d := range order {
		next := uint64(0)
		if i < len(order)-1 {
			next = off + d.tagsSize
		}
		if err := c.writeIFD(out, d, off, striles, next); err != nil {
			return fmt.Errorf("write ifd %d: %w", i, err)
		}
		off += d.tagsSize
	}
	if _, err := out.Write(striles.Bytes()); err != nil {
		return fmt.Errorf("write strile pointers: %w", err)
	}

	buf := []byte{}
	return c.eachTile(func(d *ifd, idx uint64) error {
		cnt := d.TileByteCounts[idx]
		if cnt == 0 {
			return nil
		}
		if uint64(cap(buf)) < cnt {
			buf = make([]byte, cnt)
		}
		buf = buf[:cnt]
		if err := d.loadTile(int(idx), buf); err != nil {
			return fmt.Errorf("load tile %d: %w", idx, err)
		}
		if _, err := out.Write(buf); err != nil {
			return fmt.Errorf("write tile %d: %w", idx, err)
		}
		return nil
	})
}

func (c *cog) writeIFD(w io.Writer, d *ifd, offset uint64, striles *area, next uint64) error {
	ff := d.fields(c.enc, c.bigtiff)
	buf := &bytes.Buffer{}
	overflow := &area{Offset: offset + 2 + entrySize(false)*d.ntags + 4}
	if c.bigtiff {
		overflow.Offset = offset + 8 + entrySize(true)*d.ntags + 8
		_ = binary.Write(buf, c.enc, d.ntags)
	} else {
		_ = binary.Write(buf, c.enc, uint16(d.ntags))
	}
	for _, f := range ff {
		if f.strile {
			c.writeEntry(buf, f, striles)
		} else {
			c.writeEntry(buf, f, overflow)
		}
	}
	if c.bigtiff {
		_ = binary.Write(buf, c.enc, next)
	} else {
		_ = binary.Write(buf, c.enc, uint32(next))
	}
	buf.Write(overflow.Bytes())
	if uint64(buf.Len()) != d.tagsSize {
		return fmt.Errorf("BUG: ifd size %d != computed %d", buf.Len(), d.tagsSize)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
