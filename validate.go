package cogeo

import (
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/google/tiff"
)

// maxHeaderIFDOffset is the maximum offset of the first ifd for a file to be
// considered cloud optimized
const maxHeaderIFDOffset = 300

// Report is the outcome of Validate
type Report struct {
	Width, Height         int
	TileWidth, TileHeight int
	Bands                 int
	BigTIFF               bool
	// Overviews are the sizes of the overviews, largest first
	Overviews []Level
	HasMask   bool
	// Tags are the GDAL metadata items of the full resolution image, by
	// namespace. The default namespace is "".
	Tags map[string]map[string]string
	// Errors make the file not cloud optimized
	Errors []string
	// Warnings are deviations from the recommended layout
	Warnings []string
}

// Valid reports whether the file is a valid cloud optimized tiff
func (r *Report) Valid() bool {
	return len(r.Errors) == 0
}

func (r *Report) errorf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

type gdalMetadata struct {
	Items []struct {
		Name   string `xml:"name,attr"`
		Domain string `xml:"domain,attr"`
		Sample string `xml:"sample,attr"`
		Value  string `xml:",chardata"`
	} `xml:"Item"`
}

func parseGDALMetadata(s string) (map[string]map[string]string, error) {
	md := gdalMetadata{}
	if err := xml.Unmarshal([]byte(s), &md); err != nil {
		return nil, err
	}
	tags := map[string]map[string]string{}
	for _, it := range md.Items {
		if it.Sample != "" {
			continue
		}
		if tags[it.Domain] == nil {
			tags[it.Domain] = map[string]string{}
		}
		tags[it.Domain][it.Name] = strings.TrimSpace(it.Value)
	}
	return tags, nil
}

// readHeader returns the offset of the first ifd
func readHeader(r io.ReaderAt) (offset uint64, bigtiff bool, err error) {
	hdr := make([]byte, 16)
	if _, err := r.ReadAt(hdr[:8], 0); err != nil {
		return 0, false, fmt.Errorf("read header: %w", err)
	}
	var enc binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		enc = binary.LittleEndian
	case "MM":
		enc = binary.BigEndian
	default:
		return 0, false, fmt.Errorf("not a tiff file")
	}
	switch enc.Uint16(hdr[2:]) {
	case 42:
		return uint64(enc.Uint32(hdr[4:])), false, nil
	case 43:
		if _, err := r.ReadAt(hdr[8:], 8); err != nil {
			return 0, true, fmt.Errorf("read bigtiff header: %w", err)
		}
		return enc.Uint64(hdr[8:]), true, nil
	default:
		return 0, false, fmt.Errorf("invalid tiff magic %d", enc.Uint16(hdr[2:]))
	}
}

// firstDataOffset returns the smallest non-empty tile offset of d
// overviewFactor returns the decimation factor of a width*height overview of
// a rw*rh raster. Powers of two are preferred when several factors give the
// same overview size.
func overviewFactor(rw, rh, width, height int) int {
	f := (rw + width/2) / width
	p := 1
	for p*2 <= f {
		p *= 2
	}
	if f-p > 2*p-f {
		p *= 2
	}
	for _, c := range []int{p, f} {
		if pyr := NewPyramid(rw, rh, []int{c}); len(pyr) == 1 && pyr[0].Width == width && pyr[0].Height == height {
			return c
		}
	}
	return f
}

func firstDataOffset(d *ifd) uint64 {
	first := uint64(0)
	for i, off := range d.TileOffsets {
		if d.TileByteCounts[i] == 0 {
			continue
		}
		if first == 0 || off < first {
			first = off
		}
	}
	return first
}

// Validate checks that the tiff read from r is laid out as a cloud optimized
// tiff. An error is returned only if r cannot be parsed as a tiff; layout
// problems are listed in the returned report.
func Validate(r tiff.ReadAtReadSeeker) (*Report, error) {
	rep := &Report{Tags: map[string]map[string]string{}}
	hoff, bigtiff, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	rep.BigTIFF = bigtiff
	if hoff > maxHeaderIFDOffset {
		rep.errorf("first ifd at offset %d, expected before %d", hoff, maxHeaderIFDOffset)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind: %w", err)
	}
	tif, err := tiff.Parse(r, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("parse tiff: %w", err)
	}
	tifds := tif.IFDs()
	if len(tifds) == 0 {
		return nil, fmt.Errorf("no ifd")
	}

	var images, masks []*ifd
	for i, tifd := range tifds {
		if err := sanityCheckIFD(tifd); err != nil {
			rep.errorf("ifd %d: %v", i, err)
			continue
		}
		d, err := loadIFD(r, tifd)
		if err != nil {
			rep.errorf("ifd %d: %v", i, err)
			continue
		}
		if d.SubfileType&subfileTypeMask != 0 {
			masks = append(masks, d)
		} else {
			images = append(images, d)
		}
	}
	if len(images) == 0 {
		return rep, nil
	}

	main := images[0]
	if main.SubfileType != subfileTypeNone {
		rep.errorf("first image has subfiletype %d", main.SubfileType)
	}
	rep.Width, rep.Height = int(main.ImageWidth), int(main.ImageLength)
	rep.TileWidth, rep.TileHeight = int(main.TileWidth), int(main.TileLength)
	rep.Bands = int(main.SamplesPerPixel)
	if rep.Bands == 0 {
		rep.Bands = 1
	}
	if main.GDALMetaData != "" {
		tags, err := parseGDALMetadata(main.GDALMetaData)
		if err != nil {
			rep.warnf("invalid gdal metadata: %v", err)
		} else {
			rep.Tags = tags
		}
	}

	for i, ovr := range images[1:] {
		prev := images[i]
		if ovr.ImageWidth == 0 || ovr.ImageLength == 0 {
			rep.errorf("overview %d is empty", i+1)
			continue
		}
		rep.Overviews = append(rep.Overviews, Level{
			Factor: overviewFactor(rep.Width, rep.Height, int(ovr.ImageWidth), int(ovr.ImageLength)),
			Width:  int(ovr.ImageWidth),
			Height: int(ovr.ImageLength),
		})
		if ovr.ImageWidth > prev.ImageWidth || ovr.ImageLength > prev.ImageLength {
			rep.errorf("overview %d (%dx%d) is larger than its predecessor (%dx%d)",
				i+1, ovr.ImageWidth, ovr.ImageLength, prev.ImageWidth, prev.ImageLength)
		}
		if po, oo := firstDataOffset(prev), firstDataOffset(ovr); po != 0 && oo != 0 && oo > po {
			rep.errorf("tile data of overview %d is stored after the data of its predecessor", i+1)
		}
	}
	if len(images) == 1 && (main.ImageWidth > uint64(main.TileWidth) || main.ImageLength > uint64(main.TileLength)) {
		rep.errorf("%dx%d image is larger than a %dx%d tile but has no overviews",
			main.ImageWidth, main.ImageLength, main.TileWidth, main.TileLength)
	}

	for _, m := range masks {
		found := false
		for _, img := range images {
			if img.ImageWidth == m.ImageWidth && img.ImageLength == m.ImageLength &&
				img.TileWidth == m.TileWidth && img.TileLength == m.TileLength {
				found = true
				if m.SubfileType&subfileTypeReducedImage != img.SubfileType&subfileTypeReducedImage {
					rep.errorf("%dx%d mask has subfiletype %d", m.ImageWidth, m.ImageLength, m.SubfileType)
				}
				break
			}
		}
		if !found {
			rep.errorf("%dx%d mask does not match the size or tiling of any image", m.ImageWidth, m.ImageLength)
		}
		if m.SubfileType == subfileTypeMask {
			rep.HasMask = true
		}
	}
	if !rep.HasMask {
		rep.warnf("no internal mask")
	}
	if rep.Tags[OverviewNamespace][ResamplingTag] == "" && len(rep.Overviews) > 0 {
		rep.warnf("no %s %s tag", OverviewNamespace, ResamplingTag)
	}
	return rep, nil
}
