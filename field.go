package cogeo

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// tiff field types
const (
	tByte      = 1
	tASCII     = 2
	tShort     = 3
	tLong      = 4
	tUndefined = 7
	tDouble    = 12
	tLong8     = 16
)

// A field is a single tag of an ifd, with its value already encoded in the
// output byte order.
type field struct {
	tag   uint16
	typ   uint16
	count uint64
	data  []byte
	// strile fields are stored in the strile area that follows all the ifds,
	// other fields overflow right after their ifd
	strile bool
}

func entrySize(bigtiff bool) uint64 {
	if bigtiff {
		return 20
	}
	return 12
}

func inlineSize(bigtiff bool) int {
	if bigtiff {
		return 8
	}
	return 4
}

// external returns the number of bytes needed outside of the ifd entry to
// store the field value, or 0 if the value fits in the entry.
func (f field) external(bigtiff bool) uint64 {
	if len(f.data) <= inlineSize(bigtiff) {
		return 0
	}
	return uint64(len(f.data) + len(f.data)%2)
}

func encodeField(enc binary.ByteOrder, tag uint16, value interface{}) field {
	f := field{tag: tag}
	buf := bytes.Buffer{}
	switch v := value.(type) {
	case uint16:
		f.typ, f.count = tShort, 1
	case uint32:
		f.typ, f.count = tLong, 1
	case []uint16:
		f.typ, f.count = tShort, uint64(len(v))
	case []uint32:
		f.typ, f.count = tLong, uint64(len(v))
	case []uint64:
		f.typ, f.count = tLong8, uint64(len(v))
	case []byte:
		f.typ, f.count = tUndefined, uint64(len(v))
	case []float64:
		f.typ, f.count = tDouble, uint64(len(v))
	case string:
		f.typ, f.count = tASCII, uint64(len(v)+1)
		buf.WriteString(v)
		buf.WriteByte(0)
		f.data = buf.Bytes()
		return f
	default:
		panic(fmt.Sprintf("unsupported field type %T", value))
	}
	// writes to a bytes.Buffer cannot fail for these fixed size types
	_ = binary.Write(&buf, enc, value)
	f.data = buf.Bytes()
	return f
}

// encodeOffsets encodes offsets or bytecounts as LONG8 for bigtiff, LONG
// otherwise. Values must have been checked to fit in 32 bits for classic tiffs.
func encodeOffsets(enc binary.ByteOrder, tag uint16, values []uint64, bigtiff bool) field {
	var f field
	if bigtiff {
		f = encodeField(enc, tag, values)
	} else {
		v32 := make([]uint32, len(values))
		for i, v := range values {
			v32[i] = uint32(v)
		}
		f = encodeField(enc, tag, v32)
	}
	f.strile = true
	return f
}

// fields returns the tags of the ifd, sorted by increasing tag number.
func (d *ifd) fields(enc binary.ByteOrder, bigtiff bool) []field {
	ff := make([]field, 0, 32)
	add := func(tag uint16, value interface{}) {
		ff = append(ff, encodeField(enc, tag, value))
	}
	if d.SubfileType > 0 {
		add(254, d.SubfileType)
	}
	add(256, uint32(d.ImageWidth))
	add(257, uint32(d.ImageLength))
	if len(d.BitsPerSample) > 0 {
		add(258, d.BitsPerSample)
	}
	if d.Compression > 0 {
		add(259, d.Compression)
	}
	add(262, d.PhotometricInterpretation)
	if d.DocumentName != "" {
		add(269, d.DocumentName)
	}
	if d.SamplesPerPixel > 0 {
		add(277, d.SamplesPerPixel)
	}
	if d.PlanarConfiguration > 0 {
		add(284, d.PlanarConfiguration)
	}
	if d.DateTime != "" {
		add(306, d.DateTime)
	}
	if d.Predictor > 0 {
		add(317, d.Predictor)
	}
	if len(d.Colormap) > 0 {
		add(320, d.Colormap)
	}
	add(322, d.TileWidth)
	add(323, d.TileLength)
	ff = append(ff, encodeOffsets(enc, 324, d.newOffsets, bigtiff))
	ff = append(ff, encodeOffsets(enc, 325, d.TileByteCounts, bigtiff))
	if len(d.ExtraSamples) > 0 {
		add(338, d.ExtraSamples)
	}
	if len(d.SampleFormat) > 0 {
		add(339, d.SampleFormat)
	}
	if len(d.JPEGTables) > 0 {
		add(347, d.JPEGTables)
	}
	if len(d.ModelPixelScaleTag) > 0 {
		add(33550, d.ModelPixelScaleTag)
	}
	if len(d.ModelTiePointTag) > 0 {
		add(33922, d.ModelTiePointTag)
	}
	if len(d.ModelTransformationTag) > 0 {
		add(34264, d.ModelTransformationTag)
	}
	if len(d.GeoKeyDirectoryTag) > 0 {
		add(34735, d.GeoKeyDirectoryTag)
	}
	if len(d.GeoDoubleParamsTag) > 0 {
		add(34736, d.GeoDoubleParamsTag)
	}
	if d.GeoAsciiParamsTag != "" {
		add(34737, d.GeoAsciiParamsTag)
	}
	if d.GDALMetaData != "" {
		add(42112, d.GDALMetaData)
	}
	if d.NoData != "" {
		add(42113, d.NoData)
	}
	if len(d.LERCParams) > 0 {
		add(50674, d.LERCParams)
	}
	if len(d.RPCs) > 0 {
		add(50844, d.RPCs)
	}
	return ff
}

// structure computes the number of tags of the ifd, the number of bytes
// needed to store it with its overflowing values, and the number of bytes it
// needs in the strile area.
func (d *ifd) structure(enc binary.ByteOrder, bigtiff bool) (ntags, size, strileSize uint64) {
	ff := d.fields(enc, bigtiff)
	ntags = uint64(len(ff))
	size = 2 + 4 + ntags*entrySize(bigtiff)
	if bigtiff {
		size = 8 + 8 + ntags*entrySize(bigtiff)
	}
	for _, f := range ff {
		if f.strile {
			strileSize += f.external(bigtiff)
		} else {
			size += f.external(bigtiff)
		}
	}
	return
}

// area accumulates out-of-entry field values that will be written starting at
// file offset Offset.
type area struct {
	bytes.Buffer
	Offset uint64
}

func (a *area) next() uint64 {
	return a.Offset + uint64(a.Len())
}

// writeEntry writes the ifd entry for f into w, storing its value either
// inline or in the given area.
func (c *cog) writeEntry(w *bytes.Buffer, f field, values *area) {
	_ = binary.Write(w, c.enc, f.tag)
	_ = binary.Write(w, c.enc, f.typ)
	if c.bigtiff {
		_ = binary.Write(w, c.enc, f.count)
	} else {
		_ = binary.Write(w, c.enc, uint32(f.count))
	}
	slot := make([]byte, inlineSize(c.bigtiff))
	if len(f.data) <= len(slot) {
		copy(slot, f.data)
		w.Write(slot)
		return
	}
	if c.bigtiff {
		c.enc.PutUint64(slot, values.next())
	} else {
		c.enc.PutUint32(slot, uint32(values.next()))
	}
	w.Write(slot)
	values.Write(f.data)
	if len(f.data)%2 == 1 {
		values.WriteByte(0)
	}
}
