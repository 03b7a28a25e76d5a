package gdalio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/cogeo"
	"github.com/airbusgeo/godal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	godal.RegisterAll()
	os.Exit(m.Run())
}

// writeInput creates a 3 band byte striped tiff where band b holds b*10+1,
// except for the pixels of the first 5 columns of band 1 which are 0.
func writeInput(t *testing.T, name string, w, h int, nodata bool) {
	t.Helper()
	ds, err := godal.Create(godal.GTiff, name, 3, godal.Byte, w, h)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeoTransform([6]float64{500000, 10, 0, 4000000, 0, -10}))
	require.NoError(t, ds.SetMetadata("SCENE", "s2a-t31tcj"))
	data := make([]byte, w*h*3)
	for b := 0; b < 3; b++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := byte(b*10 + 1)
				if b == 0 && x < 5 {
					v = 0
				}
				data[b*w*h+y*w+x] = v
			}
		}
	}
	require.NoError(t, ds.Write(0, 0, data, w, h, godal.BandInterleaved()))
	if nodata {
		for _, bnd := range ds.Bands() {
			require.NoError(t, bnd.SetNoData(0))
		}
	}
	require.NoError(t, ds.Close())
}

func TestSource(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.tif")
	writeInput(t, in, 40, 30, true)

	src, err := Driver{Handles: 2}.Open(context.Background(), in)
	require.NoError(t, err)
	defer func() { assert.NoError(t, src.Close()) }()

	w, h := src.Size()
	assert.Equal(t, 40, w)
	assert.Equal(t, 30, h)
	assert.Equal(t, 3, src.BandCount())
	assert.Equal(t, cogeo.Byte, src.DataType(2))
	assert.Equal(t, cogeo.Unknown, src.DataType(4))

	p := src.Profile()
	assert.Equal(t, 40, p.Width)
	assert.Equal(t, 3, p.Count)
	require.NotNil(t, p.GeoTransform)
	assert.Equal(t, 10.0, p.GeoTransform[1])
	require.NotNil(t, p.NoData)
	assert.Equal(t, 0.0, *p.NoData)

	// boundless read, 2 columns outside on the left
	win := cogeo.Window{ColOff: -2, RowOff: 0, Width: 4, Height: 1}
	buf, err := cogeo.NewBuffer(cogeo.Byte, 2, 4, 1)
	require.NoError(t, err)
	require.NoError(t, src.Read(win, []int{3, 1}, buf))
	assert.Equal(t, []uint8{0, 0, 21, 21, 0, 0, 0, 0}, buf.Data)

	win = cogeo.Window{ColOff: 4, RowOff: 29, Width: 2, Height: 1}
	buf, _ = cogeo.NewBuffer(cogeo.UInt16, 1, 2, 1)
	require.NoError(t, src.Read(win, []int{1}, buf))
	assert.Equal(t, []uint16{0, 1}, buf.Data)

	masks := make([]byte, 4)
	require.NoError(t, src.ReadMasks(cogeo.Window{ColOff: 3, RowOff: 29, Width: 2, Height: 2}, []int{1}, masks))
	assert.Equal(t, []byte{0, 0, 0, 0}, masks)
	require.NoError(t, src.ReadMasks(cogeo.Window{ColOff: 4, RowOff: 0, Width: 2, Height: 1}, []int{1, 2}, masks))
	assert.Equal(t, []byte{0, 255, 255, 255}, masks)

	assert.Error(t, src.Read(win, []int{4}, buf))
	assert.Error(t, src.Read(win, []int{1, 2}, buf))
}

func TestOpenMissing(t *testing.T) {
	_, err := Driver{}.Open(context.Background(), filepath.Join(t.TempDir(), "missing.tif"))
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.tif")
	out := filepath.Join(dir, "out.tif")
	writeInput(t, in, 300, 200, false)

	err := cogeo.Convert(ctx, Driver{Handles: 2}, in, out,
		cogeo.Profile{BlockXSize: 128, BlockYSize: 128, Options: map[string]string{"compress": "deflate"}},
		cogeo.NoData(0), cogeo.OverviewLevel(2), cogeo.Workers(2))
	require.NoError(t, err)

	ds, err := godal.Open(out)
	require.NoError(t, err)
	defer ds.Close()
	st := ds.Structure()
	assert.Equal(t, 300, st.SizeX)
	assert.Equal(t, 3, st.NBands)
	assert.Equal(t, 128, st.BlockSizeX)
	assert.Equal(t, 128, st.BlockSizeY)
	assert.Equal(t, "nearest", ds.Metadata(cogeo.ResamplingTag, godal.Domain(cogeo.OverviewNamespace)))
	assert.Equal(t, "s2a-t31tcj", ds.Metadata("SCENE"))

	bnd := ds.Bands()[0]
	_, hasND := bnd.NoData()
	assert.False(t, hasND)
	assert.Equal(t, gmfPerDataset, bnd.MaskFlags())
	assert.Len(t, bnd.Overviews(), 2)
	mask := make([]byte, 8)
	require.NoError(t, bnd.MaskBand().Read(0, 10, mask, 8, 1))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 255, 255, 255}, mask)
}

func TestCreateValidate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.tif")
	out := filepath.Join(dir, "cog.tif")
	writeInput(t, in, 300, 200, true)

	c, err := cogeo.NewConverter(cogeo.OverviewLevel(cogeo.AutoOverviewLevel), cogeo.TempDir(dir))
	require.NoError(t, err)
	require.NoError(t, c.Create(ctx, Driver{}, in, out,
		cogeo.Profile{BlockXSize: 64, BlockYSize: 64}, cogeo.FileSink))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	rep, err := cogeo.Validate(f)
	require.NoError(t, err)
	assert.True(t, rep.Valid(), rep.Errors)
	assert.Empty(t, rep.Warnings)
	assert.True(t, rep.HasMask)
	assert.Equal(t, 64, rep.TileWidth)
	assert.Len(t, rep.Overviews, cogeo.AutoOverviewDepth(300, 200, 64, 64))
	assert.Equal(t, "nearest", rep.Tags[cogeo.OverviewNamespace][cogeo.ResamplingTag])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "staging file left behind")
}

func TestCreateErrors(t *testing.T) {
	dir := t.TempDir()
	drv := Driver{}
	_, err := drv.Create(context.Background(), filepath.Join(dir, "a.tif"), cogeo.Profile{Width: 10, Height: 10, Count: 1, DataType: cogeo.Byte})
	assert.Error(t, err)
	_, err = drv.Create(context.Background(), filepath.Join(dir, "a.tif"),
		cogeo.Profile{Width: 10, Height: 10, Count: 1, BlockXSize: 16, BlockYSize: 16})
	assert.Error(t, err)

	dst, err := drv.Create(context.Background(), filepath.Join(dir, "b.tif"),
		cogeo.Profile{Width: 10, Height: 10, Count: 1, DataType: cogeo.Byte, BlockXSize: 16, BlockYSize: 16})
	require.NoError(t, err)
	assert.NoError(t, dst.BuildOverviews(nil, cogeo.Nearest))
	assert.Error(t, dst.WriteMask(cogeo.NewMask(3, 3)))
	assert.NoError(t, dst.Close())
	assert.Error(t, dst.Close())
}

func TestCreationOptions(t *testing.T) {
	assert.Equal(t, []string{"TILED=YES", "BLOCKXSIZE=512", "BLOCKYSIZE=256", "COMPRESS=LZW", "PREDICTOR=2"},
		creationOptions(cogeo.Profile{
			BlockXSize: 512,
			BlockYSize: 256,
			Options:    map[string]string{"predictor": "2", "COMPRESS": "LZW", "tiled": "NO", "BLOCKYSIZE": "16"},
		}))
}

func TestTypes(t *testing.T) {
	for _, dt := range []cogeo.DataType{cogeo.Byte, cogeo.UInt16, cogeo.Int16, cogeo.UInt32, cogeo.Int32, cogeo.Float32, cogeo.Float64} {
		gdt, err := toGDAL(dt)
		require.NoError(t, err)
		assert.Equal(t, dt, fromGDAL(gdt))
	}
	_, err := toGDAL(cogeo.Unknown)
	assert.Error(t, err)
	assert.Equal(t, cogeo.Unknown, fromGDAL(godal.CInt16))
}
