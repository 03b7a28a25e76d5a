package cogeo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPaste(t *testing.T) {
	dst, err := NewBuffer(Int16, 2, 3, 2)
	require.NoError(t, err)
	src := &Buffer{DataType: Int16, Bands: 2, Width: 2, Height: 2, Data: []int16{1, 2, 3, 4, 5, 6, 7, 8}}

	require.NoError(t, dst.Paste(src, 2, 1))
	assert.Equal(t, []int16{
		0, 0, 0,
		0, 0, 1,
		0, 0, 0,
		0, 0, 5,
	}, dst.Data)

	dst.Reset(2, 3, 2)
	require.NoError(t, dst.Paste(src, -1, -1))
	assert.Equal(t, []int16{
		4, 0, 0,
		0, 0, 0,
		8, 0, 0,
		0, 0, 0,
	}, dst.Data)

	require.NoError(t, dst.Paste(src, 5, 5))
	assert.Error(t, dst.Paste(&Buffer{DataType: Byte, Bands: 2, Width: 1, Height: 1, Data: []uint8{1, 2}}, 0, 0))
}

func TestBufferReset(t *testing.T) {
	b, err := NewBuffer(Float32, 1, 4, 4)
	require.NoError(t, err)
	b.Data.([]float32)[3] = 2
	b.Reset(1, 2, 2)
	assert.Equal(t, []float32{0, 0, 0, 0}, b.Data)
	assert.Equal(t, 4, b.Len())
	b.Reset(3, 4, 4)
	assert.Len(t, b.Data, 48)

	_, err = NewBuffer(Unknown, 1, 1, 1)
	assert.Error(t, err)
}

func TestDataType(t *testing.T) {
	for dt, size := range map[DataType]int{
		Byte: 1, UInt16: 2, Int16: 2, UInt32: 4, Int32: 4, Float32: 4, Float64: 8, Unknown: 0,
	} {
		assert.Equal(t, size, dt.Size(), dt.String())
	}
	assert.Equal(t, "UInt16", UInt16.String())
}

func TestNoDataMaskTypes(t *testing.T) {
	out := make([]byte, 3)
	f32 := &Buffer{DataType: Float32, Bands: 1, Width: 3, Height: 1, Data: []float32{0.1, 0.2, -9999.9}}
	require.NoError(t, f32.noDataMask(0.1, out))
	assert.Equal(t, []byte{0, 255, 255}, out)
	require.NoError(t, f32.noDataMask(-9999.9, out))
	assert.Equal(t, []byte{255, 255, 0}, out)

	u8 := &Buffer{DataType: Byte, Bands: 1, Width: 3, Height: 1, Data: []uint8{2, 3, 255}}
	require.NoError(t, u8.noDataMask(2.5, out))
	assert.Equal(t, []byte{255, 255, 255}, out)
	require.NoError(t, u8.noDataMask(-1, out))
	assert.Equal(t, []byte{255, 255, 255}, out)
	require.NoError(t, u8.noDataMask(255, out))
	assert.Equal(t, []byte{255, 255, 0}, out)

	i16 := &Buffer{DataType: Int16, Bands: 1, Width: 3, Height: 1, Data: []int16{-32768, 0, 7}}
	require.NoError(t, i16.noDataMask(-32768, out))
	assert.Equal(t, []byte{0, 255, 255}, out)
}

func TestBufferConvert(t *testing.T) {
	src := &Buffer{DataType: Float32, Bands: 2, Width: 3, Height: 1,
		Data: []float32{2.5, -3.7, 70000, float32(math.NaN()), 1.2, 65535.4}}

	same, err := src.Convert(Float32)
	require.NoError(t, err)
	assert.Same(t, src, same)

	u16, err := src.Convert(UInt16)
	require.NoError(t, err)
	assert.Equal(t, 2, u16.Bands)
	assert.Equal(t, []uint16{3, 0, 65535, 0, 1, 65535}, u16.Data)

	i16, err := src.Convert(Int16)
	require.NoError(t, err)
	assert.Equal(t, []int16{3, -4, 32767, 0, 1, 32767}, i16.Data)

	f64, err := (&Buffer{DataType: Byte, Bands: 1, Width: 2, Height: 1, Data: []uint8{1, 255}}).Convert(Float64)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 255}, f64.Data)

	_, err = src.Convert(Unknown)
	assert.Error(t, err)
}
