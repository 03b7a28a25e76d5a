package cogeo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockWindowsTiling(t *testing.T) {
	testfunc := func(w, h, bw, bh int, expected int) {
		t.Helper()
		windows := BlockWindows(w, h, bw, bh)
		assert.Len(t, windows, expected)
		cover := make([]int, w*h)
		for _, win := range windows {
			assert.LessOrEqual(t, win.Width, bw)
			assert.LessOrEqual(t, win.Height, bh)
			assert.False(t, win.Empty())
			for y := win.RowOff; y < win.RowOff+win.Height; y++ {
				for x := win.ColOff; x < win.ColOff+win.Width; x++ {
					cover[y*w+x]++
				}
			}
		}
		for i, c := range cover {
			if c != 1 {
				t.Errorf("%dx%d/%dx%d: pixel %d covered %d times", w, h, bw, bh, i, c)
				return
			}
		}
	}
	cases := [][]int{
		{512, 512, 256, 256, 4},
		{513, 512, 256, 256, 6},
		{1, 1, 256, 256, 1},
		{300, 10, 256, 256, 2},
		{100, 100, 7, 13, 15 * 8},
		{256, 257, 256, 256, 2},
	}
	for _, c := range cases {
		testfunc(c[0], c[1], c[2], c[3], c[4])
	}
}

func TestBlockWindowsOrder(t *testing.T) {
	windows := BlockWindows(300, 300, 256, 256)
	assert.Equal(t, []Window{
		{ColOff: 0, RowOff: 0, Width: 256, Height: 256},
		{ColOff: 256, RowOff: 0, Width: 44, Height: 256},
		{ColOff: 0, RowOff: 256, Width: 256, Height: 44},
		{ColOff: 256, RowOff: 256, Width: 44, Height: 44},
	}, windows)
	assert.Equal(t, windows, BlockWindows(300, 300, 256, 256))
}

func TestBlockWindowsEmpty(t *testing.T) {
	assert.Empty(t, BlockWindows(0, 0, 256, 256))
	assert.Empty(t, BlockWindows(10, 0, 256, 256))
	assert.Empty(t, BlockWindows(0, 10, 256, 256))
}

func TestWindowIntersect(t *testing.T) {
	a := Window{ColOff: 0, RowOff: 0, Width: 10, Height: 10}
	assert.Equal(t, Window{ColOff: 5, RowOff: 8, Width: 5, Height: 2},
		a.Intersect(Window{ColOff: 5, RowOff: 8, Width: 20, Height: 20}))
	assert.Equal(t, a, a.Intersect(Window{ColOff: -5, RowOff: -5, Width: 30, Height: 30}))
	assert.True(t, a.Intersect(Window{ColOff: 10, RowOff: 0, Width: 5, Height: 5}).Empty())
	assert.Equal(t, 0, a.Intersect(Window{ColOff: 20, RowOff: 20, Width: 5, Height: 5}).Pixels())
	assert.Equal(t, "10x10+0+0", a.String())
}
