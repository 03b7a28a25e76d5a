package cogeo

// A Level is a reduced resolution version of a raster, decimated by Factor
type Level struct {
	Factor        int
	Width, Height int
}

// A Pyramid is the list of overviews of a raster, from the largest to the
// smallest.
type Pyramid []Level

// NewPyramid returns the overviews of a width*height raster for the given
// decimation factors. Overview sizes are rounded up, i.e. the last row or
// column of an overview may cover less than factor source pixels.
func NewPyramid(width, height int, factors []int) Pyramid {
	pyr := make(Pyramid, 0, len(factors))
	for _, f := range factors {
		if f <= 1 {
			continue
		}
		pyr = append(pyr, Level{
			Factor: f,
			Width:  (width + f - 1) / f,
			Height: (height + f - 1) / f,
		})
	}
	return pyr
}

// AutoOverviewDepth returns the number of overviews needed for the smallest
// one to fit in a single blockWidth*blockHeight tile. Halving stops early if
// one of the dimensions reaches minSize.
func AutoOverviewDepth(width, height, blockWidth, blockHeight int) int {
	const minSize = 2
	count := 0
	iw, ih := width, height
	for (iw > blockWidth || ih > blockHeight) && (iw > minSize && ih > minSize) {
		count++
		iw = (iw + 1) / 2
		ih = (ih + 1) / 2
	}
	return count
}
