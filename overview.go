package cogeo

// DefaultOverviewLevel is the default number of overviews
const DefaultOverviewLevel = 6

const (
	// OverviewNamespace is the metadata namespace where the overview
	// resampling method is recorded
	OverviewNamespace = "rio_overview"
	// ResamplingTag is the key of the resampling method in OverviewNamespace
	ResamplingTag = "resampling"
)

// Resampling is the method used to compute overview pixels
type Resampling int

// Nearest picks the value of the closest source pixel
const Nearest Resampling = 0

func (r Resampling) String() string {
	if r == Nearest {
		return "nearest"
	}
	return "unknown"
}

// OverviewLevels returns the decimation factors 2, 4, ..., 2^depth. A depth
// of 0 or less yields no level.
func OverviewLevels(depth int) []int {
	if depth <= 0 {
		return nil
	}
	levels := make([]int, depth)
	for i := range levels {
		levels[i] = 1 << (i + 1)
	}
	return levels
}
