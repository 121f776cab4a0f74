package volume

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultSmoothnessLimit is the empirical standard deviation, on the natural
// 16-bit intensity scale of the micro-CT scans, below which a volume is taken
// to be already median filtered. It depends on scanner and resolution.
const DefaultSmoothnessLimit = 3200.0

// StdDev returns the population standard deviation of all voxel values.
func StdDev(v *Volume) float64 {
	if len(v.Data) == 0 {
		return 0
	}
	return stat.PopStdDev(v.Data, nil)
}

// Mean returns the mean voxel value.
func Mean(v *Volume) float64 {
	if len(v.Data) == 0 {
		return 0
	}
	return stat.Mean(v.Data, nil)
}

// MinMax returns the smallest and largest voxel values.
func MinMax(v *Volume) (min, max float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	return floats.Min(v.Data), floats.Max(v.Data)
}

// IsPreSmoothed reports whether the global standard deviation of v is below
// limit, in which case the median smoothing stage can be skipped. A
// non-positive limit selects DefaultSmoothnessLimit.
func IsPreSmoothed(v *Volume, limit float64) bool {
	if limit <= 0 {
		limit = DefaultSmoothnessLimit
	}
	return StdDev(v) < limit
}
