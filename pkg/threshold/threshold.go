package threshold

import (
	"fmt"

	"toothanalyser/pkg/volume"
)

// Histogram counts the voxel intensities of a population in equal-width
// bins spanning [Min, Max].
type Histogram struct {
	Counts   []float64
	Min, Max float64
	Total    int
}

// NewHistogram builds a histogram with the given number of bins over the
// voxels of v where mask is non-zero, or over all voxels when mask is nil.
// The range is the min and max of that population. An empty or constant
// population has no meaningful threshold and is a computation error.
func NewHistogram(v, mask *volume.Volume, bins int) (*Histogram, error) {
	if bins < 2 {
		return nil, fmt.Errorf("%w: histogram needs at least 2 bins, got %d", volume.ErrConfiguration, bins)
	}
	if mask != nil && !v.SameGeometry(mask) {
		return nil, fmt.Errorf("%w: mask geometry %s does not match %s", volume.ErrInput, mask, v)
	}

	h := &Histogram{Counts: make([]float64, bins)}
	first := true
	for i, val := range v.Data {
		if mask != nil && mask.Data[i] == 0 {
			continue
		}
		if first {
			h.Min, h.Max = val, val
			first = false
		}
		h.Min = min(h.Min, val)
		h.Max = max(h.Max, val)
		h.Total++
	}
	if h.Total == 0 {
		return nil, fmt.Errorf("%w: threshold population is empty", volume.ErrComputation)
	}
	if h.Min == h.Max {
		return nil, fmt.Errorf("%w: threshold population is constant (%g)", volume.ErrComputation, h.Min)
	}
	for i, val := range v.Data {
		if mask != nil && mask.Data[i] == 0 {
			continue
		}
		h.Counts[h.Bin(val)]++
	}
	return h, nil
}

// Bin returns the bin index of an intensity, clamped to the histogram.
func (h *Histogram) Bin(val float64) int {
	n := len(h.Counts)
	b := int((val - h.Min) / (h.Max - h.Min) * float64(n))
	if b < 0 {
		return 0
	}
	if b >= n {
		return n - 1
	}
	return b
}

// UpperEdge returns the intensity at the upper boundary of bin b.
func (h *Histogram) UpperEdge(b int) float64 {
	return h.Min + float64(b+1)*(h.Max-h.Min)/float64(len(h.Counts))
}

// Cut is a computed threshold: voxels whose bin is above Bin, equivalently
// whose intensity reaches Value, are foreground.
type Cut struct {
	Bin   int
	Value float64
}

// Compute returns the threshold selected by algo over the histogram of v
// restricted to mask (nil for the whole volume).
func Compute(v *volume.Volume, algo Algorithm, mask *volume.Volume) (*Histogram, Cut, error) {
	calc, err := algo.calculator()
	if err != nil {
		return nil, Cut{}, err
	}
	h, err := NewHistogram(v, mask, algo.Bins())
	if err != nil {
		return nil, Cut{}, fmt.Errorf("%s threshold: %w", algo, err)
	}
	b, err := calc(h.Counts)
	if err != nil {
		return nil, Cut{}, fmt.Errorf("%s threshold: %w", algo, err)
	}
	if b < 0 || b >= len(h.Counts) {
		return nil, Cut{}, fmt.Errorf("%w: %s threshold bin %d outside histogram", volume.ErrComputation, algo, b)
	}
	return h, Cut{Bin: b, Value: h.UpperEdge(b)}, nil
}

// Apply binarizes v: a voxel is 1 when it lies inside mask (or mask is nil)
// and its histogram bin is above the cut selected by algo. Voxels outside
// the mask are 0.
func Apply(v *volume.Volume, algo Algorithm, mask *volume.Volume) (*volume.Volume, Cut, error) {
	h, cut, err := Compute(v, algo, mask)
	if err != nil {
		return nil, Cut{}, err
	}
	out := v.Like(volume.UInt8)
	for i, val := range v.Data {
		if mask != nil && mask.Data[i] == 0 {
			continue
		}
		if h.Bin(val) > cut.Bin {
			out.Data[i] = 1
		}
	}
	return out, cut, nil
}
