package morphology

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"toothanalyser/pkg/volume"
)

// parallelSlices calls fn for every z index, spreading contiguous ranges of
// slices over GOMAXPROCS goroutines. fn must only write voxels of its own
// slice.
func parallelSlices(depth int, fn func(z int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > depth {
		workers = depth
	}
	if workers <= 1 {
		for z := 0; z < depth; z++ {
			fn(z)
		}
		return
	}
	chunk := (depth + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < depth; start += chunk {
		end := min(start+chunk, depth)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for z := start; z < end; z++ {
				fn(z)
			}
		}(start, end)
	}
	wg.Wait()
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Median replaces every voxel by the median of its (2r+1)³ cubic
// neighbourhood. Neighbours outside the grid replicate the nearest border
// voxel. The result keeps the input pixel type.
func Median(v *volume.Volume, radius int) (*volume.Volume, error) {
	if err := checkRadius("median", radius); err != nil {
		return nil, err
	}
	if radius == 0 {
		return v.Clone(), nil
	}
	out := v.Like(v.PixelType)
	size := 2*radius + 1
	parallelSlices(v.Depth, func(z int) {
		buf := make([]float64, 0, size*size*size)
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				buf = buf[:0]
				for dz := -radius; dz <= radius; dz++ {
					zz := clamp(z+dz, v.Depth)
					for dy := -radius; dy <= radius; dy++ {
						yy := clamp(y+dy, v.Height)
						for dx := -radius; dx <= radius; dx++ {
							buf = append(buf, v.Data[v.Index(clamp(x+dx, v.Width), yy, zz)])
						}
					}
				}
				sort.Float64s(buf)
				out.Data[v.Index(x, y, z)] = buf[len(buf)/2]
			}
		}
	})
	return out, nil
}

// gaussianKernel returns normalised weights for offsets -r..r.
func gaussianKernel(sigma float64) []float64 {
	r := int(math.Ceil(3 * sigma))
	k := make([]float64, 2*r+1)
	sum := 0.0
	for i := -r; i <= r; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+r] = w
		sum += w
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// GaussianSmooth convolves v with a separable Gaussian whose standard
// deviation sigma is given in physical units; along each axis the kernel
// uses sigma/spacing voxels and a radius of ceil(3σ). Borders replicate. The
// result is Float64.
func GaussianSmooth(v *volume.Volume, sigma float64) (*volume.Volume, error) {
	if sigma < 0 || math.IsNaN(sigma) {
		return nil, fmt.Errorf("%w: gaussian sigma %g is negative", volume.ErrConfiguration, sigma)
	}
	cur := v.Clone()
	cur.PixelType = volume.Float64
	if sigma == 0 {
		return cur, nil
	}

	axes := []struct {
		spacing float64
		step    int
		n       int
	}{
		{v.Spacing.X, 1, v.Width},
		{v.Spacing.Y, v.Width, v.Height},
		{v.Spacing.Z, v.Width * v.Height, v.Depth},
	}
	for axis, ax := range axes {
		k := gaussianKernel(sigma / ax.spacing)
		r := len(k) / 2
		if r == 0 {
			continue
		}
		next := cur.Like(volume.Float64)
		src := cur.Data
		parallelSlices(v.Depth, func(z int) {
			for y := 0; y < v.Height; y++ {
				for x := 0; x < v.Width; x++ {
					p := [3]int{x, y, z}[axis]
					i := v.Index(x, y, z)
					base := i - p*ax.step
					acc := 0.0
					for o := -r; o <= r; o++ {
						acc += k[o+r] * src[base+clamp(p+o, ax.n)*ax.step]
					}
					next.Data[i] = acc
				}
			}
		})
		cur = next
	}
	return cur, nil
}
