// Package morphology implements the structuring-element filters of the
// segmentation pipeline: median and Gaussian smoothing, binary ball
// dilation, erosion, closing and opening, their by-reconstruction variants,
// contour extraction and exact Euclidean distance maps.
//
// Binary operators treat every non-zero voxel as foreground and always return
// UInt8 0/1 volumes with the geometry of their input.
package morphology

import (
	"fmt"
	"math"

	"toothanalyser/pkg/volume"
)

// inf stands in for an infinite squared distance.
const inf = 1e20

// SquaredDistance returns, for every voxel, the squared Euclidean distance in
// voxel units to the nearest non-zero voxel of targets. Voxels of targets have
// distance 0. When targets is empty every value is at least 1e20.
//
// The transform is the separable lower-envelope algorithm of Felzenszwalb and
// Huttenlocher, applied along x, then y, then z.
func SquaredDistance(targets *volume.Volume) *volume.Volume {
	out := targets.Like(volume.Float64)
	for i, val := range targets.Data {
		if val == 0 {
			out.Data[i] = inf
		}
	}

	w, h, d := targets.Width, targets.Height, targets.Depth
	n := max(w, h, d)
	f := make([]float64, n)
	dt := make([]float64, n)
	env := make([]int, n)
	z := make([]float64, n+1)

	// along x
	for zz := 0; zz < d; zz++ {
		for y := 0; y < h; y++ {
			base := out.Index(0, y, zz)
			row := out.Data[base : base+w]
			copy(f[:w], row)
			edt1D(f[:w], dt[:w], env[:w], z[:w+1])
			copy(row, dt[:w])
		}
	}

	// along y
	for zz := 0; zz < d; zz++ {
		for x := 0; x < w; x++ {
			for y := 0; y < h; y++ {
				f[y] = out.Data[out.Index(x, y, zz)]
			}
			edt1D(f[:h], dt[:h], env[:h], z[:h+1])
			for y := 0; y < h; y++ {
				out.Data[out.Index(x, y, zz)] = dt[y]
			}
		}
	}

	// along z
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for zz := 0; zz < d; zz++ {
				f[zz] = out.Data[out.Index(x, y, zz)]
			}
			edt1D(f[:d], dt[:d], env[:d], z[:d+1])
			for zz := 0; zz < d; zz++ {
				out.Data[out.Index(x, y, zz)] = dt[zz]
			}
		}
	}
	return out
}

// edt1D computes the squared distance transform of the sampled function f
// into d. v and z are scratch buffers of length len(f) and len(f)+1.
func edt1D(f, d []float64, v []int, z []float64) {
	n := len(f)
	if n == 0 {
		return
	}
	k := 0
	v[0] = 0
	z[0] = -inf
	z[1] = inf
	for q := 1; q < n; q++ {
		fq := f[q] + float64(q*q)
		s := (fq - (f[v[k]] + float64(v[k]*v[k]))) / float64(2*q-2*v[k])
		for s <= z[k] {
			k--
			s = (fq - (f[v[k]] + float64(v[k]*v[k]))) / float64(2*q-2*v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = inf
	}
	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + f[v[k]]
	}
}

// SignedDistanceMap returns the Euclidean distance in voxel units from every
// voxel to the contour of seg: negative inside the segment, zero on its
// contour and positive outside. Distances are neither squared nor scaled by
// the voxel spacing.
func SignedDistanceMap(seg *volume.Volume) (*volume.Volume, error) {
	if volume.Count(seg) == 0 {
		return nil, fmt.Errorf("%w: signed distance map of an empty segment", volume.ErrComputation)
	}
	contour := Contour(seg)
	if volume.Count(contour) == 0 {
		return nil, fmt.Errorf("%w: segment fills the whole grid and has no contour", volume.ErrComputation)
	}
	d2 := SquaredDistance(contour)
	out := seg.Like(volume.Float64)
	for i, val := range d2.Data {
		dist := math.Sqrt(val)
		if seg.Data[i] != 0 && dist > 0 {
			dist = -dist
		}
		out.Data[i] = dist
	}
	return out, nil
}
