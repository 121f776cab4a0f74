// Package medialsurface extracts a thin ridge surface approximating the
// medial axis of a binary segment from the second derivative of its signed
// distance map.
package medialsurface

import (
	"fmt"
	"math"

	"toothanalyser/pkg/morphology"
	"toothanalyser/pkg/threshold"
	"toothanalyser/pkg/volume"
)

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// at returns v at (x, y, z) with the coordinates clamped to the grid.
func at(v *volume.Volume, x, y, z int) float64 {
	return v.Data[v.Index(clamp(x, v.Width), clamp(y, v.Height), clamp(z, v.Depth))]
}

// Sobel returns the gradient magnitude of v using the separable 3-D Sobel
// operator: a [-1 0 1] derivative along one axis and [1 2 1] smoothing along
// the two others. Borders replicate.
func Sobel(v *volume.Volume) *volume.Volume {
	smooth := [3]float64{1, 2, 1}
	out := v.Like(volume.Float64)
	for i := range v.Data {
		x, y, z := v.Coords(i)
		var gx, gy, gz float64
		for a := -1; a <= 1; a++ {
			for b := -1; b <= 1; b++ {
				w := smooth[a+1] * smooth[b+1]
				gx += w * (at(v, x+1, y+a, z+b) - at(v, x-1, y+a, z+b))
				gy += w * (at(v, x+a, y+1, z+b) - at(v, x+a, y-1, z+b))
				gz += w * (at(v, x+a, y+b, z+1) - at(v, x+a, y+b, z-1))
			}
		}
		out.Data[i] = math.Sqrt(gx*gx + gy*gy + gz*gz)
	}
	return out
}

// Laplacian returns the 6-neighbour discrete Laplacian of v in voxel units.
// Borders replicate.
func Laplacian(v *volume.Volume) *volume.Volume {
	out := v.Like(volume.Float64)
	for i, c := range v.Data {
		x, y, z := v.Coords(i)
		out.Data[i] = at(v, x-1, y, z) + at(v, x+1, y, z) +
			at(v, x, y-1, z) + at(v, x, y+1, z) +
			at(v, x, y, z-1) + at(v, x, y, z+1) - 6*c
	}
	return out
}

// Extract returns the medial ridge of the binary segment seg: the signed
// distance map is restricted to the segment, passed through Sobel and
// Laplacian, binarized with Otsu and restricted to the segment again.
func Extract(seg *volume.Volume) (*volume.Volume, error) {
	dist, err := morphology.SignedDistanceMap(seg)
	if err != nil {
		return nil, fmt.Errorf("failed to compute distance map: %w", err)
	}
	masked, err := volume.Mask(dist, seg)
	if err != nil {
		return nil, err
	}
	response := Laplacian(Sobel(masked))
	ridge, _, err := threshold.Apply(response, threshold.Otsu, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to threshold ridge response: %w", err)
	}
	out, err := volume.Mask(ridge, seg)
	if err != nil {
		return nil, err
	}
	return out, nil
}
