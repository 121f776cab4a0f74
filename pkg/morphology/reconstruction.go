package morphology

import (
	"fmt"

	"toothanalyser/pkg/volume"
)

// flood marks every voxel reachable from a seed through face-connected voxels
// of the allowed set. Seeds outside the allowed set are ignored.
func flood(allowed, seeds []bool, v *volume.Volume) []bool {
	reached := make([]bool, len(allowed))
	queue := make([]int, 0, 1024)
	for i, s := range seeds {
		if s && allowed[i] {
			reached[i] = true
			queue = append(queue, i)
		}
	}
	for head := 0; head < len(queue); head++ {
		i := queue[head]
		x, y, z := v.Coords(i)
		for _, o := range faceOffsets {
			nx, ny, nz := x+o[0], y+o[1], z+o[2]
			if !v.Contains(nx, ny, nz) {
				continue
			}
			j := v.Index(nx, ny, nz)
			if allowed[j] && !reached[j] {
				reached[j] = true
				queue = append(queue, j)
			}
		}
	}
	return reached
}

// ClosingByReconstruction dilates v with a ball of the given radius and then
// reconstructs the result by erosion against v. Background regions of v that
// the dilation covers completely are filled; every other background voxel of
// v is left untouched, so the outer shape is preserved.
func ClosingByReconstruction(v *volume.Volume, radius int) (*volume.Volume, error) {
	dilated, err := Dilate(v, radius)
	if err != nil {
		return nil, fmt.Errorf("closing by reconstruction: %w", err)
	}
	n := v.Len()
	background := make([]bool, n)
	seeds := make([]bool, n)
	for i := 0; i < n; i++ {
		background[i] = v.Data[i] == 0
		seeds[i] = dilated.Data[i] == 0
	}
	open := flood(background, seeds, v)
	out := v.Like(volume.UInt8)
	for i := range out.Data {
		if !open[i] {
			out.Data[i] = 1
		}
	}
	return out, nil
}

// OpeningByReconstruction erodes v with a ball of the given radius and then
// reconstructs the result by dilation inside v: a face-connected component of
// v survives whole when any of its voxels survives the erosion.
func OpeningByReconstruction(v *volume.Volume, radius int) (*volume.Volume, error) {
	eroded, err := Erode(v, radius)
	if err != nil {
		return nil, fmt.Errorf("opening by reconstruction: %w", err)
	}
	n := v.Len()
	foreground := make([]bool, n)
	seeds := make([]bool, n)
	for i := 0; i < n; i++ {
		foreground[i] = v.Data[i] != 0
		seeds[i] = eroded.Data[i] != 0
	}
	kept := flood(foreground, seeds, v)
	out := v.Like(volume.UInt8)
	for i := range out.Data {
		if kept[i] {
			out.Data[i] = 1
		}
	}
	return out, nil
}
