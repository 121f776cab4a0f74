package morphology

import (
	"fmt"

	"toothanalyser/pkg/volume"
)

// faceOffsets are the six face neighbours of a voxel.
var faceOffsets = [6][3]int{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

func checkRadius(op string, radius int) error {
	if radius < 0 {
		return fmt.Errorf("%w: %s radius %d is negative", volume.ErrConfiguration, op, radius)
	}
	return nil
}

// binary returns v as a 0/1 UInt8 volume.
func binary(v *volume.Volume) *volume.Volume {
	return volume.GreaterThan(v, 0)
}

// Dilate grows the foreground of v by a Euclidean ball of the given radius:
// a voxel is set when some foreground voxel lies within squared distance
// radius². Voxels outside the grid are background.
func Dilate(v *volume.Volume, radius int) (*volume.Volume, error) {
	if err := checkRadius("dilate", radius); err != nil {
		return nil, err
	}
	if radius == 0 {
		return binary(v), nil
	}
	r2 := float64(radius * radius)
	d2 := SquaredDistance(v)
	return volume.Binary(d2, func(x float64) bool { return x <= r2 }), nil
}

// Erode shrinks the foreground of v by a Euclidean ball of the given radius.
// Voxels outside the grid count as foreground, so the grid border does not
// erode the segment.
func Erode(v *volume.Volume, radius int) (*volume.Volume, error) {
	if err := checkRadius("erode", radius); err != nil {
		return nil, err
	}
	if radius == 0 {
		return binary(v), nil
	}
	r2 := float64(radius * radius)
	d2 := SquaredDistance(volume.Not(v))
	out := v.Like(volume.UInt8)
	for i, val := range v.Data {
		if val != 0 && d2.Data[i] > r2 {
			out.Data[i] = 1
		}
	}
	return out, nil
}

// Closing is Dilate followed by Erode with the same ball.
func Closing(v *volume.Volume, radius int) (*volume.Volume, error) {
	dilated, err := Dilate(v, radius)
	if err != nil {
		return nil, fmt.Errorf("closing: %w", err)
	}
	return Erode(dilated, radius)
}

// Opening is Erode followed by Dilate with the same ball.
func Opening(v *volume.Volume, radius int) (*volume.Volume, error) {
	eroded, err := Erode(v, radius)
	if err != nil {
		return nil, fmt.Errorf("opening: %w", err)
	}
	return Dilate(eroded, radius)
}

// Contour returns the foreground voxels of v that have at least one face
// neighbour in the background. Neighbours outside the grid are ignored.
func Contour(v *volume.Volume) *volume.Volume {
	out := v.Like(volume.UInt8)
	for i, val := range v.Data {
		if val == 0 {
			continue
		}
		x, y, z := v.Coords(i)
		for _, o := range faceOffsets {
			nx, ny, nz := x+o[0], y+o[1], z+o[2]
			if v.Contains(nx, ny, nz) && v.Data[v.Index(nx, ny, nz)] == 0 {
				out.Data[i] = 1
				break
			}
		}
	}
	return out
}
