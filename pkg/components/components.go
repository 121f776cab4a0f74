// Package components labels connected foreground regions of binary volumes,
// ranks them by size and discards the small ones.
package components

import (
	"fmt"
	"sort"

	"toothanalyser/pkg/volume"
)

// Connectivity selects which neighbours count as adjacent.
type Connectivity int

const (
	// Full connects voxels sharing a face, an edge or a corner (26 neighbours).
	Full Connectivity = iota
	// Face connects voxels sharing a face (6 neighbours).
	Face
)

func (c Connectivity) offsets() [][3]int {
	var offs [][3]int
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				n := abs(dx) + abs(dy) + abs(dz)
				if n == 0 || (c == Face && n > 1) {
					continue
				}
				offs = append(offs, [3]int{dx, dy, dz})
			}
		}
	}
	return offs
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

// Label assigns every connected component of the non-zero voxels of v a
// positive id. Ids follow raster order of each component's first voxel
// (x fastest, then y, then z). The second return value is the number of
// components.
func Label(v *volume.Volume, conn Connectivity) (*volume.Volume, int) {
	out := v.Like(volume.UInt32)
	offs := conn.offsets()
	queue := make([]int, 0, 1024)
	next := 0
	for start, val := range v.Data {
		if val == 0 || out.Data[start] != 0 {
			continue
		}
		next++
		id := float64(next)
		out.Data[start] = id
		queue = append(queue[:0], start)
		for head := 0; head < len(queue); head++ {
			x, y, z := v.Coords(queue[head])
			for _, o := range offs {
				nx, ny, nz := x+o[0], y+o[1], z+o[2]
				if !v.Contains(nx, ny, nz) {
					continue
				}
				j := v.Index(nx, ny, nz)
				if v.Data[j] != 0 && out.Data[j] == 0 {
					out.Data[j] = id
					queue = append(queue, j)
				}
			}
		}
	}
	return out, next
}

// Sizes returns the voxel count of every id in a label volume; sizes[0] is
// the background.
func Sizes(labels *volume.Volume, count int) []int {
	sizes := make([]int, count+1)
	for _, val := range labels.Data {
		sizes[int(val)]++
	}
	return sizes
}

// RelabelBySize renumbers a label volume with count ids so that id 1 is the
// largest component, id 2 the second largest and so on. Components of equal
// size keep their relative order. Components smaller than minVoxels are
// zeroed. It returns the new volume and the number of ids kept.
func RelabelBySize(labels *volume.Volume, count, minVoxels int) (*volume.Volume, int) {
	sizes := Sizes(labels, count)
	order := make([]int, count)
	for i := range order {
		order[i] = i + 1
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sizes[order[a]] > sizes[order[b]]
	})

	mapping := make([]float64, count+1)
	kept := 0
	for _, old := range order {
		if sizes[old] < minVoxels {
			break
		}
		kept++
		mapping[old] = float64(kept)
	}

	out := labels.Like(volume.UInt32)
	for i, val := range labels.Data {
		out.Data[i] = mapping[int(val)]
	}
	return out, kept
}

// FilterMinSize labels the 26-connected components of v, renumbers them by
// decreasing size and drops those with fewer than minVoxels voxels. A volume
// without foreground is an error since nothing downstream can select from it.
func FilterMinSize(v *volume.Volume, minVoxels int) (*volume.Volume, error) {
	if volume.Count(v) == 0 {
		return nil, fmt.Errorf("%w: connected components of an empty volume", volume.ErrComputation)
	}
	labels, count := Label(v, Full)
	out, _ := RelabelBySize(labels, count, minVoxels)
	return out, nil
}

// Largest returns the binary volume of the largest component of v that has
// at least minVoxels voxels.
func Largest(v *volume.Volume, minVoxels int) (*volume.Volume, error) {
	labels, err := FilterMinSize(v, minVoxels)
	if err != nil {
		return nil, err
	}
	return volume.Equal(labels, 1), nil
}

// AllButLargest returns every component of v with at least minVoxels voxels
// except the largest one.
func AllButLargest(v *volume.Volume, minVoxels int) (*volume.Volume, error) {
	labels, err := FilterMinSize(v, minVoxels)
	if err != nil {
		return nil, err
	}
	return volume.GreaterThan(labels, 1), nil
}
