// Package stl builds closed surface meshes of segmented volumes and writes
// them as binary STL.
//
// The mesh of a segment is made of the exposed voxel faces, two triangles
// per face, in physical coordinates. Normals point out of the segment and
// the triangles of every face wind counter-clockwise seen from outside.
package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"toothanalyser/pkg/segmentation"
	"toothanalyser/pkg/volume"
)

// Triangle is one facet of a mesh.
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// Surface returns the boundary mesh of the non-zero voxels of seg.
func Surface(seg *volume.Volume) []Triangle {
	return surface(seg, func(v float64) bool { return v != 0 })
}

// LabelSurface returns the boundary mesh of the voxels equal to label.
func LabelSurface(labels *volume.Volume, label float64) []Triangle {
	return surface(labels, func(v float64) bool { return v == label })
}

func surface(v *volume.Volume, inside func(float64) bool) []Triangle {
	in := func(x, y, z int) bool {
		return v.Contains(x, y, z) && inside(v.At(x, y, z))
	}
	spacing := [3]float64{v.Spacing.X, v.Spacing.Y, v.Spacing.Z}
	origin := [3]float64{v.Origin.X, v.Origin.Y, v.Origin.Z}

	// corner maps a voxel corner offset (in half voxels) to a vertex
	corner := func(p [3]int, off [3]float64) [3]float32 {
		var out [3]float32
		for a := 0; a < 3; a++ {
			out[a] = float32(origin[a] + (float64(p[a])+off[a])*spacing[a])
		}
		return out
	}

	var tris []Triangle
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				if !inside(v.At(x, y, z)) {
					continue
				}
				p := [3]int{x, y, z}
				for axis := 0; axis < 3; axis++ {
					for _, sign := range []int{-1, 1} {
						n := p
						n[axis] += sign
						if in(n[0], n[1], n[2]) {
							continue
						}
						u, w := (axis+1)%3, (axis+2)%3
						var c00, c10, c11, c01 [3]float64
						for _, c := range []*[3]float64{&c00, &c10, &c11, &c01} {
							c[axis] = 0.5 * float64(sign)
						}
						c00[u], c00[w] = -0.5, -0.5
						c10[u], c10[w] = 0.5, -0.5
						c11[u], c11[w] = 0.5, 0.5
						c01[u], c01[w] = -0.5, 0.5

						var normal [3]float32
						normal[axis] = float32(sign)
						v00, v10, v11, v01 := corner(p, c00), corner(p, c10), corner(p, c11), corner(p, c01)
						if sign > 0 {
							tris = append(tris,
								Triangle{Normal: normal, Vertex1: v00, Vertex2: v10, Vertex3: v11},
								Triangle{Normal: normal, Vertex1: v00, Vertex2: v11, Vertex3: v01})
						} else {
							tris = append(tris,
								Triangle{Normal: normal, Vertex1: v00, Vertex2: v11, Vertex3: v10},
								Triangle{Normal: normal, Vertex1: v00, Vertex2: v01, Vertex3: v11})
						}
					}
				}
			}
		}
	}
	return tris
}

// Volume returns the enclosed volume of a closed mesh by the divergence
// theorem. It is negative when the normals point inwards.
func Volume(triangles []Triangle) float64 {
	var sum float64
	for _, t := range triangles {
		a := [3]float64{float64(t.Vertex1[0]), float64(t.Vertex1[1]), float64(t.Vertex1[2])}
		b := [3]float64{float64(t.Vertex2[0]), float64(t.Vertex2[1]), float64(t.Vertex2[2])}
		c := [3]float64{float64(t.Vertex3[0]), float64(t.Vertex3[1]), float64(t.Vertex3[2])}
		sum += a[0]*(b[1]*c[2]-b[2]*c[1]) - a[1]*(b[0]*c[2]-b[2]*c[0]) + a[2]*(b[0]*c[1]-b[1]*c[0])
	}
	return sum / 6
}

// WriteSTL writes triangles in binary STL format.
func WriteSTL(w io.Writer, triangles []Triangle) error {
	if uint64(len(triangles)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d triangles exceed the STL limit", volume.ErrResource, len(triangles))
	}
	bw := bufio.NewWriter(w)
	header := make([]byte, 80)
	copy(header, "toothanalyser binary STL")
	if _, err := bw.Write(header); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return err
	}
	buf := make([]byte, 50)
	for _, t := range triangles {
		off := 0
		for _, vec := range [][3]float32{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3} {
			for _, f := range vec {
				binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
				off += 4
			}
		}
		binary.LittleEndian.PutUint16(buf[48:], 0)
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveToSTL saves the triangles to a binary STL file
func SaveToSTL(filename string, triangles []Triangle) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %w", err)
	}
	if err := WriteSTL(file, triangles); err != nil {
		file.Close()
		return fmt.Errorf("failed to write STL file: %w", err)
	}
	return file.Close()
}

// SaveLabelMeshes writes <name>_enamel.stl and <name>_dentin.stl for the
// tissues of a label volume into dir. Empty tissues are skipped.
func SaveLabelMeshes(labels *volume.Volume, dir, name string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mesh directory: %w", err)
	}
	tissues := []struct {
		suffix string
		label  float64
	}{
		{"enamel", segmentation.EnamelLabel},
		{"dentin", segmentation.DentinLabel},
	}
	var paths []string
	for _, tissue := range tissues {
		tris := LabelSurface(labels, tissue.label)
		if len(tris) == 0 {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.stl", name, tissue.suffix))
		if err := SaveToSTL(path, tris); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
