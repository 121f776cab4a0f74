// Package volume provides the 3-D scalar grid that every segmentation stage
// consumes and produces, together with the voxel-wise algebra the pipeline is
// written in.
//
// Volumes are treated as immutable values: every operation in this package
// allocates and returns a new Volume instead of modifying its arguments.
package volume

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// PixelType records the storage type a volume was read from or should be
// written as. Voxel values are always held as float64 in memory.
type PixelType int

const (
	UInt8 PixelType = iota
	Int8
	UInt16
	Int16
	UInt32
	Int32
	Float32
	Float64
)

var pixelTypeNames = [...]string{
	UInt8:   "uint8",
	Int8:    "int8",
	UInt16:  "uint16",
	Int16:   "int16",
	UInt32:  "uint32",
	Int32:   "int32",
	Float32: "float32",
	Float64: "float64",
}

// String returns the lower-case Go name of the pixel type.
func (p PixelType) String() string {
	if p < 0 || int(p) >= len(pixelTypeNames) {
		return fmt.Sprintf("PixelType(%d)", int(p))
	}
	return pixelTypeNames[p]
}

// Size returns the number of bytes one voxel of this type occupies on disk.
func (p PixelType) Size() int {
	switch p {
	case UInt8, Int8:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float32:
		return 4
	default:
		return 8
	}
}

// Volume represents a 3D scalar image with its physical placement.
type Volume struct {
	// Data is the voxel data as a 1D array, x fastest then y then z.
	Data []float64

	// Width, Height and Depth are the grid dimensions in voxels.
	Width, Height, Depth int

	// Spacing is the physical voxel size along x, y and z.
	Spacing r3.Vec

	// Origin is the physical position of voxel (0,0,0).
	Origin r3.Vec

	// PixelType is the storage type of the voxel values.
	PixelType PixelType
}

// New allocates a zero-filled volume with unit spacing and zero origin.
func New(width, height, depth int, pixelType PixelType) *Volume {
	n := 0
	if width > 0 && height > 0 && depth > 0 {
		n = width * height * depth
	}
	return &Volume{
		Data:      make([]float64, n),
		Width:     width,
		Height:    height,
		Depth:     depth,
		Spacing:   r3.Vec{X: 1, Y: 1, Z: 1},
		PixelType: pixelType,
	}
}

// Like allocates a zero-filled volume sharing v's geometry.
func (v *Volume) Like(pixelType PixelType) *Volume {
	out := New(v.Width, v.Height, v.Depth, pixelType)
	out.Spacing = v.Spacing
	out.Origin = v.Origin
	return out
}

// Clone returns a deep copy of v.
func (v *Volume) Clone() *Volume {
	out := v.Like(v.PixelType)
	copy(out.Data, v.Data)
	return out
}

// Len returns the number of voxels.
func (v *Volume) Len() int {
	return len(v.Data)
}

// Index returns the offset of voxel (x, y, z) in Data.
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Coords is the inverse of Index.
func (v *Volume) Coords(i int) (x, y, z int) {
	plane := v.Width * v.Height
	z = i / plane
	rem := i - z*plane
	y = rem / v.Width
	x = rem - y*v.Width
	return x, y, z
}

// At returns the value of voxel (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Contains reports whether (x, y, z) lies inside the grid.
func (v *Volume) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Width && y < v.Height && z < v.Depth
}

// SameGeometry reports whether v and o share dimensions, spacing and origin.
func (v *Volume) SameGeometry(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth &&
		v.Spacing == o.Spacing && v.Origin == o.Origin
}

// Validate checks that the volume is usable as pipeline input.
func (v *Volume) Validate() error {
	if v == nil {
		return fmt.Errorf("%w: nil volume", ErrInput)
	}
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%dx%d", ErrInput, v.Width, v.Height, v.Depth)
	}
	if want := v.Width * v.Height * v.Depth; len(v.Data) != want {
		return fmt.Errorf("%w: data holds %d voxels, dimensions need %d", ErrInput, len(v.Data), want)
	}
	if v.Spacing.X <= 0 || v.Spacing.Y <= 0 || v.Spacing.Z <= 0 {
		return fmt.Errorf("%w: non-positive spacing %v", ErrInput, v.Spacing)
	}
	return nil
}

// String summarises the geometry for log output.
func (v *Volume) String() string {
	return fmt.Sprintf("%dx%dx%d %s spacing=(%g,%g,%g)",
		v.Width, v.Height, v.Depth, v.PixelType, v.Spacing.X, v.Spacing.Y, v.Spacing.Z)
}
