// Package visualization renders 2D slice previews of scans and label
// volumes.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"toothanalyser/pkg/segmentation"
	"toothanalyser/pkg/volume"
)

// LabelColors maps segmentation labels to preview colours. Unlisted labels
// are drawn white.
var LabelColors = map[int]color.RGBA{
	segmentation.BackgroundLabel: {0, 0, 0, 255},
	segmentation.DentinLabel:     {230, 200, 120, 255},
	segmentation.EnamelLabel:     {90, 160, 230, 255},
}

// Viewer extracts and saves slices of a volume.
type Viewer struct {
	vol *volume.Volume

	// labels switches rendering from a grey ramp to LabelColors.
	labels bool

	// intensity window of the grey ramp
	lo, hi float64
}

// NewViewer creates a viewer rendering v in grey levels scaled to its
// intensity range.
func NewViewer(v *volume.Volume) *Viewer {
	lo, hi := volume.MinMax(v)
	return &Viewer{vol: v, lo: lo, hi: hi}
}

// NewLabelViewer creates a viewer rendering a label volume in LabelColors.
func NewLabelViewer(labels *volume.Volume) *Viewer {
	return &Viewer{vol: labels, labels: true}
}

func (v *Viewer) pixel(val float64) color.Color {
	if v.labels {
		if c, ok := LabelColors[int(val)]; ok {
			return c
		}
		return color.RGBA{255, 255, 255, 255}
	}
	if v.hi <= v.lo {
		return color.Gray16{}
	}
	scaled := (val - v.lo) / (v.hi - v.lo) * 65535
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, scaled)))}
}

func (v *Viewer) newImage(w, h int) draw.Image {
	r := image.Rect(0, 0, w, h)
	if v.labels {
		return image.NewRGBA(r)
	}
	return image.NewGray16(r)
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis:
// a YZ plane for "x", XZ for "y" and XY for "z".
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	vol := v.vol

	var img draw.Image

	switch axis {
	case "x", "X":
		if position >= vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}
		img = v.newImage(vol.Depth, vol.Height)
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.Set(z, y, v.pixel(vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		if position >= vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}
		img = v.newImage(vol.Width, vol.Depth)
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.Set(x, z, v.pixel(vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		if position >= vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}
		img = v.newImage(vol.Width, vol.Height)
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.Set(x, y, v.pixel(vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion extracts a 3D subregion from the volume. The region keeps
// the spacing and is placed at its physical position.
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) (*volume.Volume, error) {
	vol := v.vol
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}

	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}

	if startX+sizeX > vol.Width || startY+sizeY > vol.Height || startZ+sizeZ > vol.Depth {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := volume.New(sizeX, sizeY, sizeZ, vol.PixelType)
	region.Spacing = vol.Spacing
	region.Origin = vol.Origin
	region.Origin.X += float64(startX) * vol.Spacing.X
	region.Origin.Y += float64(startY) * vol.Spacing.Y
	region.Origin.Z += float64(startZ) * vol.Spacing.Z

	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				region.Data[region.Index(x, y, z)] = vol.At(startX+x, startY+y, startZ+z)
			}
		}
	}

	return region, nil
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
// as slice_<axis>_<nnn>.png.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Width
	case "y", "Y":
		maxPos = v.vol.Height
	case "z", "Z":
		maxPos = v.vol.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SaveCentralSlices writes the middle slice along each axis into outputDir as
// <name>_<axis>.png and returns the written paths.
func (v *Viewer) SaveCentralSlices(outputDir, name string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	centres := map[string]int{"x": v.vol.Width / 2, "y": v.vol.Height / 2, "z": v.vol.Depth / 2}
	var paths []string
	for _, axis := range []string{"x", "y", "z"} {
		img, err := v.ExtractSlice(axis, centres[axis])
		if err != nil {
			return paths, err
		}
		path := filepath.Join(outputDir, fmt.Sprintf("%s_%s.png", name, axis))
		if err := v.SaveSlice(img, path); err != nil {
			return paths, fmt.Errorf("failed to save %s preview: %w", axis, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
