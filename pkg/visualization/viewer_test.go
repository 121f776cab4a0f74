package visualization

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"toothanalyser/pkg/segmentation"
	"toothanalyser/pkg/volume"
)

// createTestVolume fills a volume whose value encodes the slice index along z
func createTestVolume(width, height, depth int) *volume.Volume {
	v := volume.New(width, height, depth, volume.UInt16)
	for i := range v.Data {
		_, _, z := v.Coords(i)
		v.Data[i] = float64(z * 1000)
	}
	return v
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	viewer := NewViewer(createTestVolume(width, height, depth))

	// Each z slice carries a single grey level, scaled to the volume range
	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice %d: %v", z, err)
		}
		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d", width, height, bounds.Dx(), bounds.Dy())
		}
		gray, ok := img.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected a Gray16 image, got %T", img)
		}
		want := uint16(float64(z) / float64(depth-1) * 65535)
		if got := gray.Gray16At(width/2, height/2).Y; got != want {
			t.Errorf("Slice %d: expected grey %d, got %d", z, want, got)
		}
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("x", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

// TestLabelColours verifies that label volumes are drawn in their colours
func TestLabelColours(t *testing.T) {
	labels := volume.New(3, 1, 1, volume.UInt8)
	labels.Data = []float64{segmentation.BackgroundLabel, segmentation.DentinLabel, segmentation.EnamelLabel}

	img, err := NewLabelViewer(labels).ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract label slice: %v", err)
	}
	for x, label := range []int{segmentation.BackgroundLabel, segmentation.DentinLabel, segmentation.EnamelLabel} {
		got := color.RGBAModel.Convert(img.At(x, 0)).(color.RGBA)
		if got != LabelColors[label] {
			t.Errorf("Label %d: expected colour %v, got %v", label, LabelColors[label], got)
		}
	}
}

// TestExtractRegion verifies that 3D regions are correctly extracted
func TestExtractRegion(t *testing.T) {
	width, height, depth := 10, 10, 5
	vol := volume.New(width, height, depth, volume.Float64)
	vol.Spacing = r3.Vec{X: 0.5, Y: 0.5, Z: 2}
	for i := range vol.Data {
		x, y, z := vol.Coords(i)
		vol.Data[i] = float64(x) + 10*float64(y) + 100*float64(z)
	}
	viewer := NewViewer(vol)

	startX, startY, startZ := 2, 3, 1
	sizeX, sizeY, sizeZ := 4, 3, 2
	region, err := viewer.ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ)
	if err != nil {
		t.Fatalf("Failed to extract region: %v", err)
	}

	if region.Width != sizeX || region.Height != sizeY || region.Depth != sizeZ {
		t.Errorf("Expected region %dx%dx%d, got %s", sizeX, sizeY, sizeZ, region)
	}
	if want := (r3.Vec{X: 1, Y: 1.5, Z: 2}); region.Origin != want {
		t.Errorf("Expected region origin %v, got %v", want, region.Origin)
	}
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				if got, want := region.At(x, y, z), vol.At(startX+x, startY+y, startZ+z); got != want {
					t.Errorf("Region value mismatch at (%d,%d,%d): expected %f, got %f", x, y, z, want, got)
				}
			}
		}
	}

	if _, err := viewer.ExtractRegion(-1, 0, 0, 1, 1, 1); err == nil {
		t.Error("Expected error for negative start coordinate, got nil")
	}
	if _, err := viewer.ExtractRegion(0, 0, 0, 0, 1, 1); err == nil {
		t.Error("Expected error for zero size, got nil")
	}
	if _, err := viewer.ExtractRegion(width-1, 0, 0, 2, 1, 1); err == nil {
		t.Error("Expected error for region extending beyond volume, got nil")
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	tempDir, err := os.MkdirTemp("", "viewer-sequence-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	width, height, depth := 5, 5, 3
	viewer := NewViewer(createTestVolume(width, height, depth))

	outputDir := filepath.Join(tempDir, "slices")
	if err := viewer.SaveSliceSequence("z", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}
	for z := 0; z < depth; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.png", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}

	paths, err := viewer.SaveCentralSlices(filepath.Join(tempDir, "preview"), "P01")
	if err != nil {
		t.Fatalf("Failed to save central slices: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("Expected 3 preview files, got %d", len(paths))
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Preview %s missing: %v", path, err)
		}
	}
}
