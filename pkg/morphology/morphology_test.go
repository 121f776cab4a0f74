package morphology

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"toothanalyser/pkg/volume"
)

// createCube returns a size³ binary volume with the cube [lo, hi]³ set.
func createCube(size, lo, hi int) *volume.Volume {
	v := volume.New(size, size, size, volume.UInt8)
	for z := lo; z <= hi; z++ {
		for y := lo; y <= hi; y++ {
			for x := lo; x <= hi; x++ {
				v.Data[v.Index(x, y, z)] = 1
			}
		}
	}
	return v
}

func TestSquaredDistance(t *testing.T) {
	v := volume.New(6, 6, 3, volume.UInt8)
	v.Data[v.Index(0, 0, 0)] = 1
	d2 := SquaredDistance(v)
	tests := []struct {
		x, y, z int
		want    float64
	}{
		{0, 0, 0, 0},
		{1, 0, 0, 1},
		{3, 4, 0, 25},
		{1, 1, 2, 6},
		{5, 5, 2, 54},
	}
	for _, tt := range tests {
		if got := d2.At(tt.x, tt.y, tt.z); got != tt.want {
			t.Errorf("d²(%d,%d,%d) = %v, want %v", tt.x, tt.y, tt.z, got, tt.want)
		}
	}
}

func TestDilateBall(t *testing.T) {
	v := volume.New(9, 9, 9, volume.UInt8)
	v.Data[v.Index(4, 4, 4)] = 1
	d, err := Dilate(v, 2)
	if err != nil {
		t.Fatalf("Dilate failed: %v", err)
	}
	// Integer offsets with |o|² ≤ 4: 1 + 6 + 12 + 8 + 6.
	if n := volume.Count(d); n != 33 {
		t.Errorf("ball of radius 2 has %d voxels, want 33", n)
	}
	e, err := Erode(d, 2)
	if err != nil {
		t.Fatalf("Erode failed: %v", err)
	}
	if n := volume.Count(e); n != 1 || e.At(4, 4, 4) != 1 {
		t.Errorf("eroding the ball left %d voxels, want only the centre", n)
	}
}

func TestErodeKeepsGridBorder(t *testing.T) {
	v := createCube(5, 0, 4)
	e, err := Erode(v, 1)
	if err != nil {
		t.Fatalf("Erode failed: %v", err)
	}
	if !volume.Equals(e, v) {
		t.Error("grid border eroded a volume that fills the grid")
	}
}

func TestNegativeRadius(t *testing.T) {
	v := createCube(5, 1, 3)
	if _, err := Dilate(v, -1); !errors.Is(err, volume.ErrConfiguration) {
		t.Errorf("Dilate: expected ErrConfiguration, got %v", err)
	}
	if _, err := ClosingByReconstruction(v, -2); !errors.Is(err, volume.ErrConfiguration) {
		t.Errorf("ClosingByReconstruction: expected ErrConfiguration, got %v", err)
	}
	if _, err := Median(v, -1); !errors.Is(err, volume.ErrConfiguration) {
		t.Errorf("Median: expected ErrConfiguration, got %v", err)
	}
}

func TestRadiusZeroIsIdentity(t *testing.T) {
	v := createCube(12, 2, 9)
	// carve a cavity and a notch so the operators would change something
	for z := 5; z <= 6; z++ {
		for y := 5; y <= 6; y++ {
			for x := 5; x <= 6; x++ {
				v.Data[v.Index(x, y, z)] = 0
			}
		}
	}
	v.Data[v.Index(2, 2, 2)] = 0

	ops := map[string]func(*volume.Volume, int) (*volume.Volume, error){
		"ClosingByReconstruction": ClosingByReconstruction,
		"OpeningByReconstruction": OpeningByReconstruction,
		"Closing":                 Closing,
		"Opening":                 Opening,
		"Dilate":                  Dilate,
		"Erode":                   Erode,
	}
	for name, op := range ops {
		got, err := op(v, 0)
		if err != nil {
			t.Fatalf("%s failed: %v", name, err)
		}
		if !volume.Equals(got, v) {
			t.Errorf("%s with radius 0 changed the volume", name)
		}
	}
}

func TestClosingByReconstructionFillsCavity(t *testing.T) {
	v := createCube(12, 2, 9)
	for z := 5; z <= 6; z++ {
		for y := 5; y <= 6; y++ {
			for x := 5; x <= 6; x++ {
				v.Data[v.Index(x, y, z)] = 0
			}
		}
	}
	got, err := ClosingByReconstruction(v, 1)
	if err != nil {
		t.Fatalf("ClosingByReconstruction failed: %v", err)
	}
	want := createCube(12, 2, 9)
	if !volume.Equals(got, want) {
		t.Errorf("expected the solid cube, got %d foreground voxels (want %d)",
			volume.Count(got), volume.Count(want))
	}
}

func TestOpeningByReconstructionRemovesSpeck(t *testing.T) {
	v := createCube(14, 2, 6)
	v.Data[v.Index(10, 10, 10)] = 1
	got, err := OpeningByReconstruction(v, 1)
	if err != nil {
		t.Fatalf("OpeningByReconstruction failed: %v", err)
	}
	if !volume.Equals(got, createCube(14, 2, 6)) {
		t.Error("expected only the cube to survive, untouched")
	}
}

func TestContourAndSignedDistance(t *testing.T) {
	v := createCube(5, 1, 3)
	c := Contour(v)
	if n := volume.Count(c); n != 26 {
		t.Fatalf("contour of a 3³ cube has %d voxels, want 26", n)
	}
	if c.At(2, 2, 2) != 0 {
		t.Error("cube centre reported on the contour")
	}

	sd, err := SignedDistanceMap(v)
	if err != nil {
		t.Fatalf("SignedDistanceMap failed: %v", err)
	}
	if got := sd.At(2, 2, 2); got != -1 {
		t.Errorf("centre distance = %v, want -1", got)
	}
	if got := sd.At(1, 1, 1); got != 0 {
		t.Errorf("contour distance = %v, want 0", got)
	}
	if got := sd.At(0, 2, 2); got != 1 {
		t.Errorf("outside distance = %v, want 1", got)
	}
	if got := sd.At(0, 0, 0); math.Abs(got-math.Sqrt(3)) > 1e-12 {
		t.Errorf("corner distance = %v, want sqrt(3)", got)
	}

	if _, err := SignedDistanceMap(volume.New(4, 4, 4, volume.UInt8)); !errors.Is(err, volume.ErrComputation) {
		t.Errorf("expected ErrComputation for an empty segment, got %v", err)
	}
}

func TestMedianRemovesSaltAndPepper(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	v := volume.New(16, 16, 16, volume.UInt16)
	for i := range v.Data {
		switch r := rng.Float64(); {
		case r < 0.05:
			v.Data[i] = 0
		case r < 0.10:
			v.Data[i] = 65535
		default:
			v.Data[i] = 30000
		}
	}
	if volume.StdDev(v) < volume.DefaultSmoothnessLimit {
		t.Fatalf("noisy volume std dev %f is below the limit", volume.StdDev(v))
	}
	if volume.IsPreSmoothed(v, volume.DefaultSmoothnessLimit) {
		t.Error("noisy volume reported as smoothed")
	}

	smooth, err := Median(v, 1)
	if err != nil {
		t.Fatalf("Median failed: %v", err)
	}
	if smooth.PixelType != volume.UInt16 {
		t.Errorf("median changed pixel type to %s", smooth.PixelType)
	}
	if !volume.IsPreSmoothed(smooth, volume.DefaultSmoothnessLimit) {
		t.Errorf("median filtered volume not reported as smoothed (std dev %f)", volume.StdDev(smooth))
	}
}

func TestGaussianSmooth(t *testing.T) {
	v := createCube(10, 3, 6)
	g, err := GaussianSmooth(v, 0.04)
	if err != nil {
		t.Fatalf("GaussianSmooth failed: %v", err)
	}
	if !volume.Equals(volume.GreaterThan(g, 0.7), v) {
		t.Error("narrow gaussian at unit spacing should not change a binary volume")
	}

	wide, err := GaussianSmooth(v, 1.5)
	if err != nil {
		t.Fatalf("GaussianSmooth failed: %v", err)
	}
	for i, val := range wide.Data {
		if val < -1e-12 || val > 1+1e-12 {
			t.Fatalf("smoothed voxel %d = %f outside [0, 1]", i, val)
		}
	}
	if math.Abs(wide.At(4, 4, 4)-wide.At(5, 5, 5)) > 1e-12 {
		t.Errorf("smoothing broke symmetry: %f vs %f", wide.At(4, 4, 4), wide.At(5, 5, 5))
	}
	if wide.At(0, 0, 0) >= wide.At(4, 4, 4) {
		t.Error("smoothing did not keep the peak inside the cube")
	}

	if _, err := GaussianSmooth(v, -1); !errors.Is(err, volume.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for negative sigma, got %v", err)
	}
}
