package volume

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

// createSphere returns a binary sphere of the given radius centred in a cube
func createSphere(size int, radius float64) *Volume {
	v := New(size, size, size, UInt8)
	c := float64(size) / 2
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx, dy, dz := float64(x)-c, float64(y)-c, float64(z)-c
				if math.Sqrt(dx*dx+dy*dy+dz*dz) <= radius {
					v.Data[v.Index(x, y, z)] = 1
				}
			}
		}
	}
	return v
}

func TestIndexCoords(t *testing.T) {
	v := New(5, 4, 3, UInt16)
	for i := 0; i < v.Len(); i++ {
		x, y, z := v.Coords(i)
		if got := v.Index(x, y, z); got != i {
			t.Fatalf("Index(Coords(%d)) = %d", i, got)
		}
		if !v.Contains(x, y, z) {
			t.Fatalf("Coords(%d) = (%d,%d,%d) is outside the grid", i, x, y, z)
		}
	}
	if v.Contains(5, 0, 0) || v.Contains(0, -1, 0) {
		t.Error("Contains accepted an out-of-range voxel")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		vol  *Volume
		ok   bool
	}{
		{"valid", New(2, 2, 2, UInt8), true},
		{"nil", nil, false},
		{"zero depth", New(2, 2, 0, UInt8), false},
		{"short data", &Volume{Data: make([]float64, 3), Width: 2, Height: 2, Depth: 1, Spacing: r3.Vec{X: 1, Y: 1, Z: 1}}, false},
		{"zero spacing", &Volume{Data: make([]float64, 1), Width: 1, Height: 1, Depth: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.vol.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInput) {
				t.Fatalf("expected ErrInput, got %v", err)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	v := createSphere(8, 3)
	v.Spacing = r3.Vec{X: 0.5, Y: 0.5, Z: 2}
	c := v.Clone()
	if !Equals(v, c) {
		t.Fatal("clone differs from original")
	}
	c.Data[0] = 7
	if v.Data[0] == 7 {
		t.Error("modifying the clone changed the original")
	}
}

func TestMaskBinaryByItself(t *testing.T) {
	v := createSphere(12, 4)
	m, err := Mask(v, v)
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}
	if !Equals(m, v) {
		t.Error("masking a binary volume by itself changed it")
	}
}

func TestGeometryMismatch(t *testing.T) {
	a := New(4, 4, 4, UInt8)
	b := New(4, 4, 5, UInt8)
	if _, err := Or(a, b); !errors.Is(err, ErrInput) {
		t.Errorf("Or: expected ErrInput, got %v", err)
	}
	if _, err := Mask(a, b); !errors.Is(err, ErrInput) {
		t.Errorf("Mask: expected ErrInput, got %v", err)
	}
	c := New(4, 4, 4, UInt8)
	c.Origin = r3.Vec{X: 1}
	if _, err := AndNot(a, c); !errors.Is(err, ErrInput) {
		t.Errorf("AndNot: expected ErrInput for origin mismatch, got %v", err)
	}
}

func TestLogicalOps(t *testing.T) {
	a := New(4, 1, 1, UInt8)
	b := New(4, 1, 1, UInt8)
	copy(a.Data, []float64{0, 1, 0, 1})
	copy(b.Data, []float64{0, 0, 1, 1})

	or, _ := Or(a, b)
	and, _ := And(a, b)
	andNot, _ := AndNot(a, b)
	not := Not(a)

	want := map[string][]float64{
		"or":     {0, 1, 1, 1},
		"and":    {0, 0, 0, 1},
		"andNot": {0, 1, 0, 0},
		"not":    {1, 0, 1, 0},
	}
	got := map[string]*Volume{"or": or, "and": and, "andNot": andNot, "not": not}
	for name, w := range want {
		for i := range w {
			if got[name].Data[i] != w[i] {
				t.Errorf("%s[%d] = %v, want %v", name, i, got[name].Data[i], w[i])
			}
		}
	}
}

func TestWeightedSumLabels(t *testing.T) {
	enamel := New(3, 1, 1, UInt8)
	dentin := New(3, 1, 1, UInt8)
	enamel.Data[0] = 1
	dentin.Data[1] = 1
	labels, err := WeightedSum([]*Volume{enamel, dentin}, []float64{3, 2})
	if err != nil {
		t.Fatalf("WeightedSum failed: %v", err)
	}
	want := []float64{3, 2, 0}
	for i := range want {
		if labels.Data[i] != want[i] {
			t.Errorf("label %d = %v, want %v", i, labels.Data[i], want[i])
		}
	}
	if _, err := WeightedSum([]*Volume{enamel}, []float64{1, 2}); !errors.Is(err, ErrInput) {
		t.Errorf("expected ErrInput for weight count mismatch, got %v", err)
	}
}

func TestStdDevAndSmoothness(t *testing.T) {
	v := New(10, 10, 10, UInt16)
	for i := range v.Data {
		if i%2 == 0 {
			v.Data[i] = 60000
		}
	}
	// Half 0, half 60000: population std dev is exactly 30000.
	if sd := StdDev(v); math.Abs(sd-30000) > 1e-6 {
		t.Errorf("StdDev = %f, want 30000", sd)
	}
	if IsPreSmoothed(v, DefaultSmoothnessLimit) {
		t.Error("high-variance volume reported as smoothed")
	}

	flat := Map(v, UInt16, func(float64) float64 { return 1200 })
	if !IsPreSmoothed(flat, 0) {
		t.Error("constant volume not reported as smoothed")
	}
	if lo, hi := MinMax(v); lo != 0 || hi != 60000 {
		t.Errorf("MinMax = (%v, %v), want (0, 60000)", lo, hi)
	}
}
