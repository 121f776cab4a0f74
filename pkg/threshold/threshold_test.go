package threshold

import (
	"errors"
	"math"
	"testing"

	"toothanalyser/pkg/volume"
)

// bimodalHistogram returns 256 bins with a narrow mode at 60 and a wider,
// smaller mode at 190.
func bimodalHistogram() []float64 {
	h := make([]float64, 256)
	for i := range h {
		a := float64(i - 60)
		b := float64(i - 190)
		h[i] = math.Round(1000*math.Exp(-a*a/(2*64))) + math.Round(400*math.Exp(-b*b/(2*196)))
	}
	return h
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		name string
		want Algorithm
	}{
		{"Otsu", Otsu},
		{"renyi", Renyi},
		{"MAXENTROPY", MaxEntropy},
		{" Kittler ", Kittler},
	}
	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.name)
		if err != nil {
			t.Fatalf("ParseAlgorithm(%q) failed: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("ParseAlgorithm(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}

	if _, err := ParseAlgorithm("Bogus"); !errors.Is(err, volume.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for Bogus, got %v", err)
	}
	if got := MaxEntropy.Key(); got != "maxentropy" {
		t.Errorf("Key() = %q, want maxentropy", got)
	}
	if Intermodes.Bins() != 500 || Otsu.Bins() != 20000 {
		t.Errorf("unexpected bin counts %d/%d", Intermodes.Bins(), Otsu.Bins())
	}
	if len(Algorithms()) != 10 {
		t.Errorf("expected 10 algorithms, got %d", len(Algorithms()))
	}
}

func TestInvalidAlgorithmNeverThresholds(t *testing.T) {
	v := volume.New(4, 4, 4, volume.UInt16)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}
	out, _, err := Apply(v, Algorithm(42), nil)
	if !errors.Is(err, volume.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if out != nil {
		t.Error("an invalid algorithm returned a binary volume")
	}
}

func TestCalculatorsSplitBimodalHistogram(t *testing.T) {
	h := bimodalHistogram()
	for _, algo := range Algorithms() {
		calc, err := algo.calculator()
		if err != nil {
			t.Fatalf("%s: %v", algo, err)
		}
		cut, err := calc(h)
		if err != nil {
			t.Errorf("%s failed: %v", algo, err)
			continue
		}
		if cut <= 60 || cut >= 190 {
			t.Errorf("%s cut at bin %d, want between the modes (60, 190)", algo, cut)
		}
	}
}

func TestKnownCuts(t *testing.T) {
	h := bimodalHistogram()
	tests := []struct {
		calc calculator
		name string
		want int
	}{
		{intermodes, "Intermodes", 125},
		{isoData, "IsoData", 125},
		{kittler, "Kittler", 107},
	}
	for _, tt := range tests {
		got, err := tt.calc(h)
		if err != nil {
			t.Fatalf("%s failed: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s cut = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestHistogramErrors(t *testing.T) {
	flat := volume.New(4, 4, 4, volume.UInt16)
	for i := range flat.Data {
		flat.Data[i] = 200
	}
	if _, err := NewHistogram(flat, nil, 100); !errors.Is(err, volume.ErrComputation) {
		t.Errorf("constant volume: expected ErrComputation, got %v", err)
	}
	empty := volume.New(4, 4, 4, volume.UInt8)
	if _, err := NewHistogram(flat, empty, 100); !errors.Is(err, volume.ErrComputation) {
		t.Errorf("empty mask: expected ErrComputation, got %v", err)
	}
}

func TestApplyWithMask(t *testing.T) {
	v := volume.New(10, 10, 10, volume.UInt16)
	mask := volume.New(10, 10, 10, volume.UInt8)
	for i := range v.Data {
		x, _, z := v.Coords(i)
		v.Data[i] = 100
		if x >= 5 {
			v.Data[i] = 1000
		}
		if z < 8 {
			mask.Data[i] = 1
		}
	}

	out, cut, err := Apply(v, Otsu, mask)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if cut.Value <= 100 || cut.Value > 1000 {
		t.Errorf("cut value %g not between the two intensities", cut.Value)
	}
	for i, val := range out.Data {
		x, _, z := v.Coords(i)
		want := 0.0
		if x >= 5 && z < 8 {
			want = 1
		}
		if val != want {
			t.Fatalf("voxel (%d, _, %d) = %v, want %v", x, z, val, want)
		}
	}
}

func TestBinaryInputIsFixedPoint(t *testing.T) {
	b := volume.New(12, 12, 12, volume.UInt8)
	for i := range b.Data {
		x, y, z := b.Coords(i)
		if (x-6)*(x-6)+(y-6)*(y-6)+(z-6)*(z-6) <= 16 {
			b.Data[i] = 1
		}
	}
	masked, err := volume.Mask(b, b)
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}
	for _, algo := range []Algorithm{Otsu, MaxEntropy, Renyi, Yen} {
		out, _, err := Apply(masked, algo, nil)
		if err != nil {
			t.Fatalf("%s failed: %v", algo, err)
		}
		if !volume.Equals(out, b) {
			t.Errorf("%s changed an already binary volume", algo)
		}
	}
}
