package batch

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"toothanalyser/pkg/segmentation"
	"toothanalyser/pkg/threshold"
	"toothanalyser/pkg/volume"
	"toothanalyser/pkg/volumeio"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// createSphere builds a ball of value inner, with a brighter upper shell of
// value crown when crown > 0, on a background of 20.
func createSphere(size int, radius, shell, inner, crown float64) *volume.Volume {
	v := volume.New(size, size, size, volume.UInt16)
	c := float64(size) / 2
	for i := range v.Data {
		x, y, z := v.Coords(i)
		dx, dy, dz := float64(x)-c, float64(y)-c, float64(z)-c
		d := math.Sqrt(dx*dx + dy*dy + dz*dz)
		v.Data[i] = 20
		if d <= radius {
			v.Data[i] = inner
			if crown > 0 && d > shell && float64(z) >= c {
				v.Data[i] = crown
			}
		}
	}
	return v
}

func createDirs(t *testing.T) (string, string, func()) {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "batch-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	source := filepath.Join(tempDir, "source")
	target := filepath.Join(tempDir, "target")
	for _, dir := range []string{source, target} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
	}
	return source, target, func() { os.RemoveAll(tempDir) }
}

func newSegmenter(t *testing.T) *segmentation.Segmenter {
	t.Helper()
	p := segmentation.DefaultParams()
	p.Logger = quietLogger()
	s, err := segmentation.NewSegmenter(p)
	if err != nil {
		t.Fatalf("Failed to create segmenter: %v", err)
	}
	return s
}

func TestCollectFiles(t *testing.T) {
	source, _, cleanup := createDirs(t)
	defer cleanup()

	for _, name := range []string{"b.nrrd", "a.MHD", "a.raw", "c.nii.gz", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(source, name), []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(source, "d.nrrd"), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	files, err := CollectFiles(source, DefaultSuffixes)
	if err != nil {
		t.Fatalf("CollectFiles failed: %v", err)
	}
	want := []string{"a.MHD", "b.nrrd", "c.nii.gz"}
	if len(files) != len(want) {
		t.Fatalf("Expected %v, got %v", want, files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("File %d: expected %s, got %s", i, want[i], files[i])
		}
	}

	if _, err := CollectFiles(filepath.Join(source, "missing"), DefaultSuffixes); !errors.Is(err, volume.ErrInput) {
		t.Errorf("Expected ErrInput for a missing directory, got %v", err)
	}
}

func TestScanName(t *testing.T) {
	tests := map[string]string{
		"P01A-C0005278.mhd": "P01A-C0005278",
		"tooth.nii.gz":      "tooth",
		"scan.v2.nrrd":      "scan.v2",
	}
	for file, want := range tests {
		if got := scanName(file); got != want {
			t.Errorf("scanName(%q) = %q, want %q", file, got, want)
		}
	}
}

func TestResultDir(t *testing.T) {
	if got := ResultDir("/out", threshold.MaxEntropy); got != filepath.Join("/out", "_AnatomicalSegmentation_MaxEntropy") {
		t.Errorf("Unexpected result directory %s", got)
	}
}

func TestNewProcessorErrors(t *testing.T) {
	source, target, cleanup := createDirs(t)
	defer cleanup()
	seg := newSegmenter(t)

	tests := []struct {
		name string
		seg  *segmentation.Segmenter
		opts Options
		want error
	}{
		{"no segmenter", nil, Options{SourceDir: source, TargetDir: target}, volume.ErrConfiguration},
		{"no source", seg, Options{TargetDir: target}, volume.ErrConfiguration},
		{"missing target", seg, Options{SourceDir: source, TargetDir: filepath.Join(target, "nope")}, volume.ErrInput},
		{"dicom output", seg, Options{SourceDir: source, TargetDir: target, FileType: ".dcm"}, volume.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProcessor(tt.seg, tt.opts); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRunContinuesAfterFailures(t *testing.T) {
	source, target, cleanup := createDirs(t)
	defer cleanup()

	if err := os.WriteFile(filepath.Join(source, "broken.nrrd"), []byte("not a volume"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if err := volumeio.Write(createSphere(16, 5, 0, 200, 0), filepath.Join(source, "uniform.mhd")); err != nil {
		t.Fatalf("Failed to write volume: %v", err)
	}

	resultDir := ResultDir(target, threshold.Otsu)
	stale := filepath.Join(resultDir, "old")
	if err := os.MkdirAll(stale, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	proc, err := NewProcessor(newSegmenter(t), Options{
		SourceDir:  source,
		TargetDir:  target,
		NumWorkers: 2,
		Clean:      true,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	report, err := proc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(report.Results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(report.Results))
	}
	if report.Succeeded() != 0 || len(report.Failures()) != 2 {
		t.Errorf("Expected 2 failures, got %d succeeded", report.Succeeded())
	}
	if res := report.Results[0]; res.Name != "broken" || !errors.Is(res.Err, volume.ErrInput) {
		t.Errorf("Expected broken.nrrd to fail with ErrInput, got %s: %v", res.Name, res.Err)
	}
	if res := report.Results[1]; res.Name != "uniform" || !errors.Is(res.Err, volume.ErrComputation) {
		t.Errorf("Expected uniform.mhd to fail with ErrComputation, got %s: %v", res.Name, res.Err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("Expected the result directory to be cleaned")
	}
}

func TestRunCancelled(t *testing.T) {
	source, target, cleanup := createDirs(t)
	defer cleanup()
	if err := volumeio.Write(createSphere(16, 5, 0, 200, 0), filepath.Join(source, "a.mhd")); err != nil {
		t.Fatalf("Failed to write volume: %v", err)
	}

	proc, err := NewProcessor(newSegmenter(t), Options{SourceDir: source, TargetDir: target, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := proc.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].Err == nil {
		t.Errorf("Expected the file to be reported as not processed, got %+v", report.Results)
	}
}

func TestRunWritesOutputs(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping full pipeline run in short mode")
	}
	source, target, cleanup := createDirs(t)
	defer cleanup()

	tooth := createSphere(64, 24, 18, 110, 200)
	if err := volumeio.Write(tooth, filepath.Join(source, "P01.nii.gz")); err != nil {
		t.Fatalf("Failed to write volume: %v", err)
	}

	proc, err := NewProcessor(newSegmenter(t), Options{
		SourceDir: source,
		TargetDir: target,
		FileType:  "mha",
		Previews:  true,
		Meshes:    true,
		Histogram: true,
		Logger:    quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	report, err := proc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Succeeded() != 1 {
		t.Fatalf("Expected one success, got failures %+v", report.Failures())
	}

	res := report.Results[0]
	if want := filepath.Join(target, "_AnatomicalSegmentation_Otsu", "P01"); res.OutputDir != want {
		t.Errorf("Expected output dir %s, got %s", want, res.OutputDir)
	}
	// 8 volumes, 6 previews, 2 meshes and the histogram
	if len(res.Files) != 17 {
		t.Errorf("Expected 17 output files, got %d: %v", len(res.Files), res.Files)
	}
	labels, _, err := volumeio.Load(filepath.Join(res.OutputDir, "P01_segmentation_otsu_otsu_labels.mha"))
	if err != nil {
		t.Fatalf("Failed to load labels: %v", err)
	}
	if got := labels.At(32, 32, 52); got != segmentation.EnamelLabel {
		t.Errorf("Expected enamel in the crown, got label %v", got)
	}
	for _, f := range res.Files {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("Output %s missing: %v", f, err)
		}
	}
}
