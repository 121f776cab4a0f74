// Package batch segments every scan of a source directory and writes the
// results into a target directory, one sub-directory per scan:
//
//	<target>/_AnatomicalSegmentation_<Algorithm>/<name>/<name>_img.nrrd ...
//
// Files are processed on a bounded pool of workers. A failing file is logged
// and reported, and the remaining files are still processed.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"toothanalyser/pkg/analytics"
	"toothanalyser/pkg/segmentation"
	"toothanalyser/pkg/stl"
	"toothanalyser/pkg/threshold"
	"toothanalyser/pkg/visualization"
	"toothanalyser/pkg/volume"
	"toothanalyser/pkg/volumeio"
)

// ResultDirPrefix starts the name of the result directory of a batch run.
const ResultDirPrefix = "_AnatomicalSegmentation_"

// DefaultSuffixes are the file types collected when none are configured.
var DefaultSuffixes = []string{".mhd", ".mha", ".nrrd", ".nhdr", ".nii", ".nii.gz"}

// Options configures a batch run.
type Options struct {
	SourceDir string
	TargetDir string

	// Suffixes selects the source files; empty selects DefaultSuffixes.
	Suffixes []string

	// FileType is the suffix of the written volumes, ".nrrd" by default.
	FileType string

	// NumWorkers bounds the number of scans segmented at the same time.
	NumWorkers int

	// Clean empties the result directory before the run.
	Clean bool

	// Extra outputs written next to the volumes.
	Previews  bool
	Meshes    bool
	Histogram bool

	Logger *logrus.Logger
}

// Result describes the outcome for one source file.
type Result struct {
	Path      string
	Name      string
	OutputDir string
	Files     []string
	Elapsed   time.Duration
	Err       error
}

// Report collects the results of a run in source file order.
type Report struct {
	ResultDir string
	Results   []Result
}

// Succeeded returns the number of files segmented without error.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failures returns the results that carry an error.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// CollectFiles returns the sorted names of the regular files in dir whose
// suffix, ignoring case, is one of suffixes.
func CollectFiles(dir string, suffixes []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		lower := strings.ToLower(e.Name())
		for _, s := range suffixes {
			if strings.HasSuffix(lower, strings.ToLower(s)) {
				files = append(files, e.Name())
				break
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// ResultDir returns the directory a run with the given enamel algorithm
// writes into.
func ResultDir(target string, algo threshold.Algorithm) string {
	return filepath.Join(target, ResultDirPrefix+algo.String())
}

// ClearDirectory removes everything inside dir but keeps dir itself.
func ClearDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("failed to clean %s: %w", dir, err)
		}
	}
	return nil
}

// scanName derives the result name of a source file, removing a double
// suffix such as ".nii.gz".
func scanName(file string) string {
	if strings.HasSuffix(strings.ToLower(file), ".nii.gz") {
		file = file[:len(file)-len(".gz")]
	}
	return volumeio.ParseName(file)
}

// Processor runs batch segmentations with one segmenter.
type Processor struct {
	seg  *segmentation.Segmenter
	opts Options
	log  *logrus.Logger
}

// NewProcessor checks opts and returns a Processor.
func NewProcessor(seg *segmentation.Segmenter, opts Options) (*Processor, error) {
	if seg == nil {
		return nil, fmt.Errorf("%w: no segmenter", volume.ErrConfiguration)
	}
	if opts.SourceDir == "" || opts.TargetDir == "" {
		return nil, fmt.Errorf("%w: source and target directories are required", volume.ErrConfiguration)
	}
	for _, dir := range []string{opts.SourceDir, opts.TargetDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", volume.ErrInput, dir)
		}
	}
	if len(opts.Suffixes) == 0 {
		opts.Suffixes = DefaultSuffixes
	}
	if opts.FileType == "" {
		opts.FileType = ".nrrd"
	}
	if !strings.HasPrefix(opts.FileType, ".") {
		opts.FileType = "." + opts.FileType
	}
	switch volumeio.DetectFormat(opts.FileType) {
	case volumeio.Unknown, volumeio.DICOM:
		return nil, fmt.Errorf("%w: unsupported output type %q", volume.ErrConfiguration, opts.FileType)
	}
	if opts.NumWorkers < 1 {
		opts.NumWorkers = 1
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Processor{seg: seg, opts: opts, log: log}, nil
}

// Run processes every collected file. The returned error is set only when
// the run could not start or ctx was cancelled; per-file failures are in the
// report.
func (p *Processor) Run(ctx context.Context) (*Report, error) {
	files, err := CollectFiles(p.opts.SourceDir, p.opts.Suffixes)
	if err != nil {
		return nil, err
	}
	resultDir := ResultDir(p.opts.TargetDir, p.seg.Params().Algorithm)
	if err := os.MkdirAll(resultDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create result directory: %w", err)
	}
	if p.opts.Clean {
		if err := ClearDirectory(resultDir); err != nil {
			return nil, err
		}
	}
	p.log.WithFields(logrus.Fields{
		"files":   len(files),
		"workers": p.opts.NumWorkers,
		"target":  resultDir,
	}).Info("Starting batch segmentation")

	report := &Report{ResultDir: resultDir, Results: make([]Result, len(files))}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < p.opts.NumWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				report.Results[i] = p.processFile(ctx, resultDir, files[i])
			}
		}()
	}

feed:
	for i := range files {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		for i := range report.Results {
			if report.Results[i].Path == "" {
				report.Results[i] = Result{
					Path: filepath.Join(p.opts.SourceDir, files[i]),
					Name: scanName(files[i]),
					Err:  fmt.Errorf("not processed: %w", err),
				}
			}
		}
		return report, fmt.Errorf("batch cancelled: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"succeeded": report.Succeeded(),
		"failed":    len(report.Failures()),
	}).Info("Batch segmentation complete")
	return report, nil
}

func (p *Processor) processFile(ctx context.Context, resultDir, file string) Result {
	start := time.Now()
	res := Result{
		Path: filepath.Join(p.opts.SourceDir, file),
		Name: scanName(file),
	}
	res.OutputDir = filepath.Join(resultDir, res.Name)
	entry := p.log.WithField("file", file)

	res.Files, res.Err = p.segment(ctx, res.Path, res.OutputDir)
	res.Elapsed = time.Since(start)
	if res.Err != nil {
		level := logrus.ErrorLevel
		if errors.Is(res.Err, context.Canceled) {
			level = logrus.WarnLevel
		}
		entry.WithError(res.Err).Log(level, "Segmentation failed")
		return res
	}
	entry.WithFields(logrus.Fields{
		"outputs": len(res.Files),
		"elapsed": res.Elapsed.Round(time.Millisecond).String(),
	}).Info("Segmentation written")
	return res
}

func (p *Processor) segment(ctx context.Context, path, outDir string) ([]string, error) {
	tooth, err := p.seg.ProcessFile(ctx, path)
	if err != nil {
		return nil, err
	}
	files, err := tooth.WriteAll(outDir, p.opts.FileType)
	if err != nil {
		return files, err
	}
	extra, err := WriteExtras(tooth, outDir, p.opts.Previews, p.opts.Meshes, p.opts.Histogram)
	return append(files, extra...), err
}

// WriteExtras writes the optional previews, meshes and intensity histogram
// of a result into dir.
func WriteExtras(tooth *segmentation.ToothResult, dir string, previews, meshes, histogram bool) ([]string, error) {
	var files []string
	if previews {
		paths, err := visualization.NewViewer(tooth.Image).SaveCentralSlices(dir, tooth.Name+"_img")
		files = append(files, paths...)
		if err != nil {
			return files, fmt.Errorf("failed to write previews: %w", err)
		}
		paths, err = visualization.NewLabelViewer(tooth.Labels).SaveCentralSlices(dir, tooth.Name+"_labels")
		files = append(files, paths...)
		if err != nil {
			return files, fmt.Errorf("failed to write label previews: %w", err)
		}
	}
	if meshes {
		paths, err := stl.SaveLabelMeshes(tooth.Labels, dir, tooth.Name)
		files = append(files, paths...)
		if err != nil {
			return files, fmt.Errorf("failed to write meshes: %w", err)
		}
	}
	if histogram {
		h, err := analytics.Compute(tooth.Image, analytics.DefaultBins)
		if err != nil {
			return files, fmt.Errorf("failed to compute histogram: %w", err)
		}
		path := filepath.Join(dir, tooth.Name+"_histogram.csv")
		if err := h.SaveCSV(path); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	return files, nil
}
