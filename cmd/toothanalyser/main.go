package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"toothanalyser/pkg/batch"
	"toothanalyser/pkg/config"
	"toothanalyser/pkg/segmentation"
	"toothanalyser/pkg/threshold"
)

func initLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		logger.Debug("Debug logging enabled")
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return logger
}

func main() {
	// Parse command line arguments
	input := flag.String("input", "", "Scan to segment (.mhd, .mha, .nrrd, .nhdr, .nii, .nii.gz, .dcm or a DICOM directory)")
	batchSource := flag.String("batch-source", "", "Directory of scans to segment in batch mode")
	batchTarget := flag.String("batch-target", "", "Directory receiving the batch results")
	outputDir := flag.String("output", ".", "Directory receiving the results of -input")
	configPath := flag.String("config", "", "YAML configuration file")
	createConfig := flag.String("create-config", "", "Write a default configuration file to this path and exit")
	algorithm := flag.String("algorithm", "", "Enamel threshold algorithm (see below)")
	midSurface := flag.Bool("midsurface", false, "Compute the medial surfaces of enamel and dentin")
	fileType := flag.String("type", "", "Output file type (.nrrd, .nii, .nii.gz, .mhd, .mha)")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: all available)")
	workers := flag.Int("workers", 0, "Number of scans segmented at the same time in batch mode")
	clean := flag.Bool("clean", false, "Empty the batch result directory first")
	previews := flag.Bool("preview", false, "Write PNG previews of the central slices")
	meshes := flag.Bool("stl", false, "Write enamel and dentin surfaces as binary STL")
	histogram := flag.Bool("histogram", false, "Write the intensity histogram of the scan as CSV")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *createConfig != "" {
		if err := config.CreateDefaultConfigFile(*createConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *createConfig)
		return
	}

	if (*input == "") == (*batchSource == "") {
		fmt.Fprintln(os.Stderr, "Exactly one of -input or -batch-source is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	// Flags given on the command line override the configuration
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "algorithm":
			cfg.Segmentation.Algorithm = *algorithm
		case "midsurface":
			cfg.Segmentation.ComputeMidSurface = *midSurface
		case "type":
			cfg.Output.FileType = *fileType
		case "cores":
			cfg.Processing.NumCores = *numCores
		case "workers":
			cfg.Processing.NumWorkers = *workers
		case "clean":
			cfg.Output.Clean = *clean
		case "preview":
			cfg.Output.Previews = *previews
		case "stl":
			cfg.Output.Meshes = *meshes
		case "histogram":
			cfg.Output.Histogram = *histogram
		case "verbose":
			cfg.Output.Verbose = *verbose
		}
	})

	log := initLogger(cfg.Output.Verbose)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	runtime.GOMAXPROCS(cfg.Processing.NumCores)

	params, err := cfg.SegmentationParams()
	if err != nil {
		log.WithError(err).Fatal("Invalid segmentation parameters")
	}
	params.Logger = log
	seg, err := segmentation.NewSegmenter(params)
	if err != nil {
		log.WithError(err).Fatal("Failed to create segmenter")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"algorithm":  params.Algorithm.String(),
		"tooth":      params.ToothAlgorithm.String(),
		"midsurface": params.ComputeMidSurface,
		"cores":      cfg.Processing.NumCores,
	}).Info("ToothAnalyser anatomical segmentation")

	startTime := time.Now()
	if *batchSource != "" {
		code := runBatch(ctx, log, seg, cfg, *batchSource, *batchTarget)
		stop()
		os.Exit(code)
	}
	if err := runSingle(ctx, log, seg, cfg, *input, *outputDir); err != nil {
		log.WithError(err).Error("Segmentation failed")
		os.Exit(1)
	}
	log.WithField("elapsed", time.Since(startTime).Round(time.Millisecond).String()).Info("Done")
}

func runSingle(ctx context.Context, log *logrus.Logger, seg *segmentation.Segmenter, cfg *config.Config, input, outputDir string) error {
	tooth, err := seg.ProcessFile(ctx, input)
	if err != nil {
		return err
	}
	dir := filepath.Join(outputDir, tooth.Name)
	files, err := tooth.WriteAll(dir, cfg.Output.FileType)
	if err != nil {
		return err
	}
	extra, err := batch.WriteExtras(tooth, dir, cfg.Output.Previews, cfg.Output.Meshes, cfg.Output.Histogram)
	if err != nil {
		return err
	}
	files = append(files, extra...)
	for _, f := range files {
		log.WithField("file", f).Debug("Written")
	}
	log.WithFields(logrus.Fields{
		"dir":   dir,
		"files": len(files),
	}).Info("Results written")
	return nil
}

func runBatch(ctx context.Context, log *logrus.Logger, seg *segmentation.Segmenter, cfg *config.Config, source, target string) int {
	if target == "" {
		target = source
	}
	proc, err := batch.NewProcessor(seg, batch.Options{
		SourceDir:  source,
		TargetDir:  target,
		Suffixes:   cfg.Batch.Suffixes,
		FileType:   cfg.Output.FileType,
		NumWorkers: cfg.Processing.NumWorkers,
		Clean:      cfg.Output.Clean,
		Previews:   cfg.Output.Previews,
		Meshes:     cfg.Output.Meshes,
		Histogram:  cfg.Output.Histogram,
		Logger:     log,
	})
	if err != nil {
		log.WithError(err).Error("Failed to start batch")
		return 1
	}
	report, err := proc.Run(ctx)
	if err != nil && report == nil {
		log.WithError(err).Error("Batch failed")
		return 1
	}

	fmt.Printf("\nBatch results in %s\n", report.ResultDir)
	fmt.Printf("- Segmented: %d of %d scans\n", report.Succeeded(), len(report.Results))
	for _, f := range report.Failures() {
		fmt.Printf("- Failed: %s (%v)\n", filepath.Base(f.Path), f.Err)
	}
	if err != nil || len(report.Failures()) > 0 {
		return 1
	}
	return 0
}

// algorithmsUsage lists the algorithm names for -help output.
func algorithmsUsage() string {
	s := ""
	for i, a := range threshold.Algorithms() {
		if i > 0 {
			s += ", "
		}
		s += a.String()
	}
	return s
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "  %s -input scan.mhd [-output dir] [flags]\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "  %s -batch-source dir -batch-target dir [flags]\n\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nThreshold algorithms: %s\n", algorithmsUsage())
	}
}
