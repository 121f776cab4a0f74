// Package segmentation implements the anatomical segmentation of micro-CT
// tooth scans into enamel and dentin.
//
// A run is a fixed sequence of steps over one input volume:
//  1. Validate the input (or load it, see ProcessFile)
//  2. Median smoothing unless the scan is smooth already
//  3. First adaptive cut separating the tooth from the background
//  4. Mask the raw volume with the tooth
//  5. Mask the smoothed volume with the tooth
//  6. Second cut on the masked raw tooth, closed and reduced to its largest part
//  7. Second cut on the masked smoothed tooth, same cleanup
//  8. Union of both enamel selections
//  9. Enamel preparation: closings, Gaussian smoothing, largest component
//  10. Dilated tooth contour
//  11. Small structures enclosed in the tooth join the enamel
//  12. Holes enclosed by the enamel join the enamel
//  13. Dentin as the rest of the tooth inside the contour
//  14. Label volume enamel·3 + dentin·2
//  15. Medial surfaces of enamel and dentin (optional)
//
// Every step returns new volumes. A failing step aborts the run and no
// partial result is returned.
package segmentation

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"toothanalyser/pkg/components"
	"toothanalyser/pkg/medialsurface"
	"toothanalyser/pkg/morphology"
	"toothanalyser/pkg/threshold"
	"toothanalyser/pkg/volume"
	"toothanalyser/pkg/volumeio"
)

// Segmenter runs the segmentation with a fixed parameter set. It holds no
// per-run state and may be used from several goroutines.
type Segmenter struct {
	params Params
	log    *logrus.Logger
}

// NewSegmenter validates params and returns a Segmenter.
func NewSegmenter(params Params) (*Segmenter, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	log := params.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Segmenter{params: params, log: log}, nil
}

// Params returns the parameters of the segmenter.
func (s *Segmenter) Params() Params {
	return s.params
}

// ProcessFile loads the volume at path and segments it. The result name is
// the file name without its final suffix.
func (s *Segmenter) ProcessFile(ctx context.Context, path string) (*ToothResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("segmentation of %s cancelled: %w", path, err)
	}
	img, name, err := volumeio.LoadLimit(path, s.params.MaxVoxels)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	res, err := s.Process(ctx, img, name)
	if err != nil {
		return nil, err
	}
	res.Path = path
	return res, nil
}

// run carries the bookkeeping of a single invocation.
type run struct {
	s     *Segmenter
	ctx   context.Context
	name  string
	total int
	log   *logrus.Entry
}

// step checks for cancellation, executes fn and reports the completed step.
func (r *run) step(n int, message string, fn func() error) error {
	if err := r.ctx.Err(); err != nil {
		return fmt.Errorf("segmentation of %s cancelled before step %d: %w", r.name, n, err)
	}
	start := time.Now()
	if err := fn(); err != nil {
		return fmt.Errorf("step %d (%s) of %s failed: %w", n, message, r.name, err)
	}
	r.log.WithFields(logrus.Fields{
		"step":    n,
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}).Infof("Step %d: %s", n, message)
	if r.s.log.IsLevelEnabled(logrus.DebugLevel) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		r.log.WithFields(logrus.Fields{
			"step":     n,
			"alloc_mb": fmt.Sprintf("%.2f", float64(m.Alloc)/1024/1024),
			"sys_mb":   fmt.Sprintf("%.2f", float64(m.Sys)/1024/1024),
			"num_gc":   m.NumGC,
		}).Debug("Memory usage")
	}
	if r.s.params.Progress != nil {
		r.s.params.Progress(n, r.total, message)
	}
	return nil
}

// Process segments img. It fails with volume.ErrInput for an invalid volume,
// volume.ErrResource when the volume exceeds MaxVoxels and with the error of
// the first failing step otherwise.
func (s *Segmenter) Process(ctx context.Context, img *volume.Volume, name string) (*ToothResult, error) {
	p := s.params
	r := &run{
		s:     s,
		ctx:   ctx,
		name:  name,
		total: p.Steps(),
		log:   s.log.WithFields(logrus.Fields{"name": name, "algorithm": p.Algorithm.String()}),
	}
	started := time.Now()

	res := &ToothResult{Name: name, Algorithm: p.Algorithm, Image: img}

	err := r.step(1, "input validated", func() error {
		if err := img.Validate(); err != nil {
			return err
		}
		if p.MaxVoxels > 0 && img.Len() > p.MaxVoxels {
			return fmt.Errorf("%w: volume has %d voxels, limit is %d", volume.ErrResource, img.Len(), p.MaxVoxels)
		}
		r.log.Debugf("Input %s", img)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.step(2, "smoothed image", func() error {
		if volume.IsPreSmoothed(img, p.SmoothnessLimit) {
			r.log.Debug("Input is smoothed already, skipping median filter")
			res.Smoothed = img
			return nil
		}
		smoothed, err := morphology.Median(img, p.MedianRadius)
		if err != nil {
			return err
		}
		res.Smoothed = smoothed
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.step(3, "tooth mask", func() error {
		tooth, cut, err := threshold.Apply(res.Smoothed, p.ToothAlgorithm, nil)
		if err != nil {
			return err
		}
		r.log.Debugf("Tooth cut at %g (%s)", cut.Value, p.ToothAlgorithm)
		res.Tooth = tooth
		return nil
	})
	if err != nil {
		return nil, err
	}

	var toothMasked, toothSmoothMasked *volume.Volume
	err = r.step(4, "masked tooth", func() error {
		var err error
		toothMasked, err = volume.Mask(img, res.Tooth)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = r.step(5, "masked smoothed tooth", func() error {
		var err error
		toothSmoothMasked, err = volume.Mask(res.Smoothed, res.Tooth)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = r.step(6, "enamel selection", func() error {
		var err error
		res.EnamelSelect, err = s.selectEnamel(r, toothMasked)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = r.step(7, "smoothed enamel selection", func() error {
		var err error
		res.EnamelSmoothSelect, err = s.selectEnamel(r, toothSmoothMasked)
		return err
	})
	if err != nil {
		return nil, err
	}

	var layers *volume.Volume
	err = r.step(8, "enamel layers", func() error {
		var err error
		layers, err = volume.Or(res.EnamelSelect, res.EnamelSmoothSelect)
		return err
	})
	if err != nil {
		return nil, err
	}

	var prepared *volume.Volume
	err = r.step(9, "enamel preparation", func() error {
		var err error
		prepared, err = s.prepareEnamel(layers)
		return err
	})
	if err != nil {
		return nil, err
	}

	var contour *volume.Volume
	err = r.step(10, "extended tooth contour", func() error {
		var err error
		contour, err = morphology.Dilate(morphology.Contour(res.Tooth), p.ContourRadius)
		return err
	})
	if err != nil {
		return nil, err
	}

	var filled *volume.Volume
	err = r.step(11, "enamel filling", func() error {
		var err error
		filled, err = s.fillEnamel(prepared, res.Tooth, contour)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = r.step(12, "enamel holes", func() error {
		holes, err := components.AllButLargest(volume.Not(filled), 1)
		if err != nil {
			return err
		}
		r.log.Debugf("Enamel holes: %d voxels", volume.Count(holes))
		res.Enamel, err = volume.Or(filled, holes)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = r.step(13, "dentin layers", func() error {
		var err error
		res.Dentin, err = s.dentin(res.Enamel, res.Tooth, contour)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = r.step(14, "segmentation labels", func() error {
		overlap, err := volume.And(res.Enamel, res.Dentin)
		if err != nil {
			return err
		}
		if n := volume.Count(overlap); n > 0 {
			return fmt.Errorf("%w: enamel and dentin share %d voxels", volume.ErrComputation, n)
		}
		res.Labels, err = volume.WeightedSum([]*volume.Volume{res.Enamel, res.Dentin}, []float64{EnamelLabel, DentinLabel})
		return err
	})
	if err != nil {
		return nil, err
	}

	if p.ComputeMidSurface {
		err = r.step(15, "medial surfaces", func() error {
			var err error
			res.EnamelMidSurface, res.DentinMidSurface, err = midSurfaces(res.Enamel, res.Dentin)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	r.log.WithFields(logrus.Fields{
		"enamel_voxels": volume.Count(res.Enamel),
		"dentin_voxels": volume.Count(res.Dentin),
		"elapsed":       time.Since(started).Round(time.Millisecond).String(),
	}).Info("Segmentation complete")
	return res, nil
}

// selectEnamel cuts the enamel out of a masked tooth, closes it by
// reconstruction and keeps its largest component.
func (s *Segmenter) selectEnamel(r *run, masked *volume.Volume) (*volume.Volume, error) {
	p := s.params
	sel, cut, err := threshold.Apply(masked, p.Algorithm, masked)
	if err != nil {
		return nil, err
	}
	r.log.Debugf("Enamel cut at %g (%s)", cut.Value, p.Algorithm)
	closed, err := morphology.ClosingByReconstruction(sel, p.ReconstructionRadius)
	if err != nil {
		return nil, err
	}
	return components.Largest(closed, p.EnamelMinSize)
}

// prepareEnamel smooths the union of the enamel selections into one solid
// component.
func (s *Segmenter) prepareEnamel(layers *volume.Volume) (*volume.Volume, error) {
	p := s.params
	extended, err := morphology.ClosingByReconstruction(layers, p.ReconstructionRadius)
	if err != nil {
		return nil, err
	}
	extended, err = morphology.Closing(extended, p.PreparationClosingRadius)
	if err != nil {
		return nil, err
	}
	smooth, err := morphology.GaussianSmooth(extended, p.GaussianSigma)
	if err != nil {
		return nil, err
	}
	closed, err := morphology.Closing(volume.GreaterThan(smooth, p.GaussianLevel), p.FinalClosingRadius)
	if err != nil {
		return nil, err
	}
	return components.Largest(closed, p.PreparedMinSize)
}

// fillEnamel adds the small structures inside the tooth that are neither
// enamel, background, contour nor part of the main dentin body to the
// enamel.
func (s *Segmenter) fillEnamel(prepared, tooth, contour *volume.Volume) (*volume.Volume, error) {
	notDentin, err := volume.Or(prepared, volume.Not(tooth), contour)
	if err != nil {
		return nil, err
	}
	candidates := volume.Not(notDentin)
	parts, err := components.Largest(candidates, s.params.PreparedMinSize)
	if err != nil {
		return nil, err
	}
	decay, err := volume.AndNot(candidates, parts)
	if err != nil {
		return nil, err
	}
	return volume.Or(prepared, decay)
}

// dentin returns the largest component of the tooth outside the enamel and
// the extended contour.
func (s *Segmenter) dentin(enamel, tooth, contour *volume.Volume) (*volume.Volume, error) {
	notDentin, err := volume.Or(enamel, volume.Not(tooth), contour)
	if err != nil {
		return nil, err
	}
	layers, err := volume.AndNot(volume.Not(notDentin), enamel)
	if err != nil {
		return nil, err
	}
	return components.Largest(layers, s.params.DentinMinSize)
}

// midSurfaces extracts the enamel and dentin medial surfaces concurrently.
func midSurfaces(enamel, dentin *volume.Volume) (*volume.Volume, *volume.Volume, error) {
	var wg sync.WaitGroup
	var enamelMS, dentinMS *volume.Volume
	var enamelErr, dentinErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		enamelMS, enamelErr = medialsurface.Extract(enamel)
	}()
	go func() {
		defer wg.Done()
		dentinMS, dentinErr = medialsurface.Extract(dentin)
	}()
	wg.Wait()
	if enamelErr != nil {
		return nil, nil, fmt.Errorf("enamel: %w", enamelErr)
	}
	if dentinErr != nil {
		return nil, nil, fmt.Errorf("dentin: %w", dentinErr)
	}
	return enamelMS, dentinMS, nil
}
