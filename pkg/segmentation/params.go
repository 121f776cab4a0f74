package segmentation

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"toothanalyser/pkg/threshold"
	"toothanalyser/pkg/volume"
)

// ProgressFunc is called after every completed step with the step number,
// the number of steps of the run and a short description.
type ProgressFunc func(step, total int, message string)

// Params holds the segmentation parameters. The defaults reproduce the fixed
// tooth segmentation policy; the radii and minimum sizes are exposed so that
// scans of a different resolution can be tuned.
type Params struct {
	// Algorithm selects the enamel cut applied to the masked raw and masked
	// smoothed tooth.
	Algorithm threshold.Algorithm

	// ToothAlgorithm selects the first cut separating the tooth from the
	// background.
	ToothAlgorithm threshold.Algorithm

	// ComputeMidSurface enables the medial surface step.
	ComputeMidSurface bool

	// MedianRadius is the radius of the pre-smoothing median filter.
	MedianRadius int

	// SmoothnessLimit is the standard deviation below which the input is
	// taken to be smoothed already. Zero selects volume.DefaultSmoothnessLimit.
	SmoothnessLimit float64

	// ReconstructionRadius is the ball radius of the closings by
	// reconstruction used on the enamel selections.
	ReconstructionRadius int

	// PreparationClosingRadius and FinalClosingRadius are the ball closings
	// before and after the Gaussian step of the enamel preparation.
	PreparationClosingRadius int
	FinalClosingRadius       int

	// GaussianSigma (physical units) and GaussianLevel binarize the
	// prepared enamel.
	GaussianSigma float64
	GaussianLevel float64

	// ContourRadius is the dilation radius of the tooth contour.
	ContourRadius int

	// Minimum component sizes in voxels.
	EnamelMinSize   int
	PreparedMinSize int
	DentinMinSize   int

	// MaxVoxels rejects larger inputs with volume.ErrResource. Zero means
	// unlimited.
	MaxVoxels int

	// Logger receives step logs. Nil selects the logrus standard logger.
	Logger *logrus.Logger

	// Progress, when set, is notified after each step.
	Progress ProgressFunc
}

// DefaultParams returns the standard policy with Otsu for both cuts.
func DefaultParams() Params {
	return Params{
		Algorithm:                threshold.Otsu,
		ToothAlgorithm:           threshold.Otsu,
		MedianRadius:             1,
		SmoothnessLimit:          volume.DefaultSmoothnessLimit,
		ReconstructionRadius:     10,
		PreparationClosingRadius: 2,
		FinalClosingRadius:       1,
		GaussianSigma:            0.04,
		GaussianLevel:            0.7,
		ContourRadius:            2,
		EnamelMinSize:            50,
		PreparedMinSize:          10,
		DentinMinSize:            50,
	}
}

// Validate rejects parameters no run could use.
func (p Params) Validate() error {
	if !p.Algorithm.Valid() {
		return fmt.Errorf("%w: invalid enamel threshold algorithm %d", volume.ErrConfiguration, int(p.Algorithm))
	}
	if !p.ToothAlgorithm.Valid() {
		return fmt.Errorf("%w: invalid tooth threshold algorithm %d", volume.ErrConfiguration, int(p.ToothAlgorithm))
	}
	radii := map[string]int{
		"median":              p.MedianRadius,
		"reconstruction":      p.ReconstructionRadius,
		"preparation closing": p.PreparationClosingRadius,
		"final closing":       p.FinalClosingRadius,
		"contour":             p.ContourRadius,
	}
	for name, r := range radii {
		if r < 0 {
			return fmt.Errorf("%w: %s radius %d is negative", volume.ErrConfiguration, name, r)
		}
	}
	if p.GaussianSigma < 0 {
		return fmt.Errorf("%w: gaussian sigma %g is negative", volume.ErrConfiguration, p.GaussianSigma)
	}
	if p.EnamelMinSize < 0 || p.PreparedMinSize < 0 || p.DentinMinSize < 0 {
		return fmt.Errorf("%w: minimum component sizes must not be negative", volume.ErrConfiguration)
	}
	if p.MaxVoxels < 0 {
		return fmt.Errorf("%w: max voxels %d is negative", volume.ErrConfiguration, p.MaxVoxels)
	}
	return nil
}

// Steps returns the number of steps a run with these parameters reports.
func (p Params) Steps() int {
	if p.ComputeMidSurface {
		return 15
	}
	return 14
}
