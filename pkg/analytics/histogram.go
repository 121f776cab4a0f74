// Package analytics computes intensity statistics of scans for inspection
// before and after segmentation.
package analytics

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"toothanalyser/pkg/volume"
)

// DefaultBins is the number of histogram bins of the intensity overview.
const DefaultBins = 200

// Histogram is an equal-width intensity histogram over [Min, Max]. The last
// bin includes Max.
type Histogram struct {
	// Edges holds len(Counts)+1 bin boundaries.
	Edges  []float64
	Counts []float64

	Min, Max     float64
	Mean, StdDev float64
}

// Compute builds a histogram of all voxels of v with the given number of
// bins.
func Compute(v *volume.Volume, bins int) (*Histogram, error) {
	if bins < 1 {
		return nil, fmt.Errorf("%w: histogram needs at least one bin, got %d", volume.ErrConfiguration, bins)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}

	x := make([]float64, len(v.Data))
	copy(x, v.Data)
	sort.Float64s(x)
	lo, hi := x[0], x[len(x)-1]
	if lo == hi {
		hi = lo + 1
	}

	edges := make([]float64, bins+1)
	floats.Span(edges, lo, hi)
	dividers := make([]float64, len(edges))
	copy(dividers, edges)
	// stat.Histogram counts dividers[j] <= x < dividers[j+1].
	dividers[bins] = math.Nextafter(hi, math.Inf(1))

	counts := stat.Histogram(nil, dividers, x, nil)
	mean, std := stat.PopMeanStdDev(v.Data, nil)

	return &Histogram{
		Edges:  edges,
		Counts: counts,
		Min:    x[0],
		Max:    x[len(x)-1],
		Mean:   mean,
		StdDev: std,
	}, nil
}

// Total returns the number of counted voxels.
func (h *Histogram) Total() float64 {
	return floats.Sum(h.Counts)
}

// WriteCSV writes one "intensity,frequency" row per bin, intensity being
// the lower bin edge.
func (h *Histogram) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"intensity", "frequency"}); err != nil {
		return err
	}
	for i, c := range h.Counts {
		row := []string{
			strconv.FormatFloat(h.Edges[i], 'g', -1, 64),
			strconv.FormatFloat(c, 'f', 0, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the histogram to path.
func (h *Histogram) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create histogram file: %w", err)
	}
	if err := h.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write histogram: %w", err)
	}
	return f.Close()
}
