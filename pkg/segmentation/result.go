package segmentation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"toothanalyser/pkg/threshold"
	"toothanalyser/pkg/volume"
	"toothanalyser/pkg/volumeio"
)

// Label values of the segmentation volume.
const (
	BackgroundLabel = 0
	DentinLabel     = 2
	EnamelLabel     = 3
)

// ToothResult bundles the volumes of one segmentation run. All volumes share
// the geometry of Image. The medial surfaces are nil unless they were
// requested.
type ToothResult struct {
	// Path is the source file, empty when the volume was passed in memory.
	Path string

	// Name is the source name used to derive output names.
	Name string

	// Algorithm is the enamel threshold algorithm of the run.
	Algorithm threshold.Algorithm

	Image              *volume.Volume
	Smoothed           *volume.Volume
	Tooth              *volume.Volume
	EnamelSelect       *volume.Volume
	EnamelSmoothSelect *volume.Volume

	// Enamel and Dentin are the disjoint binary tissue layers.
	Enamel *volume.Volume
	Dentin *volume.Volume

	// Labels holds 0 for background, 2 for dentin and 3 for enamel.
	Labels *volume.Volume

	EnamelMidSurface *volume.Volume
	DentinMidSurface *volume.Volume
}

// NamedVolume pairs a volume with its export name.
type NamedVolume struct {
	Name   string
	Volume *volume.Volume
}

// Outputs lists the result volumes under their export names, for example
// "P01_segmentation_otsu_otsu_labels". Medial surfaces are included only when
// computed.
func (r *ToothResult) Outputs() []NamedVolume {
	a := r.Algorithm.Key()
	aa := a + "_" + a
	out := []NamedVolume{
		{r.Name + "_img", r.Image},
		{r.Name + "_img_smooth", r.Smoothed},
		{r.Name + "_tooth", r.Tooth},
		{r.Name + "_enamel_" + a, r.EnamelSelect},
		{r.Name + "_enamel_smooth_" + a, r.EnamelSmoothSelect},
		{r.Name + "_enamel_" + aa + "_layers", r.Enamel},
		{r.Name + "_dentin_" + aa + "_layers", r.Dentin},
		{r.Name + "_segmentation_" + aa + "_labels", r.Labels},
	}
	if r.EnamelMidSurface != nil {
		out = append(out, NamedVolume{r.Name + "_enamel_" + aa + "_midsurface", r.EnamelMidSurface})
	}
	if r.DentinMidSurface != nil {
		out = append(out, NamedVolume{r.Name + "_dentin_" + aa + "_midsurface", r.DentinMidSurface})
	}
	return out
}

// WriteAll writes every output volume into dir with the given file suffix
// (".nrrd", ".nii", ".mhd", ...) and returns the written paths.
func (r *ToothResult) WriteAll(dir, ext string) ([]string, error) {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	var paths []string
	for _, nv := range r.Outputs() {
		if nv.Volume == nil {
			continue
		}
		path := filepath.Join(dir, nv.Name+ext)
		if err := volumeio.Write(nv.Volume, path); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", nv.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
