// Package volumeio reads and writes volumes in the file formats micro-CT
// tooth scans are exchanged in: MetaImage (.mhd/.raw, .mha), NRRD (.nrrd,
// .nhdr), NIfTI-1 (.nii, .nii.gz) and, read-only, DICOM (.dcm files or a
// directory of slices).
//
// Scanner container files (.isq) must be converted by an external tool
// first.
package volumeio

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"toothanalyser/pkg/volume"
)

// Format identifies a supported file format.
type Format int

const (
	Unknown Format = iota
	MetaImage
	NRRD
	NIfTI
	DICOM
)

func (f Format) String() string {
	switch f {
	case MetaImage:
		return "MetaImage"
	case NRRD:
		return "NRRD"
	case NIfTI:
		return "NIfTI"
	case DICOM:
		return "DICOM"
	}
	return "unknown"
}

// ParseName returns the base name of path without its final dot-suffix,
// e.g. "P01A-C0005278" for "/data/P01A-C0005278.mhd".
func ParseName(path string) string {
	base := filepath.Base(strings.TrimRight(path, string(filepath.Separator)))
	if i := strings.LastIndex(base, "."); i > 0 {
		return base[:i]
	}
	return base
}

// ParseType returns the lower-cased final suffix of path including the dot,
// e.g. ".mhd". It is empty when the base name has no suffix.
func ParseType(path string) string {
	base := filepath.Base(path)
	if i := strings.LastIndex(base, "."); i > 0 {
		return strings.ToLower(base[i:])
	}
	return ""
}

// DetectFormat returns the format a path is read or written as.
func DetectFormat(path string) Format {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".nii.gz"), strings.HasSuffix(lower, ".nii"):
		return NIfTI
	case strings.HasSuffix(lower, ".mhd"), strings.HasSuffix(lower, ".mha"):
		return MetaImage
	case strings.HasSuffix(lower, ".nrrd"), strings.HasSuffix(lower, ".nhdr"):
		return NRRD
	case strings.HasSuffix(lower, ".dcm"):
		return DICOM
	}
	return Unknown
}

// maxDim bounds a single grid dimension read from a file header.
const maxDim = math.MaxInt32

// gridDims converts header dimensions to voxel counts. Each must be a whole
// number between 1 and maxDim.
func gridDims(dims [3]float64) (w, h, d int, err error) {
	var out [3]int
	for i, f := range dims {
		if f < 1 || f > maxDim || f != math.Trunc(f) {
			return 0, 0, 0, fmt.Errorf("%w: invalid dimension %v", volume.ErrInput, f)
		}
		out[i] = int(f)
	}
	return out[0], out[1], out[2], nil
}

// voxelCount returns w*h*d after checking that the decoded float64 voxels
// stay addressable and that the count is at most maxVoxels when maxVoxels is
// positive.
func voxelCount(w, h, d, maxVoxels int) (int, error) {
	if w <= 0 || h <= 0 || d <= 0 {
		return 0, fmt.Errorf("%w: invalid dimensions %dx%dx%d", volume.ErrInput, w, h, d)
	}
	limit := math.MaxInt / 8
	if w > limit || h > limit/w || d > limit/(w*h) {
		return 0, fmt.Errorf("%w: dimensions %dx%dx%d overflow", volume.ErrInput, w, h, d)
	}
	n := w * h * d
	if maxVoxels > 0 && n > maxVoxels {
		return 0, fmt.Errorf("%w: volume has %d voxels, limit is %d", volume.ErrResource, n, maxVoxels)
	}
	return n, nil
}

// readLimited reads at most n bytes of a decompressed stream.
func readLimited(r io.Reader, n int) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
	}
	return data, nil
}

// Load reads the volume at path and derives its canonical name. A directory
// is read as a DICOM series.
func Load(path string) (*volume.Volume, string, error) {
	return LoadLimit(path, 0)
}

// LoadLimit is Load with an upper bound on the voxel count. The bound is
// checked against the header before voxel data is decoded and fails with
// volume.ErrResource. Zero means unlimited.
func LoadLimit(path string, maxVoxels int) (*volume.Volume, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", volume.ErrInput, err)
	}
	name := ParseName(path)
	if strings.HasSuffix(strings.ToLower(path), ".nii.gz") {
		name = ParseName(strings.TrimSuffix(path, filepath.Ext(path)))
	}

	var v *volume.Volume
	switch {
	case info.IsDir():
		v, err = loadDICOMSeries(path, maxVoxels)
	case ParseType(path) == ".isq":
		return nil, "", fmt.Errorf("%w: %s is a scanner container, convert it to .mhd first", volume.ErrInput, path)
	default:
		switch DetectFormat(path) {
		case MetaImage:
			v, err = readMetaImage(path, maxVoxels)
		case NRRD:
			v, err = readNRRD(path, maxVoxels)
		case NIfTI:
			v, err = readNIfTI(path, maxVoxels)
		case DICOM:
			v, err = loadDICOMFile(path, maxVoxels)
		default:
			return nil, "", fmt.Errorf("%w: unsupported file type %q", volume.ErrInput, ParseType(path))
		}
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := v.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid volume in %s: %w", path, err)
	}
	return v, name, nil
}

// Write stores v at path in the format selected by its suffix.
func Write(v *volume.Volume, path string) error {
	if err := v.Validate(); err != nil {
		return err
	}
	var err error
	switch DetectFormat(path) {
	case MetaImage:
		err = writeMetaImage(v, path)
	case NRRD:
		err = writeNRRD(v, path)
	case NIfTI:
		err = writeNIfTI(v, path)
	case DICOM:
		return fmt.Errorf("%w: writing DICOM is not supported", volume.ErrConfiguration)
	default:
		return fmt.Errorf("%w: unsupported output type %q", volume.ErrConfiguration, ParseType(path))
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
