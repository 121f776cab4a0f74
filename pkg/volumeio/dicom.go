package volumeio

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/spatial/r3"

	"toothanalyser/pkg/volume"
)

var digits = regexp.MustCompile(`\d+`)

// extractNumber returns the last run of digits in the base name of a slice
// file, or -1 when there is none.
func extractNumber(path string) int {
	matches := digits.FindAllString(ParseName(path), -1)
	if len(matches) == 0 {
		return -1
	}
	n, err := strconv.Atoi(matches[len(matches)-1])
	if err != nil {
		return -1
	}
	return n
}

// dicomSlab is the pixel data of one DICOM file, one or more frames.
type dicomSlab struct {
	width, height int
	frames        [][]float64
	pixelType     volume.PixelType
	spacing       r3.Vec
	origin        r3.Vec
	thickness     float64
}

func elementStrings(ds dicom.Dataset, t tag.Tag) []string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el.Value == nil {
		return nil
	}
	s, _ := el.Value.GetValue().([]string)
	return s
}

func elementInts(ds dicom.Dataset, t tag.Tag) []int {
	el, err := ds.FindElementByTag(t)
	if err != nil || el.Value == nil {
		return nil
	}
	n, _ := el.Value.GetValue().([]int)
	return n
}

func elementFloats(ds dicom.Dataset, t tag.Tag) []float64 {
	var out []float64
	for _, s := range elementStrings(ds, t) {
		for _, part := range strings.Split(s, "\\") {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err == nil {
				out = append(out, f)
			}
		}
	}
	return out
}

func readDICOMSlab(path string) (*dicomSlab, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
	}
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%w: %s has no pixel data", volume.ErrInput, path)
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("%w: unreadable pixel data in %s", volume.ErrInput, path)
	}
	if info.IsEncapsulated {
		return nil, fmt.Errorf("%w: compressed transfer syntax in %s is not supported", volume.ErrInput, path)
	}

	slope, intercept := 1.0, 0.0
	if s := elementFloats(ds, tag.RescaleSlope); len(s) > 0 && s[0] != 0 {
		slope = s[0]
	}
	if i := elementFloats(ds, tag.RescaleIntercept); len(i) > 0 {
		intercept = i[0]
	}

	slab := &dicomSlab{spacing: r3.Vec{X: 1, Y: 1, Z: 1}, pixelType: volume.UInt16}
	bits := elementInts(ds, tag.BitsAllocated)
	switch {
	case len(bits) > 0 && bits[0] == 8:
		slab.pixelType = volume.UInt8
	case len(bits) > 0 && bits[0] == 32:
		slab.pixelType = volume.UInt32
	}
	// samples are decoded unsigned, two's complement is restored here
	sample := func(s int) float64 { return float64(s) }
	if rep := elementInts(ds, tag.PixelRepresentation); len(rep) > 0 && rep[0] == 1 {
		switch slab.pixelType {
		case volume.UInt8:
			slab.pixelType = volume.Int8
			sample = func(s int) float64 { return float64(int8(uint8(s))) }
		case volume.UInt16:
			slab.pixelType = volume.Int16
			sample = func(s int) float64 { return float64(int16(uint16(s))) }
		default:
			slab.pixelType = volume.Int32
			sample = func(s int) float64 { return float64(int32(uint32(s))) }
		}
	}
	if slope != 1 || intercept != 0 {
		slab.pixelType = volume.Float64
	}
	if sp := elementFloats(ds, tag.PixelSpacing); len(sp) >= 2 {
		// PixelSpacing is row spacing then column spacing.
		slab.spacing.X, slab.spacing.Y = sp[1], sp[0]
	}
	if th := elementFloats(ds, tag.SliceThickness); len(th) > 0 && th[0] > 0 {
		slab.thickness = th[0]
		slab.spacing.Z = th[0]
	}
	if pos := elementFloats(ds, tag.ImagePositionPatient); len(pos) >= 3 {
		slab.origin = r3.Vec{X: pos[0], Y: pos[1], Z: pos[2]}
	}

	for i := range info.Frames {
		nf, err := info.Frames[i].GetNativeFrame()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
		}
		if slab.frames == nil {
			slab.width, slab.height = nf.Cols, nf.Rows
		} else if nf.Cols != slab.width || nf.Rows != slab.height {
			return nil, fmt.Errorf("%w: frame size changes within %s", volume.ErrInput, path)
		}
		pixels := make([]float64, nf.Rows*nf.Cols)
		for p, value := range nf.Data {
			if p >= len(pixels) || len(value) == 0 {
				break
			}
			pixels[p] = sample(value[0])*slope + intercept
		}
		slab.frames = append(slab.frames, pixels)
	}
	if len(slab.frames) == 0 {
		return nil, fmt.Errorf("%w: %s has no frames", volume.ErrInput, path)
	}
	return slab, nil
}

func (s *dicomSlab) volume() *volume.Volume {
	v := volume.New(s.width, s.height, len(s.frames), s.pixelType)
	v.Spacing = s.spacing
	v.Origin = s.origin
	plane := s.width * s.height
	for z, fr := range s.frames {
		copy(v.Data[z*plane:(z+1)*plane], fr)
	}
	return v
}

// loadDICOMFile reads a single, possibly multi-frame, DICOM file.
func loadDICOMFile(path string, maxVoxels int) (*volume.Volume, error) {
	slab, err := readDICOMSlab(path)
	if err != nil {
		return nil, err
	}
	if _, err := voxelCount(slab.width, slab.height, len(slab.frames), maxVoxels); err != nil {
		return nil, err
	}
	return slab.volume(), nil
}

// loadDICOMSeries stacks the DICOM slices of a directory in the order of the
// numbers in their file names.
func loadDICOMSeries(dir string, maxVoxels int) (*volume.Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && ParseType(e.Name()) == ".dcm" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no .dcm files in %s", volume.ErrInput, dir)
	}
	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})

	var series *dicomSlab
	var firstZ float64
	for i, f := range files {
		slab, err := readDICOMSlab(f)
		if err != nil {
			return nil, err
		}
		if series == nil {
			// every slice is expected to match the first one
			if _, err := voxelCount(slab.width, slab.height, len(files)*len(slab.frames), maxVoxels); err != nil {
				return nil, err
			}
			series = slab
			firstZ = slab.origin.Z
			continue
		}
		if slab.width != series.width || slab.height != series.height {
			return nil, fmt.Errorf("%w: slice %s is %dx%d, series is %dx%d",
				volume.ErrInput, f, slab.width, slab.height, series.width, series.height)
		}
		if i == 1 && series.thickness == 0 {
			if dz := slab.origin.Z - firstZ; dz != 0 {
				if dz < 0 {
					dz = -dz
				}
				series.spacing.Z = dz
			}
		}
		if slab.pixelType == volume.Float64 {
			series.pixelType = volume.Float64
		}
		series.frames = append(series.frames, slab.frames...)
	}
	return series.volume(), nil
}
