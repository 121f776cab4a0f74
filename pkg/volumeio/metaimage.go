package volumeio

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"toothanalyser/pkg/volume"
)

var metaElementTypes = map[string]volume.PixelType{
	"MET_UCHAR":  volume.UInt8,
	"MET_CHAR":   volume.Int8,
	"MET_USHORT": volume.UInt16,
	"MET_SHORT":  volume.Int16,
	"MET_UINT":   volume.UInt32,
	"MET_INT":    volume.Int32,
	"MET_FLOAT":  volume.Float32,
	"MET_DOUBLE": volume.Float64,
}

func metaElementType(pt volume.PixelType) string {
	for name, t := range metaElementTypes {
		if t == pt {
			return name
		}
	}
	return "MET_DOUBLE"
}

// parseTriple parses three whitespace separated numbers.
func parseTriple(s string) ([3]float64, error) {
	var out [3]float64
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return out, fmt.Errorf("%w: expected 3 values, got %q", volume.ErrInput, s)
	}
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return out, fmt.Errorf("%w: %v", volume.ErrInput, err)
		}
		out[i] = f
	}
	return out, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func readMetaImage(path string, maxVoxels int) (*volume.Volume, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
	}

	header := make(map[string]string)
	var localData []byte
	reader := bufio.NewReader(bytes.NewReader(raw))
	offset := 0
	for {
		line, err := reader.ReadString('\n')
		offset += len(line)
		if i := strings.Index(line, "="); i > 0 {
			key := strings.TrimSpace(line[:i])
			val := strings.TrimSpace(line[i+1:])
			header[strings.ToLower(key)] = val
			if strings.EqualFold(key, "ElementDataFile") {
				if strings.EqualFold(val, "LOCAL") {
					localData = raw[offset:]
				}
				break
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
		}
	}

	if nd := header["ndims"]; nd != "3" {
		return nil, fmt.Errorf("%w: only 3-D MetaImages are supported (NDims = %q)", volume.ErrInput, nd)
	}
	if ch := header["elementnumberofchannels"]; ch != "" && ch != "1" {
		return nil, fmt.Errorf("%w: multi-channel MetaImage not supported", volume.ErrInput)
	}
	dims, err := parseTriple(header["dimsize"])
	if err != nil {
		return nil, fmt.Errorf("DimSize: %w", err)
	}
	pt, ok := metaElementTypes[strings.ToUpper(header["elementtype"])]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported ElementType %q", volume.ErrInput, header["elementtype"])
	}
	w, h, d, err := gridDims(dims)
	if err != nil {
		return nil, fmt.Errorf("DimSize: %w", err)
	}
	n, err := voxelCount(w, h, d, maxVoxels)
	if err != nil {
		return nil, err
	}

	spacing := r3.Vec{X: 1, Y: 1, Z: 1}
	var origin r3.Vec
	if s, ok := header["elementspacing"]; ok {
		sp, err := parseTriple(s)
		if err != nil {
			return nil, fmt.Errorf("ElementSpacing: %w", err)
		}
		spacing = r3.Vec{X: sp[0], Y: sp[1], Z: sp[2]}
	}
	offsetField := header["offset"]
	if offsetField == "" {
		offsetField = header["origin"]
	}
	if offsetField != "" {
		o, err := parseTriple(offsetField)
		if err != nil {
			return nil, fmt.Errorf("Offset: %w", err)
		}
		origin = r3.Vec{X: o[0], Y: o[1], Z: o[2]}
	}

	data := localData
	if localData == nil {
		file := header["elementdatafile"]
		if file == "" {
			return nil, fmt.Errorf("%w: missing ElementDataFile", volume.ErrInput)
		}
		if strings.HasPrefix(strings.ToUpper(file), "LIST") || strings.Contains(file, "%") {
			return nil, fmt.Errorf("%w: multi-file MetaImage data %q not supported", volume.ErrInput, file)
		}
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(path), file)
		}
		data, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
		}
	}
	if isTrue(header["compresseddata"]) {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
		}
		data, err = readLimited(zr, n*pt.Size())
		zr.Close()
		if err != nil {
			return nil, err
		}
	}

	var order binary.ByteOrder = binary.LittleEndian
	if isTrue(header["binarydatabyteordermsb"]) || isTrue(header["elementbyteordermsb"]) {
		order = binary.BigEndian
	}
	values, err := decodeRaw(data, pt, order, n)
	if err != nil {
		return nil, err
	}
	return &volume.Volume{
		Data:      values,
		Width:     w,
		Height:    h,
		Depth:     d,
		Spacing:   spacing,
		Origin:    origin,
		PixelType: pt,
	}, nil
}

func isTrue(s string) bool {
	return strings.EqualFold(s, "true") || s == "1"
}

// writeMetaImage writes a .mhd header with a .raw data file next to it, or
// a single .mha file with LOCAL data.
func writeMetaImage(v *volume.Volume, path string) error {
	local := strings.EqualFold(filepath.Ext(path), ".mha")
	dataFile := "LOCAL"
	if !local {
		dataFile = ParseName(path) + ".raw"
	}

	var hdr strings.Builder
	fmt.Fprintf(&hdr, "ObjectType = Image\n")
	fmt.Fprintf(&hdr, "NDims = 3\n")
	fmt.Fprintf(&hdr, "BinaryData = True\n")
	fmt.Fprintf(&hdr, "BinaryDataByteOrderMSB = False\n")
	fmt.Fprintf(&hdr, "CompressedData = False\n")
	fmt.Fprintf(&hdr, "TransformMatrix = 1 0 0 0 1 0 0 0 1\n")
	fmt.Fprintf(&hdr, "Offset = %s %s %s\n", formatFloat(v.Origin.X), formatFloat(v.Origin.Y), formatFloat(v.Origin.Z))
	fmt.Fprintf(&hdr, "CenterOfRotation = 0 0 0\n")
	fmt.Fprintf(&hdr, "AnatomicalOrientation = RAI\n")
	fmt.Fprintf(&hdr, "ElementSpacing = %s %s %s\n", formatFloat(v.Spacing.X), formatFloat(v.Spacing.Y), formatFloat(v.Spacing.Z))
	fmt.Fprintf(&hdr, "DimSize = %d %d %d\n", v.Width, v.Height, v.Depth)
	fmt.Fprintf(&hdr, "ElementType = %s\n", metaElementType(v.PixelType))
	fmt.Fprintf(&hdr, "ElementDataFile = %s\n", dataFile)

	data := encodeRaw(v, binary.LittleEndian)
	if local {
		return os.WriteFile(path, append([]byte(hdr.String()), data...), 0644)
	}
	if err := os.WriteFile(path, []byte(hdr.String()), 0644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(filepath.Dir(path), dataFile), data, 0644)
}
