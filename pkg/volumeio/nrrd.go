package volumeio

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"toothanalyser/pkg/volume"
)

var nrrdTypes = map[string]volume.PixelType{
	"uchar": volume.UInt8, "unsigned char": volume.UInt8, "uint8": volume.UInt8, "uint8_t": volume.UInt8,
	"signed char": volume.Int8, "int8": volume.Int8, "int8_t": volume.Int8,
	"short": volume.Int16, "short int": volume.Int16, "signed short": volume.Int16,
	"signed short int": volume.Int16, "int16": volume.Int16, "int16_t": volume.Int16,
	"ushort": volume.UInt16, "unsigned short": volume.UInt16, "unsigned short int": volume.UInt16,
	"uint16": volume.UInt16, "uint16_t": volume.UInt16,
	"int": volume.Int32, "signed int": volume.Int32, "int32": volume.Int32, "int32_t": volume.Int32,
	"uint": volume.UInt32, "unsigned int": volume.UInt32, "uint32": volume.UInt32, "uint32_t": volume.UInt32,
	"float": volume.Float32,
	"double": volume.Float64,
}

var nrrdTypeNames = map[volume.PixelType]string{
	volume.UInt8:   "unsigned char",
	volume.Int8:    "signed char",
	volume.UInt16:  "unsigned short",
	volume.Int16:   "short",
	volume.UInt32:  "unsigned int",
	volume.Int32:   "int",
	volume.Float32: "float",
	volume.Float64: "double",
}

// parseVectors parses "(a,b,c) (d,e,f) ..." into vectors; "none" entries
// are skipped.
func parseVectors(s string) ([][3]float64, error) {
	var out [][3]float64
	for _, field := range strings.Fields(s) {
		if field == "none" {
			continue
		}
		parts := strings.Split(strings.Trim(field, "()"), ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: malformed vector %q", volume.ErrInput, field)
		}
		var vec [3]float64
		for i, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
			}
			vec[i] = f
		}
		out = append(out, vec)
	}
	return out, nil
}

func readNRRD(path string, maxVoxels int) (*volume.Volume, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
	}
	if !bytes.HasPrefix(raw, []byte("NRRD")) {
		return nil, fmt.Errorf("%w: missing NRRD magic", volume.ErrInput)
	}

	fields := make(map[string]string)
	reader := bufio.NewReader(bytes.NewReader(raw))
	offset := 0
	for first := true; ; first = false {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
		}
		offset += len(line)
		trimmed := strings.TrimRight(line, "\r\n")
		if !first && trimmed == "" {
			break
		}
		// the magic line, comments and key/value pairs carry no geometry
		field := !first && !strings.HasPrefix(trimmed, "#") && !strings.Contains(trimmed, ":=")
		if i := strings.Index(trimmed, ":"); field && i > 0 {
			fields[strings.ToLower(strings.TrimSpace(trimmed[:i]))] = strings.TrimSpace(trimmed[i+1:])
		}
		if err == io.EOF {
			break
		}
	}

	if fields["dimension"] != "3" {
		return nil, fmt.Errorf("%w: only 3-D NRRD files are supported (dimension %q)", volume.ErrInput, fields["dimension"])
	}
	pt, ok := nrrdTypes[fields["type"]]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported NRRD type %q", volume.ErrInput, fields["type"])
	}
	sizes, err := parseTriple(fields["sizes"])
	if err != nil {
		return nil, fmt.Errorf("sizes: %w", err)
	}
	w, h, d, err := gridDims(sizes)
	if err != nil {
		return nil, fmt.Errorf("sizes: %w", err)
	}
	n, err := voxelCount(w, h, d, maxVoxels)
	if err != nil {
		return nil, err
	}

	spacing := r3.Vec{X: 1, Y: 1, Z: 1}
	var origin r3.Vec
	if dirs, ok := fields["space directions"]; ok {
		vecs, err := parseVectors(dirs)
		if err != nil {
			return nil, fmt.Errorf("space directions: %w", err)
		}
		if len(vecs) != 3 {
			return nil, fmt.Errorf("%w: expected 3 space directions, got %d", volume.ErrInput, len(vecs))
		}
		norm := func(a [3]float64) float64 { return math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2]) }
		spacing = r3.Vec{X: norm(vecs[0]), Y: norm(vecs[1]), Z: norm(vecs[2])}
	} else if sp, ok := fields["spacings"]; ok {
		s, err := parseTriple(sp)
		if err != nil {
			return nil, fmt.Errorf("spacings: %w", err)
		}
		spacing = r3.Vec{X: s[0], Y: s[1], Z: s[2]}
	}
	if o, ok := fields["space origin"]; ok {
		vecs, err := parseVectors(o)
		if err != nil || len(vecs) != 1 {
			return nil, fmt.Errorf("%w: malformed space origin %q", volume.ErrInput, o)
		}
		origin = r3.Vec{X: vecs[0][0], Y: vecs[0][1], Z: vecs[0][2]}
	}

	data := raw[offset:]
	if file, ok := fields["data file"]; ok {
		if file == "LIST" || strings.Contains(file, "%") {
			return nil, fmt.Errorf("%w: multi-file NRRD data %q not supported", volume.ErrInput, file)
		}
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(path), file)
		}
		data, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
		}
	}

	switch fields["encoding"] {
	case "raw":
	case "gzip", "gz":
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
		}
		data, err = readLimited(zr, n*pt.Size())
		zr.Close()
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported NRRD encoding %q", volume.ErrInput, fields["encoding"])
	}

	var order binary.ByteOrder = binary.LittleEndian
	if fields["endian"] == "big" {
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

// writeNRRD writes an attached gzip encoded .nrrd file, or a .nhdr header
// with a detached raw data file.
func writeNRRD(v *volume.Volume, path string) error {
	detached := strings.EqualFold(filepath.Ext(path), ".nhdr")

	var hdr strings.Builder
	hdr.WriteString("NRRD0004\n")
	hdr.WriteString("# Complete NRRD file format specification at:\n")
	hdr.WriteString("# http://teem.sourceforge.net/nrrd/format.html\n")
	fmt.Fprintf(&hdr, "type: %s\n", nrrdTypeNames[v.PixelType])
	hdr.WriteString("dimension: 3\n")
	hdr.WriteString("space: left-posterior-superior\n")
	fmt.Fprintf(&hdr, "sizes: %d %d %d\n", v.Width, v.Height, v.Depth)
	fmt.Fprintf(&hdr, "space directions: (%s,0,0) (0,%s,0) (0,0,%s)\n",
		formatFloat(v.Spacing.X), formatFloat(v.Spacing.Y), formatFloat(v.Spacing.Z))
	hdr.WriteString("kinds: domain domain domain\n")
	hdr.WriteString("endian: little\n")

	data := encodeRaw(v, binary.LittleEndian)
	if detached {
		dataFile := ParseName(path) + ".raw"
		hdr.WriteString("encoding: raw\n")
		fmt.Fprintf(&hdr, "space origin: (%s,%s,%s)\n",
			formatFloat(v.Origin.X), formatFloat(v.Origin.Y), formatFloat(v.Origin.Z))
		fmt.Fprintf(&hdr, "data file: %s\n\n", dataFile)
		if err := os.WriteFile(path, []byte(hdr.String()), 0644); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(filepath.Dir(path), dataFile), data, 0644)
	}

	hdr.WriteString("encoding: gzip\n")
	fmt.Fprintf(&hdr, "space origin: (%s,%s,%s)\n\n",
		formatFloat(v.Origin.X), formatFloat(v.Origin.Y), formatFloat(v.Origin.Z))

	var buf bytes.Buffer
	buf.WriteString(hdr.String())
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
