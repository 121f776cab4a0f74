package volumeio

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"toothanalyser/pkg/volume"
)

const (
	niftiHeaderSize = 348
	niftiVoxOffset  = 352
)

var niftiDatatypes = map[int16]volume.PixelType{
	2:   volume.UInt8,
	4:   volume.Int16,
	8:   volume.Int32,
	16:  volume.Float32,
	64:  volume.Float64,
	256: volume.Int8,
	512: volume.UInt16,
	768: volume.UInt32,
}

func niftiDatatype(pt volume.PixelType) int16 {
	for code, t := range niftiDatatypes {
		if t == pt {
			return code
		}
	}
	return 64
}

func readNIfTI(path string, maxVoxels int) (*volume.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", volume.ErrInput, err)
		}
		defer zr.Close()
		r = zr
	}
	hdr := make([]byte, niftiHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: NIfTI header truncated", volume.ErrInput)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if int32(order.Uint32(hdr[0:4])) != niftiHeaderSize {
		order = binary.BigEndian
		if int32(order.Uint32(hdr[0:4])) != niftiHeaderSize {
			return nil, fmt.Errorf("%w: not a NIfTI-1 file", volume.ErrInput)
		}
	}
	i16 := func(off int) int16 { return int16(order.Uint16(hdr[off : off+2])) }
	f32 := func(off int) float64 { return float64(math.Float32frombits(order.Uint32(hdr[off : off+4]))) }

	if magic := string(hdr[344:347]); magic != "n+1" {
		return nil, fmt.Errorf("%w: unsupported NIfTI magic %q, detached .hdr/.img pairs are not read", volume.ErrInput, magic)
	}
	ndim := i16(40)
	if ndim < 3 {
		return nil, fmt.Errorf("%w: NIfTI image has %d dimensions", volume.ErrInput, ndim)
	}
	for d := 4; d <= int(ndim) && d <= 7; d++ {
		if n := i16(40 + 2*d); n > 1 {
			return nil, fmt.Errorf("%w: 4-D NIfTI images are not supported", volume.ErrInput)
		}
	}
	pt, ok := niftiDatatypes[i16(70)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported NIfTI datatype %d", volume.ErrInput, i16(70))
	}
	w, h, d := int(i16(42)), int(i16(44)), int(i16(46))
	n, err := voxelCount(w, h, d, maxVoxels)
	if err != nil {
		return nil, err
	}

	offset := f32(108)
	if offset < niftiHeaderSize || math.IsNaN(offset) {
		offset = niftiVoxOffset
	}
	if offset > maxDim {
		return nil, fmt.Errorf("%w: vox_offset %v out of range", volume.ErrInput, offset)
	}
	skip := int64(offset) - niftiHeaderSize
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return nil, fmt.Errorf("%w: vox_offset %v beyond end of file", volume.ErrInput, offset)
	}
	data, err := readLimited(r, n*pt.Size())
	if err != nil {
		return nil, err
	}
	values, err := decodeRaw(data, pt, order, n)
	if err != nil {
		return nil, err
	}

	v := &volume.Volume{
		Data:      values,
		Width:     w,
		Height:    h,
		Depth:     d,
		Spacing:   r3.Vec{X: f32(80), Y: f32(84), Z: f32(88)},
		Origin:    r3.Vec{X: f32(268), Y: f32(272), Z: f32(276)},
		PixelType: pt,
	}
	slope, inter := f32(112), f32(116)
	if slope != 0 && (slope != 1 || inter != 0) {
		for i, val := range v.Data {
			v.Data[i] = val*slope + inter
		}
		v.PixelType = volume.Float64
	}
	return v, nil
}

// writeNIfTI writes a single file NIfTI-1 image, gzip compressed when path
// ends in .gz.
func writeNIfTI(v *volume.Volume, path string) error {
	order := binary.LittleEndian
	hdr := make([]byte, niftiVoxOffset)
	put16 := func(off int, val int16) { order.PutUint16(hdr[off:], uint16(val)) }
	put32f := func(off int, val float64) { order.PutUint32(hdr[off:], math.Float32bits(float32(val))) }

	order.PutUint32(hdr[0:], niftiHeaderSize)
	hdr[39] = 0
	put16(40, 3)
	put16(42, int16(v.Width))
	put16(44, int16(v.Height))
	put16(46, int16(v.Depth))
	for d := 4; d < 8; d++ {
		put16(40+2*d, 1)
	}
	put16(70, niftiDatatype(v.PixelType))
	put16(72, int16(8*v.PixelType.Size()))
	put32f(76, 1)
	put32f(80, v.Spacing.X)
	put32f(84, v.Spacing.Y)
	put32f(88, v.Spacing.Z)
	for d := 4; d < 8; d++ {
		put32f(76+4*d, 1)
	}
	put32f(108, niftiVoxOffset)
	put32f(112, 1)
	hdr[123] = 2 // millimetres
	copy(hdr[148:], "toothanalyser")
	put16(252, 1)
	put32f(268, v.Origin.X)
	put32f(272, v.Origin.Y)
	put32f(276, v.Origin.Z)
	copy(hdr[344:], "n+1\x00")

	var buf bytes.Buffer
	buf.Write(hdr)
	buf.Write(encodeRaw(v, order))

	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return os.WriteFile(path, buf.Bytes(), 0644)
	}
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(buf.Bytes()); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, gz.Bytes(), 0644)
}
