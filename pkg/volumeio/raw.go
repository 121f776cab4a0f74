package volumeio

import (
	"encoding/binary"
	"fmt"
	"math"

	"toothanalyser/pkg/volume"
)

// decodeRaw converts packed voxel bytes into float64 values.
func decodeRaw(buf []byte, pt volume.PixelType, order binary.ByteOrder, n int) ([]float64, error) {
	size := pt.Size()
	if len(buf) < n*size {
		return nil, fmt.Errorf("%w: voxel data has %d bytes, need %d", volume.ErrInput, len(buf), n*size)
	}
	out := make([]float64, n)
	for i := range out {
		b := buf[i*size : (i+1)*size]
		switch pt {
		case volume.UInt8:
			out[i] = float64(b[0])
		case volume.Int8:
			out[i] = float64(int8(b[0]))
		case volume.UInt16:
			out[i] = float64(order.Uint16(b))
		case volume.Int16:
			out[i] = float64(int16(order.Uint16(b)))
		case volume.UInt32:
			out[i] = float64(order.Uint32(b))
		case volume.Int32:
			out[i] = float64(int32(order.Uint32(b)))
		case volume.Float32:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case volume.Float64:
			out[i] = math.Float64frombits(order.Uint64(b))
		default:
			return nil, fmt.Errorf("%w: unsupported pixel type %s", volume.ErrInput, pt)
		}
	}
	return out, nil
}

// encodeRaw packs the voxels of v in its pixel type. Integer types are
// rounded and saturated.
func encodeRaw(v *volume.Volume, order binary.ByteOrder) []byte {
	size := v.PixelType.Size()
	buf := make([]byte, len(v.Data)*size)
	for i, val := range v.Data {
		b := buf[i*size : (i+1)*size]
		switch v.PixelType {
		case volume.UInt8:
			b[0] = uint8(saturate(val, 0, math.MaxUint8))
		case volume.Int8:
			b[0] = uint8(int8(saturate(val, math.MinInt8, math.MaxInt8)))
		case volume.UInt16:
			order.PutUint16(b, uint16(saturate(val, 0, math.MaxUint16)))
		case volume.Int16:
			order.PutUint16(b, uint16(int16(saturate(val, math.MinInt16, math.MaxInt16))))
		case volume.UInt32:
			order.PutUint32(b, uint32(saturate(val, 0, math.MaxUint32)))
		case volume.Int32:
			order.PutUint32(b, uint32(int32(saturate(val, math.MinInt32, math.MaxInt32))))
		case volume.Float32:
			order.PutUint32(b, math.Float32bits(float32(val)))
		default:
			order.PutUint64(b, math.Float64bits(val))
		}
	}
	return buf
}

func saturate(val, lo, hi float64) float64 {
	if math.IsNaN(val) {
		return 0
	}
	val = math.Round(val)
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
