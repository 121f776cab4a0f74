package volume

import "fmt"

// checkGeometry returns an ErrInput error when any operand differs in
// geometry from the first one.
func checkGeometry(op string, vols ...*Volume) error {
	if len(vols) == 0 {
		return fmt.Errorf("%w: %s: no operands", ErrInput, op)
	}
	for i, v := range vols {
		if v == nil {
			return fmt.Errorf("%w: %s: operand %d is nil", ErrInput, op, i)
		}
		if i > 0 && !vols[0].SameGeometry(v) {
			return fmt.Errorf("%w: %s: operand %d geometry %s does not match %s",
				ErrInput, op, i, v, vols[0])
		}
	}
	return nil
}

// Map applies f to every voxel and returns the result as a new volume of the
// given pixel type.
func Map(v *Volume, pixelType PixelType, f func(float64) float64) *Volume {
	out := v.Like(pixelType)
	for i, val := range v.Data {
		out.Data[i] = f(val)
	}
	return out
}

// Binary converts a predicate over voxel values into a 0/1 volume.
func Binary(v *Volume, pred func(float64) bool) *Volume {
	out := v.Like(UInt8)
	for i, val := range v.Data {
		if pred(val) {
			out.Data[i] = 1
		}
	}
	return out
}

// GreaterThan returns the binary volume v > c.
func GreaterThan(v *Volume, c float64) *Volume {
	return Binary(v, func(x float64) bool { return x > c })
}

// Equal returns the binary volume v == c. Used to pick single labels out of
// a component map.
func Equal(v *Volume, c float64) *Volume {
	return Binary(v, func(x float64) bool { return x == c })
}

// Not returns the binary complement of v; every zero voxel becomes 1.
func Not(v *Volume) *Volume {
	return Binary(v, func(x float64) bool { return x == 0 })
}

// Mask keeps the voxels of v where m is non-zero and zeroes the rest. The
// result keeps v's pixel type.
func Mask(v, m *Volume) (*Volume, error) {
	if err := checkGeometry("mask", v, m); err != nil {
		return nil, err
	}
	out := v.Like(v.PixelType)
	for i, val := range v.Data {
		if m.Data[i] != 0 {
			out.Data[i] = val
		}
	}
	return out, nil
}

// Or returns the binary union of the operands.
func Or(vols ...*Volume) (*Volume, error) {
	if err := checkGeometry("or", vols...); err != nil {
		return nil, err
	}
	out := vols[0].Like(UInt8)
	for _, v := range vols {
		for i, val := range v.Data {
			if val != 0 {
				out.Data[i] = 1
			}
		}
	}
	return out, nil
}

// And returns the binary intersection of the operands.
func And(vols ...*Volume) (*Volume, error) {
	if err := checkGeometry("and", vols...); err != nil {
		return nil, err
	}
	out := vols[0].Like(UInt8)
	for i := range out.Data {
		on := 1.0
		for _, v := range vols {
			if v.Data[i] == 0 {
				on = 0
				break
			}
		}
		out.Data[i] = on
	}
	return out, nil
}

// AndNot returns the binary volume a ∧ ¬b.
func AndNot(a, b *Volume) (*Volume, error) {
	if err := checkGeometry("and-not", a, b); err != nil {
		return nil, err
	}
	out := a.Like(UInt8)
	for i := range out.Data {
		if a.Data[i] != 0 && b.Data[i] == 0 {
			out.Data[i] = 1
		}
	}
	return out, nil
}

// WeightedSum returns Σ weights[i]·vols[i] as a UInt8 volume. The label map
// of the pipeline is built as WeightedSum([enamel, dentin], [3, 2]).
func WeightedSum(vols []*Volume, weights []float64) (*Volume, error) {
	if len(vols) != len(weights) {
		return nil, fmt.Errorf("%w: weighted sum of %d volumes with %d weights",
			ErrInput, len(vols), len(weights))
	}
	if err := checkGeometry("weighted-sum", vols...); err != nil {
		return nil, err
	}
	out := vols[0].Like(UInt8)
	for k, v := range vols {
		w := weights[k]
		for i, val := range v.Data {
			out.Data[i] += w * val
		}
	}
	return out, nil
}

// Count returns the number of non-zero voxels.
func Count(v *Volume) int {
	n := 0
	for _, val := range v.Data {
		if val != 0 {
			n++
		}
	}
	return n
}

// IsBinary reports whether every voxel is 0 or 1.
func IsBinary(v *Volume) bool {
	for _, val := range v.Data {
		if val != 0 && val != 1 {
			return false
		}
	}
	return true
}

// Equals reports whether a and b have the same geometry and identical voxel
// values.
func Equals(a, b *Volume) bool {
	if !a.SameGeometry(b) || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}
