// Package threshold binarizes volumes with histogram based adaptive
// thresholds. The set of algorithms is closed: Algorithm is an enum and every
// value dispatches to a pure calculator over a freshly built histogram, so
// concurrent segmentations never share filter state.
package threshold

import (
	"fmt"
	"strings"

	"toothanalyser/pkg/volume"
)

// Algorithm names one of the histogram threshold procedures.
type Algorithm int

const (
	Otsu Algorithm = iota
	Huang
	MaxEntropy
	Intermodes
	IsoData
	Kittler
	Renyi
	Moments
	Shanbhag
	Yen
)

// DefaultBins is the histogram resolution used by every algorithm except
// Intermodes.
const DefaultBins = 20000

// IntermodesBins is the coarser resolution Intermodes needs to become
// bimodal after a reasonable number of smoothing passes.
const IntermodesBins = 500

var algorithmNames = [...]string{
	Otsu:       "Otsu",
	Huang:      "Huang",
	MaxEntropy: "MaxEntropy",
	Intermodes: "Intermodes",
	IsoData:    "IsoData",
	Kittler:    "Kittler",
	Renyi:      "Renyi",
	Moments:    "Moments",
	Shanbhag:   "Shanbhag",
	Yen:        "Yen",
}

// Algorithms returns every supported algorithm in declaration order.
func Algorithms() []Algorithm {
	out := make([]Algorithm, len(algorithmNames))
	for i := range out {
		out[i] = Algorithm(i)
	}
	return out
}

// ParseAlgorithm maps a name such as "Otsu" or "renyi" to its Algorithm.
// Matching ignores case. Unknown names are a configuration error.
func ParseAlgorithm(name string) (Algorithm, error) {
	for i, n := range algorithmNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Algorithm(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown threshold algorithm %q (supported: %s)",
		volume.ErrConfiguration, name, strings.Join(algorithmNames[:], ", "))
}

// Valid reports whether a is one of the declared algorithms.
func (a Algorithm) Valid() bool {
	return a >= 0 && int(a) < len(algorithmNames)
}

// String returns the canonical name, e.g. "MaxEntropy".
func (a Algorithm) String() string {
	if !a.Valid() {
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
	return algorithmNames[a]
}

// Key returns the lower-case name used in output file names.
func (a Algorithm) Key() string {
	return strings.ToLower(a.String())
}

// Bins returns the histogram resolution for a.
func (a Algorithm) Bins() int {
	if a == Intermodes {
		return IntermodesBins
	}
	return DefaultBins
}

// MarshalText implements encoding.TextMarshaler.
func (a Algorithm) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: invalid threshold algorithm %d", volume.ErrConfiguration, int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Algorithm) UnmarshalText(text []byte) error {
	parsed, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// calculator returns the threshold bin of a histogram; voxels in bins above
// it are foreground.
type calculator func(h []float64) (int, error)

func (a Algorithm) calculator() (calculator, error) {
	switch a {
	case Otsu:
		return otsu, nil
	case Huang:
		return huang, nil
	case MaxEntropy:
		return maxEntropy, nil
	case Intermodes:
		return intermodes, nil
	case IsoData:
		return isoData, nil
	case Kittler:
		return kittler, nil
	case Renyi:
		return renyi, nil
	case Moments:
		return moments, nil
	case Shanbhag:
		return shanbhag, nil
	case Yen:
		return yen, nil
	}
	return nil, fmt.Errorf("%w: invalid threshold algorithm %d", volume.ErrConfiguration, int(a))
}
