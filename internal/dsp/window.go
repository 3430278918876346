package dsp

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/dsp/window"
)

// WindowType selects the weighting function applied to each sample
// block before the forward transform.
type WindowType int

// Supported window functions. Rectangular is the identity window.
const (
	Rectangular WindowType = iota
	Hann
	Hamming
	Blackman
	BlackmanHarris
	BlackmanNuttall
	Nuttall
	FlatTop
)

// String returns the canonical lower-case name of the window type.
func (w WindowType) String() string {
	switch w {
	case Rectangular:
		return "rectangular"
	case Hann:
		return "hann"
	case Hamming:
		return "hamming"
	case Blackman:
		return "blackman"
	case BlackmanHarris:
		return "blackmanharris"
	case BlackmanNuttall:
		return "blackmannuttall"
	case Nuttall:
		return "nuttall"
	case FlatTop:
		return "flattop"
	default:
		return "unknown"
	}
}

// ParseWindowType converts a name (case-insensitive) to a WindowType.
// Returns Hann and an error if the name is unknown.
func ParseWindowType(name string) (WindowType, error) {
	switch strings.ToLower(name) {
	case "rectangular", "rect", "none":
		return Rectangular, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "blackman":
		return Blackman, nil
	case "blackmanharris", "blackman-harris":
		return BlackmanHarris, nil
	case "blackmannuttall", "blackman-nuttall":
		return BlackmanNuttall, nil
	case "nuttall":
		return Nuttall, nil
	case "flattop", "flat-top":
		return FlatTop, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window name: %q", name)
	}
}

// WindowTable holds the precomputed per-sample coefficients for one
// {size, type} pair. Rebuilt whenever either changes.
type WindowTable struct {
	winType WindowType
	size    int
	coeffs  []float64
	power   float64 // sum of coefficients, used for magnitude normalization
}

// NewWindowTable builds a coefficient table for the given size and
// type. Fails on non-positive sizes and unsupported types without
// touching any shared state.
func NewWindowTable(size int, winType WindowType) (*WindowTable, error) {
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", size)
	}

	coeffs := make([]float64, size)
	for i := range coeffs {
		coeffs[i] = 1.0
	}

	switch winType {
	case Rectangular:
		// Identity window, coefficients stay at 1.
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanHarris:
		window.BlackmanHarris(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	case FlatTop:
		window.FlatTop(coeffs)
	default:
		return nil, fmt.Errorf("unsupported window type %d", winType)
	}

	power := 0.0
	for _, c := range coeffs {
		power += c
	}

	return &WindowTable{
		winType: winType,
		size:    size,
		coeffs:  coeffs,
		power:   power,
	}, nil
}

// Type returns the window type the table was built for.
func (t *WindowTable) Type() WindowType { return t.winType }

// Size returns the window length in samples.
func (t *WindowTable) Size() int { return t.size }

// Coefficients exposes the coefficient slice. Callers must not
// modify it; the table is shared with the analyzer.
func (t *WindowTable) Coefficients() []float64 { return t.coeffs }

// Power returns the coherent gain (sum of coefficients).
func (t *WindowTable) Power() float64 { return t.power }
