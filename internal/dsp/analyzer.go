/*
Package dsp implements the spectral half of the sink: precomputed
window tables and a per-channel analyzer that turns raw sample blocks
into centered, dB-scaled magnitude rows with exponential averaging.

The analyzer owns pre-allocated workspaces so the per-window path does
not allocate. It is not safe for concurrent use; the sink serializes
access to it.
*/
package dsp

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// dbFloor keeps log10 defined when a bin magnitude is exactly zero.
const dbFloor = 1e-20

// Workspace buffers reused across Analyze calls.
type analyzerWorkspace struct {
	input     []float64    // windowed input samples
	fftOutput []complex128 // half-spectrum complex output
	halfMag   []float64    // half-spectrum magnitudes
}

// Analyzer produces one spectral-magnitude row per channel window.
// Rows are full FFT-size, centered (negative frequencies first), in
// dB relative to full scale, and smoothed against the previous row
// for the same channel with factor avg in (0,1] where 1 disables
// smoothing.
type Analyzer struct {
	fftSize   int
	channels  int
	avg       float64
	fftObj    *fourier.FFT
	table     *WindowTable
	workspace analyzerWorkspace

	prev    [][]float64 // per-channel previous output row
	hasPrev []bool
}

// NewAnalyzer builds an analyzer for the given FFT size, window type,
// and channel count. The channel count is fixed for the analyzer's
// lifetime; the FFT size and window type can change via Resize and
// SetWindowType.
func NewAnalyzer(fftSize int, winType WindowType, channels int) (*Analyzer, error) {
	if fftSize <= 0 {
		return nil, fmt.Errorf("fft size must be positive, got %d", fftSize)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}

	table, err := NewWindowTable(fftSize, winType)
	if err != nil {
		return nil, err
	}

	a := &Analyzer{
		fftSize:  fftSize,
		channels: channels,
		avg:      1.0,
		table:    table,
	}
	a.allocate()
	return a, nil
}

// allocate sizes the workspace and averaging state for the current
// FFT size. Any previous averaging history is discarded.
func (a *Analyzer) allocate() {
	a.fftObj = fourier.NewFFT(a.fftSize)
	halfLen := a.fftSize/2 + 1

	a.workspace = analyzerWorkspace{
		input:     make([]float64, a.fftSize),
		fftOutput: make([]complex128, halfLen),
		halfMag:   make([]float64, halfLen),
	}

	a.prev = make([][]float64, a.channels)
	for ch := range a.prev {
		a.prev[ch] = make([]float64, a.fftSize)
	}
	a.hasPrev = make([]bool, a.channels)
}

// Analyze consumes one fftSize-length sample block for channel ch and
// writes the averaged magnitude row into dst. dst and samples must
// both have length fftSize.
func (a *Analyzer) Analyze(dst []float32, ch int, samples []float32) error {
	if ch < 0 || ch >= a.channels {
		return fmt.Errorf("channel %d out of range [0,%d)", ch, a.channels)
	}
	if len(samples) != a.fftSize || len(dst) != a.fftSize {
		return fmt.Errorf("block length %d / dst length %d, want %d", len(samples), len(dst), a.fftSize)
	}

	coeffs := a.table.Coefficients()
	for i, s := range samples {
		a.workspace.input[i] = float64(s) * coeffs[i]
	}

	a.fftObj.Coefficients(a.workspace.fftOutput, a.workspace.input)

	// Normalize by the window's coherent gain so a full-scale tone
	// lands near 0 dBFS regardless of window type.
	scale := 2.0 / a.table.Power()
	for i, c := range a.workspace.fftOutput {
		a.workspace.halfMag[i] = cmplx.Abs(c) * scale
	}

	// Center the spectrum: output index i maps to half-spectrum bin
	// |i - N/2|, which mirrors the negative frequencies of the real
	// transform.
	half := a.fftSize / 2
	prev := a.prev[ch]
	smooth := a.hasPrev[ch] && a.avg < 1.0
	for i := 0; i < a.fftSize; i++ {
		bin := i - half
		if bin < 0 {
			bin = -bin
		}
		db := 20 * math.Log10(a.workspace.halfMag[bin]+dbFloor)
		if smooth {
			db = a.avg*db + (1-a.avg)*prev[i]
		}
		prev[i] = db
		dst[i] = float32(db)
	}
	a.hasPrev[ch] = true

	return nil
}

// Resize changes the FFT size, rebuilding the window table and all
// workspaces. Averaging history is reset: the next row per channel is
// produced without smoothing.
func (a *Analyzer) Resize(fftSize int) error {
	if fftSize <= 0 {
		return fmt.Errorf("fft size must be positive, got %d", fftSize)
	}

	table, err := NewWindowTable(fftSize, a.table.Type())
	if err != nil {
		return err
	}

	a.fftSize = fftSize
	a.table = table
	a.allocate()
	return nil
}

// SetWindowType rebuilds the window table for a new type at the
// current size. The analyzer is unchanged if the type is unsupported.
func (a *Analyzer) SetWindowType(winType WindowType) error {
	table, err := NewWindowTable(a.fftSize, winType)
	if err != nil {
		return err
	}
	a.table = table
	return nil
}

// SetAvg sets the exponential averaging factor. Valid values are in
// (0,1], where 1 disables smoothing; anything else is rejected and
// the current factor keeps applying.
func (a *Analyzer) SetAvg(avg float64) error {
	if avg <= 0 || avg > 1 {
		return fmt.Errorf("averaging factor must be in (0,1], got %g", avg)
	}
	a.avg = avg
	return nil
}

// Avg returns the current averaging factor.
func (a *Analyzer) Avg() float64 { return a.avg }

// ResetAveraging drops per-channel smoothing history, so each
// channel's next row is a pure replacement.
func (a *Analyzer) ResetAveraging() {
	for ch := range a.hasPrev {
		a.hasPrev[ch] = false
	}
}

// FFTSize returns the current FFT size.
func (a *Analyzer) FFTSize() int { return a.fftSize }

// WindowType returns the current window type.
func (a *Analyzer) WindowType() WindowType { return a.table.Type() }

// Channels returns the fixed channel count.
func (a *Analyzer) Channels() int { return a.channels }
