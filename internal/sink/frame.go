package sink

// Tag is a named metadata marker attached to a sample offset within
// one delivered input block. Offsets are relative to the start of the
// block they arrived with; the sink converts them to absolute stream
// positions when it records them.
type Tag struct {
	Channel int
	Offset  int
	Key     string
	Value   string
}

// Frame is one emitted multi-channel spectral snapshot. Rows 0..n-1
// hold per-channel magnitude spectra in dB; the final row is the
// shared frequency axis in Hz. All rows have identical length, equal
// to the FFT size at the time the frame was finalized. A frame is
// immutable once pushed to the queue and becomes consumer-owned when
// popped.
type Frame struct {
	Rows       [][]float32
	CenterFreq float64
	Bandwidth  float64
}

// NumRows returns the row count (channel count plus the axis row).
func (f *Frame) NumRows() int { return len(f.Rows) }

// RowLen returns the per-row length, the FFT size of the frame.
func (f *Frame) RowLen() int {
	if len(f.Rows) == 0 {
		return 0
	}
	return len(f.Rows[0])
}

// RowMajor flattens the frame into a single row-major buffer and
// returns it with the row count and row length. The returned buffer
// is freshly allocated and owned by the caller.
func (f *Frame) RowMajor() ([]float32, int, int) {
	nrows := f.NumRows()
	rowLen := f.RowLen()

	flat := make([]float32, 0, nrows*rowLen)
	for _, row := range f.Rows {
		flat = append(flat, row...)
	}
	return flat, nrows, rowLen
}
