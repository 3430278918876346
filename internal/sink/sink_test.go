package sink

import (
	"math"
	"testing"

	"freqsink/internal/dsp"
	"freqsink/pkg/utils"
)

const testSize = 64

// toneBlock returns one window-length block carrying a 0.9 full-scale
// tone exactly on FFT bin k.
func toneBlock(n, k int) []float32 {
	block := make([]float32, n)
	for i := range block {
		block[i] = float32(0.9 * math.Sin(2*math.Pi*float64(k)*float64(i)/float64(n)))
	}
	return block
}

// quietBlock is ~-120 dBFS, far below any test trigger level.
func quietBlock(n int) []float32 {
	block := toneBlock(n, 4)
	for i := range block {
		block[i] *= 1e-6
	}
	return block
}

func newTestSink(t *testing.T, connections, queueCapacity int) *Sink {
	t.Helper()
	s, err := New(Params{
		FFTSize:       testSize,
		Window:        dsp.Rectangular,
		CenterFreq:    0,
		Bandwidth:     float64(testSize),
		Name:          "test",
		Connections:   connections,
		QueueCapacity: queueCapacity,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestFrameShapeInvariant(t *testing.T) {
	s := newTestSink(t, 2, 8)

	inputs := [][]float32{toneBlock(testSize, 4), toneBlock(testSize, 8)}
	if err := s.Process(inputs, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}

	f, ok := s.PopFrame()
	if !ok {
		t.Fatal("no frame after complete windows on every channel")
	}
	if f.NumRows() != 3 {
		t.Errorf("NumRows() = %d, want nconnections+1 = 3", f.NumRows())
	}
	for i, row := range f.Rows {
		if len(row) != testSize {
			t.Errorf("row %d length = %d, want %d", i, len(row), testSize)
		}
	}

	flat, nrows, rowLen := f.RowMajor()
	if nrows != 3 || rowLen != testSize || len(flat) != 3*testSize {
		t.Errorf("RowMajor() = (%d, %d, %d), want (%d, 3, %d)", len(flat), nrows, rowLen, 3*testSize, testSize)
	}
}

func TestFreeModeEmitsEveryFrame(t *testing.T) {
	s := newTestSink(t, 1, 16)

	// One call carrying five complete windows.
	const n = 5
	block := make([]float32, n*testSize)
	copy(block, toneBlock(n*testSize, 4))
	if err := s.Process([][]float32{block}, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if got := s.QueueLen(); got != n {
		t.Errorf("QueueLen() = %d, want %d", got, n)
	}
}

func TestNormalModeWithholdsThenFreeRuns(t *testing.T) {
	s := newTestSink(t, 1, 16)
	if err := s.SetTrigger(TriggerNormal, -50, 0, ""); err != nil {
		t.Fatalf("SetTrigger: %v", err)
	}

	// Below-level frames are fully discarded, not queued.
	for i := 0; i < 3; i++ {
		if err := s.Process([][]float32{quietBlock(testSize)}, nil); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if got := s.QueueLen(); got != 0 {
		t.Fatalf("QueueLen() = %d before trigger, want 0", got)
	}
	if s.TriggerArmed() {
		t.Error("armed before the trigger event")
	}

	// The triggering frame is queued.
	if err := s.Process([][]float32{toneBlock(testSize, 4)}, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := s.QueueLen(); got != 1 {
		t.Fatalf("QueueLen() = %d at trigger, want 1", got)
	}
	if !s.TriggerArmed() {
		t.Error("not armed after the trigger event")
	}

	// Free-runs afterward regardless of level.
	for i := 0; i < 2; i++ {
		if err := s.Process([][]float32{quietBlock(testSize)}, nil); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if got := s.QueueLen(); got != 3 {
		t.Errorf("QueueLen() = %d after free-run, want 3", got)
	}
}

func TestNormalModeRearm(t *testing.T) {
	s := newTestSink(t, 1, 16)
	s.SetTriggerRearm(true)
	if err := s.SetTrigger(TriggerNormal, -50, 0, ""); err != nil {
		t.Fatalf("SetTrigger: %v", err)
	}

	s.Process([][]float32{toneBlock(testSize, 4)}, nil)
	s.Process([][]float32{quietBlock(testSize)}, nil)
	s.Process([][]float32{toneBlock(testSize, 4)}, nil)

	// Only the two qualifying frames pass under the re-arm policy.
	if got := s.QueueLen(); got != 2 {
		t.Errorf("QueueLen() = %d with rearm, want 2", got)
	}
}

func TestAutoModeNeverBlocks(t *testing.T) {
	s := newTestSink(t, 1, 16)
	// A level nothing can reach.
	if err := s.SetTrigger(TriggerAuto, 1000, 0, ""); err != nil {
		t.Fatalf("SetTrigger: %v", err)
	}

	s.Process([][]float32{quietBlock(testSize)}, nil)
	if got := s.QueueLen(); got != 1 {
		t.Errorf("QueueLen() = %d, auto mode must not block", got)
	}
	if s.TriggerArmed() {
		t.Error("trigger-seen recorded for an unreachable level")
	}

	// Reachable level: still emits, and records the event.
	s.SetTrigger(TriggerAuto, -50, 0, "")
	s.Process([][]float32{toneBlock(testSize, 4)}, nil)
	if got := s.QueueLen(); got != 2 {
		t.Errorf("QueueLen() = %d, want 2", got)
	}
	if !s.TriggerArmed() {
		t.Error("trigger-seen not recorded for an above-level frame")
	}
}

func TestCapacityEvictionKeepsNewest(t *testing.T) {
	s := newTestSink(t, 1, 2)

	// Three frames with distinct tone bins; the first must be evicted.
	for _, bin := range []int{4, 8, 12} {
		if err := s.Process([][]float32{toneBlock(testSize, bin)}, nil); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if got := s.QueueLen(); got != 2 {
		t.Fatalf("QueueLen() = %d, want 2", got)
	}
	if got := s.QueueDropped(); got != 1 {
		t.Errorf("QueueDropped() = %d, want 1", got)
	}

	half := testSize / 2
	for _, wantBin := range []int{8, 12} {
		f, ok := s.PopFrame()
		if !ok {
			t.Fatal("queue empty while frames expected")
		}
		peak := utils.FindPeakBin(f.Rows[0], half+1, testSize-1)
		if peak != half+wantBin {
			t.Errorf("surviving frame peak at bin %d, want %d", peak, half+wantBin)
		}
	}
}

func TestResizeResetsAccumulation(t *testing.T) {
	s := newTestSink(t, 1, 8)

	// Half a window buffered, then resize: the partial must be lost.
	if err := s.Process([][]float32{make([]float32, testSize/2)}, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	const newSize = 48
	if err := s.SetFFTSize(newSize); err != nil {
		t.Fatalf("SetFFTSize: %v", err)
	}

	if err := s.Process([][]float32{make([]float32, newSize-1)}, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := s.QueueLen(); got != 0 {
		t.Fatalf("QueueLen() = %d, stale partial window completed a frame", got)
	}

	if err := s.Process([][]float32{make([]float32, 1)}, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	f, ok := s.PopFrame()
	if !ok {
		t.Fatal("no frame after a full fresh window post-resize")
	}
	if f.RowLen() != newSize {
		t.Errorf("RowLen() = %d, want %d", f.RowLen(), newSize)
	}

	if err := s.SetFFTSize(0); err == nil {
		t.Error("expected error for fftresize(0)")
	}
	if err := s.SetFFTSize(-16); err == nil {
		t.Error("expected error for negative fft size")
	}
}

func TestTagTriggerThroughPipeline(t *testing.T) {
	s := newTestSink(t, 1, 8)
	if err := s.SetTrigger(TriggerTag, 0, 0, "burst"); err != nil {
		t.Fatalf("SetTrigger: %v", err)
	}

	// A tag with the wrong key does not fire.
	s.Process([][]float32{toneBlock(testSize, 4)}, []Tag{{Channel: 0, Offset: 10, Key: "other", Value: "x"}})
	if got := s.QueueLen(); got != 0 {
		t.Fatalf("QueueLen() = %d after mismatched tag, want 0", got)
	}

	// Matching key with an arbitrary value fires for the window that
	// contains the tagged sample.
	s.Process([][]float32{toneBlock(testSize, 4)}, []Tag{{Channel: 0, Offset: 3, Key: "burst", Value: "ignored"}})
	if got := s.QueueLen(); got != 1 {
		t.Errorf("QueueLen() = %d after matching tag, want 1", got)
	}
}

func TestResizeDropsPendingTags(t *testing.T) {
	s := newTestSink(t, 1, 8)
	if err := s.SetTrigger(TriggerTag, 0, 0, "burst"); err != nil {
		t.Fatalf("SetTrigger: %v", err)
	}

	// Tag a sample inside a half-accumulated window, then resize. The
	// resize discards that sample, and stream positions restart at
	// zero, so the recorded tag must not fire on a later window that
	// happens to cover the same numeric span.
	tags := []Tag{{Channel: 0, Offset: 10, Key: "burst", Value: "x"}}
	if err := s.Process([][]float32{make([]float32, testSize/2)}, tags); err != nil {
		t.Fatalf("Process: %v", err)
	}
	const newSize = 128
	if err := s.SetFFTSize(newSize); err != nil {
		t.Fatalf("SetFFTSize: %v", err)
	}

	if err := s.Process([][]float32{make([]float32, newSize)}, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := s.QueueLen(); got != 0 {
		t.Fatalf("QueueLen() = %d, stale pre-resize tag fired post-resize window", got)
	}

	// A fresh tag against the restarted positions still fires.
	tags = []Tag{{Channel: 0, Offset: 5, Key: "burst", Value: "x"}}
	if err := s.Process([][]float32{make([]float32, newSize)}, tags); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := s.QueueLen(); got != 1 {
		t.Errorf("QueueLen() = %d after post-resize tag, want 1", got)
	}
}

func TestMalformedMessageIsNoOp(t *testing.T) {
	s := newTestSink(t, 1, 8)

	// Half a window of stream accumulation in flight.
	if err := s.Process([][]float32{make([]float32, testSize/2)}, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Not a multiple of fftsize: dropped, no frames, no state damage.
	s.HandleMessage(make([]float32, testSize+1))
	s.HandleMessage([]float32{})
	s.HandleMessage("not a vector")
	if got := s.QueueLen(); got != 0 {
		t.Fatalf("QueueLen() = %d after malformed messages, want 0", got)
	}

	// The in-flight stream accumulation still completes normally.
	if err := s.Process([][]float32{make([]float32, testSize/2)}, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := s.QueueLen(); got != 1 {
		t.Errorf("QueueLen() = %d, stream accumulation was disturbed", got)
	}
}

func TestMessageOnlyMode(t *testing.T) {
	s, err := New(Params{
		FFTSize:     testSize,
		Window:      dsp.Rectangular,
		Bandwidth:   float64(testSize),
		Connections: 0,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Stream input is rejected outright.
	if err := s.Process([][]float32{make([]float32, testSize)}, nil); err == nil {
		t.Error("expected error processing stream input on a message-only sink")
	}

	// A vector of three windows yields three 2-row frames.
	s.HandleMessage(make([]float32, 3*testSize))
	if got := s.QueueLen(); got != 3 {
		t.Fatalf("QueueLen() = %d, want 3", got)
	}
	f, _ := s.PopFrame()
	if f.NumRows() != 2 {
		t.Errorf("NumRows() = %d, want 2 (one logical channel plus axis)", f.NumRows())
	}

	// PDU-wrapped payloads behave identically.
	s.HandleMessage(PDU{Meta: map[string]any{"source": "radio0"}, Data: toneBlock(testSize, 4)})
	if got := s.QueueLen(); got != 3 {
		t.Errorf("QueueLen() = %d after PDU, want 3", got)
	}
}

func TestHandleSetFreq(t *testing.T) {
	s := newTestSink(t, 1, 8)
	s.SetFrequencyRange(1e6, 1000)

	s.HandleSetFreq(2.4e9)
	if got := s.CenterFreq(); got != 2.4e9 {
		t.Errorf("CenterFreq() = %g, want 2.4e9", got)
	}
	if got := s.Bandwidth(); got != 1000 {
		t.Errorf("Bandwidth() = %g, want unchanged 1000", got)
	}

	s.HandleSetFreq(PDU{Meta: map[string]any{"freq": 915e6}})
	if got := s.CenterFreq(); got != 915e6 {
		t.Errorf("CenterFreq() = %g after PDU set-freq, want 915e6", got)
	}

	// Garbage is dropped without effect.
	s.HandleSetFreq("nope")
	s.HandleSetFreq(PDU{Meta: map[string]any{"other": 1.0}})
	if got := s.CenterFreq(); got != 915e6 {
		t.Errorf("CenterFreq() = %g after malformed set-freq, want 915e6", got)
	}
}

func TestFrequencyAxisRow(t *testing.T) {
	s := newTestSink(t, 1, 8)
	s.SetFrequencyRange(1e6, 1000)

	s.Process([][]float32{toneBlock(testSize, 4)}, nil)
	f, ok := s.PopFrame()
	if !ok {
		t.Fatal("no frame queued")
	}

	axis := f.Rows[f.NumRows()-1]
	step := 1000.0 / testSize
	wantFirst := 1e6 - 500
	if math.Abs(float64(axis[0])-wantFirst) > 1 {
		t.Errorf("axis[0] = %f, want %f", axis[0], wantFirst)
	}
	wantLast := wantFirst + float64(testSize-1)*step
	if math.Abs(float64(axis[testSize-1])-wantLast) > 1 {
		t.Errorf("axis[last] = %f, want %f", axis[testSize-1], wantLast)
	}
	if f.CenterFreq != 1e6 || f.Bandwidth != 1000 {
		t.Errorf("frame metadata = (%g, %g), want (1e6, 1000)", f.CenterFreq, f.Bandwidth)
	}
}

func TestSetTriggerValidation(t *testing.T) {
	s := newTestSink(t, 2, 8)

	if err := s.SetTrigger(TriggerNormal, -50, 2, ""); err == nil {
		t.Error("expected error for out-of-range trigger channel")
	}
	if err := s.SetTrigger(TriggerNormal, -50, -1, ""); err == nil {
		t.Error("expected error for negative trigger channel")
	}
	// Rejected setters leave the previous configuration in place.
	if got := s.TriggerMode(); got != TriggerFree {
		t.Errorf("TriggerMode() = %v after rejected set, want free", got)
	}

	if err := s.SetTrigger(TriggerTag, 0, 1, "k"); err != nil {
		t.Errorf("valid SetTrigger failed: %v", err)
	}
	if s.TriggerChannel() != 1 || s.TriggerTagKey() != "k" {
		t.Errorf("trigger accessors = (%d, %q), want (1, k)", s.TriggerChannel(), s.TriggerTagKey())
	}
}

func TestResetClearsRuntimeState(t *testing.T) {
	s := newTestSink(t, 1, 8)
	s.SetTrigger(TriggerNormal, -50, 0, "")

	s.Process([][]float32{toneBlock(testSize, 4)}, nil)
	if !s.TriggerArmed() || s.QueueLen() != 1 {
		t.Fatalf("precondition failed: armed=%v queue=%d", s.TriggerArmed(), s.QueueLen())
	}

	s.Reset()
	if s.TriggerArmed() {
		t.Error("still armed after Reset")
	}
	if s.QueueLen() != 0 {
		t.Error("queue not cleared by Reset")
	}

	// Back to withholding below-level frames.
	s.Process([][]float32{quietBlock(testSize)}, nil)
	if s.QueueLen() != 0 {
		t.Error("below-level frame emitted after Reset")
	}

	// Configuration survives Reset.
	if s.TriggerMode() != TriggerNormal || s.FFTSize() != testSize {
		t.Error("Reset disturbed configuration")
	}
}

func TestPlotDataPullContract(t *testing.T) {
	s := newTestSink(t, 1, 8)

	// Transient empty is not an error.
	if _, _, _, ok := s.PlotData(); ok {
		t.Error("PlotData() reported a frame on an empty queue")
	}

	s.Process([][]float32{toneBlock(testSize, 4)}, nil)
	data, nrows, rowLen, ok := s.PlotData()
	if !ok {
		t.Fatal("PlotData() empty after an emitted frame")
	}
	if nrows != 2 || rowLen != testSize || len(data) != 2*testSize {
		t.Errorf("PlotData() = (%d, %d, %d), want (%d, 2, %d)", len(data), nrows, rowLen, 2*testSize, testSize)
	}

	// Pop removes: the queue is empty again.
	if _, _, _, ok := s.PlotData(); ok {
		t.Error("frame not removed by PlotData()")
	}
}

func TestConfigGetters(t *testing.T) {
	s, err := New(Params{
		FFTSize:     128,
		Window:      dsp.Hann,
		CenterFreq:  100e6,
		Bandwidth:   1e6,
		Name:        "rx0",
		Connections: 2,
		Avg:         0.25,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if s.Name() != "rx0" || s.FFTSize() != 128 || s.Connections() != 2 {
		t.Errorf("basic getters wrong: %q %d %d", s.Name(), s.FFTSize(), s.Connections())
	}
	if s.Window() != dsp.Hann {
		t.Errorf("Window() = %v, want Hann", s.Window())
	}
	if s.CenterFreq() != 100e6 || s.Bandwidth() != 1e6 {
		t.Errorf("frequency range = (%g, %g)", s.CenterFreq(), s.Bandwidth())
	}
	if s.FFTAvg() != 0.25 {
		t.Errorf("FFTAvg() = %g, want 0.25", s.FFTAvg())
	}

	s.SetName("rx1")
	if s.Name() != "rx1" {
		t.Errorf("Name() = %q after SetName, want rx1", s.Name())
	}

	if err := s.SetFFTWindow(dsp.WindowType(99)); err == nil {
		t.Error("expected error for unsupported window type")
	}
	if s.Window() != dsp.Hann {
		t.Error("rejected window change mutated state")
	}
	if err := s.SetFFTWindow(dsp.Blackman); err != nil {
		t.Errorf("SetFFTWindow: %v", err)
	}

	if err := s.SetFFTAvg(2); err == nil {
		t.Error("expected error for avg > 1")
	}
	if s.FFTAvg() != 0.25 {
		t.Error("rejected avg change mutated state")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Params{FFTSize: 0, Connections: 1}); err == nil {
		t.Error("expected error for zero fft size")
	}
	if _, err := New(Params{FFTSize: 64, Connections: -1}); err == nil {
		t.Error("expected error for negative connections")
	}
	if _, err := New(Params{FFTSize: 64, Connections: 1, Avg: -0.5}); err == nil {
		t.Error("expected error for negative averaging factor")
	}
}
