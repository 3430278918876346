/*
Package sink implements a streaming frequency-domain sink: it
accumulates per-channel sample blocks into fixed-size analysis
windows, converts each completed window to an averaged magnitude
spectrum, gates the resulting multi-channel frames through a
configurable trigger, and retains emitted frames in a bounded queue
for pull-based retrieval.

Concurrency model: the production path (Process, HandleMessage) runs
on the streaming scheduler's thread; configuration setters may come
from a control thread and serialize against production under the
sink's mutex, taking effect between frames. The consumer pops frames
through the queue's own lock and never blocks the producer.
*/
package sink

import (
	"fmt"
	"sync"

	"freqsink/internal/dsp"
	applog "freqsink/internal/log"
)

// Params configures a new Sink. Zero values fall back to sensible
// defaults where noted.
type Params struct {
	FFTSize     int            // analysis window length, must be > 0
	Window      dsp.WindowType // window function applied before the transform
	CenterFreq  float64        // axis metadata, Hz
	Bandwidth   float64        // axis metadata, Hz
	Name        string         // display name for the plot consumer
	Connections int            // stream input count; 0 = message-only mode

	QueueCapacity int     // retained frame bound, default DefaultQueueCapacity
	Avg           float64 // averaging factor (0,1], default 1 (no smoothing)
	TriggerRearm  bool    // re-arm NORMAL/TAG per frame instead of free-running
}

// Sink is the frame production pipeline plus its configuration
// surface. Create one with New.
type Sink struct {
	mu sync.Mutex

	name         string
	fftSize      int
	centerFreq   float64
	bandwidth    float64
	nconnections int
	nchannels    int // logical channels: max(nconnections, 1)

	analyzer *dsp.Analyzer
	acc      *accumulator
	trig     triggerEvaluator
	queue    *Queue

	windowScratch []float32 // reusable takeWindow destination
	withheld      uint64    // frames discarded by the trigger
}

// New builds a sink with Connections stream inputs. With zero
// connections the sink accepts only message-mode input but still
// produces frames with one data row.
func New(p Params) (*Sink, error) {
	if p.FFTSize <= 0 {
		return nil, fmt.Errorf("fft size must be positive, got %d", p.FFTSize)
	}
	if p.Connections < 0 {
		return nil, fmt.Errorf("connection count must be >= 0, got %d", p.Connections)
	}

	nchannels := p.Connections
	if nchannels == 0 {
		nchannels = 1
	}

	analyzer, err := dsp.NewAnalyzer(p.FFTSize, p.Window, nchannels)
	if err != nil {
		return nil, err
	}
	if p.Avg != 0 {
		if err := analyzer.SetAvg(p.Avg); err != nil {
			return nil, err
		}
	}

	s := &Sink{
		name:          p.Name,
		fftSize:       p.FFTSize,
		centerFreq:    p.CenterFreq,
		bandwidth:     p.Bandwidth,
		nconnections:  p.Connections,
		nchannels:     nchannels,
		analyzer:      analyzer,
		acc:           newAccumulator(nchannels, p.FFTSize),
		queue:         NewQueue(p.QueueCapacity),
		windowScratch: make([]float32, p.FFTSize),
	}
	s.trig.rearm = p.TriggerRearm
	s.trig.configure(TriggerFree, 0, 0, "")

	applog.Infof("Sink: initialized %q (fft=%d, window=%s, channels=%d, queue=%d)",
		p.Name, p.FFTSize, p.Window, p.Connections, p.QueueCapacity)
	return s, nil
}

// Process consumes one block of samples per stream channel plus any
// tags observed in those blocks. inputs must have exactly one slice
// per connection; blocks may differ in length between calls but not
// between channels within a call. Completed windows are analyzed and
// triggered inside this call; a window never spans a suspended state.
func (s *Sink) Process(inputs [][]float32, tags []Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nconnections == 0 {
		return fmt.Errorf("sink %q has no stream connections; use message input", s.name)
	}
	if len(inputs) != s.nconnections {
		return fmt.Errorf("got %d input blocks, want %d", len(inputs), s.nconnections)
	}

	// Record tag positions before feeding so offsets resolve against
	// the stream position at the start of this block.
	for _, tag := range tags {
		if tag.Channel < 0 || tag.Channel >= s.nchannels || tag.Offset < 0 {
			continue
		}
		s.trig.observeTag(tag, s.acc.fedTotal(tag.Channel)+uint64(tag.Offset))
	}

	for ch, block := range inputs {
		if _, err := s.acc.feed(ch, block); err != nil {
			return err
		}
	}

	for s.acc.ready() {
		if err := s.produceFrame(); err != nil {
			return err
		}
	}
	return nil
}

// produceFrame takes one window from every channel, analyzes them,
// and either queues the frame or discards it per the trigger.
// Caller holds s.mu.
func (s *Sink) produceFrame() error {
	rows := make([][]float32, s.nchannels+1)
	for i := range rows {
		rows[i] = make([]float32, s.fftSize)
	}

	var trigStart, trigEnd uint64
	for ch := 0; ch < s.nchannels; ch++ {
		start, end, err := s.acc.takeWindow(ch, s.windowScratch)
		if err != nil {
			return err
		}
		if ch == s.trig.channel {
			trigStart, trigEnd = start, end
		}
		if err := s.analyzer.Analyze(rows[ch], ch, s.windowScratch); err != nil {
			return err
		}
	}

	s.finalizeFrame(rows, trigStart, trigEnd)
	return nil
}

// finalizeFrame runs the trigger on analyzed channel rows, fills the
// axis row, and queues the frame on emit. Caller holds s.mu.
func (s *Sink) finalizeFrame(rows [][]float32, trigStart, trigEnd uint64) {
	if !s.trig.evaluate(rows[:s.nchannels], trigStart, trigEnd) {
		s.withheld++
		applog.Debugf("Sink: frame withheld by %s trigger (%d withheld total)", s.trig.mode, s.withheld)
		return
	}

	s.fillAxis(rows[s.nchannels])
	s.queue.Push(&Frame{
		Rows:       rows,
		CenterFreq: s.centerFreq,
		Bandwidth:  s.bandwidth,
	})
}

// fillAxis writes the shared frequency axis: fftSize points from
// fc - bw/2 upward in steps of bw/fftSize.
func (s *Sink) fillAxis(axis []float32) {
	step := s.bandwidth / float64(s.fftSize)
	start := s.centerFreq - s.bandwidth/2
	for i := range axis {
		axis[i] = float32(start + float64(i)*step)
	}
}

// PopFrame removes and returns the oldest emitted frame. The caller
// owns the frame afterward. ok is false when nothing is queued.
func (s *Sink) PopFrame() (f *Frame, ok bool) {
	return s.queue.PopFront()
}

// PlotData pops the oldest frame as a row-major buffer with its row
// count and row length, matching the pull contract of an external
// plot consumer. ok is false when nothing is queued.
func (s *Sink) PlotData() (data []float32, nrows, rowLen int, ok bool) {
	f, ok := s.queue.PopFront()
	if !ok {
		return nil, 0, 0, false
	}
	data, nrows, rowLen = f.RowMajor()
	return data, nrows, rowLen, true
}

// Reset returns the sink to its initial runtime state: trigger
// disarmed, averaging history dropped, partial windows discarded, and
// the queue emptied. Configuration is untouched.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trig.reset()
	s.analyzer.ResetAveraging()
	s.acc.clear()
	s.queue.Clear()
	s.withheld = 0
}

// SetFFTSize changes the analysis window length. Partially
// accumulated windows are discarded, not flushed; averaging history
// is reset. Fails without side effects when size <= 0.
func (s *Sink) SetFFTSize(size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if size <= 0 {
		return fmt.Errorf("fft size must be positive, got %d", size)
	}
	if size == s.fftSize {
		return nil
	}
	if err := s.analyzer.Resize(size); err != nil {
		return err
	}

	s.fftSize = size
	s.acc.resize(size)
	// Recorded tag positions refer to pre-resize stream positions,
	// which restart at zero with the accumulator.
	s.trig.clearTags()
	s.windowScratch = make([]float32, size)
	applog.Infof("Sink: fft size changed to %d, accumulation reset", size)
	return nil
}

// SetFFTWindow switches the window function. The table is rebuilt
// synchronously before the next analysis; an unsupported type leaves
// the sink unchanged.
func (s *Sink) SetFFTWindow(winType dsp.WindowType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzer.SetWindowType(winType)
}

// BuildWindow regenerates the window table from the current size and
// type, for callers that mutate both and want one recompute.
func (s *Sink) BuildWindow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Rebuilding with the current type is always valid.
	_ = s.analyzer.SetWindowType(s.analyzer.WindowType())
}

// SetFFTAvg sets the exponential averaging factor, effective from the
// next produced row. Already-queued frames are never rewritten.
func (s *Sink) SetFFTAvg(avg float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzer.SetAvg(avg)
}

// SetFrequencyRange updates the axis metadata attached to future
// frames. Triggering and magnitudes are unaffected.
func (s *Sink) SetFrequencyRange(centerFreq, bandwidth float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.centerFreq = centerFreq
	s.bandwidth = bandwidth
}

// SetTrigger replaces the trigger configuration atomically with
// respect to in-flight accumulation: it takes effect from the next
// frame boundary and clears any armed or withheld state. An
// out-of-range channel is rejected at set time with no state change.
func (s *Sink) SetTrigger(mode TriggerMode, level float32, channel int, tagKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if channel < 0 || channel >= s.nchannels {
		return fmt.Errorf("trigger channel %d out of range [0,%d)", channel, s.nchannels)
	}
	switch mode {
	case TriggerFree, TriggerAuto, TriggerNormal, TriggerTag:
	default:
		return fmt.Errorf("unknown trigger mode %d", mode)
	}

	s.trig.configure(mode, level, channel, tagKey)
	applog.Infof("Sink: trigger set to mode=%s level=%.1f channel=%d tag=%q", mode, level, channel, tagKey)
	return nil
}

// SetTriggerRearm selects the post-trigger policy for NORMAL and TAG
// modes: free-run after the first trigger (false, the default) or
// require the condition on every frame (true).
func (s *Sink) SetTriggerRearm(rearm bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trig.rearm = rearm
}

// SetName updates the display name.
func (s *Sink) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// Read accessors. Each takes the sink lock so readers on the control
// thread see settled values, never a half-applied change.

func (s *Sink) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Sink) FFTSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fftSize
}

func (s *Sink) Window() dsp.WindowType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzer.WindowType()
}

func (s *Sink) CenterFreq() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.centerFreq
}

func (s *Sink) Bandwidth() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bandwidth
}

func (s *Sink) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nconnections
}

func (s *Sink) FFTAvg() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzer.Avg()
}

func (s *Sink) TriggerMode() TriggerMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trig.mode
}

func (s *Sink) TriggerLevel() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trig.level
}

func (s *Sink) TriggerChannel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trig.channel
}

func (s *Sink) TriggerTagKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trig.tagKey
}

// TriggerArmed reports whether the trigger event has been observed:
// latched in NORMAL/TAG mode, per-frame in AUTO mode. Plot consumers
// use this as metadata; it never gates AUTO output.
func (s *Sink) TriggerArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trig.armed
}

// QueueLen returns the number of frames currently retained.
func (s *Sink) QueueLen() int { return s.queue.Len() }

// QueueDropped returns the number of frames evicted under capacity
// pressure.
func (s *Sink) QueueDropped() uint64 { return s.queue.Dropped() }
