package sink

import "fmt"

// channelRing buffers unconsumed samples for one input channel and
// tracks absolute stream positions so tag offsets can be matched
// against the sample span a window was taken from.
type channelRing struct {
	buf   []float32
	head  int
	count int
	fed   uint64 // absolute index of the next sample to be fed
	taken uint64 // absolute index of the next sample to be consumed
}

func (r *channelRing) grow(need int) {
	capacity := len(r.buf)
	if capacity == 0 {
		capacity = 1
	}
	for capacity < need {
		capacity *= 2
	}
	next := make([]float32, capacity)
	for i := 0; i < r.count; i++ {
		next[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.buf = next
	r.head = 0
}

func (r *channelRing) append(samples []float32) {
	if r.count+len(samples) > len(r.buf) {
		r.grow(r.count + len(samples))
	}
	for _, s := range samples {
		r.buf[(r.head+r.count)%len(r.buf)] = s
		r.count++
	}
	r.fed += uint64(len(samples))
}

// accumulator holds one ring per channel and hands out consecutive,
// overlap-free analysis windows once every channel has a full one.
type accumulator struct {
	size  int
	rings []channelRing
}

func newAccumulator(channels, size int) *accumulator {
	a := &accumulator{rings: make([]channelRing, channels)}
	a.resize(size)
	return a
}

// feed appends samples to a channel's ring and reports whether every
// channel now holds at least one full window.
func (a *accumulator) feed(ch int, samples []float32) (bool, error) {
	if ch < 0 || ch >= len(a.rings) {
		return false, fmt.Errorf("channel %d out of range [0,%d)", ch, len(a.rings))
	}
	a.rings[ch].append(samples)
	return a.ready(), nil
}

// ready reports whether all channels hold >= size unconsumed samples.
func (a *accumulator) ready() bool {
	for i := range a.rings {
		if a.rings[i].count < a.size {
			return false
		}
	}
	return true
}

// fedTotal returns the absolute count of samples fed to a channel,
// i.e. the stream position of the next sample to arrive.
func (a *accumulator) fedTotal(ch int) uint64 {
	return a.rings[ch].fed
}

// takeWindow removes exactly size samples (oldest first) from the
// channel's ring into dst and returns the absolute [start,end) sample
// span they covered. dst must have length size.
func (a *accumulator) takeWindow(ch int, dst []float32) (start, end uint64, err error) {
	if ch < 0 || ch >= len(a.rings) {
		return 0, 0, fmt.Errorf("channel %d out of range [0,%d)", ch, len(a.rings))
	}
	r := &a.rings[ch]
	if r.count < a.size {
		return 0, 0, fmt.Errorf("channel %d holds %d samples, window needs %d", ch, r.count, a.size)
	}
	if len(dst) != a.size {
		return 0, 0, fmt.Errorf("destination length %d, want %d", len(dst), a.size)
	}

	for i := 0; i < a.size; i++ {
		dst[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.head = (r.head + a.size) % len(r.buf)
	r.count -= a.size

	start = r.taken
	r.taken += uint64(a.size)
	return start, r.taken, nil
}

// resize changes the window size and discards every partially
// accumulated window. Absolute positions restart from zero; analysis
// after a resize needs a full fresh window.
func (a *accumulator) resize(size int) {
	a.size = size
	capacity := 2 * size
	for i := range a.rings {
		a.rings[i] = channelRing{buf: make([]float32, capacity)}
	}
}

// clear drops buffered samples and position state without changing
// the window size.
func (a *accumulator) clear() {
	a.resize(a.size)
}
