package sink

import "sync"

// DefaultQueueCapacity bounds the number of retained frames when the
// caller does not choose a capacity. The consumer polls, so a deep
// queue only adds staleness.
const DefaultQueueCapacity = 100

// Queue is a bounded FIFO of completed frames. The producer pipeline
// appends, the consumer removes from the front; when full, the oldest
// frame is evicted to make room, trading staleness for liveness.
// All methods are safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	frames   []*Frame
	capacity int
	dropped  uint64
}

// NewQueue creates a queue holding at most capacity frames.
// Non-positive capacities fall back to DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		frames:   make([]*Frame, 0, capacity),
		capacity: capacity,
	}
}

// Push appends a frame, evicting the oldest entry first if the queue
// is at capacity. Eviction and append happen under one lock so the
// consumer never observes an over-full queue.
func (q *Queue) Push(f *Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) >= q.capacity {
		n := copy(q.frames, q.frames[1:])
		q.frames = q.frames[:n]
		q.dropped++
	}
	q.frames = append(q.frames, f)
}

// PopFront removes and returns the oldest frame. The second return is
// false when the queue is empty, which is not an error; the consumer
// is expected to poll again later.
func (q *Queue) PopFront() (*Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return nil, false
	}

	f := q.frames[0]
	n := copy(q.frames, q.frames[1:])
	q.frames = q.frames[:n]
	return f, true
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped returns how many frames have been evicted by capacity
// pressure since the queue was created.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear discards all queued frames.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = q.frames[:0]
}
