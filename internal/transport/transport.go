/*
Package transport delivers completed frames to external visualization
consumers. The sink side of the contract is pull-based: a Publisher
polls a FrameSource on a ticker and fans each popped frame out to the
configured writers. Writers only ever see whole frames.
*/
package transport

import "freqsink/internal/sink"

// FrameSource is the pull side of the sink queue. PopFrame removes
// and returns the oldest emitted frame; ok is false when nothing is
// queued, which is expected between production intervals.
type FrameSource interface {
	PopFrame() (f *sink.Frame, ok bool)
}

// FrameWriter sends one complete frame to a consumer. Implementations
// must be safe to call from the publisher goroutine and must not
// retain the frame after returning.
type FrameWriter interface {
	WriteFrame(f *sink.Frame) error
	Close() error
}
