package transport

import (
	"fmt"
	"sync"
	"time"

	applog "freqsink/internal/log"
)

// Publisher drains a FrameSource on a fixed interval and hands each
// frame to every writer. It runs in its own goroutine managed by
// Start and Stop.
type Publisher struct {
	source   FrameSource
	writers  []FrameWriter
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewPublisher creates a publisher polling source every interval.
// Invalid intervals (<= 0) default to 33ms (~30Hz).
func NewPublisher(interval time.Duration, source FrameSource, writers ...FrameWriter) (*Publisher, error) {
	if source == nil {
		return nil, fmt.Errorf("publisher: frame source cannot be nil")
	}
	if len(writers) == 0 {
		return nil, fmt.Errorf("publisher: at least one frame writer required")
	}
	if interval <= 0 {
		interval = 33 * time.Millisecond
		applog.Warnf("Publisher: invalid interval, defaulting to %s", interval)
	}

	return &Publisher{
		source:   source,
		writers:  writers,
		interval: interval,
	}, nil
}

// Start launches the polling goroutine. Safe to call multiple times;
// subsequent calls while running are no-ops.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("Publisher: Start called but already running")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Infof("Publisher: started (interval: %s, writers: %d)", p.interval, len(p.writers))
		for {
			select {
			case <-ticker.C:
				p.drain()
			case <-doneChan:
				applog.Debugf("Publisher: stop signal received")
				return
			}
		}
	}()
}

// drain pops every queued frame and fans it out. Draining fully per
// tick keeps the queue shallow when production outpaces the interval.
func (p *Publisher) drain() {
	for {
		frame, ok := p.source.PopFrame()
		if !ok {
			return
		}
		for _, w := range p.writers {
			if err := w.WriteFrame(frame); err != nil {
				applog.Errorf("Publisher: writer error: %v", err)
			}
		}
	}
}

// Stop terminates the polling goroutine and waits for it to exit,
// then closes every writer. Safe to call multiple times.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()

	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	applog.Infof("Publisher: stopped")
	return firstErr
}

// Close implements io.Closer.
func (p *Publisher) Close() error {
	return p.Stop()
}
