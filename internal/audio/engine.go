/*
Package audio is the capture front-end: it owns the PortAudio input
stream and plays the role of the streaming scheduler, delivering one
deinterleaved block per channel to the sink on every callback.

The callback path uses pre-allocated buffers only; frame analysis and
triggering happen inside sink.Process on the callback's thread.
*/
package audio

import (
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"

	"freqsink/internal/config"
	applog "freqsink/internal/log"
	"freqsink/internal/sink"
)

// Engine drives a sink from a PortAudio input stream and optionally
// records the raw interleaved input to WAV.
type Engine struct {
	cfg *config.Config
	snk *sink.Sink

	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream
	channelBufs  [][]float32 // deinterleaved per-channel blocks

	// Recording state.
	isRecording int32 // atomic flag
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer
}

// NewEngine prepares an engine for the configured input device.
// The sink must have been built with Connections equal to the
// configured channel count.
func NewEngine(cfg *config.Config, snk *sink.Sink) (*Engine, error) {
	inputDevice, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, err
	}

	channelBufs := make([][]float32, cfg.Audio.Channels)
	for ch := range channelBufs {
		channelBufs[ch] = make([]float32, cfg.Audio.FramesPerBuffer)
	}

	e := &Engine{
		cfg:         cfg,
		snk:         snk,
		inputDevice: inputDevice,
		channelBufs: channelBufs,
	}

	if cfg.Audio.LowLatency {
		e.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		e.inputLatency = inputDevice.DefaultHighInputLatency
	}

	return e, nil
}

// StartInputStream opens and starts the capture stream. From this
// point the PortAudio callback drives the sink.
func (e *Engine) StartInputStream() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.cfg.Audio.Channels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0,
			Device:   nil,
		},
		FramesPerBuffer: e.cfg.Audio.FramesPerBuffer,
		SampleRate:      e.cfg.Audio.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processInputStream)
	if err != nil {
		return err
	}
	e.inputStream = stream

	if err := e.inputStream.Start(); err != nil {
		e.inputStream.Close()
		return err
	}

	return nil
}

// StopInputStream stops and closes the capture stream.
func (e *Engine) StopInputStream() error {
	if e.inputStream != nil {
		if err := e.inputStream.Stop(); err != nil {
			return err
		}
		if err := e.inputStream.Close(); err != nil {
			return err
		}
		e.inputStream = nil
	}
	return nil
}

// processInputStream is the capture callback: deinterleave into the
// pre-allocated channel buffers, feed the sink, and append to the
// recorder if one is active.
func (e *Engine) processInputStream(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	deinterleave(e.channelBufs, in, e.cfg.Audio.Channels)

	if err := e.snk.Process(e.channelBufs, nil); err != nil {
		applog.Errorf("Engine: sink rejected input block: %v", err)
	}

	if atomic.LoadInt32(&e.isRecording) == 1 && e.wavEncoder != nil {
		e.writeRecording(in)
	}
}

// deinterleave splits an interleaved sample block into dst, one slice
// per channel. Short input blocks zero-fill the tail.
func deinterleave(dst [][]float32, in []float32, channels int) {
	if channels <= 0 {
		return
	}
	frames := len(in) / channels
	for ch := range dst {
		buf := dst[ch]
		for i := range buf {
			if i < frames {
				buf[i] = in[i*channels+ch]
			} else {
				buf[i] = 0
			}
		}
	}
}
