package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "freqsink/internal/log"
)

// StartRecording begins capturing the raw interleaved input stream to
// a WAV file under the configured output directory. An empty filename
// generates a timestamped one.
func (e *Engine) StartRecording(filename string) error {
	if !atomic.CompareAndSwapInt32(&e.isRecording, 0, 1) {
		return fmt.Errorf("recording already in progress")
	}

	if err := os.MkdirAll(e.cfg.Recording.OutputDir, 0o755); err != nil {
		atomic.StoreInt32(&e.isRecording, 0)
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if filename == "" {
		filename = fmt.Sprintf("capture_%s.wav", time.Now().Format("20060102_150405"))
	}
	path := filepath.Join(e.cfg.Recording.OutputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		atomic.StoreInt32(&e.isRecording, 0)
		return fmt.Errorf("failed to create recording file: %w", err)
	}

	e.outputFile = file
	e.wavEncoder = wav.NewEncoder(
		file,
		int(e.cfg.Audio.SampleRate),
		e.cfg.Recording.BitDepth,
		e.cfg.Audio.Channels,
		1, // PCM
	)
	e.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: e.cfg.Audio.Channels,
			SampleRate:  int(e.cfg.Audio.SampleRate),
		},
		Data:           make([]int, e.cfg.Audio.FramesPerBuffer*e.cfg.Audio.Channels),
		SourceBitDepth: e.cfg.Recording.BitDepth,
	}

	applog.Infof("Engine: recording to %s", path)
	return nil
}

// StopRecording finalizes the WAV header and closes the file.
func (e *Engine) StopRecording() error {
	if !atomic.CompareAndSwapInt32(&e.isRecording, 1, 0) {
		return nil
	}

	var firstErr error
	if e.wavEncoder != nil {
		if err := e.wavEncoder.Close(); err != nil {
			firstErr = fmt.Errorf("failed to finalize WAV file: %w", err)
		}
		e.wavEncoder = nil
	}
	if e.outputFile != nil {
		if err := e.outputFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close recording file: %w", err)
		}
		e.outputFile = nil
	}
	e.sampleBuf = nil

	applog.Infof("Engine: recording stopped")
	return firstErr
}

// writeRecording converts one interleaved float32 block to integer
// PCM and appends it. Runs on the capture callback.
func (e *Engine) writeRecording(in []float32) {
	scale := float32(int(1)<<(e.cfg.Recording.BitDepth-1) - 1)

	if cap(e.sampleBuf.Data) < len(in) {
		e.sampleBuf.Data = make([]int, len(in))
	}
	data := e.sampleBuf.Data[:len(in)]
	for i, s := range in {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		data[i] = int(s * scale)
	}
	e.sampleBuf.Data = data

	if err := e.wavEncoder.Write(e.sampleBuf); err != nil {
		applog.Errorf("Engine: recording write failed: %v", err)
	}
}

// Close stops the stream and any active recording.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.StopRecording(); err != nil {
		firstErr = err
	}
	if err := e.StopInputStream(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
