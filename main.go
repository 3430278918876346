package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"freqsink/cmd"
	"freqsink/internal/audio"
	applog "freqsink/internal/log"
	"freqsink/internal/sink"
	"freqsink/internal/transport"
	"freqsink/pkg/build"
)

// main wires the capture front-end, the frequency sink, and the frame
// transports. The program flow has three phases:
//
//  1. Startup: parse configuration, initialize PortAudio, construct
//     the sink and engine.
//  2. Run: the PortAudio callback feeds the sink; the publisher drains
//     the frame queue to the enabled transports.
//  3. Shutdown: on SIGINT/SIGTERM stop recording, the stream, and the
//     publisher in order.
func main() {
	cfg, err := cmd.ParseArgs()
	if err != nil {
		applog.Fatalf("%v", err)
	}
	if cfg == nil {
		// Help or version output already printed.
		return
	}

	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}

	info := build.GetInfo()
	applog.Debugf("%s %s (%s, built %s)", info.Name, info.Version, info.Commit, info.Time)

	if err := audio.Initialize(); err != nil {
		applog.Fatalf("%v", err)
	}
	defer audio.Terminate()

	if cfg.Command == "list" {
		if err := audio.ListDevices(); err != nil {
			applog.Fatalf("%v", err)
		}
		return
	}

	params, err := cfg.SinkParams()
	if err != nil {
		applog.Fatalf("%v", err)
	}
	snk, err := sink.New(params)
	if err != nil {
		applog.Fatalf("%v", err)
	}
	mode, err := sink.ParseTriggerMode(cfg.Trigger.Mode)
	if err != nil {
		applog.Fatalf("%v", err)
	}
	if err := snk.SetTrigger(mode, float32(cfg.Trigger.Level), cfg.Trigger.Channel, cfg.Trigger.TagKey); err != nil {
		applog.Fatalf("%v", err)
	}

	engine, err := audio.NewEngine(cfg, snk)
	if err != nil {
		applog.Fatalf("%v", err)
	}

	var writers []transport.FrameWriter
	if cfg.Transport.WSEnabled {
		writers = append(writers, transport.NewWebSocketWriter(cfg.Transport.WSAddr))
	}
	if cfg.Transport.UDPEnabled {
		udp, err := transport.NewUDPWriter(cfg.Transport.UDPTargetAddress)
		if err != nil {
			applog.Fatalf("%v", err)
		}
		writers = append(writers, udp)
	}

	var publisher *transport.Publisher
	if len(writers) > 0 {
		publisher, err = transport.NewPublisher(cfg.Transport.PollInterval, snk, writers...)
		if err != nil {
			applog.Fatalf("%v", err)
		}
		publisher.Start()
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	if err := engine.StartInputStream(); err != nil {
		applog.Fatalf("%v", err)
	}

	if cfg.Recording.Enabled {
		if err := engine.StartRecording(cfg.Recording.Filename); err != nil {
			applog.Fatalf("%v", err)
		}
	}

	applog.Infof("%s running on %d channel(s) at %.0f Hz, fft size %d ('%s --help' for usage)",
		info.Name, cfg.Audio.Channels, cfg.Audio.SampleRate, cfg.Sink.FFTSize, info.Name)

	<-done
	fmt.Println()

	if cfg.Recording.Enabled {
		if err := engine.StopRecording(); err != nil {
			applog.Errorf("Error stopping recording: %v", err)
		}
	}
	if err := engine.Close(); err != nil {
		applog.Errorf("Error closing engine: %v", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			applog.Errorf("Error closing publisher: %v", err)
		}
	}
}
