package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"freqsink/internal/dsp"
	"freqsink/internal/sink"
	"freqsink/pkg/bitint"
)

// Bounds and defaults for the sink configuration.
const (
	DefaultSampleRate = 48000
	MinSampleRate     = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate     = 192000 // Maximum supported sample rate (Hz)

	DefaultFFTSize = 1024
	MaxFFTSize     = 32768

	MinDeviceID = -1 // -1 selects the system default device
)

// Config is the application configuration, loaded from YAML with
// built-in defaults and environment overrides.
type Config struct {
	Debug    bool   `yaml:"debug"`             // Verbose logging and debug features.
	LogLevel string `yaml:"log_level"`         // Logging level ("debug", "info", "warn", "error").
	Command  string `yaml:"command,omitempty"` // One-off command instead of running the sink (e.g. "list").

	Audio     AudioConfig     `yaml:"audio"`     // Capture front-end settings.
	Sink      SinkConfig      `yaml:"sink"`      // Frame production settings.
	Trigger   TriggerConfig   `yaml:"trigger"`   // Frame emission gating.
	Transport TransportConfig `yaml:"transport"` // Consumer-side frame delivery.
	Recording RecordingConfig `yaml:"recording"` // Raw input capture to WAV.
}

// AudioConfig holds capture settings for the PortAudio front-end.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per delivered block.
	Channels        int     `yaml:"channels"`          // Input channels = sink stream connections.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency from the device.
}

// SinkConfig holds the frame production parameters.
type SinkConfig struct {
	FFTSize       int     `yaml:"fft_size"`       // Analysis window length.
	Window        string  `yaml:"window"`         // Window function name (e.g. "hann").
	CenterFreq    float64 `yaml:"center_freq"`    // Axis center frequency, Hz.
	Bandwidth     float64 `yaml:"bandwidth"`      // Axis span, Hz; 0 derives from sample rate.
	Name          string  `yaml:"name"`           // Display name for the plot consumer.
	Avg           float64 `yaml:"avg"`            // Averaging factor in (0,1]; 1 = no smoothing.
	QueueCapacity int     `yaml:"queue_capacity"` // Retained frame bound.
}

// TriggerConfig holds the frame emission gate.
type TriggerConfig struct {
	Mode    string  `yaml:"mode"`    // "free", "auto", "normal", or "tag".
	Level   float64 `yaml:"level"`   // Bin level in dB for auto/normal modes.
	Channel int     `yaml:"channel"` // Trigger channel index.
	TagKey  string  `yaml:"tag_key"` // Tag name for tag mode.
	Rearm   bool    `yaml:"rearm"`   // Re-arm per frame instead of free-running after first trigger.
}

// TransportConfig holds consumer-side delivery settings.
type TransportConfig struct {
	WSEnabled        bool          `yaml:"ws_enabled"`         // Serve frames to WebSocket plot clients.
	WSAddr           string        `yaml:"ws_addr"`            // WebSocket listen address (e.g. ":8080").
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send frames as binary UDP packets.
	UDPTargetAddress string        `yaml:"udp_target_address"` // UDP target ("host:port").
	PollInterval     time.Duration `yaml:"poll_interval"`      // Queue polling interval.
}

// RecordingConfig holds raw input capture settings.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`    // Record the raw input stream to WAV.
	OutputDir string `yaml:"output_dir"` // Directory for recorded files.
	Filename  string `yaml:"filename"`   // File name; empty generates a timestamped one.
	BitDepth  int    `yaml:"bit_depth"`  // WAV bit depth (16 or 24).
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     MinDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: 1024,
			Channels:        1,
			LowLatency:      false,
		},
		Sink: SinkConfig{
			FFTSize:       DefaultFFTSize,
			Window:        "hann",
			CenterFreq:    0,
			Bandwidth:     0, // derived from sample rate in Validate
			Name:          "freqsink",
			Avg:           1.0,
			QueueCapacity: sink.DefaultQueueCapacity,
		},
		Trigger: TriggerConfig{
			Mode:    "free",
			Level:   -60,
			Channel: 0,
		},
		Transport: TransportConfig{
			WSEnabled:        false,
			WSAddr:           ":8080",
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			PollInterval:     33 * time.Millisecond, // ~30Hz
		},
		Recording: RecordingConfig{
			Enabled:   false,
			OutputDir: "./recordings",
			BitDepth:  16,
		},
	}
}

// Load reads configuration from the YAML file at path. An empty path
// searches "config.yaml" in the working directory and falls back to
// defaults when nothing is found. Environment overrides apply after
// the file, and the result is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks field ranges, normalizes derived values, and
// rejects combinations the sink would refuse at construction time.
func (c *Config) Validate() error {
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		return fmt.Errorf("audio.sample_rate %.0f outside [%d,%d]", c.Audio.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.Audio.Channels < 0 {
		return fmt.Errorf("audio.channels must be >= 0, got %d", c.Audio.Channels)
	}
	if c.Audio.FramesPerBuffer <= 0 {
		return fmt.Errorf("audio.frames_per_buffer must be positive, got %d", c.Audio.FramesPerBuffer)
	}

	if c.Sink.FFTSize <= 0 || c.Sink.FFTSize > MaxFFTSize {
		return fmt.Errorf("sink.fft_size %d outside (0,%d]", c.Sink.FFTSize, MaxFFTSize)
	}
	// Power-of-two sizes keep the transform on its fast path.
	if !bitint.IsPowerOfTwo(c.Sink.FFTSize) {
		c.Sink.FFTSize = bitint.NextPowerOfTwo(c.Sink.FFTSize)
	}
	if _, err := dsp.ParseWindowType(c.Sink.Window); err != nil {
		return fmt.Errorf("sink.window: %w", err)
	}
	if c.Sink.Avg <= 0 || c.Sink.Avg > 1 {
		return fmt.Errorf("sink.avg %g outside (0,1]", c.Sink.Avg)
	}
	if c.Sink.Bandwidth == 0 {
		c.Sink.Bandwidth = c.Audio.SampleRate
	}

	mode, err := sink.ParseTriggerMode(c.Trigger.Mode)
	if err != nil {
		return fmt.Errorf("trigger.mode: %w", err)
	}
	nchannels := c.Audio.Channels
	if nchannels == 0 {
		nchannels = 1
	}
	if c.Trigger.Channel < 0 || c.Trigger.Channel >= nchannels {
		return fmt.Errorf("trigger.channel %d outside [0,%d)", c.Trigger.Channel, nchannels)
	}
	if mode == sink.TriggerTag && c.Trigger.TagKey == "" {
		return fmt.Errorf("trigger.tag_key required in tag mode")
	}

	if c.Transport.PollInterval <= 0 {
		c.Transport.PollInterval = 33 * time.Millisecond
	}
	if c.Recording.Enabled && c.Recording.BitDepth != 16 && c.Recording.BitDepth != 24 {
		return fmt.Errorf("recording.bit_depth must be 16 or 24, got %d", c.Recording.BitDepth)
	}

	return nil
}

// applyEnvOverrides layers FREQSINK_* environment variables over the
// loaded configuration.
func (c *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("FREQSINK_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Debug = bVal
		}
	}
	if val, ok := os.LookupEnv("FREQSINK_LOG_LEVEL"); ok {
		c.LogLevel = val
	}
	if val, ok := os.LookupEnv("FREQSINK_WS_ADDR"); ok {
		c.Transport.WSAddr = val
		c.Transport.WSEnabled = true
	}
	if val, ok := os.LookupEnv("FREQSINK_UDP_TARGET"); ok {
		c.Transport.UDPTargetAddress = val
		c.Transport.UDPEnabled = true
	}
	if val, ok := os.LookupEnv("FREQSINK_POLL_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			c.Transport.PollInterval = dur
		}
	}
}

// SinkParams translates the validated configuration into sink
// construction parameters.
func (c *Config) SinkParams() (sink.Params, error) {
	winType, err := dsp.ParseWindowType(c.Sink.Window)
	if err != nil {
		return sink.Params{}, err
	}
	return sink.Params{
		FFTSize:       c.Sink.FFTSize,
		Window:        winType,
		CenterFreq:    c.Sink.CenterFreq,
		Bandwidth:     c.Sink.Bandwidth,
		Name:          c.Sink.Name,
		Connections:   c.Audio.Channels,
		QueueCapacity: c.Sink.QueueCapacity,
		Avg:           c.Sink.Avg,
		TriggerRearm:  c.Trigger.Rearm,
	}, nil
}
