package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"freqsink/internal/config"
	"freqsink/pkg/build"
)

// ParseArgs builds the configuration from the config file and command
// line flags. Flags override file values; the returned Config is
// already validated.
func ParseArgs() (*config.Config, error) {
	buildInfo := build.GetInfo()

	var (
		configPath string
		cfg        *config.Config
	)

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Run: func(cmd *cobra.Command, args []string) {
			cfg.Command = "list"
		},
	}
	rootCmd.AddCommand(listCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to YAML config file (default: ./config.yaml if present)")

	// Capture front-end.
	flags.IntP("device", "d", config.MinDeviceID,
		"Input device ID. Use the 'list' command to see available devices.")
	flags.IntP("channels", "c", 1, "Number of input channels = stream connections")
	flags.Float64P("sample-rate", "s", config.DefaultSampleRate, "Sample rate in Hertz (Hz)")
	flags.IntP("frames-per-buffer", "b", 1024, "Frames per delivered block (affects latency)")
	flags.BoolP("low-latency", "l", false, "Request low latency from the device")

	// Frame production.
	flags.IntP("fft-size", "f", config.DefaultFFTSize, "Analysis window length (rounded up to a power of two)")
	flags.StringP("window", "w", "hann", "Window function (rectangular, hann, hamming, blackman, ...)")
	flags.Float64("center-freq", 0, "Frequency axis center in Hz")
	flags.Float64("bandwidth", 0, "Frequency axis span in Hz (0 = sample rate)")
	flags.Float64("avg", 1.0, "Averaging factor in (0,1]; 1 disables smoothing")

	// Triggering.
	flags.String("trigger-mode", "free", "Frame emission gate: free, auto, normal, or tag")
	flags.Float64("trigger-level", -60, "Trigger level in dB for auto/normal modes")
	flags.Int("trigger-channel", 0, "Channel the trigger observes")
	flags.String("trigger-tag", "", "Tag name matched in tag mode")

	// Recording.
	flags.BoolP("record", "r", false, "Record the raw input stream to WAV")
	flags.StringP("output", "o", "", "Recording file name (default: timestamped)")

	flags.BoolP("verbose", "v", false, "Show verbose output")

	// The config file loads inside PreRunE so --config has been parsed
	// by the time it is needed; explicit flags then win over the file.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		if flags.Changed("device") {
			cfg.Audio.InputDevice, _ = flags.GetInt("device")
		}
		if flags.Changed("channels") {
			cfg.Audio.Channels, _ = flags.GetInt("channels")
		}
		if flags.Changed("sample-rate") {
			cfg.Audio.SampleRate, _ = flags.GetFloat64("sample-rate")
		}
		if flags.Changed("frames-per-buffer") {
			cfg.Audio.FramesPerBuffer, _ = flags.GetInt("frames-per-buffer")
		}
		if flags.Changed("low-latency") {
			cfg.Audio.LowLatency, _ = flags.GetBool("low-latency")
		}

		if flags.Changed("fft-size") {
			cfg.Sink.FFTSize, _ = flags.GetInt("fft-size")
		}
		if flags.Changed("window") {
			cfg.Sink.Window, _ = flags.GetString("window")
		}
		if flags.Changed("center-freq") {
			cfg.Sink.CenterFreq, _ = flags.GetFloat64("center-freq")
		}
		if flags.Changed("bandwidth") {
			cfg.Sink.Bandwidth, _ = flags.GetFloat64("bandwidth")
		}
		if flags.Changed("avg") {
			cfg.Sink.Avg, _ = flags.GetFloat64("avg")
		}

		if flags.Changed("trigger-mode") {
			cfg.Trigger.Mode, _ = flags.GetString("trigger-mode")
		}
		if flags.Changed("trigger-level") {
			cfg.Trigger.Level, _ = flags.GetFloat64("trigger-level")
		}
		if flags.Changed("trigger-channel") {
			cfg.Trigger.Channel, _ = flags.GetInt("trigger-channel")
		}
		if flags.Changed("trigger-tag") {
			cfg.Trigger.TagKey, _ = flags.GetString("trigger-tag")
		}

		if flags.Changed("record") {
			cfg.Recording.Enabled, _ = flags.GetBool("record")
		}
		if flags.Changed("output") {
			cfg.Recording.Filename, _ = flags.GetString("output")
		}

		if flags.Changed("verbose") {
			if verbose, _ := flags.GetBool("verbose"); verbose {
				cfg.Debug = true
				cfg.LogLevel = "debug"
			}
		}

		// Flag overrides may have invalidated the file values.
		return cfg.Validate()
	}

	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	return cfg, nil
}
