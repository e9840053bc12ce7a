// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"noisegate/internal/config"
	"noisegate/pkg/build"

	"github.com/spf13/cobra"
)

// Commands reported in config.Command.
const (
	CommandRun  = "run"
	CommandList = "list"
)

// flagBindings copies a flag's value from the parsed options into the loaded
// configuration. Only flags the user set are applied, so the config file and
// environment keep priority over flag defaults.
var flagBindings = map[string]func(dst, src *config.Config){
	"input-device":      func(d, s *config.Config) { d.Audio.InputDevice = s.Audio.InputDevice },
	"output-device":     func(d, s *config.Config) { d.Audio.OutputDevice = s.Audio.OutputDevice },
	"latency":           func(d, s *config.Config) { d.Audio.LatencyMs = s.Audio.LatencyMs },
	"channels":          func(d, s *config.Config) { d.Audio.Channels = s.Audio.Channels },
	"sample-rate":       func(d, s *config.Config) { d.Audio.SampleRate = s.Audio.SampleRate },
	"frames-per-buffer": func(d, s *config.Config) { d.Audio.FramesPerBuffer = s.Audio.FramesPerBuffer },
	"low-latency":       func(d, s *config.Config) { d.Audio.LowLatency = s.Audio.LowLatency },
	"with-gate":         func(d, s *config.Config) { d.Gate.Enabled = s.Gate.Enabled },
	"open-threshold":    func(d, s *config.Config) { d.Gate.OpenThresholdDB = s.Gate.OpenThresholdDB },
	"close-threshold":   func(d, s *config.Config) { d.Gate.CloseThresholdDB = s.Gate.CloseThresholdDB },
	"attack":            func(d, s *config.Config) { d.Gate.AttackMs = s.Gate.AttackMs },
	"release":           func(d, s *config.Config) { d.Gate.ReleaseMs = s.Gate.ReleaseMs },
	"hold":              func(d, s *config.Config) { d.Gate.HoldMs = s.Gate.HoldMs },
	"record":            func(d, s *config.Config) { d.Recording.Enabled = s.Recording.Enabled },
	"output":            func(d, s *config.Config) { d.Recording.OutputFile = s.Recording.OutputFile },
	"bit-depth":         func(d, s *config.Config) { d.Recording.BitDepth = s.Recording.BitDepth },
	"ws":                func(d, s *config.Config) { d.Transport.WebSocketEnabled = s.Transport.WebSocketEnabled },
	"ws-addr":           func(d, s *config.Config) { d.Transport.WebSocketAddr = s.Transport.WebSocketAddr },
	"udp":               func(d, s *config.Config) { d.Transport.UDPEnabled = s.Transport.UDPEnabled },
	"udp-target":        func(d, s *config.Config) { d.Transport.UDPTargetAddress = s.Transport.UDPTargetAddress },
	"send-interval":     func(d, s *config.Config) { d.Transport.SendInterval = s.Transport.SendInterval },
	"tui":               func(d, s *config.Config) { d.UI.TUI = s.UI.TUI },
	"duration":          func(d, s *config.Config) { d.UI.Duration = s.UI.Duration },
	"log-level":         func(d, s *config.Config) { d.LogLevel = s.LogLevel },
}

// ParseArgs builds the configuration from defaults, the config file, ENV_*
// overrides and finally the command line. It returns a nil config when cobra
// handled the invocation itself (help, version).
func ParseArgs(args []string) (*config.Config, error) {
	return parseArgs(args, os.Stdout)
}

func parseArgs(args []string, out io.Writer) (*config.Config, error) {
	buildInfo := build.GetBuildFlags()
	options := config.Default()

	var (
		configPath string
		verbose    bool
		result     *config.Config
	)

	resolve := func(cmd *cobra.Command, command string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		for name, apply := range flagBindings {
			if flags.Changed(name) {
				apply(cfg, options)
			}
		}
		if verbose {
			cfg.LogLevel = "debug"
		}

		if cfg.Recording.Enabled && cfg.Recording.OutputFile == "" {
			cfg.Recording.OutputFile = "recording-" +
				time.Now().UTC().Format("02-01-2006-150405") + ".wav"
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		cfg.Command = command
		result = cfg
		return nil
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolve(cmd, CommandRun)
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices (use --tui to pick them interactively)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolve(cmd, CommandList)
		},
	}
	rootCmd.AddCommand(listCmd)

	pf := rootCmd.PersistentFlags()

	pf.StringVar(&configPath, "config", "",
		"Path to a YAML config file (default "+config.DefaultConfigFile+" if present)")

	// Audio Device Configuration
	pf.IntVarP(&options.Audio.InputDevice, "input-device", "i", config.DefaultDeviceID,
		"Input device ID. Use 'list' command to see available devices.")
	pf.IntVar(&options.Audio.OutputDevice, "output-device", config.DefaultDeviceID,
		"Output device ID. Use 'list' command to see available devices.")
	pf.Float64VarP(&options.Audio.LatencyMs, "latency", "l", config.DefaultLatencyMs,
		"Delay between capture and playback, in milliseconds")
	pf.IntVarP(&options.Audio.Channels, "channels", "c", config.DefaultChannels,
		"Number of interleaved channels (1=mono, 2=stereo)")
	pf.Float64VarP(&options.Audio.SampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&options.Audio.FramesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	pf.BoolVar(&options.Audio.LowLatency, "low-latency", false,
		"Use the devices' low latency settings")

	// Gate Configuration
	pf.BoolVarP(&options.Gate.Enabled, "with-gate", "w", options.Gate.Enabled,
		"Apply the noise gate (--with-gate=false passes audio through)")
	pf.Float64Var(&options.Gate.OpenThresholdDB, "open-threshold", options.Gate.OpenThresholdDB,
		"Level in dBFS above which the gate opens")
	pf.Float64Var(&options.Gate.CloseThresholdDB, "close-threshold", options.Gate.CloseThresholdDB,
		"Level in dBFS below which the gate closes")
	pf.Float64Var(&options.Gate.AttackMs, "attack", options.Gate.AttackMs,
		"Fade-in time in milliseconds once the gate opens")
	pf.Float64Var(&options.Gate.ReleaseMs, "release", options.Gate.ReleaseMs,
		"Fade-out time in milliseconds after the hold time")
	pf.Float64Var(&options.Gate.HoldMs, "hold", options.Gate.HoldMs,
		"Time in milliseconds the gate stays at full gain after closing")

	// Recording Configuration
	pf.BoolVarP(&options.Recording.Enabled, "record", "r", false,
		"Record the gated signal to a WAV file")
	pf.StringVarP(&options.Recording.OutputFile, "output", "o", "",
		"Output file name. Default is recording-DD-MM-YYYY-HHMMSS.wav")
	pf.IntVar(&options.Recording.BitDepth, "bit-depth", config.DefaultBitDepth,
		"Recording bit depth (16, 24 or 32)")

	// Telemetry Configuration
	pf.BoolVar(&options.Transport.WebSocketEnabled, "ws", false,
		"Publish gate telemetry to WebSocket clients")
	pf.StringVar(&options.Transport.WebSocketAddr, "ws-addr", config.DefaultWebSocketAddr,
		"WebSocket listen address")
	pf.BoolVar(&options.Transport.UDPEnabled, "udp", false,
		"Publish gate telemetry as UDP packets")
	pf.StringVar(&options.Transport.UDPTargetAddress, "udp-target", config.DefaultUDPTarget,
		"UDP telemetry target host:port")
	pf.DurationVar(&options.Transport.SendInterval, "send-interval", config.DefaultSendInterval,
		"Telemetry and monitor refresh interval")

	// UI Configuration
	pf.BoolVarP(&options.UI.TUI, "tui", "t", false,
		"Show the live gate monitor")
	pf.DurationVarP(&options.UI.Duration, "duration", "d", 0,
		"Stop after this long (0 runs until interrupted)")

	// Debug Configuration
	pf.StringVar(&options.LogLevel, "log-level", config.DefaultLogLevel,
		"Log level: debug, info, warn, error")
	pf.BoolVarP(&verbose, "verbose", "v", false,
		"Show verbose output (same as --log-level=debug)")

	// Execute the CLI
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	return result, nil
}
