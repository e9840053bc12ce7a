// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"noisegate/internal/gate"
	applog "noisegate/internal/log"

	"gopkg.in/yaml.v3"
)

// Core configuration constants that define the boundaries and defaults
// for the feedback gate.
const (
	DefaultConfigFile      = "config.yaml"
	DefaultLogLevel        = "info"
	DefaultChannels        = 2           // Stereo, as most interfaces capture
	DefaultDeviceID        = MinDeviceID // System default device
	DefaultFramesPerBuffer = 512         // Balanced latency/performance
	DefaultSampleRate      = 48000       // Hz
	DefaultLatencyMs       = 250.0       // Capture to playback delay
	DefaultBitDepth        = 16
	DefaultWebSocketAddr   = ":8080"
	DefaultUDPTarget       = "127.0.0.1:9090"
	DefaultSendInterval    = 33 * time.Millisecond // ~30Hz

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Hz
	MaxSampleRate   = 192000 // Hz
	MaxBufferFrames = 8192
	MaxChannels     = 32
	MaxLatencyMs    = 5000.0
)

// Config represents the application configuration, loaded from YAML.
type Config struct {
	LogLevel  string          `yaml:"log_level"` // debug, info, warn, error
	Command   string          `yaml:"-"`         // One-off command set by the CLI (e.g. "list")
	Audio     AudioConfig     `yaml:"audio"`
	Gate      GateConfig      `yaml:"gate"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
	UI        UIConfig        `yaml:"ui"`
}

// AudioConfig holds the stream settings negotiated with PortAudio.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index (-1 for default)
	OutputDevice    int     `yaml:"output_device"`     // PortAudio device index (-1 for default)
	SampleRate      float64 `yaml:"sample_rate"`       // Hz, shared by both streams
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per callback
	LowLatency      bool    `yaml:"low_latency"`       // Use the devices' low latency settings
	Channels        int     `yaml:"channels"`          // Interleaved channels on both streams
	LatencyMs       float64 `yaml:"latency_ms"`        // Silence queued before playback starts
}

// GateConfig holds the noise gate parameters. Thresholds are in dBFS.
type GateConfig struct {
	Enabled          bool    `yaml:"enabled"`
	OpenThresholdDB  float64 `yaml:"open_threshold_db"`
	CloseThresholdDB float64 `yaml:"close_threshold_db"`
	AttackMs         float64 `yaml:"attack_ms"`
	ReleaseMs        float64 `yaml:"release_ms"`
	HoldMs           float64 `yaml:"hold_ms"`
}

// RecordingConfig controls recording of the gated signal.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"` // Generated from the start time when empty
	BitDepth   int    `yaml:"bit_depth"`   // 16, 24 or 32
}

// TransportConfig controls where gate telemetry is published.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketAddr    string        `yaml:"websocket_addr"`
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"`
	SendInterval     time.Duration `yaml:"send_interval"`
}

// UIConfig controls the foreground behaviour of the program.
type UIConfig struct {
	TUI      bool          `yaml:"tui"`      // Run the live monitor
	Duration time.Duration `yaml:"duration"` // Stop after this long (0 runs until interrupted)
}

// Default returns the built-in configuration.
func Default() *Config {
	p := gate.DefaultParams()
	return &Config{
		LogLevel: DefaultLogLevel,
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			OutputDevice:    DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			Channels:        DefaultChannels,
			LatencyMs:       DefaultLatencyMs,
		},
		Gate: GateConfig{
			Enabled:          true,
			OpenThresholdDB:  float64(p.OpenThresholdDB),
			CloseThresholdDB: float64(p.CloseThresholdDB),
			AttackMs:         float64(p.AttackMs),
			ReleaseMs:        float64(p.ReleaseMs),
			HoldMs:           float64(p.HoldMs),
		},
		Recording: RecordingConfig{
			BitDepth: DefaultBitDepth,
		},
		Transport: TransportConfig{
			WebSocketAddr:    DefaultWebSocketAddr,
			UDPTargetAddress: DefaultUDPTarget,
			SendInterval:     DefaultSendInterval,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path
// is empty, it looks for DefaultConfigFile in the working directory and falls
// back to the built-in defaults when there is none. Environment overrides are
// applied after the file, then the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
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

// Validate rejects settings that cannot produce a working stream. Inverted
// gate thresholds are accepted but reported by Warnings.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}

	a := c.Audio
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %.0f outside [%d, %d]", a.SampleRate, MinSampleRate, MaxSampleRate))
	}
	if a.Channels < 1 || a.Channels > MaxChannels {
		errs = append(errs, fmt.Errorf("audio.channels %d outside [1, %d]", a.Channels, MaxChannels))
	}
	if a.FramesPerBuffer < 1 || a.FramesPerBuffer > MaxBufferFrames {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d outside [1, %d]", a.FramesPerBuffer, MaxBufferFrames))
	}
	if a.InputDevice < MinDeviceID || a.OutputDevice < MinDeviceID {
		errs = append(errs, fmt.Errorf("audio devices must be >= %d", MinDeviceID))
	}
	if a.LatencyMs < 0 || a.LatencyMs > MaxLatencyMs {
		errs = append(errs, fmt.Errorf("audio.latency_ms %.1f outside [0, %.0f]", a.LatencyMs, MaxLatencyMs))
	}

	if c.Recording.Enabled {
		switch c.Recording.BitDepth {
		case 16, 24, 32:
		default:
			errs = append(errs, fmt.Errorf("recording.bit_depth %d must be 16, 24 or 32", c.Recording.BitDepth))
		}
	}

	t := c.Transport
	if t.WebSocketEnabled && t.WebSocketAddr == "" {
		errs = append(errs, errors.New("transport.websocket_addr must be set when the websocket is enabled"))
	}
	if t.UDPEnabled {
		if _, _, err := net.SplitHostPort(t.UDPTargetAddress); err != nil {
			errs = append(errs, fmt.Errorf("transport.udp_target_address %q: %w", t.UDPTargetAddress, err))
		}
	}
	if (t.WebSocketEnabled || t.UDPEnabled || c.UI.TUI) && t.SendInterval <= 0 {
		errs = append(errs, errors.New("transport.send_interval must be positive"))
	}

	if c.UI.Duration < 0 {
		errs = append(errs, errors.New("ui.duration must not be negative"))
	}

	return errors.Join(errs...)
}

// Warnings lists settings that are valid but probably not what the user meant.
func (c *Config) Warnings() []string {
	var w []string
	g := c.Gate
	if g.OpenThresholdDB < g.CloseThresholdDB {
		w = append(w, fmt.Sprintf("gate open threshold %.1f dB is below close threshold %.1f dB, hysteresis is inverted",
			g.OpenThresholdDB, g.CloseThresholdDB))
	}
	for name, v := range map[string]float64{"attack_ms": g.AttackMs, "release_ms": g.ReleaseMs} {
		if v <= 0 {
			w = append(w, fmt.Sprintf("gate %s %.1f is not positive, transitions will be instant", name, v))
		}
	}
	if c.Audio.InputDevice != c.Audio.OutputDevice && c.Audio.LatencyMs == 0 {
		w = append(w, "separate input and output devices with zero latency will underrun")
	}
	return w
}

// Params converts the gate section for the gate engine.
func (g GateConfig) Params() gate.Params {
	return gate.Params{
		OpenThresholdDB:  float32(g.OpenThresholdDB),
		CloseThresholdDB: float32(g.CloseThresholdDB),
		ReleaseMs:        float32(g.ReleaseMs),
		AttackMs:         float32(g.AttackMs),
		HoldMs:           float32(g.HoldMs),
	}
}

// LatencySamples is the number of interleaved samples queued ahead of
// playback.
func (a AudioConfig) LatencySamples() int {
	frames := int(a.LatencyMs / 1000 * a.SampleRate)
	return frames * a.Channels
}

// applyEnvOverrides lets ENV_* variables override the file. Unparseable values
// are ignored with a warning.
func (cfg *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		applog.Infof("configuration: Overriding log_level from env: %s", val)
	}

	// ENV_GATE_{...}
	if val, ok := os.LookupEnv("ENV_GATE_ENABLED"); ok {
		overrideBool("gate.enabled", val, &cfg.Gate.Enabled)
	}
	if val, ok := os.LookupEnv("ENV_GATE_OPEN_THRESHOLD"); ok {
		overrideFloat("gate.open_threshold_db", val, &cfg.Gate.OpenThresholdDB)
	}
	if val, ok := os.LookupEnv("ENV_GATE_CLOSE_THRESHOLD"); ok {
		overrideFloat("gate.close_threshold_db", val, &cfg.Gate.CloseThresholdDB)
	}

	// ENV_UDP_{...} and ENV_WS_{...}
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		overrideBool("transport.udp_enabled", val, &cfg.Transport.UDPEnabled)
	}
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		applog.Infof("configuration: Overriding transport.udp_target_address from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_WS_ADDR"); ok {
		cfg.Transport.WebSocketAddr = val
		cfg.Transport.WebSocketEnabled = true
		applog.Infof("configuration: Overriding transport.websocket_addr from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.SendInterval = dur
			applog.Infof("configuration: Overriding transport.send_interval from env: %s", dur)
		} else {
			applog.Warnf("configuration: Ignoring ENV_SEND_INTERVAL %q: %v", val, err)
		}
	}
}

func overrideBool(name, val string, dst *bool) {
	b, err := strconv.ParseBool(val)
	if err != nil {
		applog.Warnf("configuration: Ignoring %s override %q: %v", name, val, err)
		return
	}
	*dst = b
	applog.Infof("configuration: Overriding %s from env: %v", name, b)
}

func overrideFloat(name, val string, dst *float64) {
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		applog.Warnf("configuration: Ignoring %s override %q: %v", name, val, err)
		return
	}
	*dst = f
	applog.Infof("configuration: Overriding %s from env: %v", name, f)
}
