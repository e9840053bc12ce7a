// SPDX-License-Identifier: MIT
package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"noisegate/internal/config"
	"noisegate/internal/gate"
)

func parse(t *testing.T, args ...string) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := parseArgs(args, io.Discard)
	if err != nil {
		t.Fatalf("parseArgs(%q) error: %v", args, err)
	}
	if cfg == nil {
		t.Fatalf("parseArgs(%q) returned no config", args)
	}
	return cfg
}

func TestParseArgsDefaults(t *testing.T) {
	cfg := parse(t)

	if cfg.Command != CommandRun {
		t.Errorf("Command = %q, want %q", cfg.Command, CommandRun)
	}
	if cfg.Audio.InputDevice != config.DefaultDeviceID || cfg.Audio.LatencyMs != config.DefaultLatencyMs {
		t.Errorf("audio = %+v, want defaults", cfg.Audio)
	}
	if !cfg.Gate.Enabled || cfg.Gate.Params() != gate.DefaultParams() {
		t.Errorf("gate = %+v, want defaults", cfg.Gate)
	}
	if cfg.Recording.Enabled || cfg.UI.TUI {
		t.Error("recording and TUI should be off by default")
	}
}

func TestParseArgsList(t *testing.T) {
	cfg := parse(t, "list", "--tui")
	if cfg.Command != CommandList {
		t.Errorf("Command = %q, want %q", cfg.Command, CommandList)
	}
	if !cfg.UI.TUI {
		t.Error("--tui should apply to the list command")
	}
}

func TestParseArgsFlags(t *testing.T) {
	cfg := parse(t,
		"-i", "2", "--output-device", "3", "-l", "100", "-w=false",
		"--open-threshold", "-30", "--close-threshold", "-50",
		"--attack", "10", "--release", "200", "--hold", "0",
		"-c", "1", "-s", "44100", "-b", "256", "--low-latency",
		"-r", "-o", "take.wav", "--bit-depth", "24",
		"--ws", "--ws-addr", "127.0.0.1:9000", "--udp", "--udp-target", "10.0.0.1:7000",
		"--send-interval", "50ms", "-t", "-d", "2m", "--log-level", "warn",
	)

	a := cfg.Audio
	if a.InputDevice != 2 || a.OutputDevice != 3 || a.LatencyMs != 100 || a.Channels != 1 ||
		a.SampleRate != 44100 || a.FramesPerBuffer != 256 || !a.LowLatency {
		t.Errorf("audio = %+v", a)
	}

	want := gate.Params{OpenThresholdDB: -30, CloseThresholdDB: -50, AttackMs: 10, ReleaseMs: 200, HoldMs: 0}
	if cfg.Gate.Enabled || cfg.Gate.Params() != want {
		t.Errorf("gate = %+v", cfg.Gate)
	}

	if !cfg.Recording.Enabled || cfg.Recording.OutputFile != "take.wav" || cfg.Recording.BitDepth != 24 {
		t.Errorf("recording = %+v", cfg.Recording)
	}

	tr := cfg.Transport
	if !tr.WebSocketEnabled || tr.WebSocketAddr != "127.0.0.1:9000" || !tr.UDPEnabled ||
		tr.UDPTargetAddress != "10.0.0.1:7000" || tr.SendInterval != 50*time.Millisecond {
		t.Errorf("transport = %+v", tr)
	}

	if !cfg.UI.TUI || cfg.UI.Duration != 2*time.Minute || cfg.LogLevel != "warn" {
		t.Errorf("ui = %+v, log level %q", cfg.UI, cfg.LogLevel)
	}
}

func TestParseArgsFlagsOverrideFileOnlyWhenSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	content := "gate:\n  open_threshold_db: -20\n  close_threshold_db: -45\naudio:\n  latency_ms: 50\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := parse(t, "--config", path, "-l", "10")

	if cfg.Audio.LatencyMs != 10 {
		t.Errorf("latency = %v, want flag value 10", cfg.Audio.LatencyMs)
	}
	if cfg.Gate.OpenThresholdDB != -20 || cfg.Gate.CloseThresholdDB != -45 {
		t.Errorf("thresholds = %v/%v, want file values -20/-45", cfg.Gate.OpenThresholdDB, cfg.Gate.CloseThresholdDB)
	}
}

func TestParseArgsVerbose(t *testing.T) {
	if cfg := parse(t, "-v", "--log-level", "error"); cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestParseArgsGeneratesRecordingName(t *testing.T) {
	cfg := parse(t, "--record")
	name := cfg.Recording.OutputFile
	if !strings.HasPrefix(name, "recording-") || !strings.HasSuffix(name, ".wav") {
		t.Errorf("OutputFile = %q, want recording-*.wav", name)
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"Unknown flag", []string{"--no-such-flag"}},
		{"Positional argument", []string{"extra"}},
		{"Invalid channels", []string{"--channels", "0"}},
		{"Invalid bit depth", []string{"--record", "--bit-depth", "12"}},
		{"Invalid log level", []string{"--log-level", "loud"}},
		{"Missing config file", []string{"--config", "missing.yaml"}},
		{"Bad number", []string{"--latency", "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			cfg, err := parseArgs(tt.args, io.Discard)
			if err == nil {
				t.Errorf("expected error, got config %+v", cfg)
			}
		})
	}
}

func TestParseArgsHelpAndVersion(t *testing.T) {
	for _, arg := range []string{"--help", "--version"} {
		t.Run(arg, func(t *testing.T) {
			t.Chdir(t.TempDir())
			var out bytes.Buffer
			cfg, err := parseArgs([]string{arg}, &out)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg != nil {
				t.Errorf("expected no config for %s, got %+v", arg, cfg)
			}
			if out.Len() == 0 {
				t.Errorf("%s printed nothing", arg)
			}
		})
	}
}
