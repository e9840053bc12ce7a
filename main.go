// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"noisegate/cmd"
	"noisegate/internal/audio"
	"noisegate/internal/config"
	applog "noisegate/internal/log"
	"noisegate/internal/telemetry"
	"noisegate/internal/transport"
	"noisegate/internal/transport/udp"
	"noisegate/internal/tui"
	"noisegate/pkg/build"
)

// main is the entry point for the noise gate.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse configuration (defaults, file, environment, flags)
//   - Initialize PortAudio
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Start the capture and playback streams
//   - Start recording and telemetry if enabled
//   - Run the monitor or wait for a signal
//
// 3. Shutdown Phase (Cold Path):
//   - Stop telemetry and recording
//   - Stop streams and release PortAudio
func main() {
	if err := run(); err != nil {
		applog.Fatalf("%v", err)
	}
}

func run() error {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		applog.Debugf("build info incomplete: %v", err)
	}

	cfg, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		return err
	}
	if cfg == nil {
		return nil // help or version printed
	}

	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}
	applog.Debugf("%s", build.GetBuildFlags())
	for _, w := range cfg.Warnings() {
		applog.Warnf("config: %s", w)
	}

	// Limit OS threads to keep scheduling predictable for the audio callbacks:
	// - One thread for the PortAudio callbacks (time-critical)
	// - One thread for UI, telemetry and I/O
	runtime.GOMAXPROCS(2)

	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	if cfg.Command == cmd.CommandList {
		return executeList(cfg)
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.UI.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.UI.Duration)
		defer cancel()
	}

	engine, err := audio.NewEngine(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			applog.Errorf("Error closing audio engine: %v", err)
		}
	}()

	if cfg.Recording.Enabled {
		if err := engine.StartRecording(cfg.Recording.OutputFile); err != nil {
			return err
		}
	}

	publisher, err := startTelemetry(cfg, engine)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
	}

	// CRITICAL: Start of real-time audio processing. From here on the
	// PortAudio callbacks own the gate.
	if err := engine.Start(); err != nil {
		return err
	}

	if cfg.UI.TUI {
		// Log lines would tear the alternate screen.
		applog.SetOutput(io.Discard)
		err := tui.RunMonitor(engine, cfg.Transport.SendInterval, ctx.Done())
		applog.SetOutput(os.Stderr)
		if err != nil {
			return err
		}
	} else {
		fmt.Printf("%s running, press Ctrl+C to stop.\n", build.GetBuildFlags().Name)
		<-ctx.Done()
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if cfg.Recording.Enabled {
		if err := engine.StopRecording(); err != nil {
			applog.Errorf("Error stopping recording: %v", err)
		}
		fmt.Printf("\nRecording saved to: %s\n", cfg.Recording.OutputFile)
	}

	snap := engine.Snapshot()
	applog.Infof("processed %d frames, %d samples dropped, %d samples of silence inserted",
		snap.Frames, snap.Overruns, snap.Underruns)

	return nil
}

// executeList handles the device listing command, which does not need the
// audio engine. With --tui the devices can be picked interactively.
func executeList(cfg *config.Config) error {
	if !cfg.UI.TUI {
		return audio.ListDevices(os.Stdout)
	}

	current := tui.Selection{Input: cfg.Audio.InputDevice, Output: cfg.Audio.OutputDevice}
	sel, err := tui.PickDevices(audio.HostDevices, current)
	if errors.Is(err, tui.ErrCancelled) {
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s --input-device %d --output-device %d\n", build.GetBuildFlags().Name, sel.Input, sel.Output)
	return nil
}

// startTelemetry wires the configured transports to a publisher. It returns
// nil when no transport is enabled.
func startTelemetry(cfg *config.Config, engine *audio.Engine) (*telemetry.Publisher, error) {
	var sinks []transport.Transport

	t := cfg.Transport
	if t.WebSocketEnabled {
		ws := transport.NewWebSocketTransport(t.WebSocketAddr)
		if err := ws.Start(); err != nil {
			return nil, err
		}
		sinks = append(sinks, ws)
	}
	if t.UDPEnabled {
		sender, err := udp.NewUDPSender(t.UDPTargetAddress)
		if err != nil {
			closeAll(sinks)
			return nil, err
		}
		sinks = append(sinks, sender)
	}
	if len(sinks) == 0 {
		if applog.GetLevel() > applog.LevelDebug {
			return nil, nil
		}
		sinks = append(sinks, transport.NewLoggingTransport())
	}

	publisher, err := telemetry.NewPublisher(t.SendInterval, engine.Meter(), sinks...)
	if err != nil {
		closeAll(sinks)
		return nil, err
	}
	publisher.Start()
	return publisher, nil
}

func closeAll(sinks []transport.Transport) {
	for _, s := range sinks {
		s.Close()
	}
}
