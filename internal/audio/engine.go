// SPDX-License-Identifier: MIT
/*
Package audio implements the real-time feedback engine:
- Capture and playback through two PortAudio float32 streams
- Noise gate applied to every captured buffer
- Lock-free ring buffer between the two callbacks, prefilled for latency
- Lock-free parameter handoff from control goroutines to the capture callback
- WAV recording of the gated signal, drained off the callback

Thread Safety:
- The capture callback owns the gate; nothing else touches it after Start
- Control methods communicate through atomics only
- Buffers are pre-allocated so the callbacks never allocate
*/
package audio

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"noisegate/internal/config"
	"noisegate/internal/gate"
	applog "noisegate/internal/log"
	"noisegate/internal/ringbuf"
	"noisegate/internal/telemetry"
	"noisegate/pkg/bitint"

	"github.com/gordonklaus/portaudio"
)

// stream is the part of *portaudio.Stream the engine drives.
type stream interface {
	Start() error
	Stop() error
	Close() error
}

// openStream opens a PortAudio stream; replaced in tests.
var openStream = func(p portaudio.StreamParameters, callback any) (stream, error) {
	s, err := portaudio.OpenStream(p, callback)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type Engine struct {
	// Core configuration and state.
	config   *config.Config
	channels int

	// Gate state. gate is owned by the capture callback once streams run.
	gate        *gate.Engine
	gateEnabled atomic.Bool
	pending     atomic.Pointer[gate.Params] // Next parameters for the callback
	params      atomic.Pointer[gate.Params] // Last requested parameters
	gated       []float32                   // Gate output, frames × channels

	// Capture to playback queue.
	ring  *ringbuf.Ring
	meter *telemetry.Meter

	// Devices and streams.
	inputDevice   *portaudio.DeviceInfo
	outputDevice  *portaudio.DeviceInfo
	inputLatency  time.Duration
	outputLatency time.Duration
	inputStream   stream
	outputStream  stream

	// Active recording, nil when not recording.
	recorder atomic.Pointer[recorder]
}

// NewEngine resolves the configured devices and prepares the gate and
// buffers. PortAudio must be initialized.
func NewEngine(cfg *config.Config) (*Engine, error) {
	inputDevice, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, fmt.Errorf("input device: %w", err)
	}
	outputDevice, err := OutputDevice(cfg.Audio.OutputDevice)
	if err != nil {
		return nil, fmt.Errorf("output device: %w", err)
	}

	engine, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}

	engine.inputDevice = inputDevice
	engine.outputDevice = outputDevice
	if cfg.Audio.LowLatency {
		engine.inputLatency = inputDevice.DefaultLowInputLatency
		engine.outputLatency = outputDevice.DefaultLowOutputLatency
	} else {
		engine.inputLatency = inputDevice.DefaultHighInputLatency
		engine.outputLatency = outputDevice.DefaultHighOutputLatency
	}

	applog.Infof("Engine: input %q, output %q, %.0f Hz, %d channels, %d frames/buffer",
		inputDevice.Name, outputDevice.Name, cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.FramesPerBuffer)

	return engine, nil
}

// newEngine builds everything that does not need PortAudio.
func newEngine(cfg *config.Config) (*Engine, error) {
	a := cfg.Audio

	g, err := gate.New(cfg.Gate.Params(), a.SampleRate, a.Channels)
	if err != nil {
		return nil, err
	}
	if a.FramesPerBuffer < 1 {
		return nil, fmt.Errorf("frames per buffer must be positive, got %d", a.FramesPerBuffer)
	}

	bufferSamples := a.FramesPerBuffer * a.Channels
	latency := a.LatencySamples()

	// Room for the latency twice over, and never less than a few callbacks.
	ring := ringbuf.New(bitint.NextPowerOfTwo(max(2*latency, 4*bufferSamples)))
	ring.Prefill(latency)

	engine := &Engine{
		config:   cfg,
		channels: a.Channels,
		gate:     g,
		gated:    make([]float32, bufferSamples),
		ring:     ring,
		meter:    &telemetry.Meter{},
	}

	params := g.Params()
	engine.params.Store(&params)
	engine.gateEnabled.Store(cfg.Gate.Enabled)

	applog.Debugf("Engine: ring capacity %d samples, %d samples of latency", ring.Cap(), latency)

	return engine, nil
}

// Start opens and starts the capture and playback streams.
func (e *Engine) Start() error {
	if e.inputStream != nil {
		return errors.New("engine already started")
	}

	a := e.config.Audio
	in, err := openStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.channels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		FramesPerBuffer: a.FramesPerBuffer,
		SampleRate:      a.SampleRate,
	}, e.processInput)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}

	out, err := openStream(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Channels: e.channels,
			Device:   e.outputDevice,
			Latency:  e.outputLatency,
		},
		FramesPerBuffer: a.FramesPerBuffer,
		SampleRate:      a.SampleRate,
	}, e.processOutput)
	if err != nil {
		in.Close()
		return fmt.Errorf("open output stream: %w", err)
	}

	if err := in.Start(); err != nil {
		in.Close()
		out.Close()
		return fmt.Errorf("start input stream: %w", err)
	}
	if err := out.Start(); err != nil {
		in.Stop()
		in.Close()
		out.Close()
		return fmt.Errorf("start output stream: %w", err)
	}

	e.inputStream = in
	e.outputStream = out
	applog.Infof("Engine: streams started")

	return nil
}

// Stop stops and closes both streams. It is safe to call on a stopped engine.
func (e *Engine) Stop() error {
	var errs []error

	for _, s := range []*stream{&e.inputStream, &e.outputStream} {
		if *s == nil {
			continue
		}
		if err := (*s).Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := (*s).Close(); err != nil {
			errs = append(errs, err)
		}
		*s = nil
	}

	return errors.Join(errs...)
}

// Close stops any recording and both streams.
func (e *Engine) Close() error {
	return errors.Join(e.StopRecording(), e.Stop())
}

// Meter exposes the engine's live telemetry.
func (e *Engine) Meter() *telemetry.Meter {
	return e.meter
}

// Snapshot returns the current telemetry.
func (e *Engine) Snapshot() telemetry.Snapshot {
	return e.meter.Snapshot()
}

// processInput is the capture callback.
// Performance Critical:
// - Uses pre-allocated buffers only
// - No locks, no allocations
func (e *Engine) processInput(in []float32) {
	if p := e.pending.Swap(nil); p != nil {
		e.gate.Reconfigure(*p)
	}
	enabled := e.gateEnabled.Load()
	peak := telemetry.PeakAbs(in)
	frames := len(in) / e.channels

	rec := e.recorder.Load()

	for len(in) > 0 {
		n := min(len(in), len(e.gated))
		src, out := in[:n], e.gated[:n]

		if enabled {
			if err := e.gate.Process(out, src); err != nil {
				clear(out)
			}
		} else {
			copy(out, src)
		}

		e.push(out)
		if rec != nil {
			rec.push(out)
		}
		in = in[n:]
	}

	e.meter.Update(e.gate.State(), enabled, peak, frames)
}

// push queues whole frames for playback and counts what did not fit.
func (e *Engine) push(buf []float32) {
	free := e.ring.Free()
	n := min(len(buf), free-free%e.channels)
	e.ring.Write(buf[:n])
	if n < len(buf) {
		e.meter.AddOverrun(len(buf) - n)
	}
}

// processOutput is the playback callback. Missing samples are played as
// silence.
func (e *Engine) processOutput(out []float32) {
	avail := e.ring.Len()
	avail -= avail % e.channels

	n := e.ring.Read(out[:min(len(out), avail)])
	if n < len(out) {
		clear(out[n:])
		e.meter.AddUnderrun(len(out) - n)
	}
}
