// SPDX-License-Identifier: MIT
/*
Package gate implements a real-time noise gate for interleaved float32 audio.

The gate tracks a peak-hold envelope that decays linearly, opens instantly when
any sample crosses the open threshold and closes once the decaying envelope
falls below the close threshold. A continuous attenuation coefficient ramps
towards unity while open and, after the hold interval, towards zero while
closed. The coefficient is applied to every channel of a frame.

Real-time Constraints:
  - Process never allocates, locks or blocks
  - ProcessFrame reuses an engine-owned buffer (see Reserve)
  - Envelope state persists across calls for the lifetime of the stream

An Engine is owned by exactly one goroutine. Parameter changes coming from
another goroutine must be handed over by the caller (see audio.Engine).
*/
package gate

import (
	"errors"
	"fmt"
	"math"
)

// detectorRate is the reciprocal of the detector time constant: the tracked
// level decays by (open - close) every 1/75th of a second.
const detectorRate = 75.0

var (
	ErrSampleRate = errors.New("gate: sample rate must be positive and finite")
	ErrChannels   = errors.New("gate: channel count must be at least 1")
	ErrShape      = errors.New("gate: buffer length mismatch")
)

// Params holds the user facing gate settings. Thresholds are in dBFS, times
// are in milliseconds. Non-finite thresholds map to a linear threshold of 0.
type Params struct {
	OpenThresholdDB  float32
	CloseThresholdDB float32
	ReleaseMs        float32
	AttackMs         float32
	HoldMs           float32
}

// DefaultParams returns the settings used by the feedback demo.
func DefaultParams() Params {
	return Params{
		OpenThresholdDB:  -36,
		CloseThresholdDB: -54,
		ReleaseMs:        150,
		AttackMs:         25,
		HoldMs:           150,
	}
}

// State is a copy of the envelope state after the last processed sample.
type State struct {
	Open        bool
	Level       float32
	Attenuation float32
	HeldTime    float32 // seconds since the gate last closed
}

// Engine is a single noise gate instance for a fixed sample rate and channel
// count. It is not safe for concurrent use.
type Engine struct {
	// Immutable for the engine lifetime.
	sampleRate   float32
	samplePeriod float32
	channels     int

	params Params

	// Cached coefficients, recomputed by Reconfigure.
	openThreshold  float32
	closeThreshold float32
	releaseRate    float32
	attackRate     float32
	decayRate      float32
	holdTime       float32

	// Envelope state, mutated every sample.
	isOpen      bool
	level       float32
	attenuation float32
	heldTime    float32

	out []float32
}

// New creates a closed gate with zero level and attenuation. It fails with
// ErrSampleRate or ErrChannels instead of producing unusable coefficients.
//
// Process works on caller buffers and never allocates. Callers of ProcessFrame
// on a real-time thread must call Reserve with the largest buffer size first.
func New(p Params, sampleRate float64, channels int) (*Engine, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("new gate (%v Hz): %w", sampleRate, ErrSampleRate)
	}
	if channels < 1 {
		return nil, fmt.Errorf("new gate (%d channels): %w", channels, ErrChannels)
	}

	sr := float32(sampleRate)
	e := &Engine{
		sampleRate:   sr,
		samplePeriod: 1.0 / sr,
		channels:     channels,
	}
	e.Reconfigure(p)

	return e, nil
}

// Reconfigure replaces the thresholds and rates. The sample rate, channel
// count and the envelope state (open/closed, level, attenuation, held time)
// are left untouched so a live change never produces a discontinuity.
func (e *Engine) Reconfigure(p Params) {
	e.params = p

	e.openThreshold = dbToLinear(p.OpenThresholdDB)
	e.closeThreshold = dbToLinear(p.CloseThresholdDB)
	e.releaseRate = rampRate(p.ReleaseMs, e.sampleRate)
	e.attackRate = rampRate(p.AttackMs, e.sampleRate)
	e.holdTime = holdSeconds(p.HoldMs)

	minDecayPeriod := float32(1.0/detectorRate) * e.sampleRate
	diff := p.OpenThresholdDB - p.CloseThresholdDB
	if !isFinite(diff) {
		diff = e.openThreshold - e.closeThreshold
	}
	e.decayRate = diff / minDecayPeriod
}

// Reserve sizes the buffer returned by ProcessFrame for frames of the given
// length so that later calls do not allocate.
func (e *Engine) Reserve(frames int) {
	if n := frames * e.channels; n > cap(e.out) {
		e.out = make([]float32, n)
	}
}

// ProcessFrame gates an interleaved buffer and returns the attenuated copy.
// The returned slice belongs to the engine and is overwritten by the next
// call. It allocates only when src is longer than anything seen (or reserved)
// before.
func (e *Engine) ProcessFrame(src []float32) ([]float32, error) {
	if len(src)%e.channels != 0 {
		return nil, e.shapeError(len(src))
	}
	if len(src) > cap(e.out) {
		e.out = make([]float32, len(src))
	}
	out := e.out[:len(src)]
	e.process(out, src)
	return out, nil
}

// Process gates src into dst. Both must have the same length, a multiple of
// the channel count; dst may alias src. On error nothing is written and the
// state does not advance.
func (e *Engine) Process(dst, src []float32) error {
	if len(src)%e.channels != 0 {
		return e.shapeError(len(src))
	}
	if len(dst) != len(src) {
		return fmt.Errorf("process: dst has %d samples, src has %d: %w", len(dst), len(src), ErrShape)
	}
	e.process(dst, src)
	return nil
}

func (e *Engine) process(dst, src []float32) {
	ch := e.channels

	for i := 0; i+ch <= len(src); i += ch {
		frame := src[i : i+ch : i+ch]

		// Channel 0 is seeded by magnitude, the others (channel 0 included)
		// are compared by signed value.
		currentLevel := abs32(frame[0])
		for _, s := range frame {
			currentLevel = max32(currentLevel, s)
		}

		if currentLevel > e.openThreshold && !e.isOpen {
			e.isOpen = true
		}

		if e.level < e.closeThreshold && e.isOpen {
			e.heldTime = 0
			e.isOpen = false
		}

		e.level = max32(e.level, currentLevel) - e.decayRate

		if e.isOpen {
			e.attenuation = min32(1.0, e.attenuation+e.attackRate)
		} else {
			e.heldTime += e.samplePeriod
			if e.heldTime > e.holdTime {
				e.attenuation = max32(0.0, e.attenuation-e.releaseRate)
			}
		}

		out := dst[i : i+ch : i+ch]
		for c, s := range frame {
			out[c] = s * e.attenuation
		}
	}
}

func (e *Engine) shapeError(n int) error {
	return fmt.Errorf("process: %d samples is not a multiple of %d channels: %w", n, e.channels, ErrShape)
}

// State returns a copy of the envelope state.
func (e *Engine) State() State {
	return State{
		Open:        e.isOpen,
		Level:       e.level,
		Attenuation: e.attenuation,
		HeldTime:    e.heldTime,
	}
}

// IsOpen reports whether the gate is open.
func (e *Engine) IsOpen() bool { return e.isOpen }

// Attenuation returns the gain applied to the last frame, in [0, 1].
func (e *Engine) Attenuation() float32 { return e.attenuation }

// Params returns the settings last passed to New or Reconfigure.
func (e *Engine) Params() Params { return e.params }

// Channels returns the number of interleaved channels per frame.
func (e *Engine) Channels() int { return e.channels }

// SampleRate returns the sample rate in Hz.
func (e *Engine) SampleRate() float64 { return float64(e.sampleRate) }

// dbToLinear converts dBFS to linear amplitude; non-finite input gives 0.
func dbToLinear(db float32) float32 {
	if !isFinite(db) {
		return 0
	}
	return float32(math.Pow(10, float64(db)/20))
}

// rampRate is the per-sample attenuation step for a ramp of ms milliseconds.
// Zero, negative or non-finite times give an instant (single sample) ramp.
func rampRate(ms, sampleRate float32) float32 {
	rate := 1.0 / (ms * 0.001 * sampleRate)
	if ms <= 0 || !isFinite(rate) || rate > 1 {
		return 1
	}
	return rate
}

// holdSeconds converts the hold time. +Inf holds forever; zero, negative or
// NaN disable the hold.
func holdSeconds(ms float32) float32 {
	if ms <= 0 || ms != ms {
		return 0
	}
	return ms * 0.001
}

func isFinite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

func abs32(f float32) float32 {
	return math.Float32frombits(math.Float32bits(f) &^ (1 << 31))
}

// max32 returns the larger value, ignoring a NaN operand.
func max32(a, b float32) float32 {
	if a != a || b > a {
		return b
	}
	return a
}

func min32(a, b float32) float32 {
	if a != a || b < a {
		return b
	}
	return a
}
