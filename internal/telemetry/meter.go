// SPDX-License-Identifier: MIT
//
// Package telemetry carries gate state out of the audio callback. The callback
// is the only writer of a Meter; any number of goroutines may read snapshots.
package telemetry

import (
	"math"
	"sync/atomic"
	"time"

	"noisegate/internal/gate"
)

// Snapshot is a point-in-time view of the gate and the stream around it.
type Snapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	GateEnabled bool      `json:"gate_enabled"`
	Open        bool      `json:"open"`
	Attenuation float32   `json:"attenuation"`
	Level       float32   `json:"level"`      // Tracked envelope, linear
	HeldTime    float32   `json:"held_time"`  // Seconds since the gate closed
	InputPeak   float32   `json:"input_peak"` // Peak magnitude of the last buffer
	Frames      uint64    `json:"frames"`     // Frames processed since start
	Overruns    uint64    `json:"overruns"`   // Samples dropped, playback too slow
	Underruns   uint64    `json:"underruns"`  // Samples of silence played, capture too slow
}

// LevelDB returns the tracked envelope in dBFS, -Inf for silence.
func (s Snapshot) LevelDB() float64 {
	return AmplitudeToDB(s.Level)
}

// InputPeakDB returns the last buffer's peak in dBFS, -Inf for silence.
func (s Snapshot) InputPeakDB() float64 {
	return AmplitudeToDB(s.InputPeak)
}

// AmplitudeToDB converts a linear amplitude to dBFS. Non-positive amplitudes
// give -Inf.
func AmplitudeToDB(a float32) float64 {
	if a <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(float64(a))
}

// Meter publishes gate state without locks. Individual fields are atomic; a
// snapshot may mix values from two consecutive buffers, which is fine for
// metering.
type Meter struct {
	enabled     atomic.Bool
	open        atomic.Bool
	attenuation atomic.Uint32 // float32 bits
	level       atomic.Uint32
	heldTime    atomic.Uint32
	inputPeak   atomic.Uint32

	frames    atomic.Uint64
	overruns  atomic.Uint64
	underruns atomic.Uint64
}

// Update records the state after one buffer. Called from the capture callback.
func (m *Meter) Update(st gate.State, enabled bool, inputPeak float32, frames int) {
	m.enabled.Store(enabled)
	m.open.Store(st.Open)
	m.attenuation.Store(math.Float32bits(st.Attenuation))
	m.level.Store(math.Float32bits(st.Level))
	m.heldTime.Store(math.Float32bits(st.HeldTime))
	m.inputPeak.Store(math.Float32bits(inputPeak))
	m.frames.Add(uint64(frames))
}

// AddOverrun counts samples the ring buffer had no room for.
func (m *Meter) AddOverrun(samples int) {
	m.overruns.Add(uint64(samples))
}

// AddUnderrun counts samples of silence substituted on playback.
func (m *Meter) AddUnderrun(samples int) {
	m.underruns.Add(uint64(samples))
}

// Snapshot reads the current values. The timestamp is left for the publisher.
func (m *Meter) Snapshot() Snapshot {
	return Snapshot{
		GateEnabled: m.enabled.Load(),
		Open:        m.open.Load(),
		Attenuation: math.Float32frombits(m.attenuation.Load()),
		Level:       math.Float32frombits(m.level.Load()),
		HeldTime:    math.Float32frombits(m.heldTime.Load()),
		InputPeak:   math.Float32frombits(m.inputPeak.Load()),
		Frames:      m.frames.Load(),
		Overruns:    m.overruns.Load(),
		Underruns:   m.underruns.Load(),
	}
}

// PeakAbs returns the largest magnitude in buf.
func PeakAbs(buf []float32) float32 {
	var peak float32
	for _, s := range buf {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
