// SPDX-License-Identifier: MIT
//
// Package utils provides float32 test signals and a recording transport shared
// by the package tests.
package utils

import (
	"math"
	"sync"
)

// MockTransport records everything sent to it instead of transmitting.
type MockTransport struct {
	mu     sync.Mutex
	sent   []any
	closed bool
}

// Send stores data for later inspection.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	m.sent = append(m.sent, data)
	m.mu.Unlock()
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Sent returns a copy of everything sent so far.
func (m *MockTransport) Sent() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.sent...)
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Constant returns frames interleaved frames where every sample equals amp.
func Constant(frames, channels int, amp float32) []float32 {
	buf := make([]float32, frames*channels)
	for i := range buf {
		buf[i] = amp
	}
	return buf
}

// Sine returns a mono sine wave.
func Sine(frames int, sampleRate, frequency float64, amp float32) []float32 {
	buf := make([]float32, frames)
	for i := range buf {
		t := float64(i) / sampleRate
		buf[i] = amp * float32(math.Sin(2*math.Pi*frequency*t))
	}
	return buf
}

// Bursts returns a mono sine that alternates every 250 ms between amp and a
// floor amplitude, the classic material for exercising a gate.
func Bursts(frames int, sampleRate, frequency float64, amp, floor float32) []float32 {
	buf := Sine(frames, sampleRate, frequency, 1)
	period := int(sampleRate / 4)
	if period < 1 {
		period = 1
	}
	for i := range buf {
		if (i/period)%2 == 0 {
			buf[i] *= amp
		} else {
			buf[i] *= floor
		}
	}
	return buf
}

// Interleave merges equally sized mono channels into one interleaved buffer.
// Channels are truncated to the shortest one.
func Interleave(channels ...[]float32) []float32 {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	for _, c := range channels[1:] {
		frames = min(frames, len(c))
	}

	buf := make([]float32, frames*len(channels))
	for f := 0; f < frames; f++ {
		for c, ch := range channels {
			buf[f*len(channels)+c] = ch[f]
		}
	}
	return buf
}

// Deinterleave splits an interleaved buffer into its channels.
func Deinterleave(buf []float32, channels int) [][]float32 {
	if channels < 1 {
		return nil
	}
	frames := len(buf) / channels
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, frames)
		for f := 0; f < frames; f++ {
			out[c][f] = buf[f*channels+c]
		}
	}
	return out
}

// ToFloat64 widens a float32 buffer, mostly for use with gonum/floats.
func ToFloat64(buf []float32) []float64 {
	out := make([]float64, len(buf))
	for i, v := range buf {
		out[i] = float64(v)
	}
	return out
}
