// SPDX-License-Identifier: MIT
package audio

import "noisegate/internal/gate"

func (e *Engine) EnableGate() {
	e.gateEnabled.Store(true)
}

func (e *Engine) DisableGate() {
	e.gateEnabled.Store(false)
}

// GateEnabled reports whether captured audio is gated or passed through.
func (e *Engine) GateEnabled() bool {
	return e.gateEnabled.Load()
}

// SetGateEnabled switches between gating and pass-through. The gate keeps its
// state while bypassed.
func (e *Engine) SetGateEnabled(enabled bool) {
	e.gateEnabled.Store(enabled)
}

// SetGateParams hands new gate settings to the capture callback, which applies
// them before its next buffer. Envelope state carries over. Safe to call from
// any goroutine.
func (e *Engine) SetGateParams(p gate.Params) {
	e.params.Store(&p)
	e.pending.Store(&p)
}

// GateParams returns the most recently requested settings, which may not have
// reached the callback yet.
func (e *Engine) GateParams() gate.Params {
	return *e.params.Load()
}
