// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"noisegate/internal/gate"
	"noisegate/internal/telemetry"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// Controller is the live gate the monitor observes and adjusts.
type Controller interface {
	Snapshot() telemetry.Snapshot
	GateParams() gate.Params
	SetGateParams(gate.Params)
	GateEnabled() bool
	SetGateEnabled(bool)
}

const (
	thresholdStep = 1   // dB per key press
	timeStep      = 5   // ms per key press
	meterFloorDB  = -80 // left edge of the level meter
	meterWidth    = 40
)

type monitorKeys struct {
	quit        key.Binding
	toggle      key.Binding
	openUp      key.Binding
	openDown    key.Binding
	closeUp     key.Binding
	closeDown   key.Binding
	holdUp      key.Binding
	holdDown    key.Binding
	releaseUp   key.Binding
	releaseDown key.Binding
}

var keys = monitorKeys{
	quit:        key.NewBinding(key.WithKeys("q", "ctrl+c")),
	toggle:      key.NewBinding(key.WithKeys("g")),
	openUp:      key.NewBinding(key.WithKeys("+", "=")),
	openDown:    key.NewBinding(key.WithKeys("-", "_")),
	closeUp:     key.NewBinding(key.WithKeys("]")),
	closeDown:   key.NewBinding(key.WithKeys("[")),
	holdUp:      key.NewBinding(key.WithKeys("H")),
	holdDown:    key.NewBinding(key.WithKeys("h")),
	releaseUp:   key.NewBinding(key.WithKeys("R")),
	releaseDown: key.NewBinding(key.WithKeys("r")),
}

type tickMsg time.Time

// MonitorModel is the Bubble Tea model showing the gate's live state.
type MonitorModel struct {
	ctrl     Controller
	interval time.Duration
	snap     telemetry.Snapshot
	params   gate.Params
	enabled  bool
}

// NewMonitorModel creates a monitor refreshing every interval.
func NewMonitorModel(ctrl Controller, interval time.Duration) MonitorModel {
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	return MonitorModel{
		ctrl:     ctrl,
		interval: interval,
		snap:     ctrl.Snapshot(),
		params:   ctrl.GateParams(),
		enabled:  ctrl.GateEnabled(),
	}
}

func (m MonitorModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m MonitorModel) Init() tea.Cmd {
	return m.tick()
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.snap = m.ctrl.Snapshot()
		m.enabled = m.ctrl.GateEnabled()
		return m, m.tick()

	case tea.KeyMsg:
		p := m.params
		switch {
		case key.Matches(msg, keys.quit):
			return m, tea.Quit
		case key.Matches(msg, keys.toggle):
			m.enabled = !m.enabled
			m.ctrl.SetGateEnabled(m.enabled)
			return m, nil
		case key.Matches(msg, keys.openUp):
			p.OpenThresholdDB = min(p.OpenThresholdDB+thresholdStep, 0)
		case key.Matches(msg, keys.openDown):
			p.OpenThresholdDB -= thresholdStep
		case key.Matches(msg, keys.closeUp):
			p.CloseThresholdDB = min(p.CloseThresholdDB+thresholdStep, 0)
		case key.Matches(msg, keys.closeDown):
			p.CloseThresholdDB -= thresholdStep
		case key.Matches(msg, keys.holdUp):
			p.HoldMs += timeStep
		case key.Matches(msg, keys.holdDown):
			p.HoldMs = max(p.HoldMs-timeStep, 0)
		case key.Matches(msg, keys.releaseUp):
			p.ReleaseMs += timeStep
		case key.Matches(msg, keys.releaseDown):
			p.ReleaseMs = max(p.ReleaseMs-timeStep, 0)
		default:
			return m, nil
		}
		if p != m.params {
			m.params = p
			m.ctrl.SetGateParams(p)
		}
	}

	return m, nil
}

func (m MonitorModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Noise Gate"))
	sb.WriteString("\n\n")

	state := closedStyle.Render("CLOSED")
	if m.snap.Open {
		state = highlightStyle.Render("OPEN")
	}
	if !m.enabled {
		state = mutedStyle.Render("BYPASS")
	}
	fmt.Fprintf(&sb, "  Gate:        %s\n", state)
	fmt.Fprintf(&sb, "  Input:       %s %s\n", levelBar(m.snap.InputPeakDB()), formatDB(m.snap.InputPeakDB()))
	fmt.Fprintf(&sb, "  Envelope:    %s %s\n", levelBar(m.snap.LevelDB()), formatDB(m.snap.LevelDB()))
	fmt.Fprintf(&sb, "  Attenuation: %s %3.0f%%\n", bar(float64(m.snap.Attenuation)), m.snap.Attenuation*100)
	sb.WriteString("\n")

	p := m.params
	fmt.Fprintf(&sb, "  Open  %6.1f dB   Close   %6.1f dB\n", p.OpenThresholdDB, p.CloseThresholdDB)
	fmt.Fprintf(&sb, "  Attack %5.0f ms   Hold    %4.0f ms   Release %4.0f ms\n", p.AttackMs, p.HoldMs, p.ReleaseMs)
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "  %s\n", mutedStyle.Render(fmt.Sprintf("frames %d  overruns %d  underruns %d",
		m.snap.Frames, m.snap.Overruns, m.snap.Underruns)))
	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render("+/-: Open • [/]: Close • h/H: Hold • r/R: Release • g: Bypass • q: Quit"))

	return sb.String()
}

func levelBar(db float64) string {
	return bar((db - meterFloorDB) / -meterFloorDB)
}

// bar renders a fraction in [0, 1] as a fixed width meter.
func bar(frac float64) string {
	if math.IsNaN(frac) {
		frac = 0
	}
	n := int(math.Round(math.Max(0, math.Min(1, frac)) * meterWidth))
	return strings.Repeat("█", n) + strings.Repeat("░", meterWidth-n)
}

func formatDB(db float64) string {
	if math.IsInf(db, -1) || db < meterFloorDB {
		return "  -inf dB"
	}
	return fmt.Sprintf("%6.1f dB", db)
}

// RunMonitor runs the monitor until the user quits or done is closed.
func RunMonitor(ctrl Controller, interval time.Duration, done <-chan struct{}) error {
	p := tea.NewProgram(NewMonitorModel(ctrl, interval), tea.WithAltScreen())

	finished := make(chan struct{})
	go func() {
		select {
		case <-done:
			p.Quit()
		case <-finished:
		}
	}()

	_, err := p.Run()
	close(finished)
	return err
}
