// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"fmt"
	"strings"

	"noisegate/internal/audio"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrCancelled is returned by PickDevices when the user quits without
// confirming.
var ErrCancelled = errors.New("device selection cancelled")

// Selection holds the device IDs chosen in the picker; -1 means the system
// default.
type Selection struct {
	Input  int
	Output int
}

// DeviceListModel represents the Bubble Tea model for choosing the capture
// and playback devices.
type DeviceListModel struct {
	fetch         func() ([]audio.Device, error)
	devices       []audio.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error

	selection Selection
	confirmed bool
}

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

// NewDeviceListModel creates a picker starting from the current selection.
func NewDeviceListModel(fetch func() ([]audio.Device, error), current Selection) DeviceListModel {
	return DeviceListModel{
		fetch:     fetch,
		selection: current,
	}
}

// Init initializes the Bubble Tea model
func (m DeviceListModel) Init() tea.Cmd {
	return m.fetchDevices
}

func (m DeviceListModel) fetchDevices() tea.Msg {
	devices, err := m.fetch()
	if err != nil {
		return errMsg{err}
	}
	return devicesMsg{devices}
}

// Selection returns the chosen devices and whether the user confirmed them.
func (m DeviceListModel) Selection() (Selection, bool) {
	return m.selection, m.confirmed
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.viewport.SetContent(m.renderDevices())

	case devicesMsg:
		m.devices = msg.devices
		m.viewport.SetContent(m.renderDevices())

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"))) {
			return m, tea.Quit
		}
		if m.err != nil {
			return m, tea.Quit
		}

		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("up", "k"))):
			if m.selectedIndex > 0 {
				m.selectedIndex--
			}

		case key.Matches(msg, key.NewBinding(key.WithKeys("down", "j"))):
			if m.selectedIndex < len(m.devices)-1 {
				m.selectedIndex++
			}

		case key.Matches(msg, key.NewBinding(key.WithKeys("i"))):
			if d, ok := m.current(); ok && d.MaxInputChannels > 0 {
				m.selection.Input = d.ID
			}

		case key.Matches(msg, key.NewBinding(key.WithKeys("o"))):
			if d, ok := m.current(); ok && d.MaxOutputChannels > 0 {
				m.selection.Output = d.ID
			}

		case key.Matches(msg, key.NewBinding(key.WithKeys("d"))):
			m.selection = Selection{Input: -1, Output: -1}

		case key.Matches(msg, key.NewBinding(key.WithKeys("enter"))):
			m.confirmed = true
			return m, tea.Quit
		}
		m.viewport.SetContent(m.renderDevices())
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m DeviceListModel) current() (audio.Device, bool) {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.devices) {
		return audio.Device{}, false
	}
	return m.devices[m.selectedIndex], true
}

// View renders the UI
func (m DeviceListModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress any key to exit.", m.err)
	}
	if !m.ready {
		return "Initializing..."
	}

	title := titleStyle.Render("Audio Devices")
	help := infoStyle.Render("↑/↓: Navigate • i: Use as input • o: Use as output • d: Defaults • Enter: Confirm • q: Quit")

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

// renderDevices formats the device list
func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No audio devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		var tags []string
		if device.ID == m.selection.Input {
			tags = append(tags, "IN")
		}
		if device.ID == m.selection.Output {
			tags = append(tags, "OUT")
		}
		marker := "  "
		if len(tags) > 0 {
			marker = "▶ "
		}

		deviceInfo := fmt.Sprintf("%s[%d] %s (%s) %s\n", marker, device.ID, device.Name, device.Kind(), strings.Join(tags, "+"))
		deviceInfo += fmt.Sprintf("    Input channels: %d, Output channels: %d\n",
			device.MaxInputChannels, device.MaxOutputChannels)
		deviceInfo += fmt.Sprintf("    Default sample rate: %.0f Hz\n", device.DefaultSampleRate)

		if i == m.selectedIndex {
			deviceInfo = highlightStyle.Render(deviceInfo)
		}

		sb.WriteString(deviceInfo)
		sb.WriteString("\n")
	}

	return sb.String()
}

// PickDevices launches the device picker. It returns ErrCancelled if the user
// quits without confirming.
func PickDevices(fetch func() ([]audio.Device, error), current Selection) (Selection, error) {
	p := tea.NewProgram(NewDeviceListModel(fetch, current), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return current, err
	}

	m := final.(DeviceListModel)
	if m.err != nil {
		return current, m.err
	}
	sel, ok := m.Selection()
	if !ok {
		return current, ErrCancelled
	}
	return sel, nil
}
