package tui

import (
	"fmt"
	"strings"

	"smarthome/internal/device"
	"smarthome/internal/reconciler"

	"github.com/charmbracelet/lipgloss"
)

// View implements tea.Model.
func (m Model) View() string {
	if m.showHelp {
		return m.renderHelp()
	}
	if m.editing {
		return m.renderSettings()
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	if len(m.devices) == 0 {
		b.WriteString(m.styles.Muted.Render("\nNo devices loaded."))
	}
	for _, group := range reconciler.ByRoom(m.devices) {
		b.WriteString(m.styles.Room.Render(group.Room))
		b.WriteString("\n")
		for _, d := range group.Devices {
			b.WriteString(m.renderRow(d))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	conn := m.styles.Error.Render("● offline")
	if m.connected {
		conn = m.styles.On.Render("● live")
	}
	content := fmt.Sprintf("Smart Home  %s  %s", m.serverURL, conn)

	style := m.styles.Header
	if m.width > 0 {
		style = style.Width(m.width)
	}
	return style.Render(content)
}

func (m Model) renderRow(d device.Device) string {
	line := fmt.Sprintf("%-22s %s", d.Name, m.describe(d))
	if d.ID == m.selectedID {
		return m.styles.Selected.Render("› " + line)
	}
	return m.styles.Row.Render("  " + line)
}

// describe renders a device's state for its type.
func (m Model) describe(d device.Device) string {
	switch d.Type {
	case device.TypeLock:
		if d.IsOn {
			return m.styles.On.Render("Locked")
		}
		return m.styles.Status.Render("Unlocked")

	case device.TypeThermostat:
		power := m.powerLabel(d.IsOn)
		return fmt.Sprintf("%s  set %.1f°C  now %.1f°C",
			power, d.Thermostat.Temperature, d.Thermostat.CurrentTemperature)

	case device.TypeLEDStrip:
		swatch := lipgloss.NewStyle().Foreground(lipgloss.Color(d.LED.Color)).Render("■")
		return fmt.Sprintf("%s  %s %s  %.0f%%", m.powerLabel(d.IsOn), swatch, d.LED.Color, m.brightnessOf(d.ID))

	default:
		return fmt.Sprintf("%s  %.0f%%", m.powerLabel(d.IsOn), m.brightnessOf(d.ID))
	}
}

func (m Model) powerLabel(on bool) string {
	if on {
		return m.styles.On.Render("On ")
	}
	return m.styles.Off.Render("Off")
}

func (m Model) renderFooter() string {
	var parts []string
	if m.err != nil {
		parts = append(parts, m.styles.Error.Render(m.err.Error()))
	} else if m.ctl != nil && m.ctl.Err() != nil {
		parts = append(parts, m.styles.Error.Render("Server unreachable: "+m.ctl.Err().Error()))
	}
	if m.status != "" {
		parts = append(parts, m.styles.Status.Render(m.status))
	}
	parts = append(parts, m.styles.Muted.Render("? help  q quit"))
	return strings.Join(parts, "  ")
}

func (m Model) renderHelp() string {
	var b strings.Builder
	b.WriteString("Keys\n\n")
	for _, binding := range m.keys.helpBindings() {
		h := binding.Help()
		fmt.Fprintf(&b, "%-8s %s\n", h.Key, h.Desc)
	}
	b.WriteString("\nPress any key to close")
	return m.styles.Box.Render(b.String())
}

func (m Model) renderSettings() string {
	body := strings.Join([]string{
		"Server settings",
		"",
		m.urlInput.View(),
		"",
		m.styles.Muted.Render("enter save · esc cancel"),
	}, "\n")
	return m.styles.Box.Render(body)
}
