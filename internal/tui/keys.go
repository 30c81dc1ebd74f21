package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the dashboard's keyboard bindings.
type keyMap struct {
	Quit     key.Binding
	Help     key.Binding
	Up       key.Binding
	Down     key.Binding
	Toggle   key.Binding
	TempUp   key.Binding
	TempDown key.Binding
	Color    key.Binding
	Brighter key.Binding
	Dimmer   key.Binding
	Reload   key.Binding
	Settings key.Binding
	Confirm  key.Binding
	Cancel   key.Binding
}

// defaultKeyMap returns the default key bindings.
func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "q"),
			key.WithHelp("q", "Quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?", "h"),
			key.WithHelp("?", "Toggle help"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "Previous device"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "Next device"),
		),
		Toggle: key.NewBinding(
			key.WithKeys("enter", " "),
			key.WithHelp("enter", "Toggle on/off or lock/unlock"),
		),
		TempUp: key.NewBinding(
			key.WithKeys("+", "="),
			key.WithHelp("+", "Raise setpoint"),
		),
		TempDown: key.NewBinding(
			key.WithKeys("-", "_"),
			key.WithHelp("-", "Lower setpoint"),
		),
		Color: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "Next LED color"),
		),
		Brighter: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "Brighter"),
		),
		Dimmer: key.NewBinding(
			key.WithKeys("B"),
			key.WithHelp("B", "Dimmer"),
		),
		Reload: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "Reload devices"),
		),
		Settings: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "Server settings"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "Save"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "Cancel"),
		),
	}
}

// helpBindings lists the bindings shown in the help overlay, in order.
func (k keyMap) helpBindings() []key.Binding {
	return []key.Binding{
		k.Up, k.Down, k.Toggle, k.TempUp, k.TempDown,
		k.Color, k.Brighter, k.Dimmer, k.Reload, k.Settings, k.Help, k.Quit,
	}
}
