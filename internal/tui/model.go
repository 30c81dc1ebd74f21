// Package tui is the terminal dashboard: a Bubble Tea program that lists the
// house room by room and drives devices through the reconciler.
package tui

import (
	"context"
	"fmt"
	"math"

	"smarthome/internal/device"
	"smarthome/internal/prefs"
	"smarthome/internal/reconciler"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	temperatureStep = 0.5
	brightnessStep  = 10
	maxBrightness   = 100
)

// ledPalette is the color cycle offered for LED strips.
var ledPalette = []string{"#FF8800", "#FF0000", "#00FF00", "#0000FF", "#FFFFFF", "#8000FF"}

// Controller is the reconciler surface the dashboard drives.
type Controller interface {
	Load(ctx context.Context) error
	Devices() []device.Device
	Err() error
	Toggle(ctx context.Context, id int) error
	SetTemperature(ctx context.Context, id int, temperature float64) error
	SetColor(ctx context.Context, id int, color string) error
	AdjustBrightness(ctx context.Context, id int, level float64) error
}

// Options configures the dashboard.
type Options struct {
	Context    context.Context
	Controller Controller
	ServerURL  string
	PrefsPath  string
	Connected  bool
}

type (
	devicesMsg    []device.Device
	connectionMsg bool
	resultMsg     struct {
		op  string
		err error
	}
	savedMsg struct {
		url string
		err error
	}
)

// Model is the root Bubble Tea model.
type Model struct {
	ctx       context.Context
	ctl       Controller
	keys      keyMap
	styles    styles
	serverURL string
	prefsPath string

	width  int
	height int

	devices    []device.Device
	selectedID int
	connected  bool
	brightness map[int]float64

	status   string
	err      error
	showHelp bool

	editing  bool
	urlInput textinput.Model
}

// New creates the dashboard model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}

	ti := textinput.New()
	ti.Placeholder = prefs.DefaultServerURL
	ti.Prompt = "Server URL: "
	ti.CharLimit = 256

	m := Model{
		ctx:        ctx,
		ctl:        opts.Controller,
		keys:       defaultKeyMap(),
		styles:     defaultStyles(),
		serverURL:  opts.ServerURL,
		prefsPath:  prefsPath,
		connected:  opts.Connected,
		brightness: make(map[int]float64),
		urlInput:   ti,
	}
	if m.ctl != nil {
		m.setDevices(m.ctl.Devices())
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.loadCmd()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case devicesMsg:
		m.setDevices(msg)
		return m, nil

	case connectionMsg:
		m.connected = bool(msg)
		if m.connected {
			m.status = "Event bus connected"
		} else {
			m.status = "Event bus disconnected, retrying"
		}
		return m, nil

	case resultMsg:
		m.setDevices(m.ctl.Devices())
		m.err = msg.err
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed", msg.op)
		} else {
			m.status = msg.op
		}
		return m, nil

	case savedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Could not save settings"
			return m, nil
		}
		m.err = nil
		m.status = fmt.Sprintf("Saved %s; restart to connect", msg.url)
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}
	if m.editing {
		return m.handleSettingsKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil
	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-1)
		return m, nil
	case key.Matches(msg, m.keys.Down):
		m.moveCursor(1)
		return m, nil
	case key.Matches(msg, m.keys.Reload):
		m.status = "Reloading"
		return m, m.loadCmd()
	case key.Matches(msg, m.keys.Settings):
		m.editing = true
		m.urlInput.SetValue(m.serverURL)
		m.urlInput.CursorEnd()
		return m, m.urlInput.Focus()
	}

	d, ok := m.selected()
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Toggle):
		return m, m.run("Toggled "+d.Name, func(ctx context.Context) error {
			return m.ctl.Toggle(ctx, d.ID)
		})

	case key.Matches(msg, m.keys.TempUp), key.Matches(msg, m.keys.TempDown):
		if d.Type != device.TypeThermostat {
			return m, nil
		}
		step := temperatureStep
		if key.Matches(msg, m.keys.TempDown) {
			step = -step
		}
		target := d.Thermostat.Temperature + step
		return m, m.run(fmt.Sprintf("Setpoint %.1f°C", target), func(ctx context.Context) error {
			return m.ctl.SetTemperature(ctx, d.ID, target)
		})

	case key.Matches(msg, m.keys.Color):
		if d.Type != device.TypeLEDStrip {
			return m, nil
		}
		next := nextColor(d.LED.Color)
		return m, m.run("Color "+next, func(ctx context.Context) error {
			return m.ctl.SetColor(ctx, d.ID, next)
		})

	case key.Matches(msg, m.keys.Brighter), key.Matches(msg, m.keys.Dimmer):
		if d.Type != device.TypeLight && d.Type != device.TypeLEDStrip {
			return m, nil
		}
		step := float64(brightnessStep)
		if key.Matches(msg, m.keys.Dimmer) {
			step = -step
		}
		level := math.Max(0, math.Min(maxBrightness, m.brightnessOf(d.ID)+step))
		m.brightness[d.ID] = level
		return m, m.run(fmt.Sprintf("Brightness %.0f%%", level), func(ctx context.Context) error {
			return m.ctl.AdjustBrightness(ctx, d.ID, level)
		})
	}

	return m, nil
}

func (m Model) handleSettingsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.editing = false
		m.urlInput.Blur()
		return m, nil

	case key.Matches(msg, m.keys.Confirm):
		normalized, err := prefs.NormalizeURL(m.urlInput.Value())
		if err != nil {
			m.err = err
			m.status = "Invalid server URL"
			return m, nil
		}
		m.editing = false
		m.urlInput.Blur()
		m.serverURL = normalized
		return m, saveCmd(m.prefsPath, normalized)
	}

	var cmd tea.Cmd
	m.urlInput, cmd = m.urlInput.Update(msg)
	return m, cmd
}

// run executes a controller call off the update loop.
func (m Model) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return resultMsg{op: op, err: fn(ctx)}
	}
}

func (m Model) loadCmd() tea.Cmd {
	if m.ctl == nil {
		return nil
	}
	return m.run("Devices loaded", m.ctl.Load)
}

func saveCmd(path, url string) tea.Cmd {
	return func() tea.Msg {
		return savedMsg{url: url, err: prefs.Save(path, prefs.Prefs{ServerURL: url})}
	}
}

// setDevices replaces the list, keeping the selection on the same device
// when it still exists.
func (m *Model) setDevices(devices []device.Device) {
	m.devices = displayOrder(devices)
	if _, ok := m.selected(); !ok && len(m.devices) > 0 {
		m.selectedID = m.devices[0].ID
	}
}

func (m Model) selected() (device.Device, bool) {
	for _, d := range m.devices {
		if d.ID == m.selectedID {
			return d, true
		}
	}
	return device.Device{}, false
}

func (m *Model) moveCursor(delta int) {
	if len(m.devices) == 0 {
		return
	}
	i := 0
	for j, d := range m.devices {
		if d.ID == m.selectedID {
			i = j
			break
		}
	}
	i = (i + delta + len(m.devices)) % len(m.devices)
	m.selectedID = m.devices[i].ID
}

func (m Model) brightnessOf(id int) float64 {
	if level, ok := m.brightness[id]; ok {
		return level
	}
	return maxBrightness
}

// displayOrder flattens the room grouping so cursor movement follows what
// is drawn.
func displayOrder(devices []device.Device) []device.Device {
	var out []device.Device
	for _, g := range reconciler.ByRoom(devices) {
		out = append(out, g.Devices...)
	}
	return out
}

func nextColor(current string) string {
	for i, c := range ledPalette {
		if c == current {
			return ledPalette[(i+1)%len(ledPalette)]
		}
	}
	return ledPalette[0]
}
