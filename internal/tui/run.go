package tui

import (
	"context"
	"fmt"

	"smarthome/internal/device"

	tea "github.com/charmbracelet/bubbletea"
)

// Source delivers background updates to a running dashboard.
type Source interface {
	OnChange(fn func([]device.Device)) func()
}

// ConnectionSource reports event bus connectivity.
type ConnectionSource interface {
	OnConnectionChange(fn func(connected bool)) func()
	IsConnected() bool
}

// Run starts the dashboard and blocks until the user quits or ctx ends.
func Run(ctx context.Context, opts Options, changes Source, conn ConnectionSource) error {
	opts.Context = ctx
	if conn != nil {
		opts.Connected = conn.IsConnected()
	}

	p := tea.NewProgram(New(opts), tea.WithAltScreen(), tea.WithContext(ctx))

	if changes != nil {
		unsubscribe := changes.OnChange(func(devices []device.Device) {
			p.Send(devicesMsg(devices))
		})
		defer unsubscribe()
	}
	if conn != nil {
		unsubscribe := conn.OnConnectionChange(func(connected bool) {
			p.Send(connectionMsg(connected))
		})
		defer unsubscribe()
	}

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run dashboard: %w", err)
	}
	return nil
}
