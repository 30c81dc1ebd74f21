// Package testutil provides an in-process smart home server and websocket
// test clients for integration tests.
package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"smarthome/internal/api"
	"smarthome/internal/clock"
	"smarthome/internal/device"
	"smarthome/internal/events"
	"smarthome/internal/gateway"
	"smarthome/internal/simulation"
	"smarthome/internal/store"

	"go.uber.org/zap"
)

// TestEnv wires the real store, event bus, gateway, simulation and REST
// router behind an httptest.Server. The simulation runs on a MockClock and
// only moves when Tick is called.
type TestEnv struct {
	Server     *httptest.Server
	URL        string
	Store      *store.Store
	Hub        *events.Hub
	Gateway    *gateway.Gateway
	Simulation *simulation.Driver
	Clock      *clock.MockClock
	Logger     *zap.Logger

	interval time.Duration
	clients  []*WSClient
}

// NewTestEnv creates a running environment. A nil seed uses the built-in
// device list.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv(nil)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
func NewTestEnv(seed []device.Device) (*TestEnv, error) {
	logger := zap.NewNop()
	if seed == nil {
		seed = device.DefaultSeed()
	}

	s, err := store.New(seed, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	hub := events.NewHub(logger, events.DefaultOptions())
	gw := gateway.New(s, hub, logger)
	hub.SetIntentHandler(gw)

	opts := simulation.DefaultOptions()
	clk := clock.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	driver := simulation.New(s, hub, clk, logger, opts)
	if err := driver.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start simulation: %w", err)
	}

	srv := httptest.NewServer(api.NewServer(gw, hub, logger, 0).Handler())

	return &TestEnv{
		Server:     srv,
		URL:        srv.URL,
		Store:      s,
		Hub:        hub,
		Gateway:    gw,
		Simulation: driver,
		Clock:      clk,
		Logger:     logger,
		interval:   opts.Interval,
	}, nil
}

// Tick advances the mock clock by n simulation intervals.
func (e *TestEnv) Tick(n int) {
	for i := 0; i < n; i++ {
		e.Clock.Advance(e.interval)
	}
}

// Dial connects a websocket client to the event bus and waits until the hub
// has registered it, so broadcasts issued afterwards reach it.
func (e *TestEnv) Dial() (*WSClient, error) {
	want := e.Hub.ClientCount() + 1

	c, err := DialWS(e.URL)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.Hub.ClientCount() < want {
		if time.Now().After(deadline) {
			c.Close()
			return nil, fmt.Errorf("client was not registered by the hub")
		}
		time.Sleep(5 * time.Millisecond)
	}

	e.clients = append(e.clients, c)
	return c, nil
}

// Cleanup stops all components in the correct order.
// Always call this in a defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	for _, c := range e.clients {
		c.Close()
	}
	if e.Simulation != nil {
		e.Simulation.Stop()
	}
	if e.Hub != nil {
		e.Hub.Close()
	}
	if e.Server != nil {
		e.Server.Close()
	}
}
