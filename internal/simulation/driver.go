// Package simulation drifts each powered thermostat's measured temperature
// toward its setpoint on a fixed interval.
package simulation

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"smarthome/internal/clock"
	"smarthome/internal/device"
	"smarthome/internal/events"
	"smarthome/internal/metrics"
	"smarthome/internal/store"

	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Start on a driver that is running.
var ErrAlreadyRunning = errors.New("simulation already running")

// Options configures the drift.
type Options struct {
	Interval time.Duration
	Step     float64
	Epsilon  float64
}

// DefaultOptions returns a 2s interval with 0.1 °C step and tolerance.
func DefaultOptions() Options {
	return Options{
		Interval: 2 * time.Second,
		Step:     0.1,
		Epsilon:  0.1,
	}
}

// Driver owns the recurring simulation task.
type Driver struct {
	store     *store.Store
	publisher events.Publisher
	clock     clock.Clock
	logger    *zap.Logger
	opts      Options

	mu      sync.Mutex
	running bool
	gen     uint64
	timer   clock.Timer
	cancel  context.CancelFunc
}

// New creates a stopped driver. Zero option fields take their defaults.
func New(s *store.Store, publisher events.Publisher, clk clock.Clock, logger *zap.Logger, opts Options) *Driver {
	defaults := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = defaults.Interval
	}
	if opts.Step <= 0 {
		opts.Step = defaults.Step
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = defaults.Epsilon
	}

	return &Driver{
		store:     s,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		opts:      opts,
	}
}

// Start arms the recurring tick. The task stops when Stop is called or ctx
// is cancelled, whichever happens first.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	d.running = true
	d.gen++
	gen := d.gen
	d.cancel = cancel
	d.timer = d.clock.AfterFunc(d.opts.Interval, d.fire)

	go func() {
		<-ctx.Done()
		d.stop(gen)
	}()

	d.logger.Info("Thermostat simulation started",
		zap.Duration("interval", d.opts.Interval),
		zap.Float64("step", d.opts.Step))
	return nil
}

// Stop cancels the pending tick. A tick already executing finishes, but no
// further tick is scheduled. Safe to call on a stopped driver.
func (d *Driver) Stop() {
	d.mu.Lock()
	gen := d.gen
	d.mu.Unlock()
	d.stop(gen)
}

// stop ends run gen; a stale cancellation from an earlier run is ignored.
func (d *Driver) stop(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running || d.gen != gen {
		return
	}
	d.running = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.logger.Info("Thermostat simulation stopped")
}

// Running reports whether a tick is scheduled.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Driver) fire() {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		return
	}

	d.Tick()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		d.timer = d.clock.AfterFunc(d.opts.Interval, d.fire)
	}
}

// Tick runs one simulation pass over every thermostat and returns the number
// of thermostat_update notifications emitted.
func (d *Driver) Tick() int {
	metrics.SimulationTicks.Inc()

	emitted := 0
	for _, dev := range d.store.All() {
		if dev.Type != device.TypeThermostat {
			continue
		}

		updated, changed, err := d.store.Commit(dev.ID, d.drift, func(c store.Change) {
			d.publisher.Broadcast(events.KindThermostatUpdate, events.NewThermostatUpdate(c.New), "")
		})
		if err != nil {
			d.logger.Warn("Simulation step failed", zap.Int("id", dev.ID), zap.Error(err))
			continue
		}
		if !changed {
			continue
		}

		metrics.SimulationMoves.Inc()
		emitted++

		d.logger.Debug("Thermostat drifted",
			zap.Int("id", updated.ID),
			zap.Float64("current", updated.Thermostat.CurrentTemperature),
			zap.Float64("target", updated.Thermostat.Temperature))
	}
	return emitted
}

// drift moves currentTemperature one step toward the setpoint. It reads and
// writes the same snapshot under the store's write lock.
func (d *Driver) drift(dev *device.Device) error {
	if !dev.IsOn || dev.Thermostat == nil {
		return nil
	}
	dev.Thermostat.CurrentTemperature = Step(
		dev.Thermostat.CurrentTemperature,
		dev.Thermostat.Temperature,
		d.opts.Step,
		d.opts.Epsilon,
	)
	return nil
}

// Step returns current moved by step toward target, rounded to one decimal
// and clamped so it never passes target. The difference is rounded to 1e-9
// before it is compared with epsilon, so a gap of exactly one step still
// moves and the setpoint is reached exactly.
func Step(current, target, step, epsilon float64) float64 {
	diff := round(target-current, 1e9)
	if math.Abs(diff) < epsilon {
		return current
	}

	next := current + math.Copysign(step, diff)
	if (diff > 0 && next > target) || (diff < 0 && next < target) {
		next = target
	}
	return round(next, 10)
}

func round(v, scale float64) float64 {
	return math.Round(v*scale) / scale
}
