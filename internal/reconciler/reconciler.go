// Package reconciler keeps a client's view of the devices: the last
// server-confirmed baseline, overlaid with the client's own optimistic
// changes, and corrected by broadcasts from other clients.
//
// Conflicts resolve per field, last write wins. A failed command throws all
// optimistic changes away and re-fetches the baseline.
package reconciler

import (
	"context"
	"fmt"
	"sync"

	"smarthome/internal/device"
	"smarthome/internal/events"

	"go.uber.org/zap"
)

// API is the REST surface the reconciler drives
type API interface {
	List(ctx context.Context) ([]device.Device, error)
	Toggle(ctx context.Context, id int) (device.Device, error)
	Update(ctx context.Context, id int, p device.Patch) (device.Device, error)
}

// Emitter sends intents on the event bus
type Emitter interface {
	Emit(kind events.Kind, payload any) error
}

// Reconciler merges baseline, pending patches and broadcasts.
type Reconciler struct {
	api     API
	emitter Emitter
	logger  *zap.Logger

	mu       sync.Mutex
	baseline []device.Device
	index    map[int]int
	pending  map[int]device.Patch
	err      error

	listenersMu sync.RWMutex
	listeners   map[int]func([]device.Device)
	nextID      int
}

// New creates an empty reconciler. Call Load before use.
func New(api API, emitter Emitter, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		api:       api,
		emitter:   emitter,
		logger:    logger,
		index:     make(map[int]int),
		pending:   make(map[int]device.Patch),
		listeners: make(map[int]func([]device.Device)),
	}
}

// Load fetches the device list as the new baseline and clears every pending
// patch. On failure the previous baseline is kept and the error is
// retained for Err.
func (r *Reconciler) Load(ctx context.Context) error {
	devices, err := r.api.List(ctx)

	r.mu.Lock()
	if err != nil {
		r.err = err
		r.mu.Unlock()
		r.logger.Warn("Failed to load devices", zap.Error(err))
		r.notify()
		return err
	}

	r.baseline = devices
	r.index = make(map[int]int, len(devices))
	for i, d := range devices {
		r.index[d.ID] = i
	}
	r.pending = make(map[int]device.Patch)
	r.err = nil
	r.mu.Unlock()

	r.logger.Debug("Devices loaded", zap.Int("count", len(devices)))
	r.notify()
	return nil
}

// Devices returns the merged view in baseline order.
func (r *Reconciler) Devices() []device.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mergedLocked()
}

// Device returns the merged view of one device.
func (r *Reconciler) Device(id int) (device.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return device.Device{}, false
	}
	return r.pending[id].ApplyTo(r.baseline[i]), true
}

// Err returns the error of the last failed re-fetch, or nil.
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// OnChange registers a listener called with the merged view after every
// change. The returned func removes it.
func (r *Reconciler) OnChange(fn func([]device.Device)) func() {
	r.listenersMu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.listenersMu.Unlock()

	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

// Toggle flips isOn optimistically, then asks the server.
func (r *Reconciler) Toggle(ctx context.Context, id int) error {
	current, ok := r.Device(id)
	if !ok {
		return fmt.Errorf("device %d: %w", id, device.ErrNotFound)
	}

	patch := device.Patch{IsOn: device.Bool(!current.IsOn)}
	r.applyOptimistic(id, patch)

	updated, err := r.api.Toggle(ctx, id)
	return r.settle(ctx, id, patch, updated, err)
}

// SetPower sets isOn optimistically, then asks the server.
func (r *Reconciler) SetPower(ctx context.Context, id int, on bool) error {
	return r.update(ctx, id, device.Patch{IsOn: device.Bool(on)})
}

// SetTemperature sets a thermostat setpoint optimistically, then asks the
// server.
func (r *Reconciler) SetTemperature(ctx context.Context, id int, temperature float64) error {
	current, ok := r.Device(id)
	if !ok {
		return fmt.Errorf("device %d: %w", id, device.ErrNotFound)
	}
	if current.Type != device.TypeThermostat {
		return fmt.Errorf("device %d is a %s: %w", id, current.Type, device.ErrInvalidType)
	}
	return r.update(ctx, id, device.Patch{Temperature: device.Float(temperature)})
}

func (r *Reconciler) update(ctx context.Context, id int, patch device.Patch) error {
	if _, ok := r.Device(id); !ok {
		return fmt.Errorf("device %d: %w", id, device.ErrNotFound)
	}
	r.applyOptimistic(id, patch)

	updated, err := r.api.Update(ctx, id, patch)
	return r.settle(ctx, id, patch, updated, err)
}

// SetColor changes an LED strip's color optimistically and announces it on
// the event bus. The server applies it and relays it to the other clients
// without answering the sender, so a successful send commits the color
// locally.
func (r *Reconciler) SetColor(ctx context.Context, id int, color string) error {
	current, ok := r.Device(id)
	if !ok {
		return fmt.Errorf("device %d: %w", id, device.ErrNotFound)
	}
	if current.Type != device.TypeLEDStrip {
		return fmt.Errorf("device %d is a %s: %w", id, current.Type, device.ErrInvalidType)
	}
	if !device.ValidColor(color) {
		return fmt.Errorf("color %q: %w", color, device.ErrInvalidInput)
	}

	patch := device.Patch{Color: device.String(color)}
	r.applyOptimistic(id, patch)

	err := r.emitter.Emit(events.KindChangeLEDColor, events.ColorPayload{DeviceID: id, ID: id, Color: color})
	if err != nil {
		return r.fail(ctx, fmt.Errorf("send color for device %d: %w", id, err))
	}

	r.mu.Lock()
	r.commitLocked(id, patch)
	r.mu.Unlock()
	r.notify()
	return nil
}

// AdjustBrightness announces a brightness level. Brightness is not part of
// the device model, so nothing changes locally.
func (r *Reconciler) AdjustBrightness(_ context.Context, id int, level float64) error {
	if _, ok := r.Device(id); !ok {
		return fmt.Errorf("device %d: %w", id, device.ErrNotFound)
	}
	payload := map[string]any{"deviceId": id, "id": id, "brightness": level}
	if err := r.emitter.Emit(events.KindAdjustLampBrightness, payload); err != nil {
		return fmt.Errorf("send brightness for device %d: %w", id, err)
	}
	return nil
}

// HandleEvent merges a notification from the event bus. The fields it
// carries overwrite the baseline and cancel pending patches for exactly
// those fields.
func (r *Reconciler) HandleEvent(msg events.Message) {
	switch msg.Event {
	case events.KindUpdate, events.KindThermostatUpdate, events.KindDeviceUpdate,
		events.KindRoomLED, events.KindLockUpdate:
	default:
		return
	}

	patch, _, err := msg.Patch()
	if err != nil {
		r.logger.Debug("Ignoring undecodable event", zap.String("event", string(msg.Event)), zap.Error(err))
		return
	}
	id, ok := patch.Target()
	if !ok || patch.Empty() {
		return
	}

	r.mu.Lock()
	if _, known := r.index[id]; !known {
		r.mu.Unlock()
		return
	}
	r.commitLocked(id, patch)
	r.mu.Unlock()

	r.logger.Debug("Event merged",
		zap.String("event", string(msg.Event)),
		zap.Int("id", id),
		zap.Strings("fields", patch.Fields()))
	r.notify()
}

func (r *Reconciler) applyOptimistic(id int, patch device.Patch) {
	r.mu.Lock()
	r.pending[id] = r.pending[id].Overlay(patch)
	r.mu.Unlock()
	r.notify()
}

// settle applies a REST outcome. On success the response becomes the
// baseline and the pending fields still holding the sent values are
// cleared. Responses settle in arrival order, so a slow response that lands
// after a newer one overwrites it.
func (r *Reconciler) settle(ctx context.Context, id int, sent device.Patch, updated device.Device, err error) error {
	if err != nil {
		return r.fail(ctx, err)
	}

	authoritative := device.Patch{IsOn: device.Bool(updated.IsOn)}
	if updated.Thermostat != nil {
		authoritative.Temperature = device.Float(updated.Thermostat.Temperature)
		authoritative.CurrentTemperature = device.Float(updated.Thermostat.CurrentTemperature)
	}
	if updated.LED != nil {
		authoritative.Color = device.String(updated.LED.Color)
	}

	r.mu.Lock()
	if i, ok := r.index[id]; ok {
		r.baseline[i] = authoritative.ApplyTo(r.baseline[i])
		// A later command may have replaced a sent field; keep its value.
		r.dropPendingLocked(id, r.pending[id].Matching(sent))
	}
	r.mu.Unlock()

	r.notify()
	return nil
}

// fail discards every pending patch and re-fetches the baseline. The
// original error is returned; a failed re-fetch is kept for Err.
func (r *Reconciler) fail(ctx context.Context, cause error) error {
	r.logger.Warn("Command failed, reloading devices", zap.Error(cause))

	r.mu.Lock()
	r.pending = make(map[int]device.Patch)
	r.mu.Unlock()
	r.notify()

	_ = r.Load(ctx)
	return cause
}

// commitLocked writes patch into the baseline and clears the matching
// pending fields.
func (r *Reconciler) commitLocked(id int, patch device.Patch) {
	i := r.index[id]
	r.baseline[i] = patch.ApplyTo(r.baseline[i])
	r.dropPendingLocked(id, patch)
}

func (r *Reconciler) dropPendingLocked(id int, fields device.Patch) {
	rest := r.pending[id].Without(fields)
	if rest.Empty() {
		delete(r.pending, id)
		return
	}
	r.pending[id] = rest
}

func (r *Reconciler) mergedLocked() []device.Device {
	merged := make([]device.Device, 0, len(r.baseline))
	for _, d := range r.baseline {
		merged = append(merged, r.pending[d.ID].ApplyTo(d))
	}
	return merged
}

func (r *Reconciler) notify() {
	r.listenersMu.RLock()
	if len(r.listeners) == 0 {
		r.listenersMu.RUnlock()
		return
	}
	fns := make([]func([]device.Device), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.listenersMu.RUnlock()

	devices := r.Devices()
	for _, fn := range fns {
		fn(devices)
	}
}

// Pending reports whether the device has optimistic changes awaiting
// confirmation.
func (r *Reconciler) Pending(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}
