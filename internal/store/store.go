// Package store holds the authoritative in-memory device state.
//
// All mutation goes through Store methods, which serialize writers on a
// single lock so a reader never sees a half-applied change. Every returned
// Device is a deep copy.
package store

import (
	"fmt"
	"sync"

	"smarthome/internal/device"

	"go.uber.org/zap"
)

// Change describes one committed mutation. Seq increases by one for every
// commit across the whole store.
type Change struct {
	Seq uint64
	Old device.Device
	New device.Device
}

// ChangeHandler is called after a mutation has been committed.
type ChangeHandler func(change Change)

// Subscription represents an active change subscription
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	id    int
	store *Store
}

func (s *subscription) Unsubscribe() {
	s.store.unsubscribe(s.id)
}

// ThermostatPatch is a partial thermostat update. Nil fields are left alone.
type ThermostatPatch struct {
	Temperature        *float64
	CurrentTemperature *float64
	IsOn               *bool
}

// Store is the single source of truth for device state.
type Store struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	devices map[int]*device.Device
	order   []int
	seq     uint64

	// announceMu is taken before mu is released on a commit, so the
	// announcements passed to Commit run in commit order.
	announceMu sync.Mutex

	subsMu      sync.RWMutex
	subscribers map[int]ChangeHandler
	nextSubID   int
}

// New creates a store seeded with the given devices. Seed order is kept as
// the listing order. Duplicate ids and invalid devices are rejected.
func New(seed []device.Device, logger *zap.Logger) (*Store, error) {
	s := &Store{
		logger:      logger,
		devices:     make(map[int]*device.Device, len(seed)),
		order:       make([]int, 0, len(seed)),
		subscribers: make(map[int]ChangeHandler),
	}

	for _, d := range seed {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("seed device %d: %w", d.ID, err)
		}
		if _, exists := s.devices[d.ID]; exists {
			return nil, fmt.Errorf("seed device %d: %w: duplicate id", d.ID, device.ErrInvalidInput)
		}
		cp := d.Clone()
		s.devices[d.ID] = &cp
		s.order = append(s.order, d.ID)
	}

	logger.Info("Device store seeded", zap.Int("devices", len(s.order)))
	return s, nil
}

// All returns every device in seed order.
func (s *Store) All() []device.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]device.Device, 0, len(s.order))
	for _, id := range s.order {
		devices = append(devices, s.devices[id].Clone())
	}
	return devices
}

// Get returns the device with the given id.
func (s *Store) Get(id int) (device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return device.Device{}, notFound(id)
	}
	return d.Clone(), nil
}

// SetIsOn sets the power (or lock) state of any device type.
func (s *Store) SetIsOn(id int, value bool) (device.Device, error) {
	d, _, err := s.Mutate(id, func(d *device.Device) error {
		d.IsOn = value
		return nil
	})
	return d, err
}

// Toggle inverts isOn as one atomic read-modify-write.
func (s *Store) Toggle(id int) (device.Device, error) {
	d, _, err := s.Mutate(id, func(d *device.Device) error {
		d.IsOn = !d.IsOn
		return nil
	})
	return d, err
}

// SetThermostat applies a partial thermostat update. Temperature fields on a
// device that is not a thermostat fail with ErrInvalidType and change
// nothing; a patch carrying only IsOn is accepted for any type.
func (s *Store) SetThermostat(id int, patch ThermostatPatch) (device.Device, error) {
	d, _, err := s.Mutate(id, patch.Apply)
	return d, err
}

// Apply writes the patch into d, for use with Mutate and Commit.
func (p ThermostatPatch) Apply(d *device.Device) error {
	touchesTemperature := p.Temperature != nil || p.CurrentTemperature != nil
	if touchesTemperature && d.Type != device.TypeThermostat {
		return fmt.Errorf("device %d is a %s: %w", d.ID, d.Type, device.ErrInvalidType)
	}
	if p.Temperature != nil {
		d.Thermostat.Temperature = *p.Temperature
	}
	if p.CurrentTemperature != nil {
		d.Thermostat.CurrentTemperature = *p.CurrentTemperature
	}
	if p.IsOn != nil {
		d.IsOn = *p.IsOn
	}
	return nil
}

// SetColor sets the color of an LED strip.
func (s *Store) SetColor(id int, color string) (device.Device, error) {
	d, _, err := s.Mutate(id, func(d *device.Device) error {
		if d.Type != device.TypeLEDStrip {
			return fmt.Errorf("device %d is a %s: %w", d.ID, d.Type, device.ErrInvalidType)
		}
		if !device.ValidColor(color) {
			return fmt.Errorf("color %q: %w", color, device.ErrInvalidInput)
		}
		d.LED.Color = color
		return nil
	})
	return d, err
}

// Mutate runs fn against a private copy of the device while holding the
// write lock and commits the copy only if fn returns nil. The returned bool
// reports whether the committed device differs from the previous one;
// unchanged commits are not announced to subscribers.
func (s *Store) Mutate(id int, fn func(d *device.Device) error) (device.Device, bool, error) {
	return s.Commit(id, fn, nil)
}

// Commit is Mutate with an announcement. When the device changed, announce
// is called with the change before any later commit's announce runs, so
// notifications built from it leave in commit order. Readers are not
// blocked while it runs. announce must not mutate the store.
func (s *Store) Commit(id int, fn func(d *device.Device) error, announce func(Change)) (device.Device, bool, error) {
	s.mu.Lock()

	current, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		return device.Device{}, false, notFound(id)
	}

	old := current.Clone()
	next := current.Clone()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return old, false, err
	}

	// The id and type tag are immutable.
	next.ID = old.ID
	next.Type = old.Type
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return old, false, fmt.Errorf("device %d: %w", id, err)
	}

	if equal(old, next) {
		s.mu.Unlock()
		return old, false, nil
	}

	s.devices[id] = &next
	s.seq++
	change := Change{Seq: s.seq, Old: old, New: next.Clone()}

	s.announceMu.Lock()
	s.mu.Unlock()
	if announce != nil {
		announce(change)
	}
	s.announceMu.Unlock()

	s.logger.Debug("Device changed",
		zap.Int("id", id),
		zap.Uint64("seq", change.Seq),
		zap.Bool("is_on", next.IsOn))

	s.notifySubscribers(change)
	return next.Clone(), true, nil
}

// Subscribe registers a handler for every committed change. Handlers run in
// their own goroutine and may observe changes out of order; Change.Seq
// orders them.
func (s *Store) Subscribe(handler ChangeHandler) Subscription {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = handler

	return &subscription{id: id, store: s}
}

func (s *Store) unsubscribe(id int) {
	s.subsMu.Lock()
	delete(s.subscribers, id)
	s.subsMu.Unlock()
}

// notifySubscribers notifies all subscribers of a change
func (s *Store) notifySubscribers(change Change) {
	s.subsMu.RLock()
	handlers := make([]ChangeHandler, 0, len(s.subscribers))
	for _, h := range s.subscribers {
		handlers = append(handlers, h)
	}
	s.subsMu.RUnlock()

	for _, handler := range handlers {
		go handler(change)
	}
}

func notFound(id int) error {
	return fmt.Errorf("device %d: %w", id, device.ErrNotFound)
}

func equal(a, b device.Device) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Type != b.Type || a.IsOn != b.IsOn || a.Room != b.Room {
		return false
	}
	if (a.Thermostat == nil) != (b.Thermostat == nil) || (a.LED == nil) != (b.LED == nil) {
		return false
	}
	if a.Thermostat != nil && *a.Thermostat != *b.Thermostat {
		return false
	}
	if a.LED != nil && *a.LED != *b.LED {
		return false
	}
	return true
}
