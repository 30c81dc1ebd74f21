// Package gateway applies client commands to the device store and announces
// every resulting change on the event bus.
//
// Commands arrive two ways: REST calls (List, Get, Toggle, Update) and
// intents read from websocket connections (HandleIntent). Both paths share
// the store, so the last write to a field wins.
package gateway

import (
	"encoding/json"
	"sort"

	"smarthome/internal/device"
	"smarthome/internal/events"
	"smarthome/internal/store"

	"go.uber.org/zap"
)

// Gateway is the server-side command surface.
type Gateway struct {
	store     *store.Store
	publisher events.Publisher
	logger    *zap.Logger
}

// New creates a Gateway publishing through publisher.
func New(s *store.Store, publisher events.Publisher, logger *zap.Logger) *Gateway {
	return &Gateway{
		store:     s,
		publisher: publisher,
		logger:    logger,
	}
}

// List returns every device in seed order.
func (g *Gateway) List() []device.Device {
	return g.store.All()
}

// Get returns one device or an error wrapping device.ErrNotFound.
func (g *Gateway) Get(id int) (device.Device, error) {
	return g.store.Get(id)
}

// Toggle inverts isOn and publishes the change.
func (g *Gateway) Toggle(id int) (device.Device, error) {
	after, _, err := g.store.Commit(id, func(d *device.Device) error {
		d.IsOn = !d.IsOn
		return nil
	}, g.announce)
	if err != nil {
		return device.Device{}, err
	}

	g.logger.Info("Device toggled",
		zap.Int("id", id),
		zap.String("type", string(after.Type)),
		zap.Bool("is_on", after.IsOn))
	return after, nil
}

// Update merges the fields of p that fit the device's type: isOn for any
// device, temperature for thermostats, color for LED strips when it is a
// well-formed hex color. Every other state field in p is left alone and
// named in the returned ignored list. An update that changes nothing
// publishes nothing.
func (g *Gateway) Update(id int, p device.Patch) (device.Device, []string, error) {
	var ignored []string

	updated, changed, err := g.store.Commit(id, func(d *device.Device) error {
		ignored = applyPatch(d, p)
		return nil
	}, g.announce)
	if err != nil {
		return device.Device{}, nil, err
	}

	if len(ignored) > 0 {
		g.logger.Debug("Update fields ignored",
			zap.Int("id", id),
			zap.String("type", string(updated.Type)),
			zap.Strings("ignored", ignored))
	}
	if changed {
		g.logger.Info("Device updated", zap.Int("id", id), zap.Strings("fields", p.Fields()))
	}
	return updated, ignored, nil
}

// announce publishes a committed change. The store runs it in commit order.
func (g *Gateway) announce(c store.Change) {
	g.publishChange(c.Old, c.New)
}

// applyPatch writes the type-valid fields of p into d and returns the names
// of the supplied fields it did not apply.
func applyPatch(d *device.Device, p device.Patch) []string {
	var ignored []string

	if p.IsOn != nil {
		d.IsOn = *p.IsOn
	}
	if p.Temperature != nil {
		if d.Type == device.TypeThermostat {
			d.Thermostat.Temperature = *p.Temperature
		} else {
			ignored = append(ignored, device.FieldTemperature)
		}
	}
	if p.Color != nil {
		if d.Type == device.TypeLEDStrip && device.ValidColor(*p.Color) {
			d.LED.Color = *p.Color
		} else {
			ignored = append(ignored, device.FieldColor)
		}
	}
	// The measured temperature belongs to the simulation; brightness is not
	// part of the device model.
	if p.CurrentTemperature != nil {
		ignored = append(ignored, device.FieldCurrentTemperature)
	}
	if p.Brightness != nil {
		ignored = append(ignored, device.FieldBrightness)
	}

	sort.Strings(ignored)
	return ignored
}

// publishChange announces the difference between old and updated to every
// connection.
func (g *Gateway) publishChange(old, updated device.Device) {
	switch updated.Type {
	case device.TypeLock:
		if old.IsOn != updated.IsOn {
			g.publisher.Broadcast(events.KindLockUpdate, updated, "")
		}

	case device.TypeThermostat:
		if old.IsOn != updated.IsOn {
			g.publisher.Broadcast(events.KindDeviceUpdate, events.NewDeviceUpdate(updated), "")
		}
		if old.Thermostat != nil && updated.Thermostat != nil &&
			old.Thermostat.Temperature != updated.Thermostat.Temperature {
			g.publisher.Broadcast(events.KindThermostatUpdate, events.NewThermostatUpdate(updated), "")
		}

	case device.TypeLEDStrip:
		if old.IsOn != updated.IsOn {
			g.publisher.Broadcast(events.KindUpdate, events.NewUpdate(updated), "")
		}
		if old.LED != nil && updated.LED != nil && old.LED.Color != updated.LED.Color {
			g.publisher.Broadcast(events.KindRoomLED, events.NewRoomLED(updated), "")
		}

	case device.TypeLight:
		if old.IsOn != updated.IsOn {
			g.publisher.Broadcast(events.KindUpdate, events.NewUpdate(updated), "")
		}
	}
}

// HandleIntent applies and relays one client intent. clientID identifies the
// sending connection so relays that exclude the sender can skip it.
func (g *Gateway) HandleIntent(clientID string, msg events.Message) {
	p, ignored, err := msg.Patch()
	if err != nil {
		// Relays carry arbitrary payloads; only the store effect needs a patch.
		p = device.Patch{}
	}
	id, hasTarget := p.Target()

	logger := g.logger.With(
		zap.String("client_id", clientID),
		zap.String("event", string(msg.Event)))
	if len(ignored) > 0 {
		logger.Debug("Intent fields ignored", zap.Strings("ignored", ignored))
	}

	switch msg.Event {
	case events.KindLampToggle:
		if hasTarget && p.IsOn != nil {
			if _, err := g.store.SetIsOn(id, *p.IsOn); err != nil {
				logger.Debug("Lamp toggle not applied", zap.Int("id", id), zap.Error(err))
			}
		}
		g.publisher.Broadcast(events.KindUpdate, relay(msg), "")

	case events.KindAdjustLampBrightness:
		g.publisher.Broadcast(events.KindUpdate, relay(msg), clientID)

	case events.KindChangeLEDColor:
		if hasTarget && p.Color != nil && g.isType(id, device.TypeLEDStrip) {
			if _, err := g.store.SetColor(id, *p.Color); err != nil {
				logger.Debug("LED color not applied", zap.Int("id", id), zap.Error(err))
			}
		}
		g.publisher.Broadcast(events.KindUpdate, relay(msg), clientID)

	case events.KindThermostatSet:
		if !hasTarget || p.Temperature == nil || !g.isType(id, device.TypeThermostat) {
			logger.Debug("Thermostat set dropped")
			return
		}
		patch := store.ThermostatPatch{Temperature: p.Temperature}
		updated, changed, err := g.store.Commit(id, patch.Apply, func(c store.Change) {
			g.publisher.Broadcast(events.KindThermostatUpdate, events.NewThermostatUpdate(c.New), "")
		})
		if err != nil {
			logger.Warn("Thermostat set failed", zap.Int("id", id), zap.Error(err))
			return
		}
		if !changed {
			// Echo the unchanged setpoint so the sender still gets an answer.
			g.publisher.Broadcast(events.KindThermostatUpdate, events.NewThermostatUpdate(updated), "")
		}

	case events.KindThermostatToggle:
		if !hasTarget || p.IsOn == nil || !g.isType(id, device.TypeThermostat) {
			logger.Debug("Thermostat toggle dropped")
			return
		}
		patch := store.ThermostatPatch{IsOn: p.IsOn}
		updated, changed, err := g.store.Commit(id, patch.Apply, func(c store.Change) {
			g.publisher.Broadcast(events.KindDeviceUpdate, events.NewDeviceUpdate(c.New), "")
		})
		if err != nil {
			logger.Warn("Thermostat toggle failed", zap.Int("id", id), zap.Error(err))
			return
		}
		if !changed {
			g.publisher.Broadcast(events.KindDeviceUpdate, events.NewDeviceUpdate(updated), "")
		}

	case events.KindLockToggle:
		if !hasTarget || p.IsOn == nil || !g.isType(id, device.TypeLock) {
			logger.Debug("Lock toggle dropped")
			return
		}
		if _, err := g.store.SetIsOn(id, *p.IsOn); err != nil {
			logger.Warn("Lock toggle failed", zap.Int("id", id), zap.Error(err))
			return
		}
		g.publisher.Broadcast(events.KindLockUpdate, relay(msg), clientID)

	default:
		logger.Warn("Unknown intent dropped")
	}
}

func (g *Gateway) isType(id int, t device.Type) bool {
	d, err := g.store.Get(id)
	return err == nil && d.Type == t
}

// relay returns the intent payload for verbatim re-emission.
func relay(msg events.Message) any {
	if len(msg.Data) == 0 {
		return nil
	}
	return json.RawMessage(msg.Data)
}
