// Package device defines the controllable device model shared by the
// server-side store and the client-side reconciler.
package device

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Type is the closed set of device kinds.
type Type string

const (
	TypeLight      Type = "light"
	TypeLock       Type = "lock"
	TypeThermostat Type = "thermostat"
	TypeLEDStrip   Type = "ledStrip"
)

// Valid reports whether t is one of the known device types.
func (t Type) Valid() bool {
	switch t {
	case TypeLight, TypeLock, TypeThermostat, TypeLEDStrip:
		return true
	}
	return false
}

// ThermostatState holds the fields that only exist on thermostats.
type ThermostatState struct {
	Temperature        float64 // setpoint, degrees Celsius
	CurrentTemperature float64 // simulated measurement, degrees Celsius
}

// LEDState holds the fields that only exist on LED strips.
type LEDState struct {
	Color string // #RRGGBB or #RRGGBBAA
}

// Device is one controllable entity. Exactly one variant pointer matching
// Type may be set: Thermostat for thermostats, LED for LED strips.
//
// For locks IsOn means locked.
type Device struct {
	ID   int
	Name string
	Type Type
	IsOn bool
	Room string

	Thermostat *ThermostatState
	LED        *LEDState
}

// Clone returns a deep copy so callers never share variant memory.
func (d Device) Clone() Device {
	if d.Thermostat != nil {
		t := *d.Thermostat
		d.Thermostat = &t
	}
	if d.LED != nil {
		l := *d.LED
		d.LED = &l
	}
	return d
}

// Validate checks the variant invariants of a device.
func (d Device) Validate() error {
	if d.ID <= 0 {
		return fmt.Errorf("%w: device id must be positive, got %d", ErrInvalidInput, d.ID)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: unknown device type %q", ErrInvalidType, d.Type)
	}
	if d.Type == TypeThermostat && d.Thermostat == nil {
		return fmt.Errorf("%w: thermostat %d has no temperature state", ErrInvalidInput, d.ID)
	}
	if d.Type != TypeThermostat && d.Thermostat != nil {
		return fmt.Errorf("%w: %s %d cannot carry temperature state", ErrInvalidType, d.Type, d.ID)
	}
	if d.Type == TypeLEDStrip && d.LED == nil {
		return fmt.Errorf("%w: led strip %d has no color state", ErrInvalidInput, d.ID)
	}
	if d.Type != TypeLEDStrip && d.LED != nil {
		return fmt.Errorf("%w: %s %d cannot carry a color", ErrInvalidType, d.Type, d.ID)
	}
	if d.LED != nil && !ValidColor(d.LED.Color) {
		return fmt.Errorf("%w: invalid color %q", ErrInvalidInput, d.LED.Color)
	}
	return nil
}

var colorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// ValidColor reports whether s is a #RRGGBB or #RRGGBBAA hex color.
func ValidColor(s string) bool {
	return colorPattern.MatchString(s)
}

// wireDevice is the flat JSON shape exchanged with clients.
type wireDevice struct {
	ID                 int      `json:"id"`
	Name               string   `json:"name"`
	Type               Type     `json:"type"`
	IsOn               bool     `json:"isOn"`
	Temperature        *float64 `json:"temperature,omitempty"`
	CurrentTemperature *float64 `json:"currentTemperature,omitempty"`
	Color              *string  `json:"color,omitempty"`
	Room               string   `json:"room,omitempty"`
}

// MarshalJSON flattens the variant into the wire shape, omitting fields
// that do not belong to the device type.
func (d Device) MarshalJSON() ([]byte, error) {
	w := wireDevice{
		ID:   d.ID,
		Name: d.Name,
		Type: d.Type,
		IsOn: d.IsOn,
		Room: d.Room,
	}
	if d.Thermostat != nil {
		temp, current := d.Thermostat.Temperature, d.Thermostat.CurrentTemperature
		w.Temperature = &temp
		w.CurrentTemperature = &current
	}
	if d.LED != nil {
		color := d.LED.Color
		w.Color = &color
	}
	return json.Marshal(w)
}

// UnmarshalJSON builds the variant matching the type tag. Fields that do not
// belong to the type are dropped.
func (d *Device) UnmarshalJSON(data []byte) error {
	var w wireDevice
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = Device{
		ID:   w.ID,
		Name: w.Name,
		Type: w.Type,
		IsOn: w.IsOn,
		Room: w.Room,
	}
	switch w.Type {
	case TypeThermostat:
		d.Thermostat = &ThermostatState{}
		if w.Temperature != nil {
			d.Thermostat.Temperature = *w.Temperature
		}
		if w.CurrentTemperature != nil {
			d.Thermostat.CurrentTemperature = *w.CurrentTemperature
		}
	case TypeLEDStrip:
		d.LED = &LEDState{}
		if w.Color != nil {
			d.LED.Color = *w.Color
		}
	}
	return nil
}
