// Package events implements the best-effort publish/subscribe channel that
// mirrors device state to connected clients over websockets.
package events

import (
	"encoding/json"
	"fmt"

	"smarthome/internal/device"
)

// Kind names an event on the wire.
type Kind string

// Intents are sent by clients.
const (
	KindLampToggle           Kind = "lamp_toggle"
	KindAdjustLampBrightness Kind = "adjust_lamp_brightness"
	KindChangeLEDColor       Kind = "change_led_color"
	KindThermostatSet        Kind = "thermostat_set"
	KindThermostatToggle     Kind = "thermostat_toggle"
	KindLockToggle           Kind = "lock_toggle"
)

// Notifications are sent by the server.
const (
	KindUpdate           Kind = "update"
	KindThermostatUpdate Kind = "thermostat_update"
	KindDeviceUpdate     Kind = "device_update"
	KindRoomLED          Kind = "room_led"
	KindLockUpdate       Kind = "lock_update"
)

// IsIntent reports whether k is a client to server event.
func (k Kind) IsIntent() bool {
	switch k {
	case KindLampToggle, KindAdjustLampBrightness, KindChangeLEDColor,
		KindThermostatSet, KindThermostatToggle, KindLockToggle:
		return true
	}
	return false
}

// Message is the envelope of every websocket text frame:
// {"event": "<kind>", "data": <payload>}.
type Message struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessage encodes payload into a Message of the given kind. A
// json.RawMessage payload is carried verbatim.
func NewMessage(kind Kind, payload any) (Message, error) {
	if payload == nil {
		return Message{Event: kind}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Message{Event: kind, Data: data}, nil
}

// Patch decodes the payload permissively; see device.DecodePatch.
func (m Message) Patch() (device.Patch, []string, error) {
	return device.DecodePatch(m.Data)
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s event has no payload", m.Event)
	}
	return json.Unmarshal(m.Data, v)
}

// Publisher emits notifications. An empty except reaches every subscriber;
// otherwise the connection with that client id is skipped.
type Publisher interface {
	Broadcast(kind Kind, payload any, except string)
}

// IntentHandler receives the intents read from a connection, in the order
// that connection sent them.
type IntentHandler interface {
	HandleIntent(clientID string, msg Message)
}

// UpdatePayload is the body of an update notification emitted by the server
// after a light or LED strip changed power state.
type UpdatePayload struct {
	DeviceID int  `json:"deviceId"`
	ID       int  `json:"id"`
	IsOn     bool `json:"isOn"`
}

// ThermostatPayload is the body of thermostat_update and device_update.
// IsOn is only carried by device_update.
type ThermostatPayload struct {
	DeviceID           int     `json:"deviceId"`
	ID                 int     `json:"id"`
	IsOn               *bool   `json:"isOn,omitempty"`
	Temperature        float64 `json:"temperature"`
	CurrentTemperature float64 `json:"currentTemperature"`
}

// ColorPayload is the body of a room_led notification.
type ColorPayload struct {
	DeviceID int    `json:"deviceId"`
	ID       int    `json:"id"`
	Color    string `json:"color"`
}

// NewUpdate builds the update payload for d.
func NewUpdate(d device.Device) UpdatePayload {
	return UpdatePayload{DeviceID: d.ID, ID: d.ID, IsOn: d.IsOn}
}

// NewThermostatUpdate builds the thermostat_update payload for d.
func NewThermostatUpdate(d device.Device) ThermostatPayload {
	p := ThermostatPayload{DeviceID: d.ID, ID: d.ID}
	if d.Thermostat != nil {
		p.Temperature = d.Thermostat.Temperature
		p.CurrentTemperature = d.Thermostat.CurrentTemperature
	}
	return p
}

// NewDeviceUpdate builds the device_update payload for d.
func NewDeviceUpdate(d device.Device) ThermostatPayload {
	p := NewThermostatUpdate(d)
	p.IsOn = device.Bool(d.IsOn)
	return p
}

// NewRoomLED builds the room_led payload for d.
func NewRoomLED(d device.Device) ColorPayload {
	p := ColorPayload{DeviceID: d.ID, ID: d.ID}
	if d.LED != nil {
		p.Color = d.LED.Color
	}
	return p
}
