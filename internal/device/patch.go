package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Patch field names, as they appear on the wire.
const (
	FieldDeviceID           = "deviceId"
	FieldID                 = "id"
	FieldIsOn               = "isOn"
	FieldTemperature        = "temperature"
	FieldCurrentTemperature = "currentTemperature"
	FieldColor              = "color"
	FieldBrightness         = "brightness"
)

// Patch is a typed partial update. Nil fields are absent.
type Patch struct {
	DeviceID           *int     `json:"deviceId,omitempty"`
	ID                 *int     `json:"id,omitempty"`
	IsOn               *bool    `json:"isOn,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	CurrentTemperature *float64 `json:"currentTemperature,omitempty"`
	Color              *string  `json:"color,omitempty"`
	Brightness         *float64 `json:"brightness,omitempty"`
}

// Target returns the device id the patch addresses, preferring deviceId.
func (p Patch) Target() (int, bool) {
	if p.DeviceID != nil {
		return *p.DeviceID, true
	}
	if p.ID != nil {
		return *p.ID, true
	}
	return 0, false
}

// Empty reports whether the patch carries no state fields.
func (p Patch) Empty() bool {
	return len(p.Fields()) == 0
}

// Fields lists the state fields present in the patch. Target ids are not
// state fields.
func (p Patch) Fields() []string {
	var fields []string
	if p.IsOn != nil {
		fields = append(fields, FieldIsOn)
	}
	if p.Temperature != nil {
		fields = append(fields, FieldTemperature)
	}
	if p.CurrentTemperature != nil {
		fields = append(fields, FieldCurrentTemperature)
	}
	if p.Color != nil {
		fields = append(fields, FieldColor)
	}
	if p.Brightness != nil {
		fields = append(fields, FieldBrightness)
	}
	return fields
}

// Overlay returns p with every field present in top replacing its own.
func (p Patch) Overlay(top Patch) Patch {
	if top.DeviceID != nil {
		p.DeviceID = top.DeviceID
	}
	if top.ID != nil {
		p.ID = top.ID
	}
	if top.IsOn != nil {
		p.IsOn = top.IsOn
	}
	if top.Temperature != nil {
		p.Temperature = top.Temperature
	}
	if top.CurrentTemperature != nil {
		p.CurrentTemperature = top.CurrentTemperature
	}
	if top.Color != nil {
		p.Color = top.Color
	}
	if top.Brightness != nil {
		p.Brightness = top.Brightness
	}
	return p
}

// Without returns p minus every state field that is present in other.
func (p Patch) Without(other Patch) Patch {
	if other.IsOn != nil {
		p.IsOn = nil
	}
	if other.Temperature != nil {
		p.Temperature = nil
	}
	if other.CurrentTemperature != nil {
		p.CurrentTemperature = nil
	}
	if other.Color != nil {
		p.Color = nil
	}
	if other.Brightness != nil {
		p.Brightness = nil
	}
	return p
}

// Matching returns the state fields present in both p and other with equal
// values, taking the values from p.
func (p Patch) Matching(other Patch) Patch {
	var out Patch
	if p.IsOn != nil && other.IsOn != nil && *p.IsOn == *other.IsOn {
		out.IsOn = p.IsOn
	}
	if p.Temperature != nil && other.Temperature != nil && *p.Temperature == *other.Temperature {
		out.Temperature = p.Temperature
	}
	if p.CurrentTemperature != nil && other.CurrentTemperature != nil &&
		*p.CurrentTemperature == *other.CurrentTemperature {
		out.CurrentTemperature = p.CurrentTemperature
	}
	if p.Color != nil && other.Color != nil && *p.Color == *other.Color {
		out.Color = p.Color
	}
	if p.Brightness != nil && other.Brightness != nil && *p.Brightness == *other.Brightness {
		out.Brightness = p.Brightness
	}
	return out
}

// ApplyTo returns a copy of d with the patch fields that are valid for its
// type applied. Fields the type does not carry are skipped.
func (p Patch) ApplyTo(d Device) Device {
	d = d.Clone()
	if p.IsOn != nil {
		d.IsOn = *p.IsOn
	}
	if d.Thermostat != nil {
		if p.Temperature != nil {
			d.Thermostat.Temperature = *p.Temperature
		}
		if p.CurrentTemperature != nil {
			d.Thermostat.CurrentTemperature = *p.CurrentTemperature
		}
	}
	if d.LED != nil && p.Color != nil && ValidColor(*p.Color) {
		d.LED.Color = *p.Color
	}
	return d
}

// DecodePatch decodes a JSON object field by field. A field whose JSON type
// does not match (bool for isOn, number for temperatures, brightness and
// ids, string for color) is dropped and its name returned in ignored;
// unknown keys are ignored silently. Only a body that is not a JSON object
// is an error.
func DecodePatch(data []byte) (p Patch, ignored []string, err error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Patch{}, nil, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil || raw == nil {
		return Patch{}, nil, fmt.Errorf("%w: patch must be a JSON object", ErrInvalidInput)
	}

	for key, value := range raw {
		ok := true
		switch key {
		case FieldDeviceID:
			p.DeviceID, ok = decodeInt(value)
		case FieldID:
			p.ID, ok = decodeInt(value)
		case FieldIsOn:
			p.IsOn, ok = decodeBool(value)
		case FieldTemperature:
			p.Temperature, ok = decodeNumber(value)
		case FieldCurrentTemperature:
			p.CurrentTemperature, ok = decodeNumber(value)
		case FieldColor:
			p.Color, ok = decodeString(value)
		case FieldBrightness:
			p.Brightness, ok = decodeNumber(value)
		}
		if !ok {
			ignored = append(ignored, key)
		}
	}
	sort.Strings(ignored)
	return p, ignored, nil
}

// isNull reports a JSON null, which never counts as a well-typed value.
func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeBool(raw json.RawMessage) (*bool, bool) {
	if isNull(raw) {
		return nil, false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return &v, true
}

func decodeNumber(raw json.RawMessage) (*float64, bool) {
	if isNull(raw) {
		return nil, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, false
	}
	return &v, true
}

func decodeInt(raw json.RawMessage) (*int, bool) {
	f, ok := decodeNumber(raw)
	if !ok || *f != math.Trunc(*f) || math.Abs(*f) > math.MaxInt32 {
		return nil, false
	}
	v := int(*f)
	return &v, true
}

func decodeString(raw json.RawMessage) (*string, bool) {
	if isNull(raw) {
		return nil, false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return &v, true
}

// Bool returns a pointer to v, for building patches.
func Bool(v bool) *bool { return &v }

// Float returns a pointer to v, for building patches.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building patches.
func Int(v int) *int { return &v }

// String returns a pointer to v, for building patches.
func String(v string) *string { return &v }
