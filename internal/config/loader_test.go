package config

import (
	"os"
	"path/filepath"
	"testing"

	"smarthome/internal/device"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleSeed = `devices:
  - id: 1
    name: Porch Light
    type: light
    room: Porch
  - id: 2
    name: Hall Thermostat
    type: thermostat
    isOn: true
    temperature: 21.5
    currentTemperature: 19
  - id: 3
    name: Back Door
    type: lock
    isOn: true
  - id: 4
    name: Desk Strip
    type: ledStrip
    color: "#00FFAA"
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadSeed(t *testing.T) {
	devices, err := LoadSeed(writeSeed(t, sampleSeed), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, devices, 4)

	assert.Equal(t, device.Device{ID: 1, Name: "Porch Light", Type: device.TypeLight, Room: "Porch"}, devices[0])
	assert.Equal(t, 21.5, devices[1].Thermostat.Temperature)
	assert.Equal(t, 19.0, devices[1].Thermostat.CurrentTemperature)
	assert.True(t, devices[1].IsOn)
	assert.True(t, devices[2].IsOn)
	assert.Equal(t, "#00FFAA", devices[3].LED.Color)
}

func TestLoadSeed_EmptyPathUsesDefaults(t *testing.T) {
	devices, err := LoadSeed("", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, device.DefaultSeed(), devices)
}

func TestLoadSeed_MissingFile(t *testing.T) {
	_, err := LoadSeed(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop())
	assert.Error(t, err)
}

func TestParseSeed_CurrentTemperatureDefaultsToSetpoint(t *testing.T) {
	devices, err := ParseSeed([]byte(`devices:
  - id: 9
    type: thermostat
    temperature: 20
`))
	require.NoError(t, err)
	assert.Equal(t, 20.0, devices[0].Thermostat.CurrentTemperature)
}

func TestParseSeed_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"no devices", "devices: []\n", device.ErrInvalidInput},
		{"duplicate id", "devices:\n  - {id: 1, type: light}\n  - {id: 1, type: lock}\n", device.ErrInvalidInput},
		{"unknown type", "devices:\n  - {id: 1, type: toaster}\n", device.ErrInvalidType},
		{"thermostat without setpoint", "devices:\n  - {id: 1, type: thermostat}\n", device.ErrInvalidInput},
		{"bad color", "devices:\n  - {id: 1, type: ledStrip, color: red}\n", device.ErrInvalidInput},
		{"light with temperature", "devices:\n  - {id: 1, type: light, temperature: 20}\n", device.ErrInvalidType},
		{"non-positive id", "devices:\n  - {id: 0, type: light}\n", device.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeed([]byte(tt.content))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseSeed_MalformedYAML(t *testing.T) {
	_, err := ParseSeed([]byte("devices: [unclosed"))
	assert.Error(t, err)
}
