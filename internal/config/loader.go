package config

import (
	"fmt"
	"os"

	"smarthome/internal/device"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SeedFile represents the seed YAML structure
type SeedFile struct {
	Devices []SeedDevice `yaml:"devices"`
}

// SeedDevice is one device entry of a seed file
type SeedDevice struct {
	ID                 int      `yaml:"id"`
	Name               string   `yaml:"name"`
	Type               string   `yaml:"type"`
	IsOn               bool     `yaml:"isOn"`
	Room               string   `yaml:"room"`
	Temperature        *float64 `yaml:"temperature"`
	CurrentTemperature *float64 `yaml:"currentTemperature"`
	Color              string   `yaml:"color"`
}

// LoadSeed reads and validates a seed file. An empty path returns the
// built-in device list.
func LoadSeed(path string, logger *zap.Logger) ([]device.Device, error) {
	if path == "" {
		logger.Info("No seed file configured, using built-in devices")
		return device.DefaultSeed(), nil
	}

	logger.Debug("Loading seed file", zap.String("path", path))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	devices, err := ParseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	logger.Info("Seed file loaded",
		zap.String("path", path),
		zap.Int("devices", len(devices)))
	return devices, nil
}

// ParseSeed decodes seed YAML into devices. Ids must be unique and every
// entry must carry the fields its type needs: temperature for a thermostat
// (currentTemperature defaults to it) and color for an LED strip.
func ParseSeed(data []byte) ([]device.Device, error) {
	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Devices) == 0 {
		return nil, fmt.Errorf("no devices defined: %w", device.ErrInvalidInput)
	}

	seen := make(map[int]bool, len(file.Devices))
	devices := make([]device.Device, 0, len(file.Devices))
	for i, entry := range file.Devices {
		d, err := entry.toDevice()
		if err != nil {
			return nil, fmt.Errorf("device #%d: %w", i+1, err)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("device #%d: duplicate id %d: %w", i+1, d.ID, device.ErrInvalidInput)
		}
		seen[d.ID] = true
		devices = append(devices, d)
	}
	return devices, nil
}

func (e SeedDevice) toDevice() (device.Device, error) {
	d := device.Device{
		ID:   e.ID,
		Name: e.Name,
		Type: device.Type(e.Type),
		IsOn: e.IsOn,
		Room: e.Room,
	}

	switch d.Type {
	case device.TypeThermostat:
		if e.Temperature == nil {
			return device.Device{}, fmt.Errorf("thermostat %d needs a temperature: %w", e.ID, device.ErrInvalidInput)
		}
		current := *e.Temperature
		if e.CurrentTemperature != nil {
			current = *e.CurrentTemperature
		}
		d.Thermostat = &device.ThermostatState{Temperature: *e.Temperature, CurrentTemperature: current}
	case device.TypeLEDStrip:
		d.LED = &device.LEDState{Color: e.Color}
	default:
		if e.Temperature != nil || e.CurrentTemperature != nil || e.Color != "" {
			return device.Device{}, fmt.Errorf("%s %d carries fields of another type: %w", e.Type, e.ID, device.ErrInvalidType)
		}
	}

	if err := d.Validate(); err != nil {
		return device.Device{}, err
	}
	return d, nil
}
