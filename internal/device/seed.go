package device

// DefaultSeed returns the built-in device list used when no seed file is
// configured. Each call returns fresh copies.
func DefaultSeed() []Device {
	return []Device{
		{ID: 1, Name: "Living Room Light", Type: TypeLight, Room: "Living Room"},
		{
			ID:         2,
			Name:       "Thermostat",
			Type:       TypeThermostat,
			IsOn:       true,
			Room:       "Living Room",
			Thermostat: &ThermostatState{Temperature: 22, CurrentTemperature: 20},
		},
		{ID: 3, Name: "Front Door Lock", Type: TypeLock, IsOn: true, Room: "Entrance"},
		{ID: 4, Name: "Bedroom Light", Type: TypeLight, Room: "Bedroom"},
		{ID: 5, Name: "Kitchen Light", Type: TypeLight, Room: "Kitchen"},
		{
			ID:   6,
			Name: "Bedroom LED Strip",
			Type: TypeLEDStrip,
			Room: "Bedroom",
			LED:  &LEDState{Color: "#FF8800"},
		},
	}
}
