package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := FromLookup(lookup(nil))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.TickInterval)
	assert.False(t, cfg.Debug())
}

func TestFromLookup_Overrides(t *testing.T) {
	cfg, err := FromLookup(lookup(map[string]string{
		"PORT":              "8080",
		"TICK_INTERVAL":     "500ms",
		"SEED_FILE":         "/etc/smarthome/devices.yaml",
		"MQTT_BROKER":       "tcp://localhost:1883",
		"MQTT_TOPIC_PREFIX": "/home/",
		"LOG_LEVEL":         "DEBUG",
	}))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, "/etc/smarthome/devices.yaml", cfg.SeedFile)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "home", cfg.MQTTTopicPrefix)
	assert.True(t, cfg.Debug())
}

func TestFromLookup_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"non-numeric port":  {"PORT": "http"},
		"port out of range": {"PORT": "70000"},
		"bad interval":      {"TICK_INTERVAL": "2"},
		"tiny interval":     {"TICK_INTERVAL": "1ms"},
		"unknown log level": {"LOG_LEVEL": "chatty"},
	}

	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromLookup(lookup(vars))
			assert.Error(t, err)
		})
	}
}
