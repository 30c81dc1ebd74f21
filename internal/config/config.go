// Package config reads the server settings from the environment and the
// optional YAML seed file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server settings
type Config struct {
	Port            int
	TickInterval    time.Duration
	SeedFile        string
	MQTTBroker      string
	MQTTTopicPrefix string
	MQTTClientID    string
	LogLevel        string
}

// Defaults returns the settings used when no variable is set
func Defaults() Config {
	return Config{
		Port:            3000,
		TickInterval:    2 * time.Second,
		MQTTTopicPrefix: "smarthome",
		MQTTClientID:    "smarthome-server",
		LogLevel:        "info",
	}
}

// FromEnv reads the configuration from process environment variables
func FromEnv() (Config, error) {
	return FromLookup(os.Getenv)
}

// FromLookup reads the configuration through getenv. Unset or empty
// variables keep their defaults.
func FromLookup(getenv func(string) string) (Config, error) {
	cfg := Defaults()

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}

	if v := getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TICK_INTERVAL %q: %w", v, err)
		}
		cfg.TickInterval = d
	}

	cfg.SeedFile = getenv("SEED_FILE")
	cfg.MQTTBroker = getenv("MQTT_BROKER")
	if v := getenv("MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTTTopicPrefix = strings.Trim(v, "/")
	}
	if v := getenv("MQTT_CLIENT_ID"); v != "" {
		cfg.MQTTClientID = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.TickInterval < 10*time.Millisecond {
		return fmt.Errorf("tick interval %s too short", c.TickInterval)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.MQTTBroker != "" && c.MQTTTopicPrefix == "" {
		return fmt.Errorf("MQTT topic prefix must not be empty")
	}
	return nil
}

// Debug reports whether development logging was requested
func (c Config) Debug() bool {
	return c.LogLevel == "debug"
}
