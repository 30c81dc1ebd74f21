package mqttmirror

import (
	"fmt"
	"strings"
)

// DefaultPrefix is the topic root when none is configured.
const DefaultPrefix = "smarthome"

// Topics builds the mirror's topic names under one prefix.
//
//	topics := Topics{Prefix: "smarthome"}
//	topics.DeviceState(2) // "smarthome/devices/2/state"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultPrefix
	}
	return p
}

// DeviceState returns the retained state topic of one device.
func (t Topics) DeviceState(id int) string {
	return fmt.Sprintf("%s/devices/%d/state", t.prefix(), id)
}

// AllDeviceStates returns a wildcard filter matching every state topic.
func (t Topics) AllDeviceStates() string {
	return t.prefix() + "/devices/+/state"
}

// Status returns the server availability topic (online/offline, retained).
func (t Topics) Status() string {
	return t.prefix() + "/status"
}
