package reconciler

import "smarthome/internal/device"

// UnassignedRoom groups devices with an empty room.
const UnassignedRoom = "Other"

// RoomGroup is the devices of one room, in list order.
type RoomGroup struct {
	Room    string
	Devices []device.Device
}

// ByRoom groups devices by room. Rooms appear in the order their first
// device does.
func ByRoom(devices []device.Device) []RoomGroup {
	var groups []RoomGroup
	index := make(map[string]int)
	for _, d := range devices {
		room := d.Room
		if room == "" {
			room = UnassignedRoom
		}
		i, ok := index[room]
		if !ok {
			i = len(groups)
			index[room] = i
			groups = append(groups, RoomGroup{Room: room})
		}
		groups[i].Devices = append(groups[i].Devices, d)
	}
	return groups
}
