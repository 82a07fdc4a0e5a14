package models

import "time"

// NewDeviceEvent fires the first time the Device Registry observes a
// (user_id, device_identifier) pair.
type NewDeviceEvent struct {
	Device Device `json:"device"`
}

// LocationChangeEvent fires when an existing device's source address
// changes between ticks.
type LocationChangeEvent struct {
	Device Device `json:"device"`
	OldIP  string `json:"old_ip"`
	NewIP  string `json:"new_ip"`
}

// ReturnedDeviceEvent fires when a device is observed again after having
// gone inactive (last_seen older than the registry's activity window).
type ReturnedDeviceEvent struct {
	Device       Device    `json:"device"`
	PreviousSeen time.Time `json:"previous_seen"`
}

// DeviceNoteSubmittedEvent fires when a user submits the one-time note on a
// device.
type DeviceNoteSubmittedEvent struct {
	Device      Device `json:"device"`
	Description string `json:"description"`
}

// StreamBlockedEvent fires once per terminated session, after the upstream
// client confirms the terminate call succeeded.
type StreamBlockedEvent struct {
	UserID     string   `json:"user_id"`
	DeviceID   int64    `json:"device_id"`
	SessionKey string   `json:"session_key"`
	IP         string   `json:"ip"`
	StopCode   StopCode `json:"stop_code"`
}
