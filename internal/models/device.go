package models

import "time"

// DeviceStatus is the admin approval state of a device.
type DeviceStatus string

const (
	DeviceStatusPending  DeviceStatus = "pending"
	DeviceStatusApproved DeviceStatus = "approved"
	DeviceStatusRejected DeviceStatus = "rejected"
)

func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusPending, DeviceStatusApproved, DeviceStatusRejected:
		return true
	}
	return false
}

// TempAccess is a time-boxed override of device policy evaluation.
type TempAccess struct {
	Until           *time.Time `json:"until,omitempty"`
	GrantedAt       *time.Time `json:"granted_at,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	BypassPolicies  bool       `json:"bypass_policies"`
}

// Active reports whether the grant still confers access at t.
func (t TempAccess) Active(now time.Time) bool {
	return t.Until != nil && t.Until.After(now)
}

// DeviceNote is the at-most-one user-submitted note per device lifetime.
type DeviceNote struct {
	Description     string     `json:"description,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	ReadAt          *time.Time `json:"read_at,omitempty"`
}

func (n DeviceNote) Submitted() bool {
	return n.SubmittedAt != nil
}

// Device is one row per (user_id, device_identifier) as observed via the
// upstream client's player.machine_id.
type Device struct {
	ID                         int64        `json:"id"`
	UserID                     string       `json:"user_id"`
	DeviceIdentifier           string       `json:"device_identifier"`
	DisplayName                string       `json:"display_name"`
	Platform                   string       `json:"platform"`
	Product                    string       `json:"product"`
	Version                    string       `json:"version"`
	Status                     DeviceStatus `json:"status"`
	ExcludeFromConcurrentLimit bool         `json:"exclude_from_concurrent_limit"`
	FirstSeen                  time.Time    `json:"first_seen"`
	LastSeen                   time.Time    `json:"last_seen"`
	LastIP                     string       `json:"last_ip"`
	SessionCount               int64        `json:"session_count"`
	TempAccess                 TempAccess   `json:"temp_access"`
	Note                       DeviceNote   `json:"note"`
}

// IsPlexamp reports whether this device's reported product forces approved,
// concurrent-exempt treatment regardless of stored status.
func (d Device) IsPlexamp() bool {
	return d.Product == "Plexamp"
}
