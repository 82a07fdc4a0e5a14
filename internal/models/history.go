package models

import "time"

// SessionHistoryEntry is an append-mostly record of an observed session's
// lifetime, used by the Policy Engine solely to order concurrent sessions
// by age.
type SessionHistoryEntry struct {
	ID               int64      `json:"id"`
	SessionKey       string     `json:"session_key"`
	UserID           string     `json:"user_id"`
	DeviceID         int64      `json:"device_id"`
	DeviceAddress    string     `json:"device_address"`
	Title            string     `json:"title"`
	GrandparentTitle string     `json:"grandparent_title,omitempty"`
	MediaType        MediaType  `json:"media_type"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

func (e SessionHistoryEntry) Active() bool {
	return e.EndedAt == nil
}
