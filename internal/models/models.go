package models

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Role distinguishes admin-portal accounts: admins manage the daemon, while
// viewer accounts can log into the portal without admin rights.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// User is an admin-portal login account, distinct from the Plex usernames
// tracked by the Device Registry.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	ThumbURL  string    `json:"thumb_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MediaType mirrors the content kinds the upstream server reports in a
// session's content metadata.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeEpisode MediaType = "episode"
	MediaTypeTrack   MediaType = "track"
	MediaTypeOther   MediaType = "unknown"
)
