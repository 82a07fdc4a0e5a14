package models

// NetworkPolicy restricts which source-address class a user's sessions may
// originate from.
type NetworkPolicy string

const (
	NetworkPolicyBoth NetworkPolicy = "both"
	NetworkPolicyLAN  NetworkPolicy = "lan"
	NetworkPolicyWAN  NetworkPolicy = "wan"
)

func (p NetworkPolicy) Valid() bool {
	switch p {
	case NetworkPolicyBoth, NetworkPolicyLAN, NetworkPolicyWAN:
		return true
	}
	return false
}

// IPAccessPolicy gates sessions by an explicit allow-list.
type IPAccessPolicy string

const (
	IPAccessPolicyAll        IPAccessPolicy = "all"
	IPAccessPolicyRestricted IPAccessPolicy = "restricted"
)

func (p IPAccessPolicy) Valid() bool {
	switch p {
	case IPAccessPolicyAll, IPAccessPolicyRestricted:
		return true
	}
	return false
}

// UserPreference is one row per observed Plex user id, holding the
// per-user policy overrides the engine consults ahead of global settings.
type UserPreference struct {
	ID                    int64          `json:"id"`
	UserID                string         `json:"user_id"`
	Username              string         `json:"username"`
	AvatarURL             string         `json:"avatar_url"`
	Hidden                bool           `json:"hidden"`
	DefaultBlock          *bool          `json:"default_block"`
	NetworkPolicy         NetworkPolicy  `json:"network_policy"`
	IPAccessPolicy        IPAccessPolicy `json:"ip_access_policy"`
	AllowedIPs            []string       `json:"allowed_ips"`
	ConcurrentStreamLimit *int           `json:"concurrent_stream_limit"`
}
