package configstore

// Recognized configuration keys (spec.md §6), stored as rows in the
// settings table and admin-editable at runtime.
const (
	KeyPlexServerIP   = "PLEX_SERVER_IP"
	KeyPlexServerPort = "PLEX_SERVER_PORT"
	KeyPlexToken      = "PLEX_TOKEN"
	KeyUseSSL         = "USE_SSL"
	KeyIgnoreSSLErrs  = "IGNORE_SSL_ERRORS"

	KeyRefreshInterval = "PLEXGUARD_REFRESH_INTERVAL"
	KeyDefaultBlock    = "PLEX_GUARD_DEFAULT_BLOCK"
	KeyStrictMode      = "STRICT_MODE"

	KeyConcurrentStreamLimit       = "CONCURRENT_STREAM_LIMIT"
	KeyConcurrentLimitIncludesTemp = "CONCURRENT_LIMIT_INCLUDE_TEMP_ACCESS"

	KeyDeviceCleanupEnabled      = "DEVICE_CLEANUP_ENABLED"
	KeyDeviceCleanupIntervalDays = "DEVICE_CLEANUP_INTERVAL_DAYS"

	KeyTimezone = "TIMEZONE"

	KeyMsgDevicePending   = "MSG_DEVICE_PENDING"
	KeyMsgDeviceRejected  = "MSG_DEVICE_REJECTED"
	KeyMsgTimeRestricted  = "MSG_TIME_RESTRICTED"
	KeyMsgConcurrentLimit = "MSG_CONCURRENT_LIMIT"
	KeyMsgIPLANOnly       = "MSG_IP_LAN_ONLY"
	KeyMsgIPWANOnly       = "MSG_IP_WAN_ONLY"
	KeyMsgIPNotAllowed    = "MSG_IP_NOT_ALLOWED"
)

// Default reason strings, used when an admin hasn't overridden a message key.
const (
	defaultMsgDevicePending   = "Your device is pending administrator approval."
	defaultMsgDeviceRejected  = "Your device has been rejected by the administrator."
	defaultMsgTimeRestricted  = "Streaming is not permitted at this time."
	defaultMsgConcurrentLimit = "Too many simultaneous streams for your account."
	defaultMsgIPLANOnly       = "This account may only stream from the home network."
	defaultMsgIPWANOnly       = "This account may only stream from outside the home network."
	defaultMsgIPNotAllowed    = "Streaming is not permitted from this network."
)

// PolicyConfig is the snapshot of global policy settings the engine consults
// once per tick, resolved ahead of any per-user override.
type PolicyConfig struct {
	DefaultBlock                 bool
	StrictMode                   bool
	ConcurrentStreamLimit        int
	ConcurrentLimitIncludesTemp  bool
	DeviceCleanupEnabled         bool
	DeviceCleanupIntervalDays    int
	Timezone                     string

	MsgDevicePending   string
	MsgDeviceRejected  string
	MsgTimeRestricted  string
	MsgConcurrentLimit string
	MsgIPLANOnly       string
	MsgIPWANOnly       string
	MsgIPNotAllowed    string
}

// LoadPolicyConfig reads every recognized policy key, falling back to
// documented defaults for anything unset.
func (s *Store) LoadPolicyConfig() PolicyConfig {
	return PolicyConfig{
		DefaultBlock:                s.GetBool(KeyDefaultBlock, false),
		StrictMode:                  s.GetBool(KeyStrictMode, false),
		ConcurrentStreamLimit:       s.GetInt(KeyConcurrentStreamLimit, 0),
		ConcurrentLimitIncludesTemp: s.GetBool(KeyConcurrentLimitIncludesTemp, false),
		DeviceCleanupEnabled:        s.GetBool(KeyDeviceCleanupEnabled, true),
		DeviceCleanupIntervalDays:   s.GetInt(KeyDeviceCleanupIntervalDays, 30),
		Timezone:                    s.GetString(KeyTimezone, "+00:00"),

		MsgDevicePending:   s.GetString(KeyMsgDevicePending, defaultMsgDevicePending),
		MsgDeviceRejected:  s.GetString(KeyMsgDeviceRejected, defaultMsgDeviceRejected),
		MsgTimeRestricted:  s.GetString(KeyMsgTimeRestricted, defaultMsgTimeRestricted),
		MsgConcurrentLimit: s.GetString(KeyMsgConcurrentLimit, defaultMsgConcurrentLimit),
		MsgIPLANOnly:       s.GetString(KeyMsgIPLANOnly, defaultMsgIPLANOnly),
		MsgIPWANOnly:       s.GetString(KeyMsgIPWANOnly, defaultMsgIPWANOnly),
		MsgIPNotAllowed:    s.GetString(KeyMsgIPNotAllowed, defaultMsgIPNotAllowed),
	}
}
