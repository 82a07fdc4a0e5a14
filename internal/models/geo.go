package models

// GeoResult is an IP-to-location lookup, surfaced as an advisory field on
// enriched session views. Never gates a policy Decision.
type GeoResult struct {
	IP      string  `json:"ip"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	City    string  `json:"city"`
	Country string  `json:"country"`
	ISP     string  `json:"isp,omitempty"`
}
