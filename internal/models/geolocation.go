package models

import "time"

// Synthetic location values assigned to private and loopback addresses.
// No external lookup is performed for these, and the unusual login
// detector treats them as carrying no geographic signal.
const (
	LocalCountryName = "Local"
	LocalCityName    = "Local Network"
)

// GeoLocation is the resolved location and network reputation for an IP
// address, shaped after the ip-api.com response fields we consume.
type GeoLocation struct {
	IP          string    `json:"ip"`
	Country     string    `json:"country"`
	CountryCode string    `json:"country_code"`
	Region      string    `json:"region"`
	City        string    `json:"city"`
	Zip         string    `json:"zip,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Timezone    string    `json:"timezone,omitempty"`
	ISP         string    `json:"isp,omitempty"`
	Org         string    `json:"org,omitempty"`
	IsProxy     bool      `json:"is_proxy"`
	IsHosting   bool      `json:"is_hosting"`
	IsPrivate   bool      `json:"is_private"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// PrivateLocation builds the synthetic record used for non-routable IPs.
func PrivateLocation(ip string, now time.Time) *GeoLocation {
	return &GeoLocation{
		IP:         ip,
		Country:    LocalCountryName,
		City:       LocalCityName,
		IsPrivate:  true,
		ResolvedAt: now,
	}
}
