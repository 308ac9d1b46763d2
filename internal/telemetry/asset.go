package telemetry

import "strconv"

// Asset is a monitored site. ID addresses live telemetry and icon mappings;
// Key addresses historical reports and identifies the polling session.
type Asset struct {
	ID        int     `json:"id" yaml:"id"`
	Key       string  `json:"key" yaml:"key"`
	Name      string  `json:"name" yaml:"name"`
	URN       string  `json:"aps_urn,omitempty" yaml:"urn"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// SessionKey returns the key used to identify the asset's polling session,
// falling back to the numeric ID when no key is set.
func (a Asset) SessionKey() string {
	if a.Key != "" {
		return a.Key
	}
	if a.ID > 0 {
		return strconv.Itoa(a.ID)
	}
	return ""
}
