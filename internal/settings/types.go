// Package settings manages credentials and connection state for the
// external services Gatherr talks to. Records are persisted to SQLite on
// every mutation; secret fields are encrypted at rest.
package settings

import "time"

// Service identifies one of the external services.
type Service string

const (
	ServiceTMDB   Service = "tmdb"
	ServicePlex   Service = "plex"
	ServiceIPTV   Service = "iptv"
	ServiceNZBGet Service = "nzbget"
	ServiceRadarr Service = "radarr"
	ServiceSonarr Service = "sonarr"
)

// AllServices returns every known service in a stable order.
func AllServices() []Service {
	return []Service{ServiceTMDB, ServicePlex, ServiceIPTV, ServiceNZBGet, ServiceRadarr, ServiceSonarr}
}

// IsValidService reports whether name is a known service identifier.
func IsValidService(name string) bool {
	switch Service(name) {
	case ServiceTMDB, ServicePlex, ServiceIPTV, ServiceNZBGet, ServiceRadarr, ServiceSonarr:
		return true
	}
	return false
}

// Record holds the credentials for one service. Not every field applies to
// every service: tmdb uses APIKey only, plex uses Endpoint+Token, iptv and
// nzbget use Endpoint+Username+Password, radarr and sonarr use
// Endpoint+APIKey plus the library defaults.
type Record struct {
	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// Library defaults for radarr/sonarr add operations
	QualityProfileID int    `json:"qualityProfileId,omitempty"`
	RootFolderPath   string `json:"rootFolderPath,omitempty"`
}

// Patch is a partial Record for merge-style updates. Nil fields are left
// untouched; non-nil fields replace the stored value (after trimming, and
// endpoint normalization).
type Patch struct {
	Endpoint         *string `json:"endpoint,omitempty"`
	APIKey           *string `json:"apiKey,omitempty"`
	Token            *string `json:"token,omitempty"`
	Username         *string `json:"username,omitempty"`
	Password         *string `json:"password,omitempty"`
	QualityProfileID *int    `json:"qualityProfileId,omitempty"`
	RootFolderPath   *string `json:"rootFolderPath,omitempty"`
}

// ConnectionState is the last observed reachability of a service.
// It is mutated only by the connection tester; saving credentials never
// implies a service is reachable.
type ConnectionState struct {
	Connected bool      `json:"connected"`
	LastError string    `json:"lastError,omitempty"`
	CheckedAt time.Time `json:"checkedAt,omitempty"`
}

// Redacted returns a copy of the record with secret fields masked for API
// responses and logs.
func (r Record) Redacted() Record {
	masked := r
	if masked.APIKey != "" {
		masked.APIKey = maskSecret(masked.APIKey)
	}
	if masked.Token != "" {
		masked.Token = maskSecret(masked.Token)
	}
	if masked.Password != "" {
		masked.Password = maskSecret(masked.Password)
	}
	return masked
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
