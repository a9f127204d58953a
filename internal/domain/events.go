package domain

import (
	"time"
)

type EventType string

const (
	SettingsUpdated    EventType = "SettingsUpdated"
	SettingsReset      EventType = "SettingsReset"
	SettingsResetAll   EventType = "SettingsResetAll"
	ConnectionTested   EventType = "ConnectionTested"
	ConnectionLost     EventType = "ConnectionLost"
	ConnectionRestored EventType = "ConnectionRestored"
	DownloadQueued     EventType = "DownloadQueued"
	DownloadFailed     EventType = "DownloadFailed"
	MediaAdded         EventType = "MediaAdded"
	MediaRemoved       EventType = "MediaRemoved"
	WatchlistAdded     EventType = "WatchlistAdded"
	WatchlistRemoved   EventType = "WatchlistRemoved"
	NotificationSent   EventType = "NotificationSent"
	NotificationFailed EventType = "NotificationFailed"
	MonitorRunStarted  EventType = "MonitorRunStarted"
	MonitorRunFinished EventType = "MonitorRunFinished"
)

type Event struct {
	ID            int64                  `json:"id"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	EventType     EventType              `json:"event_type"`
	EventData     map[string]interface{} `json:"event_data"`
	EventVersion  int                    `json:"event_version"`
	CreatedAt     time.Time              `json:"created_at"`
	UserID        string                 `json:"user_id,omitempty"`
}

// =============================================================================
// Type-safe event data accessors
// These helpers provide compile-time safety when extracting data from events.
// =============================================================================

// GetString safely extracts a string field from EventData.
// Returns the value and true if found and is a string, otherwise empty string and false.
func (e *Event) GetString(key string) (string, bool) {
	if e.EventData == nil {
		return "", false
	}
	v, ok := e.EventData[key].(string)
	return v, ok
}

// GetStringOr extracts a string field or returns the default value.
func (e *Event) GetStringOr(key, defaultVal string) string {
	if v, ok := e.GetString(key); ok {
		return v
	}
	return defaultVal
}

// GetInt64 safely extracts an int64 field from EventData.
// Handles both int64 and float64 (JSON unmarshaling produces float64).
func (e *Event) GetInt64(key string) (int64, bool) {
	if e.EventData == nil {
		return 0, false
	}
	switch v := e.EventData[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// GetInt64Or extracts an int64 field or returns the default value.
func (e *Event) GetInt64Or(key string, defaultVal int64) int64 {
	if v, ok := e.GetInt64(key); ok {
		return v
	}
	return defaultVal
}

// GetBool safely extracts a bool field from EventData.
func (e *Event) GetBool(key string) (bool, bool) {
	if e.EventData == nil {
		return false, false
	}
	v, ok := e.EventData[key].(bool)
	return v, ok
}

// GetBoolOr extracts a bool field or returns the default value.
func (e *Event) GetBoolOr(key string, defaultVal bool) bool {
	if v, ok := e.GetBool(key); ok {
		return v
	}
	return defaultVal
}

// GetMap safely extracts a nested map from EventData.
func (e *Event) GetMap(key string) (map[string]interface{}, bool) {
	if e.EventData == nil {
		return nil, false
	}
	v, ok := e.EventData[key].(map[string]interface{})
	return v, ok
}

// =============================================================================
// Typed event data structures for common events
// =============================================================================

// ConnectionEventData contains data for ConnectionTested/Lost/Restored events.
type ConnectionEventData struct {
	Service   string `json:"service"`
	Connected bool   `json:"connected"`
	Target    string `json:"target,omitempty"`
	Error     string `json:"error,omitempty"`
	Origin    string `json:"origin,omitempty"`
	Source    string `json:"source,omitempty"` // "tester", "monitor"
}

// ToMap converts the data to the generic EventData shape.
func (d ConnectionEventData) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"service":   d.Service,
		"connected": d.Connected,
	}
	if d.Target != "" {
		m["target"] = d.Target
	}
	if d.Error != "" {
		m["error"] = d.Error
	}
	if d.Origin != "" {
		m["origin"] = d.Origin
	}
	if d.Source != "" {
		m["source"] = d.Source
	}
	return m
}

// ParseConnectionEventData extracts typed connection data from an event.
func (e *Event) ParseConnectionEventData() (ConnectionEventData, bool) {
	service, ok := e.GetString("service")
	if !ok {
		return ConnectionEventData{}, false
	}
	return ConnectionEventData{
		Service:   service,
		Connected: e.GetBoolOr("connected", false),
		Target:    e.GetStringOr("target", ""),
		Error:     e.GetStringOr("error", ""),
		Origin:    e.GetStringOr("origin", ""),
		Source:    e.GetStringOr("source", ""),
	}, true
}

// SettingsEventData contains data for SettingsUpdated/SettingsReset events.
// Field names only, never credential values.
type SettingsEventData struct {
	Service string   `json:"service"`
	Fields  []string `json:"fields,omitempty"`
}

// ParseSettingsEventData extracts typed settings data from an event.
func (e *Event) ParseSettingsEventData() (SettingsEventData, bool) {
	service, ok := e.GetString("service")
	if !ok {
		return SettingsEventData{}, false
	}
	d := SettingsEventData{Service: service}
	if raw, ok := e.EventData["fields"].([]interface{}); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				d.Fields = append(d.Fields, s)
			}
		}
	} else if fields, ok := e.EventData["fields"].([]string); ok {
		d.Fields = fields
	}
	return d, true
}

// DownloadEventData contains data for DownloadQueued/DownloadFailed events.
type DownloadEventData struct {
	Service  string `json:"service"` // "nzbget", "radarr", "sonarr"
	Title    string `json:"title"`
	QueueID  int64  `json:"queue_id,omitempty"`
	Category string `json:"category,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ToMap converts the data to the generic EventData shape.
func (d DownloadEventData) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"service": d.Service,
		"title":   d.Title,
	}
	if d.QueueID != 0 {
		m["queue_id"] = d.QueueID
	}
	if d.Category != "" {
		m["category"] = d.Category
	}
	if d.Error != "" {
		m["error"] = d.Error
	}
	return m
}

// ParseDownloadEventData extracts typed download data from an event.
func (e *Event) ParseDownloadEventData() (DownloadEventData, bool) {
	service, ok := e.GetString("service")
	if !ok {
		return DownloadEventData{}, false
	}
	return DownloadEventData{
		Service:  service,
		Title:    e.GetStringOr("title", ""),
		QueueID:  e.GetInt64Or("queue_id", 0),
		Category: e.GetStringOr("category", ""),
		Error:    e.GetStringOr("error", ""),
	}, true
}
