package settings

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mescon/Gatherr/internal/clock"
	"github.com/mescon/Gatherr/internal/config"
	"github.com/mescon/Gatherr/internal/crypto"
	"github.com/mescon/Gatherr/internal/db"
	"github.com/mescon/Gatherr/internal/domain"
	"github.com/mescon/Gatherr/internal/eventbus"
	"github.com/mescon/Gatherr/internal/logger"
)

// Store is the settings facade: it keeps the credential records and
// connection state for every service in memory, persists each mutation to
// SQLite immediately, and publishes settings events on the bus.
type Store struct {
	mu       sync.RWMutex
	database *sql.DB
	bus      eventbus.Publisher
	clk      clock.Clock

	records map[Service]Record
	states  map[Service]ConnectionState
}

// NewStore creates a Store backed by the given database and loads any
// persisted records. bus may be nil (no events are published then).
func NewStore(database *sql.DB, bus eventbus.Publisher, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	s := &Store{
		database: database,
		bus:      bus,
		clk:      clk,
		records:  make(map[Service]Record),
		states:   make(map[Service]ConnectionState),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads all persisted records and connection states into memory.
func (s *Store) load() error {
	rows, err := s.database.Query("SELECT service, record FROM service_settings")
	if err != nil {
		return fmt.Errorf("failed to load service settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var service, recordJSON string
		if err := rows.Scan(&service, &recordJSON); err != nil {
			return fmt.Errorf("failed to scan service settings row: %w", err)
		}
		if !IsValidService(service) {
			logger.Warnf("Settings: skipping unknown service %q in database", service)
			continue
		}

		var record Record
		if err := json.Unmarshal([]byte(recordJSON), &record); err != nil {
			logger.Errorf("Settings: corrupt record for %s, ignoring: %v", service, err)
			continue
		}
		decrypted, err := decryptRecord(record)
		if err != nil {
			logger.Errorf("Settings: failed to decrypt secrets for %s, ignoring record: %v", service, err)
			continue
		}
		s.records[Service(service)] = decrypted
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate service settings: %w", err)
	}

	stateRows, err := s.database.Query("SELECT service, is_connected, last_error, checked_at FROM connection_state")
	if err != nil {
		return fmt.Errorf("failed to load connection state: %w", err)
	}
	defer stateRows.Close()

	for stateRows.Next() {
		var service, lastError string
		var isConnected int
		var checkedAt sql.NullTime
		if err := stateRows.Scan(&service, &isConnected, &lastError, &checkedAt); err != nil {
			return fmt.Errorf("failed to scan connection state row: %w", err)
		}
		if !IsValidService(service) {
			continue
		}
		state := ConnectionState{
			Connected: isConnected != 0,
			LastError: lastError,
		}
		if checkedAt.Valid {
			state.CheckedAt = checkedAt.Time
		}
		s.states[Service(service)] = state
	}
	return stateRows.Err()
}

// Get returns the stored record for a service. The zero Record is returned
// for services that have never been configured.
func (s *Store) Get(service Service) Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[service]
}

// State returns the connection state for a service. Services never tested
// report disconnected with no error.
func (s *Store) State(service Service) ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[service]
}

// AllStates returns a snapshot of every service's connection state.
func (s *Store) AllStates() map[Service]ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make(map[Service]ConnectionState, len(AllServices()))
	for _, service := range AllServices() {
		states[service] = s.states[service]
	}
	return states
}

// IsConfigured reports whether every credential the service requires is
// present. The request clients refuse to touch the network otherwise.
// TMDB counts as configured when GATHERR_TMDB_API_KEY is set even without a
// stored key, matching the key resolution order the catalog client uses.
func (s *Store) IsConfigured(service Service) bool {
	record := s.Get(service)
	switch service {
	case ServiceTMDB:
		return record.APIKey != "" || config.Get().TMDBAPIKey != ""
	case ServicePlex:
		return record.Endpoint != "" && record.Token != ""
	case ServiceIPTV, ServiceNZBGet:
		return record.Endpoint != "" && record.Username != "" && record.Password != ""
	case ServiceRadarr, ServiceSonarr:
		return record.Endpoint != "" && record.APIKey != ""
	}
	return false
}

// Update merges a partial record into the stored one. String fields are
// trimmed, the endpoint is normalized, and the result is persisted before
// this returns. Returns the merged record.
func (s *Store) Update(service Service, patch Patch) (Record, error) {
	if !IsValidService(string(service)) {
		return Record{}, fmt.Errorf("unknown service: %s", service)
	}

	s.mu.Lock()
	record := s.records[service]
	var changed []string

	if patch.Endpoint != nil {
		record.Endpoint = NormalizeEndpoint(*patch.Endpoint)
		changed = append(changed, "endpoint")
	}
	if patch.APIKey != nil {
		record.APIKey = strings.TrimSpace(*patch.APIKey)
		changed = append(changed, "apiKey")
	}
	if patch.Token != nil {
		record.Token = strings.TrimSpace(*patch.Token)
		changed = append(changed, "token")
	}
	if patch.Username != nil {
		record.Username = strings.TrimSpace(*patch.Username)
		changed = append(changed, "username")
	}
	if patch.Password != nil {
		record.Password = strings.TrimSpace(*patch.Password)
		changed = append(changed, "password")
	}
	if patch.QualityProfileID != nil {
		record.QualityProfileID = *patch.QualityProfileID
		changed = append(changed, "qualityProfileId")
	}
	if patch.RootFolderPath != nil {
		record.RootFolderPath = strings.TrimSpace(*patch.RootFolderPath)
		changed = append(changed, "rootFolderPath")
	}

	if err := s.persistLocked(service, record); err != nil {
		s.mu.Unlock()
		return Record{}, err
	}
	s.records[service] = record
	s.mu.Unlock()

	s.publish(domain.Event{
		AggregateType: "settings",
		AggregateID:   string(service),
		EventType:     domain.SettingsUpdated,
		EventData: map[string]interface{}{
			"service": string(service),
			"fields":  changed,
		},
	})

	return record, nil
}

// Reset clears one service's credentials and connection state. Other
// services are untouched.
func (s *Store) Reset(service Service) error {
	if !IsValidService(string(service)) {
		return fmt.Errorf("unknown service: %s", service)
	}

	s.mu.Lock()
	if _, err := db.ExecWithRetry(s.database, "DELETE FROM service_settings WHERE service = ?", string(service)); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to delete settings for %s: %w", service, err)
	}
	if _, err := db.ExecWithRetry(s.database, "DELETE FROM connection_state WHERE service = ?", string(service)); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to delete connection state for %s: %w", service, err)
	}
	delete(s.records, service)
	delete(s.states, service)
	s.mu.Unlock()

	s.publish(domain.Event{
		AggregateType: "settings",
		AggregateID:   string(service),
		EventType:     domain.SettingsReset,
		EventData:     map[string]interface{}{"service": string(service)},
	})
	return nil
}

// ResetAll clears every service's credentials and connection state.
func (s *Store) ResetAll() error {
	s.mu.Lock()
	if _, err := db.ExecWithRetry(s.database, "DELETE FROM service_settings"); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to delete settings: %w", err)
	}
	if _, err := db.ExecWithRetry(s.database, "DELETE FROM connection_state"); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to delete connection state: %w", err)
	}
	s.records = make(map[Service]Record)
	s.states = make(map[Service]ConnectionState)
	s.mu.Unlock()

	s.publish(domain.Event{
		AggregateType: "settings",
		AggregateID:   "all",
		EventType:     domain.SettingsResetAll,
		EventData:     map[string]interface{}{"service": "all"},
	})
	return nil
}

// SetConnectionState records a connection test outcome. Only the connection
// tester calls this. Returns the previous state so callers can detect
// lost/restored transitions.
func (s *Store) SetConnectionState(service Service, connected bool, lastError string) (previous, current ConnectionState, err error) {
	if !IsValidService(string(service)) {
		return ConnectionState{}, ConnectionState{}, fmt.Errorf("unknown service: %s", service)
	}
	if connected {
		lastError = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous = s.states[service]
	current = ConnectionState{
		Connected: connected,
		LastError: lastError,
		CheckedAt: s.clk.Now().UTC(),
	}

	isConnected := 0
	if connected {
		isConnected = 1
	}
	_, err = db.ExecWithRetry(s.database, `
		INSERT INTO connection_state (service, is_connected, last_error, checked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET
			is_connected = excluded.is_connected,
			last_error = excluded.last_error,
			checked_at = excluded.checked_at
	`, string(service), isConnected, lastError, current.CheckedAt.Format(time.RFC3339))
	if err != nil {
		return ConnectionState{}, ConnectionState{}, fmt.Errorf("failed to persist connection state for %s: %w", service, err)
	}

	s.states[service] = current
	return previous, current, nil
}

// persistLocked writes a record to the database. Caller holds s.mu.
func (s *Store) persistLocked(service Service, record Record) error {
	encrypted, err := encryptRecord(record)
	if err != nil {
		return fmt.Errorf("failed to encrypt secrets for %s: %w", service, err)
	}
	recordJSON, err := json.Marshal(encrypted)
	if err != nil {
		return fmt.Errorf("failed to marshal record for %s: %w", service, err)
	}

	_, err = db.ExecWithRetry(s.database, `
		INSERT INTO service_settings (service, record, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(service) DO UPDATE SET
			record = excluded.record,
			updated_at = CURRENT_TIMESTAMP
	`, string(service), string(recordJSON))
	if err != nil {
		return fmt.Errorf("failed to persist settings for %s: %w", service, err)
	}
	return nil
}

func (s *Store) publish(event domain.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(event); err != nil {
		logger.Errorf("Settings: failed to publish %s event: %v", event.EventType, err)
	}
}

// encryptRecord encrypts the secret fields of a record for storage.
func encryptRecord(record Record) (Record, error) {
	var err error
	if record.APIKey != "" {
		if record.APIKey, err = crypto.Encrypt(record.APIKey); err != nil {
			return Record{}, err
		}
	}
	if record.Token != "" {
		if record.Token, err = crypto.Encrypt(record.Token); err != nil {
			return Record{}, err
		}
	}
	if record.Password != "" {
		if record.Password, err = crypto.Encrypt(record.Password); err != nil {
			return Record{}, err
		}
	}
	return record, nil
}

// decryptRecord reverses encryptRecord. Plaintext values pass through for
// databases written before an encryption key was configured.
func decryptRecord(record Record) (Record, error) {
	var err error
	if record.APIKey != "" {
		if record.APIKey, err = crypto.Decrypt(record.APIKey); err != nil {
			return Record{}, err
		}
	}
	if record.Token != "" {
		if record.Token, err = crypto.Decrypt(record.Token); err != nil {
			return Record{}, err
		}
	}
	if record.Password != "" {
		if record.Password, err = crypto.Decrypt(record.Password); err != nil {
			return Record{}, err
		}
	}
	return record, nil
}
