// Package services holds the long-running application services that sit
// between the API layer and the integration clients: the connection tester
// and the periodic connection monitor.
package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/mescon/Gatherr/internal/domain"
	"github.com/mescon/Gatherr/internal/eventbus"
	"github.com/mescon/Gatherr/internal/integration"
	"github.com/mescon/Gatherr/internal/logger"
	"github.com/mescon/Gatherr/internal/settings"
)

// ConnectionTester runs one lightweight probe per service and records the
// outcome in the settings store. A test is idempotent: it performs exactly
// one probe (with origin fallback inside) and one state write.
type ConnectionTester struct {
	store   *settings.Store
	bus     eventbus.Publisher
	probers map[settings.Service]integration.Prober
}

// NewConnectionTester wires the tester to the store and the per-service
// probes. bus may be nil.
func NewConnectionTester(store *settings.Store, bus eventbus.Publisher, probers ...integration.Prober) *ConnectionTester {
	byService := make(map[settings.Service]integration.Prober, len(probers))
	for _, p := range probers {
		byService[p.Service()] = p
	}
	return &ConnectionTester{
		store:   store,
		bus:     bus,
		probers: byService,
	}
}

// TestResult is the outcome of one connection test.
type TestResult struct {
	Service settings.Service         `json:"service"`
	State   settings.ConnectionState `json:"state"`
	// Target is the origin that answered, empty on failure.
	Target string `json:"target,omitempty"`
	// Detail is extra probe info such as the remote version.
	Detail string `json:"detail,omitempty"`
}

// Test probes one service and persists the resulting connection state.
// A failed probe is not an error here; the failure lands in the state's
// LastError. The returned error covers unknown services and storage faults.
func (t *ConnectionTester) Test(ctx context.Context, service settings.Service) (TestResult, error) {
	prober, ok := t.probers[service]
	if !ok {
		return TestResult{}, fmt.Errorf("no connection probe for service %s", service)
	}

	result, probeErr := prober.Probe(ctx)
	connected := probeErr == nil

	lastError := ""
	if probeErr != nil {
		lastError = probeErr.Error()
	}

	previous, current, err := t.store.SetConnectionState(service, connected, lastError)
	if err != nil {
		return TestResult{}, err
	}

	if connected {
		logger.Infof("Connection test %s: ok (%s)", service, result.Target)
	} else {
		logger.Warnf("Connection test %s: failed: %v", service, probeErr)
	}

	t.publishTransitions(service, previous, current, result.Target)

	return TestResult{
		Service: service,
		State:   current,
		Target:  result.Target,
		Detail:  result.Detail,
	}, nil
}

// TestAll probes every configured service. Unconfigured services are left
// alone entirely: no probe, no state change.
func (t *ConnectionTester) TestAll(ctx context.Context) map[settings.Service]TestResult {
	results := make(map[settings.Service]TestResult)
	for _, service := range t.configuredServices() {
		result, err := t.Test(ctx, service)
		if err != nil {
			logger.Errorf("Connection test %s: %v", service, err)
			continue
		}
		results[service] = result
	}
	return results
}

func (t *ConnectionTester) configuredServices() []settings.Service {
	var configured []settings.Service
	for service := range t.probers {
		if t.store.IsConfigured(service) {
			configured = append(configured, service)
		}
	}
	sort.Slice(configured, func(i, j int) bool { return configured[i] < configured[j] })
	return configured
}

func (t *ConnectionTester) publishTransitions(service settings.Service, previous, current settings.ConnectionState, target string) {
	data := domain.ConnectionEventData{
		Service:   string(service),
		Connected: current.Connected,
		Target:    target,
		Error:     current.LastError,
		Source:    "tester",
	}

	t.publish(domain.Event{
		AggregateType: "connection",
		AggregateID:   string(service),
		EventType:     domain.ConnectionTested,
		EventData:     data.ToMap(),
	})

	// Transitions need a previous observation to compare against
	if previous.CheckedAt.IsZero() {
		return
	}
	switch {
	case previous.Connected && !current.Connected:
		t.publish(domain.Event{
			AggregateType: "connection",
			AggregateID:   string(service),
			EventType:     domain.ConnectionLost,
			EventData:     data.ToMap(),
		})
	case !previous.Connected && current.Connected:
		t.publish(domain.Event{
			AggregateType: "connection",
			AggregateID:   string(service),
			EventType:     domain.ConnectionRestored,
			EventData:     data.ToMap(),
		})
	}
}

func (t *ConnectionTester) publish(event domain.Event) {
	if t.bus == nil {
		return
	}
	if err := t.bus.Publish(event); err != nil {
		logger.Errorf("Connection tester: failed to publish %s event: %v", event.EventType, err)
	}
}
