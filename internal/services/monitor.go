package services

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mescon/Gatherr/internal/config"
	"github.com/mescon/Gatherr/internal/domain"
	"github.com/mescon/Gatherr/internal/eventbus"
	"github.com/mescon/Gatherr/internal/logger"
)

// ConnectionMonitor re-tests every configured service on a cron schedule
// (GATHERR_MONITOR_CRON). With no schedule configured the monitor stays
// idle; manual tests through the API are then the only source of state
// changes.
type ConnectionMonitor struct {
	tester *ConnectionTester
	bus    eventbus.Publisher
	spec   string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewConnectionMonitor builds a monitor around the tester. spec is a
// standard five-field cron expression, empty to disable.
func NewConnectionMonitor(tester *ConnectionTester, bus eventbus.Publisher, spec string) *ConnectionMonitor {
	return &ConnectionMonitor{
		tester: tester,
		bus:    bus,
		spec:   spec,
	}
}

// Start schedules the periodic runs. A bad cron expression is an error; an
// empty one leaves the monitor disabled without error.
func (m *ConnectionMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.spec == "" {
		logger.Infof("Connection monitor disabled (no schedule configured)")
		return nil
	}
	if m.running {
		return nil
	}

	if _, err := cron.ParseStandard(m.spec); err != nil {
		return err
	}

	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.spec, m.runOnce); err != nil {
		return err
	}
	m.cron.Start()
	m.running = true

	logger.Infof("Connection monitor started (schedule: %s)", m.spec)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (m *ConnectionMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.running = false
	logger.Infof("Connection monitor stopped")
}

// RunNow triggers one sweep outside the schedule, used by the API.
func (m *ConnectionMonitor) RunNow() {
	m.runOnce()
}

func (m *ConnectionMonitor) runOnce() {
	started := time.Now()
	m.publish(domain.Event{
		AggregateType: "monitor",
		AggregateID:   "connection",
		EventType:     domain.MonitorRunStarted,
		EventData:     map[string]interface{}{"schedule": m.spec},
	})

	ctx, cancel := context.WithTimeout(context.Background(), monitorSweepTimeout())
	defer cancel()

	results := m.tester.TestAll(ctx)

	connected := 0
	for _, result := range results {
		if result.State.Connected {
			connected++
		}
	}
	logger.Infof("Connection monitor: %d/%d services connected (%s)",
		connected, len(results), time.Since(started).Round(time.Millisecond))

	m.publish(domain.Event{
		AggregateType: "monitor",
		AggregateID:   "connection",
		EventType:     domain.MonitorRunFinished,
		EventData: map[string]interface{}{
			"tested":      int64(len(results)),
			"connected":   int64(connected),
			"duration_ms": time.Since(started).Milliseconds(),
		},
	})
}

// monitorSweepTimeout bounds one full sweep. Each probe already carries the
// uniform request timeout; the sweep cap only guards against pathological
// fallback chains across many services.
func monitorSweepTimeout() time.Duration {
	return 6 * config.Get().RequestTimeout
}

func (m *ConnectionMonitor) publish(event domain.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(event); err != nil {
		logger.Errorf("Connection monitor: failed to publish %s event: %v", event.EventType, err)
	}
}
