package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/Gatherr/internal/config"
	"github.com/mescon/Gatherr/internal/db"
	"github.com/mescon/Gatherr/internal/domain"
	"github.com/mescon/Gatherr/internal/eventbus"
	"github.com/mescon/Gatherr/internal/integration"
	"github.com/mescon/Gatherr/internal/settings"
)

func TestMain(m *testing.M) {
	config.SetForTesting(config.NewTestConfig())
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) *settings.Store {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "gatherr-services-test-*")
	require.NoError(t, err)

	repo, err := db.NewRepository(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)

	store, err := settings.NewStore(repo.DB, nil, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	})
	return store
}

// recordingBus captures published events without a database.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Subscribe(eventType domain.EventType, handler func(domain.Event)) {}

func (b *recordingBus) ofType(eventType domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var matched []domain.Event
	for _, e := range b.events {
		if e.EventType == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

// fakeProber is a scriptable probe for one service.
type fakeProber struct {
	service settings.Service
	mu      sync.Mutex
	err     error
	result  integration.ProbeResult
	calls   int
}

func (p *fakeProber) Service() settings.Service { return p.service }

func (p *fakeProber) Probe(ctx context.Context) (integration.ProbeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return integration.ProbeResult{}, p.err
	}
	return p.result, nil
}

func (p *fakeProber) set(result integration.ProbeResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result, p.err = result, err
}

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func allFakeProbers() map[settings.Service]*fakeProber {
	probers := make(map[settings.Service]*fakeProber)
	for _, service := range settings.AllServices() {
		probers[service] = &fakeProber{
			service: service,
			result:  integration.ProbeResult{Target: "http://" + string(service) + ".local"},
		}
	}
	return probers
}

func newTester(store *settings.Store, bus *recordingBus, probers map[settings.Service]*fakeProber) *ConnectionTester {
	var list []integration.Prober
	for _, p := range probers {
		list = append(list, p)
	}
	// Avoid wrapping a nil *recordingBus in a non-nil interface, which
	// would defeat NewConnectionTester's nil-bus guard.
	var pub eventbus.Publisher
	if bus != nil {
		pub = bus
	}
	return NewConnectionTester(store, pub, list...)
}

func TestTester_TransitionsEveryService(t *testing.T) {
	store := newTestStore(t)
	probers := allFakeProbers()
	tester := newTester(store, nil, probers)
	ctx := context.Background()

	for _, service := range settings.AllServices() {
		t.Run(string(service), func(t *testing.T) {
			// Successful probe connects and clears the error
			result, err := tester.Test(ctx, service)
			require.NoError(t, err)
			assert.True(t, result.State.Connected)
			assert.Empty(t, result.State.LastError)
			assert.False(t, result.State.CheckedAt.IsZero())

			// Failed probe disconnects with a non-empty error
			probers[service].set(integration.ProbeResult{}, errors.New("unreachable"))
			result, err = tester.Test(ctx, service)
			require.NoError(t, err)
			assert.False(t, result.State.Connected)
			assert.NotEmpty(t, result.State.LastError)

			// Recovery clears the error again
			probers[service].set(integration.ProbeResult{Target: "http://x"}, nil)
			result, err = tester.Test(ctx, service)
			require.NoError(t, err)
			assert.True(t, result.State.Connected)
			assert.Empty(t, result.State.LastError)

			// State is persisted through the store
			state := store.State(service)
			assert.True(t, state.Connected)
		})
	}
}

func TestTester_ExactlyOneProbePerTest(t *testing.T) {
	store := newTestStore(t)
	probers := allFakeProbers()
	tester := newTester(store, nil, probers)

	_, err := tester.Test(context.Background(), settings.ServiceRadarr)
	require.NoError(t, err)
	assert.Equal(t, 1, probers[settings.ServiceRadarr].callCount())

	for service, p := range probers {
		if service != settings.ServiceRadarr {
			assert.Zero(t, p.callCount(), "service %s must not be probed", service)
		}
	}
}

func TestTester_UnknownService(t *testing.T) {
	store := newTestStore(t)
	tester := NewConnectionTester(store, nil)

	_, err := tester.Test(context.Background(), settings.ServicePlex)
	assert.Error(t, err)
}

func TestTester_PublishesTransitionEvents(t *testing.T) {
	store := newTestStore(t)
	bus := &recordingBus{}
	probers := allFakeProbers()
	tester := newTester(store, bus, probers)
	ctx := context.Background()

	// First test: tested event only, no transition (no previous observation)
	_, err := tester.Test(ctx, settings.ServicePlex)
	require.NoError(t, err)
	assert.Len(t, bus.ofType(domain.ConnectionTested), 1)
	assert.Empty(t, bus.ofType(domain.ConnectionLost))
	assert.Empty(t, bus.ofType(domain.ConnectionRestored))

	// Going down publishes ConnectionLost
	probers[settings.ServicePlex].set(integration.ProbeResult{}, errors.New("down"))
	_, err = tester.Test(ctx, settings.ServicePlex)
	require.NoError(t, err)
	lost := bus.ofType(domain.ConnectionLost)
	require.Len(t, lost, 1)
	data, ok := lost[0].ParseConnectionEventData()
	require.True(t, ok)
	assert.Equal(t, "plex", data.Service)
	assert.False(t, data.Connected)
	assert.Equal(t, "down", data.Error)

	// Staying down publishes no second transition
	_, err = tester.Test(ctx, settings.ServicePlex)
	require.NoError(t, err)
	assert.Len(t, bus.ofType(domain.ConnectionLost), 1)

	// Coming back publishes ConnectionRestored
	probers[settings.ServicePlex].set(integration.ProbeResult{Target: "http://plex.local"}, nil)
	_, err = tester.Test(ctx, settings.ServicePlex)
	require.NoError(t, err)
	restored := bus.ofType(domain.ConnectionRestored)
	require.Len(t, restored, 1)
}

func TestTesterTestAll_SkipsUnconfigured(t *testing.T) {
	store := newTestStore(t)
	probers := allFakeProbers()
	tester := newTester(store, nil, probers)

	endpoint := "http://radarr.local:7878"
	key := "k"
	_, err := store.Update(settings.ServiceRadarr, settings.Patch{Endpoint: &endpoint, APIKey: &key})
	require.NoError(t, err)

	results := tester.TestAll(context.Background())
	require.Len(t, results, 1)
	assert.Contains(t, results, settings.ServiceRadarr)

	for service, p := range probers {
		if service == settings.ServiceRadarr {
			assert.Equal(t, 1, p.callCount())
		} else {
			assert.Zero(t, p.callCount(), "unconfigured %s must not be probed", service)
		}
	}

	// Unconfigured services keep their zero state
	assert.Equal(t, settings.ConnectionState{}, store.State(settings.ServicePlex))
}

func TestTesterTestAll_TMDBEnvKeyCounts(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.TMDBAPIKey = "env-key"
	config.SetForTesting(cfg)
	defer config.SetForTesting(config.NewTestConfig())

	store := newTestStore(t)
	probers := allFakeProbers()
	tester := newTester(store, nil, probers)

	// No stored TMDB record, the environment key alone makes it testable
	results := tester.TestAll(context.Background())
	require.Len(t, results, 1)
	assert.Contains(t, results, settings.ServiceTMDB)
	assert.Equal(t, 1, probers[settings.ServiceTMDB].callCount())
	assert.True(t, store.State(settings.ServiceTMDB).Connected)
}

func TestMonitor_DisabledWithoutSchedule(t *testing.T) {
	store := newTestStore(t)
	tester := newTester(store, nil, allFakeProbers())

	monitor := NewConnectionMonitor(tester, nil, "")
	require.NoError(t, monitor.Start())
	monitor.Stop()
}

func TestMonitor_InvalidSchedule(t *testing.T) {
	store := newTestStore(t)
	tester := newTester(store, nil, allFakeProbers())

	monitor := NewConnectionMonitor(tester, nil, "not a cron spec")
	assert.Error(t, monitor.Start())
}

func TestMonitor_RunNowSweepsConfiguredServices(t *testing.T) {
	store := newTestStore(t)
	bus := &recordingBus{}
	probers := allFakeProbers()
	tester := newTester(store, bus, probers)

	endpoint := "http://sonarr.local:8989"
	key := "k"
	_, err := store.Update(settings.ServiceSonarr, settings.Patch{Endpoint: &endpoint, APIKey: &key})
	require.NoError(t, err)

	monitor := NewConnectionMonitor(tester, bus, "*/5 * * * *")
	monitor.RunNow()

	assert.Equal(t, 1, probers[settings.ServiceSonarr].callCount())
	assert.Len(t, bus.ofType(domain.MonitorRunStarted), 1)

	finished := bus.ofType(domain.MonitorRunFinished)
	require.Len(t, finished, 1)
	assert.EqualValues(t, 1, finished[0].GetInt64Or("tested", -1))
	assert.EqualValues(t, 1, finished[0].GetInt64Or("connected", -1))
	assert.True(t, store.State(settings.ServiceSonarr).Connected)
}
