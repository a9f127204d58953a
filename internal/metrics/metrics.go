package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mescon/Gatherr/internal/domain"
	"github.com/mescon/Gatherr/internal/eventbus"
	"github.com/mescon/Gatherr/internal/logger"
)

// MetricsService exposes Prometheus metrics for Gatherr
type MetricsService struct {
	eventBus eventbus.Publisher
	registry *prometheus.Registry

	// Counters
	connectionTests       *prometheus.CounterVec
	connectionTransitions *prometheus.CounterVec
	downloadsTotal        *prometheus.CounterVec
	notificationsTotal    *prometheus.CounterVec
	mediaChanges          *prometheus.CounterVec
	watchlistChanges      *prometheus.CounterVec

	// Gauges
	connectedServices prometheus.Gauge

	// Histograms
	sweepDuration prometheus.Histogram

	// Internal tracking
	mu        sync.Mutex
	connected map[string]bool
}

// NewMetricsService creates and registers Prometheus metrics
func NewMetricsService(eb eventbus.Publisher) *MetricsService {
	m := &MetricsService{
		eventBus:  eb,
		registry:  prometheus.NewRegistry(),
		connected: make(map[string]bool),

		connectionTests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatherr_connection_tests_total",
				Help: "Total number of connection tests by service and outcome",
			},
			[]string{"service", "outcome"}, // ok, failed
		),

		connectionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatherr_connection_transitions_total",
				Help: "Total number of connection state transitions",
			},
			[]string{"service", "transition"}, // lost, restored
		),

		downloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatherr_downloads_total",
				Help: "Total number of downloads handed to the download client by outcome",
			},
			[]string{"outcome"}, // queued, failed
		),

		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatherr_notifications_total",
				Help: "Total number of notifications sent by outcome",
			},
			[]string{"outcome"}, // sent, failed
		),

		mediaChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatherr_media_changes_total",
				Help: "Total number of library additions and removals",
			},
			[]string{"action"}, // added, removed
		),

		watchlistChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatherr_watchlist_changes_total",
				Help: "Total number of watchlist additions and removals",
			},
			[]string{"action"}, // added, removed
		),

		connectedServices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatherr_connected_services",
				Help: "Number of services currently reporting a working connection",
			},
		),

		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatherr_monitor_sweep_duration_seconds",
				Help:    "Duration of scheduled connection sweeps in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
			},
		),
	}

	m.registry.MustRegister(
		m.connectionTests,
		m.connectionTransitions,
		m.downloadsTotal,
		m.notificationsTotal,
		m.mediaChanges,
		m.watchlistChanges,
		m.connectedServices,
		m.sweepDuration,
	)

	return m
}

// Start subscribes to events and updates metrics
func (m *MetricsService) Start() {
	m.eventBus.Subscribe(domain.ConnectionTested, m.handleConnectionTested)
	m.eventBus.Subscribe(domain.ConnectionLost, m.handleConnectionLost)
	m.eventBus.Subscribe(domain.ConnectionRestored, m.handleConnectionRestored)
	m.eventBus.Subscribe(domain.DownloadQueued, m.handleDownloadQueued)
	m.eventBus.Subscribe(domain.DownloadFailed, m.handleDownloadFailed)
	m.eventBus.Subscribe(domain.MediaAdded, m.handleMediaAdded)
	m.eventBus.Subscribe(domain.MediaRemoved, m.handleMediaRemoved)
	m.eventBus.Subscribe(domain.WatchlistAdded, m.handleWatchlistAdded)
	m.eventBus.Subscribe(domain.WatchlistRemoved, m.handleWatchlistRemoved)
	m.eventBus.Subscribe(domain.NotificationSent, m.handleNotificationSent)
	m.eventBus.Subscribe(domain.NotificationFailed, m.handleNotificationFailed)
	m.eventBus.Subscribe(domain.MonitorRunFinished, m.handleMonitorRunFinished)

	logger.Infof("Metrics service started")
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint
func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Event handlers

func (m *MetricsService) handleConnectionTested(event domain.Event) {
	data, ok := event.ParseConnectionEventData()
	if !ok {
		return
	}

	outcome := "ok"
	if !data.Connected {
		outcome = "failed"
	}
	m.connectionTests.WithLabelValues(data.Service, outcome).Inc()

	m.mu.Lock()
	m.connected[data.Service] = data.Connected
	count := 0
	for _, up := range m.connected {
		if up {
			count++
		}
	}
	m.connectedServices.Set(float64(count))
	m.mu.Unlock()
}

func (m *MetricsService) handleConnectionLost(event domain.Event) {
	if data, ok := event.ParseConnectionEventData(); ok {
		m.connectionTransitions.WithLabelValues(data.Service, "lost").Inc()
	}
}

func (m *MetricsService) handleConnectionRestored(event domain.Event) {
	if data, ok := event.ParseConnectionEventData(); ok {
		m.connectionTransitions.WithLabelValues(data.Service, "restored").Inc()
	}
}

func (m *MetricsService) handleDownloadQueued(event domain.Event) {
	m.downloadsTotal.WithLabelValues("queued").Inc()
}

func (m *MetricsService) handleDownloadFailed(event domain.Event) {
	m.downloadsTotal.WithLabelValues("failed").Inc()
}

func (m *MetricsService) handleMediaAdded(event domain.Event) {
	m.mediaChanges.WithLabelValues("added").Inc()
}

func (m *MetricsService) handleMediaRemoved(event domain.Event) {
	m.mediaChanges.WithLabelValues("removed").Inc()
}

func (m *MetricsService) handleWatchlistAdded(event domain.Event) {
	m.watchlistChanges.WithLabelValues("added").Inc()
}

func (m *MetricsService) handleWatchlistRemoved(event domain.Event) {
	m.watchlistChanges.WithLabelValues("removed").Inc()
}

func (m *MetricsService) handleNotificationSent(event domain.Event) {
	m.notificationsTotal.WithLabelValues("sent").Inc()
}

func (m *MetricsService) handleNotificationFailed(event domain.Event) {
	m.notificationsTotal.WithLabelValues("failed").Inc()
}

func (m *MetricsService) handleMonitorRunFinished(event domain.Event) {
	if ms, ok := event.GetInt64("duration_ms"); ok {
		m.sweepDuration.Observe(float64(ms) / 1000)
	}
}
