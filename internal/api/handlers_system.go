package api

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Gatherr/internal/config"
	"github.com/mescon/Gatherr/internal/settings"
)

// handleHealth is the liveness endpoint. It reports overall status degraded
// when the database is unreachable; service connection states are
// informational and do not affect the status.
func (s *RESTServer) handleHealth(c *gin.Context) {
	status := "ok"
	database := "ok"
	if err := s.db.Ping(); err != nil {
		status = "degraded"
		database = err.Error()
	}

	connected := 0
	states := s.store.AllStates()
	for _, state := range states {
		if state.Connected {
			connected++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":             status,
		"version":            config.Version,
		"database":           database,
		"uptime_seconds":     int64(time.Since(s.startTime).Seconds()),
		"connected_services": connected,
		"websocket_clients":  s.hub.ClientCount(),
	})
}

// SystemInfo contains runtime environment information
type SystemInfo struct {
	Version     string           `json:"version"`
	Environment string           `json:"environment"` // "docker" or "native"
	OS          string           `json:"os"`
	Arch        string           `json:"arch"`
	GoVersion   string           `json:"go_version"`
	Uptime      string           `json:"uptime"`
	UptimeSecs  int64            `json:"uptime_seconds"`
	StartedAt   time.Time        `json:"started_at"`
	Config      SystemConfigInfo `json:"config"`
	Services    []ServiceInfo    `json:"services"`
	Links       SystemLinks      `json:"links"`
}

// SystemConfigInfo contains configuration details
type SystemConfigInfo struct {
	Port           string `json:"port"`
	BasePath       string `json:"base_path"`
	BasePathSource string `json:"base_path_source"`
	LogLevel       string `json:"log_level"`
	DataDir        string `json:"data_dir"`
	DatabasePath   string `json:"database_path"`
	LogDir         string `json:"log_dir"`
	RequestTimeout string `json:"request_timeout"`
	MonitorCron    string `json:"monitor_cron"`
}

// ServiceInfo is one service's configuration and connection summary.
type ServiceInfo struct {
	Service    settings.Service `json:"service"`
	Configured bool             `json:"configured"`
	Connected  bool             `json:"connected"`
}

// SystemLinks contains useful links
type SystemLinks struct {
	GitHub   string `json:"github"`
	Issues   string `json:"issues"`
	Releases string `json:"releases"`
}

// handleSystemInfo returns runtime environment information
func (s *RESTServer) handleSystemInfo(c *gin.Context) {
	cfg := config.Get()
	uptime := time.Since(s.startTime)

	// Determine environment
	environment := "native"
	if isDockerEnvironment() {
		environment = "docker"
	}

	// Format uptime
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	var uptimeStr string
	if days > 0 {
		uptimeStr = fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	} else if hours > 0 {
		uptimeStr = fmt.Sprintf("%dh %dm", hours, minutes)
	} else {
		uptimeStr = fmt.Sprintf("%dm", minutes)
	}

	servicesInfo := make([]ServiceInfo, 0, len(settings.AllServices()))
	for _, service := range settings.AllServices() {
		servicesInfo = append(servicesInfo, ServiceInfo{
			Service:    service,
			Configured: s.store.IsConfigured(service),
			Connected:  s.store.State(service).Connected,
		})
	}

	info := SystemInfo{
		Version:     config.Version,
		Environment: environment,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GoVersion:   runtime.Version(),
		Uptime:      uptimeStr,
		UptimeSecs:  int64(uptime.Seconds()),
		StartedAt:   s.startTime,
		Config: SystemConfigInfo{
			Port:           cfg.Port,
			BasePath:       cfg.BasePath,
			BasePathSource: cfg.BasePathSource,
			LogLevel:       cfg.LogLevel,
			DataDir:        cfg.DataDir,
			DatabasePath:   cfg.DatabasePath,
			LogDir:         cfg.LogDir,
			RequestTimeout: cfg.RequestTimeout.String(),
			MonitorCron:    cfg.MonitorCron,
		},
		Services: servicesInfo,
		Links: SystemLinks{
			GitHub:   "https://github.com/mescon/Gatherr",
			Issues:   "https://github.com/mescon/Gatherr/issues",
			Releases: "https://github.com/mescon/Gatherr/releases",
		},
	}

	c.JSON(http.StatusOK, info)
}

// isDockerEnvironment checks if we're running inside a Docker container
func isDockerEnvironment() bool {
	// Check for .dockerenv file
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	// Check cgroup for docker/containerd
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		if strings.Contains(content, "docker") || strings.Contains(content, "containerd") {
			return true
		}
	}

	// Check for /run/.containerenv (podman)
	if _, err := os.Stat("/run/.containerenv"); err == nil {
		return true
	}

	return false
}
