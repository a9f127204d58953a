package integration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mescon/Gatherr/internal/settings"
)

// ErrNotConfigured is returned when a client is asked to do work before the
// credentials it needs have been saved. No network I/O happens in that case.
var ErrNotConfigured = errors.New("service is not configured")

func notConfigured(service settings.Service) error {
	return fmt.Errorf("%s: %w", displayName(service), ErrNotConfigured)
}

// displayName maps a service identifier to the name users see in errors.
func displayName(service settings.Service) string {
	switch service {
	case settings.ServiceTMDB:
		return "TMDB"
	case settings.ServicePlex:
		return "Plex"
	case settings.ServiceIPTV:
		return "IPTV"
	case settings.ServiceNZBGet:
		return "NZBGet"
	case settings.ServiceRadarr:
		return "Radarr"
	case settings.ServiceSonarr:
		return "Sonarr"
	}
	return string(service)
}

// UnreachableError is a transport-level failure (DNS, refused connection,
// TLS, timeout). The message is deliberately uniform so the UI can show one
// actionable line regardless of the underlying cause, which stays available
// via Unwrap.
type UnreachableError struct {
	Service settings.Service
	Target  string
	Err     error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("unable to reach %s server. Check URL, port, and network connectivity.", displayName(e.Service))
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Service    settings.Service
	Target     string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %s (%s)", displayName(e.Service), e.Status, e.Target)
}

// DecodeError is a 2xx response whose body was not the JSON we expected.
// Callers must treat it as a hard failure, never as an empty result.
type DecodeError struct {
	Service settings.Service
	Target  string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unexpected response from %s at %s: %v", displayName(e.Service), e.Target, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ProbeAttempt records the outcome of one fallback attempt.
type ProbeAttempt struct {
	Target string
	Err    error
}

// ProbeError aggregates the error of every origin (and endpoint variant)
// tried during a fallback sequence. Every address tried appears in the
// message so a user can see exactly what was attempted.
type ProbeError struct {
	Service  settings.Service
	Attempts []ProbeAttempt
}

func (e *ProbeError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%s: no origins to try", displayName(e.Service))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "all %d attempts to reach %s failed:", len(e.Attempts), displayName(e.Service))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, " [%s: %v]", a.Target, a.Err)
	}
	return b.String()
}

// Unwrap exposes the last attempt's error for errors.Is/As checks.
func (e *ProbeError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}
