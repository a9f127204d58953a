package integration

import (
	"context"

	"github.com/mescon/Gatherr/internal/settings"
)

// ProbeResult is the outcome of a successful connection probe.
type ProbeResult struct {
	// Target is the origin (and endpoint variant, where applicable) that
	// answered.
	Target string
	// Detail is a short human-readable note, such as the remote version.
	Detail string
}

// Prober is one lightweight connectivity check. Every service client
// provides one; the connection tester and monitor only see this interface.
type Prober interface {
	Service() settings.Service
	Probe(ctx context.Context) (ProbeResult, error)
}

// proberFunc adapts a client probe method to the Prober interface.
type proberFunc struct {
	service settings.Service
	probe   func(ctx context.Context) (ProbeResult, error)
}

func (p proberFunc) Service() settings.Service { return p.service }

func (p proberFunc) Probe(ctx context.Context) (ProbeResult, error) { return p.probe(ctx) }

// AsProber wraps a TMDB client for the tester.
func (c *TMDBClient) AsProber() Prober {
	return proberFunc{settings.ServiceTMDB, func(ctx context.Context) (ProbeResult, error) {
		origin, err := c.Probe(ctx)
		if err != nil {
			return ProbeResult{}, err
		}
		return ProbeResult{Target: origin}, nil
	}}
}

// AsProber wraps a Plex client for the tester.
func (c *PlexClient) AsProber() Prober {
	return proberFunc{settings.ServicePlex, func(ctx context.Context) (ProbeResult, error) {
		version, err := c.Probe(ctx)
		if err != nil {
			return ProbeResult{}, err
		}
		return ProbeResult{Target: c.store.Get(settings.ServicePlex).Endpoint, Detail: version}, nil
	}}
}

// AsProber wraps an Xtream client for the tester.
func (c *XtreamClient) AsProber() Prober {
	return proberFunc{settings.ServiceIPTV, func(ctx context.Context) (ProbeResult, error) {
		info, target, err := c.Probe(ctx)
		if err != nil {
			return ProbeResult{}, err
		}
		return ProbeResult{Target: target, Detail: info.Status}, nil
	}}
}

// AsProber wraps an NZBGet client for the tester.
func (c *NZBGetClient) AsProber() Prober {
	return proberFunc{settings.ServiceNZBGet, func(ctx context.Context) (ProbeResult, error) {
		version, err := c.Version(ctx)
		if err != nil {
			return ProbeResult{}, err
		}
		return ProbeResult{Target: c.store.Get(settings.ServiceNZBGet).Endpoint, Detail: version}, nil
	}}
}

// AsProber wraps a Radarr or Sonarr client for the tester.
func (c *arrClient) AsProber() Prober {
	return proberFunc{c.service, func(ctx context.Context) (ProbeResult, error) {
		status, err := c.SystemStatus(ctx)
		if err != nil {
			return ProbeResult{}, err
		}
		return ProbeResult{Target: c.store.Get(c.service).Endpoint, Detail: status.Version}, nil
	}}
}
