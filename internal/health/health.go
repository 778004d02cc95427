// Package health implements the convergence side of a deployment:
// polling the provisioned application until it reports ready, gives a
// definitive failure signal, or a window elapses. Infrastructure success
// and application health stay separately reportable outcomes.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/logging"
	"github.com/slipway-io/slipway/internal/provider"
)

// Outcome is the terminal result of a convergence wait.
type Outcome string

const (
	Healthy   Outcome = "healthy"
	Unhealthy Outcome = "unhealthy"
	TimedOut  Outcome = "timed-out"
)

// Signal is one probe's reading.
type Signal string

const (
	// Ready means the application answered healthy.
	Ready Signal = "ready"
	// NotReady means no definitive answer yet; keep polling.
	NotReady Signal = "not-ready"
	// Failed means the application is definitively broken; polling
	// longer will not help.
	Failed Signal = "failed"
)

// Checker performs a single health probe.
type Checker interface {
	Check(ctx context.Context) (Signal, error)
}

const (
	DefaultTimeout  = 5 * time.Minute
	DefaultInterval = 10 * time.Second
)

// Poller drives a Checker at a fixed interval until a terminal outcome.
type Poller struct {
	Checker  Checker
	Timeout  time.Duration
	Interval time.Duration
}

func NewPoller(c Checker, timeout, interval time.Duration) *Poller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{Checker: c, Timeout: timeout, Interval: interval}
}

// WaitHealthy polls until the application reads Ready (Healthy), reads
// Failed (Unhealthy) or the window closes (TimedOut). Cancellation
// counts as TimedOut: absence of a signal, not a negative one. Probe
// transport errors are treated as NotReady.
func (p *Poller) WaitHealthy(ctx context.Context) Outcome {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	check := func() (Outcome, bool) {
		sig, err := p.Checker.Check(ctx)
		if err != nil {
			logging.Debug("health probe", "signal", string(sig), "err", err)
		}
		switch sig {
		case Ready:
			return Healthy, true
		case Failed:
			return Unhealthy, true
		}
		return "", false
	}

	// First probe runs immediately; the ticker paces the rest.
	if out, done := check(); done {
		return out
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return TimedOut
		case <-ticker.C:
			if out, done := check(); done {
				return out
			}
		}
	}
}

// HTTPChecker probes an HTTP health endpoint; a 200 means ready.
type HTTPChecker struct {
	URL    string
	client *http.Client
}

// NewHTTPChecker builds a checker around a retrying HTTP client. The
// client itself never retries (the poller owns pacing); it only brings
// sane transport timeouts.
func NewHTTPChecker(url string) *HTTPChecker {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.Logger = nil
	rc.HTTPClient.Timeout = 10 * time.Second
	return &HTTPChecker{URL: url, client: rc.StandardClient()}
}

func (c *HTTPChecker) Check(ctx context.Context) (Signal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return Failed, fmt.Errorf("building health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		// Connection refused and friends are normal while the app boots.
		return NotReady, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return Ready, nil
	}
	return NotReady, nil
}

// ProviderChecker asks the application's adapter instead of HTTP, for
// providers where no URL is reachable from the operator's machine yet.
type ProviderChecker struct {
	Adapter provider.Adapter
	Request provider.Request
}

// Attribute keys adapters use to report application health.
const (
	AttrHealthy = "healthy"
	AttrStatus  = "status"
)

func (c *ProviderChecker) Check(ctx context.Context) (Signal, error) {
	obs, err := c.Adapter.Describe(ctx, c.Request)
	if err != nil {
		return NotReady, nil
	}
	if !obs.Exists {
		return Failed, fmt.Errorf("application %s no longer exists", c.Request.Name)
	}
	switch {
	case obs.Attrs[AttrHealthy] == "true":
		return Ready, nil
	case obs.Attrs[AttrStatus] == "failed":
		return Failed, fmt.Errorf("application %s reports failed", c.Request.Name)
	}
	return NotReady, nil
}

// Map converts a poll outcome into the reportable health state. TimedOut
// maps to Unknown: the window closing is absence of signal.
func Map(o Outcome) ir.HealthState {
	switch o {
	case Healthy:
		return ir.HealthHealthy
	case Unhealthy:
		return ir.HealthUnhealthy
	}
	return ir.HealthUnknown
}
