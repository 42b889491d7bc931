// Package connectivity tells the sync engine whether the remote
// authority is reachable.
//
// The engine only consumes the Monitor interface. In the absence of an
// explicit signal the engine assumes it is online; the probe monitor
// below upgrades that assumption to an actual periodic health check.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Monitor reports the current online/offline state and notifies
// subscribers on transitions.
type Monitor interface {
	// Online reports whether the remote authority is believed reachable.
	Online() bool

	// Subscribe registers a callback invoked on every online/offline
	// transition. The returned function unregisters it.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Manual is a Monitor whose state is set explicitly. It is the default
// monitor (permanently online until told otherwise) and the one tests
// use to simulate connectivity loss.
type Manual struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(online bool)
}

// NewManual creates a manual monitor in the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{
		online: online,
		subs:   make(map[int]func(online bool)),
	}
}

// Online implements Monitor.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set updates the state and notifies subscribers if it changed.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online

	subs := make([]func(online bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	// Notify outside the lock so callbacks may call back into the monitor.
	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe implements Monitor.
func (m *Manual) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// ProbeConfig configures the probing monitor.
type ProbeConfig struct {
	// HealthURL is the endpoint probed for reachability.
	HealthURL string

	// Interval is how often to probe (default: 30s).
	Interval time.Duration

	// Timeout bounds each probe request (default: 5s).
	Timeout time.Duration
}

// DefaultProbeConfig returns sensible defaults.
func DefaultProbeConfig() *ProbeConfig {
	return &ProbeConfig{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Probe is a Monitor that polls a health endpoint on a ticker and flips
// between online and offline based on whether the probe succeeds.
type Probe struct {
	*Manual

	url    string
	client *http.Client
	ticker time.Duration
}

// NewProbe creates a probing monitor. It starts out online (the default
// assumption) and corrects itself after the first probe.
func NewProbe(config *ProbeConfig) *Probe {
	if config == nil {
		config = DefaultProbeConfig()
	}
	interval := config.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Probe{
		Manual: NewManual(true),
		url:    config.HealthURL,
		client: &http.Client{Timeout: timeout},
		ticker: interval,
	}
}

// Run probes the health endpoint until ctx is cancelled. An immediate
// probe runs before the first tick so a dead server is noticed at
// startup rather than one interval later.
func (p *Probe) Run(ctx context.Context) error {
	p.Set(p.probe(ctx))

	ticker := time.NewTicker(p.ticker)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			p.Set(p.probe(ctx))
		}
	}
}

// probe performs a single reachability check.
func (p *Probe) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 500
}
