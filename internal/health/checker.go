// Package health provides cached availability probing for provider adapters.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/platewise/imagegate/pkg/types"
	"github.com/platewise/imagegate/pkg/utils"
)

// Config represents health checker configuration.
type Config struct {
	// ProbeInterval is how often the background loop refreshes every
	// adapter's verdict.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// ProbeTimeout bounds a single IsAvailable call.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// ResultTTL is how long a cached verdict stays fresh for on-demand
	// lookups between background sweeps.
	ResultTTL time.Duration `yaml:"result_ttl"`
}

// DefaultConfig returns sensible probe settings.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval: 30 * time.Second,
		ProbeTimeout:  5 * time.Second,
		ResultTTL:     30 * time.Second,
	}
}

// Publisher receives probe verdicts. Satisfied by the metrics collector;
// nil disables publishing.
type Publisher interface {
	SetProviderAvailable(backend types.Backend, available bool)
}

// probeResult is one adapter's cached verdict.
type probeResult struct {
	available bool
	checkedAt time.Time
	duration  time.Duration
}

// Checker caches per-backend availability so routing decisions never block
// on a live probe. Verdicts refresh on a background interval and on demand
// when a cached result has gone stale.
type Checker struct {
	mu        sync.Mutex
	config    *Config
	adapters  map[types.Backend]types.ProviderAdapter
	results   map[types.Backend]*probeResult
	logger    *utils.StructuredLogger
	publisher Publisher

	stopCh  chan struct{}
	started bool
}

// NewChecker creates a checker over the given adapters.
func NewChecker(adapters map[types.Backend]types.ProviderAdapter, config *Config, logger *utils.StructuredLogger) *Checker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}
	return &Checker{
		config:   config,
		adapters: adapters,
		results:  make(map[types.Backend]*probeResult),
		logger:   logger.WithComponent("health"),
		stopCh:   make(chan struct{}),
	}
}

// SetPublisher attaches a verdict publisher. Not safe to call after Start.
func (c *Checker) SetPublisher(publisher Publisher) {
	c.publisher = publisher
}

// Start launches the background probe loop. Calling Start twice is a no-op.
func (c *Checker) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.loop()
}

// Stop terminates the background loop.
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	c.started = false
	close(c.stopCh)
}

// Available reports whether backend currently looks reachable. A fresh
// cached verdict is returned as-is; a stale or missing one triggers a
// synchronous probe. Unknown backends read as unavailable.
func (c *Checker) Available(ctx context.Context, backend types.Backend) bool {
	adapter, ok := c.adapters[backend]
	if !ok {
		return false
	}

	c.mu.Lock()
	result, ok := c.results[backend]
	c.mu.Unlock()

	if ok && time.Since(result.checkedAt) < c.config.ResultTTL {
		return result.available
	}

	return c.probe(ctx, backend, adapter)
}

// Snapshot returns the current verdict per backend without probing.
func (c *Checker) Snapshot() map[types.Backend]bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := make(map[types.Backend]bool, len(c.results))
	for backend, result := range c.results {
		snap[backend] = result.available
	}
	return snap
}

// loop refreshes every adapter's verdict on the configured interval.
func (c *Checker) loop() {
	ticker := time.NewTicker(c.config.ProbeInterval)
	defer ticker.Stop()

	// Prime the cache so the first routing decisions see real verdicts.
	c.sweep()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Checker) sweep() {
	for backend, adapter := range c.adapters {
		c.probe(context.Background(), backend, adapter)
	}
}

// probe runs one availability check and caches the verdict.
func (c *Checker) probe(ctx context.Context, backend types.Backend, adapter types.ProviderAdapter) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	available := adapter.IsAvailable(probeCtx)
	elapsed := time.Since(start)

	c.mu.Lock()
	prev := c.results[backend]
	c.results[backend] = &probeResult{
		available: available,
		checkedAt: time.Now(),
		duration:  elapsed,
	}
	c.mu.Unlock()

	if c.publisher != nil {
		c.publisher.SetProviderAvailable(backend, available)
	}

	if prev != nil && prev.available != available {
		c.logger.Info("backend availability changed", map[string]interface{}{
			"backend":   backend,
			"available": available,
			"probe_ms":  elapsed.Milliseconds(),
		})
	}

	return available
}
