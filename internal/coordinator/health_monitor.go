package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/reshard/internal/storage"
)

// Health status values reported by the monitor.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CatalogProbe is the probe name used for the config catalog.
const CatalogProbe = "catalog"

// Probe is one dependency the coordinator needs to be reachable: the
// catalog store or a participant shard.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// ComponentHealth tracks the health status of a single probe.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type ComponentHealth struct {
	LastCheck        time.Time `json:"lastCheck"`
	LastHealthy      time.Time `json:"lastHealthy"`
	Name             string    `json:"name"`
	Status           string    `json:"status"`
	LastError        string    `json:"lastError,omitempty"`
	ConsecutiveFails int       `json:"consecutiveFails"`
}

// HealthMonitor periodically probes the catalog store and the registered
// shards. A coordinator whose catalog is unreachable cannot make progress,
// so the server reports it through /health.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	components  map[string]*ComponentHealth
	onUnhealthy func(name string)
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a new health monitor with the specified check interval.
// Components are marked unhealthy after 3 consecutive failures.
//
// Parameters:
//   - interval: How often to perform health checks (recommended: 5s)
//   - logger: Structured logger, nil for none
//
// Returns:
//   - *HealthMonitor: Monitor with no tracked components, ready to start
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, logger)
//	go monitor.Start(ctx, func() []Probe { return probes })
func NewHealthMonitor(interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		components:  make(map[string]*ComponentHealth),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked when a component becomes unhealthy.
// The callback runs on its own goroutine, once per transition into the
// unhealthy state.
//
// Parameters:
//   - callback: Called with the probe name, CatalogProbe or a shard id
//
// Example:
//
//	monitor.SetOnUnhealthy(func(name string) {
//	    if name == coordinator.CatalogProbe {
//	        logger.Error("catalog unreachable")
//	    }
//	})
func (h *HealthMonitor) SetOnUnhealthy(callback func(name string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUnhealthy = callback
}

// Start runs the monitoring loop in the current goroutine until ctx or the
// monitor is stopped. The provider is consulted on every tick so probes
// follow registry changes.
//
// Parameters:
//   - ctx: Context for cancellation, nil for the monitor's own
//   - provider: Returns the probes to run on each tick
//
// Example:
//
//	go monitor.Start(ctx, func() []Probe {
//	    return RegistryProbes(store, registry, client)
//	})
//	defer monitor.Stop()
func (h *HealthMonitor) Start(ctx context.Context, provider func() []Probe) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("health monitor started", zap.Duration("interval", h.interval))

	h.CheckNow(ctx, provider())

	for {
		select {
		case <-ticker.C:
			h.CheckNow(ctx, provider())
		case <-ctx.Done():
			h.logger.Info("health monitor stopping", zap.Error(ctx.Err()))
			return
		case <-h.ctx.Done():
			h.logger.Info("health monitor stopping")
			return
		}
	}
}

// Stop cancels the monitoring loop and waits for it to finish.
// Tracked health is kept and can still be read.
//
// Example:
//
//	monitor.Stop()
//	last := monitor.Get(CatalogProbe)
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// CheckNow runs every probe once and drops tracking for components that
// are no longer provided.
//
// Parameters:
//   - ctx: Bounds the probes; each one also gets the monitor's timeout
//   - probes: The full set of components to track
//
// Implementation:
//  1. Check each probe in turn, updating its health record
//  2. Remove records for names missing from probes
func (h *HealthMonitor) CheckNow(ctx context.Context, probes []Probe) {
	current := make(map[string]bool, len(probes))
	for _, p := range probes {
		current[p.Name] = true
		h.check(ctx, p)
	}

	h.mu.Lock()
	for name := range h.components {
		if !current[name] {
			delete(h.components, name)
			h.logger.Debug("removed component from health monitoring", zap.String("component", name))
		}
	}
	h.mu.Unlock()
}

// check runs one probe and updates its health record.
//
// Implementation:
//  1. Get or create the record, starting in the unknown state
//  2. Run the check under the monitor's timeout
//  3. On failure count it, and mark the component unhealthy at maxFailures
//  4. On success reset the failure count and mark it healthy
func (h *HealthMonitor) check(ctx context.Context, p Probe) {
	now := time.Now()
	h.mu.Lock()
	health, exists := h.components[p.Name]
	if !exists {
		health = &ComponentHealth{
			Name:        p.Name,
			Status:      StatusUnknown,
			LastCheck:   now,
			LastHealthy: now,
		}
		h.components[p.Name] = health
	}
	h.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	err := p.Check(cctx)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		health.LastError = err.Error()
		h.logger.Warn("health check failed",
			zap.String("component", p.Name),
			zap.Int("attempt", health.ConsecutiveFails),
			zap.Int("maxFailures", h.maxFailures),
			zap.Error(err))

		if health.ConsecutiveFails >= h.maxFailures && health.Status != StatusUnhealthy {
			health.Status = StatusUnhealthy
			h.logger.Error("component marked unhealthy",
				zap.String("component", p.Name),
				zap.Int("failures", health.ConsecutiveFails))
			if h.onUnhealthy != nil {
				go h.onUnhealthy(p.Name)
			}
		}
		return
	}

	if health.Status == StatusUnhealthy {
		h.logger.Info("component recovered", zap.String("component", p.Name))
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastError = ""
	health.LastHealthy = time.Now()
}

// Get returns a copy of the component's health, or nil if it isn't tracked.
//
// Parameters:
//   - name: Probe name, CatalogProbe or a shard id
//
// Returns:
//   - *ComponentHealth: Snapshot of the record, safe to keep
func (h *HealthMonitor) Get(name string) *ComponentHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.components[name]
	if !exists {
		return nil
	}
	c := *health
	return &c
}

// All returns copies of every tracked component's health keyed by name.
//
// Returns:
//   - map[string]*ComponentHealth: Snapshots keyed by probe name
//
// Example:
//
//	for name, c := range monitor.All() {
//	    fmt.Printf("%s: %s\n", name, c.Status)
//	}
func (h *HealthMonitor) All() map[string]*ComponentHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*ComponentHealth, len(h.components))
	for name, health := range h.components {
		c := *health
		result[name] = &c
	}
	return result
}

// IsHealthy reports whether the component's last checks succeeded.
// Untracked components are not healthy.
//
// Parameters:
//   - name: Probe name, CatalogProbe or a shard id
//
// Returns:
//   - bool: true only if the component is tracked and healthy
func (h *HealthMonitor) IsHealthy(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.components[name]
	return exists && health.Status == StatusHealthy
}

// CatalogCheck returns a probe check that pings the catalog store.
func CatalogCheck(store storage.Catalog) func(ctx context.Context) error {
	return store.Ping
}

// HTTPCheck returns a probe check that expects 200 OK from addr's /health
// endpoint. addr may be a bare host:port or a full URL.
//
// Parameters:
//   - client: HTTP client used for every check
//   - addr: Shard address (e.g., "localhost:9000")
//
// Returns:
//   - func(ctx context.Context) error: nil if healthy, error otherwise
func HTTPCheck(client *http.Client, addr string) func(ctx context.Context) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("health check request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health check returned status %d", resp.StatusCode)
		}
		return nil
	}
}

// RegistryProbes builds the probe list for the catalog and every registered
// shard.
func RegistryProbes(store storage.Catalog, registry *ShardRegistry, client *http.Client) []Probe {
	probes := []Probe{{Name: CatalogProbe, Check: CatalogCheck(store)}}
	for _, s := range registry.All() {
		probes = append(probes, Probe{Name: s.ID, Check: HTTPCheck(client, s.Host)})
	}
	return probes
}
