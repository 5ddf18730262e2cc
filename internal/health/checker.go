// Package health tracks the reachability of the service's dependencies and
// serves it on /healthz.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	// FailThreshold is the number of consecutive failures after which a
	// dependency is reported as degraded.
	FailThreshold int
}

// Probe checks one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// Dependency states.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(name string, success bool)

// DependencyStatus is the last known state of one dependency.
type DependencyStatus struct {
	Status    string    `json:"status"`
	Failures  int       `json:"consecutive_failures"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs registered probes periodically and keeps their results.
type Checker struct {
	probes    map[string]Probe
	state     map[string]DependencyStatus
	mu        sync.RWMutex
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a Checker.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Checker{
		probes: make(map[string]Probe),
		state:  make(map[string]DependencyStatus),
		cfg:    cfg,
		logger: logger,
	}
}

// Register adds a probe. It must be called before Start or CheckAll.
func (h *Checker) Register(name string, p Probe) {
	h.probes[name] = p
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs one round of probes immediately, then one per interval until
// ctx is done.
func (h *Checker) Start(ctx context.Context) {
	h.CheckAll(ctx)
	go func() {
		ticker := time.NewTicker(h.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.CheckAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// CheckAll runs every probe concurrently and records the results.
func (h *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for name, probe := range h.probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := probe(pctx)
			cancel()

			if h.onMetrics != nil {
				h.onMetrics(name, err == nil)
			}
			h.record(name, err)
		}(name, probe)
	}
	wg.Wait()
}

func (h *Checker) record(name string, err error) {
	h.mu.Lock()
	prev := h.state[name]
	next := DependencyStatus{Status: StatusHealthy, CheckedAt: time.Now().UTC()}
	if err != nil {
		next.Failures = prev.Failures + 1
		next.LastError = err.Error()
		if next.Failures >= h.cfg.FailThreshold {
			next.Status = StatusDegraded
		}
	}
	h.state[name] = next
	h.mu.Unlock()

	switch {
	case prev.Status == StatusDegraded && next.Status == StatusHealthy:
		h.logger.Info("health: recovered", zap.String("dependency", name))
	case err != nil && next.Failures == h.cfg.FailThreshold:
		// Transition: healthy → degraded (exactly at threshold)
		h.logger.Warn("health: degraded",
			zap.String("dependency", name),
			zap.Int("fail_count", next.Failures),
			zap.Error(err),
		)
	case err != nil:
		h.logger.Debug("health: probe failed", zap.String("dependency", name), zap.Error(err))
	}
}

// Snapshot returns the last known state of every dependency and whether all
// of them are healthy. Dependencies never probed are omitted.
func (h *Checker) Snapshot() (map[string]DependencyStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]DependencyStatus, len(h.state))
	healthy := true
	for name, st := range h.state {
		out[name] = st
		if st.Status != StatusHealthy {
			healthy = false
		}
	}
	return out, healthy
}

// Names returns the registered probe names in order.
func (h *Checker) Names() []string {
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handler serves the cached state: 200 when every dependency is healthy,
// 503 otherwise.
func (h *Checker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		deps, healthy := h.Snapshot()
		code, status := http.StatusOK, "ok"
		if !healthy {
			code, status = http.StatusServiceUnavailable, "unavailable"
		}
		c.JSON(code, gin.H{"status": status, "dependencies": deps})
	}
}
