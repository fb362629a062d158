// Package health runs periodic probes against the services a binary depends
// on (database, ledger, content gateway) and tracks which are degraded.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the health of one dependency.
type Status string

const (
	Healthy  Status = "healthy"
	Degraded Status = "degraded"
)

// Probe checks one dependency. A nil error means the dependency is up.
type Probe func(ctx context.Context) error

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// ChangeFunc is called when a dependency crosses between healthy and degraded.
type ChangeFunc func(name string, status Status)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(name string, success bool)

// Checker runs named probes on an interval. A dependency is degraded after
// FailThreshold consecutive failures and healthy again after one success.
type Checker struct {
	mu         sync.Mutex
	probes     map[string]Probe
	failCounts map[string]int
	status     map[string]Status
	cfg        Config
	onChange   ChangeFunc
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a new Checker.
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
		probes:     make(map[string]Probe),
		failCounts: make(map[string]int),
		status:     make(map[string]Status),
		cfg:        cfg,
		logger:     logger,
	}
}

// Add registers a probe. Dependencies start out healthy.
func (c *Checker) Add(name string, p Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = p
	c.status[name] = Healthy
}

// OnChange configures the transition callback.
func (c *Checker) OnChange(fn ChangeFunc) {
	c.onChange = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// Run checks every dependency immediately and then on each interval until
// ctx is done.
func (c *Checker) Run(ctx context.Context) {
	c.CheckAll(ctx)

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently and waits for them.
func (c *Checker) CheckAll(ctx context.Context) {
	c.mu.Lock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for name, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
			err := p(probeCtx)
			cancel()
			c.record(name, err)
		}()
	}
	wg.Wait()
}

func (c *Checker) record(name string, err error) {
	if c.onMetrics != nil {
		c.onMetrics(name, err == nil)
	}

	c.mu.Lock()
	prev := c.status[name]
	if err == nil {
		c.failCounts[name] = 0
	} else {
		c.failCounts[name]++
	}
	count := c.failCounts[name]

	next := prev
	switch {
	case err == nil:
		next = Healthy
	case count >= c.cfg.FailThreshold:
		next = Degraded
	}
	c.status[name] = next
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("health: probe failed", zap.String("dependency", name), zap.Int("fail_count", count), zap.Error(err))
	}
	if next == prev {
		return
	}
	if next == Degraded {
		c.logger.Warn("health: degraded", zap.String("dependency", name), zap.Int("fail_count", count), zap.Error(err))
	} else {
		c.logger.Info("health: recovered", zap.String("dependency", name))
	}
	if c.onChange != nil {
		c.onChange(name, next)
	}
}

// Snapshot returns the current status of every dependency.
func (c *Checker) Snapshot() map[string]Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Status, len(c.status))
	for name, s := range c.status {
		out[name] = s
	}
	return out
}

// Healthy reports whether no dependency is degraded.
func (c *Checker) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.status {
		if s == Degraded {
			return false
		}
	}
	return true
}

// Degraded returns the sorted names of degraded dependencies.
func (c *Checker) Degraded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for name, s := range c.status {
		if s == Degraded {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// HTTPProbe returns a probe that succeeds on any 2xx answer to HEAD, falling
// back to GET for servers that reject HEAD.
func HTTPProbe(client *http.Client, endpoint string) Probe {
	return func(ctx context.Context) error {
		for _, method := range []string{http.MethodHead, http.MethodGet} {
			req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				if method == http.MethodGet {
					return err
				}
				continue
			}
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			if method == http.MethodGet {
				return &StatusError{Endpoint: endpoint, Code: resp.StatusCode}
			}
		}
		return nil
	}
}

// StatusError is returned by HTTPProbe for a non-2xx answer.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return e.Endpoint + ": HTTP " + http.StatusText(e.Code)
}
