package metrics

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Pinger is a dependency that can be probed for liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisPinger probes a Redis client.
func RedisPinger(rdb goredis.Cmdable) Pinger {
	return PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
}

// probeResult is the last outcome of one dependency probe.
type probeResult struct {
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
	Critical  bool    `json:"critical"`
}

type probe struct {
	pinger   Pinger
	critical bool
}

// LatencyFunc reports broadcast latency percentiles in milliseconds.
type LatencyFunc func() (p50, p95, p99 float64)

// RuntimeStats is a snapshot of the process's resource usage.
type RuntimeStats struct {
	Goroutines  int     `json:"goroutines"`
	CPUCores    int     `json:"cpu_cores"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
}

// CollectRuntime gathers Go runtime statistics.
func CollectRuntime() RuntimeStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeStats{
		Goroutines:  runtime.NumGoroutine(),
		CPUCores:    runtime.NumCPU(),
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
		SysMB:       float64(ms.Sys) / 1024 / 1024,
		GCRuns:      ms.NumGC,
	}
}

// HealthStatus tracks dependency liveness and serves /healthz.
//
// A failing critical probe (the account store) makes the process
// unhealthy; a failing optional probe (Redis) makes it degraded.
type HealthStatus struct {
	mu sync.RWMutex

	probes       map[string]probe
	results      map[string]probeResult
	lastTickTime time.Time
	lastCheckAt  time.Time
	startedAt    time.Time

	latency LatencyFunc
	log     *zap.Logger
}

// NewHealthStatus returns a health status with no probes.
func NewHealthStatus(log *zap.Logger) *HealthStatus {
	return &HealthStatus{
		probes:    make(map[string]probe),
		results:   make(map[string]probeResult),
		startedAt: time.Now(),
		log:       log.Named("health"),
	}
}

// AddProbe registers a named dependency probe.
func (h *HealthStatus) AddProbe(name string, p Pinger, critical bool) {
	h.mu.Lock()
	h.probes[name] = probe{pinger: p, critical: critical}
	h.mu.Unlock()
}

// SetLatency installs the broadcast latency reporter.
func (h *HealthStatus) SetLatency(fn LatencyFunc) {
	h.mu.Lock()
	h.latency = fn
	h.mu.Unlock()
}

// SetLastTickTime records the time of the newest generated tick.
func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.lastTickTime = t
	h.mu.Unlock()
}

// Check runs every probe once and records latency and connectivity.
func (h *HealthStatus) Check(ctx context.Context) {
	h.mu.RLock()
	probes := make(map[string]probe, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	h.mu.RUnlock()

	results := make(map[string]probeResult, len(probes))
	for name, p := range probes {
		start := time.Now()
		err := p.pinger.Ping(ctx)
		r := probeResult{
			OK:        err == nil,
			LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
			Critical:  p.critical,
		}
		if err != nil {
			r.Error = err.Error()
			h.log.Warn("probe failed", zap.String("dependency", name), zap.Error(err))
		}
		results[name] = r
	}

	h.mu.Lock()
	for name, r := range results {
		h.results[name] = r
	}
	h.lastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs Check immediately and then every interval
// until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			h.Check(probeCtx)
			cancel()

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Status returns "healthy", "degraded" or "unhealthy".
func (h *HealthStatus) Status() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statusLocked()
}

func (h *HealthStatus) statusLocked() string {
	status := "healthy"
	for name := range h.probes {
		r, checked := h.results[name]
		if checked && r.OK {
			continue
		}
		if h.probes[name].critical {
			return "unhealthy"
		}
		status = "degraded"
	}
	return status
}

type latencyReport struct {
	P50 float64 `json:"p50_ms"`
	P95 float64 `json:"p95_ms"`
	P99 float64 `json:"p99_ms"`
}

type healthReport struct {
	Status       string                 `json:"status"`
	Uptime       string                 `json:"uptime"`
	LastTickTime string                 `json:"last_tick_time,omitempty"`
	TickAge      string                 `json:"tick_age,omitempty"`
	Dependencies map[string]probeResult `json:"dependencies"`
	Checked      []string               `json:"checked"`
	Latency      *latencyReport         `json:"broadcast_latency,omitempty"`
	Runtime      RuntimeStats           `json:"runtime"`
	LastCheckAt  string                 `json:"last_check_at,omitempty"`
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	report := healthReport{
		Status:       h.statusLocked(),
		Uptime:       time.Since(h.startedAt).Round(time.Second).String(),
		Dependencies: make(map[string]probeResult, len(h.results)),
		Runtime:      CollectRuntime(),
	}
	for name, res := range h.results {
		report.Dependencies[name] = res
		report.Checked = append(report.Checked, name)
	}
	if !h.lastTickTime.IsZero() {
		report.LastTickTime = h.lastTickTime.UTC().Format(time.RFC3339)
		report.TickAge = time.Since(h.lastTickTime).Round(time.Millisecond).String()
	}
	if !h.lastCheckAt.IsZero() {
		report.LastCheckAt = h.lastCheckAt.UTC().Format(time.RFC3339)
	}
	latency := h.latency
	h.mu.RUnlock()
	sort.Strings(report.Checked)

	if latency != nil {
		p50, p95, p99 := latency()
		report.Latency = &latencyReport{P50: p50, P95: p95, P99: p99}
	}

	body, err := sonic.Marshal(report)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if report.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Write(body)
}
