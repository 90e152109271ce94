package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// HealthStatus is the body of /health and /ready.
type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
	System    *SystemInfo      `json:"system,omitempty"`
}

// Check is the result of one readiness probe.
type Check struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAllocMB   uint64 `json:"mem_alloc_mb"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// queueBacklogLimit marks the queue degraded once this many jobs wait.
const queueBacklogLimit = 500

// Health is the liveness probe; it never touches dependencies.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// probe is one readiness dependency. critical probes make the service
// unhealthy when they fail, the rest only degrade it.
type probe struct {
	name     string
	critical bool
	run      func(context.Context) Check
}

func (h *Handlers) probes() []probe {
	ps := []probe{
		{name: "database", critical: true, run: pingCheck(h.DB)},
		{name: "queue", critical: true, run: h.checkQueue},
		{name: "presets", run: h.checkPresets},
	}
	// Redis backs the result cache, and the queue in redis mode.
	if h.Redis != nil {
		ps = append(ps, probe{name: "redis", critical: h.Config.QueueMode == "redis", run: pingCheck(h.Redis)})
	}
	return ps
}

// Ready runs every probe and answers 503 when a critical one fails.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	overall := StatusHealthy
	checks := make(map[string]Check)
	for _, p := range h.probes() {
		c := p.run(ctx)
		checks[p.name] = c
		switch {
		case c.Status == StatusHealthy:
		case p.critical && c.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthStatus{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		System: &SystemInfo{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			NumCPU:       runtime.NumCPU(),
			MemAllocMB:   mem.Alloc / 1024 / 1024,
		},
	})
}

func pingCheck(p Pinger) func(context.Context) Check {
	return func(ctx context.Context) Check {
		start := time.Now()
		err := p.Ping(ctx)
		c := Check{Status: StatusHealthy, Message: "connection successful", Duration: time.Since(start).String()}
		if err != nil {
			c.Status = StatusUnhealthy
			c.Message = err.Error()
		}
		return c
	}
}

func (h *Handlers) checkQueue(ctx context.Context) Check {
	st, err := h.Q.Stats(ctx)
	if err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error()}
	}
	c := Check{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%s queue: %d waiting, %d in flight, %d dead", st.Backend, st.Waiting, st.InFlight, st.DeadLetters),
	}
	if st.Waiting > queueBacklogLimit || st.DeadLetters > 0 {
		c.Status = StatusDegraded
	}
	return c
}

func (h *Handlers) checkPresets(context.Context) Check {
	return Check{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d presets loaded", len(h.Presets.List())),
	}
}
