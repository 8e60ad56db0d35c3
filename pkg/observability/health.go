package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// readinessTimeout bounds a full readiness check.
const readinessTimeout = 5 * time.Second

// ErrDegraded may be returned by a probe that still works but should be
// reported as degraded rather than unhealthy.
var ErrDegraded = errors.New("degraded")

// ProbeFunc checks one dependency.
type ProbeFunc func(ctx context.Context) error

type probe struct {
	name     string
	critical bool
	check    ProbeFunc
}

// HealthChecker runs named probes. A failing critical probe makes the
// service unhealthy; any other failure only degrades it.
type HealthChecker struct {
	probes  []probe
	version string
	now     func() time.Time
}

// NewHealthChecker probes db as a critical dependency and redis, when not
// nil, as an optional one.
func NewHealthChecker(db *sql.DB, client *redis.Client) *HealthChecker {
	h := &HealthChecker{version: buildVersion(), now: time.Now}
	if db != nil {
		h.AddProbe("database", true, databaseProbe(db))
	}
	if client != nil {
		h.AddProbe("redis", false, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return h
}

// AddProbe registers a dependency check. It must be called before the
// checker serves requests.
func (h *HealthChecker) AddProbe(name string, critical bool, check ProbeFunc) *HealthChecker {
	h.probes = append(h.probes, probe{name: name, critical: critical, check: check})
	return h
}

func databaseProbe(db *sql.DB) ProbeFunc {
	return func(ctx context.Context) error {
		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return err
		}
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return errors.Join(ErrDegraded, errors.New("connection pool exhausted"))
		}
		return nil
	}
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "devel"
	}
	return info.Main.Version
}

// HealthStatus is the readiness report.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the result of one probe.
type DependencyStatus struct {
	Status    string    `json:"status"`
	Critical  bool      `json:"critical"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Check runs every probe concurrently.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	report := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    h.now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.probes)),
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, p := range h.probes {
		p := p
		g.Go(func() error {
			dep := h.run(ctx, p)
			mu.Lock()
			report.Dependencies[p.name] = dep
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, dep := range report.Dependencies {
		report.Status = worse(report.Status, dep.Status)
	}
	return report
}

func (h *HealthChecker) run(ctx context.Context, p probe) DependencyStatus {
	start := h.now()
	err := p.check(ctx)
	dep := DependencyStatus{
		Status:    StatusHealthy,
		Critical:  p.critical,
		LatencyMS: time.Since(start).Milliseconds(),
		Timestamp: start,
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrDegraded) || !p.critical:
		dep.Status = StatusDegraded
		dep.Message = err.Error()
	default:
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	return dep
}

func worse(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Liveness reports healthy while the process serves requests.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": h.now(),
	})
}

// Readiness returns 503 only when a critical probe fails.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	report := h.Check(ctx)
	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

// RegisterHealthRoutes mounts /health, /health/live and /health/ready.
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}
