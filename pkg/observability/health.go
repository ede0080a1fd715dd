package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc checks one dependency.
type CheckFunc func(ctx context.Context) error

type dependency struct {
	check    CheckFunc
	critical bool
}

// HealthChecker runs the registered dependency checks for readiness.
type HealthChecker struct {
	mu           sync.RWMutex
	dependencies map[string]dependency
	version      string
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms"`
}

// NewHealthChecker creates a health checker reporting version.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		dependencies: make(map[string]dependency),
		version:      version,
	}
}

// AddCheck registers a check. A failing critical check makes the service
// unhealthy; a failing non-critical check only degrades it.
func (h *HealthChecker) AddCheck(name string, critical bool, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dependencies[name] = dependency{check: check, critical: critical}
}

// AddDatabase registers a critical database check.
func (h *HealthChecker) AddDatabase(name string, db *sql.DB) {
	h.AddCheck(name, true, func(ctx context.Context) error {
		var one int
		return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
}

// AddRedis registers a non-critical redis check. Redis only backs the batch
// cache, so losing it degrades the service.
func (h *HealthChecker) AddRedis(name string, client *redis.Client) {
	h.AddCheck(name, false, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// Check runs every registered check.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	names := make([]string, 0, len(h.dependencies))
	deps := make(map[string]dependency, len(h.dependencies))
	for name, dep := range h.dependencies {
		names = append(names, name)
		deps[name] = dep
	}
	h.mu.RUnlock()
	sort.Strings(names)

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(names)),
	}

	for _, name := range names {
		dep := deps[name]
		start := time.Now()
		err := dep.check(ctx)
		ds := DependencyStatus{Status: StatusHealthy, Latency: time.Since(start).Milliseconds()}
		if err != nil {
			ds.Message = err.Error()
			if dep.critical {
				ds.Status = StatusUnhealthy
				status.Status = StatusUnhealthy
			} else {
				ds.Status = StatusDegraded
				if status.Status == StatusHealthy {
					status.Status = StatusDegraded
				}
			}
		}
		status.Dependencies[name] = ds
	}

	return status
}

// Liveness always reports healthy while the process serves requests.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns 503 when a critical dependency is down.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}
