package metrics

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Overall states reported by GetHealth and GetReadiness
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the JSON body of the health endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

// CriticalComponents must all be registered and healthy before the engine
// reports ready. Any other unhealthy component only degrades health.
var CriticalComponents = []string{"dispatcher", "storage", "provenance"}

// Check reports the current state of a component when health is read
type Check func() (healthy bool, message string)

var (
	healthChecker = newHealthChecker()
)

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker holds the last reported state and the live checks of the
// engine components
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	checks     map[string]Check
	startTime  time.Time
	version    string
}

func newHealthChecker() *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		checks:     make(map[string]Check),
		startTime:  time.Now(),
	}
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// RegisterComponent records a fixed state for name, replacing any check
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	delete(healthChecker.checks, name)
	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent is RegisterComponent for a component already known
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// RegisterCheck makes name report whatever p returns at read time
func RegisterCheck(name string, p Check) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.checks[name] = p
}

// current evaluates the checks outside the lock and merges them over the
// recorded states
func (h *HealthChecker) current() (map[string]ComponentHealth, time.Time, string) {
	h.mu.RLock()
	comps := make(map[string]ComponentHealth, len(h.components)+len(h.checks))
	for name, c := range h.components {
		comps[name] = c
	}
	checks := make(map[string]Check, len(h.checks))
	for name, p := range h.checks {
		checks[name] = p
	}
	start, version := h.startTime, h.version
	h.mu.RUnlock()

	now := time.Now()
	for name, p := range checks {
		healthy, msg := p()
		comps[name] = ComponentHealth{Name: name, Healthy: healthy, Message: msg, Updated: now}
	}
	return comps, start, version
}

// GetHealth returns the overall health status. An unhealthy critical
// component makes the engine unhealthy; any other one degrades it.
func GetHealth() HealthStatus {
	comps, start, version := healthChecker.current()

	status := StatusHealthy
	components := make(map[string]string, len(comps))
	for name, comp := range comps {
		if comp.Healthy {
			components[name] = StatusHealthy
			continue
		}
		components[name] = "unhealthy: " + comp.Message
		if slices.Contains(CriticalComponents, name) {
			status = StatusUnhealthy
		} else if status == StatusHealthy {
			status = StatusDegraded
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    version,
		Uptime:     time.Since(start).String(),
		StartTime:  start,
	}
}

// GetReadiness returns readiness status of the critical components
func GetReadiness() HealthStatus {
	comps, start, version := healthChecker.current()

	status := StatusReady
	message := ""
	components := make(map[string]string)

	for _, name := range CriticalComponents {
		comp, exists := comps[name]
		switch {
		case !exists:
			status = StatusNotReady
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.Healthy:
			status = StatusNotReady
			message = "waiting for " + name
			components[name] = "not ready: " + comp.Message
		default:
			components[name] = StatusReady
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    version,
		Uptime:     time.Since(start).String(),
		StartTime:  start,
	}
}

func writeStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// HealthHandler serves /health. Degraded still answers 200.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, health)
	}
}

// ReadyHandler serves /ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		code := http.StatusOK
		if readiness.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, readiness)
	}
}

// LivenessHandler answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthChecker.mu.RLock()
		start := healthChecker.startTime
		healthChecker.mu.RUnlock()

		writeStatus(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(start).String(),
		})
	}
}
