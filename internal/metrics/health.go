package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthState classifies a component or the whole process.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"
)

// HealthStatus is the JSON shape returned by the health endpoint.
type HealthStatus struct {
	Status     HealthState       `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth tracks the reported health of a single component.
type ComponentHealth struct {
	Name    string
	State   HealthState
	Message string
	Updated time.Time
}

// HealthChecker aggregates component health reports. Components push state;
// the checker rolls up: any unhealthy component makes the process unhealthy,
// any degraded one makes it degraded.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
	version    string
}

var healthChecker = &HealthChecker{
	components: make(map[string]ComponentHealth),
	startTime:  time.Now(),
}

// SetVersion sets the version string for health responses.
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// ReportComponent records the current state of a component.
func ReportComponent(name string, state HealthState, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		State:   state,
		Message: message,
		Updated: time.Now(),
	}
}

// GetHealth returns the rolled-up health status.
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := Healthy
	components := make(map[string]string, len(healthChecker.components))
	for name, comp := range healthChecker.components {
		msg := string(comp.State)
		if comp.Message != "" {
			msg += ": " + comp.Message
		}
		components[name] = msg

		switch comp.State {
		case Unhealthy:
			status = Unhealthy
		case Degraded:
			if status == Healthy {
				status = Degraded
			}
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    healthChecker.version,
		Uptime:     time.Since(healthChecker.startTime).Round(time.Second).String(),
	}
}

// HealthHandler serves the health rollup as JSON. Unhealthy returns 503 so
// load balancers can act on it.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := GetHealth()
		w.Header().Set("Content-Type", "application/json")
		if status.Status == Unhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
