package shared

import "context"

// Health statuses reported by service probes.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Health aggregates the outcome of a service's dependency checks. Checks map
// a dependency name to "pass" or "fail".
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewHealth folds individual check outcomes into a Health value.
func NewHealth(checks map[string]string) Health {
	status := StatusHealthy
	for _, v := range checks {
		if v != "pass" {
			status = StatusUnhealthy
			break
		}
	}
	return Health{Status: status, Checks: checks}
}

// HealthProbe is implemented by services exposing a health surface.
type HealthProbe interface {
	Health(ctx context.Context) Health
}
