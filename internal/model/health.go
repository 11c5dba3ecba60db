package model

const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// HealthCheck is one component's probe outcome.
type HealthCheck struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Health is the service-wide health report.
type Health struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
}
