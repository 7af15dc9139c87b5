// Package health turns component health reports into an aggregate status for the
// /health endpoint.
package health

import (
	"regexp"
	"time"

	"github.com/scalarwaves/oscquery/component"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?)://[^\s]+`)
	ipPortRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(?::\d{1,5})?\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status values.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Status represents the health state of a component or of the whole server
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "unhealthy", "degraded"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related metrics
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	ErrorCount   int           `json:"error_count"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == StatusHealthy }

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool { return s.Status == StatusDegraded }

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == StatusUnhealthy }

func newStatus(component, status, message string) Status {
	return Status{
		Component: component,
		Healthy:   status == StatusHealthy,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StatusHealthy, message)
}

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StatusUnhealthy, message)
}

// NewDegraded creates a degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StatusDegraded, message)
}

// Aggregate combines sub-statuses: unhealthy if any is unhealthy, else degraded if any
// is degraded, else healthy.
func Aggregate(component string, subStatuses []Status) Status {
	var status Status
	switch {
	case len(subStatuses) == 0:
		return NewHealthy(component, "no components registered")
	case anyMatch(subStatuses, Status.IsUnhealthy):
		status = NewUnhealthy(component, "one or more components are unhealthy")
	case anyMatch(subStatuses, Status.IsDegraded):
		status = NewDegraded(component, "one or more components are degraded")
	default:
		status = NewHealthy(component, "all components are healthy")
	}
	status.SubStatuses = append([]Status(nil), subStatuses...)
	return status
}

func anyMatch(statuses []Status, pred func(Status) bool) bool {
	for _, s := range statuses {
		if pred(s) {
			return true
		}
	}
	return false
}

// FromComponentHealth converts a component report. Error text is scrubbed of URLs,
// addresses and credentials before it is exposed.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	var s Status
	if ch.Healthy {
		s = NewHealthy(name, "ok")
	} else {
		s = NewUnhealthy(name, "not running")
	}
	if ch.LastError != "" {
		s.Message = sanitizeErrorMessage(ch.LastError)
	}
	s.Metrics = &Metrics{
		Uptime:       ch.Uptime,
		ErrorCount:   ch.ErrorCount,
		LastActivity: ch.LastCheck,
	}
	return s
}

func sanitizeErrorMessage(msg string) string {
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = ipPortRegex.ReplaceAllString(msg, "[ADDR]")
	return credentialRegex.ReplaceAllString(msg, "[REDACTED]")
}
