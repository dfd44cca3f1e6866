// Package health provides health monitoring for the dashboard's scanners.
package health

import (
	"time"
)

// Status values for a scanner or the whole system.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents the health state of a scanner or the system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// NewHealthy creates a healthy status for a component
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StatusHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a degraded status for a component
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates an unhealthy status for a component
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate combines sub-statuses into a system status. The system is
// unhealthy if any component is unhealthy, degraded if any is degraded,
// healthy otherwise.
func Aggregate(systemName string, subStatuses []Status) Status {
	status := StatusHealthy
	for _, sub := range subStatuses {
		if sub.IsUnhealthy() {
			status = StatusUnhealthy
			break
		}
		if sub.IsDegraded() {
			status = StatusDegraded
		}
	}

	return Status{
		Component:   systemName,
		Healthy:     status == StatusHealthy,
		Status:      status,
		Timestamp:   time.Now(),
		SubStatuses: subStatuses,
	}
}
