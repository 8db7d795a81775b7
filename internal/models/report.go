package models

import (
	"time"
)

// SlaStatistics is the aggregate compliance view derived from tracker state.
// It is recomputed on demand and never stored.
type SlaStatistics struct {
	TotalTrackers        int     `json:"total_trackers"`
	ActiveTrackers       int     `json:"active_trackers"`
	PausedTrackers       int     `json:"paused_trackers"`
	ViolatedTrackers     int     `json:"violated_trackers"`
	ResolvedTrackers     int     `json:"resolved_trackers"`
	CancelledTrackers    int     `json:"cancelled_trackers"`
	ResolvedWithinSla    int     `json:"resolved_within_sla"`
	ComplianceRate       float64 `json:"compliance_rate"` // percent, clamped to [0,100]
	AvgResponseMinutes   float64 `json:"avg_response_minutes"`
	AvgResolutionMinutes float64 `json:"avg_resolution_minutes"`
}

// ReportRange bounds a report query.
type ReportRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range (inclusive start,
// exclusive end; a zero To means unbounded).
func (r ReportRange) Contains(t time.Time) bool {
	if t.Before(r.From) {
		return false
	}
	return r.To.IsZero() || t.Before(r.To)
}

// EntityTypeBreakdown aggregates report figures for one entity type.
type EntityTypeBreakdown struct {
	EntityType           string  `json:"entity_type"`
	Created              int     `json:"created"`
	Resolved             int     `json:"resolved"`
	ResolvedWithinSla    int     `json:"resolved_within_sla"`
	Violations           int     `json:"violations"`
	ResponseViolations   int     `json:"response_violations"`
	ResolutionViolations int     `json:"resolution_violations"`
	Escalations          int     `json:"escalations"`
	ComplianceRate       float64 `json:"compliance_rate"`
	AvgResolutionMinutes float64 `json:"avg_resolution_minutes"`
}

// PerformanceReport aggregates resolution performance within a window.
type PerformanceReport struct {
	Range       ReportRange           `json:"range"`
	GeneratedAt time.Time             `json:"generated_at"`
	Totals      SlaStatistics         `json:"totals"`
	ByEntity    []EntityTypeBreakdown `json:"by_entity_type"`
}

// ComplianceReport aggregates violations against template targets.
type ComplianceReport struct {
	Range             ReportRange           `json:"range"`
	GeneratedAt       time.Time             `json:"generated_at"`
	OverallCompliance float64               `json:"overall_compliance"`
	TotalViolations   int                   `json:"total_violations"`
	BySeverity        map[string]int        `json:"by_severity"`
	ByEntity          []EntityTypeBreakdown `json:"by_entity_type"`
}

// WorkloadPrediction is a best-effort advisory estimate; Confidence is "low"
// when the historical sample was too small to extrapolate from.
type WorkloadPrediction struct {
	EntityType       string        `json:"entity_type"`
	Timeframe        time.Duration `json:"timeframe"`
	ExpectedTrackers int           `json:"expected_trackers"`
	ExpectedBreaches int           `json:"expected_breaches"`
	SampleSize       int           `json:"sample_size"`
	Confidence       string        `json:"confidence"` // low, medium, high
	GeneratedAt      time.Time     `json:"generated_at"`
}

// AuditEntry is one row of the violation audit trail.
type AuditEntry struct {
	TrackerID  string        `json:"tracker_id"`
	EntityType string        `json:"entity_type"`
	EntityID   string        `json:"entity_id"`
	Violation  SlaViolation  `json:"violation"`
	Status     TrackerStatus `json:"tracker_status"`
}

// HealthState classifies engine health for external monitoring.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthStatus is the engine health snapshot.
type HealthStatus struct {
	Status        HealthState   `json:"status"`
	Uptime        time.Duration `json:"uptime"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	RecentErrors  int           `json:"recent_errors"`
	LastError     string        `json:"last_error,omitempty"`
}

// StatusSnapshot is the real-time state served to dashboards.
type StatusSnapshot struct {
	Timestamp        time.Time   `json:"timestamp"`
	ActiveTrackers   int         `json:"active_trackers"`
	CriticalBreaches int         `json:"critical_breaches"`
	SystemHealth     HealthState `json:"system_health"`
}
