package models

import (
	"time"
)

// TrackerStatus is the lifecycle state of an SLA tracker.
type TrackerStatus string

const (
	TrackerActive    TrackerStatus = "active"
	TrackerPaused    TrackerStatus = "paused"
	TrackerResolved  TrackerStatus = "resolved"
	TrackerViolated  TrackerStatus = "violated"
	TrackerCancelled TrackerStatus = "cancelled"
)

// ViolationType classifies a recorded SLA violation.
type ViolationType string

const (
	ViolationResponse   ViolationType = "response"
	ViolationResolution ViolationType = "resolution"
	ViolationEscalation ViolationType = "escalation"
)

// ViolationSeverity grades how far past the deadline a breach was detected.
type ViolationSeverity string

const (
	SeverityMinor    ViolationSeverity = "minor"
	SeverityMajor    ViolationSeverity = "major"
	SeverityCritical ViolationSeverity = "critical"
)

// SeverityForOvershoot derives severity from how long past the deadline the
// breach was detected: under 15 minutes minor, under an hour major, else
// critical.
func SeverityForOvershoot(overshoot time.Duration) ViolationSeverity {
	switch {
	case overshoot < 15*time.Minute:
		return SeverityMinor
	case overshoot < time.Hour:
		return SeverityMajor
	default:
		return SeverityCritical
	}
}

// SlaViolation is an append-only breach record attached to one tracker.
type SlaViolation struct {
	ID         string            `json:"id" db:"id"`
	TrackerID  string            `json:"tracker_id" db:"tracker_id"`
	Type       ViolationType     `json:"type" db:"type"`
	Severity   ViolationSeverity `json:"severity" db:"severity"`
	ViolatedAt time.Time         `json:"violated_at" db:"violated_at"` // detection instant
	TargetTime time.Time         `json:"target_time" db:"target_time"` // the deadline that was missed
	ActualTime *time.Time        `json:"actual_time,omitempty" db:"actual_time"`
	Level      int               `json:"level,omitempty" db:"level"` // escalation level, escalation type only
	Message    string            `json:"message,omitempty" db:"message"`
}

// SlaTracker binds one tracked business entity to a template and its
// computed deadlines. Trackers are never deleted; terminal statuses absorb.
type SlaTracker struct {
	ID                 string         `json:"id" db:"id"`
	TemplateID         string         `json:"template_id" db:"template_id"`
	EntityType         string         `json:"entity_type" db:"entity_type"`
	EntityID           string         `json:"entity_id" db:"entity_id"`
	Priority           int            `json:"priority" db:"priority"`
	Status             TrackerStatus  `json:"status" db:"status"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	ResponseDeadline   time.Time      `json:"response_deadline" db:"response_deadline"`
	ResolutionDeadline time.Time      `json:"resolution_deadline" db:"resolution_deadline"`
	RespondedAt        *time.Time     `json:"responded_at,omitempty" db:"responded_at"`
	ResolvedAt         *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
	PausedAt           *time.Time     `json:"paused_at,omitempty" db:"paused_at"`
	TotalPausedMinutes int            `json:"total_paused_minutes" db:"total_paused_minutes"`
	EscalationLevel    int            `json:"escalation_level" db:"escalation_level"`
	ResponseBreached   bool           `json:"response_breached" db:"response_breached"`
	ResolutionBreached bool           `json:"resolution_breached" db:"resolution_breached"`
	ResponseWarned     bool           `json:"response_warned" db:"response_warned"`
	ResolutionWarned   bool           `json:"resolution_warned" db:"resolution_warned"`
	Violations         []SlaViolation `json:"violations,omitempty"`
	Version            int64          `json:"version" db:"version"` // optimistic concurrency token
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the tracker has reached an absorbing status.
// Violated is not terminal: a violated tracker keeps escalating until it is
// resolved or cancelled.
func (t *SlaTracker) IsTerminal() bool {
	return t.Status == TrackerResolved || t.Status == TrackerCancelled
}

// Clone returns a deep copy, so stores can hand out copies safely.
func (t *SlaTracker) Clone() *SlaTracker {
	if t == nil {
		return nil
	}
	c := *t
	c.RespondedAt = copyTime(t.RespondedAt)
	c.ResolvedAt = copyTime(t.ResolvedAt)
	c.PausedAt = copyTime(t.PausedAt)
	if t.Violations != nil {
		c.Violations = make([]SlaViolation, len(t.Violations))
		copy(c.Violations, t.Violations)
		for i := range c.Violations {
			c.Violations[i].ActualTime = copyTime(t.Violations[i].ActualTime)
		}
	}
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
