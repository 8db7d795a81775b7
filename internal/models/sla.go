package models

import (
	"time"
)

// SlaTemplate defines the SLA policy applied to trackers of one entity type.
type SlaTemplate struct {
	ID                string           `json:"id" db:"id"`
	Name              string           `json:"name" db:"name"`
	Description       string           `json:"description" db:"description"`
	EntityType        string           `json:"entity_type" db:"entity_type"`
	ResponseMinutes   int              `json:"response_minutes" db:"response_minutes"`     // budget until first response
	ResolutionMinutes int              `json:"resolution_minutes" db:"resolution_minutes"` // budget until resolution
	BusinessHoursOnly bool             `json:"business_hours_only" db:"business_hours_only"`
	Calendar          string           `json:"calendar" db:"calendar"` // calendar name, empty = default
	ResponseTarget    float64          `json:"response_target" db:"response_target"`     // compliance target percent
	ResolutionTarget  float64          `json:"resolution_target" db:"resolution_target"` // compliance target percent
	ResponseWarnPct   int              `json:"response_warn_pct" db:"response_warn_pct"`     // 0 = no warning
	ResolutionWarnPct int              `json:"resolution_warn_pct" db:"resolution_warn_pct"` // 0 = no warning
	IsActive          bool             `json:"is_active" db:"is_active"`
	EscalationRules   []EscalationRule `json:"escalation_rules,omitempty"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// EscalationRule defines one level in a template's remediation chain.
// Levels within a template are unique and ascending; a rule becomes eligible
// DelayMinutes after the breached deadline, once all lower levels have fired.
type EscalationRule struct {
	Level        int                   `json:"level"`
	DelayMinutes int                   `json:"delay_minutes"`
	Conditions   []EscalationCondition `json:"conditions,omitempty"`
	Actions      []EscalationAction    `json:"actions"`
}

// EscalationCondition is a tagged predicate evaluated against tracker state.
type EscalationCondition struct {
	Field    string `json:"field"`    // status, priority, escalation_level, entity_type, responded, resolved
	Operator string `json:"operator"` // equals, not_equals, greater_than, less_than, contains
	Value    string `json:"value"`
}

// ActionType enumerates the remediation actions a rule can request.
type ActionType string

const (
	ActionEmail        ActionType = "email"
	ActionSMS          ActionType = "sms"
	ActionTicketUpdate ActionType = "ticket_update"
	ActionReassign     ActionType = "reassign"
)

// KnownActionType reports whether t is one of the supported action types.
func KnownActionType(t ActionType) bool {
	switch t {
	case ActionEmail, ActionSMS, ActionTicketUpdate, ActionReassign:
		return true
	}
	return false
}

// EscalationAction describes a single notification to emit when a rule fires.
type EscalationAction struct {
	Type         ActionType `json:"type"`
	Target       string     `json:"target"`
	Message      string     `json:"message,omitempty"`
	DelayMinutes int        `json:"delay_minutes,omitempty"`
}

// RuleForLevel returns the rule at the given level, or nil.
func (t *SlaTemplate) RuleForLevel(level int) *EscalationRule {
	for i := range t.EscalationRules {
		if t.EscalationRules[i].Level == level {
			return &t.EscalationRules[i]
		}
	}
	return nil
}

// NextRuleAbove returns the lowest-level rule above the given level, or nil
// when the chain is exhausted. Rules are stored in ascending level order.
func (t *SlaTemplate) NextRuleAbove(level int) *EscalationRule {
	for i := range t.EscalationRules {
		if t.EscalationRules[i].Level > level {
			return &t.EscalationRules[i]
		}
	}
	return nil
}
