package sla

import (
	"strconv"
	"strings"

	"github.com/gotrs-io/sla-engine/internal/models"
)

// EvaluateConditions reports whether all conditions of a rule hold for the
// tracker's current state. An empty condition list always holds.
func EvaluateConditions(conditions []models.EscalationCondition, tracker *models.SlaTracker) bool {
	for _, c := range conditions {
		if !evaluateCondition(c, tracker) {
			return false
		}
	}
	return true
}

// evaluateCondition resolves the tagged predicate against tracker state.
// Unknown fields and operators evaluate to false, never to an error: a
// misconfigured condition must not break the scan cycle.
func evaluateCondition(c models.EscalationCondition, tracker *models.SlaTracker) bool {
	switch c.Field {
	case "status":
		return compareString(string(tracker.Status), c.Operator, c.Value)
	case "entity_type":
		return compareString(tracker.EntityType, c.Operator, c.Value)
	case "priority":
		return compareInt(tracker.Priority, c.Operator, c.Value)
	case "escalation_level":
		return compareInt(tracker.EscalationLevel, c.Operator, c.Value)
	case "responded":
		return compareBool(tracker.RespondedAt != nil, c.Operator, c.Value)
	case "resolved":
		return compareBool(tracker.ResolvedAt != nil, c.Operator, c.Value)
	default:
		return false
	}
}

func compareString(actual, op, expected string) bool {
	switch op {
	case "equals":
		return actual == expected
	case "not_equals":
		return actual != expected
	case "contains":
		return strings.Contains(actual, expected)
	default:
		return false
	}
}

func compareInt(actual int, op, expected string) bool {
	want, err := strconv.Atoi(expected)
	if err != nil {
		return false
	}
	switch op {
	case "equals":
		return actual == want
	case "not_equals":
		return actual != want
	case "greater_than":
		return actual > want
	case "less_than":
		return actual < want
	default:
		return false
	}
}

func compareBool(actual bool, op, expected string) bool {
	want, err := strconv.ParseBool(expected)
	if err != nil {
		return false
	}
	switch op {
	case "equals":
		return actual == want
	case "not_equals":
		return actual != want
	default:
		return false
	}
}
