package sla

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/gotrs-io/sla-engine/internal/models"
	"github.com/gotrs-io/sla-engine/internal/notifications"
)

// Escalator walks a violated tracker up its template's escalation chain.
type Escalator struct {
	sink   notifications.Sink
	clock  Clock
	logger *log.Logger
}

// NewEscalator wires the escalation processor.
func NewEscalator(sink notifications.Sink, clock Clock, logger *log.Logger) *Escalator {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Escalator{sink: sink, clock: clock, logger: logger}
}

// Process evaluates the lowest unfired rule and fires it when eligible,
// mutating the tracker in place. At most one level advances per call: after
// a long scheduler outage the chain catches up one level per cycle instead of
// jumping, so levels always fire strictly in order.
func (e *Escalator) Process(ctx context.Context, tracker *models.SlaTracker, template *models.SlaTemplate) bool {
	if tracker.Status != models.TrackerViolated {
		return false
	}

	rule := template.NextRuleAbove(tracker.EscalationLevel)
	if rule == nil {
		return false
	}

	deadline := tracker.ResponseDeadline
	if tracker.ResolutionBreached {
		deadline = tracker.ResolutionDeadline
	}

	now := e.clock.Now()
	elapsed := now.Sub(deadline)
	if elapsed.Minutes() < float64(rule.DelayMinutes) {
		return false
	}
	if !EvaluateConditions(rule.Conditions, tracker) {
		return false
	}

	for _, action := range rule.Actions {
		// Fire-and-forget: delivery failures are the sink's concern.
		e.sink.Notify(ctx, action, tracker)
	}

	tracker.Violations = append(tracker.Violations, models.SlaViolation{
		ID:         uuid.NewString(),
		TrackerID:  tracker.ID,
		Type:       models.ViolationEscalation,
		Severity:   models.SeverityForOvershoot(elapsed),
		ViolatedAt: now,
		TargetTime: deadline,
		Level:      rule.Level,
	})
	tracker.EscalationLevel = rule.Level

	e.logger.Printf("sla: tracker %s escalated to level %d (%d action(s))",
		tracker.ID, rule.Level, len(rule.Actions))
	return true
}
