package sla

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/sla-engine/internal/models"
)

func violatedTracker(now time.Time) *models.SlaTracker {
	deadline := now.Add(-90 * time.Minute)
	return &models.SlaTracker{
		ID:                 "trk-1",
		EntityType:         "ticket",
		EntityID:           "TK-1",
		Status:             models.TrackerViolated,
		ResponseDeadline:   deadline,
		ResolutionDeadline: now.Add(2 * time.Hour),
		ResponseBreached:   true,
	}
}

func TestEscalatorFiresLowestUnfiredLevel(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	clock := newFixedClock(now)
	sink := &recordingSink{}
	esc := NewEscalator(sink, clock, testLogger(t))

	tracker := violatedTracker(now)
	template := ticketTemplate()

	// Both levels are past their delay, but only level 1 fires this cycle.
	require.True(t, esc.Process(context.Background(), tracker, template))
	assert.Equal(t, 1, tracker.EscalationLevel)
	require.Len(t, sink.Actions(), 1)
	assert.Equal(t, "team-lead@example.com", sink.Actions()[0].Target)

	require.Len(t, tracker.Violations, 1)
	assert.Equal(t, models.ViolationEscalation, tracker.Violations[0].Type)
	assert.Equal(t, 1, tracker.Violations[0].Level)

	// The next cycle advances exactly one more level, firing all its actions.
	require.True(t, esc.Process(context.Background(), tracker, template))
	assert.Equal(t, 2, tracker.EscalationLevel)
	assert.Len(t, sink.Actions(), 3)

	// Chain exhausted.
	assert.False(t, esc.Process(context.Background(), tracker, template))
	assert.Equal(t, 2, tracker.EscalationLevel)
}

func TestEscalatorWaitsForDelay(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	clock := newFixedClock(now)
	sink := &recordingSink{}
	esc := NewEscalator(sink, clock, testLogger(t))

	tracker := violatedTracker(now)
	tracker.ResponseDeadline = now.Add(-5 * time.Minute) // level 1 needs 10min

	assert.False(t, esc.Process(context.Background(), tracker, ticketTemplate()))
	assert.Empty(t, sink.Actions())

	clock.Advance(6 * time.Minute)
	assert.True(t, esc.Process(context.Background(), tracker, ticketTemplate()))
}

func TestEscalatorSkipsNonViolatedTrackers(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	esc := NewEscalator(&recordingSink{}, newFixedClock(now), testLogger(t))

	tracker := violatedTracker(now)
	tracker.Status = models.TrackerActive

	assert.False(t, esc.Process(context.Background(), tracker, ticketTemplate()))
	assert.Equal(t, 0, tracker.EscalationLevel)
}

func TestEscalatorMeasuresFromResolutionDeadlineWhenBreached(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	sink := &recordingSink{}
	esc := NewEscalator(sink, newFixedClock(now), testLogger(t))

	tracker := violatedTracker(now)
	tracker.ResolutionBreached = true
	tracker.ResolutionDeadline = now.Add(-5 * time.Minute)

	// The resolution deadline governs once it is breached: only 5 minutes
	// have elapsed against level 1's 10 minute delay.
	assert.False(t, esc.Process(context.Background(), tracker, ticketTemplate()))

	tracker.ResolutionDeadline = now.Add(-15 * time.Minute)
	assert.True(t, esc.Process(context.Background(), tracker, ticketTemplate()))
}

func TestEscalatorHonorsConditions(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	sink := &recordingSink{}
	esc := NewEscalator(sink, newFixedClock(now), testLogger(t))

	template := ticketTemplate()
	template.EscalationRules[0].Conditions = []models.EscalationCondition{
		{Field: "priority", Operator: "greater_than", Value: "3"},
	}

	tracker := violatedTracker(now)
	tracker.Priority = 2
	assert.False(t, esc.Process(context.Background(), tracker, template))

	tracker.Priority = 5
	assert.True(t, esc.Process(context.Background(), tracker, template))
}

func TestEvaluateConditions(t *testing.T) {
	responded := time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC)
	tracker := &models.SlaTracker{
		Status:          models.TrackerViolated,
		EntityType:      "ticket",
		Priority:        4,
		EscalationLevel: 1,
		RespondedAt:     &responded,
	}

	tests := []struct {
		name      string
		condition models.EscalationCondition
		want      bool
	}{
		{"status equals", models.EscalationCondition{Field: "status", Operator: "equals", Value: "violated"}, true},
		{"status not equals", models.EscalationCondition{Field: "status", Operator: "not_equals", Value: "active"}, true},
		{"entity type contains", models.EscalationCondition{Field: "entity_type", Operator: "contains", Value: "tick"}, true},
		{"priority greater than", models.EscalationCondition{Field: "priority", Operator: "greater_than", Value: "3"}, true},
		{"priority less than fails", models.EscalationCondition{Field: "priority", Operator: "less_than", Value: "3"}, false},
		{"escalation level equals", models.EscalationCondition{Field: "escalation_level", Operator: "equals", Value: "1"}, true},
		{"responded true", models.EscalationCondition{Field: "responded", Operator: "equals", Value: "true"}, true},
		{"resolved false", models.EscalationCondition{Field: "resolved", Operator: "equals", Value: "false"}, true},
		{"unknown field is false", models.EscalationCondition{Field: "moon_phase", Operator: "equals", Value: "full"}, false},
		{"unknown operator is false", models.EscalationCondition{Field: "status", Operator: "matches", Value: "violated"}, false},
		{"bad int value is false", models.EscalationCondition{Field: "priority", Operator: "equals", Value: "high"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateConditions([]models.EscalationCondition{tt.condition}, tracker)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("all conditions must hold", func(t *testing.T) {
		conditions := []models.EscalationCondition{
			{Field: "status", Operator: "equals", Value: "violated"},
			{Field: "priority", Operator: "less_than", Value: "3"},
		}
		assert.False(t, EvaluateConditions(conditions, tracker))
	})

	t.Run("empty condition list holds", func(t *testing.T) {
		assert.True(t, EvaluateConditions(nil, tracker))
	})
}
