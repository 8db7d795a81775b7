package sla

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/sla-engine/internal/models"
	"github.com/gotrs-io/sla-engine/internal/slaerr"
)

func TestValidateTemplate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*models.SlaTemplate)
		violations []string
	}{
		{
			name:   "valid template passes",
			mutate: func(*models.SlaTemplate) {},
		},
		{
			name:       "empty entity type",
			mutate:     func(tpl *models.SlaTemplate) { tpl.EntityType = "" },
			violations: []string{"entity type must not be empty"},
		},
		{
			name:       "non-positive response budget",
			mutate:     func(tpl *models.SlaTemplate) { tpl.ResponseMinutes = 0 },
			violations: []string{"response budget must be positive, got 0"},
		},
		{
			name:       "resolution shorter than response",
			mutate:     func(tpl *models.SlaTemplate) { tpl.ResolutionMinutes = 15 },
			violations: []string{"resolution budget must not be shorter than response budget"},
		},
		{
			name:       "warn percentage out of range",
			mutate:     func(tpl *models.SlaTemplate) { tpl.ResponseWarnPct = 120 },
			violations: []string{"response warning percentage must be within [0,100]"},
		},
		{
			name: "duplicate escalation level",
			mutate: func(tpl *models.SlaTemplate) {
				tpl.EscalationRules[1].Level = 1
			},
			violations: []string{
				"escalation rule 1: duplicate level 1",
				"escalation rule 1: levels must be ascending",
			},
		},
		{
			name: "descending escalation levels",
			mutate: func(tpl *models.SlaTemplate) {
				tpl.EscalationRules[0].Level = 3
			},
			violations: []string{"escalation rule 1: levels must be ascending"},
		},
		{
			name: "unknown action type",
			mutate: func(tpl *models.SlaTemplate) {
				tpl.EscalationRules[0].Actions[0].Type = "carrier_pigeon"
			},
			violations: []string{`escalation rule 0 action 0: unknown type "carrier_pigeon"`},
		},
		{
			name: "multiple failures reported together",
			mutate: func(tpl *models.SlaTemplate) {
				tpl.EntityType = ""
				tpl.ResponseMinutes = -5
				tpl.EscalationRules[0].DelayMinutes = -1
			},
			violations: []string{
				"entity type must not be empty",
				"response budget must be positive, got -5",
				"escalation rule 0: trigger delay must not be negative",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			template := ticketTemplate()
			tt.mutate(template)

			err := ValidateTemplate(template)
			if len(tt.violations) == 0 {
				assert.NoError(t, err)
				return
			}

			var verr *slaerr.ValidationError
			require.ErrorAs(t, err, &verr)
			for _, want := range tt.violations {
				assert.Contains(t, verr.Violations, want)
			}
		})
	}
}

func TestRegistryLoadSkipsInvalidTemplates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	good := ticketTemplate()
	require.NoError(t, env.templates.Create(ctx, good))

	bad := ticketTemplate()
	bad.Name = "broken"
	bad.ResponseMinutes = -1
	require.NoError(t, env.templates.Create(ctx, bad))

	require.NoError(t, env.registry.LoadTemplates(ctx))

	all := env.registry.All()
	require.Len(t, all, 1)
	assert.Equal(t, good.ID, all[0].ID)

	_, err := env.registry.Get(ctx, bad.ID)
	assert.Error(t, err)
}

func TestRegistryGetRejectsInactive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	template := ticketTemplate()
	template.IsActive = false
	require.NoError(t, env.templates.Create(ctx, template))
	require.NoError(t, env.registry.LoadTemplates(ctx))

	_, err := env.registry.Get(ctx, template.ID)
	assert.ErrorIs(t, err, slaerr.ErrTemplateNotFound)
}

func TestRegistryTemplateForAcceptsInactive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Deactivating a template must not orphan the trackers already bound
	// to it, so the scan path resolves inactive templates too.
	template := ticketTemplate()
	template.IsActive = false
	require.NoError(t, env.templates.Create(ctx, template))
	require.NoError(t, env.registry.LoadTemplates(ctx))

	got, err := env.registry.TemplateFor(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, template.ID, got.ID)
}

func TestRegistryGetFallsThroughToStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.registry.LoadTemplates(ctx))

	// Created after the load; the registry should still find it.
	late := ticketTemplate()
	require.NoError(t, env.templates.Create(ctx, late))

	got, err := env.registry.Get(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, late.ID, got.ID)
}
