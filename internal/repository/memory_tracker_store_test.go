package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/sla-engine/internal/models"
	"github.com/gotrs-io/sla-engine/internal/slaerr"
)

func newTracker(entityID string, status models.TrackerStatus, created time.Time) *models.SlaTracker {
	return &models.SlaTracker{
		TemplateID:         "tpl-1",
		EntityType:         "ticket",
		EntityID:           entityID,
		Priority:           3,
		Status:             status,
		CreatedAt:          created,
		ResponseDeadline:   created.Add(time.Hour),
		ResolutionDeadline: created.Add(4 * time.Hour),
	}
}

func TestMemoryTrackerStoreCreateAndFind(t *testing.T) {
	store := NewMemoryTrackerStore()
	ctx := context.Background()

	tr := newTracker("T-100", models.TrackerActive, time.Now())
	require.NoError(t, store.Create(ctx, tr))
	require.NotEmpty(t, tr.ID)
	assert.EqualValues(t, 1, tr.Version)

	got, err := store.FindByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "T-100", got.EntityID)

	byEntity, err := store.FindByEntity(ctx, "ticket", "T-100")
	require.NoError(t, err)
	assert.Equal(t, tr.ID, byEntity.ID)

	_, err = store.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, slaerr.ErrTrackerNotFound)
}

func TestMemoryTrackerStoreSaveVersionConflict(t *testing.T) {
	store := NewMemoryTrackerStore()
	ctx := context.Background()

	tr := newTracker("T-1", models.TrackerActive, time.Now())
	require.NoError(t, store.Create(ctx, tr))

	// Two readers hold the same version.
	a, err := store.FindByID(ctx, tr.ID)
	require.NoError(t, err)
	b, err := store.FindByID(ctx, tr.ID)
	require.NoError(t, err)

	a.EscalationLevel = 1
	require.NoError(t, store.Save(ctx, a))

	b.Status = models.TrackerPaused
	err = store.Save(ctx, b)
	assert.ErrorIs(t, err, slaerr.ErrVersionConflict)

	// The first writer's update survived intact.
	got, err := store.FindByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EscalationLevel)
	assert.Equal(t, models.TrackerActive, got.Status)
}

func TestMemoryTrackerStoreFindDueForCheck(t *testing.T) {
	store := NewMemoryTrackerStore()
	ctx := context.Background()
	now := time.Now()

	past := newTracker("overdue", models.TrackerActive, now.Add(-2*time.Hour))
	future := newTracker("fresh", models.TrackerActive, now)
	future.ResponseDeadline = now.Add(48 * time.Hour)
	future.ResolutionDeadline = now.Add(72 * time.Hour)
	paused := newTracker("paused", models.TrackerPaused, now.Add(-2*time.Hour))
	resolved := newTracker("done", models.TrackerResolved, now.Add(-2*time.Hour))
	violated := newTracker("breach", models.TrackerViolated, now.Add(-6*time.Hour))

	for _, tr := range []*models.SlaTracker{past, future, paused, resolved, violated} {
		require.NoError(t, store.Create(ctx, tr))
	}

	due, err := store.FindDueForCheck(ctx, now, time.Hour, 100)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, tr := range due {
		ids[tr.EntityID] = true
	}
	assert.True(t, ids["overdue"])
	assert.True(t, ids["breach"])
	assert.False(t, ids["fresh"], "deadlines beyond the horizon are not due")
	assert.False(t, ids["paused"], "paused trackers do not breach")
	assert.False(t, ids["done"])
}

func TestMemoryTrackerStoreAggregate(t *testing.T) {
	store := NewMemoryTrackerStore()
	ctx := context.Background()
	now := time.Now()

	inSla := newTracker("a", models.TrackerResolved, now.Add(-3*time.Hour))
	resolvedAt := now.Add(-2 * time.Hour)
	inSla.ResolvedAt = &resolvedAt

	breached := newTracker("b", models.TrackerResolved, now.Add(-10*time.Hour))
	lateAt := now.Add(-time.Hour)
	breached.ResolvedAt = &lateAt
	breached.ResolutionBreached = true

	open := newTracker("c", models.TrackerActive, now)

	for _, tr := range []*models.SlaTracker{inSla, breached, open} {
		require.NoError(t, store.Create(ctx, tr))
	}

	agg, err := store.Aggregate(ctx, TrackerFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Total)
	assert.Equal(t, 1, agg.Active)
	assert.Equal(t, 2, agg.Resolved)
	assert.Equal(t, 1, agg.ResolvedWithinSla)
	assert.Equal(t, 2, agg.ResolvedCount)
}

func TestMemoryTrackerStoreListFilters(t *testing.T) {
	store := NewMemoryTrackerStore()
	ctx := context.Background()
	now := time.Now()

	old := newTracker("old", models.TrackerActive, now.Add(-48*time.Hour))
	recent := newTracker("recent", models.TrackerActive, now.Add(-time.Hour))
	other := newTracker("other", models.TrackerActive, now.Add(-time.Hour))
	other.EntityType = "incident"

	for _, tr := range []*models.SlaTracker{old, recent, other} {
		require.NoError(t, store.Create(ctx, tr))
	}

	got, err := store.List(ctx, TrackerFilter{
		EntityType:  "ticket",
		CreatedFrom: now.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "recent", got[0].EntityID)
}
