// Package repository defines the storage contracts of the SLA engine and
// provides SQL and in-memory implementations.
package repository

import (
	"context"
	"time"

	"github.com/gotrs-io/sla-engine/internal/models"
)

// TemplateStore provides access to SLA template configuration.
type TemplateStore interface {
	FindActive(ctx context.Context) ([]models.SlaTemplate, error)
	FindByID(ctx context.Context, id string) (*models.SlaTemplate, error)
	Create(ctx context.Context, template *models.SlaTemplate) error
	Update(ctx context.Context, template *models.SlaTemplate) error
}

// TrackerFilter narrows tracker queries. Zero values mean "no constraint".
type TrackerFilter struct {
	Statuses    []models.TrackerStatus
	EntityType  string
	CreatedFrom time.Time
	CreatedTo   time.Time
	Limit       int
}

// TrackerAggregate is the single-pass aggregation used for statistics, so
// metrics stay a deterministic function of tracker state at the query instant.
type TrackerAggregate struct {
	Total                  int
	Active                 int
	Paused                 int
	Violated               int
	Resolved               int
	Cancelled              int
	ResolvedWithinSla      int
	RespondedCount         int
	TotalResponseMinutes   float64
	ResolvedCount          int
	TotalResolutionMinutes float64
}

// TrackerStore provides access to tracker state. Save is atomic per record:
// it compares the tracker's version against the stored one and fails with
// slaerr.ErrVersionConflict when a concurrent update won, so two interleaved
// mutations of the same tracker can never both apply.
type TrackerStore interface {
	Create(ctx context.Context, tracker *models.SlaTracker) error
	FindByID(ctx context.Context, id string) (*models.SlaTracker, error)
	FindByEntity(ctx context.Context, entityType, entityID string) (*models.SlaTracker, error)

	// FindDueForCheck returns non-terminal, non-paused trackers with an unmet
	// deadline inside now+horizon, plus violated trackers still escalating,
	// ordered by earliest deadline.
	FindDueForCheck(ctx context.Context, now time.Time, horizon time.Duration, limit int) ([]*models.SlaTracker, error)

	Save(ctx context.Context, tracker *models.SlaTracker) error
	List(ctx context.Context, filter TrackerFilter) ([]*models.SlaTracker, error)
	Aggregate(ctx context.Context, filter TrackerFilter) (*TrackerAggregate, error)
}
