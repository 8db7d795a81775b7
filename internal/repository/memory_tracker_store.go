package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gotrs-io/sla-engine/internal/models"
	"github.com/gotrs-io/sla-engine/internal/slaerr"
)

// MemoryTrackerStore is an in-memory TrackerStore. All reads and writes work
// on copies, and Save enforces the same optimistic version check as the SQL
// store, which makes it suitable for deterministic concurrency tests.
type MemoryTrackerStore struct {
	mu       sync.RWMutex
	trackers map[string]*models.SlaTracker
}

// NewMemoryTrackerStore creates an empty in-memory tracker store.
func NewMemoryTrackerStore() *MemoryTrackerStore {
	return &MemoryTrackerStore{trackers: make(map[string]*models.SlaTracker)}
}

// Create stores a new tracker, assigning an id when none is set.
func (s *MemoryTrackerStore) Create(ctx context.Context, tracker *models.SlaTracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tracker.ID == "" {
		tracker.ID = uuid.NewString()
	}
	if _, exists := s.trackers[tracker.ID]; exists {
		return fmt.Errorf("tracker %s already exists", tracker.ID)
	}
	tracker.Version = 1
	tracker.UpdatedAt = time.Now()
	s.trackers[tracker.ID] = tracker.Clone()
	return nil
}

// FindByID returns a copy of the tracker or ErrTrackerNotFound.
func (s *MemoryTrackerStore) FindByID(ctx context.Context, id string) (*models.SlaTracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.trackers[id]
	if !exists {
		return nil, slaerr.ErrTrackerNotFound
	}
	return t.Clone(), nil
}

// FindByEntity returns the tracker bound to the given entity, if any.
func (s *MemoryTrackerStore) FindByEntity(ctx context.Context, entityType, entityID string) (*models.SlaTracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.trackers {
		if t.EntityType == entityType && t.EntityID == entityID {
			return t.Clone(), nil
		}
	}
	return nil, slaerr.ErrTrackerNotFound
}

// Save applies an update when the caller's version matches the stored one,
// then bumps the version. A stale version fails with ErrVersionConflict so
// the caller retries on the next cycle instead of losing the other update.
func (s *MemoryTrackerStore) Save(ctx context.Context, tracker *models.SlaTracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.trackers[tracker.ID]
	if !exists {
		return slaerr.ErrTrackerNotFound
	}
	if current.Version != tracker.Version {
		return slaerr.ErrVersionConflict
	}
	tracker.Version++
	tracker.UpdatedAt = time.Now()
	s.trackers[tracker.ID] = tracker.Clone()
	return nil
}

// FindDueForCheck implements the scan query: non-terminal, non-paused
// trackers with an unmet deadline inside the horizon, plus violated trackers
// that still have escalation levels to walk.
func (s *MemoryTrackerStore) FindDueForCheck(ctx context.Context, now time.Time, horizon time.Duration, limit int) ([]*models.SlaTracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := now.Add(horizon)
	var due []*models.SlaTracker
	for _, t := range s.trackers {
		if t.IsTerminal() || t.Status == models.TrackerPaused {
			continue
		}
		responseDue := t.RespondedAt == nil && t.ResponseDeadline.Before(cutoff)
		resolutionDue := t.ResolvedAt == nil && t.ResolutionDeadline.Before(cutoff)
		if responseDue || resolutionDue || t.Status == models.TrackerViolated {
			due = append(due, t.Clone())
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return earliestDeadline(due[i]).Before(earliestDeadline(due[j]))
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func earliestDeadline(t *models.SlaTracker) time.Time {
	if t.RespondedAt == nil && t.ResponseDeadline.Before(t.ResolutionDeadline) {
		return t.ResponseDeadline
	}
	return t.ResolutionDeadline
}

// List returns copies of trackers matching the filter, newest first.
func (s *MemoryTrackerStore) List(ctx context.Context, filter TrackerFilter) ([]*models.SlaTracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.SlaTracker
	for _, t := range s.trackers {
		if !matchesFilter(t, filter) {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Aggregate computes statistics in one pass under the read lock.
func (s *MemoryTrackerStore) Aggregate(ctx context.Context, filter TrackerFilter) (*TrackerAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := &TrackerAggregate{}
	for _, t := range s.trackers {
		if !matchesFilter(t, filter) {
			continue
		}
		agg.Total++
		switch t.Status {
		case models.TrackerActive:
			agg.Active++
		case models.TrackerPaused:
			agg.Paused++
		case models.TrackerViolated:
			agg.Violated++
		case models.TrackerResolved:
			agg.Resolved++
		case models.TrackerCancelled:
			agg.Cancelled++
		}
		if t.RespondedAt != nil {
			agg.RespondedCount++
			agg.TotalResponseMinutes += t.RespondedAt.Sub(t.CreatedAt).Minutes()
		}
		if t.ResolvedAt != nil {
			agg.ResolvedCount++
			agg.TotalResolutionMinutes += t.ResolvedAt.Sub(t.CreatedAt).Minutes()
			if t.Status == models.TrackerResolved && !t.ResponseBreached && !t.ResolutionBreached {
				agg.ResolvedWithinSla++
			}
		}
	}
	return agg, nil
}

func matchesFilter(t *models.SlaTracker, filter TrackerFilter) bool {
	if filter.EntityType != "" && t.EntityType != filter.EntityType {
		return false
	}
	if !filter.CreatedFrom.IsZero() && t.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && !t.CreatedAt.Before(filter.CreatedTo) {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, st := range filter.Statuses {
			if t.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
