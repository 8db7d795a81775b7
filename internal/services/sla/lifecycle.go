package sla

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gotrs-io/sla-engine/internal/models"
	"github.com/gotrs-io/sla-engine/internal/repository"
	"github.com/gotrs-io/sla-engine/internal/services/businesshours"
	"github.com/gotrs-io/sla-engine/internal/slaerr"
)

// saveAttempts bounds the re-read/retry loop for lifecycle mutations that
// lose the optimistic version race against a concurrent scan cycle.
const saveAttempts = 3

// Lifecycle manages tracker state transitions. Each mutation re-reads the
// tracker and saves through the store's atomic version check, so lifecycle
// calls and the scan cycle can interleave safely.
type Lifecycle struct {
	registry  *Registry
	trackers  repository.TrackerStore
	calendars *businesshours.Service
	clock     Clock
	logger    *log.Logger
}

// NewLifecycle wires the lifecycle manager.
func NewLifecycle(registry *Registry, trackers repository.TrackerStore, calendars *businesshours.Service, clock Clock, logger *log.Logger) *Lifecycle {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Lifecycle{
		registry:  registry,
		trackers:  trackers,
		calendars: calendars,
		clock:     clock,
		logger:    logger,
	}
}

// CreateTracker registers a tracker for a business entity against a template
// and computes its deadlines from the creation instant.
func (l *Lifecycle) CreateTracker(ctx context.Context, entityType, entityID, templateID string, priority int) (*models.SlaTracker, error) {
	template, err := l.registry.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if template.EntityType != entityType {
		return nil, slaerr.NewValidation([]string{
			fmt.Sprintf("template %s applies to entity type %q, not %q", templateID, template.EntityType, entityType),
		})
	}

	now := l.clock.Now()
	calc := l.calendars.Calculator(template.Calendar)

	responseDeadline, err := calc.AddMinutes(now, template.ResponseMinutes, template.BusinessHoursOnly)
	if err != nil {
		return nil, fmt.Errorf("compute response deadline: %w", err)
	}
	resolutionDeadline, err := calc.AddMinutes(now, template.ResolutionMinutes, template.BusinessHoursOnly)
	if err != nil {
		return nil, fmt.Errorf("compute resolution deadline: %w", err)
	}

	tracker := &models.SlaTracker{
		TemplateID:         template.ID,
		EntityType:         entityType,
		EntityID:           entityID,
		Priority:           priority,
		Status:             models.TrackerActive,
		CreatedAt:          now,
		ResponseDeadline:   responseDeadline,
		ResolutionDeadline: resolutionDeadline,
	}
	if err := l.trackers.Create(ctx, tracker); err != nil {
		return nil, err
	}
	l.logger.Printf("sla: tracker %s created for %s/%s (response due %s, resolution due %s)",
		tracker.ID, entityType, entityID,
		responseDeadline.Format(time.RFC3339), resolutionDeadline.Format(time.RFC3339))
	return tracker, nil
}

// RecordResponse records the first-response instant. Idempotent: once set,
// later calls keep the first recorded value and return without error.
func (l *Lifecycle) RecordResponse(ctx context.Context, trackerID string, at time.Time) (*models.SlaTracker, error) {
	return l.mutate(ctx, trackerID, func(t *models.SlaTracker) (bool, error) {
		if t.RespondedAt != nil {
			return false, nil
		}
		if t.IsTerminal() {
			return false, fmt.Errorf("%w: cannot record response on %s tracker", slaerr.ErrInvalidStateTransition, t.Status)
		}
		stamp := at
		t.RespondedAt = &stamp
		return true, nil
	})
}

// RecordResolution records the resolution instant and moves the tracker to
// the terminal resolved status. Idempotent like RecordResponse.
func (l *Lifecycle) RecordResolution(ctx context.Context, trackerID string, at time.Time) (*models.SlaTracker, error) {
	return l.mutate(ctx, trackerID, func(t *models.SlaTracker) (bool, error) {
		if t.ResolvedAt != nil {
			return false, nil
		}
		if t.Status == models.TrackerCancelled {
			return false, fmt.Errorf("%w: cannot resolve a cancelled tracker", slaerr.ErrInvalidStateTransition)
		}
		stamp := at
		t.ResolvedAt = &stamp
		t.Status = models.TrackerResolved
		return true, nil
	})
}

// Pause freezes the deadline countdown by recording the pause instant.
func (l *Lifecycle) Pause(ctx context.Context, trackerID string) (*models.SlaTracker, error) {
	return l.mutate(ctx, trackerID, func(t *models.SlaTracker) (bool, error) {
		if t.IsTerminal() || t.Status == models.TrackerPaused {
			return false, fmt.Errorf("%w: cannot pause %s tracker", slaerr.ErrInvalidStateTransition, t.Status)
		}
		now := l.clock.Now()
		t.PausedAt = &now
		t.Status = models.TrackerPaused
		return true, nil
	})
}

// Resume shifts both open deadlines forward by the elapsed paused duration,
// so paused time never counts against the SLA.
func (l *Lifecycle) Resume(ctx context.Context, trackerID string) (*models.SlaTracker, error) {
	return l.mutate(ctx, trackerID, func(t *models.SlaTracker) (bool, error) {
		if t.Status != models.TrackerPaused || t.PausedAt == nil {
			return false, fmt.Errorf("%w: cannot resume %s tracker", slaerr.ErrInvalidStateTransition, t.Status)
		}
		paused := l.clock.Now().Sub(*t.PausedAt)
		if t.RespondedAt == nil {
			t.ResponseDeadline = t.ResponseDeadline.Add(paused)
		}
		if t.ResolvedAt == nil {
			t.ResolutionDeadline = t.ResolutionDeadline.Add(paused)
		}
		t.TotalPausedMinutes += int(paused.Minutes())
		t.PausedAt = nil
		if t.ResponseBreached || t.ResolutionBreached {
			t.Status = models.TrackerViolated
		} else {
			t.Status = models.TrackerActive
		}
		return true, nil
	})
}

// Cancel moves the tracker to the terminal cancelled status. Allowed from any
// non-terminal state; no further deadline or escalation processing occurs.
func (l *Lifecycle) Cancel(ctx context.Context, trackerID string) (*models.SlaTracker, error) {
	return l.mutate(ctx, trackerID, func(t *models.SlaTracker) (bool, error) {
		if t.IsTerminal() {
			return false, fmt.Errorf("%w: tracker already %s", slaerr.ErrInvalidStateTransition, t.Status)
		}
		t.Status = models.TrackerCancelled
		return true, nil
	})
}

// Get returns the tracker by id.
func (l *Lifecycle) Get(ctx context.Context, trackerID string) (*models.SlaTracker, error) {
	return l.trackers.FindByID(ctx, trackerID)
}

// mutate runs fn against a fresh read of the tracker and saves when fn made a
// change, retrying a lost version race with a re-read.
func (l *Lifecycle) mutate(ctx context.Context, trackerID string, fn func(*models.SlaTracker) (bool, error)) (*models.SlaTracker, error) {
	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		tracker, err := l.trackers.FindByID(ctx, trackerID)
		if err != nil {
			return nil, err
		}
		changed, err := fn(tracker)
		if err != nil {
			return nil, err
		}
		if !changed {
			return tracker, nil
		}
		if err := l.trackers.Save(ctx, tracker); err != nil {
			if errors.Is(err, slaerr.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return tracker, nil
	}
	return nil, lastErr
}
