package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/sla-engine/internal/models"
	"github.com/gotrs-io/sla-engine/internal/slaerr"
)

// SQLTrackerStore is the Postgres-backed TrackerStore. Violations live in a
// separate append-only table; tracker updates are guarded by a version column
// so concurrent writers cannot both apply.
type SQLTrackerStore struct {
	db *sqlx.DB
}

// NewSQLTrackerStore wraps the shared database handle.
func NewSQLTrackerStore(db *sqlx.DB) *SQLTrackerStore {
	return &SQLTrackerStore{db: db}
}

const trackerColumns = `
	id, template_id, entity_type, entity_id, priority, status, created_at,
	response_deadline, resolution_deadline, responded_at, resolved_at,
	paused_at, total_paused_minutes, escalation_level,
	response_breached, resolution_breached, response_warned, resolution_warned,
	version, updated_at`

// Create inserts a new tracker, assigning an id when none is set.
func (s *SQLTrackerStore) Create(ctx context.Context, tracker *models.SlaTracker) error {
	if tracker.ID == "" {
		tracker.ID = uuid.NewString()
	}
	tracker.Version = 1
	tracker.UpdatedAt = time.Now()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sla_trackers (`+trackerColumns+`) VALUES (
			:id, :template_id, :entity_type, :entity_id, :priority, :status, :created_at,
			:response_deadline, :resolution_deadline, :responded_at, :resolved_at,
			:paused_at, :total_paused_minutes, :escalation_level,
			:response_breached, :resolution_breached, :response_warned, :resolution_warned,
			:version, :updated_at
		)`, tracker)
	return slaerr.Storage("tracker insert", err)
}

// Save applies an update only when the version still matches, bumping it on
// success; a missed match means a concurrent writer won and the caller gets
// ErrVersionConflict. New violations are appended inside the same
// transaction.
func (s *SQLTrackerStore) Save(ctx context.Context, tracker *models.SlaTracker) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return slaerr.Storage("tracker tx begin", err)
	}
	defer tx.Rollback()

	tracker.UpdatedAt = time.Now()
	res, err := tx.NamedExecContext(ctx, `
		UPDATE sla_trackers SET
			status = :status,
			response_deadline = :response_deadline,
			resolution_deadline = :resolution_deadline,
			responded_at = :responded_at,
			resolved_at = :resolved_at,
			paused_at = :paused_at,
			total_paused_minutes = :total_paused_minutes,
			escalation_level = :escalation_level,
			response_breached = :response_breached,
			resolution_breached = :resolution_breached,
			response_warned = :response_warned,
			resolution_warned = :resolution_warned,
			version = version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version`, tracker)
	if err != nil {
		return slaerr.Storage("tracker update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return slaerr.Storage("tracker update result", err)
	}
	if n == 0 {
		if exists, err := s.exists(ctx, tracker.ID); err != nil {
			return err
		} else if !exists {
			return slaerr.ErrTrackerNotFound
		}
		return slaerr.ErrVersionConflict
	}

	for i := range tracker.Violations {
		v := &tracker.Violations[i]
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		v.TrackerID = tracker.ID
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO sla_violations (id, tracker_id, type, severity, violated_at, target_time, actual_time, level, message)
			VALUES (:id, :tracker_id, :type, :severity, :violated_at, :target_time, :actual_time, :level, :message)
			ON CONFLICT (id) DO NOTHING`, v); err != nil {
			return slaerr.Storage("violation insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return slaerr.Storage("tracker tx commit", err)
	}
	tracker.Version++
	return nil
}

func (s *SQLTrackerStore) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one, `SELECT 1 FROM sla_trackers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, slaerr.Storage("tracker exists", err)
	}
	return true, nil
}

// FindByID loads one tracker with its violations.
func (s *SQLTrackerStore) FindByID(ctx context.Context, id string) (*models.SlaTracker, error) {
	var tracker models.SlaTracker
	err := s.db.GetContext(ctx, &tracker, `SELECT `+trackerColumns+` FROM sla_trackers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, slaerr.ErrTrackerNotFound
	}
	if err != nil {
		return nil, slaerr.Storage("tracker select", err)
	}
	if err := s.loadViolations(ctx, &tracker); err != nil {
		return nil, err
	}
	return &tracker, nil
}

// FindByEntity loads the tracker bound to one business entity.
func (s *SQLTrackerStore) FindByEntity(ctx context.Context, entityType, entityID string) (*models.SlaTracker, error) {
	var tracker models.SlaTracker
	err := s.db.GetContext(ctx, &tracker,
		`SELECT `+trackerColumns+` FROM sla_trackers WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, slaerr.ErrTrackerNotFound
	}
	if err != nil {
		return nil, slaerr.Storage("tracker select by entity", err)
	}
	if err := s.loadViolations(ctx, &tracker); err != nil {
		return nil, err
	}
	return &tracker, nil
}

// FindDueForCheck implements the scan query server-side, ordered by earliest
// open deadline.
func (s *SQLTrackerStore) FindDueForCheck(ctx context.Context, now time.Time, horizon time.Duration, limit int) ([]*models.SlaTracker, error) {
	cutoff := now.Add(horizon)
	var trackers []models.SlaTracker
	err := s.db.SelectContext(ctx, &trackers, `
		SELECT `+trackerColumns+` FROM sla_trackers
		WHERE status IN ('active', 'violated')
		  AND (
			(responded_at IS NULL AND response_deadline < $1)
			OR (resolved_at IS NULL AND resolution_deadline < $1)
			OR status = 'violated'
		  )
		ORDER BY LEAST(
			CASE WHEN responded_at IS NULL THEN response_deadline ELSE resolution_deadline END,
			resolution_deadline
		)
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, slaerr.Storage("tracker select due", err)
	}
	out := make([]*models.SlaTracker, 0, len(trackers))
	for i := range trackers {
		t := trackers[i]
		if err := s.loadViolations(ctx, &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, nil
}

// List returns trackers matching the filter, newest first.
func (s *SQLTrackerStore) List(ctx context.Context, filter TrackerFilter) ([]*models.SlaTracker, error) {
	query := `SELECT ` + trackerColumns + ` FROM sla_trackers WHERE 1=1`
	var args []interface{}
	n := 0
	arg := func(v interface{}) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if filter.EntityType != "" {
		query += ` AND entity_type = ` + arg(filter.EntityType)
	}
	if !filter.CreatedFrom.IsZero() {
		query += ` AND created_at >= ` + arg(filter.CreatedFrom)
	}
	if !filter.CreatedTo.IsZero() {
		query += ` AND created_at < ` + arg(filter.CreatedTo)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			placeholders = append(placeholders, arg(string(st)))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}

	var trackers []models.SlaTracker
	if err := s.db.SelectContext(ctx, &trackers, query, args...); err != nil {
		return nil, slaerr.Storage("tracker list", err)
	}
	out := make([]*models.SlaTracker, 0, len(trackers))
	for i := range trackers {
		t := trackers[i]
		if err := s.loadViolations(ctx, &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, nil
}

// Aggregate computes the statistics rollup in one server-side pass.
func (s *SQLTrackerStore) Aggregate(ctx context.Context, filter TrackerFilter) (*TrackerAggregate, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'active') AS active,
			COUNT(*) FILTER (WHERE status = 'paused') AS paused,
			COUNT(*) FILTER (WHERE status = 'violated') AS violated,
			COUNT(*) FILTER (WHERE status = 'resolved') AS resolved,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
			COUNT(*) FILTER (WHERE status = 'resolved' AND NOT response_breached AND NOT resolution_breached) AS resolved_within_sla,
			COUNT(responded_at) AS responded_count,
			COALESCE(SUM(EXTRACT(EPOCH FROM responded_at - created_at) / 60), 0) AS total_response_minutes,
			COUNT(resolved_at) AS resolved_count,
			COALESCE(SUM(EXTRACT(EPOCH FROM resolved_at - created_at) / 60), 0) AS total_resolution_minutes
		FROM sla_trackers WHERE 1=1`
	var args []interface{}
	n := 0
	if filter.EntityType != "" {
		n++
		query += fmt.Sprintf(" AND entity_type = $%d", n)
		args = append(args, filter.EntityType)
	}
	if !filter.CreatedFrom.IsZero() {
		n++
		query += fmt.Sprintf(" AND created_at >= $%d", n)
		args = append(args, filter.CreatedFrom)
	}
	if !filter.CreatedTo.IsZero() {
		n++
		query += fmt.Sprintf(" AND created_at < $%d", n)
		args = append(args, filter.CreatedTo)
	}

	row := s.db.QueryRowxContext(ctx, query, args...)
	agg := &TrackerAggregate{}
	err := row.Scan(
		&agg.Total, &agg.Active, &agg.Paused, &agg.Violated, &agg.Resolved,
		&agg.Cancelled, &agg.ResolvedWithinSla,
		&agg.RespondedCount, &agg.TotalResponseMinutes,
		&agg.ResolvedCount, &agg.TotalResolutionMinutes,
	)
	if err != nil {
		return nil, slaerr.Storage("tracker aggregate", err)
	}
	return agg, nil
}

func (s *SQLTrackerStore) loadViolations(ctx context.Context, tracker *models.SlaTracker) error {
	err := s.db.SelectContext(ctx, &tracker.Violations, `
		SELECT id, tracker_id, type, severity, violated_at, target_time, actual_time, level, message
		FROM sla_violations WHERE tracker_id = $1 ORDER BY violated_at`, tracker.ID)
	if err != nil {
		return slaerr.Storage("violation select", err)
	}
	return nil
}
