package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/sla-engine/internal/models"
	"github.com/gotrs-io/sla-engine/internal/slaerr"
)

// SQLTemplateStore is the Postgres-backed TemplateStore. Escalation rules are
// stored as a JSON document next to the scalar columns.
type SQLTemplateStore struct {
	db *sqlx.DB
}

// NewSQLTemplateStore wraps the shared database handle.
func NewSQLTemplateStore(db *sqlx.DB) *SQLTemplateStore {
	return &SQLTemplateStore{db: db}
}

type templateRow struct {
	ID                string    `db:"id"`
	Name              string    `db:"name"`
	Description       string    `db:"description"`
	EntityType        string    `db:"entity_type"`
	ResponseMinutes   int       `db:"response_minutes"`
	ResolutionMinutes int       `db:"resolution_minutes"`
	BusinessHoursOnly bool      `db:"business_hours_only"`
	Calendar          string    `db:"calendar"`
	ResponseTarget    float64   `db:"response_target"`
	ResolutionTarget  float64   `db:"resolution_target"`
	ResponseWarnPct   int       `db:"response_warn_pct"`
	ResolutionWarnPct int       `db:"resolution_warn_pct"`
	IsActive          bool      `db:"is_active"`
	EscalationRules   []byte    `db:"escalation_rules"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r *templateRow) toModel() (*models.SlaTemplate, error) {
	t := &models.SlaTemplate{
		ID:                r.ID,
		Name:              r.Name,
		Description:       r.Description,
		EntityType:        r.EntityType,
		ResponseMinutes:   r.ResponseMinutes,
		ResolutionMinutes: r.ResolutionMinutes,
		BusinessHoursOnly: r.BusinessHoursOnly,
		Calendar:          r.Calendar,
		ResponseTarget:    r.ResponseTarget,
		ResolutionTarget:  r.ResolutionTarget,
		ResponseWarnPct:   r.ResponseWarnPct,
		ResolutionWarnPct: r.ResolutionWarnPct,
		IsActive:          r.IsActive,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if len(r.EscalationRules) > 0 {
		if err := json.Unmarshal(r.EscalationRules, &t.EscalationRules); err != nil {
			return nil, fmt.Errorf("decode escalation rules for template %s: %w", r.ID, err)
		}
	}
	return t, nil
}

func templateToRow(t *models.SlaTemplate) (*templateRow, error) {
	rules, err := json.Marshal(t.EscalationRules)
	if err != nil {
		return nil, fmt.Errorf("encode escalation rules: %w", err)
	}
	return &templateRow{
		ID:                t.ID,
		Name:              t.Name,
		Description:       t.Description,
		EntityType:        t.EntityType,
		ResponseMinutes:   t.ResponseMinutes,
		ResolutionMinutes: t.ResolutionMinutes,
		BusinessHoursOnly: t.BusinessHoursOnly,
		Calendar:          t.Calendar,
		ResponseTarget:    t.ResponseTarget,
		ResolutionTarget:  t.ResolutionTarget,
		ResponseWarnPct:   t.ResponseWarnPct,
		ResolutionWarnPct: t.ResolutionWarnPct,
		IsActive:          t.IsActive,
		EscalationRules:   rules,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}, nil
}

// Create inserts a new template, assigning an id when none is set.
func (s *SQLTemplateStore) Create(ctx context.Context, template *models.SlaTemplate) error {
	if template.ID == "" {
		template.ID = uuid.NewString()
	}
	now := time.Now()
	template.CreatedAt = now
	template.UpdatedAt = now

	row, err := templateToRow(template)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO sla_templates (
			id, name, description, entity_type, response_minutes, resolution_minutes,
			business_hours_only, calendar, response_target, resolution_target,
			response_warn_pct, resolution_warn_pct, is_active, escalation_rules,
			created_at, updated_at
		) VALUES (
			:id, :name, :description, :entity_type, :response_minutes, :resolution_minutes,
			:business_hours_only, :calendar, :response_target, :resolution_target,
			:response_warn_pct, :resolution_warn_pct, :is_active, :escalation_rules,
			:created_at, :updated_at
		)`, row)
	return slaerr.Storage("template insert", err)
}

// Update replaces an existing template's policy fields.
func (s *SQLTemplateStore) Update(ctx context.Context, template *models.SlaTemplate) error {
	template.UpdatedAt = time.Now()
	row, err := templateToRow(template)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE sla_templates SET
			name = :name, description = :description, entity_type = :entity_type,
			response_minutes = :response_minutes, resolution_minutes = :resolution_minutes,
			business_hours_only = :business_hours_only, calendar = :calendar,
			response_target = :response_target, resolution_target = :resolution_target,
			response_warn_pct = :response_warn_pct, resolution_warn_pct = :resolution_warn_pct,
			is_active = :is_active, escalation_rules = :escalation_rules,
			updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return slaerr.Storage("template update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return slaerr.ErrTemplateNotFound
	}
	return nil
}

// FindByID loads one template by id.
func (s *SQLTemplateStore) FindByID(ctx context.Context, id string) (*models.SlaTemplate, error) {
	var row templateRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sla_templates WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, slaerr.ErrTemplateNotFound
	}
	if err != nil {
		return nil, slaerr.Storage("template select", err)
	}
	return row.toModel()
}

// FindActive loads all active templates.
func (s *SQLTemplateStore) FindActive(ctx context.Context) ([]models.SlaTemplate, error) {
	var rows []templateRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM sla_templates WHERE is_active = true ORDER BY name`)
	if err != nil {
		return nil, slaerr.Storage("template select active", err)
	}
	out := make([]models.SlaTemplate, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}
