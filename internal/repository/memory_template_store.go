package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gotrs-io/sla-engine/internal/models"
	"github.com/gotrs-io/sla-engine/internal/slaerr"
)

// MemoryTemplateStore is an in-memory TemplateStore used for tests and
// single-node deployments without a database.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*models.SlaTemplate
}

// NewMemoryTemplateStore creates an empty in-memory template store.
func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{templates: make(map[string]*models.SlaTemplate)}
}

// Create stores a new template, assigning an id when none is set.
func (s *MemoryTemplateStore) Create(ctx context.Context, template *models.SlaTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if template.ID == "" {
		template.ID = uuid.NewString()
	}
	if _, exists := s.templates[template.ID]; exists {
		return fmt.Errorf("template %s already exists", template.ID)
	}
	now := time.Now()
	template.CreatedAt = now
	template.UpdatedAt = now

	stored := cloneTemplate(template)
	s.templates[template.ID] = stored
	return nil
}

// Update replaces an existing template.
func (s *MemoryTemplateStore) Update(ctx context.Context, template *models.SlaTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[template.ID]; !exists {
		return slaerr.ErrTemplateNotFound
	}
	template.UpdatedAt = time.Now()
	s.templates[template.ID] = cloneTemplate(template)
	return nil
}

// FindByID returns a copy of the template or ErrTemplateNotFound.
func (s *MemoryTemplateStore) FindByID(ctx context.Context, id string) (*models.SlaTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.templates[id]
	if !exists {
		return nil, slaerr.ErrTemplateNotFound
	}
	return cloneTemplate(t), nil
}

// FindActive returns copies of all active templates.
func (s *MemoryTemplateStore) FindActive(ctx context.Context) ([]models.SlaTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SlaTemplate
	for _, t := range s.templates {
		if t.IsActive {
			out = append(out, *cloneTemplate(t))
		}
	}
	return out, nil
}

func cloneTemplate(t *models.SlaTemplate) *models.SlaTemplate {
	c := *t
	if t.EscalationRules != nil {
		c.EscalationRules = make([]models.EscalationRule, len(t.EscalationRules))
		copy(c.EscalationRules, t.EscalationRules)
		for i := range c.EscalationRules {
			r := &c.EscalationRules[i]
			if r.Conditions != nil {
				conds := make([]models.EscalationCondition, len(r.Conditions))
				copy(conds, r.Conditions)
				r.Conditions = conds
			}
			if r.Actions != nil {
				acts := make([]models.EscalationAction, len(r.Actions))
				copy(acts, r.Actions)
				r.Actions = acts
			}
		}
	}
	return &c
}
