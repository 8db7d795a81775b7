package sla

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gotrs-io/sla-engine/internal/models"
	"github.com/gotrs-io/sla-engine/internal/repository"
	"github.com/gotrs-io/sla-engine/internal/slaerr"
)

// Registry caches the active SLA templates. Templates are configuration:
// created and updated by collaborators, read-only to the engine.
type Registry struct {
	store  repository.TemplateStore
	logger *log.Logger

	mu        sync.RWMutex
	templates map[string]*models.SlaTemplate
}

// NewRegistry creates a registry over the template store.
func NewRegistry(store repository.TemplateStore, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		store:     store,
		logger:    logger,
		templates: make(map[string]*models.SlaTemplate),
	}
}

// LoadTemplates loads all active templates from the store, skipping (and
// logging) any that fail validation so one bad template cannot block the rest.
func (r *Registry) LoadTemplates(ctx context.Context) error {
	templates, err := r.store.FindActive(ctx)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	loaded := make(map[string]*models.SlaTemplate, len(templates))
	for i := range templates {
		t := templates[i]
		if err := ValidateTemplate(&t); err != nil {
			r.logger.Printf("sla: skipping invalid template %s (%s): %v", t.ID, t.Name, err)
			continue
		}
		loaded[t.ID] = &t
	}

	r.mu.Lock()
	r.templates = loaded
	r.mu.Unlock()

	r.logger.Printf("sla: loaded %d template(s)", len(loaded))
	return nil
}

// Get returns the active template by id. Unknown or inactive ids yield
// ErrTemplateNotFound; the registry falls through to the store so templates
// created after the last load are still resolvable.
func (r *Registry) Get(ctx context.Context, id string) (*models.SlaTemplate, error) {
	r.mu.RLock()
	t, ok := r.templates[id]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := r.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, slaerr.ErrTemplateNotFound
	}
	if err := ValidateTemplate(t); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.templates[t.ID] = t
	r.mu.Unlock()
	return t, nil
}

// TemplateFor resolves the template an existing tracker references. Unlike
// Get it accepts inactive templates: deactivation stops new attachments but
// trackers already bound to the template stay valid.
func (r *Registry) TemplateFor(ctx context.Context, id string) (*models.SlaTemplate, error) {
	r.mu.RLock()
	t, ok := r.templates[id]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := r.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// All returns the currently cached templates.
func (r *Registry) All() []*models.SlaTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.SlaTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	return out
}

// ValidateTemplate checks a template against every policy rule and reports
// all failures at once, so a configuration UI can show the complete list.
func ValidateTemplate(t *models.SlaTemplate) error {
	var violations []string

	if t.EntityType == "" {
		violations = append(violations, "entity type must not be empty")
	}
	if t.ResponseMinutes <= 0 {
		violations = append(violations, fmt.Sprintf("response budget must be positive, got %d", t.ResponseMinutes))
	}
	if t.ResolutionMinutes <= 0 {
		violations = append(violations, fmt.Sprintf("resolution budget must be positive, got %d", t.ResolutionMinutes))
	}
	if t.ResponseMinutes > 0 && t.ResolutionMinutes > 0 && t.ResolutionMinutes < t.ResponseMinutes {
		violations = append(violations, "resolution budget must not be shorter than response budget")
	}
	if t.ResponseWarnPct < 0 || t.ResponseWarnPct > 100 {
		violations = append(violations, "response warning percentage must be within [0,100]")
	}
	if t.ResolutionWarnPct < 0 || t.ResolutionWarnPct > 100 {
		violations = append(violations, "resolution warning percentage must be within [0,100]")
	}

	lastLevel := 0
	seen := make(map[int]bool)
	for i, rule := range t.EscalationRules {
		if rule.Level < 1 {
			violations = append(violations, fmt.Sprintf("escalation rule %d: level must be >= 1", i))
		}
		if seen[rule.Level] {
			violations = append(violations, fmt.Sprintf("escalation rule %d: duplicate level %d", i, rule.Level))
		}
		seen[rule.Level] = true
		if rule.Level <= lastLevel {
			violations = append(violations, fmt.Sprintf("escalation rule %d: levels must be ascending", i))
		}
		lastLevel = rule.Level
		if rule.DelayMinutes < 0 {
			violations = append(violations, fmt.Sprintf("escalation rule %d: trigger delay must not be negative", i))
		}
		for j, action := range rule.Actions {
			if !models.KnownActionType(action.Type) {
				violations = append(violations, fmt.Sprintf("escalation rule %d action %d: unknown type %q", i, j, action.Type))
			}
		}
	}

	return slaerr.NewValidation(violations)
}
