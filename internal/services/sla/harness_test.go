package sla

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/sla-engine/internal/models"
	"github.com/gotrs-io/sla-engine/internal/repository"
	"github.com/gotrs-io/sla-engine/internal/services/businesshours"
)

// testLogger keeps engine goroutine output away from the test framework.
func testLogger(_ *testing.T) *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fixedClock is a settable time source for deterministic deadline tests.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(at time.Time) *fixedClock {
	return &fixedClock{now: at}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingSink captures notifications for assertions.
type recordingSink struct {
	mu      sync.Mutex
	actions []models.EscalationAction
}

func (s *recordingSink) Notify(_ context.Context, action models.EscalationAction, _ *models.SlaTracker) {
	s.mu.Lock()
	s.actions = append(s.actions, action)
	s.mu.Unlock()
}

func (s *recordingSink) Actions() []models.EscalationAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EscalationAction, len(s.actions))
	copy(out, s.actions)
	return out
}

// testEnv bundles the collaborators most sla tests need.
type testEnv struct {
	templates *repository.MemoryTemplateStore
	trackers  *repository.MemoryTrackerStore
	registry  *Registry
	calendars *businesshours.Service
	clock     *fixedClock
	sink      *recordingSink
	lifecycle *Lifecycle
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	calendars, err := businesshours.NewService(nil)
	require.NoError(t, err)

	// A Monday morning, so wall-clock and business-hour math agree.
	start := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	clock := newFixedClock(start)

	env := &testEnv{
		templates: repository.NewMemoryTemplateStore(),
		trackers:  repository.NewMemoryTrackerStore(),
		calendars: calendars,
		clock:     clock,
		sink:      &recordingSink{},
	}
	env.registry = NewRegistry(env.templates, testLogger(t))
	env.lifecycle = NewLifecycle(env.registry, env.trackers, env.calendars, clock, testLogger(t))
	return env
}

func (env *testEnv) addTemplate(t *testing.T, template *models.SlaTemplate) *models.SlaTemplate {
	t.Helper()
	require.NoError(t, env.templates.Create(context.Background(), template))
	require.NoError(t, env.registry.LoadTemplates(context.Background()))
	return template
}

func (env *testEnv) newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	engine, err := NewEngine(env.registry, env.trackers, env.sink, cfg,
		WithClock(env.clock), WithLogger(testLogger(t)))
	require.NoError(t, err)
	return engine
}

// ticketTemplate is the standard fixture: 30min response, 60min resolution,
// wall-clock deadlines, two escalation levels.
func ticketTemplate() *models.SlaTemplate {
	return &models.SlaTemplate{
		Name:              "standard-ticket",
		EntityType:        "ticket",
		ResponseMinutes:   30,
		ResolutionMinutes: 60,
		IsActive:          true,
		EscalationRules: []models.EscalationRule{
			{
				Level:        1,
				DelayMinutes: 10,
				Actions: []models.EscalationAction{
					{Type: models.ActionEmail, Target: "team-lead@example.com"},
				},
			},
			{
				Level:        2,
				DelayMinutes: 30,
				Actions: []models.EscalationAction{
					{Type: models.ActionEmail, Target: "manager@example.com"},
					{Type: models.ActionSMS, Target: "+15550100"},
				},
			},
		},
	}
}
