package sla

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/sla-engine/internal/models"
	"github.com/gotrs-io/sla-engine/internal/repository"
	"github.com/gotrs-io/sla-engine/internal/slaerr"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CheckInterval = time.Second
	cfg.MaxConcurrentProcessing = 2
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults are valid", func(*Config) {}, true},
		{"zero interval", func(c *Config) { c.CheckInterval = 0 }, false},
		{"negative interval", func(c *Config) { c.CheckInterval = -time.Second }, false},
		{"zero concurrency", func(c *Config) { c.MaxConcurrentProcessing = 0 }, false},
		{"zero storage timeout", func(c *Config) { c.StorageTimeout = 0 }, false},
		{"zero batch limit", func(c *Config) { c.ScanBatchLimit = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				assert.True(t, slaerr.IsValidation(err))
			}
		})
	}

	t.Run("all failures reported together", func(t *testing.T) {
		cfg := Config{}
		err := cfg.Validate()
		var verr *slaerr.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Len(t, verr.Violations, 4)
	})
}

func TestRunCycleDetectsResponseBreachOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	template := env.addTemplate(t, ticketTemplate())

	tracker, err := env.lifecycle.CreateTracker(ctx, "ticket", "TK-1", template.ID, 1)
	require.NoError(t, err)

	engine := env.newEngine(t, testConfig())

	// 61 minutes after creation: both deadlines (30/60min) are past, the
	// overshoots are 31min and 1min.
	env.clock.Advance(61 * time.Minute)
	require.NoError(t, engine.RunCycle(ctx))

	got, err := env.trackers.FindByID(ctx, tracker.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackerViolated, got.Status)
	assert.True(t, got.ResponseBreached)
	assert.True(t, got.ResolutionBreached)
	require.Len(t, got.Violations, 2)

	byType := map[models.ViolationType]models.SlaViolation{}
	for _, v := range got.Violations {
		byType[v.Type] = v
	}
	assert.Equal(t, models.SeverityMajor, byType[models.ViolationResponse].Severity)
	assert.Equal(t, models.SeverityMinor, byType[models.ViolationResolution].Severity)

	// A later cycle must not duplicate either violation.
	env.clock.Advance(4 * time.Minute)
	require.NoError(t, engine.RunCycle(ctx))

	got, err = env.trackers.FindByID(ctx, tracker.ID)
	require.NoError(t, err)
	breachCount := 0
	for _, v := range got.Violations {
		if v.Type != models.ViolationEscalation {
			breachCount++
		}
	}
	assert.Equal(t, 2, breachCount)
}

func TestRunCycleSkipsPausedAndRespondedTrackers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	template := env.addTemplate(t, ticketTemplate())

	responded, err := env.lifecycle.CreateTracker(ctx, "ticket", "TK-RESP", template.ID, 1)
	require.NoError(t, err)
	_, err = env.lifecycle.RecordResponse(ctx, responded.ID, env.clock.Now().Add(5*time.Minute))
	require.NoError(t, err)

	paused, err := env.lifecycle.CreateTracker(ctx, "ticket", "TK-PAUSE", template.ID, 1)
	require.NoError(t, err)
	_, err = env.lifecycle.Pause(ctx, paused.ID)
	require.NoError(t, err)

	engine := env.newEngine(t, testConfig())
	env.clock.Advance(45 * time.Minute)
	require.NoError(t, engine.RunCycle(ctx))

	got, err := env.trackers.FindByID(ctx, responded.ID)
	require.NoError(t, err)
	assert.False(t, got.ResponseBreached, "met response deadline must not breach")
	assert.False(t, got.ResolutionBreached, "resolution deadline not yet due")

	got, err = env.trackers.FindByID(ctx, paused.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackerPaused, got.Status)
	assert.Empty(t, got.Violations, "paused trackers are excluded from scans")
}

func TestRunCycleEscalatesOneLevelPerCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	template := env.addTemplate(t, ticketTemplate())

	tracker, err := env.lifecycle.CreateTracker(ctx, "ticket", "TK-1", template.ID, 1)
	require.NoError(t, err)

	engine := env.newEngine(t, testConfig())

	// Far past every deadline and delay. The first cycle records the
	// breaches and fires level 1; the second fires level 2.
	env.clock.Advance(6 * time.Hour)
	require.NoError(t, engine.RunCycle(ctx))

	got, err := env.trackers.FindByID(ctx, tracker.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EscalationLevel)

	require.NoError(t, engine.RunCycle(ctx))
	got, err = env.trackers.FindByID(ctx, tracker.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.EscalationLevel)

	// Level 1 email, then level 2 email + SMS.
	assert.Len(t, env.sink.Actions(), 3)
}

func TestRunCycleEmitsWarningsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	template := ticketTemplate()
	template.ResponseWarnPct = 80
	env.addTemplate(t, template)

	tracker, err := env.lifecycle.CreateTracker(ctx, "ticket", "TK-1", template.ID, 1)
	require.NoError(t, err)

	engine := env.newEngine(t, testConfig())

	// 25 of 30 minutes consumed: past the 80% warn threshold, not breached.
	env.clock.Advance(25 * time.Minute)
	require.NoError(t, engine.RunCycle(ctx))

	got, err := env.trackers.FindByID(ctx, tracker.ID)
	require.NoError(t, err)
	assert.True(t, got.ResponseWarned)
	assert.False(t, got.ResponseBreached)
	assert.Equal(t, models.TrackerActive, got.Status)
	require.Len(t, env.sink.Actions(), 1)
	assert.Equal(t, models.ActionTicketUpdate, env.sink.Actions()[0].Type)

	// The warning is one-shot.
	env.clock.Advance(2 * time.Minute)
	require.NoError(t, engine.RunCycle(ctx))
	assert.Len(t, env.sink.Actions(), 1)
}

// saveFailingStore fails Save for one tracker id, letting isolation tests
// break a single record while the rest of the batch proceeds.
type saveFailingStore struct {
	repository.TrackerStore
	failID string
}

var errDiskOnFire = errors.New("disk on fire")

func (s *saveFailingStore) Save(ctx context.Context, tracker *models.SlaTracker) error {
	if tracker.ID == s.failID {
		return errDiskOnFire
	}
	return s.TrackerStore.Save(ctx, tracker)
}

func TestRunCycleIsolatesPerTrackerFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	template := env.addTemplate(t, ticketTemplate())

	a, err := env.lifecycle.CreateTracker(ctx, "ticket", "TK-A", template.ID, 1)
	require.NoError(t, err)
	b, err := env.lifecycle.CreateTracker(ctx, "ticket", "TK-B", template.ID, 1)
	require.NoError(t, err)

	failing := &saveFailingStore{TrackerStore: env.trackers, failID: a.ID}
	engine, err := NewEngine(env.registry, failing, env.sink, testConfig(),
		WithClock(env.clock), WithLogger(testLogger(t)))
	require.NoError(t, err)

	env.clock.Advance(45 * time.Minute)
	require.NoError(t, engine.RunCycle(ctx))

	// B was processed despite A's storage failure.
	gotB, err := env.trackers.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, gotB.ResponseBreached)

	gotA, err := env.trackers.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, gotA.ResponseBreached, "failed save must not persist")

	assert.Contains(t, engine.LastError(), "disk on fire")

	// A is retried on the next healthy cycle.
	healthy, err := NewEngine(env.registry, env.trackers, env.sink, testConfig(),
		WithClock(env.clock), WithLogger(testLogger(t)))
	require.NoError(t, err)
	require.NoError(t, healthy.RunCycle(ctx))

	gotA, err = env.trackers.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, gotA.ResponseBreached)
}

// stubLock is an in-process CycleLock for contention tests.
type stubLock struct{ held bool }

func (l *stubLock) TryAcquire(context.Context) (bool, func(), error) {
	if l.held {
		return false, nil, nil
	}
	l.held = true
	return true, func() { l.held = false }, nil
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	template := env.addTemplate(t, ticketTemplate())

	tracker, err := env.lifecycle.CreateTracker(ctx, "ticket", "TK-1", template.ID, 1)
	require.NoError(t, err)

	lock := &stubLock{held: true}
	engine, err := NewEngine(env.registry, env.trackers, env.sink, testConfig(),
		WithClock(env.clock), WithLogger(testLogger(t)), WithCycleLock(lock))
	require.NoError(t, err)

	env.clock.Advance(45 * time.Minute)
	require.NoError(t, engine.RunCycle(ctx))

	got, err := env.trackers.FindByID(ctx, tracker.ID)
	require.NoError(t, err)
	assert.False(t, got.ResponseBreached, "a contended cycle must not process")

	lock.held = false
	require.NoError(t, engine.RunCycle(ctx))
	got, err = env.trackers.FindByID(ctx, tracker.ID)
	require.NoError(t, err)
	assert.True(t, got.ResponseBreached)
}

func TestEngineHealth(t *testing.T) {
	env := newTestEnv(t)
	engine := env.newEngine(t, testConfig())

	assert.Equal(t, models.HealthUnhealthy, engine.Health().Status, "stopped engine is unhealthy")

	require.NoError(t, engine.Start())
	defer engine.Stop()
	require.NoError(t, engine.RunCycle(context.Background()))
	assert.Equal(t, models.HealthHealthy, engine.Health().Status)

	// Enough recent errors degrade the engine without stopping it.
	for i := 0; i < engine.Configuration().DegradedErrorThreshold; i++ {
		engine.recordError("trk", errDiskOnFire)
	}
	assert.Equal(t, models.HealthDegraded, engine.Health().Status)

	// Errors age out of the rolling window.
	env.clock.Advance(engine.Configuration().ErrorWindow + time.Minute)
	engine.heartbeat(env.clock.Now())
	assert.Equal(t, models.HealthHealthy, engine.Health().Status)
}

func TestEngineUpdateConfiguration(t *testing.T) {
	env := newTestEnv(t)
	engine := env.newEngine(t, testConfig())

	bad := engine.Configuration()
	bad.MaxConcurrentProcessing = -1
	err := engine.UpdateConfiguration(bad)
	assert.True(t, slaerr.IsValidation(err))
	assert.Equal(t, testConfig(), engine.Configuration(), "rejected update must not apply")

	good := engine.Configuration()
	good.CheckInterval = 5 * time.Second
	good.ScanBatchLimit = 50
	require.NoError(t, engine.UpdateConfiguration(good))
	assert.Equal(t, good, engine.Configuration())
}

func TestEngineSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	template := env.addTemplate(t, ticketTemplate())

	_, err := env.lifecycle.CreateTracker(ctx, "ticket", "TK-1", template.ID, 1)
	require.NoError(t, err)
	_, err = env.lifecycle.CreateTracker(ctx, "ticket", "TK-2", template.ID, 1)
	require.NoError(t, err)

	engine := env.newEngine(t, testConfig())

	// Push TK-2 far past its deadlines so its breach grades critical.
	env.clock.Advance(3 * time.Hour)
	require.NoError(t, engine.RunCycle(ctx))

	snap, err := engine.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ActiveTrackers, "active and violated both count as in-flight")
	assert.Equal(t, 2, snap.CriticalBreaches)
}
