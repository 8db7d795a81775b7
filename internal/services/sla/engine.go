package sla

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/gotrs-io/sla-engine/internal/models"
	"github.com/gotrs-io/sla-engine/internal/notifications"
	"github.com/gotrs-io/sla-engine/internal/repository"
	"github.com/gotrs-io/sla-engine/internal/slaerr"
)

// Config is the engine's runtime configuration. Updates apply on the next
// cycle, never mid-cycle.
type Config struct {
	CheckInterval             time.Duration `json:"check_interval"`
	MaxConcurrentProcessing   int           `json:"max_concurrent_processing"`
	EnablePredictiveAnalytics bool          `json:"enable_predictive_analytics"`
	StorageTimeout            time.Duration `json:"storage_timeout"`
	ScanHorizon               time.Duration `json:"scan_horizon"`
	ScanBatchLimit            int           `json:"scan_batch_limit"`
	DegradedErrorThreshold    int           `json:"degraded_error_threshold"`
	ErrorWindow               time.Duration `json:"error_window"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:             30 * time.Second,
		MaxConcurrentProcessing:   8,
		EnablePredictiveAnalytics: true,
		StorageTimeout:            5 * time.Second,
		ScanHorizon:               24 * time.Hour,
		ScanBatchLimit:            1000,
		DegradedErrorThreshold:    5,
		ErrorWindow:               5 * time.Minute,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var violations []string
	if c.CheckInterval <= 0 {
		violations = append(violations, fmt.Sprintf("check interval must be positive, got %s", c.CheckInterval))
	}
	if c.MaxConcurrentProcessing <= 0 {
		violations = append(violations, fmt.Sprintf("max concurrent processing must be positive, got %d", c.MaxConcurrentProcessing))
	}
	if c.StorageTimeout <= 0 {
		violations = append(violations, fmt.Sprintf("storage timeout must be positive, got %s", c.StorageTimeout))
	}
	if c.ScanBatchLimit <= 0 {
		violations = append(violations, fmt.Sprintf("scan batch limit must be positive, got %d", c.ScanBatchLimit))
	}
	return slaerr.NewValidation(violations)
}

// Engine runs the periodic breach detection and escalation cycle and serves
// the synchronous status surface. Construct with NewEngine; there is no
// package-level instance.
type Engine struct {
	registry  *Registry
	trackers  repository.TrackerStore
	escalator *Escalator
	sink      notifications.Sink
	clock     Clock
	logger    *log.Logger
	metrics   *engineMetrics
	lock      CycleLock

	mu            sync.RWMutex
	cfg           Config
	cron          *cron.Cron
	entryID       cron.EntryID
	running       bool
	startedAt     time.Time
	lastHeartbeat time.Time
	lastError     string
	errorTimes    []time.Time

	cycleMu sync.Mutex // serializes scan cycles; Stop waits on it
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithClock injects the time source.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithLogger injects a custom logger.
func WithLogger(l *log.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithCycleLock coordinates scan cycles across instances.
func WithCycleLock(l CycleLock) EngineOption {
	return func(e *Engine) { e.lock = l }
}

// WithMetricsRegisterer registers the engine's instruments with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) { e.metrics = newEngineMetrics(reg) }
}

// NewEngine wires an engine instance from its injected collaborators.
func NewEngine(registry *Registry, trackers repository.TrackerStore, sink notifications.Sink, cfg Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		registry: registry,
		trackers: trackers,
		sink:     sink,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = SystemClock()
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	if e.metrics == nil {
		e.metrics = newEngineMetrics(nil)
	}
	e.escalator = NewEscalator(sink, e.clock, e.logger)
	return e, nil
}

// Start arms the periodic scan. Calling Start on a running engine is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	now := e.clock.Now()
	e.cron = cron.New()
	e.entryID = e.cron.Schedule(cron.Every(e.cfg.CheckInterval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CheckInterval*3)
		defer cancel()
		if err := e.RunCycle(ctx); err != nil {
			e.logger.Printf("sla: scan cycle failed: %v", err)
		}
	}))
	e.cron.Start()
	e.running = true
	e.startedAt = now
	e.lastHeartbeat = now
	e.logger.Printf("sla: engine started (interval %s, concurrency %d)", e.cfg.CheckInterval, e.cfg.MaxConcurrentProcessing)
	return nil
}

// Stop disarms the timers and waits for an in-flight cycle to finish. A
// stopped engine arms no new timers until Start is called again.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stopCtx := e.cron.Stop()
	e.mu.Unlock()

	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		e.logger.Printf("sla: timed out waiting for scan cycle to finish")
	}

	// Until the cycle mutex is free the last cycle is still writing.
	e.cycleMu.Lock()
	e.cycleMu.Unlock() //nolint:staticcheck // empty critical section is the wait
	e.logger.Printf("sla: engine stopped")
}

// RunCycle executes one detect-then-escalate pass. Failures are isolated per
// tracker: one bad record never halts enforcement for the rest of the
// population.
func (e *Engine) RunCycle(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	cfg := e.Configuration()

	if e.lock != nil {
		ok, release, err := e.lock.TryAcquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire scan lock: %w", err)
		}
		if !ok {
			e.metrics.cyclesSkipped.Inc()
			e.logger.Printf("sla: scan lock held elsewhere, skipping cycle")
			return nil
		}
		defer release()
	}

	start := e.clock.Now()
	e.heartbeat(start)

	due, err := e.trackers.FindDueForCheck(ctx, start, cfg.ScanHorizon, cfg.ScanBatchLimit)
	if err != nil {
		e.recordError("", fmt.Errorf("find due trackers: %w", err))
		return err
	}
	e.metrics.dueTrackers.Set(float64(len(due)))

	sem := make(chan struct{}, cfg.MaxConcurrentProcessing)
	var wg sync.WaitGroup
	for _, tracker := range due {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(tr *models.SlaTracker) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					e.recordError(tr.ID, fmt.Errorf("panic: %v", r))
				}
			}()

			opCtx, cancel := context.WithTimeout(ctx, cfg.StorageTimeout)
			defer cancel()
			if err := e.processTracker(opCtx, tr); err != nil {
				e.recordError(tr.ID, err)
			}
			e.metrics.processed.Inc()
		}(tracker)
	}
	wg.Wait()

	e.metrics.cycles.Inc()
	e.metrics.cycleDuration.Observe(time.Since(start).Seconds())
	return ctx.Err()
}

// processTracker applies breach detection, warning thresholds and at most one
// escalation level to a single tracker, then saves atomically.
func (e *Engine) processTracker(ctx context.Context, tracker *models.SlaTracker) error {
	if tracker.IsTerminal() || tracker.Status == models.TrackerPaused {
		return nil
	}

	template, err := e.registry.TemplateFor(ctx, tracker.TemplateID)
	if err != nil {
		return fmt.Errorf("resolve template %s: %w", tracker.TemplateID, err)
	}

	now := e.clock.Now()
	changed := false

	if e.detectBreach(tracker, models.ViolationResponse, tracker.ResponseDeadline, now) {
		changed = true
	}
	if e.detectBreach(tracker, models.ViolationResolution, tracker.ResolutionDeadline, now) {
		changed = true
	}
	if e.emitWarnings(ctx, tracker, template, now) {
		changed = true
	}

	if tracker.Status == models.TrackerViolated {
		if e.escalator.Process(ctx, tracker, template) {
			e.metrics.escalations.Inc()
			changed = true
		}
	}

	if !changed {
		return nil
	}
	if err := e.trackers.Save(ctx, tracker); err != nil {
		return fmt.Errorf("save tracker: %w", err)
	}
	return nil
}

// detectBreach flags one deadline type at most once per tracker lifetime.
func (e *Engine) detectBreach(tracker *models.SlaTracker, vtype models.ViolationType, deadline time.Time, now time.Time) bool {
	switch vtype {
	case models.ViolationResponse:
		if tracker.ResponseBreached || tracker.RespondedAt != nil {
			return false
		}
	case models.ViolationResolution:
		if tracker.ResolutionBreached || tracker.ResolvedAt != nil {
			return false
		}
	default:
		return false
	}
	if !now.After(deadline) {
		return false
	}

	overshoot := now.Sub(deadline)
	severity := models.SeverityForOvershoot(overshoot)
	tracker.Violations = append(tracker.Violations, models.SlaViolation{
		ID:         uuid.NewString(),
		TrackerID:  tracker.ID,
		Type:       vtype,
		Severity:   severity,
		ViolatedAt: now,
		TargetTime: deadline,
	})
	if vtype == models.ViolationResponse {
		tracker.ResponseBreached = true
	} else {
		tracker.ResolutionBreached = true
	}
	if tracker.Status != models.TrackerViolated {
		tracker.Status = models.TrackerViolated
	}

	e.metrics.breaches.WithLabelValues(string(vtype), string(severity)).Inc()
	e.logger.Printf("sla: tracker %s breached %s deadline by %s (%s)", tracker.ID, vtype, overshoot.Round(time.Second), severity)
	return true
}

// emitWarnings fires a one-shot pre-breach notification when the consumed
// share of a budget crosses the template's warning percentage.
func (e *Engine) emitWarnings(ctx context.Context, tracker *models.SlaTracker, template *models.SlaTemplate, now time.Time) bool {
	changed := false

	if template.ResponseWarnPct > 0 && !tracker.ResponseWarned && !tracker.ResponseBreached && tracker.RespondedAt == nil {
		if pastWarnThreshold(now, tracker.ResponseDeadline, template.ResponseMinutes, template.ResponseWarnPct) {
			e.notifyWarning(ctx, tracker, "response", template.ResponseWarnPct)
			tracker.ResponseWarned = true
			changed = true
		}
	}
	if template.ResolutionWarnPct > 0 && !tracker.ResolutionWarned && !tracker.ResolutionBreached && tracker.ResolvedAt == nil {
		if pastWarnThreshold(now, tracker.ResolutionDeadline, template.ResolutionMinutes, template.ResolutionWarnPct) {
			e.notifyWarning(ctx, tracker, "resolution", template.ResolutionWarnPct)
			tracker.ResolutionWarned = true
			changed = true
		}
	}
	return changed
}

// pastWarnThreshold reports whether the remaining share of the budget has
// shrunk below (100 - warnPct) percent.
func pastWarnThreshold(now, deadline time.Time, budgetMinutes, warnPct int) bool {
	if budgetMinutes <= 0 {
		return false
	}
	remaining := deadline.Sub(now).Minutes()
	if remaining <= 0 {
		return true
	}
	remainingPct := remaining / float64(budgetMinutes) * 100
	return remainingPct <= float64(100-warnPct)
}

func (e *Engine) notifyWarning(ctx context.Context, tracker *models.SlaTracker, budget string, warnPct int) {
	e.metrics.warnings.Inc()
	e.sink.Notify(ctx, models.EscalationAction{
		Type:    models.ActionTicketUpdate,
		Target:  tracker.EntityID,
		Message: fmt.Sprintf("SLA warning: %d%% of the %s budget is consumed", warnPct, budget),
	}, tracker)
}

// heartbeat records cycle liveness for the health check.
func (e *Engine) heartbeat(now time.Time) {
	e.mu.Lock()
	e.lastHeartbeat = now
	e.mu.Unlock()
}

// recordError counts a per-tracker failure into the rolling health window.
func (e *Engine) recordError(trackerID string, err error) {
	e.metrics.errors.Inc()
	if trackerID != "" {
		e.logger.Printf("sla: tracker %s: %v", trackerID, err)
	} else {
		e.logger.Printf("sla: %v", err)
	}

	now := e.clock.Now()
	e.mu.Lock()
	e.lastError = err.Error()
	e.errorTimes = append(e.errorTimes, now)
	cutoff := now.Add(-e.cfg.ErrorWindow)
	for len(e.errorTimes) > 0 && e.errorTimes[0].Before(cutoff) {
		e.errorTimes = e.errorTimes[1:]
	}
	e.mu.Unlock()
}

// LastError returns the most recent processing error message, empty when none.
func (e *Engine) LastError() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastError
}

// Health reports the engine health snapshot for external monitoring.
func (e *Engine) Health() models.HealthStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.clock.Now()
	cutoff := now.Add(-e.cfg.ErrorWindow)
	recent := 0
	for _, t := range e.errorTimes {
		if !t.Before(cutoff) {
			recent++
		}
	}

	status := models.HealthHealthy
	switch {
	case !e.running:
		status = models.HealthUnhealthy
	case now.Sub(e.lastHeartbeat) > 3*e.cfg.CheckInterval:
		status = models.HealthUnhealthy
	case recent >= e.cfg.DegradedErrorThreshold:
		status = models.HealthDegraded
	}

	var uptime time.Duration
	if e.running {
		uptime = now.Sub(e.startedAt)
	}
	return models.HealthStatus{
		Status:        status,
		Uptime:        uptime,
		LastHeartbeat: e.lastHeartbeat,
		RecentErrors:  recent,
		LastError:     e.lastError,
	}
}

// Snapshot returns the real-time status view.
func (e *Engine) Snapshot(ctx context.Context) (*models.StatusSnapshot, error) {
	agg, err := e.trackers.Aggregate(ctx, repository.TrackerFilter{})
	if err != nil {
		return nil, err
	}

	critical := 0
	violated, err := e.trackers.List(ctx, repository.TrackerFilter{
		Statuses: []models.TrackerStatus{models.TrackerViolated},
	})
	if err != nil {
		return nil, err
	}
	for _, tr := range violated {
		for _, v := range tr.Violations {
			if v.Severity == models.SeverityCritical {
				critical++
				break
			}
		}
	}

	return &models.StatusSnapshot{
		Timestamp:        e.clock.Now(),
		ActiveTrackers:   agg.Active + agg.Violated,
		CriticalBreaches: critical,
		SystemHealth:     e.Health().Status,
	}, nil
}

// Configuration returns a copy of the current runtime configuration.
func (e *Engine) Configuration() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// UpdateConfiguration validates and applies new runtime settings. A changed
// interval re-arms the timer; everything else is picked up by the next cycle.
func (e *Engine) UpdateConfiguration(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	intervalChanged := cfg.CheckInterval != e.cfg.CheckInterval
	e.cfg = cfg

	if e.running && intervalChanged {
		e.cron.Remove(e.entryID)
		e.entryID = e.cron.Schedule(cron.Every(cfg.CheckInterval), cron.FuncJob(func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.CheckInterval*3)
			defer cancel()
			if err := e.RunCycle(ctx); err != nil {
				e.logger.Printf("sla: scan cycle failed: %v", err)
			}
		}))
	}
	return nil
}
