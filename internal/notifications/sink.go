// Package notifications defines the delivery boundary of the SLA engine.
// The engine decides that and to whom a notification fires; delivery (email,
// SMS, ticket updates) is the sink implementation's concern.
package notifications

import (
	"context"
	"log"

	"github.com/gotrs-io/sla-engine/internal/models"
)

// Sink receives escalation actions. Implementations must not surface delivery
// failures to the caller; the engine treats Notify as fire-and-forget.
type Sink interface {
	Notify(ctx context.Context, action models.EscalationAction, tracker *models.SlaTracker)
}

// LogSink writes notifications to a logger. It is the default sink and a
// useful trace during development.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a sink writing to the given logger, log.Default() if nil.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

// Notify logs the action.
func (s *LogSink) Notify(ctx context.Context, action models.EscalationAction, tracker *models.SlaTracker) {
	s.logger.Printf("notify: %s to %s for %s/%s (tracker %s, level %d)",
		action.Type, action.Target, tracker.EntityType, tracker.EntityID, tracker.ID, tracker.EscalationLevel)
}

// MultiSink fans one notification out to several sinks.
type MultiSink []Sink

// Notify forwards the action to every sink.
func (m MultiSink) Notify(ctx context.Context, action models.EscalationAction, tracker *models.SlaTracker) {
	for _, s := range m {
		s.Notify(ctx, action, tracker)
	}
}
