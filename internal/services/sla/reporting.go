package sla

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/gotrs-io/sla-engine/internal/models"
	"github.com/gotrs-io/sla-engine/internal/repository"
	"github.com/gotrs-io/sla-engine/internal/slaerr"
)

// Reporter computes compliance statistics and reports from tracker state.
// Every figure is derived on demand; nothing here mutates trackers.
type Reporter struct {
	trackers repository.TrackerStore
	clock    Clock
}

// NewReporter builds a reporting service over the tracker store.
func NewReporter(trackers repository.TrackerStore, clock Clock) *Reporter {
	if clock == nil {
		clock = SystemClock()
	}
	return &Reporter{trackers: trackers, clock: clock}
}

// Statistics returns the aggregate compliance view for the filtered tracker
// population. The compliance rate is 0 when nothing has resolved yet and is
// always clamped to [0,100].
func (r *Reporter) Statistics(ctx context.Context, filter repository.TrackerFilter) (*models.SlaStatistics, error) {
	agg, err := r.trackers.Aggregate(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("aggregate trackers: %w", err)
	}
	return statisticsFromAggregate(agg), nil
}

func statisticsFromAggregate(agg *repository.TrackerAggregate) *models.SlaStatistics {
	stats := &models.SlaStatistics{
		TotalTrackers:     agg.Total,
		ActiveTrackers:    agg.Active,
		PausedTrackers:    agg.Paused,
		ViolatedTrackers:  agg.Violated,
		ResolvedTrackers:  agg.Resolved,
		CancelledTrackers: agg.Cancelled,
		ResolvedWithinSla: agg.ResolvedWithinSla,
	}
	if agg.Resolved > 0 {
		stats.ComplianceRate = clampPct(float64(agg.ResolvedWithinSla) / float64(agg.Resolved) * 100)
	}
	if agg.RespondedCount > 0 {
		stats.AvgResponseMinutes = agg.TotalResponseMinutes / float64(agg.RespondedCount)
	}
	if agg.ResolvedCount > 0 {
		stats.AvgResolutionMinutes = agg.TotalResolutionMinutes / float64(agg.ResolvedCount)
	}
	return stats
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Performance builds a resolution performance report for trackers created
// inside the range, broken down by entity type.
func (r *Reporter) Performance(ctx context.Context, rng models.ReportRange) (*models.PerformanceReport, error) {
	trackers, err := r.trackers.List(ctx, repository.TrackerFilter{
		CreatedFrom: rng.From,
		CreatedTo:   rng.To,
	})
	if err != nil {
		return nil, fmt.Errorf("list trackers: %w", err)
	}

	report := &models.PerformanceReport{
		Range:       rng,
		GeneratedAt: r.clock.Now(),
		ByEntity:    breakdownByEntity(trackers),
	}

	var agg repository.TrackerAggregate
	for _, tr := range trackers {
		accumulate(&agg, tr)
	}
	report.Totals = *statisticsFromAggregate(&agg)
	return report, nil
}

// Compliance builds a violation-centric compliance report for the range.
func (r *Reporter) Compliance(ctx context.Context, rng models.ReportRange) (*models.ComplianceReport, error) {
	trackers, err := r.trackers.List(ctx, repository.TrackerFilter{
		CreatedFrom: rng.From,
		CreatedTo:   rng.To,
	})
	if err != nil {
		return nil, fmt.Errorf("list trackers: %w", err)
	}

	report := &models.ComplianceReport{
		Range:       rng,
		GeneratedAt: r.clock.Now(),
		BySeverity:  map[string]int{},
		ByEntity:    breakdownByEntity(trackers),
	}
	resolved, within := 0, 0
	for _, tr := range trackers {
		if tr.Status == models.TrackerResolved {
			resolved++
			if resolvedWithinSla(tr) {
				within++
			}
		}
		for _, v := range tr.Violations {
			if v.Type == models.ViolationEscalation {
				continue
			}
			report.TotalViolations++
			report.BySeverity[string(v.Severity)]++
		}
	}
	if resolved > 0 {
		report.OverallCompliance = clampPct(float64(within) / float64(resolved) * 100)
	}
	return report, nil
}

// resolvedWithinSla is the compliance predicate: resolved without breaching
// either deadline. It matches the store-side aggregation exactly.
func resolvedWithinSla(tr *models.SlaTracker) bool {
	return tr.Status == models.TrackerResolved && !tr.ResponseBreached && !tr.ResolutionBreached
}

func accumulate(agg *repository.TrackerAggregate, tr *models.SlaTracker) {
	agg.Total++
	switch tr.Status {
	case models.TrackerActive:
		agg.Active++
	case models.TrackerPaused:
		agg.Paused++
	case models.TrackerViolated:
		agg.Violated++
	case models.TrackerResolved:
		agg.Resolved++
		if resolvedWithinSla(tr) {
			agg.ResolvedWithinSla++
		}
	case models.TrackerCancelled:
		agg.Cancelled++
	}
	if tr.RespondedAt != nil {
		agg.RespondedCount++
		agg.TotalResponseMinutes += tr.RespondedAt.Sub(tr.CreatedAt).Minutes()
	}
	if tr.ResolvedAt != nil {
		agg.ResolvedCount++
		agg.TotalResolutionMinutes += tr.ResolvedAt.Sub(tr.CreatedAt).Minutes()
	}
}

func breakdownByEntity(trackers []*models.SlaTracker) []models.EntityTypeBreakdown {
	byType := map[string]*models.EntityTypeBreakdown{}
	resolutionMinutes := map[string]float64{}
	for _, tr := range trackers {
		b, ok := byType[tr.EntityType]
		if !ok {
			b = &models.EntityTypeBreakdown{EntityType: tr.EntityType}
			byType[tr.EntityType] = b
		}
		b.Created++
		if tr.Status == models.TrackerResolved {
			b.Resolved++
			if resolvedWithinSla(tr) {
				b.ResolvedWithinSla++
			}
		}
		if tr.ResolvedAt != nil {
			resolutionMinutes[tr.EntityType] += tr.ResolvedAt.Sub(tr.CreatedAt).Minutes()
		}
		for _, v := range tr.Violations {
			switch v.Type {
			case models.ViolationResponse:
				b.Violations++
				b.ResponseViolations++
			case models.ViolationResolution:
				b.Violations++
				b.ResolutionViolations++
			case models.ViolationEscalation:
				b.Escalations++
			}
		}
	}

	out := make([]models.EntityTypeBreakdown, 0, len(byType))
	for _, b := range byType {
		if b.Resolved > 0 {
			b.ComplianceRate = clampPct(float64(b.ResolvedWithinSla) / float64(b.Resolved) * 100)
			b.AvgResolutionMinutes = resolutionMinutes[b.EntityType] / float64(b.Resolved)
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out
}

// PredictWorkload extrapolates the recent creation and breach rate for one
// entity type into the timeframe ahead. The result is advisory only.
func (r *Reporter) PredictWorkload(ctx context.Context, entityType string, timeframe time.Duration) (*models.WorkloadPrediction, error) {
	if timeframe <= 0 {
		return nil, slaerr.NewValidation([]string{fmt.Sprintf("timeframe must be positive, got %s", timeframe)})
	}

	now := r.clock.Now()
	const lookback = 7 * 24 * time.Hour
	trackers, err := r.trackers.List(ctx, repository.TrackerFilter{
		EntityType:  entityType,
		CreatedFrom: now.Add(-lookback),
	})
	if err != nil {
		return nil, fmt.Errorf("list trackers: %w", err)
	}

	pred := &models.WorkloadPrediction{
		EntityType:  entityType,
		Timeframe:   timeframe,
		SampleSize:  len(trackers),
		Confidence:  "low",
		GeneratedAt: now,
	}
	if len(trackers) == 0 {
		return pred, nil
	}

	breached := 0
	for _, tr := range trackers {
		if tr.ResponseBreached || tr.ResolutionBreached {
			breached++
		}
	}
	scale := timeframe.Hours() / lookback.Hours()
	pred.ExpectedTrackers = int(float64(len(trackers))*scale + 0.5)
	pred.ExpectedBreaches = int(float64(breached)*scale + 0.5)
	switch {
	case len(trackers) >= 100:
		pred.Confidence = "high"
	case len(trackers) >= 20:
		pred.Confidence = "medium"
	}
	return pred, nil
}

// AuditTrail returns every violation recorded inside the range, newest first.
func (r *Reporter) AuditTrail(ctx context.Context, rng models.ReportRange) ([]models.AuditEntry, error) {
	trackers, err := r.trackers.List(ctx, repository.TrackerFilter{})
	if err != nil {
		return nil, fmt.Errorf("list trackers: %w", err)
	}

	var entries []models.AuditEntry
	for _, tr := range trackers {
		for _, v := range tr.Violations {
			if !rng.Contains(v.ViolatedAt) {
				continue
			}
			entries = append(entries, models.AuditEntry{
				TrackerID:  tr.ID,
				EntityType: tr.EntityType,
				EntityID:   tr.EntityID,
				Violation:  v,
				Status:     tr.Status,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Violation.ViolatedAt.After(entries[j].Violation.ViolatedAt)
	})
	return entries, nil
}

// ExportFormat selects the export encoding.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// Export writes the trackers created inside the range to w in the requested
// format. Unknown formats fail validation.
func (r *Reporter) Export(ctx context.Context, w io.Writer, format ExportFormat, rng models.ReportRange) error {
	trackers, err := r.trackers.List(ctx, repository.TrackerFilter{
		CreatedFrom: rng.From,
		CreatedTo:   rng.To,
	})
	if err != nil {
		return fmt.Errorf("list trackers: %w", err)
	}

	switch format {
	case ExportJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(trackers)
	case ExportCSV:
		return exportCSV(w, trackers)
	default:
		return slaerr.NewValidation([]string{fmt.Sprintf("unsupported export format %q", format)})
	}
}

func exportCSV(w io.Writer, trackers []*models.SlaTracker) error {
	cw := csv.NewWriter(w)
	header := []string{
		"id", "template_id", "entity_type", "entity_id", "status",
		"created_at", "response_deadline", "resolution_deadline",
		"responded_at", "resolved_at", "escalation_level", "violations",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, tr := range trackers {
		row := []string{
			tr.ID, tr.TemplateID, tr.EntityType, tr.EntityID, string(tr.Status),
			tr.CreatedAt.Format(time.RFC3339),
			tr.ResponseDeadline.Format(time.RFC3339),
			tr.ResolutionDeadline.Format(time.RFC3339),
			formatOptionalTime(tr.RespondedAt),
			formatOptionalTime(tr.ResolvedAt),
			fmt.Sprintf("%d", tr.EscalationLevel),
			fmt.Sprintf("%d", len(tr.Violations)),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
