// Package api exposes the SLA engine over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gotrs-io/sla-engine/internal/models"
	"github.com/gotrs-io/sla-engine/internal/repository"
	"github.com/gotrs-io/sla-engine/internal/services/sla"
	"github.com/gotrs-io/sla-engine/internal/slaerr"
)

// Handlers binds the service layer to gin routes.
type Handlers struct {
	registry  *sla.Registry
	lifecycle *sla.Lifecycle
	engine    *sla.Engine
	reporter  *sla.Reporter
	templates repository.TemplateStore
	trackers  repository.TrackerStore
}

// NewHandlers wires the HTTP surface.
func NewHandlers(registry *sla.Registry, lifecycle *sla.Lifecycle, engine *sla.Engine, reporter *sla.Reporter, templates repository.TemplateStore, trackers repository.TrackerStore) *Handlers {
	return &Handlers{
		registry:  registry,
		lifecycle: lifecycle,
		engine:    engine,
		reporter:  reporter,
		templates: templates,
		trackers:  trackers,
	}
}

// Register mounts all routes under /api/v1.
func (h *Handlers) Register(r *gin.Engine) {
	r.GET("/health", h.HandleHealth)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/templates", h.HandleListTemplates)
		v1.POST("/templates", h.HandleCreateTemplate)
		v1.GET("/templates/:id", h.HandleGetTemplate)
		v1.PUT("/templates/:id", h.HandleUpdateTemplate)

		v1.POST("/trackers", h.HandleCreateTracker)
		v1.GET("/trackers", h.HandleListTrackers)
		v1.GET("/trackers/:id", h.HandleGetTracker)
		v1.POST("/trackers/:id/response", h.HandleRecordResponse)
		v1.POST("/trackers/:id/resolution", h.HandleRecordResolution)
		v1.POST("/trackers/:id/pause", h.HandlePauseTracker)
		v1.POST("/trackers/:id/resume", h.HandleResumeTracker)
		v1.POST("/trackers/:id/cancel", h.HandleCancelTracker)

		v1.GET("/status", h.HandleStatus)
		v1.GET("/statistics", h.HandleStatistics)
		v1.GET("/reports/performance", h.HandlePerformanceReport)
		v1.GET("/reports/compliance", h.HandleComplianceReport)
		v1.GET("/reports/workload", h.HandleWorkloadPrediction)
		v1.GET("/audit", h.HandleAuditTrail)
		v1.GET("/export", h.HandleExport)

		v1.GET("/engine/config", h.HandleGetEngineConfig)
		v1.PUT("/engine/config", h.HandleUpdateEngineConfig)
	}
}

// writeError maps the service error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	var verr *slaerr.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "violations": verr.Violations})
	case errors.Is(err, slaerr.ErrTemplateNotFound), errors.Is(err, slaerr.ErrTrackerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, slaerr.ErrInvalidStateTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// HandleHealth handles GET /health
func (h *Handlers) HandleHealth(c *gin.Context) {
	health := h.engine.Health()
	status := http.StatusOK
	if health.Status == models.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

// HandleListTemplates handles GET /api/v1/templates
func (h *Handlers) HandleListTemplates(c *gin.Context) {
	templates, err := h.templates.FindActive(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates, "total": len(templates)})
}

// HandleCreateTemplate handles POST /api/v1/templates
func (h *Handlers) HandleCreateTemplate(c *gin.Context) {
	var template models.SlaTemplate
	if err := c.ShouldBindJSON(&template); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := sla.ValidateTemplate(&template); err != nil {
		writeError(c, err)
		return
	}
	if err := h.templates.Create(c.Request.Context(), &template); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, template)
}

// HandleGetTemplate handles GET /api/v1/templates/:id
func (h *Handlers) HandleGetTemplate(c *gin.Context) {
	template, err := h.templates.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}

// HandleUpdateTemplate handles PUT /api/v1/templates/:id. Updates apply to
// future trackers only; existing trackers keep their computed deadlines.
func (h *Handlers) HandleUpdateTemplate(c *gin.Context) {
	var template models.SlaTemplate
	if err := c.ShouldBindJSON(&template); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	template.ID = c.Param("id")
	if err := sla.ValidateTemplate(&template); err != nil {
		writeError(c, err)
		return
	}
	if err := h.templates.Update(c.Request.Context(), &template); err != nil {
		writeError(c, err)
		return
	}
	if err := h.registry.LoadTemplates(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}

type createTrackerRequest struct {
	EntityType string `json:"entity_type" binding:"required"`
	EntityID   string `json:"entity_id" binding:"required"`
	TemplateID string `json:"template_id" binding:"required"`
	Priority   int    `json:"priority"`
}

// HandleCreateTracker handles POST /api/v1/trackers
func (h *Handlers) HandleCreateTracker(c *gin.Context) {
	var req createTrackerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	tracker, err := h.lifecycle.CreateTracker(c.Request.Context(), req.EntityType, req.EntityID, req.TemplateID, req.Priority)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tracker)
}

// HandleListTrackers handles GET /api/v1/trackers
func (h *Handlers) HandleListTrackers(c *gin.Context) {
	filter := repository.TrackerFilter{
		EntityType: c.Query("entity_type"),
	}
	if status := c.Query("status"); status != "" {
		filter.Statuses = []models.TrackerStatus{models.TrackerStatus(status)}
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "100")); err == nil {
		filter.Limit = limit
	}

	trackers, err := h.trackers.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trackers": trackers, "total": len(trackers)})
}

// HandleGetTracker handles GET /api/v1/trackers/:id
func (h *Handlers) HandleGetTracker(c *gin.Context) {
	tracker, err := h.lifecycle.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tracker)
}

type eventRequest struct {
	At time.Time `json:"at"`
}

// HandleRecordResponse handles POST /api/v1/trackers/:id/response
func (h *Handlers) HandleRecordResponse(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// An empty body means "now".
		req = eventRequest{}
	}
	if req.At.IsZero() {
		req.At = time.Now()
	}
	tracker, err := h.lifecycle.RecordResponse(c.Request.Context(), c.Param("id"), req.At)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tracker)
}

// HandleRecordResolution handles POST /api/v1/trackers/:id/resolution
func (h *Handlers) HandleRecordResolution(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req = eventRequest{}
	}
	if req.At.IsZero() {
		req.At = time.Now()
	}
	tracker, err := h.lifecycle.RecordResolution(c.Request.Context(), c.Param("id"), req.At)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tracker)
}

// HandlePauseTracker handles POST /api/v1/trackers/:id/pause
func (h *Handlers) HandlePauseTracker(c *gin.Context) {
	tracker, err := h.lifecycle.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tracker)
}

// HandleResumeTracker handles POST /api/v1/trackers/:id/resume
func (h *Handlers) HandleResumeTracker(c *gin.Context) {
	tracker, err := h.lifecycle.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tracker)
}

// HandleCancelTracker handles POST /api/v1/trackers/:id/cancel
func (h *Handlers) HandleCancelTracker(c *gin.Context) {
	tracker, err := h.lifecycle.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tracker)
}

// HandleStatus handles GET /api/v1/status
func (h *Handlers) HandleStatus(c *gin.Context) {
	snapshot, err := h.engine.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// HandleStatistics handles GET /api/v1/statistics
func (h *Handlers) HandleStatistics(c *gin.Context) {
	filter := repository.TrackerFilter{EntityType: c.Query("entity_type")}
	stats, err := h.reporter.Statistics(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// parseRange reads from/to query parameters, defaulting to the last 30 days.
func parseRange(c *gin.Context) (models.ReportRange, bool) {
	rng := models.ReportRange{
		From: time.Now().AddDate(0, 0, -30),
	}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp, want RFC3339"})
			return rng, false
		}
		rng.From = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp, want RFC3339"})
			return rng, false
		}
		rng.To = t
	}
	return rng, true
}

// HandlePerformanceReport handles GET /api/v1/reports/performance
func (h *Handlers) HandlePerformanceReport(c *gin.Context) {
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	report, err := h.reporter.Performance(c.Request.Context(), rng)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleComplianceReport handles GET /api/v1/reports/compliance
func (h *Handlers) HandleComplianceReport(c *gin.Context) {
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	report, err := h.reporter.Compliance(c.Request.Context(), rng)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleWorkloadPrediction handles GET /api/v1/reports/workload. With
// predictive analytics disabled in the engine configuration it returns the
// empty low-confidence advisory instead of extrapolating.
func (h *Handlers) HandleWorkloadPrediction(c *gin.Context) {
	timeframe := 24 * time.Hour
	if raw := c.Query("timeframe"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeframe duration"})
			return
		}
		timeframe = d
	}
	if !h.engine.Configuration().EnablePredictiveAnalytics {
		c.JSON(http.StatusOK, models.WorkloadPrediction{
			EntityType:  c.Query("entity_type"),
			Timeframe:   timeframe,
			Confidence:  "low",
			GeneratedAt: time.Now(),
		})
		return
	}
	pred, err := h.reporter.PredictWorkload(c.Request.Context(), c.Query("entity_type"), timeframe)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pred)
}

// HandleAuditTrail handles GET /api/v1/audit
func (h *Handlers) HandleAuditTrail(c *gin.Context) {
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	entries, err := h.reporter.AuditTrail(c.Request.Context(), rng)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}

// HandleExport handles GET /api/v1/export?format=json|csv
func (h *Handlers) HandleExport(c *gin.Context) {
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	format := sla.ExportFormat(c.DefaultQuery("format", "json"))

	switch format {
	case sla.ExportJSON:
		c.Header("Content-Type", "application/json")
		c.Header("Content-Disposition", `attachment; filename="trackers.json"`)
	case sla.ExportCSV:
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="trackers.csv"`)
	}

	if err := h.reporter.Export(c.Request.Context(), c.Writer, format, rng); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// HandleGetEngineConfig handles GET /api/v1/engine/config
func (h *Handlers) HandleGetEngineConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Configuration())
}

// HandleUpdateEngineConfig handles PUT /api/v1/engine/config
func (h *Handlers) HandleUpdateEngineConfig(c *gin.Context) {
	var cfg sla.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.engine.UpdateConfiguration(cfg); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.engine.Configuration())
}
