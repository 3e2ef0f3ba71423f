package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/forensicedr/forensicedr/internal/report"
)

// ReportHandler serves analytical report generation and cached retrieval.
type ReportHandler struct {
	gen    *report.Generator
	logger *zap.Logger
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(gen *report.Generator, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{gen: gen, logger: logger}
}

// Register mounts report routes on the given router group.
func (h *ReportHandler) Register(rg *gin.RouterGroup) {
	reports := rg.Group("/reports")
	{
		// Static routes before the :report_id wildcard.
		reports.POST("/generate", h.Generate)
		reports.GET("/recent", h.Recent)
		reports.GET("/:report_id", h.GetCached)
	}
}

type generateRequest struct {
	ReportType string `json:"report_type" binding:"required"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Save       bool   `json:"save"`
}

// Generate handles POST /reports/generate — computes a report over the
// requested date window and optionally caches it.
func (h *ReportHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var p report.Params
	var ok bool
	if p.StartDate, ok = parseDateBody(c, "start_date", req.StartDate); !ok {
		return
	}
	if p.EndDate, ok = parseDateBody(c, "end_date", req.EndDate); !ok {
		return
	}

	r, err := h.gen.Generate(c.Request.Context(), report.Type(req.ReportType), p, req.Save)
	if err != nil {
		if errors.Is(err, report.ErrUnknownType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown report type"})
			return
		}
		h.logger.Error("generate report", zap.String("report_type", req.ReportType), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report generation failed"})
		return
	}

	c.JSON(http.StatusOK, r)
}

// GetCached handles GET /reports/:report_id — returns a previously cached report.
func (h *ReportHandler) GetCached(c *gin.Context) {
	reportID := c.Param("report_id")

	r, err := h.gen.GetCached(c.Request.Context(), reportID)
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		h.logger.Error("get cached report", zap.String("report_id", reportID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load report"})
		return
	}

	c.JSON(http.StatusOK, r)
}

// Recent handles GET /reports/recent — lists recently cached reports.
func (h *ReportHandler) Recent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	reports, err := h.gen.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("recent reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reports"})
		return
	}
	if reports == nil {
		reports = []*report.Report{}
	}

	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

// parseDateBody parses an optional YYYY-MM-DD body field. Returns ok=false
// after writing a 400 response when the value is malformed.
func parseDateBody(c *gin.Context, name, raw string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be YYYY-MM-DD"})
		return nil, false
	}
	return &t, true
}
