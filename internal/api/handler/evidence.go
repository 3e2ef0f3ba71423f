package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/forensicedr/forensicedr/internal/encryption"
	"github.com/forensicedr/forensicedr/internal/evidence"
	"github.com/forensicedr/forensicedr/internal/identity"
)

// maxEnvelopeBytes caps a single evidence upload at 50 MiB.
const maxEnvelopeBytes = 50 << 20

const dateLayout = "2006-01-02"

// EvidenceHandler handles encrypted evidence uploads and crash queries.
type EvidenceHandler struct {
	svc    *evidence.Service
	tokens *identity.TokenIssuer // nil = open mode, no auth enforcement
	logger *zap.Logger
}

// NewEvidenceHandler creates an EvidenceHandler.
// tokens may be nil to disable JWT auth on protected routes.
func NewEvidenceHandler(svc *evidence.Service, tokens *identity.TokenIssuer, logger *zap.Logger) *EvidenceHandler {
	return &EvidenceHandler{svc: svc, tokens: tokens, logger: logger}
}

func (h *EvidenceHandler) requireToken() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return identity.RequireToken(h.tokens)
}

// Register mounts evidence routes on the given router group.
func (h *EvidenceHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/evidence/upload", h.requireToken(), h.Upload)

	crashes := rg.Group("/crashes")
	{
		// Static routes before the :event_id wildcard.
		crashes.GET("/nearby", h.Nearby)
		crashes.GET("", h.List)
		crashes.GET("/:event_id", h.requireToken(), h.Get)
		crashes.GET("/:event_id/telemetry", h.requireToken(), h.Telemetry)
	}
}

// Upload handles POST /evidence/upload — accepts a multipart form with an
// encrypted evidence envelope under "file" and an optional edge custody log
// under "custody_log".
func (h *EvidenceHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}
	if fileHeader.Size > maxEnvelopeBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "evidence file too large"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}
	defer f.Close()

	envelope, err := io.ReadAll(io.LimitReader(f, maxEnvelopeBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}
	if len(envelope) > maxEnvelopeBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "evidence file too large"})
		return
	}

	var edgeLog []byte
	if logHeader, err := c.FormFile("custody_log"); err == nil {
		lf, err := logHeader.Open()
		if err == nil {
			edgeLog, _ = io.ReadAll(io.LimitReader(lf, 1<<20))
			lf.Close()
		}
	}

	ev, err := h.svc.Upload(c.Request.Context(), evidence.UploadInput{
		Filename:       fileHeader.Filename,
		ContentType:    fileHeader.Header.Get("Content-Type"),
		Envelope:       envelope,
		EdgeCustodyLog: edgeLog,
	})
	if err != nil {
		RecordEvidenceUpload(false)
		switch {
		case errors.Is(err, encryption.ErrAuthentication), errors.Is(err, encryption.ErrEnvelopeTooShort):
			c.JSON(http.StatusBadRequest, gin.H{"error": "evidence envelope failed authentication"})
		case errors.Is(err, evidence.ErrInvalidPayload):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, evidence.ErrDuplicateEvent):
			c.JSON(http.StatusConflict, gin.H{"error": "event already uploaded"})
		default:
			h.logger.Error("evidence upload", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		}
		return
	}

	RecordEvidenceUpload(true)
	c.JSON(http.StatusCreated, gin.H{
		"status":    "stored",
		"event_id":  ev.EventID,
		"timestamp": ev.Timestamp,
		"severity":  ev.Severity,
	})
}

// List handles GET /crashes — returns crash events filtered by optional
// severity, start_date, end_date (YYYY-MM-DD), limit, and skip params.
func (h *EvidenceHandler) List(c *gin.Context) {
	var f evidence.ListFilter

	if sev := c.Query("severity"); sev != "" {
		f.Severity = evidence.Severity(sev)
		if !f.Severity.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid severity"})
			return
		}
	}

	var ok bool
	if f.StartDate, ok = parseDateQuery(c, "start_date"); !ok {
		return
	}
	if f.EndDate, ok = parseDateQuery(c, "end_date"); !ok {
		return
	}

	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	f.Skip, _ = strconv.Atoi(c.DefaultQuery("skip", "0"))
	if f.Skip < 0 {
		f.Skip = 0
	}

	events, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list crashes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list crashes"})
		return
	}
	if events == nil {
		events = []*evidence.CrashEvent{}
	}

	c.JSON(http.StatusOK, gin.H{"crashes": events, "count": len(events)})
}

// Get handles GET /crashes/:event_id — returns the full record including
// telemetry and the custody chain. The read is itself recorded as an ACCESS
// custody entry attributed to the token subject.
func (h *EvidenceHandler) Get(c *gin.Context) {
	eventID := c.Param("event_id")

	accessor := "CLOUD_API"
	if sub := c.GetString(identity.SubjectKey); sub != "" {
		accessor = sub
	}

	rec, err := h.svc.Get(c.Request.Context(), eventID, accessor)
	if err != nil {
		if errors.Is(err, evidence.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		h.logger.Error("get crash", zap.String("event_id", eventID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get event"})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// Telemetry handles GET /crashes/:event_id/telemetry — returns the raw
// pre-crash sensor records for an event.
func (h *EvidenceHandler) Telemetry(c *gin.Context) {
	eventID := c.Param("event_id")

	rec, err := h.svc.Get(c.Request.Context(), eventID, telemetryAccessor(c))
	if err != nil {
		if errors.Is(err, evidence.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		h.logger.Error("get telemetry", zap.String("event_id", eventID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get telemetry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event_id":  eventID,
		"telemetry": rec.Telemetry,
		"count":     len(rec.Telemetry),
	})
}

func telemetryAccessor(c *gin.Context) string {
	if sub := c.GetString(identity.SubjectKey); sub != "" {
		return sub
	}
	return "CLOUD_API"
}

// Nearby handles GET /crashes/nearby?lat=&lon=&radius_km= — returns crash
// events within the given radius of a point.
func (h *EvidenceHandler) Nearby(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lon, lonErr := strconv.ParseFloat(c.Query("lon"), 64)
	if latErr != nil || lonErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lon are required"})
		return
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat/lon out of range"})
		return
	}

	radiusKM, err := strconv.ParseFloat(c.DefaultQuery("radius_km", "10"), 64)
	if err != nil || radiusKM <= 0 || radiusKM > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "radius_km must be between 0 and 1000"})
		return
	}

	events, err := h.svc.Nearby(c.Request.Context(), lat, lon, radiusKM)
	if err != nil {
		h.logger.Error("nearby crashes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "nearby lookup failed"})
		return
	}
	if events == nil {
		events = []*evidence.CrashEvent{}
	}

	c.JSON(http.StatusOK, gin.H{
		"crashes":   events,
		"count":     len(events),
		"center":    gin.H{"lat": lat, "lon": lon},
		"radius_km": radiusKM,
	})
}

// parseDateQuery parses an optional YYYY-MM-DD query parameter. Returns
// ok=false after writing a 400 response when the value is malformed.
func parseDateQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
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
