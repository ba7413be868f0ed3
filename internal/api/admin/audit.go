// Package admin implements operator endpoints under /api/v1/admin. Every route
// is guarded by the admin key middleware.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/split-connect/split-backend/internal/archive"
	"github.com/split-connect/split-backend/internal/audit"
	"github.com/split-connect/split-backend/internal/middleware"
)

// AuditSource is the read side of the audit store.
type AuditSource interface {
	ReadAll(ctx context.Context) ([]json.RawMessage, error)
	Format() string
}

// AuditHandler serves audit log maintenance endpoints
type AuditHandler struct {
	source  AuditSource
	backend archive.Backend
	prefix  string
	now     func() time.Time
}

// NewAuditHandler creates the handler. backend may be nil when no archive
// backend could be initialised; the archive endpoint then answers 503.
func NewAuditHandler(source AuditSource, backend archive.Backend, prefix string) *AuditHandler {
	return &AuditHandler{
		source:  source,
		backend: backend,
		prefix:  prefix,
		now:     time.Now,
	}
}

// RegisterRoutes mounts the audit routes on rg.
func (h *AuditHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/audit/archive", h.Archive)
	rg.GET("/audit/stats", h.Stats)
}

// AuditStats summarises the audit log
type AuditStats struct {
	Total    int            `json:"total"`
	ByType   map[string]int `json:"by_type"`
	ByStatus map[string]int `json:"by_status"`
	Format   string         `json:"format"`
}

// @Summary      Archive audit log
// @Description  Uploads a snapshot of the audit log to the configured archive backend.
// @Tags         Admin
// @Security     AdminKey
// @Produce      json
// @Success      200  {object}  archive.UploadResult
// @Failure      401  {object}  map[string]interface{}  "admin key required"
// @Failure      503  {object}  map[string]interface{}  "archive backend or audit log unavailable"
// @Failure      500  {object}  map[string]interface{}  "upload failed"
// @Router       /api/v1/admin/audit/archive [post]
func (h *AuditHandler) Archive(c *gin.Context) {
	if h.backend == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive backend not configured"})
		return
	}

	result, err := archive.Export(c.Request.Context(), h.source, h.backend, h.prefix, h.now())
	if err != nil {
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.Error("audit archive failed",
			"backend", h.backend.Name(),
			"request_id", requestID,
			"error", err)
		if errors.Is(err, audit.ErrAuditUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log is busy, retry later"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to archive audit log"})
		return
	}

	slog.Info("audit log archived",
		"backend", result.Backend,
		"key", result.Key,
		"entries", result.Entries,
		"size", result.Size)
	c.JSON(http.StatusOK, result)
}

// @Summary      Audit log statistics
// @Description  Counts audit entries by resource type and status.
// @Tags         Admin
// @Security     AdminKey
// @Produce      json
// @Success      200  {object}  AuditStats
// @Failure      503  {object}  map[string]interface{}  "audit log unavailable"
// @Router       /api/v1/admin/audit/stats [get]
func (h *AuditHandler) Stats(c *gin.Context) {
	entries, err := h.source.ReadAll(c.Request.Context())
	if err != nil {
		slog.Error("failed to read audit log", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log unavailable"})
		return
	}

	stats := AuditStats{
		Total:    len(entries),
		ByType:   map[string]int{},
		ByStatus: map[string]int{},
		Format:   h.source.Format(),
	}
	for _, raw := range entries {
		var e struct {
			Type   string `json:"type"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		stats.ByType[e.Type]++
		stats.ByStatus[e.Status]++
	}
	c.JSON(http.StatusOK, stats)
}
