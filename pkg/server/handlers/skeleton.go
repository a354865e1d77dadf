package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/strata"
	"github.com/soundprediction/strata/pkg/server/dto"
)

// SkeletonHandler exposes skeleton maintenance
type SkeletonHandler struct {
	engine strata.Engine
	logger *slog.Logger
}

// NewSkeletonHandler creates a new skeleton handler
func NewSkeletonHandler(engine strata.Engine, logger *slog.Logger) *SkeletonHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SkeletonHandler{engine: engine, logger: logger}
}

func (h *SkeletonHandler) tenant(c *gin.Context) (string, bool) {
	tenantID := c.Param("tenant_id")
	if err := dto.ValidateTenantID(tenantID); err != nil {
		writeError(c, http.StatusBadRequest, dto.CodeInvalidRequest, err.Error())
		return "", false
	}
	return tenantID, checkTenant(c, tenantID)
}

// Recompute handles POST /api/v1/skeleton/:tenant_id/recompute
func (h *SkeletonHandler) Recompute(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	snap, err := h.engine.RecomputeSkeleton(c.Request.Context(), tenantID)
	if err != nil {
		writeEngineError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Snapshot handles GET /api/v1/skeleton/:tenant_id
func (h *SkeletonHandler) Snapshot(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	snap := h.engine.SkeletonSnapshot(c.Request.Context(), tenantID)
	if snap == nil {
		writeError(c, http.StatusNotFound, dto.CodeNotFound, "no skeleton snapshot published for tenant")
		return
	}
	c.JSON(http.StatusOK, snap)
}
