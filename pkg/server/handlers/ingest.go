package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/strata"
	"github.com/soundprediction/strata/pkg/server/dto"
)

// IngestHandler handles document ingestion, deletion and entity resolution.
type IngestHandler struct {
	engine strata.Engine
	logger *slog.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(engine strata.Engine, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{engine: engine, logger: logger}
}

// IngestDocument handles POST /api/v1/ingest
func (h *IngestHandler) IngestDocument(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, dto.MaxBodyBytes+1))
	if err != nil {
		writeError(c, http.StatusBadRequest, dto.CodeInvalidRequest, err.Error())
		return
	}
	if len(body) > dto.MaxBodyBytes {
		writeError(c, http.StatusRequestEntityTooLarge, dto.CodeInvalidRequest, "payload exceeds maximum size")
		return
	}

	req, repaired, err := dto.DecodeIngestRequest(body)
	if err != nil {
		writeError(c, http.StatusBadRequest, dto.CodeInvalidRequest, err.Error())
		return
	}
	if err := dto.ValidateIngestRequest(&req); err != nil {
		writeError(c, http.StatusBadRequest, dto.CodeInvalidRequest, err.Error())
		return
	}
	if !checkTenant(c, req.TenantID) {
		return
	}
	if repaired {
		h.logger.Warn("repaired malformed ingestion payload",
			"tenant_id", req.TenantID,
			"document_id", req.DocumentID)
	}

	res, err := h.engine.IngestDocument(c.Request.Context(), req)
	if err != nil {
		writeEngineError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.IngestResponse{Success: true, Result: res, Repaired: repaired})
}

// DeleteDocument handles DELETE /api/v1/documents/:tenant_id/:document_id
func (h *IngestHandler) DeleteDocument(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if err := dto.ValidateTenantID(tenantID); err != nil {
		writeError(c, http.StatusBadRequest, dto.CodeInvalidRequest, err.Error())
		return
	}
	if !checkTenant(c, tenantID) {
		return
	}

	res, err := h.engine.DeleteDocument(c.Request.Context(), tenantID, c.Param("document_id"))
	if err != nil {
		writeEngineError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ResolveEntity handles POST /api/v1/entities/resolve
func (h *IngestHandler) ResolveEntity(c *gin.Context) {
	var req dto.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, dto.CodeInvalidRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(c, http.StatusBadRequest, dto.CodeInvalidRequest, err.Error())
		return
	}
	if !checkTenant(c, req.TenantID) {
		return
	}

	decision, err := h.engine.ResolveEntity(c.Request.Context(), req.TenantID, req.Entity)
	if err != nil {
		writeEngineError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// ReviewQueue handles GET /api/v1/entities/review/:tenant_id
func (h *IngestHandler) ReviewQueue(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if err := dto.ValidateTenantID(tenantID); err != nil {
		writeError(c, http.StatusBadRequest, dto.CodeInvalidRequest, err.Error())
		return
	}
	if !checkTenant(c, tenantID) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": h.engine.ReviewQueue(tenantID)})
}
