package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/strata"
	"github.com/soundprediction/strata/pkg/server/dto"
)

// RetrieveHandler handles retrieval and traversal requests
type RetrieveHandler struct {
	engine strata.Engine
	logger *slog.Logger
}

// NewRetrieveHandler creates a new retrieve handler
func NewRetrieveHandler(engine strata.Engine, logger *slog.Logger) *RetrieveHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrieveHandler{engine: engine, logger: logger}
}

// Retrieve handles POST /api/v1/retrieve
func (h *RetrieveHandler) Retrieve(c *gin.Context) {
	var req dto.RetrieveRequest
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
	query, err := req.ToQuery()
	if err != nil {
		writeEngineError(c, h.logger, err)
		return
	}

	res, err := h.engine.Retrieve(c.Request.Context(), query)
	if err != nil {
		writeEngineError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Traverse handles POST /api/v1/traverse
func (h *RetrieveHandler) Traverse(c *gin.Context) {
	var req dto.TraverseRequest
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
	treq, err := req.ToRequest()
	if err != nil {
		writeEngineError(c, h.logger, err)
		return
	}

	res, err := h.engine.Traverse(c.Request.Context(), treq)
	if err != nil {
		writeEngineError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"paths":            res.Paths,
		"truncated":        res.Truncated,
		"hops_reached":     res.HopsReached,
		"nodes_explored":   res.NodesExplored,
		"entry_entity_ids": res.EntryEntityIDs,
	})
}
