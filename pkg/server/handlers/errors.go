package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/strata/pkg/server/dto"
	"github.com/soundprediction/strata/pkg/types"
)

// writeError writes an error response
func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{
		Error:   code,
		Message: message,
		Code:    status,
	})
}

// writeEngineError maps engine errors onto HTTP statuses. Tenant violations
// never echo the underlying message.
func writeEngineError(c *gin.Context, logger *slog.Logger, err error) {
	var verr *types.ValidationError
	switch {
	case types.IsTenantViolation(err):
		logger.Error("blocked cross-tenant request",
			"path", c.FullPath(),
			"tenant_id", tenantFromHeader(c),
			"error", err)
		writeError(c, http.StatusForbidden, dto.CodeSecurityViolation, "request blocked")
	case errors.Is(err, types.ErrBackendUnavailable):
		writeError(c, http.StatusServiceUnavailable, dto.CodeBackendUnavailable, err.Error())
	case errors.As(err, &verr),
		errors.Is(err, types.ErrEmptyTenantID),
		errors.Is(err, types.ErrEmptyID),
		errors.Is(err, types.ErrEmptyName),
		errors.Is(err, types.ErrInvalidEntity),
		errors.Is(err, types.ErrInvalidRelType),
		errors.Is(err, types.ErrInvalidConfRange),
		errors.Is(err, types.ErrTypeImmutable):
		writeError(c, http.StatusBadRequest, dto.CodeInvalidRequest, err.Error())
	case errors.Is(err, types.ErrDocumentNotFound), errors.Is(err, types.ErrEntityNotFound):
		writeError(c, http.StatusNotFound, dto.CodeNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, dto.CodeTimeout, err.Error())
	default:
		logger.Error("request failed", "path", c.FullPath(), "error", err)
		writeError(c, http.StatusInternalServerError, dto.CodeInternal, err.Error())
	}
}

// TenantHeader carries the caller's tenant.
const TenantHeader = "X-Tenant-ID"

func tenantFromHeader(c *gin.Context) string {
	return c.GetHeader(TenantHeader)
}

// checkTenant rejects requests whose header and payload tenants disagree.
// A request without the header is accepted.
func checkTenant(c *gin.Context, tenantID string) bool {
	if header := tenantFromHeader(c); header != "" && header != tenantID {
		writeError(c, http.StatusForbidden, dto.CodeTenantMismatch, "X-Tenant-ID does not match the request tenant")
		return false
	}
	return true
}
