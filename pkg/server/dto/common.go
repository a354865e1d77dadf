package dto

import (
	"errors"
	"strings"
)

// Error codes returned in ErrorResponse.Error.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeSecurityViolation  = "security_violation"
	CodeTenantMismatch     = "tenant_mismatch"
	CodeBackendUnavailable = "backend_unavailable"
	CodeNotFound           = "not_found"
	CodeTimeout            = "timeout"
	CodeInternal           = "internal_error"
)

// Validation errors
var (
	ErrEmptyTenantID    = errors.New("tenant_id cannot be empty")
	ErrTenantIDTooLong  = errors.New("tenant_id exceeds maximum length (256)")
	ErrEmptyQuery       = errors.New("query cannot be empty")
	ErrQueryTooLong     = errors.New("query exceeds maximum length (8192)")
	ErrInvalidDirection = errors.New("direction must be outgoing, incoming or both")
)

// MaxFieldLengths defines maximum lengths for fields to prevent abuse
const (
	MaxTenantIDLength = 256
	MaxQueryLength    = 8192
	MaxBodyBytes      = 8 << 20
	MaxEntities       = 10000
	MaxHops           = 10
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// ValidateTenantID checks a tenant id from a body or path.
func ValidateTenantID(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return ErrEmptyTenantID
	}
	if len(tenantID) > MaxTenantIDLength {
		return ErrTenantIDTooLong
	}
	return nil
}
