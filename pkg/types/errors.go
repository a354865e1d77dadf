package types

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrEmptyName        = errors.New("name cannot be empty")
	ErrEmptyTenantID    = errors.New("tenant_id cannot be empty")
	ErrEmptyID          = errors.New("id cannot be empty")
	ErrInvalidLimit     = errors.New("limit must be positive")
	ErrInvalidEntity    = errors.New("invalid entity type")
	ErrInvalidRelType   = errors.New("invalid relationship type")
	ErrInvalidConfRange = errors.New("confidence must be within [0, 1]")
	ErrSelfLoop         = errors.New("self-loops are only permitted for superseded_by relationships")
	ErrTypeImmutable    = errors.New("entity type cannot change after creation")
)

// Lookup errors
var (
	ErrEntityNotFound       = errors.New("entity not found")
	ErrRelationshipNotFound = errors.New("relationship not found")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrEntityExists         = errors.New("entity already exists")
)

// Runtime errors
var (
	// ErrTenantViolation is the security-category error for any attempt to
	// read or write across tenant partitions. It is never degraded.
	ErrTenantViolation = errors.New("cross-tenant access violation")

	// ErrBackendUnavailable indicates that a storage backend (vector store or
	// graph store) cannot serve requests right now.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// TenantViolationError describes a blocked cross-tenant access.
type TenantViolationError struct {
	Operation     string
	TenantID      string
	ForeignTenant string
	ResourceID    string
	ResourceKind  string
}

// Error never names ForeignTenant; the message may reach the caller.
func (e *TenantViolationError) Error() string {
	return fmt.Sprintf("security violation: %s by tenant %q touched %s %q outside its partition",
		e.Operation, e.TenantID, e.ResourceKind, e.ResourceID)
}

// Is implements errors.Is support so that errors.Is(err, ErrTenantViolation)
// and errors.Is(err, &TenantViolationError{}) both match.
func (e *TenantViolationError) Is(target error) bool {
	if target == ErrTenantViolation {
		return true
	}
	_, ok := target.(*TenantViolationError)
	return ok
}

// NewTenantViolation creates a TenantViolationError.
func NewTenantViolation(operation, tenantID, kind, resourceID, foreignTenant string) *TenantViolationError {
	return &TenantViolationError{
		Operation:     operation,
		TenantID:      tenantID,
		ForeignTenant: foreignTenant,
		ResourceID:    resourceID,
		ResourceKind:  kind,
	}
}

// IsTenantViolation reports whether err is, or wraps, a tenant violation.
func IsTenantViolation(err error) bool {
	return errors.Is(err, ErrTenantViolation)
}

// BackendError records which backend failed and why.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend unavailable: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is matches ErrBackendUnavailable.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// NewBackendError wraps err as an unavailability of the named backend.
func NewBackendError(backend string, err error) *BackendError {
	return &BackendError{Backend: backend, Err: err}
}

// ValidationError reports a rejected field at the ingestion boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is implements errors.Is support for ValidationError.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
