package rbac

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrPrincipalNotFound indicates an unknown principal id.
	ErrPrincipalNotFound = fmt.Errorf("rbac: principal %w", ErrNotFound)
	// ErrUnknownPermission indicates a permission name missing from the catalog.
	ErrUnknownPermission = errors.New("rbac: unknown permission")
	// ErrDuplicatePermission indicates a catalog with two entries of one name.
	ErrDuplicatePermission = errors.New("rbac: duplicate permission")
	// ErrValidation indicates invalid input to a mutation.
	ErrValidation = errors.New("rbac: validation failed")
	// ErrPermissionDenied indicates the principal lacks the required permission.
	ErrPermissionDenied = errors.New("rbac: permission denied")
	// ErrInternalConfiguration indicates a guard naming a permission absent
	// from the catalog.
	ErrInternalConfiguration = errors.New("rbac: internal configuration error")
	// ErrStorage wraps persistence failures of principal state or audit records.
	ErrStorage = errors.New("rbac: storage error")
	// ErrVersionConflict indicates a stale expected version on mutation.
	ErrVersionConflict = errors.New("rbac: version conflict")
)

// ValidationError lists offending fields of a mutation request.
type ValidationError struct {
	Conflicts []string
	Reason    string
}

func (e *ValidationError) Error() string {
	if len(e.Conflicts) > 0 {
		return fmt.Sprintf("rbac: permissions both added and removed: %s", strings.Join(e.Conflicts, ", "))
	}
	return "rbac: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// UnknownPermissionError names the permissions missing from the catalog.
type UnknownPermissionError struct {
	Names []string
}

func (e *UnknownPermissionError) Error() string {
	return fmt.Sprintf("rbac: unknown permission(s): %s", strings.Join(e.Names, ", "))
}

func (e *UnknownPermissionError) Unwrap() error { return ErrUnknownPermission }

// DeniedError carries the detail echoed back to a denied caller.
type DeniedError struct {
	Required string
	Role     Role
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("rbac: permission %q denied for role %s", e.Required, e.Role)
}

func (e *DeniedError) Unwrap() error { return ErrPermissionDenied }

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) || errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrPrincipalNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
