package audit

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies an audit record.
type Kind string

const (
	KindRoleChange       Kind = "role_change"
	KindPermissionGrant  Kind = "permission_grant"
	KindPermissionRevoke Kind = "permission_revoke"
	KindAccessDenied     Kind = "access_denied"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRoleChange, KindPermissionGrant, KindPermissionRevoke, KindAccessDenied:
		return true
	}
	return false
}

// SystemActor identifies changes made by automation rather than a principal.
const SystemActor = "system"

// Snapshot captures a principal's access at one point in time.
type Snapshot struct {
	Role      string   `json:"role"`
	Added     []string `json:"added,omitempty"`
	Removed   []string `json:"removed,omitempty"`
	Effective []string `json:"effective"`
	Version   int64    `json:"version,omitempty"`
}

// Record is an immutable audit trail entry.
type Record struct {
	ID     uuid.UUID `json:"id"`
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Target string    `json:"target"`
	Kind   Kind      `json:"kind"`
	// Required is the permission a denied request asked for.
	Required string   `json:"required,omitempty"`
	Before   Snapshot `json:"before"`
	After    Snapshot `json:"after"`
}

// Filters narrows a history query.
type Filters struct {
	Kind  Kind
	Actor string
	// Limit caps the number of records; zero means no cap.
	Limit int
}

// Query is the storage-level form of a history request.
type Query struct {
	Target string
	Since  time.Time
	Filters
}
