package users

import (
	"time"

	"github.com/ecclesia-app/ecclesia/internal/rbac"
)

// User is a principal as shown in the user directory.
type User struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Access is the full authorization view of one user.
type Access struct {
	ID        string   `json:"id"`
	Role      string   `json:"role"`
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Effective []string `json:"effective"`
	Version   int64    `json:"version"`
}

func userFromPrincipal(p rbac.Principal) User {
	return User{
		ID:        p.ID,
		Role:      p.Role.String(),
		Version:   p.Version,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
