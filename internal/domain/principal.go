package domain

import "github.com/google/uuid"

// Principal identifies the caller of a gated operation.
type Principal struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }
