package models

import "time"

// DefaultProjectColor is applied when a project is created without a color.
const DefaultProjectColor = "#3B82F6"

// Project is a named container owning tasks
type Project struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	Color       string    `json:"color" db:"color"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedBy   int64     `json:"created_by" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

type ProjectRole string

const (
	ProjectRoleOwner  ProjectRole = "owner"
	ProjectRoleMember ProjectRole = "member"
	ProjectRoleViewer ProjectRole = "viewer"
)

func (r ProjectRole) Valid() bool {
	return r == ProjectRoleOwner || r == ProjectRoleMember || r == ProjectRoleViewer
}

// ProjectMembership relates users to projects with a project-scoped role
type ProjectMembership struct {
	ID        int64       `json:"id" db:"id"`
	ProjectID int64       `json:"project_id" db:"project_id"`
	UserID    int64       `json:"user_id" db:"user_id"`
	Role      ProjectRole `json:"role" db:"role"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// ProjectCreateRequest is the payload of POST /projects/
type ProjectCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

// ProjectUpdateRequest is a partial update; nil fields are left unchanged.
type ProjectUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Color       *string `json:"color,omitempty"`
}

// Apply copies the set fields onto p.
func (u ProjectUpdateRequest) Apply(p *Project) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Color != nil {
		p.Color = *u.Color
	}
}
