// Package policy decides whether a role may perform an action directly,
// must defer it to the creator for approval, or may not perform it at all.
package policy

import "foreman-pm-backend/pkg/models"

type Decision int

const (
	Denied Decision = iota
	Direct
	Deferred
)

func (d Decision) String() string {
	switch d {
	case Direct:
		return "direct"
	case Deferred:
		return "deferred"
	}
	return "denied"
}

// rules lists every explicitly handled (role, action) pair.
// Missing pairs are Denied.
var rules = map[models.UserRole]map[models.ActionType]Decision{
	models.RoleCreator: {
		models.ActionCreateTask:            Direct,
		models.ActionUpdateTask:            Direct,
		models.ActionDeleteTask:            Direct,
		models.ActionCreateProject:         Direct,
		models.ActionUpdateProject:         Direct,
		models.ActionDeleteProject:         Direct,
		models.ActionAddUserToProject:      Direct,
		models.ActionRemoveUserFromProject: Direct,
	},
	models.RoleForeman: {
		models.ActionCreateTask:    Deferred,
		models.ActionUpdateTask:    Deferred,
		models.ActionDeleteTask:    Deferred,
		models.ActionCreateProject: Direct,
	},
	models.RoleWorker: {
		models.ActionCreateProject: Direct,
	},
	models.RoleViewer: {
		models.ActionCreateProject: Direct,
	},
}

// Authorize returns the decision for role performing action.
func Authorize(role models.UserRole, action models.ActionType) Decision {
	if byAction, ok := rules[role]; ok {
		if d, ok := byAction[action]; ok {
			return d
		}
	}
	return Denied
}

// Gated reports whether any role has action deferred to approval.
func Gated(action models.ActionType) bool {
	for _, byAction := range rules {
		if byAction[action] == Deferred {
			return true
		}
	}
	return false
}

// AllowedRoles returns the roles that are not Denied for action.
func AllowedRoles(action models.ActionType) []models.UserRole {
	var out []models.UserRole
	for _, role := range models.AllUserRoles {
		if Authorize(role, action) != Denied {
			out = append(out, role)
		}
	}
	return out
}
