package models

import (
	"encoding/json"
	"time"
)

// ActionType enumerates the mutations that may be deferred to approval
type ActionType string

const (
	ActionCreateTask            ActionType = "create_task"
	ActionUpdateTask            ActionType = "update_task"
	ActionDeleteTask            ActionType = "delete_task"
	ActionCreateProject         ActionType = "create_project"
	ActionUpdateProject         ActionType = "update_project"
	ActionDeleteProject         ActionType = "delete_project"
	ActionAddUserToProject      ActionType = "add_user_to_project"
	ActionRemoveUserFromProject ActionType = "remove_user_from_project"
)

// AllActionTypes lists every action type.
var AllActionTypes = []ActionType{
	ActionCreateTask, ActionUpdateTask, ActionDeleteTask,
	ActionCreateProject, ActionUpdateProject, ActionDeleteProject,
	ActionAddUserToProject, ActionRemoveUserFromProject,
}

func (a ActionType) Valid() bool {
	for _, t := range AllActionTypes {
		if t == a {
			return true
		}
	}
	return false
}

// Label is the human readable description used in notifications.
func (a ActionType) Label() string {
	switch a {
	case ActionCreateTask:
		return "create task"
	case ActionUpdateTask:
		return "update task"
	case ActionDeleteTask:
		return "delete task"
	case ActionCreateProject:
		return "create project"
	case ActionUpdateProject:
		return "update project"
	case ActionDeleteProject:
		return "delete project"
	case ActionAddUserToProject:
		return "add user to project"
	case ActionRemoveUserFromProject:
		return "remove user from project"
	}
	return string(a)
}

// EntityType returns the logical entity an action concerns.
func (a ActionType) EntityType() string {
	switch a {
	case ActionCreateTask, ActionUpdateTask, ActionDeleteTask:
		return "task"
	case ActionAddUserToProject, ActionRemoveUserFromProject:
		return "project_membership"
	}
	return "project"
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// IsDecision reports whether s is a terminal state a reviewer may choose.
func (s ApprovalStatus) IsDecision() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// ApprovalRequest is the durable record of a deferred action and its review
type ApprovalRequest struct {
	ID            int64           `json:"id" db:"id"`
	RequesterID   int64           `json:"requester_id" db:"requester_id"`
	ApproverID    int64           `json:"approver_id" db:"approver_id"`
	ActionType    ActionType      `json:"action_type" db:"action_type"`
	EntityType    string          `json:"entity_type" db:"entity_type"`
	EntityID      int64           `json:"entity_id" db:"entity_id"`
	ActionData    json.RawMessage `json:"action_data" db:"action_data"`
	Status        ApprovalStatus  `json:"status" db:"status"`
	ProjectID     *int64          `json:"project_id,omitempty" db:"project_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	ReviewedAt    *time.Time      `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewComment *string         `json:"review_comment,omitempty" db:"review_comment"`
}

// ApprovalReviewRequest is the payload of POST /admin/approvals/{id}/review
type ApprovalReviewRequest struct {
	Status  ApprovalStatus `json:"status"`
	Comment *string        `json:"comment,omitempty"`
}
