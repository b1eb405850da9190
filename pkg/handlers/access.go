package handlers

import (
	"context"
	"errors"
	"fmt"

	"foreman-pm-backend/pkg/apperrors"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/models"
)

// projectAccess loads an active project the user may see. membership is nil
// for the creator when they are not a member.
func projectAccess(ctx context.Context, db database.DatabaseInterface, user *models.User, projectID int64) (*models.Project, *models.ProjectMembership, error) {
	project, err := db.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if !project.IsActive {
		return nil, nil, fmt.Errorf("project %d: %w", projectID, apperrors.ErrNotFound)
	}
	membership, err := db.GetProjectMembership(ctx, projectID, user.ID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil, err
	}
	if membership == nil && user.Role != models.RoleCreator {
		return nil, nil, fmt.Errorf("no access to project %d: %w", projectID, apperrors.ErrForbidden)
	}
	return project, membership, nil
}

func ownsProject(m *models.ProjectMembership) bool {
	return m != nil && m.Role == models.ProjectRoleOwner
}

// canContribute reports whether the user may add tasks, comments and files
// in a project.
func canContribute(user *models.User, m *models.ProjectMembership) bool {
	if user.Role == models.RoleCreator {
		return true
	}
	return user.Role != models.RoleViewer && m != nil && m.Role != models.ProjectRoleViewer
}

// taskAccess loads a task the user may see: the creator sees everything,
// others need to be a participant or a member of its project.
func taskAccess(ctx context.Context, db database.DatabaseInterface, user *models.User, taskID int64) (*models.Task, error) {
	task, err := db.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if user.Role == models.RoleCreator || task.IsParticipant(user.ID) {
		return task, nil
	}
	if _, err := db.GetProjectMembership(ctx, task.ProjectID, user.ID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("no access to task %d: %w", taskID, apperrors.ErrForbidden)
		}
		return nil, err
	}
	return task, nil
}

// canChangeTask reports whether the user may request edits to task. The
// role policy then decides between direct and deferred.
func canChangeTask(user *models.User, task *models.Task) bool {
	return user.Role == models.RoleCreator || task.IsParticipant(user.ID)
}
