package approval

import (
	"context"
	"fmt"

	"foreman-pm-backend/pkg/apperrors"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/models"
)

// Executor applies an action to the store on behalf of actor.
type Executor interface {
	Execute(ctx context.Context, actor *models.User, p Payload) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, actor *models.User, p Payload) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, actor *models.User, p Payload) (any, error) {
	return f(ctx, actor, p)
}

// DefaultExecutors returns the store-backed executor for every action type.
func DefaultExecutors(db database.DatabaseInterface) map[models.ActionType]Executor {
	e := &storeExecutors{db: db}
	return map[models.ActionType]Executor{
		models.ActionCreateTask:            ExecutorFunc(e.createTask),
		models.ActionUpdateTask:            ExecutorFunc(e.updateTask),
		models.ActionDeleteTask:            ExecutorFunc(e.deleteTask),
		models.ActionCreateProject:         ExecutorFunc(e.createProject),
		models.ActionUpdateProject:         ExecutorFunc(e.updateProject),
		models.ActionDeleteProject:         ExecutorFunc(e.deleteProject),
		models.ActionAddUserToProject:      ExecutorFunc(e.addMember),
		models.ActionRemoveUserFromProject: ExecutorFunc(e.removeMember),
	}
}

type storeExecutors struct {
	db database.DatabaseInterface
}

func payloadAs[T Payload](p Payload) (T, error) {
	v, ok := p.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected payload %T: %w", p, apperrors.ErrValidation)
	}
	return v, nil
}

// createTask attributes the new task to actor, which for an approved
// request is the original requester.
func (e *storeExecutors) createTask(ctx context.Context, actor *models.User, p Payload) (any, error) {
	in, err := payloadAs[*CreateTaskPayload](p)
	if err != nil {
		return nil, err
	}
	project, err := e.db.GetProject(ctx, in.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if !project.IsActive {
		return nil, fmt.Errorf("create task: project %d is inactive: %w", project.ID, apperrors.ErrValidation)
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	task := &models.Task{
		Title:       in.Title,
		Description: in.Description,
		Status:      models.TaskStatusTodo,
		Priority:    priority,
		ProjectID:   in.ProjectID,
		CreatedBy:   actor.ID,
		AssignedTo:  in.AssignedTo,
		Deadline:    in.Deadline,
	}
	if err := e.db.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

func (e *storeExecutors) updateTask(ctx context.Context, _ *models.User, p Payload) (any, error) {
	in, err := payloadAs[*UpdateTaskPayload](p)
	if err != nil {
		return nil, err
	}
	task, err := e.db.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	in.Apply(task)
	if err := e.db.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return task, nil
}

func (e *storeExecutors) deleteTask(ctx context.Context, _ *models.User, p Payload) (any, error) {
	in, err := payloadAs[*DeleteTaskPayload](p)
	if err != nil {
		return nil, err
	}
	task, err := e.db.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, fmt.Errorf("delete task: %w", err)
	}
	if err := e.db.DeleteTask(ctx, in.TaskID); err != nil {
		return nil, fmt.Errorf("delete task: %w", err)
	}
	return task, nil
}

func (e *storeExecutors) createProject(ctx context.Context, actor *models.User, p Payload) (any, error) {
	in, err := payloadAs[*CreateProjectPayload](p)
	if err != nil {
		return nil, err
	}
	project := &models.Project{
		Name:        in.Name,
		Description: in.Description,
		Color:       in.Color,
		CreatedBy:   actor.ID,
	}
	if err := e.db.CreateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return project, nil
}

func (e *storeExecutors) updateProject(ctx context.Context, _ *models.User, p Payload) (any, error) {
	in, err := payloadAs[*UpdateProjectPayload](p)
	if err != nil {
		return nil, err
	}
	project, err := e.db.GetProject(ctx, in.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	in.Apply(project)
	if err := e.db.UpdateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	return project, nil
}

// deleteProject only flips the active flag.
func (e *storeExecutors) deleteProject(ctx context.Context, _ *models.User, p Payload) (any, error) {
	in, err := payloadAs[*DeleteProjectPayload](p)
	if err != nil {
		return nil, err
	}
	if err := e.db.DeactivateProject(ctx, in.ProjectID); err != nil {
		return nil, fmt.Errorf("delete project: %w", err)
	}
	return e.db.GetProject(ctx, in.ProjectID)
}

func (e *storeExecutors) addMember(ctx context.Context, _ *models.User, p Payload) (any, error) {
	in, err := payloadAs[*MembershipPayload](p)
	if err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = models.ProjectRoleMember
	}
	m := &models.ProjectMembership{ProjectID: in.ProjectID, UserID: in.UserID, Role: role}
	if err := e.db.AddProjectMember(ctx, m); err != nil {
		return nil, fmt.Errorf("add project member: %w", err)
	}
	return m, nil
}

func (e *storeExecutors) removeMember(ctx context.Context, _ *models.User, p Payload) (any, error) {
	in, err := payloadAs[*MembershipPayload](p)
	if err != nil {
		return nil, err
	}
	if err := e.db.RemoveProjectMember(ctx, in.ProjectID, in.UserID); err != nil {
		return nil, fmt.Errorf("remove project member: %w", err)
	}
	return in, nil
}
