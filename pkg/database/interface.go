package database

import (
	"context"
	"log/slog"
	"time"

	"foreman-pm-backend/pkg/models"
)

// DatabaseInterface 定义数据库访问接口
//
// Lookups that find nothing return apperrors.ErrNotFound; unique violations
// return apperrors.ErrConflict.
type DatabaseInterface interface {
	// 用户管理
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	SetUserActive(ctx context.Context, id int64, active bool) error
	ListUsers(ctx context.Context) ([]models.User, error)
	// UserStats fills every AdminStats field except PendingApprovals.
	UserStats(ctx context.Context) (*models.AdminStats, error)

	// Projects & Memberships
	// CreateProject inserts the project and its owner membership atomically.
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	UpdateProject(ctx context.Context, project *models.Project) error
	DeactivateProject(ctx context.Context, id int64) error
	ListActiveProjects(ctx context.Context) ([]models.Project, error)
	ListUserProjects(ctx context.Context, userID int64) ([]models.Project, error)
	AddProjectMember(ctx context.Context, m *models.ProjectMembership) error
	// RemoveProjectMember refuses to remove the owner membership.
	RemoveProjectMember(ctx context.Context, projectID, userID int64) error
	GetProjectMembership(ctx context.Context, projectID, userID int64) (*models.ProjectMembership, error)
	ListProjectMembers(ctx context.Context, projectID int64) ([]models.ProjectMembership, error)

	// Tasks
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id int64) error
	ListTasks(ctx context.Context) ([]models.Task, error)
	// ListTasksForUser returns tasks the user created or is assigned to.
	ListTasksForUser(ctx context.Context, userID int64) ([]models.Task, error)
	ListTasksByProject(ctx context.Context, projectID int64) ([]models.Task, error)
	AddTaskComment(ctx context.Context, c *models.TaskComment) error
	ListTaskComments(ctx context.Context, taskID int64) ([]models.TaskComment, error)
	AddTaskAttachment(ctx context.Context, a *models.TaskAttachment) error
	ListTaskAttachments(ctx context.Context, taskID int64) ([]models.TaskAttachment, error)

	// Approval requests
	CreateApproval(ctx context.Context, a *models.ApprovalRequest) error
	GetApproval(ctx context.Context, id int64) (*models.ApprovalRequest, error)
	ListPendingApprovals(ctx context.Context, approverID int64) ([]models.ApprovalRequest, error)
	ListApprovalsByRequester(ctx context.Context, requesterID int64) ([]models.ApprovalRequest, error)
	ListPendingApprovalsByProject(ctx context.Context, projectID int64) ([]models.ApprovalRequest, error)
	ListApprovalsByEntity(ctx context.Context, entityType string, entityID int64) ([]models.ApprovalRequest, error)
	// ReviewApproval moves a pending request to status. It returns
	// apperrors.ErrAlreadyReviewed when the row is no longer pending.
	ReviewApproval(ctx context.Context, id int64, status models.ApprovalStatus, comment *string) (time.Time, error)
	CountPendingApprovals(ctx context.Context, approverID int64) (int, error)
	DeleteApproval(ctx context.Context, id int64) error

	// RunInTx runs fn in a transaction carried by the returned ctx.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	// 健康检查
	HealthCheck(ctx context.Context) error

	// 关闭连接
	Close() error
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	PostgresDSN string
	// UseMemory selects the in-process store (tests, local demos).
	UseMemory bool
	Debug     bool
}

// NewDatabase 根据配置选择数据库实现
func NewDatabase(config DatabaseConfig, logger *slog.Logger) (DatabaseInterface, error) {
	if config.UseMemory {
		logger.Info("using in-memory database")
		return NewMemoryDatabase(), nil
	}
	logger.Info("using PostgreSQL database")
	pg, err := NewPostgresDatabase(config.PostgresDSN, logger)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

var (
	_ DatabaseInterface = (*PostgresDatabase)(nil)
	_ DatabaseInterface = (*MemoryDatabase)(nil)
)
