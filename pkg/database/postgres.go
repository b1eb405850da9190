package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"foreman-pm-backend/pkg/apperrors"
	"foreman-pm-backend/pkg/models"

	"github.com/lib/pq"
)

// PostgresDatabase PostgreSQL数据库实现
type PostgresDatabase struct {
	db     *sql.DB
	logger *slog.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// NewPostgresDatabase 创建PostgreSQL数据库实例
func NewPostgresDatabase(dsn string, logger *slog.Logger) (*PostgresDatabase, error) {
	// Sanitize DSN to avoid stray CR/LF from env values
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	strategies := []string{
		dsn,
		addConnectionParams(dsn, "connect_timeout=10"),
	}

	var lastErr error
	for i, strategy := range strategies {
		db, err := sql.Open("postgres", strategy)
		if err != nil {
			logger.Warn("postgres open failed", "strategy", i+1, "error", err)
			lastErr = err
			continue
		}

		// 设置连接池参数
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(2 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err != nil {
			logger.Warn("postgres ping failed", "strategy", i+1, "error", err)
			db.Close()
			lastErr = err
			continue
		}

		logger.Info("postgres connection established", "strategy", i+1)
		return &PostgresDatabase{db: db, logger: logger}, nil
	}
	return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", lastErr)
}

// NewPostgresDatabaseFromDB wraps an already opened handle.
func NewPostgresDatabaseFromDB(db *sql.DB, logger *slog.Logger) *PostgresDatabase {
	return &PostgresDatabase{db: db, logger: logger}
}

// addConnectionParams 添加连接参数到DSN
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}
	// key=value DSNs take space separated params
	if !strings.Contains(dsn, "://") {
		return dsn + " " + strings.ReplaceAll(params, "&", " ")
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + params
}

func (db *PostgresDatabase) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db.db
}

// RunInTx runs fn inside a READ COMMITTED transaction. Nested calls join the
// outer transaction.
func (db *PostgresDatabase) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := db.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = fn(context.WithValue(ctx, txKey{}, tx))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// HealthCheck 健康检查
func (db *PostgresDatabase) HealthCheck(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close 关闭连接
func (db *PostgresDatabase) Close() error {
	return db.db.Close()
}

// mapError converts driver errors into the shared sentinels.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", what, apperrors.ErrConflict)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced row missing: %w", what, apperrors.ErrValidation)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ================= Users =================

const userColumns = `id, telegram_id, COALESCE(username,''), COALESCE(first_name,''), COALESCE(last_name,''), role, is_active, created_at, updated_at`

func scanUser(s rowScanner) (*models.User, error) {
	var u models.User
	var role string
	if err := s.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = models.UserRole(role)
	return &u, nil
}

// CreateUser 创建用户
func (db *PostgresDatabase) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (telegram_id, username, first_name, last_name, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := db.q(ctx).QueryRowContext(ctx, query,
		user.TelegramID, nullIfEmpty(user.Username), nullIfEmpty(user.FirstName), nullIfEmpty(user.LastName),
		string(user.Role), user.IsActive,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	return mapError(err, "create user")
}

// GetUserByID 根据ID获取用户
func (db *PostgresDatabase) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(db.q(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "get user")
	}
	return u, nil
}

// GetUserByTelegramID 根据Telegram ID获取用户
func (db *PostgresDatabase) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	u, err := scanUser(db.q(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID))
	if err != nil {
		return nil, mapError(err, "get user by telegram id")
	}
	return u, nil
}

// UpdateUser 更新用户
func (db *PostgresDatabase) UpdateUser(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET username = $1, first_name = $2, last_name = $3, role = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at
	`
	err := db.q(ctx).QueryRowContext(ctx, query,
		nullIfEmpty(user.Username), nullIfEmpty(user.FirstName), nullIfEmpty(user.LastName), string(user.Role), user.ID,
	).Scan(&user.UpdatedAt)
	return mapError(err, "update user")
}

func (db *PostgresDatabase) SetUserActive(ctx context.Context, id int64, active bool) error {
	res, err := db.q(ctx).ExecContext(ctx, `UPDATE users SET is_active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return mapError(err, "set user active")
	}
	return requireAffected(res, "set user active")
}

func (db *PostgresDatabase) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.q(ctx).QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, mapError(err, "list users")
	}
	defer rows.Close()
	var result []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		result = append(result, *u)
	}
	return result, rows.Err()
}

func (db *PostgresDatabase) UserStats(ctx context.Context) (*models.AdminStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_active),
		       COUNT(*) FILTER (WHERE role = 'foreman'),
		       COUNT(*) FILTER (WHERE role = 'worker')
		FROM users
	`
	var s models.AdminStats
	err := db.q(ctx).QueryRowContext(ctx, query).Scan(&s.TotalUsers, &s.ActiveUsers, &s.ForemenCount, &s.WorkersCount)
	if err != nil {
		return nil, mapError(err, "user stats")
	}
	return &s, nil
}

// ================= Projects & Memberships =================

const projectColumns = `id, name, COALESCE(description,''), COALESCE(color,''), is_active, created_by, created_at, updated_at`

func scanProject(s rowScanner) (*models.Project, error) {
	var p models.Project
	if err := s.Scan(&p.ID, &p.Name, &p.Description, &p.Color, &p.IsActive, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *PostgresDatabase) CreateProject(ctx context.Context, project *models.Project) error {
	if project.Color == "" {
		project.Color = models.DefaultProjectColor
	}
	project.IsActive = true
	return db.RunInTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO projects (name, description, color, is_active, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, TRUE, $4, NOW(), NOW())
			RETURNING id, created_at, updated_at
		`
		err := db.q(ctx).QueryRowContext(ctx, query, project.Name, nullIfEmpty(project.Description), project.Color, project.CreatedBy).
			Scan(&project.ID, &project.CreatedAt, &project.UpdatedAt)
		if err != nil {
			return mapError(err, "create project")
		}
		// owner membership
		_, err = db.q(ctx).ExecContext(ctx, `
			INSERT INTO project_memberships (project_id, user_id, role, created_at)
			VALUES ($1, $2, 'owner', NOW())
		`, project.ID, project.CreatedBy)
		return mapError(err, "add owner membership")
	})
}

func (db *PostgresDatabase) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	p, err := scanProject(db.q(ctx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "get project")
	}
	return p, nil
}

func (db *PostgresDatabase) UpdateProject(ctx context.Context, project *models.Project) error {
	query := `
		UPDATE projects
		SET name = $1, description = $2, color = COALESCE($3, color), updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at
	`
	err := db.q(ctx).QueryRowContext(ctx, query, project.Name, nullIfEmpty(project.Description), nullIfEmpty(project.Color), project.ID).
		Scan(&project.UpdatedAt)
	return mapError(err, "update project")
}

func (db *PostgresDatabase) DeactivateProject(ctx context.Context, id int64) error {
	res, err := db.q(ctx).ExecContext(ctx, `UPDATE projects SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "deactivate project")
	}
	return requireAffected(res, "deactivate project")
}

func (db *PostgresDatabase) ListActiveProjects(ctx context.Context) ([]models.Project, error) {
	return db.listProjects(ctx, `SELECT `+projectColumns+` FROM projects WHERE is_active ORDER BY created_at DESC`)
}

func (db *PostgresDatabase) ListUserProjects(ctx context.Context, userID int64) ([]models.Project, error) {
	query := `
		SELECT p.id, p.name, COALESCE(p.description,''), COALESCE(p.color,''), p.is_active, p.created_by, p.created_at, p.updated_at
		FROM projects p
		JOIN project_memberships m ON m.project_id = p.id
		WHERE m.user_id = $1 AND p.is_active
		ORDER BY p.created_at DESC
	`
	return db.listProjects(ctx, query, userID)
}

func (db *PostgresDatabase) listProjects(ctx context.Context, query string, args ...any) ([]models.Project, error) {
	rows, err := db.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list projects")
	}
	defer rows.Close()
	var result []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (db *PostgresDatabase) AddProjectMember(ctx context.Context, m *models.ProjectMembership) error {
	if m.Role == models.ProjectRoleOwner {
		return fmt.Errorf("a project has exactly one owner: %w", apperrors.ErrValidation)
	}
	query := `
		INSERT INTO project_memberships (project_id, user_id, role, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at
	`
	err := db.q(ctx).QueryRowContext(ctx, query, m.ProjectID, m.UserID, string(m.Role)).Scan(&m.ID, &m.CreatedAt)
	return mapError(err, "add project member")
}

func (db *PostgresDatabase) RemoveProjectMember(ctx context.Context, projectID, userID int64) error {
	m, err := db.GetProjectMembership(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if m.Role == models.ProjectRoleOwner {
		return fmt.Errorf("cannot remove project owner: %w", apperrors.ErrValidation)
	}
	_, err = db.q(ctx).ExecContext(ctx, `DELETE FROM project_memberships WHERE id = $1`, m.ID)
	return mapError(err, "remove project member")
}

func (db *PostgresDatabase) GetProjectMembership(ctx context.Context, projectID, userID int64) (*models.ProjectMembership, error) {
	var m models.ProjectMembership
	var role string
	err := db.q(ctx).QueryRowContext(ctx, `
		SELECT id, project_id, user_id, role, created_at
		FROM project_memberships
		WHERE project_id = $1 AND user_id = $2
	`, projectID, userID).Scan(&m.ID, &m.ProjectID, &m.UserID, &role, &m.CreatedAt)
	if err != nil {
		return nil, mapError(err, "get project membership")
	}
	m.Role = models.ProjectRole(role)
	return &m, nil
}

func (db *PostgresDatabase) ListProjectMembers(ctx context.Context, projectID int64) ([]models.ProjectMembership, error) {
	rows, err := db.q(ctx).QueryContext(ctx, `
		SELECT id, project_id, user_id, role, created_at
		FROM project_memberships
		WHERE project_id = $1
		ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, mapError(err, "list project members")
	}
	defer rows.Close()
	var result []models.ProjectMembership
	for rows.Next() {
		var m models.ProjectMembership
		var role string
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.UserID, &role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.Role = models.ProjectRole(role)
		result = append(result, m)
	}
	return result, rows.Err()
}

// ================= Tasks =================

const taskColumns = `id, title, COALESCE(description,''), status, priority, project_id, created_by, assigned_to, deadline, created_at, updated_at`

func scanTask(s rowScanner) (*models.Task, error) {
	var t models.Task
	var status, priority string
	var assigned sql.NullInt64
	var deadline sql.NullTime
	if err := s.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &t.ProjectID, &t.CreatedBy, &assigned, &deadline, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	t.Priority = models.TaskPriority(priority)
	if assigned.Valid {
		v := assigned.Int64
		t.AssignedTo = &v
	}
	if deadline.Valid {
		v := deadline.Time
		t.Deadline = &v
	}
	return &t, nil
}

func (db *PostgresDatabase) CreateTask(ctx context.Context, task *models.Task) error {
	if task.Status == "" {
		task.Status = models.TaskStatusTodo
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}
	query := `
		INSERT INTO tasks (title, description, status, priority, project_id, created_by, assigned_to, deadline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := db.q(ctx).QueryRowContext(ctx, query,
		task.Title, nullIfEmpty(task.Description), string(task.Status), string(task.Priority),
		task.ProjectID, task.CreatedBy, task.AssignedTo, task.Deadline,
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	return mapError(err, "create task")
}

func (db *PostgresDatabase) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	t, err := scanTask(db.q(ctx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "get task")
	}
	return t, nil
}

func (db *PostgresDatabase) UpdateTask(ctx context.Context, task *models.Task) error {
	query := `
		UPDATE tasks
		SET title = $1, description = $2, status = $3, priority = $4, assigned_to = $5, deadline = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING updated_at
	`
	err := db.q(ctx).QueryRowContext(ctx, query,
		task.Title, nullIfEmpty(task.Description), string(task.Status), string(task.Priority),
		task.AssignedTo, task.Deadline, task.ID,
	).Scan(&task.UpdatedAt)
	return mapError(err, "update task")
}

// DeleteTask removes the task; comments and attachments cascade.
func (db *PostgresDatabase) DeleteTask(ctx context.Context, id int64) error {
	res, err := db.q(ctx).ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "delete task")
	}
	return requireAffected(res, "delete task")
}

func (db *PostgresDatabase) ListTasks(ctx context.Context) ([]models.Task, error) {
	return db.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
}

func (db *PostgresDatabase) ListTasksForUser(ctx context.Context, userID int64) ([]models.Task, error) {
	return db.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE created_by = $1 OR assigned_to = $1 ORDER BY created_at DESC`, userID)
}

func (db *PostgresDatabase) ListTasksByProject(ctx context.Context, projectID int64) ([]models.Task, error) {
	return db.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
}

func (db *PostgresDatabase) listTasks(ctx context.Context, query string, args ...any) ([]models.Task, error) {
	rows, err := db.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list tasks")
	}
	defer rows.Close()
	var result []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (db *PostgresDatabase) AddTaskComment(ctx context.Context, c *models.TaskComment) error {
	err := db.q(ctx).QueryRowContext(ctx, `
		INSERT INTO task_comments (task_id, author_id, content, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at
	`, c.TaskID, c.AuthorID, c.Content).Scan(&c.ID, &c.CreatedAt)
	return mapError(err, "add task comment")
}

func (db *PostgresDatabase) ListTaskComments(ctx context.Context, taskID int64) ([]models.TaskComment, error) {
	rows, err := db.q(ctx).QueryContext(ctx, `
		SELECT id, task_id, author_id, content, created_at
		FROM task_comments
		WHERE task_id = $1
		ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, mapError(err, "list task comments")
	}
	defer rows.Close()
	var result []models.TaskComment
	for rows.Next() {
		var c models.TaskComment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (db *PostgresDatabase) AddTaskAttachment(ctx context.Context, a *models.TaskAttachment) error {
	err := db.q(ctx).QueryRowContext(ctx, `
		INSERT INTO task_attachments (task_id, uploaded_by, file_name, stored_path, content_type, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at
	`, a.TaskID, a.UploadedBy, a.FileName, a.StoredPath, a.ContentType, a.SizeBytes).Scan(&a.ID, &a.CreatedAt)
	return mapError(err, "add task attachment")
}

func (db *PostgresDatabase) ListTaskAttachments(ctx context.Context, taskID int64) ([]models.TaskAttachment, error) {
	rows, err := db.q(ctx).QueryContext(ctx, `
		SELECT id, task_id, uploaded_by, file_name, stored_path, content_type, size_bytes, created_at
		FROM task_attachments
		WHERE task_id = $1
		ORDER BY created_at DESC, id DESC
	`, taskID)
	if err != nil {
		return nil, mapError(err, "list task attachments")
	}
	defer rows.Close()
	var result []models.TaskAttachment
	for rows.Next() {
		var a models.TaskAttachment
		if err := rows.Scan(&a.ID, &a.TaskID, &a.UploadedBy, &a.FileName, &a.StoredPath, &a.ContentType, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ================= Approval requests =================

const approvalColumns = `id, requester_id, approver_id, action_type, entity_type, entity_id, action_data, status, project_id, created_at, reviewed_at, review_comment`

func scanApproval(s rowScanner) (*models.ApprovalRequest, error) {
	var a models.ApprovalRequest
	var actionType, status string
	var data []byte
	var projectID sql.NullInt64
	var reviewedAt sql.NullTime
	var comment sql.NullString
	if err := s.Scan(&a.ID, &a.RequesterID, &a.ApproverID, &actionType, &a.EntityType, &a.EntityID, &data, &status,
		&projectID, &a.CreatedAt, &reviewedAt, &comment); err != nil {
		return nil, err
	}
	a.ActionType = models.ActionType(actionType)
	a.Status = models.ApprovalStatus(status)
	a.ActionData = data
	if projectID.Valid {
		v := projectID.Int64
		a.ProjectID = &v
	}
	if reviewedAt.Valid {
		v := reviewedAt.Time
		a.ReviewedAt = &v
	}
	if comment.Valid {
		v := comment.String
		a.ReviewComment = &v
	}
	return &a, nil
}

func (db *PostgresDatabase) CreateApproval(ctx context.Context, a *models.ApprovalRequest) error {
	a.Status = models.ApprovalPending
	query := `
		INSERT INTO approval_requests (requester_id, approver_id, action_type, entity_type, entity_id, action_data, status, project_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, NOW())
		RETURNING id, created_at
	`
	// action_data is sent as text so the server parses it as json
	err := db.q(ctx).QueryRowContext(ctx, query,
		a.RequesterID, a.ApproverID, string(a.ActionType), a.EntityType, a.EntityID, string(a.ActionData), a.ProjectID,
	).Scan(&a.ID, &a.CreatedAt)
	return mapError(err, "create approval")
}

func (db *PostgresDatabase) GetApproval(ctx context.Context, id int64) (*models.ApprovalRequest, error) {
	a, err := scanApproval(db.q(ctx).QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "get approval")
	}
	return a, nil
}

func (db *PostgresDatabase) ListPendingApprovals(ctx context.Context, approverID int64) ([]models.ApprovalRequest, error) {
	return db.listApprovals(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE approver_id = $1 AND status = 'pending' ORDER BY created_at DESC, id DESC`, approverID)
}

func (db *PostgresDatabase) ListApprovalsByRequester(ctx context.Context, requesterID int64) ([]models.ApprovalRequest, error) {
	return db.listApprovals(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE requester_id = $1 ORDER BY created_at DESC, id DESC`, requesterID)
}

func (db *PostgresDatabase) ListPendingApprovalsByProject(ctx context.Context, projectID int64) ([]models.ApprovalRequest, error) {
	return db.listApprovals(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE project_id = $1 AND status = 'pending' ORDER BY created_at DESC, id DESC`, projectID)
}

func (db *PostgresDatabase) ListApprovalsByEntity(ctx context.Context, entityType string, entityID int64) ([]models.ApprovalRequest, error) {
	return db.listApprovals(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at DESC, id DESC`, entityType, entityID)
}

func (db *PostgresDatabase) listApprovals(ctx context.Context, query string, args ...any) ([]models.ApprovalRequest, error) {
	rows, err := db.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list approvals")
	}
	defer rows.Close()
	var result []models.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// ReviewApproval relies on the row lock taken by UPDATE: of two concurrent
// reviews only the first sees status = 'pending'.
func (db *PostgresDatabase) ReviewApproval(ctx context.Context, id int64, status models.ApprovalStatus, comment *string) (time.Time, error) {
	var reviewedAt time.Time
	err := db.q(ctx).QueryRowContext(ctx, `
		UPDATE approval_requests
		SET status = $1, review_comment = $2, reviewed_at = NOW()
		WHERE id = $3 AND status = 'pending'
		RETURNING reviewed_at
	`, string(status), comment, id).Scan(&reviewedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, apperrors.ErrAlreadyReviewed
	}
	if err != nil {
		return time.Time{}, mapError(err, "review approval")
	}
	return reviewedAt, nil
}

func (db *PostgresDatabase) CountPendingApprovals(ctx context.Context, approverID int64) (int, error) {
	var n int
	err := db.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM approval_requests WHERE approver_id = $1 AND status = 'pending'`, approverID).Scan(&n)
	if err != nil {
		return 0, mapError(err, "count pending approvals")
	}
	return n, nil
}

func (db *PostgresDatabase) DeleteApproval(ctx context.Context, id int64) error {
	res, err := db.q(ctx).ExecContext(ctx, `DELETE FROM approval_requests WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "delete approval")
	}
	return requireAffected(res, "delete approval")
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
