package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"foreman-pm-backend/pkg/apperrors"
	"foreman-pm-backend/pkg/models"
)

// MemoryDatabase 内存数据库实现，用于测试与本地演示
type MemoryDatabase struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	state *memoryState
	now   func() time.Time
}

type memoryState struct {
	nextID      int64
	users       map[int64]models.User
	projects    map[int64]models.Project
	memberships map[int64]models.ProjectMembership
	tasks       map[int64]models.Task
	comments    map[int64]models.TaskComment
	attachments map[int64]models.TaskAttachment
	approvals   map[int64]models.ApprovalRequest
}

type memTxKey struct{}

// NewMemoryDatabase 创建内存数据库实例
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		state: newMemoryState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func newMemoryState() *memoryState {
	return &memoryState{
		users:       map[int64]models.User{},
		projects:    map[int64]models.Project{},
		memberships: map[int64]models.ProjectMembership{},
		tasks:       map[int64]models.Task{},
		comments:    map[int64]models.TaskComment{},
		attachments: map[int64]models.TaskAttachment{},
		approvals:   map[int64]models.ApprovalRequest{},
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	c.nextID = s.nextID
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.memberships {
		c.memberships[k] = v
	}
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	for k, v := range s.comments {
		c.comments[k] = v
	}
	for k, v := range s.attachments {
		c.attachments[k] = v
	}
	for k, v := range s.approvals {
		c.approvals[k] = v
	}
	return c
}

func (db *MemoryDatabase) id() int64 {
	db.state.nextID++
	return db.state.nextID
}

// RunInTx serializes transactions. Writes from outside wait for the open
// transaction to finish, so a rollback to the snapshot taken at begin only
// undoes the transaction's own writes. Reads are not blocked.
func (db *MemoryDatabase) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.RLock()
	snapshot := db.state.clone()
	db.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			db.restore(snapshot)
			panic(p)
		} else if err != nil {
			db.restore(snapshot)
		}
	}()
	return fn(context.WithValue(ctx, memTxKey{}, true))
}

// writeLock takes the state lock for a write. Outside a transaction it also
// holds txMu so the write can not land between a snapshot and its restore.
func (db *MemoryDatabase) writeLock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		db.mu.Lock()
		return db.mu.Unlock
	}
	db.txMu.Lock()
	db.mu.Lock()
	return func() {
		db.mu.Unlock()
		db.txMu.Unlock()
	}
}

func (db *MemoryDatabase) restore(s *memoryState) {
	db.mu.Lock()
	db.state = s
	db.mu.Unlock()
}

func (db *MemoryDatabase) HealthCheck(ctx context.Context) error { return ctx.Err() }

func (db *MemoryDatabase) Close() error { return nil }

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
}

// ================= Users =================

func (db *MemoryDatabase) CreateUser(ctx context.Context, user *models.User) error {
	defer db.writeLock(ctx)()
	for _, u := range db.state.users {
		if u.TelegramID == user.TelegramID {
			return fmt.Errorf("create user: %w", apperrors.ErrConflict)
		}
	}
	now := db.now()
	user.ID = db.id()
	user.CreatedAt, user.UpdatedAt = now, now
	db.state.users[user.ID] = *user
	return nil
}

func (db *MemoryDatabase) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	u, ok := db.state.users[id]
	if !ok {
		return nil, notFound("get user")
	}
	return &u, nil
}

func (db *MemoryDatabase) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, u := range db.state.users {
		if u.TelegramID == telegramID {
			return &u, nil
		}
	}
	return nil, notFound("get user by telegram id")
}

func (db *MemoryDatabase) UpdateUser(ctx context.Context, user *models.User) error {
	defer db.writeLock(ctx)()
	cur, ok := db.state.users[user.ID]
	if !ok {
		return notFound("update user")
	}
	cur.Username, cur.FirstName, cur.LastName, cur.Role = user.Username, user.FirstName, user.LastName, user.Role
	cur.UpdatedAt = db.now()
	db.state.users[user.ID] = cur
	user.UpdatedAt = cur.UpdatedAt
	return nil
}

func (db *MemoryDatabase) SetUserActive(ctx context.Context, id int64, active bool) error {
	defer db.writeLock(ctx)()
	u, ok := db.state.users[id]
	if !ok {
		return notFound("set user active")
	}
	u.IsActive = active
	u.UpdatedAt = db.now()
	db.state.users[id] = u
	return nil
}

func (db *MemoryDatabase) ListUsers(ctx context.Context) ([]models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]models.User, 0, len(db.state.users))
	for _, u := range db.state.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (db *MemoryDatabase) UserStats(ctx context.Context) (*models.AdminStats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var s models.AdminStats
	for _, u := range db.state.users {
		s.TotalUsers++
		if u.IsActive {
			s.ActiveUsers++
		}
		switch u.Role {
		case models.RoleForeman:
			s.ForemenCount++
		case models.RoleWorker:
			s.WorkersCount++
		}
	}
	return &s, nil
}

// ================= Projects & Memberships =================

func (db *MemoryDatabase) CreateProject(ctx context.Context, project *models.Project) error {
	defer db.writeLock(ctx)()
	if _, ok := db.state.users[project.CreatedBy]; !ok {
		return fmt.Errorf("create project: owner missing: %w", apperrors.ErrValidation)
	}
	if project.Color == "" {
		project.Color = models.DefaultProjectColor
	}
	now := db.now()
	project.ID = db.id()
	project.IsActive = true
	project.CreatedAt, project.UpdatedAt = now, now
	db.state.projects[project.ID] = *project
	mid := db.id()
	db.state.memberships[mid] = models.ProjectMembership{
		ID: mid, ProjectID: project.ID, UserID: project.CreatedBy, Role: models.ProjectRoleOwner, CreatedAt: now,
	}
	return nil
}

func (db *MemoryDatabase) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	p, ok := db.state.projects[id]
	if !ok {
		return nil, notFound("get project")
	}
	return &p, nil
}

func (db *MemoryDatabase) UpdateProject(ctx context.Context, project *models.Project) error {
	defer db.writeLock(ctx)()
	cur, ok := db.state.projects[project.ID]
	if !ok {
		return notFound("update project")
	}
	cur.Name, cur.Description = project.Name, project.Description
	if project.Color != "" {
		cur.Color = project.Color
	}
	cur.UpdatedAt = db.now()
	db.state.projects[project.ID] = cur
	*project = cur
	return nil
}

func (db *MemoryDatabase) DeactivateProject(ctx context.Context, id int64) error {
	defer db.writeLock(ctx)()
	p, ok := db.state.projects[id]
	if !ok {
		return notFound("deactivate project")
	}
	p.IsActive = false
	p.UpdatedAt = db.now()
	db.state.projects[id] = p
	return nil
}

func (db *MemoryDatabase) ListActiveProjects(ctx context.Context) ([]models.Project, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []models.Project
	for _, p := range db.state.projects {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sortProjects(out)
	return out, nil
}

func (db *MemoryDatabase) ListUserProjects(ctx context.Context, userID int64) ([]models.Project, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []models.Project
	for _, m := range db.state.memberships {
		if m.UserID != userID {
			continue
		}
		if p, ok := db.state.projects[m.ProjectID]; ok && p.IsActive {
			out = append(out, p)
		}
	}
	sortProjects(out)
	return out, nil
}

func sortProjects(ps []models.Project) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.After(ps[j].CreatedAt)
		}
		return ps[i].ID > ps[j].ID
	})
}

func (db *MemoryDatabase) AddProjectMember(ctx context.Context, m *models.ProjectMembership) error {
	if m.Role == models.ProjectRoleOwner {
		return fmt.Errorf("a project has exactly one owner: %w", apperrors.ErrValidation)
	}
	defer db.writeLock(ctx)()
	if _, ok := db.state.projects[m.ProjectID]; !ok {
		return fmt.Errorf("add project member: project missing: %w", apperrors.ErrValidation)
	}
	if _, ok := db.state.users[m.UserID]; !ok {
		return fmt.Errorf("add project member: user missing: %w", apperrors.ErrValidation)
	}
	for _, cur := range db.state.memberships {
		if cur.ProjectID == m.ProjectID && cur.UserID == m.UserID {
			return fmt.Errorf("add project member: %w", apperrors.ErrConflict)
		}
	}
	m.ID = db.id()
	m.CreatedAt = db.now()
	db.state.memberships[m.ID] = *m
	return nil
}

func (db *MemoryDatabase) RemoveProjectMember(ctx context.Context, projectID, userID int64) error {
	defer db.writeLock(ctx)()
	for id, m := range db.state.memberships {
		if m.ProjectID == projectID && m.UserID == userID {
			if m.Role == models.ProjectRoleOwner {
				return fmt.Errorf("cannot remove project owner: %w", apperrors.ErrValidation)
			}
			delete(db.state.memberships, id)
			return nil
		}
	}
	return notFound("remove project member")
}

func (db *MemoryDatabase) GetProjectMembership(ctx context.Context, projectID, userID int64) (*models.ProjectMembership, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, m := range db.state.memberships {
		if m.ProjectID == projectID && m.UserID == userID {
			return &m, nil
		}
	}
	return nil, notFound("get project membership")
}

func (db *MemoryDatabase) ListProjectMembers(ctx context.Context, projectID int64) ([]models.ProjectMembership, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []models.ProjectMembership
	for _, m := range db.state.memberships {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ================= Tasks =================

func (db *MemoryDatabase) CreateTask(ctx context.Context, task *models.Task) error {
	defer db.writeLock(ctx)()
	if _, ok := db.state.projects[task.ProjectID]; !ok {
		return fmt.Errorf("create task: project missing: %w", apperrors.ErrValidation)
	}
	if _, ok := db.state.users[task.CreatedBy]; !ok {
		return fmt.Errorf("create task: creator missing: %w", apperrors.ErrValidation)
	}
	if task.Status == "" {
		task.Status = models.TaskStatusTodo
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}
	now := db.now()
	task.ID = db.id()
	task.CreatedAt, task.UpdatedAt = now, now
	db.state.tasks[task.ID] = *task
	return nil
}

func (db *MemoryDatabase) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.state.tasks[id]
	if !ok {
		return nil, notFound("get task")
	}
	return &t, nil
}

func (db *MemoryDatabase) UpdateTask(ctx context.Context, task *models.Task) error {
	defer db.writeLock(ctx)()
	cur, ok := db.state.tasks[task.ID]
	if !ok {
		return notFound("update task")
	}
	task.ProjectID, task.CreatedBy, task.CreatedAt = cur.ProjectID, cur.CreatedBy, cur.CreatedAt
	task.UpdatedAt = db.now()
	db.state.tasks[task.ID] = *task
	return nil
}

func (db *MemoryDatabase) DeleteTask(ctx context.Context, id int64) error {
	defer db.writeLock(ctx)()
	if _, ok := db.state.tasks[id]; !ok {
		return notFound("delete task")
	}
	delete(db.state.tasks, id)
	for cid, c := range db.state.comments {
		if c.TaskID == id {
			delete(db.state.comments, cid)
		}
	}
	for aid, a := range db.state.attachments {
		if a.TaskID == id {
			delete(db.state.attachments, aid)
		}
	}
	return nil
}

func (db *MemoryDatabase) ListTasks(ctx context.Context) ([]models.Task, error) {
	return db.filterTasks(func(models.Task) bool { return true }), nil
}

func (db *MemoryDatabase) ListTasksForUser(ctx context.Context, userID int64) ([]models.Task, error) {
	return db.filterTasks(func(t models.Task) bool { return t.IsParticipant(userID) }), nil
}

func (db *MemoryDatabase) ListTasksByProject(ctx context.Context, projectID int64) ([]models.Task, error) {
	return db.filterTasks(func(t models.Task) bool { return t.ProjectID == projectID }), nil
}

func (db *MemoryDatabase) filterTasks(keep func(models.Task) bool) []models.Task {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []models.Task
	for _, t := range db.state.tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (db *MemoryDatabase) AddTaskComment(ctx context.Context, c *models.TaskComment) error {
	defer db.writeLock(ctx)()
	if _, ok := db.state.tasks[c.TaskID]; !ok {
		return fmt.Errorf("add task comment: task missing: %w", apperrors.ErrValidation)
	}
	c.ID = db.id()
	c.CreatedAt = db.now()
	db.state.comments[c.ID] = *c
	return nil
}

func (db *MemoryDatabase) ListTaskComments(ctx context.Context, taskID int64) ([]models.TaskComment, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []models.TaskComment
	for _, c := range db.state.comments {
		if c.TaskID == taskID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (db *MemoryDatabase) AddTaskAttachment(ctx context.Context, a *models.TaskAttachment) error {
	defer db.writeLock(ctx)()
	if _, ok := db.state.tasks[a.TaskID]; !ok {
		return fmt.Errorf("add task attachment: task missing: %w", apperrors.ErrValidation)
	}
	a.ID = db.id()
	a.CreatedAt = db.now()
	db.state.attachments[a.ID] = *a
	return nil
}

func (db *MemoryDatabase) ListTaskAttachments(ctx context.Context, taskID int64) ([]models.TaskAttachment, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []models.TaskAttachment
	for _, a := range db.state.attachments {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	// newest first, like the SQL store
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// ================= Approval requests =================

func (db *MemoryDatabase) CreateApproval(ctx context.Context, a *models.ApprovalRequest) error {
	defer db.writeLock(ctx)()
	if _, ok := db.state.users[a.RequesterID]; !ok {
		return fmt.Errorf("create approval: requester missing: %w", apperrors.ErrValidation)
	}
	if _, ok := db.state.users[a.ApproverID]; !ok {
		return fmt.Errorf("create approval: approver missing: %w", apperrors.ErrValidation)
	}
	a.ID = db.id()
	a.Status = models.ApprovalPending
	a.CreatedAt = db.now()
	a.ActionData = append([]byte(nil), a.ActionData...)
	db.state.approvals[a.ID] = *a
	return nil
}

func (db *MemoryDatabase) GetApproval(ctx context.Context, id int64) (*models.ApprovalRequest, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	a, ok := db.state.approvals[id]
	if !ok {
		return nil, notFound("get approval")
	}
	return &a, nil
}

func (db *MemoryDatabase) ListPendingApprovals(ctx context.Context, approverID int64) ([]models.ApprovalRequest, error) {
	return db.filterApprovals(func(a models.ApprovalRequest) bool {
		return a.ApproverID == approverID && a.Status == models.ApprovalPending
	}), nil
}

func (db *MemoryDatabase) ListApprovalsByRequester(ctx context.Context, requesterID int64) ([]models.ApprovalRequest, error) {
	return db.filterApprovals(func(a models.ApprovalRequest) bool { return a.RequesterID == requesterID }), nil
}

func (db *MemoryDatabase) ListPendingApprovalsByProject(ctx context.Context, projectID int64) ([]models.ApprovalRequest, error) {
	return db.filterApprovals(func(a models.ApprovalRequest) bool {
		return a.ProjectID != nil && *a.ProjectID == projectID && a.Status == models.ApprovalPending
	}), nil
}

func (db *MemoryDatabase) ListApprovalsByEntity(ctx context.Context, entityType string, entityID int64) ([]models.ApprovalRequest, error) {
	return db.filterApprovals(func(a models.ApprovalRequest) bool {
		return a.EntityType == entityType && a.EntityID == entityID
	}), nil
}

func (db *MemoryDatabase) filterApprovals(keep func(models.ApprovalRequest) bool) []models.ApprovalRequest {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []models.ApprovalRequest
	for _, a := range db.state.approvals {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (db *MemoryDatabase) ReviewApproval(ctx context.Context, id int64, status models.ApprovalStatus, comment *string) (time.Time, error) {
	defer db.writeLock(ctx)()
	a, ok := db.state.approvals[id]
	if !ok || a.Status != models.ApprovalPending {
		return time.Time{}, apperrors.ErrAlreadyReviewed
	}
	now := db.now()
	a.Status = status
	a.ReviewedAt = &now
	if comment != nil {
		c := *comment
		a.ReviewComment = &c
	}
	db.state.approvals[id] = a
	return now, nil
}

func (db *MemoryDatabase) CountPendingApprovals(ctx context.Context, approverID int64) (int, error) {
	pending, _ := db.ListPendingApprovals(ctx, approverID)
	return len(pending), nil
}

func (db *MemoryDatabase) DeleteApproval(ctx context.Context, id int64) error {
	defer db.writeLock(ctx)()
	if _, ok := db.state.approvals[id]; !ok {
		return notFound("delete approval")
	}
	delete(db.state.approvals, id)
	return nil
}
