package models

import "time"

type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusInReview   TaskStatus = "in_review"
	TaskStatusDone       TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusInReview, TaskStatusDone:
		return true
	}
	return false
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Task belongs to a project, is created by a user and optionally assigned to one
type Task struct {
	ID          int64        `json:"id" db:"id"`
	Title       string       `json:"title" db:"title"`
	Description string       `json:"description,omitempty" db:"description"`
	Status      TaskStatus   `json:"status" db:"status"`
	Priority    TaskPriority `json:"priority" db:"priority"`
	ProjectID   int64        `json:"project_id" db:"project_id"`
	CreatedBy   int64        `json:"created_by" db:"created_by"`
	AssignedTo  *int64       `json:"assigned_to,omitempty" db:"assigned_to"`
	Deadline    *time.Time   `json:"deadline,omitempty" db:"deadline"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// IsParticipant reports whether the user created or is assigned to the task.
func (t *Task) IsParticipant(userID int64) bool {
	return t.CreatedBy == userID || (t.AssignedTo != nil && *t.AssignedTo == userID)
}

// TaskCreateRequest is the payload of POST /tasks/
type TaskCreateRequest struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    TaskPriority `json:"priority"`
	ProjectID   int64        `json:"project_id"`
	AssignedTo  *int64       `json:"assigned_to,omitempty"`
	Deadline    *time.Time   `json:"deadline,omitempty"`
}

// TaskUpdateRequest is a partial update; nil fields are left unchanged.
type TaskUpdateRequest struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Status      *TaskStatus   `json:"status,omitempty"`
	Priority    *TaskPriority `json:"priority,omitempty"`
	AssignedTo  *int64        `json:"assigned_to,omitempty"`
	Deadline    *time.Time    `json:"deadline,omitempty"`
}

// Apply copies the set fields onto t.
func (u TaskUpdateRequest) Apply(t *Task) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.AssignedTo != nil {
		t.AssignedTo = u.AssignedTo
	}
	if u.Deadline != nil {
		t.Deadline = u.Deadline
	}
}

// TaskComment is a note left on a task
type TaskComment struct {
	ID        int64     `json:"id" db:"id"`
	TaskID    int64     `json:"task_id" db:"task_id"`
	AuthorID  int64     `json:"author_id" db:"author_id"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TaskAttachment is a stored file (usually a photo) attached to a task
type TaskAttachment struct {
	ID          int64     `json:"id" db:"id"`
	TaskID      int64     `json:"task_id" db:"task_id"`
	UploadedBy  int64     `json:"uploaded_by" db:"uploaded_by"`
	FileName    string    `json:"file_name" db:"file_name"`
	StoredPath  string    `json:"-" db:"stored_path"`
	ContentType string    `json:"content_type" db:"content_type"`
	SizeBytes   int64     `json:"size_bytes" db:"size_bytes"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
