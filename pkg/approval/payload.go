package approval

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"foreman-pm-backend/pkg/apperrors"
	"foreman-pm-backend/pkg/models"
)

// Payload is the typed snapshot of a deferred action's parameters.
type Payload interface {
	Validate() error
}

type CreateTaskPayload struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Priority    models.TaskPriority `json:"priority,omitempty"`
	ProjectID   int64               `json:"project_id"`
	ProjectName string              `json:"project_name,omitempty"`
	AssignedTo  *int64              `json:"assigned_to,omitempty"`
	Deadline    *time.Time          `json:"deadline,omitempty"`
}

func (p *CreateTaskPayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return invalid("title is required")
	}
	if p.ProjectID <= 0 {
		return invalid("project_id is required")
	}
	if p.Priority != "" && !p.Priority.Valid() {
		return invalid("unknown priority %q", p.Priority)
	}
	return nil
}

// UpdateTaskPayload flattens the changed fields next to task_id.
type UpdateTaskPayload struct {
	TaskID int64 `json:"task_id"`
	models.TaskUpdateRequest
}

func (p *UpdateTaskPayload) Validate() error {
	if p.TaskID <= 0 {
		return invalid("task_id is required")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return invalid("title can not be empty")
	}
	if p.Status != nil && !p.Status.Valid() {
		return invalid("unknown status %q", *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return invalid("unknown priority %q", *p.Priority)
	}
	return nil
}

type DeleteTaskPayload struct {
	TaskID int64  `json:"task_id"`
	Title  string `json:"title,omitempty"`
}

func (p *DeleteTaskPayload) Validate() error {
	if p.TaskID <= 0 {
		return invalid("task_id is required")
	}
	return nil
}

type CreateProjectPayload struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
}

func (p *CreateProjectPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid("name is required")
	}
	return nil
}

type UpdateProjectPayload struct {
	ProjectID int64 `json:"project_id"`
	models.ProjectUpdateRequest
}

func (p *UpdateProjectPayload) Validate() error {
	if p.ProjectID <= 0 {
		return invalid("project_id is required")
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return invalid("name can not be empty")
	}
	return nil
}

type DeleteProjectPayload struct {
	ProjectID   int64  `json:"project_id"`
	ProjectName string `json:"project_name,omitempty"`
}

func (p *DeleteProjectPayload) Validate() error {
	if p.ProjectID <= 0 {
		return invalid("project_id is required")
	}
	return nil
}

// MembershipPayload serves both add_user_to_project and
// remove_user_from_project; Role is ignored on removal.
type MembershipPayload struct {
	ProjectID int64              `json:"project_id"`
	UserID    int64              `json:"user_id"`
	Role      models.ProjectRole `json:"role,omitempty"`
}

func (p *MembershipPayload) Validate() error {
	if p.ProjectID <= 0 || p.UserID <= 0 {
		return invalid("project_id and user_id are required")
	}
	if p.Role != "" && (!p.Role.Valid() || p.Role == models.ProjectRoleOwner) {
		return invalid("role must be member or viewer")
	}
	return nil
}

var registry = map[models.ActionType]func() Payload{
	models.ActionCreateTask:            func() Payload { return &CreateTaskPayload{} },
	models.ActionUpdateTask:            func() Payload { return &UpdateTaskPayload{} },
	models.ActionDeleteTask:            func() Payload { return &DeleteTaskPayload{} },
	models.ActionCreateProject:         func() Payload { return &CreateProjectPayload{} },
	models.ActionUpdateProject:         func() Payload { return &UpdateProjectPayload{} },
	models.ActionDeleteProject:         func() Payload { return &DeleteProjectPayload{} },
	models.ActionAddUserToProject:      func() Payload { return &MembershipPayload{} },
	models.ActionRemoveUserFromProject: func() Payload { return &MembershipPayload{} },
}

// EncodePayload validates p and checks it is the registered variant for
// action before marshalling it.
func EncodePayload(action models.ActionType, p Payload) (json.RawMessage, error) {
	newPayload, ok := registry[action]
	if !ok {
		return nil, invalid("unknown action type %q", action)
	}
	if p == nil {
		return nil, invalid("payload is required")
	}
	if want := newPayload(); reflect.TypeOf(want) != reflect.TypeOf(p) {
		return nil, invalid("%s expects %T, got %T", action, want, p)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", action, err)
	}
	return raw, nil
}

// DecodePayload parses raw into the variant registered for action. Unknown
// fields and trailing data are rejected.
func DecodePayload(action models.ActionType, raw []byte) (Payload, error) {
	newPayload, ok := registry[action]
	if !ok {
		return nil, invalid("unknown action type %q", action)
	}
	p := newPayload()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, invalid("decode %s payload: %v", action, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, invalid("decode %s payload: trailing data", action)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), apperrors.ErrValidation)
}
