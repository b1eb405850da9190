// Package approval implements the review workflow for deferred actions.
//
// A gated action from a restricted role is recorded as a pending request
// addressed to the creator. Review moves it to approved or rejected exactly
// once. On approval the stored payload is executed with the requester as
// actor. Execution runs after the decision commits and its failure never
// reverts the decision.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"foreman-pm-backend/pkg/apperrors"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/models"
	"foreman-pm-backend/pkg/notify"
	"foreman-pm-backend/pkg/policy"
)

type Service struct {
	db                database.DatabaseInterface
	notifier          notify.Notifier
	executors         map[models.ActionType]Executor
	creatorTelegramID int64
	logger            *slog.Logger
}

// NewService wires the store-backed executors. creatorTelegramID names the
// approver for every request.
func NewService(db database.DatabaseInterface, notifier notify.Notifier, creatorTelegramID int64, logger *slog.Logger) *Service {
	return &Service{
		db:                db,
		notifier:          notifier,
		executors:         DefaultExecutors(db),
		creatorTelegramID: creatorTelegramID,
		logger:            logger,
	}
}

// SetExecutor replaces the executor for action.
func (s *Service) SetExecutor(action models.ActionType, e Executor) {
	s.executors[action] = e
}

// Approver returns the designated creator account.
func (s *Service) Approver(ctx context.Context) (*models.User, error) {
	u, err := s.db.GetUserByTelegramID(ctx, s.creatorTelegramID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("telegram id %d: %w", s.creatorTelegramID, apperrors.ErrNoCreator)
	}
	if err != nil {
		return nil, err
	}
	if u.Role != models.RoleCreator || !u.IsActive {
		return nil, fmt.Errorf("telegram id %d is not an active creator: %w", s.creatorTelegramID, apperrors.ErrNoCreator)
	}
	return u, nil
}

// CreateParams describes a deferred action.
type CreateParams struct {
	Requester  *models.User
	ActionType models.ActionType
	// EntityID is zero when the target does not exist yet.
	EntityID  int64
	Payload   Payload
	ProjectID *int64
}

// Create records a pending request and notifies the approver. It never
// applies the action.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.ApprovalRequest, error) {
	if p.Requester == nil {
		return nil, apperrors.ErrUnauthorized
	}
	data, err := EncodePayload(p.ActionType, p.Payload)
	if err != nil {
		return nil, err
	}
	approver, err := s.Approver(ctx)
	if err != nil {
		return nil, err
	}

	a := &models.ApprovalRequest{
		RequesterID: p.Requester.ID,
		ApproverID:  approver.ID,
		ActionType:  p.ActionType,
		EntityType:  p.ActionType.EntityType(),
		EntityID:    p.EntityID,
		ActionData:  data,
		ProjectID:   p.ProjectID,
	}
	if err := s.db.CreateApproval(ctx, a); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	s.logger.Info("approval requested",
		"approval_id", a.ID, "action", a.ActionType, "requester_id", a.RequesterID, "approver_id", a.ApproverID)

	s.notifier.ApprovalRequested(ctx, approver, p.Requester, a)
	return a, nil
}

// Outcome is the result of Submit.
type Outcome struct {
	Decision policy.Decision
	// Approval is set when Decision is Deferred.
	Approval *models.ApprovalRequest
}

// Submit runs the policy for actor. Denied yields ErrForbidden, Deferred
// records a request, and Direct is left to the caller (see Apply).
func (s *Service) Submit(ctx context.Context, p CreateParams) (*Outcome, error) {
	if p.Requester == nil {
		return nil, apperrors.ErrUnauthorized
	}
	switch d := policy.Authorize(p.Requester.Role, p.ActionType); d {
	case policy.Direct:
		return &Outcome{Decision: d}, nil
	case policy.Deferred:
		a, err := s.Create(ctx, p)
		if err != nil {
			return nil, err
		}
		return &Outcome{Decision: d, Approval: a}, nil
	default:
		return nil, fmt.Errorf("%s may not %s: %w", p.Requester.Role, p.ActionType.Label(), apperrors.ErrForbidden)
	}
}

// Apply executes action immediately as actor inside one transaction.
func (s *Service) Apply(ctx context.Context, actor *models.User, action models.ActionType, p Payload) (any, error) {
	if _, err := EncodePayload(action, p); err != nil {
		return nil, err
	}
	ex, ok := s.executors[action]
	if !ok {
		return nil, fmt.Errorf("no executor for %s: %w", action, apperrors.ErrValidation)
	}
	var result any
	err := s.db.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = ex.Execute(ctx, actor, p)
		return err
	})
	return result, err
}

// ReviewResult reports a committed decision.
type ReviewResult struct {
	Approval *models.ApprovalRequest
	// Result is what the executor produced for an approved request.
	Result any
	// ExecutionError is set when the approved action could not be carried
	// out. The decision stays committed.
	ExecutionError error
	Notified       bool
}

// Review records reviewer's decision. Checks run in order: the request
// exists, reviewer is its approver, it is still pending. Concurrent reviews
// are settled by the store; the loser gets ErrAlreadyReviewed.
func (s *Service) Review(ctx context.Context, id int64, reviewer *models.User, decision models.ApprovalStatus, comment *string) (*ReviewResult, error) {
	if !decision.IsDecision() {
		return nil, fmt.Errorf("status must be approved or rejected: %w", apperrors.ErrValidation)
	}
	a, err := s.db.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if reviewer == nil || a.ApproverID != reviewer.ID {
		return nil, fmt.Errorf("only the designated approver may review request %d: %w", id, apperrors.ErrForbidden)
	}
	if a.Status != models.ApprovalPending {
		return nil, fmt.Errorf("request %d is %s: %w", id, a.Status, apperrors.ErrAlreadyReviewed)
	}

	reviewedAt, err := s.db.ReviewApproval(ctx, id, decision, comment)
	if err != nil {
		return nil, fmt.Errorf("request %d: %w", id, err)
	}
	a.Status = decision
	a.ReviewedAt = &reviewedAt
	a.ReviewComment = comment
	s.logger.Info("approval reviewed", "approval_id", id, "status", decision, "reviewer_id", reviewer.ID)

	res := &ReviewResult{Approval: a}
	requester, err := s.db.GetUserByID(ctx, a.RequesterID)
	if err != nil {
		s.logger.Error("load requester", "approval_id", id, "error", err)
	}

	if decision == models.ApprovalApproved {
		res.Result, res.ExecutionError = s.execute(ctx, requester, a)
		if res.ExecutionError != nil {
			s.logger.Error("approved action failed", "approval_id", id, "action", a.ActionType, "error", res.ExecutionError)
		}
	}

	if requester != nil {
		res.Notified = s.notifier.ApprovalResolved(ctx, requester, reviewer, a)
	}
	return res, nil
}

func (s *Service) execute(ctx context.Context, requester *models.User, a *models.ApprovalRequest) (any, error) {
	if requester == nil {
		return nil, fmt.Errorf("requester %d: %w", a.RequesterID, apperrors.ErrNotFound)
	}
	p, err := DecodePayload(a.ActionType, a.ActionData)
	if err != nil {
		return nil, err
	}
	ex, ok := s.executors[a.ActionType]
	if !ok {
		return nil, fmt.Errorf("no executor for %s: %w", a.ActionType, apperrors.ErrValidation)
	}
	var result any
	err = s.db.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = ex.Execute(ctx, requester, p)
		return err
	})
	return result, err
}

// ListPending returns pending requests addressed to approverID, newest first.
func (s *Service) ListPending(ctx context.Context, approverID int64) ([]models.ApprovalRequest, error) {
	return s.db.ListPendingApprovals(ctx, approverID)
}

func (s *Service) ListByRequester(ctx context.Context, requesterID int64) ([]models.ApprovalRequest, error) {
	return s.db.ListApprovalsByRequester(ctx, requesterID)
}

func (s *Service) ListPendingByProject(ctx context.Context, projectID int64) ([]models.ApprovalRequest, error) {
	return s.db.ListPendingApprovalsByProject(ctx, projectID)
}

func (s *Service) Get(ctx context.Context, id int64) (*models.ApprovalRequest, error) {
	return s.db.GetApproval(ctx, id)
}

func (s *Service) CountPending(ctx context.Context, approverID int64) (int, error) {
	return s.db.CountPendingApprovals(ctx, approverID)
}

// Delete removes a request. Only the admin surface calls it.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.db.DeleteApproval(ctx, id)
}
