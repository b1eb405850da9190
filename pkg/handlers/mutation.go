package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"foreman-pm-backend/pkg/approval"
	"foreman-pm-backend/pkg/middleware"
	"foreman-pm-backend/pkg/models"
	"foreman-pm-backend/pkg/policy"
	"foreman-pm-backend/pkg/utils"

	chiRoute "github.com/go-chi/chi/v5"
)

// PendingApprovalResponse is the 202 body of a deferred mutation.
type PendingApprovalResponse struct {
	Status     string                  `json:"status"`
	ApprovalID int64                   `json:"approval_id"`
	Approval   *models.ApprovalRequest `json:"approval"`
	Message    string                  `json:"message"`
}

const statusPendingApproval = "pending_approval"

// mutation is one policy-checked write.
type mutation struct {
	action    models.ActionType
	entityID  int64
	projectID *int64
	payload   approval.Payload
	// ownsProject grants project owners Direct access to actions the
	// role table denies them.
	ownsProject bool
}

// mutator routes writes through the approval service.
type mutator struct {
	approvals *approval.Service
	logger    *slog.Logger
}

// dispatchResult is either a deferred request or an applied result.
type dispatchResult struct {
	Pending *models.ApprovalRequest
	Result  any
}

func (m *mutator) dispatch(ctx context.Context, user *models.User, mu mutation) (*dispatchResult, error) {
	if mu.ownsProject && policy.Authorize(user.Role, mu.action) == policy.Denied {
		res, err := m.approvals.Apply(ctx, user, mu.action, mu.payload)
		if err != nil {
			return nil, err
		}
		return &dispatchResult{Result: res}, nil
	}

	outcome, err := m.approvals.Submit(ctx, approval.CreateParams{
		Requester:  user,
		ActionType: mu.action,
		EntityID:   mu.entityID,
		Payload:    mu.payload,
		ProjectID:  mu.projectID,
	})
	if err != nil {
		return nil, err
	}
	if outcome.Decision == policy.Deferred {
		return &dispatchResult{Pending: outcome.Approval}, nil
	}
	res, err := m.approvals.Apply(ctx, user, mu.action, mu.payload)
	if err != nil {
		return nil, err
	}
	return &dispatchResult{Result: res}, nil
}

// run dispatches mu and writes the response. okStatus is used when the
// action was applied.
func (m *mutator) run(w http.ResponseWriter, r *http.Request, user *models.User, mu mutation, okStatus int) {
	res, err := m.dispatch(r.Context(), user, mu)
	if err != nil {
		m.logger.Debug("mutation failed", "action", mu.action, "user_id", user.ID, "error", err)
		utils.WriteError(w, err)
		return
	}
	if res.Pending != nil {
		writePending(w, res.Pending)
		return
	}
	utils.WriteJSONResponse(w, okStatus, res.Result)
}

func writePending(w http.ResponseWriter, a *models.ApprovalRequest) {
	utils.WriteAcceptedResponse(w, PendingApprovalResponse{
		Status:     statusPendingApproval,
		ApprovalID: a.ID,
		Approval:   a,
		Message:    "Request sent to the creator for approval",
	})
}

// currentUser writes 401 when the request carries no user.
func currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return nil, false
	}
	return user, true
}

// pathID parses the named chi URL parameter, writing 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := utils.ParseInt64Param(chiRoute.URLParam(r, name))
	if err != nil {
		utils.WriteError(w, err)
		return 0, false
	}
	return id, true
}

// decodeBody writes 400 when the body is not valid JSON.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := utils.ParseJSONBody(r, v); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return false
	}
	return true
}
