// Package notify delivers workflow events to users over the chat platform.
//
// Every Notifier method reports delivery as a bool. Delivery failures are
// logged by the implementation and never returned to the caller, so a
// failed send can not undo the state change that triggered it.
package notify

import (
	"context"
	"sync"

	"foreman-pm-backend/pkg/models"
)

// Notifier sends workflow events to users.
type Notifier interface {
	// ApprovalRequested tells the approver a gated action awaits review.
	ApprovalRequested(ctx context.Context, approver, requester *models.User, a *models.ApprovalRequest) bool
	// ApprovalResolved tells the requester how the review ended.
	ApprovalResolved(ctx context.Context, requester, reviewer *models.User, a *models.ApprovalRequest) bool
	UserProvisioned(ctx context.Context, user, addedBy *models.User) bool
	UserStatusChanged(ctx context.Context, user *models.User) bool
}

// Noop drops every event. Used when no bot token is configured.
type Noop struct{}

func (Noop) ApprovalRequested(context.Context, *models.User, *models.User, *models.ApprovalRequest) bool {
	return false
}

func (Noop) ApprovalResolved(context.Context, *models.User, *models.User, *models.ApprovalRequest) bool {
	return false
}

func (Noop) UserProvisioned(context.Context, *models.User, *models.User) bool { return false }

func (Noop) UserStatusChanged(context.Context, *models.User) bool { return false }

// Event is one call captured by Recorder.
type Event struct {
	Kind       string
	ChatID     int64
	ApprovalID int64
	Status     models.ApprovalStatus
	Comment    string
	Text       string
}

const (
	KindApprovalRequested = "approval_requested"
	KindApprovalResolved  = "approval_resolved"
	KindUserProvisioned   = "user_provisioned"
	KindUserStatusChanged = "user_status_changed"
)

// Recorder keeps every event in memory. Fail makes each call report an
// undelivered message, like a transport outage would.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Fail   bool
}

func (r *Recorder) record(e Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return !r.Fail
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Last returns the most recent event of kind.
func (r *Recorder) Last(kind string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return Event{}, false
}

func (r *Recorder) ApprovalRequested(_ context.Context, approver, requester *models.User, a *models.ApprovalRequest) bool {
	return r.record(Event{
		Kind: KindApprovalRequested, ChatID: approver.TelegramID, ApprovalID: a.ID, Status: a.Status,
		Text: approvalRequestedText(requester, a),
	})
}

func (r *Recorder) ApprovalResolved(_ context.Context, requester, reviewer *models.User, a *models.ApprovalRequest) bool {
	e := Event{
		Kind: KindApprovalResolved, ChatID: requester.TelegramID, ApprovalID: a.ID, Status: a.Status,
		Text: approvalResolvedText(reviewer, a),
	}
	if a.ReviewComment != nil {
		e.Comment = *a.ReviewComment
	}
	return r.record(e)
}

func (r *Recorder) UserProvisioned(_ context.Context, user, addedBy *models.User) bool {
	return r.record(Event{Kind: KindUserProvisioned, ChatID: user.TelegramID, Text: userProvisionedText(user, addedBy)})
}

func (r *Recorder) UserStatusChanged(_ context.Context, user *models.User) bool {
	return r.record(Event{Kind: KindUserStatusChanged, ChatID: user.TelegramID, Text: userStatusText(user)})
}

var (
	_ Notifier = Noop{}
	_ Notifier = (*Recorder)(nil)
	_ Notifier = (*TelegramNotifier)(nil)
)
