package confirm

import (
	"context"
	"sync"

	"github.com/meridian-agents/meridian/internal/shared"
)

// Manager is the simplified facade over the workflow service: request a
// confirmation, act on its first open step, read its status. Callers that
// need multi-step workflows or delegation talk to the Service directly.
type Manager struct {
	svc *Service

	mu       sync.Mutex
	counters ManagerCounters
}

// ManagerCounters tracks manager activity since process start.
type ManagerCounters struct {
	Requested int `json:"requested"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Cancelled int `json:"cancelled"`
}

// NewManager constructs a Manager over the workflow service.
func NewManager(svc *Service) *Manager {
	return &Manager{svc: svc}
}

// RequestConfirmation opens a confirmation with the type's default workflow.
func (m *Manager) RequestConfirmation(ctx context.Context, contextID string, t ConfirmationType, priority Priority, requester Requester, subject Subject) (ConfirmProtocol, error) {
	p, err := m.svc.CreateConfirmation(ctx, CreateConfirmationInput{
		ContextID:        contextID,
		ConfirmationType: t,
		Priority:         priority,
		Requester:        &requester,
		Subject:          &subject,
	})
	if err != nil {
		return ConfirmProtocol{}, err
	}
	m.bump(func(c *ManagerCounters) { c.Requested++ })
	return p, nil
}

// Approve decides the first open step in the confirmation's favour.
func (m *Manager) Approve(ctx context.Context, confirmID string, actor Approver, comments string) (StepActionResult, error) {
	res, err := m.act(ctx, confirmID, ActionApprove, actor, comments, nil)
	if err != nil {
		return StepActionResult{}, err
	}
	if res.Confirmation.Status == StatusApproved {
		m.bump(func(c *ManagerCounters) { c.Approved++ })
	}
	return res, nil
}

// Reject decides the first open step against the confirmation.
func (m *Manager) Reject(ctx context.Context, confirmID string, actor Approver, comments string) (StepActionResult, error) {
	res, err := m.act(ctx, confirmID, ActionReject, actor, comments, nil)
	if err != nil {
		return StepActionResult{}, err
	}
	if res.Confirmation.Status == StatusRejected {
		m.bump(func(c *ManagerCounters) { c.Rejected++ })
	}
	return res, nil
}

// Delegate reassigns the first open step to another user.
func (m *Manager) Delegate(ctx context.Context, confirmID string, actor Approver, delegateTo, comments string) (StepActionResult, error) {
	return m.act(ctx, confirmID, ActionDelegate, actor, comments, map[string]string{"delegate": delegateTo})
}

// RequestChanges records a change request on the first open step without
// resolving it.
func (m *Manager) RequestChanges(ctx context.Context, confirmID string, actor Approver, comments string) (StepActionResult, error) {
	return m.act(ctx, confirmID, ActionRequestChanges, actor, comments, nil)
}

// Cancel withdraws an open confirmation.
func (m *Manager) Cancel(ctx context.Context, confirmID string, actor shared.Actor, reason string) (ConfirmProtocol, error) {
	p, err := m.svc.CancelConfirmation(ctx, confirmID, actor, reason)
	if err != nil {
		return ConfirmProtocol{}, err
	}
	m.bump(func(c *ManagerCounters) { c.Cancelled++ })
	return p, nil
}

// Status returns the confirmation's current state.
func (m *Manager) Status(ctx context.Context, confirmID string) (Status, error) {
	p, err := m.svc.GetConfirmation(ctx, confirmID)
	if err != nil {
		return "", err
	}
	return p.Status, nil
}

// Pending returns open confirmations for a context, newest first.
func (m *Manager) Pending(ctx context.Context, contextID string) ([]ConfirmProtocol, error) {
	return m.svc.QueryConfirmations(ctx, Filter{
		ContextIDs: []string{contextID},
		Statuses:   []Status{StatusPending, StatusInReview},
	})
}

// Counters returns a snapshot of manager activity.
func (m *Manager) Counters() ManagerCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Statistics aggregates stored confirmations.
func (m *Manager) Statistics(ctx context.Context) (Statistics, error) {
	return m.svc.Statistics(ctx)
}

// Health reports the underlying service probe.
func (m *Manager) Health(ctx context.Context) shared.Health {
	return m.svc.Health(ctx)
}

func (m *Manager) act(ctx context.Context, confirmID string, action Action, actor Approver, comments string, conditions map[string]string) (StepActionResult, error) {
	p, err := m.svc.GetConfirmation(ctx, confirmID)
	if err != nil {
		return StepActionResult{}, err
	}
	open := p.PendingSteps()
	if len(open) == 0 {
		return StepActionResult{}, workflowError("confirmation has no open steps")
	}
	target := open[0]
	for _, step := range open[1:] {
		if step.StepOrder < target.StepOrder {
			target = step
		}
	}
	return m.svc.ProcessStepAction(ctx, confirmID, StepActionRequest{
		StepID:     target.StepID,
		Action:     action,
		Actor:      actor,
		Comments:   comments,
		Conditions: conditions,
	})
}

func (m *Manager) bump(fn func(*ManagerCounters)) {
	m.mu.Lock()
	fn(&m.counters)
	m.mu.Unlock()
}
