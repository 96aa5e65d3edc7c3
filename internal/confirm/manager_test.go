package confirm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-agents/meridian/internal/shared"
)

func newManager() (*Manager, *Service) {
	svc, _, _ := newConfirmService()
	return NewManager(svc), svc
}

func TestManagerRequestAndApprove(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()

	p, err := mgr.RequestConfirmation(ctx, "ctx-1", TypeEmergencyApproval, PriorityCritical,
		Requester{UserID: "req-1", Role: "operator"}, Subject{Title: "Rollback release"})
	require.NoError(t, err)
	require.Equal(t, WorkflowSingleApprover, p.ApprovalWorkflow.WorkflowType)

	res, err := mgr.Approve(ctx, p.ConfirmID, Approver{UserID: "commander"}, "go")
	require.NoError(t, err)
	require.True(t, res.Completed)

	status, err := mgr.Status(ctx, p.ConfirmID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, status)

	counters := mgr.Counters()
	require.Equal(t, 1, counters.Requested)
	require.Equal(t, 1, counters.Approved)
	require.Zero(t, counters.Rejected)
}

func TestManagerActsOnLowestOpenStep(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()

	p, err := mgr.RequestConfirmation(ctx, "ctx-1", TypePlanApproval, PriorityMedium,
		Requester{UserID: "req-1"}, Subject{Title: "Plan 9"})
	require.NoError(t, err)

	// Approve twice without naming steps; the manager walks the workflow.
	res, err := mgr.Approve(ctx, p.ConfirmID, Approver{UserID: "reviewer"}, "")
	require.NoError(t, err)
	require.False(t, res.Completed)
	require.Equal(t, 1, res.Step.StepOrder)

	res, err = mgr.Approve(ctx, p.ConfirmID, Approver{UserID: "approver"}, "")
	require.NoError(t, err)
	require.True(t, res.Completed)
	require.Equal(t, 2, res.Step.StepOrder)
}

func TestManagerReject(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()

	p, err := mgr.RequestConfirmation(ctx, "ctx-1", TypePlanApproval, PriorityMedium,
		Requester{UserID: "req-1"}, Subject{Title: "Plan 9"})
	require.NoError(t, err)

	res, err := mgr.Reject(ctx, p.ConfirmID, Approver{UserID: "reviewer"}, "too risky")
	require.NoError(t, err)
	require.True(t, res.Completed)
	require.Equal(t, StatusRejected, res.Confirmation.Status)
	require.Equal(t, 1, mgr.Counters().Rejected)

	// No open steps remain.
	_, err = mgr.Approve(ctx, p.ConfirmID, Approver{UserID: "approver"}, "")
	require.Equal(t, shared.CodeWorkflow, shared.CodeOf(err))
}

func TestManagerDelegate(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()

	p, err := mgr.RequestConfirmation(ctx, "ctx-1", TypeTaskApproval, PriorityLow,
		Requester{UserID: "req-1"}, Subject{Title: "Task 3"})
	require.NoError(t, err)

	res, err := mgr.Delegate(ctx, p.ConfirmID, Approver{UserID: "reviewer"}, "deputy", "on leave")
	require.NoError(t, err)
	require.Equal(t, StepDelegated, res.Step.Status)
	require.Equal(t, "deputy", res.Step.Approver.UserID)

	// The delegated step is still the lowest open step.
	res, err = mgr.Approve(ctx, p.ConfirmID, Approver{UserID: "deputy"}, "")
	require.NoError(t, err)
	require.Equal(t, 1, res.Step.StepOrder)
}

func TestManagerPending(t *testing.T) {
	mgr, svc := newManager()
	ctx := context.Background()

	p, err := mgr.RequestConfirmation(ctx, "ctx-1", TypePlanApproval, PriorityMedium,
		Requester{UserID: "req-1"}, Subject{Title: "Plan A"})
	require.NoError(t, err)
	_, err = mgr.RequestConfirmation(ctx, "ctx-2", TypePlanApproval, PriorityMedium,
		Requester{UserID: "req-1"}, Subject{Title: "Plan B"})
	require.NoError(t, err)

	pending, err := mgr.Pending(ctx, "ctx-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, p.ConfirmID, pending[0].ConfirmID)

	_, err = svc.CancelConfirmation(ctx, p.ConfirmID, shared.Actor{UserID: "req-1"}, "done")
	require.NoError(t, err)

	pending, err = mgr.Pending(ctx, "ctx-1")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestManagerCancelCounter(t *testing.T) {
	mgr, _ := newManager()
	ctx := context.Background()

	p, err := mgr.RequestConfirmation(ctx, "ctx-1", TypePlanApproval, PriorityMedium,
		Requester{UserID: "req-1"}, Subject{Title: "Plan A"})
	require.NoError(t, err)

	_, err = mgr.Cancel(ctx, p.ConfirmID, shared.Actor{UserID: "req-1"}, "superseded")
	require.NoError(t, err)
	require.Equal(t, 1, mgr.Counters().Cancelled)

	h := mgr.Health(ctx)
	require.Equal(t, shared.StatusHealthy, h.Status)
}
