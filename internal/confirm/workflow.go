package confirm

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-agents/meridian/internal/shared"
)

// DefaultConsensusThreshold is the approved-ratio consensus workflows need
// when the workflow does not set its own.
const DefaultConsensusThreshold = 2.0 / 3.0

// StepActionRequest carries one decision on one workflow step.
type StepActionRequest struct {
	StepID     string            `json:"step_id"`
	Action     Action            `json:"action"`
	Actor      Approver          `json:"actor"`
	Comments   string            `json:"comments,omitempty"`
	Conditions map[string]string `json:"conditions,omitempty"`
	Signature  string            `json:"signature,omitempty"`
}

// defaultWorkflowBuilders maps confirmation types to their default approval
// topology, used when a create request supplies no workflow.
var defaultWorkflowBuilders = map[ConfirmationType]func() ApprovalWorkflow{
	TypeEmergencyApproval: func() ApprovalWorkflow {
		return ApprovalWorkflow{
			WorkflowType: WorkflowSingleApprover,
			Steps: []ApprovalStep{
				newStep(1, Approver{Role: "incident_commander", IsRequired: true}),
			},
		}
	},
	TypeRiskAcceptance: func() ApprovalWorkflow {
		return ApprovalWorkflow{
			WorkflowType: WorkflowConsensus,
			Steps: []ApprovalStep{
				newStep(1, Approver{Role: "risk_manager", IsRequired: true}),
				newStep(2, Approver{Role: "security_officer", IsRequired: true}),
				newStep(3, Approver{Role: "compliance_officer", IsRequired: true}),
			},
		}
	},
}

// DefaultWorkflow returns the default approval workflow for a confirmation
// type: a two-step sequential review unless the type declares its own shape.
func DefaultWorkflow(t ConfirmationType) ApprovalWorkflow {
	if build, ok := defaultWorkflowBuilders[t]; ok {
		return build()
	}
	return ApprovalWorkflow{
		WorkflowType: WorkflowSequential,
		Steps: []ApprovalStep{
			newStep(1, Approver{Role: "reviewer", IsRequired: true}),
			newStep(2, Approver{Role: "approver", IsRequired: true}),
		},
	}
}

func newStep(order int, approver Approver) ApprovalStep {
	return ApprovalStep{
		StepID:    uuid.NewString(),
		StepOrder: order,
		Approver:  approver,
		Status:    StepPending,
	}
}

// normalizeWorkflow validates a caller-supplied workflow and fills gaps:
// step IDs, statuses, and the consensus threshold bound.
func normalizeWorkflow(wf ApprovalWorkflow) (ApprovalWorkflow, error) {
	switch wf.WorkflowType {
	case WorkflowSingleApprover, WorkflowSequential, WorkflowParallel, WorkflowConsensus, WorkflowEscalation:
	default:
		return ApprovalWorkflow{}, validationError(fmt.Sprintf("unknown workflow_type %q", wf.WorkflowType))
	}
	if len(wf.Steps) == 0 {
		return ApprovalWorkflow{}, validationError("workflow requires at least one step")
	}
	if wf.WorkflowType == WorkflowSingleApprover && len(wf.Steps) != 1 {
		return ApprovalWorkflow{}, validationError("single_approver workflow requires exactly one step")
	}
	if wf.ConsensusThreshold < 0 || wf.ConsensusThreshold > 1 {
		return ApprovalWorkflow{}, validationError("consensus_threshold must be 0 (default) or within (0, 1]")
	}
	orders := make(map[int]struct{}, len(wf.Steps))
	steps := make([]ApprovalStep, len(wf.Steps))
	for i, step := range wf.Steps {
		if _, dup := orders[step.StepOrder]; dup {
			return ApprovalWorkflow{}, validationError(fmt.Sprintf("duplicate step_order %d", step.StepOrder))
		}
		orders[step.StepOrder] = struct{}{}
		if step.StepID == "" {
			step.StepID = uuid.NewString()
		}
		if step.Status == "" {
			step.Status = StepPending
		}
		steps[i] = step
	}
	wf.Steps = steps
	return wf, nil
}

// applyStepAction is the pure state transition of the engine: it returns the
// updated confirmation and the step acted upon, without performing any side
// effects. Audit and notification dispatch happen in the service layer.
func applyStepAction(p ConfirmProtocol, req StepActionRequest, now time.Time) (ConfirmProtocol, *ApprovalStep, error) {
	if p.Status.Terminal() {
		return p, nil, workflowError(fmt.Sprintf("confirmation %s is %s: %v", p.ConfirmID, p.Status, ErrTerminal))
	}
	updated := clone(p)
	step := updated.Step(req.StepID)
	if step == nil {
		return p, nil, workflowError(fmt.Sprintf("step %s: %v", req.StepID, ErrStepNotFound))
	}
	if step.Status.Resolved() {
		return p, nil, workflowError(fmt.Sprintf("step %s is %s: %v", step.StepID, step.Status, ErrStepResolved))
	}
	if isOrdered(updated.ApprovalWorkflow.WorkflowType) {
		if blocker := firstOpenBefore(updated.ApprovalWorkflow.Steps, step.StepOrder); blocker != nil {
			return p, nil, workflowError(fmt.Sprintf("step %s waits on step %s: %v", step.StepID, blocker.StepID, ErrStepNotReady))
		}
	}

	decision := &Decision{
		Outcome:    req.Action,
		Comments:   req.Comments,
		Conditions: req.Conditions,
		Signature:  req.Signature,
		DecidedBy:  req.Actor.UserID,
		Timestamp:  now,
	}
	switch req.Action {
	case ActionApprove:
		step.Status = StepApproved
		step.Decision = decision
	case ActionReject:
		step.Status = StepRejected
		step.Decision = decision
		escalate(&updated, step)
	case ActionDelegate:
		target, ok := req.Conditions["delegate"]
		if !ok || target == "" {
			return p, nil, validationError("delegate action requires a delegate condition")
		}
		step.Status = StepDelegated
		step.Decision = decision
		step.Approver.UserID = target
	case ActionRequestChanges:
		// The step stays open; the request is recorded on the decision.
		step.Decision = decision
	default:
		return p, nil, validationError(fmt.Sprintf("unknown action %q", req.Action))
	}

	updated.Status = evaluateWorkflow(updated.ApprovalWorkflow)
	updated.UpdatedAt = now
	return updated, step, nil
}

func isOrdered(t WorkflowType) bool {
	return t == WorkflowSequential || t == WorkflowEscalation
}

// firstOpenBefore returns the lowest-order unresolved step preceding order,
// or nil when every predecessor is resolved.
func firstOpenBefore(steps []ApprovalStep, order int) *ApprovalStep {
	var blocker *ApprovalStep
	for i := range steps {
		step := &steps[i]
		if step.StepOrder >= order || step.Status.Resolved() {
			continue
		}
		if blocker == nil || step.StepOrder < blocker.StepOrder {
			blocker = step
		}
	}
	return blocker
}

// escalate appends an escalated step when a rejection matches an escalation
// rule. Rejections on an already-escalated step are final.
func escalate(p *ConfirmProtocol, rejected *ApprovalStep) {
	wf := &p.ApprovalWorkflow
	if wf.WorkflowType != WorkflowEscalation || rejected.Escalated {
		return
	}
	for _, rule := range wf.EscalationRules {
		if rule.Trigger != "rejection" {
			continue
		}
		max := rule.MaxEscalations
		if max <= 0 {
			max = 1
		}
		if countEscalated(wf.Steps) >= max {
			return
		}
		order := 0
		for _, step := range wf.Steps {
			if step.StepOrder > order {
				order = step.StepOrder
			}
		}
		next := newStep(order+1, rule.EscalateTo)
		next.Escalated = true
		wf.Steps = append(wf.Steps, next)
		return
	}
}

func countEscalated(steps []ApprovalStep) int {
	n := 0
	for _, step := range steps {
		if step.Escalated {
			n++
		}
	}
	return n
}

// evaluateWorkflow folds step states into the confirmation status using the
// completion rule of the workflow's type.
func evaluateWorkflow(wf ApprovalWorkflow) Status {
	switch wf.WorkflowType {
	case WorkflowSingleApprover:
		switch wf.Steps[0].Status {
		case StepApproved:
			return StatusApproved
		case StepRejected:
			return StatusRejected
		}
		return reviewIfStarted(wf.Steps)
	case WorkflowSequential:
		return evaluateSequential(wf.Steps)
	case WorkflowParallel:
		return evaluateParallel(wf.Steps)
	case WorkflowConsensus:
		threshold := wf.ConsensusThreshold
		if threshold == 0 {
			threshold = DefaultConsensusThreshold
		}
		return evaluateConsensus(wf.Steps, threshold)
	case WorkflowEscalation:
		return evaluateEscalation(wf.Steps)
	}
	return StatusInReview
}

func evaluateSequential(steps []ApprovalStep) Status {
	done := true
	for _, step := range steps {
		switch step.Status {
		case StepRejected:
			return StatusRejected
		case StepApproved, StepSkipped:
		default:
			done = false
		}
	}
	if done {
		return StatusApproved
	}
	return reviewIfStarted(steps)
}

func evaluateParallel(steps []ApprovalStep) Status {
	done := true
	for _, step := range steps {
		if !step.Approver.IsRequired {
			continue
		}
		switch step.Status {
		case StepRejected:
			return StatusRejected
		case StepApproved, StepSkipped:
		default:
			done = false
		}
	}
	if done {
		return StatusApproved
	}
	return reviewIfStarted(steps)
}

// evaluateConsensus approves once the approved ratio reaches the threshold
// and rejects early once the threshold is mathematically unreachable.
func evaluateConsensus(steps []ApprovalStep, threshold float64) Status {
	total := len(steps)
	approved, open := 0, 0
	for _, step := range steps {
		switch step.Status {
		case StepApproved:
			approved++
		case StepRejected, StepSkipped:
		default:
			open++
		}
	}
	if float64(approved)/float64(total) >= threshold {
		return StatusApproved
	}
	if float64(approved+open)/float64(total) < threshold {
		return StatusRejected
	}
	return reviewIfStarted(steps)
}

// evaluateEscalation resolves on the highest-order decided step: an approval
// anywhere completes the workflow, a rejection is final only when no
// escalated step was appended for it (the rejected step keeps the workflow
// open while its escalation is pending).
func evaluateEscalation(steps []ApprovalStep) Status {
	for _, step := range steps {
		if step.Status == StepApproved {
			return StatusApproved
		}
	}
	open := false
	for _, step := range steps {
		if !step.Status.Resolved() {
			open = true
		}
	}
	if open {
		return reviewIfStarted(steps)
	}
	// Everything resolved without an approval.
	return StatusRejected
}

func reviewIfStarted(steps []ApprovalStep) Status {
	for _, step := range steps {
		if step.Status != StepPending || step.Decision != nil {
			return StatusInReview
		}
	}
	return StatusPending
}

// clone deep-copies the mutable parts of a confirmation so transitions never
// alias the stored entity.
func clone(p ConfirmProtocol) ConfirmProtocol {
	out := p
	out.ApprovalWorkflow.Steps = make([]ApprovalStep, len(p.ApprovalWorkflow.Steps))
	copy(out.ApprovalWorkflow.Steps, p.ApprovalWorkflow.Steps)
	for i := range out.ApprovalWorkflow.Steps {
		if d := out.ApprovalWorkflow.Steps[i].Decision; d != nil {
			dc := *d
			out.ApprovalWorkflow.Steps[i].Decision = &dc
		}
	}
	out.ApprovalWorkflow.EscalationRules = append([]EscalationRule(nil), p.ApprovalWorkflow.EscalationRules...)
	out.AuditTrail = append([]shared.AuditEvent(nil), p.AuditTrail...)
	return out
}
