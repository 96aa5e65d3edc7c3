package confirm

import (
	"errors"
	"time"

	"github.com/meridian-agents/meridian/internal/shared"
)

// ProtocolVersion identifies the confirm protocol revision this engine
// produces.
const ProtocolVersion = "1.0.1"

// Status is the lifecycle state of a confirmation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInReview  Status = "in_review"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether the status is absorbing: no further step actions
// are accepted once reached.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// ConfirmationType categorises what is being confirmed.
type ConfirmationType string

const (
	TypePlanApproval       ConfirmationType = "plan_approval"
	TypeTaskApproval       ConfirmationType = "task_approval"
	TypeMilestoneConfirm   ConfirmationType = "milestone_confirmation"
	TypeRiskAcceptance     ConfirmationType = "risk_acceptance"
	TypeResourceAllocation ConfirmationType = "resource_allocation"
	TypeEmergencyApproval  ConfirmationType = "emergency_approval"
)

// Priority grades urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// WorkflowType is the approval topology.
type WorkflowType string

const (
	WorkflowSingleApprover WorkflowType = "single_approver"
	WorkflowSequential     WorkflowType = "sequential"
	WorkflowParallel       WorkflowType = "parallel"
	WorkflowConsensus      WorkflowType = "consensus"
	WorkflowEscalation     WorkflowType = "escalation"
)

// StepStatus is the per-step state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepApproved  StepStatus = "approved"
	StepRejected  StepStatus = "rejected"
	StepSkipped   StepStatus = "skipped"
	StepDelegated StepStatus = "delegated"
)

// Resolved reports whether the step has reached a per-step terminal state.
// A delegated step is still awaiting its delegate's decision.
func (s StepStatus) Resolved() bool {
	switch s {
	case StepApproved, StepRejected, StepSkipped:
		return true
	}
	return false
}

// Action enumerates step decisions.
type Action string

const (
	ActionApprove        Action = "approve"
	ActionReject         Action = "reject"
	ActionRequestChanges Action = "request_changes"
	ActionDelegate       Action = "delegate"
)

// Approver identifies who must decide a step.
type Approver struct {
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	IsRequired bool   `json:"is_required"`
}

// Decision records the outcome of a step action.
type Decision struct {
	Outcome    Action            `json:"outcome"`
	Comments   string            `json:"comments,omitempty"`
	Conditions map[string]string `json:"conditions,omitempty"`
	Signature  string            `json:"signature,omitempty"`
	DecidedBy  string            `json:"decided_by"`
	Timestamp  time.Time         `json:"timestamp"`
}

// ApprovalStep is one decision point in a workflow. StepOrder values are
// unique per workflow and define precedence only for sequential and
// escalation topologies.
type ApprovalStep struct {
	StepID    string     `json:"step_id"`
	StepOrder int        `json:"step_order"`
	Approver  Approver   `json:"approver"`
	Status    StepStatus `json:"status"`
	Decision  *Decision  `json:"decision,omitempty"`
	Escalated bool       `json:"escalated,omitempty"`
}

// EscalationRule redirects a workflow when its trigger fires.
type EscalationRule struct {
	Trigger        string   `json:"trigger"`
	EscalateTo     Approver `json:"escalate_to"`
	MaxEscalations int      `json:"max_escalations,omitempty"`
}

// ApprovalWorkflow is the approval topology plus its steps.
// ConsensusThreshold is the approved-ratio needed for consensus workflows;
// zero means the default of two thirds.
type ApprovalWorkflow struct {
	WorkflowType       WorkflowType     `json:"workflow_type"`
	Steps              []ApprovalStep   `json:"steps"`
	EscalationRules    []EscalationRule `json:"escalation_rules,omitempty"`
	ConsensusThreshold float64          `json:"consensus_threshold,omitempty"`
}

// Requester identifies who asked for the confirmation.
type Requester struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Subject describes what is being confirmed.
type Subject struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Attachments []string       `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RiskAssessment captures the risk profile attached to a confirmation.
type RiskAssessment struct {
	RiskLevel      string   `json:"risk_level"`
	ImpactScope    string   `json:"impact_scope,omitempty"`
	RiskFactors    []string `json:"risk_factors,omitempty"`
	MitigationPlan string   `json:"mitigation_plan,omitempty"`
}

// NotificationSettings selects which lifecycle events notify whom.
type NotificationSettings struct {
	NotifyOn   []string `json:"notify_on,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Channels   []string `json:"channels,omitempty"`
}

// wants reports whether the settings subscribe to the event. Empty settings
// subscribe to everything.
func (n *NotificationSettings) wants(event string) bool {
	if n == nil || len(n.NotifyOn) == 0 {
		return true
	}
	for _, e := range n.NotifyOn {
		if e == event {
			return true
		}
	}
	return false
}

// ConfirmProtocol is the confirmation entity driven through the approval
// state machine. AuditTrail is append-only.
type ConfirmProtocol struct {
	ProtocolVersion      string                `json:"protocol_version"`
	ConfirmID            string                `json:"confirm_id"`
	ContextID            string                `json:"context_id"`
	PlanID               string                `json:"plan_id,omitempty"`
	ConfirmationType     ConfirmationType      `json:"confirmation_type"`
	Status               Status                `json:"status"`
	Priority             Priority              `json:"priority"`
	Requester            *Requester            `json:"requester,omitempty"`
	ApprovalWorkflow     ApprovalWorkflow      `json:"approval_workflow"`
	Subject              *Subject              `json:"subject,omitempty"`
	RiskAssessment       *RiskAssessment       `json:"risk_assessment,omitempty"`
	NotificationSettings *NotificationSettings `json:"notification_settings,omitempty"`
	AuditTrail           []shared.AuditEvent   `json:"audit_trail"`
	ExpiresAt            *time.Time            `json:"expires_at,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// Step returns a pointer to the step with the given ID, or nil.
func (p *ConfirmProtocol) Step(stepID string) *ApprovalStep {
	for i := range p.ApprovalWorkflow.Steps {
		if p.ApprovalWorkflow.Steps[i].StepID == stepID {
			return &p.ApprovalWorkflow.Steps[i]
		}
	}
	return nil
}

// PendingSteps returns the steps still awaiting a decision, in step order.
func (p *ConfirmProtocol) PendingSteps() []ApprovalStep {
	var out []ApprovalStep
	for _, step := range p.ApprovalWorkflow.Steps {
		if !step.Status.Resolved() {
			out = append(out, step)
		}
	}
	return out
}

// Filter selects confirmations in query operations. Zero-value fields match
// all.
type Filter struct {
	ConfirmIDs        []string
	ContextIDs        []string
	PlanIDs           []string
	ConfirmationTypes []ConfirmationType
	Statuses          []Status
	Priorities        []Priority
	RequesterUserIDs  []string
	CreatedAfter      *time.Time
	CreatedBefore     *time.Time
}

// Matches reports whether the confirmation satisfies the filter.
func (f Filter) Matches(p ConfirmProtocol) bool {
	if len(f.ConfirmIDs) > 0 && !containsString(f.ConfirmIDs, p.ConfirmID) {
		return false
	}
	if len(f.ContextIDs) > 0 && !containsString(f.ContextIDs, p.ContextID) {
		return false
	}
	if len(f.PlanIDs) > 0 && !containsString(f.PlanIDs, p.PlanID) {
		return false
	}
	if len(f.ConfirmationTypes) > 0 && !containsType(f.ConfirmationTypes, p.ConfirmationType) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, p.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !containsPriority(f.Priorities, p.Priority) {
		return false
	}
	if len(f.RequesterUserIDs) > 0 {
		if p.Requester == nil || !containsString(f.RequesterUserIDs, p.Requester.UserID) {
			return false
		}
	}
	if f.CreatedAfter != nil && p.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && p.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

// Statistics aggregates stored confirmations.
type Statistics struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByType     map[string]int `json:"by_type"`
	ByPriority map[string]int `json:"by_priority"`
}

var (
	// ErrNotFound indicates the confirmation does not exist.
	ErrNotFound = errors.New("confirm: not found")
	// ErrTerminal indicates the confirmation is in an absorbing state.
	ErrTerminal = errors.New("confirm: confirmation is terminal")
	// ErrStepNotFound indicates the step does not exist in the workflow.
	ErrStepNotFound = errors.New("confirm: step not found")
	// ErrStepResolved indicates the step already carries a decision.
	ErrStepResolved = errors.New("confirm: step already resolved")
	// ErrStepNotReady indicates a sequential predecessor is still open.
	ErrStepNotReady = errors.New("confirm: earlier steps still open")
)

// validationError, workflowError and permissionError build the typed,
// recoverable errors of the engine's taxonomy.
func validationError(msg string) *shared.Error {
	return &shared.Error{Code: shared.CodeValidation, Message: msg}
}

func workflowError(msg string) *shared.Error {
	return &shared.Error{Code: shared.CodeWorkflow, Message: msg}
}

func permissionError(msg string) *shared.Error {
	return &shared.Error{Code: shared.CodePermissionDenied, Message: msg}
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsType(list []ConfirmationType, v ConfirmationType) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsStatus(list []Status, v Status) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsPriority(list []Priority, v Priority) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
