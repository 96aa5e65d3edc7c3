package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-agents/meridian/internal/observability"
	"github.com/meridian-agents/meridian/internal/rbac"
	"github.com/meridian-agents/meridian/internal/shared"
)

// PermissionPort gates step actions on the caller's authorization. Wired to
// the rbac checker in production; nil disables the gate.
type PermissionPort interface {
	CheckPermission(ctx context.Context, req rbac.CheckRequest) (rbac.CheckResult, error)
}

// Service drives confirmations through their approval workflows. All step
// actions on one confirmation are serialized on its ID.
type Service struct {
	repo        RepositoryPort
	perms       PermissionPort
	notifier    NotifierPort
	audit       shared.AuditPort
	locks       *shared.KeyedMutex
	logger      *slog.Logger
	metrics     *observability.Metrics
	validate    *validator.Validate
	parallelism int
	now         func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithPermissionPort wires the authorization gate for step actions.
func WithPermissionPort(p PermissionPort) ServiceOption {
	return func(s *Service) { s.perms = p }
}

// WithNotifier wires lifecycle notification dispatch.
func WithNotifier(n NotifierPort) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithAudit wires the audit sink for high-value operations.
func WithAudit(a shared.AuditPort) ServiceOption {
	return func(s *Service) { s.audit = a }
}

// WithServiceMetrics wires metrics collection.
func WithServiceMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithParallelism bounds batch create concurrency.
func WithParallelism(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:        repo,
		locks:       shared.NewKeyedMutex(),
		logger:      logger,
		validate:    validator.New(),
		parallelism: 10,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateConfirmationInput carries everything needed to open a confirmation.
// Workflow is optional; the type's default topology applies when absent.
type CreateConfirmationInput struct {
	ContextID            string           `validate:"required"`
	PlanID               string           `validate:"omitempty"`
	ConfirmationType     ConfirmationType `validate:"required"`
	Priority             Priority         `validate:"omitempty"`
	Requester            *Requester
	Subject              *Subject
	RiskAssessment       *RiskAssessment
	Workflow             *ApprovalWorkflow
	NotificationSettings *NotificationSettings
	ExpiresAt            *time.Time
}

var validTypes = map[ConfirmationType]struct{}{
	TypePlanApproval:       {},
	TypeTaskApproval:       {},
	TypeMilestoneConfirm:   {},
	TypeRiskAcceptance:     {},
	TypeResourceAllocation: {},
	TypeEmergencyApproval:  {},
}

var validPriorities = map[Priority]struct{}{
	PriorityLow:      {},
	PriorityMedium:   {},
	PriorityHigh:     {},
	PriorityCritical: {},
}

// CreateConfirmation validates the input, assembles the protocol document and
// persists it in the pending state.
func (s *Service) CreateConfirmation(ctx context.Context, input CreateConfirmationInput) (ConfirmProtocol, error) {
	if err := s.validate.Struct(input); err != nil {
		return ConfirmProtocol{}, validationError(fmt.Sprintf("invalid confirmation input: %v", err))
	}
	if _, ok := validTypes[input.ConfirmationType]; !ok {
		return ConfirmProtocol{}, validationError(fmt.Sprintf("unknown confirmation_type %q", input.ConfirmationType))
	}
	if input.Priority == "" {
		input.Priority = PriorityMedium
	}
	if _, ok := validPriorities[input.Priority]; !ok {
		return ConfirmProtocol{}, validationError(fmt.Sprintf("unknown priority %q", input.Priority))
	}

	var wf ApprovalWorkflow
	if input.Workflow != nil {
		normalized, err := normalizeWorkflow(*input.Workflow)
		if err != nil {
			return ConfirmProtocol{}, err
		}
		wf = normalized
	} else {
		wf = DefaultWorkflow(input.ConfirmationType)
	}

	now := s.now()
	p := ConfirmProtocol{
		ProtocolVersion:      ProtocolVersion,
		ConfirmID:            uuid.NewString(),
		ContextID:            input.ContextID,
		PlanID:               input.PlanID,
		ConfirmationType:     input.ConfirmationType,
		Status:               StatusPending,
		Priority:             input.Priority,
		Requester:            input.Requester,
		ApprovalWorkflow:     wf,
		Subject:              input.Subject,
		RiskAssessment:       input.RiskAssessment,
		NotificationSettings: input.NotificationSettings,
		ExpiresAt:            input.ExpiresAt,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	actor := shared.Actor{}
	if input.Requester != nil {
		actor = shared.Actor{UserID: input.Requester.UserID, Role: input.Requester.Role}
	}
	p.AuditTrail = shared.AppendEvent(nil, shared.AuditEvent{
		Timestamp:   now,
		EventType:   "confirmation_created",
		Actor:       actor,
		Description: fmt.Sprintf("confirmation opened with %s workflow", wf.WorkflowType),
	})

	if err := s.repo.Create(ctx, p); err != nil {
		return ConfirmProtocol{}, fmt.Errorf("confirm: create: %w", err)
	}
	s.recordAudit(ctx, actor.UserID, "confirm.create", p.ConfirmID, shared.SeverityMedium, map[string]any{
		"confirmation_type": string(p.ConfirmationType),
		"priority":          string(p.Priority),
	})
	s.dispatch(ctx, p, EventCreated)
	return p, nil
}

// StepActionResult is the outcome of one processed step action.
type StepActionResult struct {
	Confirmation ConfirmProtocol
	Step         ApprovalStep
	NextSteps    []ApprovalStep
	Completed    bool
}

// ProcessStepAction applies one decision to one workflow step. Concurrent
// actions on the same confirmation are serialized; the second decision on an
// already resolved step fails.
func (s *Service) ProcessStepAction(ctx context.Context, confirmID string, req StepActionRequest) (StepActionResult, error) {
	if confirmID == "" || req.StepID == "" {
		return StepActionResult{}, validationError("confirm_id and step_id are required")
	}
	if req.Actor.UserID == "" {
		return StepActionResult{}, validationError("actor user_id is required")
	}

	s.locks.Lock(confirmID)
	defer s.locks.Unlock(confirmID)

	p, err := s.repo.FindByID(ctx, confirmID)
	if err != nil {
		return StepActionResult{}, err
	}

	if s.perms != nil {
		check, err := s.perms.CheckPermission(ctx, rbac.CheckRequest{
			UserID:       req.Actor.UserID,
			ResourceType: "confirmation",
			ResourceID:   confirmID,
			Action:       string(req.Action),
			ContextID:    p.ContextID,
		})
		if err != nil {
			return StepActionResult{}, fmt.Errorf("confirm: permission check: %w", err)
		}
		if !check.Granted {
			permErr := permissionError(fmt.Sprintf("user %s may not %s confirmation %s: %s",
				req.Actor.UserID, req.Action, confirmID, check.Reason))
			s.observeAction(req.Action, permErr)
			return StepActionResult{}, permErr
		}
	}

	now := s.now()
	updated, step, err := applyStepAction(p, req, now)
	s.observeAction(req.Action, err)
	if err != nil {
		return StepActionResult{}, err
	}

	updated.AuditTrail = shared.AppendEvent(updated.AuditTrail, shared.AuditEvent{
		Timestamp:   now,
		EventType:   "step_" + string(req.Action),
		Actor:       shared.Actor{UserID: req.Actor.UserID, Role: req.Actor.Role},
		Description: fmt.Sprintf("step %d %s; confirmation %s", step.StepOrder, step.Status, updated.Status),
	})

	if err := s.repo.Update(ctx, updated); err != nil {
		return StepActionResult{}, fmt.Errorf("confirm: update: %w", err)
	}
	s.recordAudit(ctx, req.Actor.UserID, "confirm.step."+string(req.Action), confirmID, shared.SeverityMedium, map[string]any{
		"step_id": step.StepID,
		"status":  string(updated.Status),
	})

	event := EventUpdated
	if updated.Status.Terminal() {
		event = EventCompleted
	}
	s.dispatch(ctx, updated, event)

	return StepActionResult{
		Confirmation: updated,
		Step:         *step,
		NextSteps:    updated.PendingSteps(),
		Completed:    updated.Status.Terminal(),
	}, nil
}

// UpdateConfirmationInput carries mutable confirmation fields. Nil fields are
// left unchanged. The workflow itself is immutable after creation.
type UpdateConfirmationInput struct {
	Priority             *Priority
	Subject              *Subject
	RiskAssessment       *RiskAssessment
	NotificationSettings *NotificationSettings
	ExpiresAt            *time.Time
	Actor                shared.Actor
}

// UpdateConfirmation amends descriptive fields of an open confirmation.
func (s *Service) UpdateConfirmation(ctx context.Context, confirmID string, input UpdateConfirmationInput) (ConfirmProtocol, error) {
	s.locks.Lock(confirmID)
	defer s.locks.Unlock(confirmID)

	p, err := s.repo.FindByID(ctx, confirmID)
	if err != nil {
		return ConfirmProtocol{}, err
	}
	if p.Status.Terminal() {
		return ConfirmProtocol{}, workflowError(fmt.Sprintf("confirmation %s is %s: %v", confirmID, p.Status, ErrTerminal))
	}
	if input.Priority != nil {
		if _, ok := validPriorities[*input.Priority]; !ok {
			return ConfirmProtocol{}, validationError(fmt.Sprintf("unknown priority %q", *input.Priority))
		}
		p.Priority = *input.Priority
	}
	if input.Subject != nil {
		p.Subject = input.Subject
	}
	if input.RiskAssessment != nil {
		p.RiskAssessment = input.RiskAssessment
	}
	if input.NotificationSettings != nil {
		p.NotificationSettings = input.NotificationSettings
	}
	if input.ExpiresAt != nil {
		p.ExpiresAt = input.ExpiresAt
	}

	now := s.now()
	p.UpdatedAt = now
	p.AuditTrail = shared.AppendEvent(p.AuditTrail, shared.AuditEvent{
		Timestamp:   now,
		EventType:   "confirmation_updated",
		Actor:       input.Actor,
		Description: "confirmation fields amended",
	})
	if err := s.repo.Update(ctx, p); err != nil {
		return ConfirmProtocol{}, fmt.Errorf("confirm: update: %w", err)
	}
	s.dispatch(ctx, p, EventUpdated)
	return p, nil
}

// CancelConfirmation moves an open confirmation to the cancelled state.
func (s *Service) CancelConfirmation(ctx context.Context, confirmID string, actor shared.Actor, reason string) (ConfirmProtocol, error) {
	s.locks.Lock(confirmID)
	defer s.locks.Unlock(confirmID)

	p, err := s.repo.FindByID(ctx, confirmID)
	if err != nil {
		return ConfirmProtocol{}, err
	}
	if p.Status.Terminal() {
		return ConfirmProtocol{}, workflowError(fmt.Sprintf("confirmation %s is %s: %v", confirmID, p.Status, ErrTerminal))
	}
	now := s.now()
	p.Status = StatusCancelled
	p.UpdatedAt = now
	p.AuditTrail = shared.AppendEvent(p.AuditTrail, shared.AuditEvent{
		Timestamp:   now,
		EventType:   "confirmation_cancelled",
		Actor:       actor,
		Description: reason,
	})
	if err := s.repo.Update(ctx, p); err != nil {
		return ConfirmProtocol{}, fmt.Errorf("confirm: cancel: %w", err)
	}
	s.recordAudit(ctx, actor.UserID, "confirm.cancel", confirmID, shared.SeverityMedium, map[string]any{"reason": reason})
	s.dispatch(ctx, p, EventCompleted)
	return p, nil
}

// BatchCreateItem is one outcome within a batch create.
type BatchCreateItem struct {
	Index        int
	Confirmation ConfirmProtocol
	Err          error
}

// BatchCreateResult summarises a batch create.
type BatchCreateResult struct {
	Items     []BatchCreateItem
	Succeeded int
	Failed    int
	Stopped   bool
}

// BatchCreateConfirmations opens many confirmations. With stopOnError the
// items run in order and processing halts at the first failure; otherwise
// they run concurrently and every item reports its own outcome.
func (s *Service) BatchCreateConfirmations(ctx context.Context, inputs []CreateConfirmationInput, stopOnError bool) (BatchCreateResult, error) {
	result := BatchCreateResult{Items: make([]BatchCreateItem, 0, len(inputs))}
	if stopOnError {
		for i, input := range inputs {
			p, err := s.CreateConfirmation(ctx, input)
			result.Items = append(result.Items, BatchCreateItem{Index: i, Confirmation: p, Err: err})
			if err != nil {
				result.Failed++
				result.Stopped = true
				return result, nil
			}
			result.Succeeded++
		}
		return result, nil
	}

	items := make([]BatchCreateItem, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, input := range inputs {
		i, input := i, input
		g.Go(func() error {
			p, err := s.CreateConfirmation(gctx, input)
			items[i] = BatchCreateItem{Index: i, Confirmation: p, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchCreateResult{}, err
	}
	for _, item := range items {
		if item.Err != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}
	result.Items = items
	return result, nil
}

// GetConfirmation returns a confirmation by ID.
func (s *Service) GetConfirmation(ctx context.Context, confirmID string) (ConfirmProtocol, error) {
	return s.repo.FindByID(ctx, confirmID)
}

// QueryConfirmations returns confirmations matching the filter, newest first.
func (s *Service) QueryConfirmations(ctx context.Context, filter Filter) ([]ConfirmProtocol, error) {
	return s.repo.FindByFilter(ctx, filter)
}

// Statistics aggregates stored confirmations and refreshes the status gauge.
func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	stats, err := s.repo.Statistics(ctx)
	if err != nil {
		return Statistics{}, err
	}
	for status, n := range stats.ByStatus {
		s.metrics.SetConfirmations(status, float64(n))
	}
	return stats, nil
}

// ExpireOverdue moves open confirmations past their deadline to the expired
// state. It returns the number of confirmations expired.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	open, err := s.repo.FindByFilter(ctx, Filter{Statuses: []Status{StatusPending, StatusInReview}})
	if err != nil {
		return 0, err
	}
	now := s.now()
	expired := 0
	for _, candidate := range open {
		if candidate.ExpiresAt == nil || candidate.ExpiresAt.After(now) {
			continue
		}
		if err := s.expireOne(ctx, candidate.ConfirmID, now); err != nil {
			s.logger.Warn("expire confirmation", slog.String("confirm_id", candidate.ConfirmID), slog.Any("error", err))
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, confirmID string, now time.Time) error {
	s.locks.Lock(confirmID)
	defer s.locks.Unlock(confirmID)

	p, err := s.repo.FindByID(ctx, confirmID)
	if err != nil {
		return err
	}
	// Re-check under the lock; a step action may have completed it meanwhile.
	if p.Status.Terminal() || p.ExpiresAt == nil || p.ExpiresAt.After(now) {
		return nil
	}
	p.Status = StatusExpired
	p.UpdatedAt = now
	p.AuditTrail = shared.AppendEvent(p.AuditTrail, shared.AuditEvent{
		Timestamp:   now,
		EventType:   "confirmation_expired",
		Actor:       shared.Actor{UserID: "system"},
		Description: "deadline passed without completion",
	})
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	s.dispatch(ctx, p, EventCompleted)
	return nil
}

// Health reports the service probe, checking repository reachability.
func (s *Service) Health(ctx context.Context) shared.Health {
	checks := map[string]string{"repository": "pass"}
	if _, err := s.repo.Statistics(ctx); err != nil {
		checks["repository"] = "fail"
	}
	return shared.NewHealth(checks)
}

func (s *Service) dispatch(ctx context.Context, p ConfirmProtocol, event string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Dispatch(ctx, p, event); err != nil {
		s.logger.Warn("notification dispatch",
			slog.String("confirm_id", p.ConfirmID),
			slog.String("event", event),
			slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID, action, entityID string, sev shared.AuditSeverity, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "confirmation",
		EntityID: entityID,
		Severity: sev,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) observeAction(action Action, err error) {
	s.metrics.ObserveStepAction(string(action), err)
}
