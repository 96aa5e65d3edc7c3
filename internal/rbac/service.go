package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-agents/meridian/internal/observability"
	"github.com/meridian-agents/meridian/internal/roles"
	"github.com/meridian-agents/meridian/internal/shared"
)

// DefaultBatchLimit caps BatchCheckPermissions batch size.
const DefaultBatchLimit = 100

// Checker resolves permission checks against the role repository. Resolution
// is deny-by-default: a grant requires a matching, unexpired, in-scope allow
// permission whose conditions all hold.
type Checker struct {
	repo       roles.RepositoryPort
	cache      *DecisionCache
	conditions ConditionEvaluator
	logger     *slog.Logger
	metrics    *observability.Metrics

	warnThreshold time.Duration
	batchLimit    int
	parallelism   int
	targetTPS     int
}

// CheckerOption customises a Checker.
type CheckerOption func(*Checker)

// WithCache attaches a decision cache.
func WithCache(c *DecisionCache) CheckerOption {
	return func(ch *Checker) { ch.cache = c }
}

// WithConditionEvaluator replaces the default allow-all evaluator.
func WithConditionEvaluator(e ConditionEvaluator) CheckerOption {
	return func(ch *Checker) { ch.conditions = e }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *observability.Metrics) CheckerOption {
	return func(ch *Checker) { ch.metrics = m }
}

// WithWarnThreshold overrides the slow-check warning threshold.
func WithWarnThreshold(d time.Duration) CheckerOption {
	return func(ch *Checker) { ch.warnThreshold = d }
}

// WithBatchLimit overrides the batch size cap.
func WithBatchLimit(n int) CheckerOption {
	return func(ch *Checker) {
		if n > 0 {
			ch.batchLimit = n
		}
	}
}

// WithTargetTPS overrides the batch throughput target.
func WithTargetTPS(n int) CheckerOption {
	return func(ch *Checker) {
		if n > 0 {
			ch.targetTPS = n
		}
	}
}

// NewChecker constructs a Checker.
func NewChecker(repo roles.RepositoryPort, logger *slog.Logger, opts ...CheckerOption) *Checker {
	ch := &Checker{
		repo:          repo,
		conditions:    AllowAllConditions{},
		logger:        logger,
		warnThreshold: time.Millisecond,
		batchLimit:    DefaultBatchLimit,
		parallelism:   10,
		targetTPS:     1000,
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// CheckPermission resolves a single permission check. Latency above the
// target threshold logs a warning but never fails the check.
func (c *Checker) CheckPermission(ctx context.Context, req CheckRequest) (CheckResult, error) {
	start := time.Now()

	if req.UserID == "" || req.ResourceType == "" || req.ResourceID == "" || req.Action == "" {
		return CheckResult{}, &shared.Error{
			Code:    shared.CodeValidation,
			Message: "user_id, resource_type, resource_id and action are required",
		}
	}

	if cached, ok := c.cache.Get(ctx, req); ok {
		cached.CacheHit = true
		cached.CheckTimeMS = msSince(start)
		c.metrics.ObservePermissionCheck(cached.Granted, true, time.Since(start))
		return cached, nil
	}

	result, err := c.resolve(ctx, req)
	if err != nil {
		return CheckResult{}, err
	}
	elapsed := time.Since(start)
	result.CheckTimeMS = msSince(start)
	c.cache.Put(ctx, req, result)
	c.metrics.ObservePermissionCheck(result.Granted, false, elapsed)
	if elapsed > c.warnThreshold {
		c.logger.Warn("slow permission check",
			slog.String("user_id", req.UserID),
			slog.String("resource_type", req.ResourceType),
			slog.Duration("elapsed", elapsed),
			slog.Duration("threshold", c.warnThreshold))
	}
	return result, nil
}

// resolve walks the user's roles, expands inheritance, and applies the
// deny-overrides-allow decision.
func (c *Checker) resolve(ctx context.Context, req CheckRequest) (CheckResult, error) {
	assigned, err := c.repo.FindRolesByUserID(ctx, req.UserID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("rbac: load user roles: %w", err)
	}
	if len(assigned) == 0 {
		return denied(ReasonNoRolesAssigned), nil
	}

	chain, err := c.expandInheritance(ctx, assigned)
	if err != nil {
		return CheckResult{}, err
	}

	now := time.Now()
	var (
		matching      []string
		roleChain     []string
		grantedBy     string
		conditionFail bool
	)
	for _, entry := range chain {
		role := entry.role
		roleChain = append(roleChain, role.Name)
		if !role.Active() || !scopeCovers(role.Scope, req) {
			continue
		}
		for _, perm := range role.Permissions {
			if perm.Expired(now) || !permissionMatches(perm, req) {
				continue
			}
			if perm.GrantType == roles.GrantDeny {
				res := denied(ReasonExplicitDeny)
				res.MatchingPermissions = []string{perm.PermissionID}
				res.RoleChain = roleChain
				return res, nil
			}
			ok, err := c.conditionsHold(ctx, perm.Conditions, req)
			if err != nil {
				return CheckResult{}, err
			}
			if !ok {
				conditionFail = true
				continue
			}
			matching = append(matching, perm.PermissionID)
			if grantedBy == "" {
				if entry.inherited {
					grantedBy = ReasonInheritedGrant
				} else {
					grantedBy = ReasonDirectGrant
				}
			}
		}
	}

	if len(matching) > 0 {
		return CheckResult{
			Granted:             true,
			Reason:              grantedBy,
			MatchingPermissions: matching,
			RoleChain:           roleChain,
			ConditionsMet:       true,
		}, nil
	}
	res := denied(ReasonDenied)
	if conditionFail {
		res.Reason = ReasonConditionsFailed
	}
	res.RoleChain = roleChain
	return res, nil
}

type chainEntry struct {
	role      roles.Role
	inherited bool
}

// expandInheritance adds parent roles transitively. Cycles are rejected at
// role-save time; the visited set here is a guard against corrupt data.
func (c *Checker) expandInheritance(ctx context.Context, assigned []roles.Role) ([]chainEntry, error) {
	var chain []chainEntry
	visited := make(map[string]bool, len(assigned))
	var frontier []string
	for _, role := range assigned {
		visited[role.RoleID] = true
		chain = append(chain, chainEntry{role: role})
		if role.Inheritance != nil {
			frontier = append(frontier, role.Inheritance.ParentRoles...)
		}
	}
	for len(frontier) > 0 {
		var next []string
		for _, parentID := range frontier {
			if visited[parentID] {
				continue
			}
			visited[parentID] = true
			parent, err := c.repo.FindByID(ctx, parentID)
			if err != nil {
				// A dangling parent reference must not break the check.
				continue
			}
			chain = append(chain, chainEntry{role: parent, inherited: true})
			if parent.Inheritance != nil {
				next = append(next, parent.Inheritance.ParentRoles...)
			}
		}
		frontier = next
	}
	return chain, nil
}

func (c *Checker) conditionsHold(ctx context.Context, conditions []string, req CheckRequest) (bool, error) {
	for _, cond := range conditions {
		ok, err := c.conditions.Evaluate(ctx, cond, req)
		if err != nil {
			return false, fmt.Errorf("rbac: evaluate condition %q: %w", cond, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// BatchCheckPermissions runs up to the configured limit of checks. Without
// fail-fast, items run concurrently up to the parallelism bound; with
// fail-fast, checks run in order and processing stops at the first denial.
func (c *Checker) BatchCheckPermissions(ctx context.Context, checks []CheckRequest, opts BatchOptions) (BatchResult, error) {
	start := time.Now()
	if len(checks) > c.batchLimit {
		return BatchResult{}, &shared.Error{
			Code:    shared.CodeValidation,
			Message: fmt.Sprintf("batch size %d exceeds limit %d", len(checks), c.batchLimit),
			Field:   "checks",
		}
	}

	results := make([]CheckResult, len(checks))
	if opts.FailFast {
		for i, req := range checks {
			res, err := c.CheckPermission(ctx, req)
			if err != nil {
				res = denied(ReasonInvalidRequest)
			}
			results[i] = res
			if !res.Granted {
				results = results[:i+1]
				break
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.parallelism)
		for i, req := range checks {
			i, req := i, req
			g.Go(func() error {
				res, err := c.CheckPermission(gctx, req)
				if err != nil {
					res = denied(ReasonInvalidRequest)
				}
				results[i] = res
				return nil
			})
		}
		_ = g.Wait()
	}

	summary := BatchSummary{Total: len(checks)}
	for _, res := range results {
		switch {
		case res.Granted:
			summary.Permitted++
		case res.Reason == ReasonInvalidRequest:
			summary.Errors++
		default:
			summary.Denied++
		}
	}

	elapsed := time.Since(start)
	if n := len(results); n > 0 && elapsed > 0 {
		tps := float64(n) / elapsed.Seconds()
		if tps < float64(c.targetTPS) {
			c.logger.Warn("batch permission throughput below target",
				slog.Float64("tps", tps),
				slog.Int("target_tps", c.targetTPS),
				slog.Int("batch_size", n))
		}
	}
	return BatchResult{Results: results, Summary: summary}, nil
}

// Health reports the checker probe, checking repository reachability.
func (c *Checker) Health(ctx context.Context) shared.Health {
	checks := map[string]string{"repository": "pass"}
	if _, err := c.repo.Count(ctx); err != nil {
		checks["repository"] = "fail"
	}
	return shared.NewHealth(checks)
}

func permissionMatches(perm roles.Permission, req CheckRequest) bool {
	if perm.ResourceType != req.ResourceType {
		return false
	}
	if perm.ResourceID != "*" && perm.ResourceID != req.ResourceID {
		return false
	}
	for _, action := range perm.Actions {
		if action == "*" || action == req.Action {
			return true
		}
	}
	return false
}

// scopeCovers reports whether the role's scope admits the requested resource.
// Constraints narrow: an absent constraint list for the resource type leaves
// the type unconstrained.
func scopeCovers(scope roles.Scope, req CheckRequest) bool {
	switch scope.Level {
	case roles.ScopeGlobal:
	case roles.ScopeContext, roles.ScopePlan:
		if req.ContextID != "" && len(scope.ContextIDs) > 0 && !containsString(scope.ContextIDs, req.ContextID) {
			return false
		}
	case roles.ScopeResource:
		// Resource scopes rely entirely on the constraint list below.
	default:
		return false
	}
	for _, constraint := range scope.ResourceConstraints {
		if constraint.ResourceType != req.ResourceType {
			continue
		}
		if containsString(constraint.ResourceIDs, "*") || containsString(constraint.ResourceIDs, req.ResourceID) {
			return true
		}
		return false
	}
	if scope.Level == roles.ScopeResource && len(scope.ResourceConstraints) > 0 {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func denied(reason string) CheckResult {
	return CheckResult{
		Granted:             false,
		Reason:              reason,
		MatchingPermissions: []string{},
		RoleChain:           []string{},
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
