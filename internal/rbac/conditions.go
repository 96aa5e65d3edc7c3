package rbac

import "context"

// ConditionEvaluator decides whether a permission condition holds for a
// request. Condition semantics are deployment-specific; the engine only
// requires a yes/no answer per condition string.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, condition string, req CheckRequest) (bool, error)
}

// AllowAllConditions is the default evaluator: every condition passes. Deploys
// with a condition grammar plug in their own evaluator.
type AllowAllConditions struct{}

// Evaluate always returns true.
func (AllowAllConditions) Evaluate(ctx context.Context, condition string, req CheckRequest) (bool, error) {
	return true, nil
}
