package schema

// Rule is a named business-rule check applied after structural validation.
// Evaluate returns ok=true when the payload satisfies the rule; otherwise the
// returned message describes the violation.
type Rule interface {
	Name() string
	Severity() Severity
	Evaluate(data map[string]any) (ok bool, message string)
}

// RuleFunc adapts a plain function into a Rule.
type RuleFunc struct {
	RuleName     string
	RuleSeverity Severity
	Fn           func(data map[string]any) (bool, string)
}

// Name returns the rule name.
func (r RuleFunc) Name() string { return r.RuleName }

// Severity returns the rule severity.
func (r RuleFunc) Severity() Severity { return r.RuleSeverity }

// Evaluate runs the rule function.
func (r RuleFunc) Evaluate(data map[string]any) (bool, string) { return r.Fn(data) }

// registeredRule binds a rule to an optional schema scope. An empty scope
// applies the rule to every validation call.
type registeredRule struct {
	rule  Rule
	scope map[string]struct{}
}

func (r registeredRule) appliesTo(schemaID string) bool {
	if len(r.scope) == 0 {
		return true
	}
	_, ok := r.scope[schemaID]
	return ok
}
