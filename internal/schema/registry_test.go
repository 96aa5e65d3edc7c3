package schema

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func float(v float64) *float64 { return &v }

func planSchema() Definition {
	return Definition{
		Fields: []FieldSpec{
			{Name: "plan_id", Type: TypeString, Required: true, Pattern: `^plan-[0-9]+$`, Suggestion: "use a plan-<n> identifier"},
			{Name: "priority", Type: TypeString, Enum: []string{"low", "medium", "high"}},
			{Name: "budget", Type: TypeNumber, Min: float(0), Max: float(1_000_000)},
			{Name: "steps", Type: TypeInteger, Min: float(1)},
			{Name: "dry_run", Type: TypeBool},
		},
	}
}

func TestRegisterAndValidate(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.RegisterSchema("plan", planSchema(), "1.0.0", nil))
	require.True(t, r.Registered("plan"))

	res, err := r.Validate("plan", map[string]any{
		"plan_id":  "plan-42",
		"priority": "high",
		"budget":   5000.0,
		"steps":    3,
		"dry_run":  false,
	})
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Empty(t, res.Errors)
	require.Equal(t, "plan", res.Metadata.SchemaID)
	require.Equal(t, "1.0.0", res.Metadata.SchemaVersion)
	require.GreaterOrEqual(t, res.Performance.DurationMS, 0.0)
}

func TestValidateMissingRequiredField(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.RegisterSchema("plan", planSchema(), "1.0.0", nil))

	res, err := r.Validate("plan", map[string]any{"priority": "low"})
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "plan_id", res.Errors[0].Field)
	require.Equal(t, CodeRequired, res.Errors[0].Code)
	require.Equal(t, "use a plan-<n> identifier", res.Errors[0].Suggestion)
}

func TestValidateConstraintViolations(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.RegisterSchema("plan", planSchema(), "1.0.0", nil))

	res, err := r.Validate("plan", map[string]any{
		"plan_id":  "bogus",
		"priority": "urgent",
		"budget":   -1.0,
		"steps":    2.5,
	})
	require.NoError(t, err)
	require.False(t, res.Valid)

	codes := make([]string, 0, len(res.Errors))
	for _, issue := range res.Errors {
		codes = append(codes, issue.Code)
	}
	require.Contains(t, codes, CodePattern)
	require.Contains(t, codes, CodeEnum)
	require.Contains(t, codes, CodeRange)
	require.Contains(t, codes, CodeType)
}

func TestValidateUnknownKeys(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.RegisterSchema("strict", planSchema(), "1.0.0", nil))

	res, err := r.Validate("strict", map[string]any{"plan_id": "plan-1", "extra": true})
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, CodeUnknownKey, res.Errors[0].Code)

	lax := planSchema()
	lax.AllowUnknown = true
	require.NoError(t, r.RegisterSchema("lax", lax, "1.0.0", nil))
	res, err = r.Validate("lax", map[string]any{"plan_id": "plan-1", "extra": true})
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, CodeUnknownKey, res.Warnings[0].Code)
}

func TestValidateUnknownSchema(t *testing.T) {
	r := NewRegistry(testLogger())
	_, err := r.Validate("missing", map[string]any{})
	require.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestRegisterSchemaSelfValidation(t *testing.T) {
	r := NewRegistry(testLogger())

	err := r.RegisterSchema("empty", Definition{}, "1.0.0", nil)
	require.ErrorIs(t, err, ErrSchemaInvalid)

	err = r.RegisterSchema("badpattern", Definition{
		Fields: []FieldSpec{{Name: "x", Type: TypeString, Pattern: "("}},
	}, "1.0.0", nil)
	require.ErrorIs(t, err, ErrSchemaInvalid)

	err = r.RegisterSchema("dup", Definition{
		Fields: []FieldSpec{
			{Name: "x", Type: TypeString},
			{Name: "x", Type: TypeNumber},
		},
	}, "1.0.0", nil)
	require.ErrorIs(t, err, ErrSchemaInvalid)

	err = r.RegisterSchema("badtype", Definition{
		Fields: []FieldSpec{{Name: "x", Type: "blob"}},
	}, "1.0.0", nil)
	require.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestRegisterSchemaDependencies(t *testing.T) {
	r := NewRegistry(testLogger())

	err := r.RegisterSchema("child", planSchema(), "1.0.0", []string{"parent"})
	require.ErrorIs(t, err, ErrDependencyMissing)

	require.NoError(t, r.RegisterSchema("parent", planSchema(), "1.0.0", nil))
	require.NoError(t, r.RegisterSchema("child", planSchema(), "1.0.0", []string{"parent"}))
}

func TestBusinessRules(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.RegisterSchema("plan", planSchema(), "1.0.0", nil))

	budgetCap := RuleFunc{
		RuleName:     "budget_cap",
		RuleSeverity: SeverityError,
		Fn: func(data map[string]any) (bool, string) {
			budget, _ := data["budget"].(float64)
			if budget > 100_000 {
				return false, "budget exceeds the approval ceiling"
			}
			return true, ""
		},
	}
	require.NoError(t, r.RegisterRule(budgetCap, "plan"))
	require.ErrorIs(t, r.RegisterRule(budgetCap, "plan"), ErrDuplicateRule)

	advisory := RuleFunc{
		RuleName:     "dry_run_hint",
		RuleSeverity: SeverityWarning,
		Fn: func(data map[string]any) (bool, string) {
			if _, ok := data["dry_run"]; !ok {
				return false, "consider setting dry_run explicitly"
			}
			return true, ""
		},
	}
	require.NoError(t, r.RegisterRule(advisory))

	res, err := r.Validate("plan", map[string]any{"plan_id": "plan-1", "budget": 250_000.0})
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	require.Equal(t, CodeCustomRule, res.Errors[0].Code)
	require.Equal(t, "budget_cap", res.Errors[0].Field)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, "dry_run_hint", res.Warnings[0].Field)
}

func TestRuleScope(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.RegisterSchema("plan", planSchema(), "1.0.0", nil))
	require.NoError(t, r.RegisterSchema("task", planSchema(), "1.0.0", nil))

	failAlways := RuleFunc{
		RuleName:     "plan_only",
		RuleSeverity: SeverityError,
		Fn:           func(map[string]any) (bool, string) { return false, "no" },
	}
	require.NoError(t, r.RegisterRule(failAlways, "plan"))

	res, err := r.Validate("task", map[string]any{"plan_id": "plan-1"})
	require.NoError(t, err)
	require.True(t, res.Valid)

	res, err = r.Validate("plan", map[string]any{"plan_id": "plan-1"})
	require.NoError(t, err)
	require.False(t, res.Valid)
}

func TestBatchValidateIndependence(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.RegisterSchema("plan", planSchema(), "1.0.0", nil))

	results := r.BatchValidate(context.Background(), []BatchRequest{
		{RequestID: "a", SchemaID: "plan", Data: map[string]any{"plan_id": "plan-1"}},
		{RequestID: "b", SchemaID: "nope", Data: map[string]any{}},
		{RequestID: "c", SchemaID: "plan", Data: map[string]any{}},
	})
	require.Len(t, results, 3)

	require.Equal(t, "a", results[0].RequestID)
	require.True(t, results[0].Valid)

	require.Equal(t, "b", results[1].RequestID)
	require.False(t, results[1].Valid)
	require.Equal(t, CodeSchemaError, results[1].Errors[0].Code)

	require.Equal(t, "c", results[2].RequestID)
	require.False(t, results[2].Valid)
	require.Equal(t, CodeRequired, results[2].Errors[0].Code)
}
