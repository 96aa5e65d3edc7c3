package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-agents/meridian/internal/observability"
	"github.com/meridian-agents/meridian/internal/shared"
)

// DefaultWarnThreshold is the single-validation latency above which the
// registry logs a warning.
const DefaultWarnThreshold = 10 * time.Millisecond

// registration is a compiled schema held by the registry.
type registration struct {
	schemaID    string
	compiled    *compiledSchema
	version     string
	deps        []string
	lastUpdated time.Time
}

// Registry compiles schema definitions and validates structured payloads
// against them. Safe for concurrent use: reads run in parallel, writes are
// serialized.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*registration
	rules   []registeredRule

	logger        *slog.Logger
	metrics       *observability.Metrics
	warnThreshold time.Duration
	parallelism   int
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithWarnThreshold overrides the slow-validation warning threshold.
func WithWarnThreshold(d time.Duration) RegistryOption {
	return func(r *Registry) { r.warnThreshold = d }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithParallelism bounds BatchValidate fan-out.
func WithParallelism(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		schemas:       make(map[string]*registration),
		logger:        logger,
		warnThreshold: DefaultWarnThreshold,
		parallelism:   10,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterSchema compiles and stores a schema definition. The definition must
// pass self-validation and every declared dependency must already be
// registered. Re-registering an ID replaces the previous version.
func (r *Registry) RegisterSchema(id string, def Definition, version string, deps []string) error {
	if id == "" {
		return fmt.Errorf("%w: empty schema id", ErrSchemaInvalid)
	}
	compiled, err := compile(def)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range deps {
		if _, ok := r.schemas[dep]; !ok {
			return fmt.Errorf("%w: %q requires %q", ErrDependencyMissing, id, dep)
		}
	}
	r.schemas[id] = &registration{
		schemaID:    id,
		compiled:    compiled,
		version:     version,
		deps:        append([]string(nil), deps...),
		lastUpdated: time.Now().UTC(),
	}
	r.logger.Info("schema registered",
		slog.String("schema_id", id),
		slog.String("version", version),
		slog.Int("dependencies", len(deps)))
	return nil
}

// RegisterRule adds a named business rule. With no scope the rule applies to
// every validation; otherwise only to the listed schema IDs. Rules run in
// registration order.
func (r *Registry) RegisterRule(rule Rule, scope ...string) error {
	if rule == nil || rule.Name() == "" {
		return fmt.Errorf("%w: rule requires a name", ErrSchemaInvalid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rules {
		if existing.rule.Name() == rule.Name() {
			return fmt.Errorf("%w: %q", ErrDuplicateRule, rule.Name())
		}
	}
	reg := registeredRule{rule: rule}
	if len(scope) > 0 {
		reg.scope = make(map[string]struct{}, len(scope))
		for _, id := range scope {
			reg.scope[id] = struct{}{}
		}
	}
	r.rules = append(r.rules, reg)
	return nil
}

// Validate checks data against the registered schema and every applicable
// business rule. A missing schema returns ErrSchemaNotFound.
func (r *Registry) Validate(id string, data map[string]any) (ValidationResult, error) {
	start := time.Now()

	r.mu.RLock()
	reg, ok := r.schemas[id]
	rules := r.rules
	r.mu.RUnlock()
	if !ok {
		return ValidationResult{}, fmt.Errorf("%w: %q", ErrSchemaNotFound, id)
	}

	result := ValidationResult{
		Errors:   []Issue{},
		Warnings: []Issue{},
		Metadata: Metadata{SchemaID: reg.schemaID, SchemaVersion: reg.version},
	}
	for _, issue := range reg.compiled.validate(data) {
		if issue.Severity == SeverityError {
			result.Errors = append(result.Errors, issue)
		} else {
			result.Warnings = append(result.Warnings, issue)
		}
	}
	for _, rr := range rules {
		if !rr.appliesTo(id) {
			continue
		}
		ok, message := rr.rule.Evaluate(data)
		if ok {
			continue
		}
		issue := Issue{
			Field:    rr.rule.Name(),
			Message:  message,
			Code:     CodeCustomRule,
			Severity: rr.rule.Severity(),
		}
		if issue.Severity == SeverityError {
			result.Errors = append(result.Errors, issue)
		} else {
			result.Warnings = append(result.Warnings, issue)
		}
	}
	result.Valid = len(result.Errors) == 0

	elapsed := time.Since(start)
	result.Performance.DurationMS = float64(elapsed.Microseconds()) / 1000.0
	r.metrics.ObserveValidation(id, result.Valid, elapsed)
	if elapsed > r.warnThreshold {
		r.logger.Warn("slow schema validation",
			slog.String("schema_id", id),
			slog.Duration("elapsed", elapsed),
			slog.Duration("threshold", r.warnThreshold))
	}
	return result, nil
}

// BatchRequest is one item of a BatchValidate call.
type BatchRequest struct {
	RequestID string
	SchemaID  string
	Data      map[string]any
}

// BatchValidate validates each request independently; one item failing never
// aborts the batch. Results are returned in request order with the request ID
// attached. Items for unknown schemas come back invalid with a schema_error
// issue rather than an error.
func (r *Registry) BatchValidate(ctx context.Context, requests []BatchRequest) []ValidationResult {
	results := make([]ValidationResult, len(requests))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			res, err := r.Validate(req.SchemaID, req.Data)
			if err != nil {
				res = ValidationResult{
					Valid: false,
					Errors: []Issue{{
						Field:    "schema_id",
						Message:  err.Error(),
						Code:     CodeSchemaError,
						Severity: SeverityError,
					}},
					Warnings: []Issue{},
					Metadata: Metadata{SchemaID: req.SchemaID},
				}
			}
			res.RequestID = req.RequestID
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Registered reports whether a schema ID is known.
func (r *Registry) Registered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[id]
	return ok
}

// Health reports the registry probe. The registry has no external
// dependencies, so the only check is that it is initialised.
func (r *Registry) Health(ctx context.Context) shared.Health {
	checks := map[string]string{"registry": "pass"}
	if r == nil {
		checks["registry"] = "fail"
	}
	return shared.NewHealth(checks)
}
