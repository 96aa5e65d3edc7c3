package schema

import "errors"

// Severity grades a validation issue. Errors block validity, warnings do not.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue codes produced by the structural validator.
const (
	CodeRequired    = "required"
	CodeType        = "type"
	CodePattern     = "pattern"
	CodeEnum        = "enum"
	CodeLength      = "length"
	CodeRange       = "range"
	CodeUnknownKey  = "unknown_key"
	CodeCustomRule  = "custom_rule"
	CodeSchemaError = "schema_error"
)

// Issue describes a single validation error or warning.
type Issue struct {
	Field      string   `json:"field"`
	Message    string   `json:"message"`
	Value      any      `json:"value,omitempty"`
	Code       string   `json:"code"`
	Severity   Severity `json:"severity"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Performance carries validation timing.
type Performance struct {
	DurationMS float64 `json:"duration_ms"`
}

// Metadata identifies the schema a result was produced against.
type Metadata struct {
	SchemaID      string `json:"schema_id"`
	SchemaVersion string `json:"schema_version"`
}

// ValidationResult is the outcome of validating one payload. Valid is true
// iff structural validation passed and no error-severity rule fired.
type ValidationResult struct {
	RequestID   string      `json:"request_id,omitempty"`
	Valid       bool        `json:"valid"`
	Errors      []Issue     `json:"errors"`
	Warnings    []Issue     `json:"warnings"`
	Performance Performance `json:"performance"`
	Metadata    Metadata    `json:"metadata"`
}

var (
	// ErrSchemaNotFound indicates the requested schema was never registered.
	ErrSchemaNotFound = errors.New("schema: not found")
	// ErrSchemaInvalid indicates a schema failed self-validation at registration.
	ErrSchemaInvalid = errors.New("schema: definition invalid")
	// ErrDependencyMissing indicates a declared dependency is not registered.
	ErrDependencyMissing = errors.New("schema: dependency not registered")
	// ErrDuplicateRule indicates a rule name was registered twice.
	ErrDuplicateRule = errors.New("schema: rule already registered")
)
