package schema

import (
	"fmt"
	"regexp"
)

// FieldType enumerates the value types a field spec may declare.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBool    FieldType = "bool"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
)

// FieldSpec constrains a single field of a structured payload.
type FieldSpec struct {
	Name       string
	Type       FieldType
	Required   bool
	Pattern    string
	Enum       []string
	MinLength  int
	MaxLength  int
	Min        *float64
	Max        *float64
	Suggestion string
}

// Definition declares the structural constraints of a schema. Field order is
// preserved so issue order is deterministic.
type Definition struct {
	Fields []FieldSpec
	// AllowUnknown permits keys outside Fields. Unknown keys are rejected by
	// default; when permitted they still produce a warning.
	AllowUnknown bool
}

type compiledField struct {
	spec    FieldSpec
	pattern *regexp.Regexp
	enum    map[string]struct{}
}

type compiledSchema struct {
	fields       []compiledField
	byName       map[string]int
	allowUnknown bool
}

// compile self-validates the definition and prepares it for fast evaluation.
func compile(def Definition) (*compiledSchema, error) {
	if len(def.Fields) == 0 {
		return nil, fmt.Errorf("%w: no fields declared", ErrSchemaInvalid)
	}
	cs := &compiledSchema{
		byName:       make(map[string]int, len(def.Fields)),
		allowUnknown: def.AllowUnknown,
	}
	for _, spec := range def.Fields {
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: field with empty name", ErrSchemaInvalid)
		}
		if _, dup := cs.byName[spec.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrSchemaInvalid, spec.Name)
		}
		switch spec.Type {
		case TypeString, TypeNumber, TypeInteger, TypeBool, TypeObject, TypeArray:
		default:
			return nil, fmt.Errorf("%w: field %q has unknown type %q", ErrSchemaInvalid, spec.Name, spec.Type)
		}
		if spec.MinLength < 0 || spec.MaxLength < 0 {
			return nil, fmt.Errorf("%w: field %q has negative length bound", ErrSchemaInvalid, spec.Name)
		}
		if spec.MaxLength > 0 && spec.MinLength > spec.MaxLength {
			return nil, fmt.Errorf("%w: field %q min length exceeds max", ErrSchemaInvalid, spec.Name)
		}
		if spec.Min != nil && spec.Max != nil && *spec.Min > *spec.Max {
			return nil, fmt.Errorf("%w: field %q min exceeds max", ErrSchemaInvalid, spec.Name)
		}
		cf := compiledField{spec: spec}
		if spec.Pattern != "" {
			if spec.Type != TypeString {
				return nil, fmt.Errorf("%w: field %q has pattern on non-string type", ErrSchemaInvalid, spec.Name)
			}
			re, err := regexp.Compile(spec.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q pattern: %v", ErrSchemaInvalid, spec.Name, err)
			}
			cf.pattern = re
		}
		if len(spec.Enum) > 0 {
			cf.enum = make(map[string]struct{}, len(spec.Enum))
			for _, v := range spec.Enum {
				cf.enum[v] = struct{}{}
			}
		}
		cs.byName[spec.Name] = len(cs.fields)
		cs.fields = append(cs.fields, cf)
	}
	return cs, nil
}

// validate runs the compiled structural checks against data. Issues come back
// in field declaration order, unknown keys last.
func (cs *compiledSchema) validate(data map[string]any) []Issue {
	var issues []Issue
	for _, cf := range cs.fields {
		spec := cf.spec
		value, present := data[spec.Name]
		if !present || value == nil {
			if spec.Required {
				issues = append(issues, Issue{
					Field:      spec.Name,
					Message:    fmt.Sprintf("field %q is required", spec.Name),
					Code:       CodeRequired,
					Severity:   SeverityError,
					Suggestion: spec.Suggestion,
				})
			}
			continue
		}
		issues = append(issues, cf.check(value)...)
	}
	if !cs.allowUnknown {
		for key := range data {
			if _, known := cs.byName[key]; !known {
				issues = append(issues, Issue{
					Field:    key,
					Message:  fmt.Sprintf("unknown field %q", key),
					Code:     CodeUnknownKey,
					Severity: SeverityError,
				})
			}
		}
	} else {
		for key := range data {
			if _, known := cs.byName[key]; !known {
				issues = append(issues, Issue{
					Field:    key,
					Message:  fmt.Sprintf("field %q is not declared by the schema", key),
					Code:     CodeUnknownKey,
					Severity: SeverityWarning,
				})
			}
		}
	}
	return issues
}

func (cf compiledField) check(value any) []Issue {
	spec := cf.spec
	var issues []Issue
	fail := func(code, msg string) {
		issues = append(issues, Issue{
			Field:      spec.Name,
			Message:    msg,
			Value:      value,
			Code:       code,
			Severity:   SeverityError,
			Suggestion: spec.Suggestion,
		})
	}
	switch spec.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			fail(CodeType, fmt.Sprintf("field %q must be a string", spec.Name))
			return issues
		}
		if spec.MinLength > 0 && len(s) < spec.MinLength {
			fail(CodeLength, fmt.Sprintf("field %q shorter than %d", spec.Name, spec.MinLength))
		}
		if spec.MaxLength > 0 && len(s) > spec.MaxLength {
			fail(CodeLength, fmt.Sprintf("field %q longer than %d", spec.Name, spec.MaxLength))
		}
		if cf.pattern != nil && !cf.pattern.MatchString(s) {
			fail(CodePattern, fmt.Sprintf("field %q does not match %s", spec.Name, spec.Pattern))
		}
		if cf.enum != nil {
			if _, ok := cf.enum[s]; !ok {
				fail(CodeEnum, fmt.Sprintf("field %q must be one of %v", spec.Name, spec.Enum))
			}
		}
	case TypeNumber, TypeInteger:
		f, ok := toFloat(value)
		if !ok {
			fail(CodeType, fmt.Sprintf("field %q must be a number", spec.Name))
			return issues
		}
		if spec.Type == TypeInteger && f != float64(int64(f)) {
			fail(CodeType, fmt.Sprintf("field %q must be an integer", spec.Name))
		}
		if spec.Min != nil && f < *spec.Min {
			fail(CodeRange, fmt.Sprintf("field %q below minimum %v", spec.Name, *spec.Min))
		}
		if spec.Max != nil && f > *spec.Max {
			fail(CodeRange, fmt.Sprintf("field %q above maximum %v", spec.Name, *spec.Max))
		}
	case TypeBool:
		if _, ok := value.(bool); !ok {
			fail(CodeType, fmt.Sprintf("field %q must be a boolean", spec.Name))
		}
	case TypeObject:
		if _, ok := value.(map[string]any); !ok {
			fail(CodeType, fmt.Sprintf("field %q must be an object", spec.Name))
		}
	case TypeArray:
		if _, ok := value.([]any); !ok {
			fail(CodeType, fmt.Sprintf("field %q must be an array", spec.Name))
		}
	}
	return issues
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
