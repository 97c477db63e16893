package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Comparators accepted in subscription conditions.
const (
	OpLT  = "<"
	OpLTE = "<="
	OpGT  = ">"
	OpGTE = ">="
	OpEQ  = "=="
)

// FieldKind describes a field in a target's result schema.
type FieldKind string

const (
	FieldNumber FieldKind = "number"
	FieldString FieldKind = "string"
)

// Schema maps result field names to their kinds.
type Schema map[string]FieldKind

// Condition is a single comparator expression over one field of a target's
// result. It is parsed from text exactly once, at subscription creation;
// the evaluation loop only ever sees this tagged form.
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"` // float64 or string, matching the field kind
}

// ParseCondition parses expressions like "wait_time_minutes < 20" or
// `status == "Open"`. Longest operators are tried first so "<=" is not
// split as "<".
func ParseCondition(expr string) (Condition, error) {
	expr = strings.TrimSpace(expr)
	for _, op := range []string{OpLTE, OpGTE, OpEQ, OpLT, OpGT} {
		idx := strings.Index(expr, op)
		if idx <= 0 {
			continue
		}
		field := strings.TrimSpace(expr[:idx])
		lit := strings.TrimSpace(expr[idx+len(op):])
		if field == "" || lit == "" {
			return Condition{}, fmt.Errorf("condition %q: missing field or literal", expr)
		}
		value, err := parseLiteral(lit)
		if err != nil {
			return Condition{}, fmt.Errorf("condition %q: %w", expr, err)
		}
		return Condition{Field: field, Op: op, Value: value}, nil
	}
	return Condition{}, fmt.Errorf("condition %q: no comparator found (use <, <=, >, >=, ==)", expr)
}

func parseLiteral(lit string) (any, error) {
	if len(lit) >= 2 && (lit[0] == '"' || lit[0] == '\'') && lit[len(lit)-1] == lit[0] {
		return lit[1 : len(lit)-1], nil
	}
	var n float64
	if err := json.Unmarshal([]byte(lit), &n); err != nil {
		return nil, fmt.Errorf("literal %q is neither a number nor a quoted string", lit)
	}
	return n, nil
}

// Validate checks the condition against the target's result schema. Unknown
// fields, type mismatches and inapplicable comparators are configuration
// errors surfaced at creation time, never at evaluation time.
func (c Condition) Validate(schema Schema) error {
	kind, ok := schema[c.Field]
	if !ok {
		return fmt.Errorf("field %q is not part of the target's result schema", c.Field)
	}
	switch kind {
	case FieldNumber:
		if _, ok := c.Value.(float64); !ok {
			return fmt.Errorf("field %q is numeric, literal %v is not", c.Field, c.Value)
		}
	case FieldString:
		if _, ok := c.Value.(string); !ok {
			return fmt.Errorf("field %q is a string, literal %v is not", c.Field, c.Value)
		}
		if c.Op != OpEQ {
			return fmt.Errorf("comparator %q is not applicable to string field %q", c.Op, c.Field)
		}
	default:
		return fmt.Errorf("unsupported field kind %q", kind)
	}
	switch c.Op {
	case OpLT, OpLTE, OpGT, OpGTE, OpEQ:
	default:
		return fmt.Errorf("unsupported comparator %q", c.Op)
	}
	return nil
}

// Eval evaluates the condition against a fetched result. A missing field or
// type mismatch here means the provider broke its schema; the caller treats
// it as a fetch-level failure, not a trigger.
func (c Condition) Eval(data map[string]any) (bool, error) {
	raw, ok := data[c.Field]
	if !ok {
		return false, fmt.Errorf("field %q missing from fetched data", c.Field)
	}

	switch want := c.Value.(type) {
	case string:
		got, ok := raw.(string)
		if !ok {
			return false, fmt.Errorf("field %q: expected string, got %T", c.Field, raw)
		}
		return got == want, nil
	case float64:
		got, err := toFloat(raw)
		if err != nil {
			return false, fmt.Errorf("field %q: %w", c.Field, err)
		}
		switch c.Op {
		case OpLT:
			return got < want, nil
		case OpLTE:
			return got <= want, nil
		case OpGT:
			return got > want, nil
		case OpGTE:
			return got >= want, nil
		case OpEQ:
			return got == want, nil
		}
	}
	return false, fmt.Errorf("unsupported comparator %q", c.Op)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func (c Condition) String() string {
	if s, ok := c.Value.(string); ok {
		return fmt.Sprintf("%s %s %q", c.Field, c.Op, s)
	}
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
}
