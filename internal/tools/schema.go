package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"unicode/utf8"
)

// Kind classifies a tool parameter for sanitization.
type Kind int

const (
	// KindString is free text, truncated to MaxLen runes.
	KindString Kind = iota
	// KindInt is a whole number clamped into [Min, Max].
	KindInt
	// KindNumber is a float clamped into [Min, Max].
	KindNumber
	// KindID is an entity identifier: it must be a positive whole number
	// and is rejected, never clamped, when it is not.
	KindID
	// KindBool is a boolean.
	KindBool
)

// DefaultMaxStringLen is the rune cap applied to string parameters that do
// not set their own MaxLen.
const DefaultMaxStringLen = 200

// Param describes a single tool parameter and its sanitization rules.
type Param struct {
	Name        string
	Description string
	Kind        Kind
	Required    bool

	// Numeric bounds, meaningful for KindInt and KindNumber. Both zero
	// means unbounded.
	Min, Max float64

	// MaxLen caps string parameters in runes. 0 = DefaultMaxStringLen.
	MaxLen int

	// Enum restricts a string parameter to a closed value set. A value
	// outside the set degrades to Default (or is dropped when Default is
	// nil) instead of rejecting the call.
	Enum []string

	// Default is substituted when an optional parameter is absent. Nil
	// means the parameter is simply omitted.
	Default any
}

// Schema is an ordered set of parameter specs for one tool.
type Schema struct {
	params []Param
}

// NewSchema builds a schema from parameter specs.
func NewSchema(params ...Param) *Schema {
	return &Schema{params: params}
}

// JSONSchema renders the schema as a JSON Schema object for the LLM.
func (s *Schema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s.params))
	var required []string
	for _, p := range s.params {
		prop := map[string]any{"description": p.Description}
		switch p.Kind {
		case KindString:
			prop["type"] = "string"
			if len(p.Enum) > 0 {
				prop["enum"] = p.Enum
			}
		case KindInt, KindID:
			prop["type"] = "integer"
		case KindNumber:
			prop["type"] = "number"
		case KindBool:
			prop["type"] = "boolean"
		}
		if p.Kind == KindInt || p.Kind == KindNumber {
			if p.Min != 0 || p.Max != 0 {
				prop["minimum"] = p.Min
				prop["maximum"] = p.Max
			}
		}
		if p.Kind == KindID {
			prop["minimum"] = 1
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Sanitize validates and normalizes raw model-supplied arguments.
//
// Out-of-range numerics are clamped to the nearest bound, over-long
// strings are truncated, and enum values outside their set fall back to
// the declared default: the model's intent survives in degraded form.
// Only two conditions reject outright: a missing required parameter, and an
// identifier that is not a positive whole number (clamping an ID would
// silently address a different entity). Unknown argument names are dropped.
func (s *Schema) Sanitize(raw map[string]any) (map[string]any, error) {
	clean := make(map[string]any, len(s.params))
	for _, p := range s.params {
		v, present := raw[p.Name]
		if !present || v == nil {
			if p.Required {
				return nil, fmt.Errorf("missing required parameter %q", p.Name)
			}
			if p.Default != nil {
				clean[p.Name] = p.Default
			}
			continue
		}

		cv, err := sanitizeValue(p, v)
		if err != nil {
			return nil, err
		}
		if s, ok := cv.(string); ok && len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
			if p.Default != nil {
				clean[p.Name] = p.Default
			}
			continue
		}
		clean[p.Name] = cv
	}
	return clean, nil
}

func sanitizeValue(p Param, v any) (any, error) {
	switch p.Kind {
	case KindString:
		str, ok := v.(string)
		if !ok {
			// The model sometimes sends numbers where text is expected.
			str = fmt.Sprintf("%v", v)
		}
		maxLen := p.MaxLen
		if maxLen <= 0 {
			maxLen = DefaultMaxStringLen
		}
		return truncateRunes(str, maxLen), nil

	case KindInt:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("parameter %q: expected an integer, got %T", p.Name, v)
		}
		n := int(clamp(math.Trunc(f), p.Min, p.Max))
		return n, nil

	case KindNumber:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("parameter %q: expected a number, got %T", p.Name, v)
		}
		return clamp(f, p.Min, p.Max), nil

	case KindID:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) || f < 1 {
			return nil, fmt.Errorf("parameter %q: invalid identifier %v", p.Name, v)
		}
		return int64(f), nil

	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("parameter %q: expected a boolean, got %T", p.Name, v)
		}
		return b, nil
	}
	return nil, fmt.Errorf("parameter %q: unknown kind", p.Name)
}

// toFloat accepts the numeric shapes json.Unmarshal may produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func clamp(f, min, max float64) float64 {
	if min == 0 && max == 0 {
		return f
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}

func truncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}
