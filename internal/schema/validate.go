package schema

import (
	"fmt"
	"sort"
	"strings"
)

// MissingParameterError reports a required parameter absent from the call.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Name)
}

// UnknownParameterError reports an argument key the contract does not declare.
type UnknownParameterError struct {
	Name string
}

func (e *UnknownParameterError) Error() string {
	return fmt.Sprintf("unknown parameter %q", e.Name)
}

// TypeMismatchError reports a value whose runtime kind does not match the contract.
type TypeMismatchError struct {
	Name     string
	Expected Kind
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("parameter %q: expected %s, got %s", e.Name, e.Expected, e.Actual)
}

// InvalidEnumValueError reports a string outside the declared allowed set.
type InvalidEnumValueError struct {
	Name    string
	Value   string
	Allowed []string
}

func (e *InvalidEnumValueError) Error() string {
	return fmt.Sprintf("parameter %q: %q is not one of [%s]", e.Name, e.Value, strings.Join(e.Allowed, ", "))
}

// OutOfRangeError reports a number outside its declared inclusive bounds.
type OutOfRangeError struct {
	Name  string
	Value float64
	Min   *float64
	Max   *float64
}

func (e *OutOfRangeError) Error() string {
	lo, hi := "-inf", "+inf"
	if e.Min != nil {
		lo = fmt.Sprintf("%g", *e.Min)
	}
	if e.Max != nil {
		hi = fmt.Sprintf("%g", *e.Max)
	}
	return fmt.Sprintf("parameter %q: %g is outside [%s, %s]", e.Name, e.Value, lo, hi)
}

// Validate checks args against the contract and returns a normalized copy
// with defaults applied. Rules run in a fixed order, first failure wins:
// missing required, unknown key, type mismatch, enum membership, numeric
// bounds. Within each rule, parameters are checked in lexical name order so
// the reported failure is deterministic. Validate has no side effects.
func Validate(p Parameters, args map[string]any) (map[string]any, error) {
	names := p.sortedNames()

	for _, name := range names {
		if !p.Props[name].Required {
			continue
		}
		if _, ok := args[name]; !ok {
			return nil, &MissingParameterError{Name: name}
		}
	}

	if !p.AdditionalProperties {
		keys := make([]string, 0, len(args))
		for k := range args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := p.Props[k]; !ok {
				return nil, &UnknownParameterError{Name: k}
			}
		}
	}

	for _, name := range names {
		v, ok := args[name]
		if !ok {
			continue
		}
		spec := p.Props[name]
		actual, matches := kindOf(v, spec.Kind)
		if !matches {
			return nil, &TypeMismatchError{Name: name, Expected: spec.Kind, Actual: actual}
		}
	}

	for _, name := range names {
		spec := p.Props[name]
		if len(spec.Enum) == 0 {
			continue
		}
		v, ok := args[name]
		if !ok {
			continue
		}
		s, isStr := v.(string)
		if !isStr {
			continue // enum applies to string parameters only
		}
		if !contains(spec.Enum, s) {
			return nil, &InvalidEnumValueError{Name: name, Value: s, Allowed: spec.Enum}
		}
	}

	for _, name := range names {
		spec := p.Props[name]
		if spec.Min == nil && spec.Max == nil {
			continue
		}
		v, ok := args[name]
		if !ok {
			continue
		}
		n, isNum := asFloat(v)
		if !isNum {
			continue
		}
		if (spec.Min != nil && n < *spec.Min) || (spec.Max != nil && n > *spec.Max) {
			return nil, &OutOfRangeError{Name: name, Value: n, Min: spec.Min, Max: spec.Max}
		}
	}

	normalized := make(map[string]any, len(args))
	for k, v := range args {
		normalized[k] = v
	}
	for _, name := range names {
		spec := p.Props[name]
		if _, ok := normalized[name]; !ok && spec.Default != nil {
			normalized[name] = spec.Default
		}
	}
	return normalized, nil
}

// kindOf reports the runtime kind of v and whether it satisfies want.
// Numbers arriving from JSON decode as float64, but handlers registered in
// Go may pass native ints, so all numeric Go types count as Number.
func kindOf(v any, want Kind) (string, bool) {
	var actual Kind
	switch v.(type) {
	case string:
		actual = String
	case bool:
		actual = Boolean
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		actual = Number
	case []any, []string, []float64:
		actual = Array
	case map[string]any:
		actual = Object
	case nil:
		return "null", false
	default:
		return fmt.Sprintf("%T", v), false
	}
	return string(actual), actual == want
}

func asFloat(v any) (float64, bool) {
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
	case uint:
		return float64(n), true
	}
	return 0, false
}

func contains(set []string, s string) bool {
	for _, m := range set {
		if m == s {
			return true
		}
	}
	return false
}
