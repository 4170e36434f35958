// Package schema describes and validates skill argument contracts.
// A skill declares its accepted parameters as a Parameters value; the
// dispatcher validates every call against it before the handler runs.
package schema

import "sort"

// Kind is the primitive kind a parameter value must have at runtime.
type Kind string

const (
	String  Kind = "string"
	Number  Kind = "number"
	Boolean Kind = "boolean"
	Array   Kind = "array"
	Object  Kind = "object"
)

// Param describes a single parameter of a skill.
type Param struct {
	Kind        Kind
	Description string
	Required    bool
	Default     any      // applied when the parameter is absent; nil = no default
	Enum        []string // string kind only: closed set of allowed values
	Min         *float64 // number kind only: inclusive lower bound
	Max         *float64 // number kind only: inclusive upper bound
}

// Parameters is the full argument contract of a skill.
type Parameters struct {
	Props map[string]Param
	// AdditionalProperties lets unknown argument keys pass through unvalidated.
	AdditionalProperties bool
}

// Float returns a *float64 for use as a Min/Max bound.
func Float(v float64) *float64 { return &v }

// Definition renders the contract as a JSON-Schema-shaped object, the
// format LLM function-calling APIs expect for a tool's "parameters" field.
func (p Parameters) Definition() map[string]any {
	props := make(map[string]any, len(p.Props))
	var required []string
	for name, spec := range p.Props {
		prop := map[string]any{"type": string(spec.Kind)}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		if len(spec.Enum) > 0 {
			prop["enum"] = spec.Enum
		}
		if spec.Min != nil {
			prop["minimum"] = *spec.Min
		}
		if spec.Max != nil {
			prop["maximum"] = *spec.Max
		}
		if spec.Default != nil {
			prop["default"] = spec.Default
		}
		props[name] = prop
		if spec.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	def := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		def["required"] = required
	}
	if p.AdditionalProperties {
		def["additionalProperties"] = true
	}
	return def
}

// sortedNames returns the parameter names in lexical order so that
// validation walks the contract deterministically.
func (p Parameters) sortedNames() []string {
	names := make([]string, 0, len(p.Props))
	for n := range p.Props {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
