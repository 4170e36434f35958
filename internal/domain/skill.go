// Package domain holds the core contracts shared across skillrun packages.
package domain

import (
	"context"
	"errors"

	"skillrun/internal/schema"
)

// HandlerFunc is the user-supplied function that performs a skill's work.
// It receives arguments already validated against the skill's contract and
// returns a plain-text result suitable for a conversation transcript.
// Handlers must observe ctx cancellation if they want to stop promptly on
// timeout; the dispatcher cannot force a runaway handler to exit.
type HandlerFunc func(ctx context.Context, args map[string]any) (string, error)

// Skill describes one named, independently invocable capability.
type Skill struct {
	Name        string
	Description string
	Params      schema.Parameters
	Handler     HandlerFunc
}

// SkillDefinition is the listing payload handed to an LLM so it knows which
// capabilities exist and how to call them.
type SkillDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Definition renders the skill for a tool listing.
func (s Skill) Definition() SkillDefinition {
	return SkillDefinition{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  s.Params.Definition(),
	}
}

// ErrInvalidSkill is returned when a skill with an empty name or nil handler
// is registered.
var ErrInvalidSkill = errors.New("skill must have a name and a handler")
