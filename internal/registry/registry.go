// Package registry holds the set of invocable skills and resolves names to
// their descriptors.
package registry

import (
	"log/slog"
	"sync"

	"skillrun/internal/domain"
)

// Registry maps skill names to descriptors. Resolution is safe for
// concurrent use; registration is expected to happen during host setup,
// before concurrent dispatch begins.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]domain.Skill
	order  []string // insertion order for stable listings
	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		skills: make(map[string]domain.Skill),
		logger: logger,
	}
}

// Register adds or replaces a skill by name (last write wins).
func (r *Registry) Register(s domain.Skill) error {
	if s.Name == "" || s.Handler == nil {
		return domain.ErrInvalidSkill
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[s.Name]; !exists {
		r.order = append(r.order, s.Name)
	} else {
		r.logger.Info("skill replaced", "name", s.Name)
	}
	r.skills[s.Name] = s
	r.logger.Debug("registered skill", "name", s.Name)
	return nil
}

// Resolve looks up a skill by name.
func (r *Registry) Resolve(name string) (domain.Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// List returns all skills in registration order, stable across calls.
func (r *Registry) List() []domain.Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Skill, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.skills[name])
	}
	return out
}

// Definitions returns the tool-listing payload for all skills, in
// registration order. This is what a host exposes to an LLM.
func (r *Registry) Definitions() []domain.SkillDefinition {
	skills := r.List()
	defs := make([]domain.SkillDefinition, 0, len(skills))
	for _, s := range skills {
		defs = append(defs, s.Definition())
	}
	return defs
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
