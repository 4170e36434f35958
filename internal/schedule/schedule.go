// Package schedule runs configured skill dispatches on cron schedules.
// Each run gets a fresh dedup session, so a scheduled skill re-executes on
// every tick rather than being answered from a previous run's records.
package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"skillrun/internal/dispatch"
	"skillrun/internal/domain"

	"github.com/robfig/cron/v3"
)

// Entry is one scheduled dispatch.
type Entry struct {
	Skill string         `json:"skill"`
	Args  map[string]any `json:"args,omitempty"`
	Spec  string         `json:"spec"` // standard 5-field cron expression
}

// Scheduler owns the cron runner and a dispatcher factory.
type Scheduler struct {
	cron    *cron.Cron
	factory *dispatch.Factory
	logger  *slog.Logger
	jobs    int
}

func New(factory *dispatch.Factory, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		factory: factory,
		logger:  logger,
	}
}

// AddEntries registers the given entries. Entries with an invalid cron spec
// or an unknown skill name are skipped with a warning; the count of
// accepted entries is returned.
func (s *Scheduler) AddEntries(entries []Entry) int {
	added := 0
	for _, e := range entries {
		if _, ok := s.factory.Registry().Resolve(e.Skill); !ok {
			s.logger.Warn("scheduled skill not registered, skipping", "skill", e.Skill)
			continue
		}
		entry := e
		_, err := s.cron.AddFunc(e.Spec, func() {
			s.RunEntry(context.Background(), entry)
		})
		if err != nil {
			s.logger.Warn("invalid cron spec, skipping", "skill", e.Skill, "spec", e.Spec, "err", err)
			continue
		}
		s.logger.Info("scheduled skill", "skill", e.Skill, "spec", e.Spec)
		added++
	}
	s.jobs += added
	return added
}

// RunEntry dispatches one entry in a fresh session.
func (s *Scheduler) RunEntry(ctx context.Context, e Entry) domain.Outcome {
	d := s.factory.ForSession(fmt.Sprintf("cron:%s", e.Skill))
	out := d.Dispatch(ctx, domain.CallRequest{Skill: e.Skill, Arguments: e.Args})
	if out.OK {
		s.logger.Info("scheduled dispatch completed", "skill", e.Skill, "result_len", len(out.Text))
	} else {
		s.logger.Warn("scheduled dispatch failed", "skill", e.Skill, "outcome", out.Kind(), "error", out.Failure.Message)
	}
	return out
}

// Jobs returns the number of accepted entries.
func (s *Scheduler) Jobs() int { return s.jobs }

// Start begins running scheduled entries in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.jobs)
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
