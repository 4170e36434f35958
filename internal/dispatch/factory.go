package dispatch

import (
	"log/slog"
	"time"

	"skillrun/internal/dedup"
	"skillrun/internal/domain"
	"skillrun/internal/metrics"
	"skillrun/internal/registry"
)

// Factory builds session-bound dispatchers that share one registry and the
// optional history/metrics collaborators. Hosts that serve many
// conversations (the telegram channel, the scheduler) create one dispatcher
// per session through it.
type Factory struct {
	registry *registry.Registry
	history  domain.HistoryStore
	metrics  *metrics.Collector
	logger   *slog.Logger
	timeout  time.Duration
}

// FactoryConfig mirrors Config minus the per-session fields.
type FactoryConfig struct {
	Registry *registry.Registry
	History  domain.HistoryStore
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	Timeout  time.Duration
}

func NewFactory(cfg FactoryConfig) *Factory {
	return &Factory{
		registry: cfg.Registry,
		history:  cfg.History,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		timeout:  cfg.Timeout,
	}
}

// ForSession creates a dispatcher bound to a fresh dedup session. The id is
// used for history records; pass "" to generate one.
func (f *Factory) ForSession(id string) *Dispatcher {
	return New(Config{
		Registry:  f.registry,
		Session:   dedup.NewSession(),
		SessionID: id,
		History:   f.history,
		Metrics:   f.metrics,
		Logger:    f.logger,
		Timeout:   f.timeout,
	})
}

// Registry exposes the shared registry for hosts that list capabilities.
func (f *Factory) Registry() *registry.Registry { return f.registry }
