// Package dispatch is the orchestration point of skillrun: it resolves a
// call against the registry, validates its arguments, suppresses duplicate
// executions within the session, runs the handler, and normalizes the
// result into an outcome the conversation loop can append to a transcript.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"skillrun/internal/dedup"
	"skillrun/internal/domain"
	"skillrun/internal/metrics"
	"skillrun/internal/registry"
	"skillrun/internal/schema"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const defaultTimeout = 60 * time.Second

// Config holds the dispatcher's collaborators. Registry and Session are
// required and injected, not owned; History and Metrics are optional.
type Config struct {
	Registry  *registry.Registry
	Session   *dedup.Session
	SessionID string
	History   domain.HistoryStore
	Metrics   *metrics.Collector
	Logger    *slog.Logger
	// Timeout bounds each handler invocation. Zero means the default;
	// negative disables the deadline.
	Timeout time.Duration
}

// Dispatcher executes call requests against one registry and one
// session-scoped dedup store.
type Dispatcher struct {
	registry  *registry.Registry
	session   *dedup.Session
	sessionID string
	history   domain.HistoryStore
	metrics   *metrics.Collector
	logger    *slog.Logger
	timeout   time.Duration

	// group serializes concurrent dispatches that share a composite key,
	// so the check-then-record sequence is atomic per key and a handler
	// runs at most once per argument set even under concurrency.
	group singleflight.Group
}

func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Session == nil {
		cfg.Session = dedup.NewSession()
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	switch {
	case cfg.Timeout == 0:
		cfg.Timeout = defaultTimeout
	case cfg.Timeout < 0:
		cfg.Timeout = 0
	}
	return &Dispatcher{
		registry:  cfg.Registry,
		session:   cfg.Session,
		sessionID: cfg.SessionID,
		history:   cfg.History,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		timeout:   cfg.Timeout,
	}
}

// SessionID identifies the dedup session this dispatcher is bound to.
func (d *Dispatcher) SessionID() string { return d.sessionID }

// Dispatch processes one call request: resolve, validate, dedup-check,
// execute, record. Each step short-circuits the rest on failure. Errors
// never propagate as Go errors across this boundary; everything comes back
// as a structured Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.CallRequest) domain.Outcome {
	start := time.Now()

	if d.metrics != nil {
		g := d.metrics.Gauge("skillrun_dispatch_in_flight", "Dispatches currently executing", "")
		g.Inc()
		defer g.Dec()
	}

	sk, ok := d.registry.Resolve(req.Skill)
	if !ok {
		out := domain.Fail(domain.FailSkillNotFound, "no skill registered under %q", req.Skill)
		d.finish(ctx, req.Skill, nil, out, time.Since(start))
		return out
	}

	args, err := schema.Validate(sk.Params, req.Arguments)
	if err != nil {
		out := domain.Fail(domain.FailValidation, "%s", err.Error())
		d.finish(ctx, req.Skill, req.Arguments, out, time.Since(start))
		return out
	}

	key := dedup.Key(req.Skill, args)
	// executed is set only when this caller's closure ran the handler;
	// callers collapsed onto another in-flight call never run theirs.
	executed := false
	v, _, _ := d.group.Do(key, func() (any, error) {
		if text, hit := d.session.CachedKey(key); hit {
			return domain.Cached(text), nil
		}
		executed = true
		out := d.execute(ctx, sk, args, req.OnProgress)
		if out.OK {
			// Only successes are recorded; a failed call stays
			// retryable with the same arguments.
			d.session.RecordKey(key, out.Text)
		}
		return out, nil
	})

	out := v.(domain.Outcome)
	if out.OK && !executed {
		// This caller's text came from the session records or from a
		// concurrent identical call it piggybacked on.
		out.CacheHit = true
	}

	d.finish(ctx, req.Skill, args, out, time.Since(start))
	return out
}

// execute invokes the handler with the configured deadline and converts
// panics, errors, and timeouts into outcomes. The handler runs in its own
// goroutine; on timeout we stop waiting but cannot force it to exit, so
// cancellation is best-effort via the context.
func (d *Dispatcher) execute(ctx context.Context, sk domain.Skill, args map[string]any, onProgress domain.ProgressFunc) domain.Outcome {
	hctx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	hctx = domain.WithProgress(hctx, onProgress)

	type handlerResult struct {
		text string
		err  error
	}
	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		text, err := sk.Handler(hctx, args)
		done <- handlerResult{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return domain.Fail(domain.FailHandlerTimeout, "skill %q exceeded its deadline", sk.Name)
			}
			return domain.Fail(domain.FailHandlerError, "skill %q: %s", sk.Name, r.err.Error())
		}
		return domain.Success(r.text)
	case <-hctx.Done():
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return domain.Fail(domain.FailHandlerTimeout, "skill %q did not complete within %s", sk.Name, d.timeout)
		}
		return domain.Fail(domain.FailHandlerError, "skill %q: dispatch canceled", sk.Name)
	}
}

// finish logs the outcome and feeds the optional history and metrics
// collaborators. Neither may fail the dispatch.
func (d *Dispatcher) finish(ctx context.Context, skill string, args map[string]any, out domain.Outcome, elapsed time.Duration) {
	outcome := "success"
	if !out.OK {
		outcome = string(out.Kind())
	}

	if out.OK {
		d.logger.Info("dispatched skill",
			"skill", skill,
			"cache_hit", out.CacheHit,
			"duration_ms", elapsed.Milliseconds(),
		)
	} else {
		d.logger.Warn("dispatch failed",
			"skill", skill,
			"outcome", outcome,
			"error", out.Failure.Message,
		)
	}

	if d.metrics != nil {
		d.metrics.Counter("skillrun_dispatch_total", "Total dispatches by outcome",
			fmt.Sprintf("outcome=%q", outcome)).Inc()
		if out.CacheHit {
			d.metrics.Counter("skillrun_dispatch_cache_hits_total", "Dispatches answered from session records", "").Inc()
		}
		d.metrics.Histogram("skillrun_dispatch_duration_seconds", "Dispatch latency in seconds", "",
			[]float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60}).Observe(elapsed.Seconds())
	}

	if d.history != nil {
		argsJSON := ""
		if args != nil {
			if b, err := json.Marshal(args); err == nil {
				argsJSON = string(b)
			}
		}
		rec := domain.DispatchRecord{
			ID:        uuid.NewString(),
			Session:   d.sessionID,
			Skill:     skill,
			ArgsJSON:  argsJSON,
			Outcome:   outcome,
			ResultLen: len(out.Text),
			CacheHit:  out.CacheHit,
			Duration:  elapsed,
			CreatedAt: time.Now().UTC(),
		}
		if !out.OK {
			rec.Error = out.Failure.Message
		}
		if err := d.history.RecordDispatch(ctx, rec); err != nil {
			d.logger.Warn("failed to record dispatch history", "skill", skill, "err", err)
		}
	}
}
