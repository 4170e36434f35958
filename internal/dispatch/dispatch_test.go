package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"skillrun/internal/domain"
	"skillrun/internal/metrics"
	"skillrun/internal/registry"
	"skillrun/internal/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingSkill builds an upper-casing echo skill that counts handler runs.
func countingSkill(name string, calls *atomic.Int64) domain.Skill {
	return domain.Skill{
		Name:        name,
		Description: "upper-cases its input",
		Params: schema.Parameters{Props: map[string]schema.Param{
			"text": {Kind: schema.String, Required: true},
		}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			calls.Add(1)
			return strings.ToUpper(args["text"].(string)), nil
		},
	}
}

func newDispatcher(t *testing.T, skills ...domain.Skill) *Dispatcher {
	t.Helper()
	reg := registry.New(testLogger())
	for _, s := range skills {
		if err := reg.Register(s); err != nil {
			t.Fatalf("register %s: %v", s.Name, err)
		}
	}
	return New(Config{Registry: reg, Logger: testLogger()})
}

// The literal scenario from the package contract: echo, duplicate, unknown
// parameter, unknown skill.
func TestDispatch_Scenario(t *testing.T) {
	var calls atomic.Int64
	d := newDispatcher(t, countingSkill("echo", &calls))
	ctx := context.Background()

	out := d.Dispatch(ctx, domain.CallRequest{Skill: "echo", Arguments: map[string]any{"text": "hi"}})
	if !out.OK || out.Text != "HI" {
		t.Fatalf("expected Success(HI), got %+v", out)
	}

	out = d.Dispatch(ctx, domain.CallRequest{Skill: "echo", Arguments: map[string]any{"text": "hi"}})
	if !out.OK || out.Text != "HI" || !out.CacheHit {
		t.Fatalf("expected cached Success(HI), got %+v", out)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}

	out = d.Dispatch(ctx, domain.CallRequest{Skill: "echo", Arguments: map[string]any{"text": "hi", "extra": 1}})
	if out.Kind() != domain.FailValidation {
		t.Fatalf("expected validation failure, got %+v", out)
	}
	if !strings.Contains(out.Failure.Message, "extra") {
		t.Fatalf("expected message naming 'extra', got %q", out.Failure.Message)
	}

	out = d.Dispatch(ctx, domain.CallRequest{Skill: "missing", Arguments: map[string]any{}})
	if out.Kind() != domain.FailSkillNotFound {
		t.Fatalf("expected skill-not-found, got %+v", out)
	}
}

// Dispatching the same arguments in a different insertion order must hit the
// same record.
func TestDispatch_ArgumentOrderInsensitive(t *testing.T) {
	var calls atomic.Int64
	sk := domain.Skill{
		Name: "pair",
		Params: schema.Parameters{Props: map[string]schema.Param{
			"a": {Kind: schema.Number, Required: true},
			"b": {Kind: schema.Number, Required: true},
		}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			calls.Add(1)
			return fmt.Sprintf("%v,%v", args["a"], args["b"]), nil
		},
	}
	d := newDispatcher(t, sk)
	ctx := context.Background()

	first := d.Dispatch(ctx, domain.CallRequest{Skill: "pair", Arguments: map[string]any{"a": 1, "b": 2}})
	second := d.Dispatch(ctx, domain.CallRequest{Skill: "pair", Arguments: map[string]any{"b": 2, "a": 1}})

	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}
	if !second.CacheHit || first.Text != second.Text {
		t.Fatalf("expected cache hit with identical text, got %+v / %+v", first, second)
	}
}

func TestDispatch_DistinctArgumentsExecuteSeparately(t *testing.T) {
	var calls atomic.Int64
	d := newDispatcher(t, countingSkill("echo", &calls))
	ctx := context.Background()

	d.Dispatch(ctx, domain.CallRequest{Skill: "echo", Arguments: map[string]any{"text": "one"}})
	d.Dispatch(ctx, domain.CallRequest{Skill: "echo", Arguments: map[string]any{"text": "two"}})

	if calls.Load() != 2 {
		t.Fatalf("handler ran %d times, want 2", calls.Load())
	}
}

// A call that fails validation must never reach the handler.
func TestDispatch_ValidationPrecedesExecution(t *testing.T) {
	var calls atomic.Int64
	d := newDispatcher(t, countingSkill("echo", &calls))

	out := d.Dispatch(context.Background(), domain.CallRequest{Skill: "echo", Arguments: map[string]any{}})
	if out.Kind() != domain.FailValidation {
		t.Fatalf("expected validation failure, got %+v", out)
	}
	if calls.Load() != 0 {
		t.Fatalf("handler ran %d times, want 0", calls.Load())
	}
}

// A failed handler leaves no record behind: the same call may be retried
// and will run the handler again.
func TestDispatch_FailedHandlerIsRetryable(t *testing.T) {
	var calls atomic.Int64
	sk := domain.Skill{
		Name:   "flaky",
		Params: schema.Parameters{Props: map[string]schema.Param{}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if calls.Add(1) == 1 {
				return "", errors.New("transient downstream failure")
			}
			return "recovered", nil
		},
	}
	d := newDispatcher(t, sk)
	ctx := context.Background()

	out := d.Dispatch(ctx, domain.CallRequest{Skill: "flaky", Arguments: map[string]any{}})
	if out.Kind() != domain.FailHandlerError {
		t.Fatalf("expected handler error, got %+v", out)
	}

	out = d.Dispatch(ctx, domain.CallRequest{Skill: "flaky", Arguments: map[string]any{}})
	if !out.OK || out.Text != "recovered" {
		t.Fatalf("expected retry to run the handler, got %+v", out)
	}
	if calls.Load() != 2 {
		t.Fatalf("handler ran %d times, want 2", calls.Load())
	}
}

func TestDispatch_UnknownSkill(t *testing.T) {
	d := newDispatcher(t)
	out := d.Dispatch(context.Background(), domain.CallRequest{Skill: "missing", Arguments: map[string]any{"anything": true}})
	if out.Kind() != domain.FailSkillNotFound {
		t.Fatalf("expected skill-not-found, got %+v", out)
	}
	if !strings.Contains(out.Failure.Message, "missing") {
		t.Fatalf("expected message naming the skill, got %q", out.Failure.Message)
	}
}

// Concurrent dispatches with identical arguments collapse into one handler
// run; every caller sees the same result.
func TestDispatch_ConcurrentDuplicateSuppression(t *testing.T) {
	var calls atomic.Int64
	sk := domain.Skill{
		Name: "slow",
		Params: schema.Parameters{Props: map[string]schema.Param{
			"text": {Kind: schema.String, Required: true},
		}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			calls.Add(1)
			time.Sleep(50 * time.Millisecond)
			return strings.ToUpper(args["text"].(string)), nil
		},
	}
	d := newDispatcher(t, sk)

	const n = 8
	var wg sync.WaitGroup
	results := make([]domain.Outcome, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.Dispatch(context.Background(), domain.CallRequest{
				Skill:     "slow",
				Arguments: map[string]any{"text": "hi"},
			})
		}(i)
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times under concurrency, want 1", calls.Load())
	}
	fresh := 0
	for i, out := range results {
		if !out.OK || out.Text != "HI" {
			t.Fatalf("caller %d got %+v, want Success(HI)", i, out)
		}
		if !out.CacheHit {
			fresh++
		}
	}
	// Exactly the caller whose handler ran reports a fresh execution; the
	// rest piggybacked on it and are cache hits.
	if fresh != 1 {
		t.Fatalf("%d callers reported fresh executions, want 1", fresh)
	}
}

func TestDispatch_HandlerTimeout(t *testing.T) {
	var calls atomic.Int64
	sk := domain.Skill{
		Name:   "hang",
		Params: schema.Parameters{Props: map[string]schema.Param{}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			calls.Add(1)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(5 * time.Second):
				return "too late", nil
			}
		},
	}
	reg := registry.New(testLogger())
	reg.Register(sk)
	d := New(Config{Registry: reg, Logger: testLogger(), Timeout: 30 * time.Millisecond})
	ctx := context.Background()

	out := d.Dispatch(ctx, domain.CallRequest{Skill: "hang", Arguments: map[string]any{}})
	if out.Kind() != domain.FailHandlerTimeout {
		t.Fatalf("expected timeout failure, got %+v", out)
	}

	// A timed-out call is not recorded, so a retry re-invokes the handler.
	d.Dispatch(ctx, domain.CallRequest{Skill: "hang", Arguments: map[string]any{}})
	if calls.Load() != 2 {
		t.Fatalf("handler ran %d times, want 2", calls.Load())
	}
}

// A panicking handler must surface as a handler error, not crash the
// dispatcher or poison the session for other skills.
func TestDispatch_HandlerPanicBecomesError(t *testing.T) {
	var calls atomic.Int64
	panicky := domain.Skill{
		Name:   "boom",
		Params: schema.Parameters{Props: map[string]schema.Param{}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			panic("unexpected state")
		},
	}
	d := newDispatcher(t, panicky, countingSkill("echo", &calls))
	ctx := context.Background()

	out := d.Dispatch(ctx, domain.CallRequest{Skill: "boom", Arguments: map[string]any{}})
	if out.Kind() != domain.FailHandlerError {
		t.Fatalf("expected handler error, got %+v", out)
	}
	if !strings.Contains(out.Failure.Message, "panic") {
		t.Fatalf("expected panic message, got %q", out.Failure.Message)
	}

	out = d.Dispatch(ctx, domain.CallRequest{Skill: "echo", Arguments: map[string]any{"text": "ok"}})
	if !out.OK || out.Text != "OK" {
		t.Fatalf("dispatcher unusable after panic: %+v", out)
	}
}

func TestDispatch_ProgressCallback(t *testing.T) {
	sk := domain.Skill{
		Name:   "steps",
		Params: schema.Parameters{Props: map[string]schema.Param{}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			domain.ReportProgress(ctx, "step 1")
			domain.ReportProgress(ctx, "step 2")
			return "done", nil
		},
	}
	d := newDispatcher(t, sk)

	var mu sync.Mutex
	var progress []string
	out := d.Dispatch(context.Background(), domain.CallRequest{
		Skill:     "steps",
		Arguments: map[string]any{},
		OnProgress: func(msg string) {
			mu.Lock()
			progress = append(progress, msg)
			mu.Unlock()
		},
	})
	if !out.OK {
		t.Fatalf("dispatch failed: %+v", out)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(progress) != 2 || progress[0] != "step 1" {
		t.Fatalf("unexpected progress messages: %v", progress)
	}
}

// Defaults from the contract reach both the handler and the dedup key, so a
// call relying on a default and a call passing it explicitly are the same
// execution.
func TestDispatch_DefaultsParticipateInDedup(t *testing.T) {
	var calls atomic.Int64
	sk := domain.Skill{
		Name: "top",
		Params: schema.Parameters{Props: map[string]schema.Param{
			"n": {Kind: schema.Number, Default: 10.0},
		}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			calls.Add(1)
			return fmt.Sprintf("%v", args["n"]), nil
		},
	}
	d := newDispatcher(t, sk)
	ctx := context.Background()

	d.Dispatch(ctx, domain.CallRequest{Skill: "top", Arguments: map[string]any{}})
	out := d.Dispatch(ctx, domain.CallRequest{Skill: "top", Arguments: map[string]any{"n": 10.0}})

	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}
	if !out.CacheHit {
		t.Fatalf("expected cache hit, got %+v", out)
	}
}

type memHistory struct {
	mu   sync.Mutex
	recs []domain.DispatchRecord
}

func (m *memHistory) RecordDispatch(ctx context.Context, rec domain.DispatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memHistory) Recent(ctx context.Context, limit int) ([]domain.DispatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DispatchRecord(nil), m.recs...), nil
}

func (m *memHistory) Close() error { return nil }

func TestDispatch_HistoryAndMetrics(t *testing.T) {
	var calls atomic.Int64
	hist := &memHistory{}
	coll := metrics.New()

	reg := registry.New(testLogger())
	reg.Register(countingSkill("echo", &calls))
	d := New(Config{Registry: reg, Logger: testLogger(), History: hist, Metrics: coll, SessionID: "test-session"})
	ctx := context.Background()

	d.Dispatch(ctx, domain.CallRequest{Skill: "echo", Arguments: map[string]any{"text": "hi"}})
	d.Dispatch(ctx, domain.CallRequest{Skill: "echo", Arguments: map[string]any{"text": "hi"}})
	d.Dispatch(ctx, domain.CallRequest{Skill: "missing", Arguments: map[string]any{}})

	recs, _ := hist.Recent(ctx, 10)
	if len(recs) != 3 {
		t.Fatalf("expected 3 history records, got %d", len(recs))
	}
	if recs[0].Session != "test-session" || recs[0].Outcome != "success" {
		t.Fatalf("unexpected first record: %+v", recs[0])
	}
	if !recs[1].CacheHit {
		t.Fatalf("expected second record flagged as cache hit: %+v", recs[1])
	}
	if recs[2].Outcome != string(domain.FailSkillNotFound) {
		t.Fatalf("unexpected outcome for failed record: %+v", recs[2])
	}

	expo := coll.Exposition()
	if !strings.Contains(expo, "skillrun_dispatch_total") {
		t.Fatalf("expected dispatch counter in exposition:\n%s", expo)
	}
}

func TestFactory_SessionsAreIsolated(t *testing.T) {
	var calls atomic.Int64
	reg := registry.New(testLogger())
	reg.Register(countingSkill("echo", &calls))
	f := NewFactory(FactoryConfig{Registry: reg, Logger: testLogger()})

	a := f.ForSession("a")
	b := f.ForSession("b")
	ctx := context.Background()

	a.Dispatch(ctx, domain.CallRequest{Skill: "echo", Arguments: map[string]any{"text": "hi"}})
	out := b.Dispatch(ctx, domain.CallRequest{Skill: "echo", Arguments: map[string]any{"text": "hi"}})

	if out.CacheHit {
		t.Fatal("sessions must not share dedup records")
	}
	if calls.Load() != 2 {
		t.Fatalf("handler ran %d times across sessions, want 2", calls.Load())
	}
}
