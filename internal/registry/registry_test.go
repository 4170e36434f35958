package registry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"skillrun/internal/domain"
	"skillrun/internal/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func stubSkill(name, result string) domain.Skill {
	return domain.Skill{
		Name:        name,
		Description: "stub: " + name,
		Params:      schema.Parameters{Props: map[string]schema.Param{}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return result, nil
		},
	}
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := New(testLogger())
	if err := reg.Register(stubSkill("echo", "ok")); err != nil {
		t.Fatalf("register: %v", err)
	}

	s, ok := reg.Resolve("echo")
	if !ok {
		t.Fatal("expected to resolve registered skill")
	}
	if s.Name != "echo" {
		t.Fatalf("expected 'echo', got %q", s.Name)
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	reg := New(testLogger())
	if _, ok := reg.Resolve("nonexistent"); ok {
		t.Fatal("expected miss for unknown skill")
	}
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	reg := New(testLogger())

	err := reg.Register(domain.Skill{Name: "", Handler: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }})
	if !errors.Is(err, domain.ErrInvalidSkill) {
		t.Fatalf("expected ErrInvalidSkill for empty name, got %v", err)
	}

	err = reg.Register(domain.Skill{Name: "no_handler"})
	if !errors.Is(err, domain.ErrInvalidSkill) {
		t.Fatalf("expected ErrInvalidSkill for nil handler, got %v", err)
	}
}

func TestRegistry_LastWriteWins(t *testing.T) {
	reg := New(testLogger())
	reg.Register(stubSkill("dup", "v1"))
	reg.Register(stubSkill("dup", "v2"))

	s, _ := reg.Resolve("dup")
	got, _ := s.Handler(context.Background(), nil)
	if got != "v2" {
		t.Fatalf("expected replaced handler 'v2', got %q", got)
	}
	if len(reg.Names()) != 1 {
		t.Fatalf("expected one entry after replacement, got %v", reg.Names())
	}
}

func TestRegistry_ListInsertionOrder(t *testing.T) {
	reg := New(testLogger())
	for _, n := range []string{"zeta", "alpha", "mid"} {
		reg.Register(stubSkill(n, n))
	}
	// Re-registering must not change position.
	reg.Register(stubSkill("alpha", "alpha2"))

	want := []string{"zeta", "alpha", "mid"}
	for i := 0; i < 3; i++ {
		got := reg.Names()
		if len(got) != len(want) {
			t.Fatalf("expected %d names, got %v", len(want), got)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("order not stable: got %v want %v", got, want)
			}
		}
	}
}

func TestRegistry_Definitions(t *testing.T) {
	reg := New(testLogger())
	reg.Register(stubSkill("one", ""))
	reg.Register(stubSkill("two", ""))

	defs := reg.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if defs[0].Name != "one" || defs[1].Name != "two" {
		t.Fatalf("definitions out of order: %v", defs)
	}
	if defs[0].Parameters["type"] != "object" {
		t.Fatal("expected JSON-schema shaped parameters")
	}
}
