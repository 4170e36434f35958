package dedup

import "testing"

func TestKey_OrderInsensitive(t *testing.T) {
	a := map[string]any{"a": 1, "b": 2, "nested": map[string]any{"x": "1", "y": "2"}}
	b := map[string]any{"nested": map[string]any{"y": "2", "x": "1"}, "b": 2, "a": 1}
	if Key("s", a) != Key("s", b) {
		t.Fatalf("keys differ for same logical arguments:\n%s\n%s", Key("s", a), Key("s", b))
	}
}

func TestKey_ValueSensitive(t *testing.T) {
	if Key("s", map[string]any{"a": 1}) == Key("s", map[string]any{"a": 2}) {
		t.Fatal("keys collide for different values")
	}
	if Key("s", map[string]any{"a": 1}) == Key("other", map[string]any{"a": 1}) {
		t.Fatal("keys collide across skill names")
	}
}

func TestKey_NilAndEmptyArgsDiffer(t *testing.T) {
	// nil marshals to "null", an empty map to "{}". Both are stable, which
	// is all dedup needs; they are allowed to differ.
	if Key("s", nil) != Key("s", nil) {
		t.Fatal("nil args key not stable")
	}
}

func TestSession_RecordAndCached(t *testing.T) {
	s := NewSession()
	args := map[string]any{"text": "hi"}

	if s.IsDuplicate("echo", args) {
		t.Fatal("fresh session reported a duplicate")
	}
	if _, ok := s.Cached("echo", args); ok {
		t.Fatal("fresh session returned a cached result")
	}

	s.Record("echo", args, "HI")

	if !s.IsDuplicate("echo", args) {
		t.Fatal("recorded pair not reported as duplicate")
	}
	got, ok := s.Cached("echo", args)
	if !ok || got != "HI" {
		t.Fatalf("expected cached 'HI', got %q (%v)", got, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", s.Len())
	}
}

func TestSession_RecordIdempotent(t *testing.T) {
	s := NewSession()
	args := map[string]any{"a": 1}
	s.Record("echo", args, "first")
	s.Record("echo", args, "second")
	if s.Len() != 1 {
		t.Fatalf("expected overwrite, got %d records", s.Len())
	}
	got, _ := s.Cached("echo", args)
	if got != "second" {
		t.Fatalf("expected 'second', got %q", got)
	}
}

func TestSession_DistinctArgsKeptApart(t *testing.T) {
	s := NewSession()
	s.Record("echo", map[string]any{"a": 1}, "one")
	s.Record("echo", map[string]any{"a": 2}, "two")
	if s.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", s.Len())
	}
}
