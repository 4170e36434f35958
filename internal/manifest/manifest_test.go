package manifest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"skillrun/internal/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestManifest_Skill(t *testing.T) {
	m := Manifest{
		Name:        "greet",
		Description: "greets",
		Command:     "echo",
		Args:        []string{"hello"},
		Parameters: []Param{
			{Name: "who", Type: "string", Required: true},
			{Name: "volume", Type: "number", Min: schema.Float(0), Max: schema.Float(10), Default: 5.0},
		},
	}
	sk, err := m.Skill()
	if err != nil {
		t.Fatalf("skill: %v", err)
	}
	if sk.Name != "greet" {
		t.Fatalf("unexpected name %q", sk.Name)
	}
	spec, ok := sk.Params.Props["who"]
	if !ok || spec.Kind != schema.String || !spec.Required {
		t.Fatalf("parameter contract not carried over: %+v", sk.Params.Props)
	}
	if sk.Params.Props["volume"].Default != 5.0 {
		t.Fatal("default not carried over")
	}
}

func TestManifest_Invalid(t *testing.T) {
	if _, err := (Manifest{Command: "echo"}).Skill(); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := (Manifest{Name: "x"}).Skill(); err == nil {
		t.Fatal("expected error for missing command")
	}
	m := Manifest{Name: "x", Command: "echo", Parameters: []Param{{Name: "p", Type: "complex128"}}}
	if _, err := m.Skill(); err == nil {
		t.Fatal("expected error for unknown parameter type")
	}
}

func TestManifest_HandlerRunsCommand(t *testing.T) {
	m := Manifest{
		Name:    "passthrough",
		Command: "cat",
		Parameters: []Param{
			{Name: "text", Type: "string", Required: true},
		},
	}
	sk, err := m.Skill()
	if err != nil {
		t.Fatalf("skill: %v", err)
	}

	// The handler feeds the argument map to the command as JSON on stdin;
	// cat echoes it straight back.
	out, err := sk.Handler(context.Background(), map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(out, `"text":"hi"`) {
		t.Fatalf("expected JSON arguments on stdout, got %q", out)
	}
}

func TestManifest_HandlerCommandFailure(t *testing.T) {
	m := Manifest{Name: "broken", Command: "false"}
	sk, _ := m.Skill()
	if _, err := sk.Handler(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error from failing command")
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	good := `
name: word_count
description: counts words on stdin
command: wc
args: ["-w"]
parameters:
  - name: text
    type: string
    required: true
`
	bad := "name: [this is not\nvalid yaml"
	os.WriteFile(filepath.Join(dir, "word_count.yaml"), []byte(good), 0o644)
	os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(bad), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644)

	skills, err := LoadDirectory(dir, testLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(skills) != 1 {
		t.Fatalf("expected 1 skill (bad ones skipped), got %d", len(skills))
	}
	if skills[0].Name != "word_count" {
		t.Fatalf("unexpected skill %q", skills[0].Name)
	}
}

func TestLoadDirectory_NameDefaultsToFilename(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "from_file.yaml"), []byte("command: echo\n"), 0o644)

	skills, err := LoadDirectory(dir, testLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(skills) != 1 || skills[0].Name != "from_file" {
		t.Fatalf("expected name from filename, got %+v", skills)
	}
}

func TestLoadDirectory_Missing(t *testing.T) {
	skills, err := LoadDirectory(filepath.Join(t.TempDir(), "nope"), testLogger())
	if err != nil {
		t.Fatalf("missing dir must not error: %v", err)
	}
	if skills != nil {
		t.Fatalf("expected no skills, got %v", skills)
	}
}
