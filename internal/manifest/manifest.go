// Package manifest loads command-backed skills declared in YAML files. A
// manifest names a skill, its parameter contract, and an executable; the
// generated handler runs the executable with the validated arguments as
// JSON on stdin and returns its output.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"skillrun/internal/domain"
	"skillrun/internal/schema"

	"gopkg.in/yaml.v3"
)

const (
	defaultCommandTimeout = 30
	defaultMaxOutputBytes = 65536
)

// Param is one declared parameter of a manifest skill.
type Param struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"` // string | number | boolean | array | object
	Description string   `yaml:"description,omitempty"`
	Required    bool     `yaml:"required,omitempty"`
	Enum        []string `yaml:"enum,omitempty"`
	Min         *float64 `yaml:"min,omitempty"`
	Max         *float64 `yaml:"max,omitempty"`
	Default     any      `yaml:"default,omitempty"`
}

// Manifest is the YAML description of one command-backed skill.
type Manifest struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args,omitempty"`
	TimeoutSeconds int      `yaml:"timeoutSeconds,omitempty"`
	MaxOutputBytes int      `yaml:"maxOutputBytes,omitempty"`
	Parameters     []Param  `yaml:"parameters,omitempty"`
}

// Skill converts the manifest into a registrable skill.
func (m Manifest) Skill() (domain.Skill, error) {
	if m.Name == "" {
		return domain.Skill{}, fmt.Errorf("manifest missing name")
	}
	if m.Command == "" {
		return domain.Skill{}, fmt.Errorf("manifest %s: missing command", m.Name)
	}

	params, err := m.schema()
	if err != nil {
		return domain.Skill{}, fmt.Errorf("manifest %s: %w", m.Name, err)
	}

	timeout := m.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	maxOutput := m.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputBytes
	}

	command, cmdArgs := m.Command, append([]string(nil), m.Args...)
	return domain.Skill{
		Name:        m.Name,
		Description: m.Description,
		Params:      params,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return runCommand(ctx, command, cmdArgs, args, time.Duration(timeout)*time.Second, maxOutput)
		},
	}, nil
}

func (m Manifest) schema() (schema.Parameters, error) {
	props := make(map[string]schema.Param, len(m.Parameters))
	for _, p := range m.Parameters {
		if p.Name == "" {
			return schema.Parameters{}, fmt.Errorf("parameter with empty name")
		}
		kind, err := kindOf(p.Type)
		if err != nil {
			return schema.Parameters{}, fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		props[p.Name] = schema.Param{
			Kind:        kind,
			Description: p.Description,
			Required:    p.Required,
			Enum:        p.Enum,
			Min:         p.Min,
			Max:         p.Max,
			Default:     p.Default,
		}
	}
	return schema.Parameters{Props: props}, nil
}

func kindOf(t string) (schema.Kind, error) {
	switch t {
	case "string", "":
		return schema.String, nil
	case "number":
		return schema.Number, nil
	case "boolean":
		return schema.Boolean, nil
	case "array":
		return schema.Array, nil
	case "object":
		return schema.Object, nil
	}
	return "", fmt.Errorf("unknown type %q", t)
}

func runCommand(ctx context.Context, command string, cmdArgs []string, args map[string]any, timeout time.Duration, maxOutput int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}

	cmd := exec.CommandContext(ctx, command, cmdArgs...)
	cmd.Stdin = bytes.NewReader(input)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("command %s: %w\n%s", command, err, tail(out.String(), 512))
	}

	result := out.String()
	if len(result) > maxOutput {
		result = result[:maxOutput] + "\n[output truncated]"
	}
	return strings.TrimRight(result, "\n"), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// LoadDirectory reads every .yaml/.yml manifest in dir and returns the
// resulting skills. Unreadable or invalid files are skipped with a warning;
// a missing directory is not an error.
func LoadDirectory(dir string, logger *slog.Logger) ([]domain.Skill, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("manifest directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read manifest dir: %w", err)
	}

	var skills []domain.Skill
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read manifest", "path", path, "err", err)
			continue
		}

		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			logger.Warn("cannot parse manifest", "path", path, "err", err)
			continue
		}
		if m.Name == "" {
			m.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}

		sk, err := m.Skill()
		if err != nil {
			logger.Warn("invalid manifest", "path", path, "err", err)
			continue
		}

		logger.Info("loaded manifest skill", "name", sk.Name, "path", path)
		skills = append(skills, sk)
	}

	return skills, nil
}
