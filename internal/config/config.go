// Package config loads and validates the skillrun configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"skillrun/internal/schedule"
)

// Config is the root configuration for skillrun.
type Config struct {
	General  GeneralConfig    `json:"general"`
	Dispatch DispatchConfig   `json:"dispatch"`
	History  HistoryConfig    `json:"history"`
	Skills   SkillsConfig     `json:"skills"`
	Telegram TelegramConfig   `json:"telegram"`
	Metrics  MetricsConfig    `json:"metrics"`
	Schedule []schedule.Entry `json:"schedule,omitempty"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	DataDir  string `json:"dataDir"`
}

type DispatchConfig struct {
	// TimeoutSeconds bounds each handler run. 0 uses the built-in default;
	// negative disables the timeout.
	TimeoutSeconds int `json:"timeoutSeconds"`
}

type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

type SkillsConfig struct {
	// ManifestsDir holds YAML skill manifests loaded at startup.
	ManifestsDir string        `json:"manifestsDir"`
	Fetch        FetchConfig   `json:"fetch"`
	Browser      BrowserConfig `json:"browser"`
}

type FetchConfig struct {
	UserAgent      string `json:"userAgent,omitempty"`
	MaxChars       int    `json:"maxChars"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type BrowserConfig struct {
	Enabled        bool `json:"enabled"`
	Headless       bool `json:"headless"`
	TimeoutSeconds int  `json:"timeoutSeconds"`
}

type TelegramConfig struct {
	Enabled   bool    `json:"enabled"`
	Token     string  `json:"token"`
	AllowFrom []int64 `json:"allowFrom,omitempty"`
	ParseMode string  `json:"parseMode"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// DefaultConfigDir returns the default config directory (~/.skillrun).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".skillrun"
	}
	return filepath.Join(home, ".skillrun")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			DataDir:  "~/.skillrun",
		},
		Dispatch: DispatchConfig{
			TimeoutSeconds: 60,
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        "~/.skillrun/history.db",
			RetentionDays: 90,
		},
		Skills: SkillsConfig{
			ManifestsDir: "~/.skillrun/skills",
			Fetch: FetchConfig{
				MaxChars:       20000,
				TimeoutSeconds: 30,
			},
			Browser: BrowserConfig{
				Enabled:        false,
				Headless:       true,
				TimeoutSeconds: 60,
			},
		},
		Telegram: TelegramConfig{
			Enabled:   false,
			ParseMode: "Markdown",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9090",
		},
	}
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.Skills.ManifestsDir = ExpandPath(cfg.Skills.ManifestsDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.History.Enabled && cfg.History.DBPath == "" {
		errs = append(errs, "history.dbPath is required when history is enabled")
	}
	if cfg.History.RetentionDays < 1 {
		errs = append(errs, "history.retentionDays must be >= 1")
	}
	if cfg.Skills.Fetch.MaxChars < 1 {
		errs = append(errs, "skills.fetch.maxChars must be >= 1")
	}
	if cfg.Skills.Fetch.TimeoutSeconds < 1 {
		errs = append(errs, "skills.fetch.timeoutSeconds must be >= 1")
	}
	if cfg.Skills.Browser.Enabled && cfg.Skills.Browser.TimeoutSeconds < 1 {
		errs = append(errs, "skills.browser.timeoutSeconds must be >= 1")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is enabled")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics is enabled")
	}

	for i, e := range cfg.Schedule {
		if e.Skill == "" {
			errs = append(errs, fmt.Sprintf("schedule[%d]: skill is required", i))
		}
		if e.Spec == "" {
			errs = append(errs, fmt.Sprintf("schedule[%d]: spec is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
