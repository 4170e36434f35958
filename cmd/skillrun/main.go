package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skillrun/internal/channel"
	"skillrun/internal/config"
	"skillrun/internal/dispatch"
	"skillrun/internal/domain"
	"skillrun/internal/history"
	"skillrun/internal/manifest"
	"skillrun/internal/metrics"
	"skillrun/internal/registry"
	"skillrun/internal/schedule"
	"skillrun/internal/skill"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// .env is optional: real env vars take precedence either way.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "skillrun",
		Short: "skillrun: validated, deduplicated skill dispatch",
		Long:  "skillrun registers named skills with typed parameter schemas and dispatches calls to them with validation and per-session result reuse.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.skillrun/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(skillsCmd())
	root.AddCommand(callCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(historyCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config, falling back to defaults when the file is
// missing so one-shot commands work out of the box.
func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	applyLogLevel(cfg.General.LogLevel)
	return cfg
}

func applyLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// host bundles the wired collaborators a command needs.
type host struct {
	cfg     *config.Config
	factory *dispatch.Factory
	history *history.SQLiteStore
	metrics *metrics.Collector
}

func (h *host) close() {
	if h.history != nil {
		h.history.Close()
	}
}

// buildHost wires registry, builtins, manifest skills, history, and metrics
// from the config.
func buildHost(cfg *config.Config) (*host, error) {
	reg := registry.New(logger)
	if err := skill.RegisterBuiltins(reg, skill.Options{
		Fetch: skill.FetchConfig{
			UserAgent: cfg.Skills.Fetch.UserAgent,
			MaxChars:  cfg.Skills.Fetch.MaxChars,
			Timeout:   time.Duration(cfg.Skills.Fetch.TimeoutSeconds) * time.Second,
		},
		Browser: skill.BrowserConfig{
			Headless: cfg.Skills.Browser.Headless,
			Timeout:  time.Duration(cfg.Skills.Browser.TimeoutSeconds) * time.Second,
		},
		EnableBrowser: cfg.Skills.Browser.Enabled,
	}); err != nil {
		return nil, fmt.Errorf("register builtins: %w", err)
	}

	manifests, err := manifest.LoadDirectory(cfg.Skills.ManifestsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("load skill manifests: %w", err)
	}
	for _, s := range manifests {
		if err := reg.Register(s); err != nil {
			return nil, fmt.Errorf("register manifest skill %s: %w", s.Name, err)
		}
	}

	h := &host{cfg: cfg, metrics: metrics.New()}

	var store domain.HistoryStore
	if cfg.History.Enabled {
		sqlStore, err := history.NewSQLiteStore(cfg.History.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		h.history = sqlStore
		store = sqlStore

		retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
		if pruned, err := sqlStore.Prune(context.Background(), retention); err != nil {
			logger.Warn("history prune failed", "err", err)
		} else if pruned > 0 {
			logger.Info("pruned old history", "records", pruned)
		}
	}

	h.factory = dispatch.NewFactory(dispatch.FactoryConfig{
		Registry: reg,
		History:  store,
		Metrics:  h.metrics,
		Logger:   logger,
		Timeout:  time.Duration(cfg.Dispatch.TimeoutSeconds) * time.Second,
	})
	return h, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			manifestsDir := config.ExpandPath(cfg.Skills.ManifestsDir)
			if err := os.MkdirAll(manifestsDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "manifests", manifestsDir)
			return nil
		},
	}
}

func skillsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "List registered skills and their parameter schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := buildHost(loadConfig())
			if err != nil {
				return err
			}
			defer h.close()

			defs := h.factory.Registry().Definitions()
			if asJSON {
				data, err := json.MarshalIndent(defs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			for _, d := range defs {
				fmt.Printf("%-16s %s\n", d.Name, d.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full definitions as JSON")
	return cmd
}

func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <skill> [json-args]",
		Short: "Invoke one skill and print its result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := buildHost(loadConfig())
			if err != nil {
				return err
			}
			defer h.close()

			callArgs := map[string]any{}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &callArgs); err != nil {
					return fmt.Errorf("arguments must be a JSON object: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := h.factory.ForSession("cli").Dispatch(ctx, domain.CallRequest{
				Skill:     args[0],
				Arguments: callArgs,
				OnProgress: func(note string) {
					fmt.Fprintf(os.Stderr, "... %s\n", note)
				},
			})
			if !out.OK {
				return fmt.Errorf("%s: %s", out.Kind(), out.Failure.Message)
			}
			fmt.Println(out.Text)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive skill session",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := buildHost(loadConfig())
			if err != nil {
				return err
			}
			defer h.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			repl := channel.NewREPL(channel.REPLConfig{Factory: h.factory, Logger: logger})
			return repl.Start(ctx)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the long-lived host (Telegram, scheduler, metrics)",
		Long:  "Starts every enabled front end: the Telegram channel, the cron scheduler, and the metrics endpoint. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyLogLevel(cfg.General.LogLevel)

	h, err := buildHost(cfg)
	if err != nil {
		return err
	}
	defer h.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := schedule.New(h.factory, logger)
	if n := sched.AddEntries(cfg.Schedule); n > 0 {
		sched.Start()
		defer sched.Stop()
	}

	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Telegram.Token,
			AllowFrom: cfg.Telegram.AllowFrom,
			ParseMode: cfg.Telegram.ParseMode,
			Factory:   h.factory,
			Logger:    logger,
		})
		go func() {
			if err := tg.Start(ctx); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", h.metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			logger.Info("metrics listening", "addr", cfg.Metrics.Listen)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	logger.Info("skillrun serving", "version", version, "skills", len(h.factory.Registry().Names()))

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	logger.Info("shutdown complete")
	return nil
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent dispatches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if !cfg.History.Enabled {
				return fmt.Errorf("history is disabled in config")
			}
			store, err := history.NewSQLiteStore(cfg.History.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, r := range recs {
				status := "ok"
				if r.Error != "" {
					status = r.Error
				} else if r.CacheHit {
					status = "cached"
				}
				fmt.Printf("%s  %-16s %-10s %6dms  %s\n",
					r.CreatedAt.Format(time.RFC3339), r.Skill, r.Outcome, r.Duration.Milliseconds(), status)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	return cmd
}
